package store

import (
	"database/sql"
	"fmt"
	"time"
)

// InsertProvisional inserts a locally-authored message that the server has
// not yet confirmed. The placeholder server ID is set to the negated local
// key inside the same transaction: the server only ever assigns positive
// IDs, so placeholders live in a disjoint identifier space and can never
// collide with a confirmed row under the (chat_id, server_id) constraint.
// Returns the storage-assigned local key.
func (db *DB) InsertProvisional(m *Message) (int64, error) {
	tx, err := db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.Exec(`
		INSERT INTO messages (server_id, chat_id, sender_id, content, type, status, created_at, is_me, inserted_at)
		VALUES (0, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ChatID, m.SenderID, m.Content, m.Type, m.Status, m.CreatedAt, m.IsMe, time.Now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("insert provisional: %w", err)
	}
	localKey, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("local key: %w", err)
	}
	if _, err := tx.Exec(`UPDATE messages SET server_id = -local_key WHERE local_key = ?`, localKey); err != nil {
		return 0, fmt.Errorf("assign placeholder id: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit provisional: %w", err)
	}

	m.LocalKey = localKey
	m.ServerID = -localKey
	db.notify(m.ChatID)
	return localKey, nil
}

// ConfirmMessage replaces a provisional record in place with the
// server-assigned ID, content and status. The local key stays the same —
// this is a replace, never a second row. Content is replaced because an
// upload's provisional record holds the local file name while the
// confirmed one holds the served URL.
func (db *DB) ConfirmMessage(localKey, serverID int64, content, status string) error {
	res, err := db.Exec(`
		UPDATE messages SET server_id = ?, content = ?, status = ?
		WHERE local_key = ?`,
		serverID, content, status, localKey)
	if err != nil {
		return fmt.Errorf("confirm message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("confirm message: local key %d not found", localKey)
	}

	var chatID int64
	if err := db.QueryRow(`SELECT chat_id FROM messages WHERE local_key = ?`, localKey).Scan(&chatID); err != nil {
		return fmt.Errorf("confirm message chat: %w", err)
	}
	db.notify(chatID)
	return nil
}

// MarkMessageFailed marks a still-provisional record as failed. Confirmed
// records are left alone.
func (db *DB) MarkMessageFailed(localKey int64) error {
	res, err := db.Exec(`
		UPDATE messages SET status = ?
		WHERE local_key = ? AND server_id < 0`,
		StatusFailed, localKey)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil
	}
	var chatID int64
	if err := db.QueryRow(`SELECT chat_id FROM messages WHERE local_key = ?`, localKey).Scan(&chatID); err != nil {
		return err
	}
	db.notify(chatID)
	return nil
}

// MarkMessageRetrying returns a failed record to "sent" ahead of a
// resubmission. Failed is otherwise terminal.
func (db *DB) MarkMessageRetrying(localKey int64) error {
	res, err := db.Exec(`
		UPDATE messages SET status = ?
		WHERE local_key = ? AND status = ?`,
		StatusSent, localKey, StatusFailed)
	if err != nil {
		return fmt.Errorf("mark retrying: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("mark retrying: local key %d is not a failed message", localKey)
	}
	var chatID int64
	if err := db.QueryRow(`SELECT chat_id FROM messages WHERE local_key = ?`, localKey).Scan(&chatID); err != nil {
		return err
	}
	db.notify(chatID)
	return nil
}

// UpsertByServerID inserts a confirmed message, or — if a row for the same
// (chat_id, server_id) already exists — updates it in place. The status only
// moves forward; a stale event can never downgrade a record.
func (db *DB) UpsertByServerID(m *Message) error {
	_, err := db.Exec(fmt.Sprintf(`
		INSERT INTO messages (server_id, chat_id, sender_id, content, type, status, created_at, is_me, inserted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(chat_id, server_id) DO UPDATE SET
			content = excluded.content,
			status = CASE WHEN %s > %s THEN excluded.status ELSE messages.status END`,
		statusRankExpr("excluded.status"), statusRankExpr("messages.status")),
		m.ServerID, m.ChatID, m.SenderID, m.Content, m.Type, m.Status, m.CreatedAt, m.IsMe, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("upsert message: %w", err)
	}
	db.notify(m.ChatID)
	return nil
}

// InsertBatch inserts reconciled history records in one transaction.
// Rows that lost a race against the realtime feed are skipped, keeping the
// one-row-per-(chat_id, server_id) invariant.
func (db *DB) InsertBatch(msgs []Message) error {
	if len(msgs) == 0 {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	for _, m := range msgs {
		if _, err := tx.Exec(`
			INSERT INTO messages (server_id, chat_id, sender_id, content, type, status, created_at, is_me, inserted_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(chat_id, server_id) DO NOTHING`,
			m.ServerID, m.ChatID, m.SenderID, m.Content, m.Type, m.Status, m.CreatedAt, m.IsMe, now); err != nil {
			return fmt.Errorf("insert batch row: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}

	// One notification per affected chat, after commit.
	seen := make(map[int64]struct{})
	for _, m := range msgs {
		if _, ok := seen[m.ChatID]; ok {
			continue
		}
		seen[m.ChatID] = struct{}{}
		db.notify(m.ChatID)
	}
	return nil
}

// UpdateMessageStatus advances the status of a confirmed message. The SQL
// guard makes the transition one-directional: a "delivered" row ignores a
// late "sent", and a failed provisional is never resurrected by the feed.
func (db *DB) UpdateMessageStatus(chatID, serverID int64, status string) error {
	res, err := db.Exec(fmt.Sprintf(`
		UPDATE messages SET status = ?
		WHERE chat_id = ? AND server_id = ? AND %s > %s`,
		statusRankExpr("?"), statusRankExpr("status")),
		status, chatID, serverID, status)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		db.notify(chatID)
	}
	return nil
}

// GetMessage returns a message by local key, or nil if absent.
func (db *DB) GetMessage(localKey int64) (*Message, error) {
	var m Message
	err := db.QueryRow(`
		SELECT local_key, server_id, chat_id, sender_id, content, type, status, created_at, is_me
		FROM messages WHERE local_key = ?`, localKey).
		Scan(&m.LocalKey, &m.ServerID, &m.ChatID, &m.SenderID, &m.Content, &m.Type, &m.Status, &m.CreatedAt, &m.IsMe)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ListMessages returns all messages for a chat, newest first. Ties on
// created_at resolve by insertion order (later local key sorts newer), so
// the rendered order is stable across reads.
func (db *DB) ListMessages(chatID int64) ([]Message, error) {
	rows, err := db.Query(`
		SELECT local_key, server_id, chat_id, sender_id, content, type, status, created_at, is_me
		FROM messages
		WHERE chat_id = ?
		ORDER BY created_at DESC, local_key DESC`, chatID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.LocalKey, &m.ServerID, &m.ChatID, &m.SenderID, &m.Content, &m.Type, &m.Status, &m.CreatedAt, &m.IsMe); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// ListServerIDs returns the set of server IDs currently cached for a chat,
// placeholders included. The reconciler diffs the remote history against it.
func (db *DB) ListServerIDs(chatID int64) (map[int64]struct{}, error) {
	rows, err := db.Query(`SELECT server_id FROM messages WHERE chat_id = ?`, chatID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	ids := make(map[int64]struct{})
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = struct{}{}
	}
	return ids, rows.Err()
}

// ClearChat removes every cached message for a chat. Cached data is
// otherwise never destroyed.
func (db *DB) ClearChat(chatID int64) error {
	if _, err := db.Exec(`DELETE FROM messages WHERE chat_id = ?`, chatID); err != nil {
		return fmt.Errorf("clear chat: %w", err)
	}
	db.notify(chatID)
	return nil
}
