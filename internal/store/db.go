package store

import (
	"database/sql"
	"fmt"

	"github.com/faustyu/paprika/internal/bus"
	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite connection for the app-owned cache.db.
//
// The cache is the single source of truth for rendering: reads never touch
// the network, and every committed mutation is announced on the bus as a
// "cache.message" event so live watchers observe it. Announcing from inside
// the store (rather than from each producer) is what keeps the
// mutation→notification pairing unforgeable.
type DB struct {
	*sql.DB
	bus *bus.Bus
}

// ChatRef is the payload of "cache.message" events: which chat's view of
// the cache changed.
type ChatRef struct {
	ChatID int64
}

// Open creates a new SQLite connection with WAL mode and recommended pragmas.
// The bus may be nil, in which case mutations are silent (tests).
func Open(path string, b *bus.Bus) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// Verify connection.
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return &DB{DB: db, bus: b}, nil
}

// notify announces a committed cache mutation for a chat.
func (db *DB) notify(chatID int64) {
	if db.bus == nil {
		return
	}
	db.bus.Emit("cache.message", ChatRef{ChatID: chatID})
}
