package store

import (
	"database/sql"
	"time"
)

// UpsertUser inserts or updates a cached user profile.
func (db *DB) UpsertUser(u *User) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO users (id, username, avatar, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			username = excluded.username,
			avatar = excluded.avatar,
			updated_at = excluded.updated_at`,
		u.ID, u.Username, u.Avatar, now)
	return err
}

// GetUser returns a cached user by ID, or nil if unknown.
func (db *DB) GetUser(id int64) (*User, error) {
	var u User
	err := db.QueryRow(`SELECT id, username, avatar FROM users WHERE id = ?`, id).
		Scan(&u.ID, &u.Username, &u.Avatar)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}
