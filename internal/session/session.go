// Package session is the SQLite-backed SessionDirectory (C7): a nonce ->
// display-name mapping minted at registration time and resolved by every
// room a player joins. Grounded on store/store.go's settings upsert
// (INSERT ... ON CONFLICT) pattern, generalized from a single key/value
// table to one row per session.
package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Directory resolves session nonces to display names and implements
// room.SessionDirectory.
type Directory struct {
	db *sql.DB
}

// Open opens (or creates) the session database at dbPath.
func Open(dbPath string) (*Directory, error) {
	if strings.TrimSpace(dbPath) == "" {
		return nil, fmt.Errorf("session: database path is required")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("session: create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("session: open sqlite: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS sessions (
		nonce       TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		created_at  INTEGER NOT NULL DEFAULT (unixepoch()),
		last_seen   INTEGER NOT NULL DEFAULT (unixepoch())
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("session: create sessions table: %w", err)
	}

	return &Directory{db: db}, nil
}

// Close releases the underlying database connection.
func (d *Directory) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	return d.db.Close()
}

// Register mints a new session nonce for name and persists it. Re-running
// Register for the same displayed name is intentional: each call is a new
// browser session, so it always gets a fresh nonce (spec.md has no
// reconnect-by-name flow — only by the cookie a prior Register returned).
func (d *Directory) Register(ctx context.Context, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("session: name is required")
	}
	if len(name) > 64 {
		name = name[:64]
	}

	nonce := uuid.NewString()
	const q = `INSERT INTO sessions(nonce, name) VALUES (?, ?)
		ON CONFLICT(nonce) DO UPDATE SET name = excluded.name, last_seen = unixepoch()`
	if _, err := d.db.ExecContext(ctx, q, nonce, name); err != nil {
		return "", fmt.Errorf("session: register: %w", err)
	}
	return nonce, nil
}

// Touch refreshes a session's last-seen timestamp, called on each WebSocket
// upgrade request that carries a known session (before the upgrade itself)
// so Prune can reap genuinely abandoned sessions.
func (d *Directory) Touch(ctx context.Context, nonce string) error {
	const q = `UPDATE sessions SET last_seen = unixepoch() WHERE nonce = ?`
	_, err := d.db.ExecContext(ctx, q, nonce)
	if err != nil {
		return fmt.Errorf("session: touch: %w", err)
	}
	return nil
}

// Prune deletes sessions not seen within maxAge, for a periodic maintenance
// pass (mirrors store.go's general housekeeping methods).
func (d *Directory) Prune(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxAge).Unix()
	res, err := d.db.ExecContext(ctx, `DELETE FROM sessions WHERE last_seen < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("session: prune: %w", err)
	}
	return res.RowsAffected()
}

// NameFor implements room.SessionDirectory: it resolves a session nonce to
// the display name chosen at registration. The bool mirrors
// database/sql's "found" idiom rather than returning sql.ErrNoRows, since
// room.SessionDirectory callers only ever branch on presence.
func (d *Directory) NameFor(nonce string) (string, bool) {
	var name string
	err := d.db.QueryRow(`SELECT name FROM sessions WHERE nonce = ?`, nonce).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false
	}
	if err != nil {
		return "", false
	}
	return name, true
}
