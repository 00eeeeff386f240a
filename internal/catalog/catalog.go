// Package catalog is the SQLite-backed SongLibrary (spec §1's "SQLite
// catalog of downloaded songs" external collaborator, given a concrete
// backing so this repository isn't left with empty stubs): a table of
// songs and their download status, a download queue, and a UUID-named blob
// store for the raw audio bytes. It implements room.SongLibrary directly so
// a *Catalog can be handed straight to registry.New.
//
// Grounded on store/store.go's ordered-migrations-slice pattern and
// internal/blob/store.go's bytes-on-disk/metadata-in-sqlite split.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"amadeus/internal/room"
)

// Song statuses.
const (
	StatusQueued      = "queued"
	StatusDownloading = "downloading"
	StatusReady       = "ready"
	StatusFailed      = "failed"
)

// Song is one row of the songs table.
type Song struct {
	ID        string
	Title     string
	Artist    string
	SourceURL string
	Status    string
	BlobID    string
	CreatedAt time.Time
}

// QueueEntry is one row of the download_queue table, joined with its song.
type QueueEntry struct {
	SongID     string
	Title      string
	SourceURL  string
	Attempts   int
	LastError  string
	EnqueuedAt time.Time
}

// Catalog persists songs, their download state, and their audio bytes.
type Catalog struct {
	db      *sql.DB
	blobDir string
}

// Open opens (or creates) the SQLite database at dbPath, runs any pending
// migrations, and ensures blobDir exists for storing audio bytes.
func Open(dbPath, blobDir string) (*Catalog, error) {
	if strings.TrimSpace(dbPath) == "" {
		return nil, fmt.Errorf("catalog: database path is required")
	}
	if strings.TrimSpace(blobDir) == "" {
		return nil, fmt.Errorf("catalog: blob directory is required")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("catalog: create database directory: %w", err)
	}
	if err := os.MkdirAll(blobDir, 0o755); err != nil {
		return nil, fmt.Errorf("catalog: create blob directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("catalog: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	if _, err := db.Exec(`PRAGMA busy_timeout=5000`); err != nil {
		slog.Warn("catalog: busy_timeout pragma failed (non-fatal)", "err", err)
	}

	c := &Catalog{db: db, blobDir: blobDir}
	if err := c.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	slog.Info("catalog opened", "db", dbPath, "blob_dir", blobDir)
	return c, nil
}

// Close releases the underlying database connection.
func (c *Catalog) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

func (c *Catalog) migrate(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("catalog: create schema_migrations: %w", err)
	}

	var current int
	if err := c.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return fmt.Errorf("catalog: read schema version: %w", err)
	}

	for i, stmt := range migrations {
		v := i + 1
		if v <= current {
			continue
		}
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("catalog: migration %d: %w", v, err)
		}
		if _, err := c.db.ExecContext(ctx, `INSERT INTO schema_migrations(version) VALUES(?)`, v); err != nil {
			return fmt.Errorf("catalog: record migration %d: %w", v, err)
		}
		slog.Debug("catalog migration applied", "version", v)
	}
	return nil
}

// Enqueue registers a new song pending download and returns its row. Used
// by the CLI's "catalog enqueue" to schedule work for the Downloader.
func (c *Catalog) Enqueue(ctx context.Context, sourceURL, title, artist string) (Song, error) {
	sourceURL = strings.TrimSpace(sourceURL)
	if sourceURL == "" {
		return Song{}, fmt.Errorf("catalog: source url is required")
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = sourceURL
	}

	song := Song{
		ID:        uuid.NewString(),
		Title:     title,
		Artist:    strings.TrimSpace(artist),
		SourceURL: sourceURL,
		Status:    StatusQueued,
		CreatedAt: time.Now().UTC(),
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return Song{}, fmt.Errorf("catalog: begin enqueue: %w", err)
	}
	defer tx.Rollback()

	const insSong = `INSERT INTO songs (id, title, artist, source_url, status, created_at) VALUES (?, ?, ?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, insSong, song.ID, song.Title, song.Artist, song.SourceURL, song.Status, song.CreatedAt.Unix()); err != nil {
		return Song{}, fmt.Errorf("catalog: insert song: %w", err)
	}
	const insQueue = `INSERT INTO download_queue (song_id) VALUES (?)`
	if _, err := tx.ExecContext(ctx, insQueue, song.ID); err != nil {
		return Song{}, fmt.Errorf("catalog: insert queue entry: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Song{}, fmt.Errorf("catalog: commit enqueue: %w", err)
	}

	slog.Info("song enqueued", "song_id", song.ID, "source", song.SourceURL)
	return song, nil
}

// NextQueued returns the oldest still-queued song, for a Downloader worker
// loop to claim. Returns sql.ErrNoRows if the queue is empty.
func (c *Catalog) NextQueued(ctx context.Context) (Song, error) {
	const q = `SELECT id, title, artist, source_url, status, blob_id, created_at FROM songs WHERE status = ? ORDER BY created_at ASC LIMIT 1`
	return c.scanSong(c.db.QueryRowContext(ctx, q, StatusQueued))
}

// MarkDownloading transitions a song from queued to downloading.
func (c *Catalog) MarkDownloading(ctx context.Context, songID string) error {
	const q = `UPDATE songs SET status = ? WHERE id = ?`
	_, err := c.db.ExecContext(ctx, q, StatusDownloading, songID)
	if err != nil {
		return fmt.Errorf("catalog: mark downloading: %w", err)
	}
	return nil
}

// MarkReady stores audio bytes for songID and transitions it to ready.
func (c *Catalog) MarkReady(ctx context.Context, songID string, audio io.Reader, contentType string) error {
	blobID, err := c.putBlob(ctx, audio, contentType)
	if err != nil {
		return fmt.Errorf("catalog: store audio: %w", err)
	}
	const q = `UPDATE songs SET status = ?, blob_id = ? WHERE id = ?`
	if _, err := c.db.ExecContext(ctx, q, StatusReady, blobID, songID); err != nil {
		return fmt.Errorf("catalog: mark ready: %w", err)
	}
	const delQueue = `DELETE FROM download_queue WHERE song_id = ?`
	_, _ = c.db.ExecContext(ctx, delQueue, songID)
	slog.Info("song ready", "song_id", songID, "blob_id", blobID)
	return nil
}

// MarkFailed records a download failure and bumps the queue's attempt count.
func (c *Catalog) MarkFailed(ctx context.Context, songID string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	const updSong = `UPDATE songs SET status = ? WHERE id = ?`
	if _, err := c.db.ExecContext(ctx, updSong, StatusFailed, songID); err != nil {
		return fmt.Errorf("catalog: mark failed: %w", err)
	}
	const updQueue = `UPDATE download_queue SET attempts = attempts + 1, last_error = ? WHERE song_id = ?`
	if _, err := c.db.ExecContext(ctx, updQueue, msg, songID); err != nil {
		return fmt.Errorf("catalog: record queue failure: %w", err)
	}
	slog.Warn("song download failed", "song_id", songID, "err", msg)
	return nil
}

// ListQueue returns every pending-or-failed download, most recently enqueued
// first.
func (c *Catalog) ListQueue(ctx context.Context) ([]QueueEntry, error) {
	const q = `
SELECT s.id, s.title, s.source_url, q.attempts, q.last_error, q.enqueued_at
FROM download_queue q JOIN songs s ON s.id = q.song_id
ORDER BY q.enqueued_at DESC
`
	rows, err := c.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("catalog: query queue: %w", err)
	}
	defer rows.Close()

	var out []QueueEntry
	for rows.Next() {
		var e QueueEntry
		var enqueuedAtUnix int64
		if err := rows.Scan(&e.SongID, &e.Title, &e.SourceURL, &e.Attempts, &e.LastError, &enqueuedAtUnix); err != nil {
			return nil, fmt.Errorf("catalog: scan queue entry: %w", err)
		}
		e.EnqueuedAt = time.Unix(enqueuedAtUnix, 0).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// ReadyCount returns how many songs have finished downloading.
func (c *Catalog) ReadyCount(ctx context.Context) (int, error) {
	var n int
	err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM songs WHERE status = ?`, StatusReady).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("catalog: ready count: %w", err)
	}
	return n, nil
}

// DiskUsageBytes sums the size of every stored blob, for the CLI's
// human-readable catalog size report.
func (c *Catalog) DiskUsageBytes(ctx context.Context) (int64, error) {
	var total int64
	err := c.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(size_bytes), 0) FROM blobs`).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("catalog: disk usage: %w", err)
	}
	return total, nil
}

func (c *Catalog) scanSong(row *sql.Row) (Song, error) {
	var s Song
	var createdAtUnix int64
	err := row.Scan(&s.ID, &s.Title, &s.Artist, &s.SourceURL, &s.Status, &s.BlobID, &createdAtUnix)
	if errors.Is(err, sql.ErrNoRows) {
		return Song{}, err
	}
	if err != nil {
		return Song{}, fmt.Errorf("catalog: scan song: %w", err)
	}
	s.CreatedAt = time.Unix(createdAtUnix, 0).UTC()
	return s, nil
}

// --- room.SongLibrary ---

// LoadQuiz implements room.SongLibrary: it picks up to n distinct ready
// songs at random and returns them as an immutable Quiz. The prompt is left
// for the front end to render from Title/Artist; solution is the title.
func (c *Catalog) LoadQuiz(ctx context.Context, n int) (room.Quiz, error) {
	const q = `SELECT id, title, artist, blob_id FROM songs WHERE status = ? ORDER BY RANDOM() LIMIT ?`
	rows, err := c.db.QueryContext(ctx, q, StatusReady, n)
	if err != nil {
		return room.Quiz{}, fmt.Errorf("catalog: load quiz: %w", err)
	}
	defer rows.Close()

	var questions []room.Question
	for rows.Next() {
		var id, title, artist, blobID string
		if err := rows.Scan(&id, &title, &artist, &blobID); err != nil {
			return room.Quiz{}, fmt.Errorf("catalog: scan quiz row: %w", err)
		}
		prompt := title
		if artist != "" {
			prompt = fmt.Sprintf("%s — %s", artist, title)
		}
		questions = append(questions, room.Question{
			Audio:    room.AudioHandle(blobID),
			Prompt:   prompt,
			Solution: title,
		})
	}
	if err := rows.Err(); err != nil {
		return room.Quiz{}, fmt.Errorf("catalog: iterate quiz rows: %w", err)
	}
	if len(questions) == 0 {
		return room.Quiz{}, fmt.Errorf("catalog: no ready songs available")
	}

	// RANDOM() already shuffled the rows; a second local shuffle keeps
	// re-LoadQuiz calls with the same SQLite query-plan cache from landing
	// on a suspiciously stable order.
	rand.Shuffle(len(questions), func(i, j int) { questions[i], questions[j] = questions[j], questions[i] })
	return room.Quiz{Questions: questions}, nil
}

// Resolve implements room.SongLibrary: it reads the raw audio bytes for an
// AudioHandle (a blob id) from disk.
func (c *Catalog) Resolve(ctx context.Context, handle room.AudioHandle) ([]byte, error) {
	return c.resolveBlob(ctx, string(handle))
}
