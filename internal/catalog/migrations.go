package catalog

// migrations holds the ordered list of DDL statements that bring the
// catalog schema up to date. Index i corresponds to version i+1. To add a
// migration, append a new string — never edit or reorder existing entries.
// Pattern lifted from store/store.go's schema_migrations tracking table.
var migrations = []string{
	// v1 — songs: the catalog of tracks known to this server.
	`CREATE TABLE IF NOT EXISTS songs (
		id          TEXT PRIMARY KEY,
		title       TEXT NOT NULL,
		artist      TEXT NOT NULL DEFAULT '',
		source_url  TEXT NOT NULL,
		status      TEXT NOT NULL DEFAULT 'queued',
		blob_id     TEXT NOT NULL DEFAULT '',
		created_at  INTEGER NOT NULL DEFAULT (unixepoch())
	)`,
	// v2 — index on songs.status.
	`CREATE INDEX IF NOT EXISTS idx_songs_status ON songs(status)`,
	// v3 — download_queue: one row per song awaiting/undergoing a fetch.
	`CREATE TABLE IF NOT EXISTS download_queue (
		song_id      TEXT PRIMARY KEY REFERENCES songs(id),
		attempts     INTEGER NOT NULL DEFAULT 0,
		last_error   TEXT NOT NULL DEFAULT '',
		enqueued_at  INTEGER NOT NULL DEFAULT (unixepoch())
	)`,
	// v4 — blobs: metadata for raw audio bytes stored on disk under a UUID name.
	`CREATE TABLE IF NOT EXISTS blobs (
		id           TEXT PRIMARY KEY,
		disk_name    TEXT NOT NULL UNIQUE,
		content_type TEXT NOT NULL,
		size_bytes   INTEGER NOT NULL CHECK(size_bytes >= 0),
		created_at   INTEGER NOT NULL DEFAULT (unixepoch())
	)`,
	// v5 — WAL mode for concurrent readers.
	`PRAGMA journal_mode=WAL`,
}
