package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// ErrBlobNotFound is returned when no blob metadata exists for an id.
var ErrBlobNotFound = errors.New("catalog: blob not found")

// blobMetadata mirrors one row of the blobs table.
type blobMetadata struct {
	ID          string
	DiskName    string
	ContentType string
	SizeBytes   int64
}

// putBlob writes r to disk as a UUID-named file under c.blobDir and records
// its metadata in sqlite. Mirrors internal/blob/store.go's "bytes on disk,
// metadata in sqlite" split, with the blob id minted by google/uuid instead
// of a hand-rolled RFC 4122 encoder.
func (c *Catalog) putBlob(ctx context.Context, r io.Reader, contentType string) (string, error) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	id := uuid.NewString()

	tmp, err := os.CreateTemp(c.blobDir, ".blob-write-*")
	if err != nil {
		return "", fmt.Errorf("create temp blob file: %w", err)
	}
	tmpPath := tmp.Name()

	size, copyErr := io.Copy(tmp, r)
	closeErr := tmp.Close()
	if copyErr != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("write blob bytes: %w", copyErr)
	}
	if closeErr != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("close temp blob file: %w", closeErr)
	}

	finalPath := filepath.Join(c.blobDir, id)
	if err := os.Rename(tmpPath, finalPath); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("move blob into place: %w", err)
	}

	const q = `INSERT INTO blobs (id, disk_name, content_type, size_bytes) VALUES (?, ?, ?, ?)`
	if _, err := c.db.ExecContext(ctx, q, id, id, contentType, size); err != nil {
		_ = os.Remove(finalPath)
		return "", fmt.Errorf("persist blob metadata: %w", err)
	}

	slog.Debug("blob stored", "blob_id", id, "size", size, "content_type", contentType)
	return id, nil
}

// resolveBlob reads the metadata for id and returns its bytes.
func (c *Catalog) resolveBlob(ctx context.Context, id string) ([]byte, error) {
	meta, err := c.blobMeta(ctx, id)
	if err != nil {
		return nil, err
	}
	path := filepath.Join(c.blobDir, meta.DiskName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read blob file: %w", err)
	}
	return data, nil
}

func (c *Catalog) blobMeta(ctx context.Context, id string) (blobMetadata, error) {
	const q = `SELECT id, disk_name, content_type, size_bytes FROM blobs WHERE id = ?`
	var meta blobMetadata
	err := c.db.QueryRowContext(ctx, q, id).Scan(&meta.ID, &meta.DiskName, &meta.ContentType, &meta.SizeBytes)
	if errors.Is(err, sql.ErrNoRows) {
		return blobMetadata{}, ErrBlobNotFound
	}
	if err != nil {
		return blobMetadata{}, fmt.Errorf("query blob metadata: %w", err)
	}
	return meta, nil
}
