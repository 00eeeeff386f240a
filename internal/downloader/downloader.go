// Package downloader drains the catalog's download queue: for each queued
// song it shells out to an external fetcher binary (yt-dlp-shaped by
// default), streams the resulting audio file into the catalog's blob store,
// and marks the song ready or failed.
//
// The os/exec shape is grounded on
// harperreed-resonate-go/internal/server/audio_source.go's FFmpegSource:
// exec.LookPath to fail fast if the binary is missing, then a Cmd driving
// the external process. Here the fetcher writes to a scratch file named by
// its -o argument, and that file (not the process's stdout) is read back.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"amadeus/internal/catalog"
)

// ErrQueueEmpty is returned by FetchOne when Catalog.NextQueued yields no
// song (sql.ErrNoRows, or any other error from that lookup); Run treats it
// as "nothing to do yet".
var ErrQueueEmpty = errors.New("downloader: queue empty")

// Worker pops songs off the catalog's download queue and fetches them one
// at a time. It is not safe to run more than one Worker against the same
// binary/workDir concurrently against the same catalog without external
// coordination — the catalog itself has no claim/lease mechanism, matching
// spec.md's single-operator deployment assumption.
type Worker struct {
	catalog *catalog.Catalog
	binary  string
	workDir string
	log     *slog.Logger
}

// Option configures a Worker.
type Option func(*Worker)

// WithBinary overrides the fetcher executable (default "yt-dlp").
func WithBinary(path string) Option {
	return func(w *Worker) { w.binary = path }
}

// WithWorkDir overrides the scratch directory fetched files are written to
// before being handed to the catalog's blob store (default os.TempDir()).
func WithWorkDir(dir string) Option {
	return func(w *Worker) { w.workDir = dir }
}

// WithLogger overrides the worker's logger.
func WithLogger(log *slog.Logger) Option {
	return func(w *Worker) { w.log = log }
}

// New creates a Worker bound to cat.
func New(cat *catalog.Catalog, opts ...Option) *Worker {
	w := &Worker{
		catalog: cat,
		binary:  "yt-dlp",
		workDir: os.TempDir(),
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// FetchOne claims and fetches a single queued song. It returns ErrQueueEmpty
// if the queue was empty. Fetch failures are recorded on the song via
// MarkFailed rather than propagated, so they return nil; the only errors
// returned are a failure to mark the song downloading or to record the
// fetch failure itself.
func (w *Worker) FetchOne(ctx context.Context) error {
	song, err := w.catalog.NextQueued(ctx)
	if err != nil {
		return ErrQueueEmpty
	}

	if err := w.catalog.MarkDownloading(ctx, song.ID); err != nil {
		return fmt.Errorf("downloader: claim %s: %w", song.ID, err)
	}

	if err := w.fetch(ctx, song); err != nil {
		w.log.Warn("fetch failed", "song_id", song.ID, "source", song.SourceURL, "err", err)
		if markErr := w.catalog.MarkFailed(ctx, song.ID, err); markErr != nil {
			return fmt.Errorf("downloader: record failure for %s: %w", song.ID, markErr)
		}
		return nil
	}

	return nil
}

func (w *Worker) fetch(ctx context.Context, song catalog.Song) error {
	if _, err := exec.LookPath(w.binary); err != nil {
		return fmt.Errorf("fetcher binary %q not found: %w", w.binary, err)
	}

	outPath, err := os.CreateTemp(w.workDir, "amadeus-fetch-*.audio")
	if err != nil {
		return fmt.Errorf("create scratch file: %w", err)
	}
	outPath.Close()
	defer os.Remove(outPath.Name())

	// -x extracts audio only, -o pins the output path so we don't have to
	// guess yt-dlp's templated filename back out afterward.
	cmd := exec.CommandContext(ctx, w.binary,
		"-x",
		"--audio-format", "mp3",
		"-o", outPath.Name(),
		song.SourceURL,
	)

	start := time.Now()
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("run %s: %w", w.binary, err)
	}
	w.log.Info("fetch completed", "song_id", song.ID, "elapsed", time.Since(start))

	f, err := os.Open(outPath.Name())
	if err != nil {
		return fmt.Errorf("open fetched audio: %w", err)
	}
	defer f.Close()

	if err := w.catalog.MarkReady(ctx, song.ID, f, "audio/mpeg"); err != nil {
		return fmt.Errorf("store fetched audio: %w", err)
	}
	return nil
}

// Run polls the queue every interval until ctx is cancelled, fetching one
// song per tick. Mirrors root metrics.go's ticker-loop shape.
func (w *Worker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.FetchOne(ctx); err != nil && !errors.Is(err, ErrQueueEmpty) {
				w.log.Error("downloader tick failed", "err", err)
			}
		}
	}
}
