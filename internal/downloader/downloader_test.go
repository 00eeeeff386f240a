package downloader

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"amadeus/internal/catalog"
)

// fakeFetcher writes a fixed string to wherever "-o" points, mimicking
// yt-dlp's successful exit without needing network access or the real
// binary in test environments.
func writeFakeFetcher(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake fetcher script is POSIX shell only")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "fake-yt-dlp")
	script := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake fetcher: %v", err)
	}
	return path
}

func openCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	dir := t.TempDir()
	c, err := catalog.Open(filepath.Join(dir, "catalog.db"), filepath.Join(dir, "blobs"))
	if err != nil {
		t.Fatalf("catalog.Open: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestFetchOneSucceeds(t *testing.T) {
	cat := openCatalog(t)
	ctx := context.Background()

	song, err := cat.Enqueue(ctx, "https://example.com/song.mp3", "Test Song", "")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	// $2 after "-o" is the output path argument the worker passes.
	bin := writeFakeFetcher(t, `while [ "$1" != "-o" ]; do shift; done; printf 'fake-audio-bytes' > "$2"`)
	w := New(cat, WithBinary(bin), WithWorkDir(t.TempDir()))

	if err := w.FetchOne(ctx); err != nil {
		t.Fatalf("FetchOne: %v", err)
	}

	n, err := cat.ReadyCount(ctx)
	if err != nil {
		t.Fatalf("ReadyCount: %v", err)
	}
	if n != 1 {
		t.Fatalf("ReadyCount = %d, want 1", n)
	}

	quiz, err := cat.LoadQuiz(ctx, 1)
	if err != nil {
		t.Fatalf("LoadQuiz: %v", err)
	}
	got, err := cat.Resolve(ctx, quiz.Questions[0].Audio)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if string(got) != "fake-audio-bytes" {
		t.Fatalf("Resolve = %q, want %q", got, "fake-audio-bytes")
	}
	_ = song
}

func TestFetchOneRecordsFailure(t *testing.T) {
	cat := openCatalog(t)
	ctx := context.Background()

	if _, err := cat.Enqueue(ctx, "https://example.com/broken.mp3", "Broken Song", ""); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	bin := writeFakeFetcher(t, `exit 1`)
	w := New(cat, WithBinary(bin), WithWorkDir(t.TempDir()))

	if err := w.FetchOne(ctx); err != nil {
		t.Fatalf("FetchOne should swallow fetch errors, got %v", err)
	}

	entries, err := cat.ListQueue(ctx)
	if err != nil {
		t.Fatalf("ListQueue: %v", err)
	}
	if len(entries) != 1 || entries[0].Attempts != 1 {
		t.Fatalf("ListQueue = %+v, want one entry with 1 attempt", entries)
	}
}

func TestFetchOneOnEmptyQueueReturnsErrQueueEmpty(t *testing.T) {
	cat := openCatalog(t)
	w := New(cat, WithWorkDir(t.TempDir()))

	if err := w.FetchOne(context.Background()); err != ErrQueueEmpty {
		t.Fatalf("FetchOne on empty queue = %v, want ErrQueueEmpty", err)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	cat := openCatalog(t)
	w := New(cat, WithWorkDir(t.TempDir()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx, 10*time.Millisecond)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
