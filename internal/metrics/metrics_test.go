package metrics

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"amadeus/internal/registry"
)

type fakeSource []registry.Listing

func (f fakeSource) Listings() []registry.Listing { return f }

type fakeCatalog struct {
	ready int
	size  int64
	err   error
}

func (f fakeCatalog) ReadyCount(ctx context.Context) (int, error)     { return f.ready, f.err }
func (f fakeCatalog) DiskUsageBytes(ctx context.Context) (int64, error) { return f.size, f.err }

func TestRunStopsOnContextCancel(t *testing.T) {
	src := fakeSource{{ID: "r1", ConnectedCount: 2}}
	cat := fakeCatalog{ready: 5, size: 1024}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		Run(ctx, src, cat, 5*time.Millisecond, slog.Default())
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

func TestLogSnapshotHandlesCatalogErrors(t *testing.T) {
	src := fakeSource{}
	cat := fakeCatalog{err: context.DeadlineExceeded}
	// Should not panic even when the catalog source errors.
	logSnapshot(context.Background(), src, cat, slog.Default())
}
