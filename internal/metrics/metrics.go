// Package metrics periodically logs aggregate server health: live room
// count, connected players, and catalog size. Shape lifted straight from
// root metrics.go's ticker loop, generalized from one voice room's
// datagram/byte counters to the registry-wide figures this server has.
package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"

	"amadeus/internal/catalog"
	"amadeus/internal/registry"
)

// Source is the read-only view metrics needs. *registry.Registry satisfies
// it; a narrow interface keeps this package testable without spinning up
// real rooms or a real database.
type Source interface {
	Listings() []registry.Listing
}

// CatalogSource is the catalog-side counterpart to Source.
type CatalogSource interface {
	ReadyCount(ctx context.Context) (int, error)
	DiskUsageBytes(ctx context.Context) (int64, error)
}

var _ Source = (*registry.Registry)(nil)
var _ CatalogSource = (*catalog.Catalog)(nil)

// Run logs a snapshot of rooms, players, and catalog size every interval
// until ctx is cancelled.
func Run(ctx context.Context, reg Source, cat CatalogSource, interval time.Duration, log *slog.Logger) {
	if log == nil {
		log = slog.Default()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			logSnapshot(ctx, reg, cat, log)
		}
	}
}

func logSnapshot(ctx context.Context, reg Source, cat CatalogSource, log *slog.Logger) {
	listings := reg.Listings()
	players := 0
	for _, l := range listings {
		players += l.ConnectedCount
	}

	ready, err := cat.ReadyCount(ctx)
	if err != nil {
		log.Warn("metrics: ready count failed", "err", err)
	}
	size, err := cat.DiskUsageBytes(ctx)
	if err != nil {
		log.Warn("metrics: disk usage failed", "err", err)
	}

	log.Info("server snapshot",
		"rooms", len(listings),
		"players", players,
		"catalog_ready", ready,
		"catalog_size", humanize.Bytes(uint64(size)),
	)
}
