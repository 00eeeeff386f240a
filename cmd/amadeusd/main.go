// Command amadeusd serves the amadeus real-time music-guessing game:
// registration, room browsing, the per-room WebSocket game protocol, a
// SQLite song catalog, and a background fetcher that downloads songs into
// it. Flag parsing, graceful shutdown, and the CLI subcommand dispatch are
// all carried over from the teacher's main.go/cli.go, generalized from a
// voice/chat server to this domain.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"amadeus/internal/catalog"
	"amadeus/internal/downloader"
	"amadeus/internal/httpapi"
	"amadeus/internal/metrics"
	"amadeus/internal/registry"
	"amadeus/internal/session"
)

// Version is the current server version. Set at build time via -ldflags.
var Version = "0.1.0-dev"

func main() {
	if len(os.Args) > 1 {
		if RunCLI(os.Args[1:], "amadeus.db") {
			return
		}
	}

	addr := flag.String("addr", ":8443", "HTTPS/WebSocket listen address")
	plainAddr := flag.String("plain-addr", "", "plaintext HTTP/WebSocket listen address (empty to disable; useful behind a TLS-terminating proxy)")
	dbPath := flag.String("db", "amadeus.db", "catalog SQLite database path")
	sessionDBPath := flag.String("session-db", "amadeus-sessions.db", "session SQLite database path")
	blobDir := flag.String("blob-dir", "blobs", "directory for stored song audio (relative to -db directory if not absolute)")
	certValidity := flag.Duration("cert-validity", 24*time.Hour, "self-signed TLS certificate validity")
	fetcherBinary := flag.String("fetcher", "yt-dlp", "external audio-fetcher binary")
	fetchInterval := flag.Duration("fetch-interval", 10*time.Second, "how often the downloader polls the queue")
	metricsInterval := flag.Duration("metrics-interval", 30*time.Second, "how often aggregate stats are logged")
	flag.Parse()

	log := slog.Default()

	resolvedBlobDir := *blobDir
	if !filepath.IsAbs(resolvedBlobDir) {
		resolvedBlobDir = filepath.Join(filepath.Dir(*dbPath), resolvedBlobDir)
	}

	cat, err := catalog.Open(*dbPath, resolvedBlobDir)
	if err != nil {
		log.Error("open catalog", "err", err)
		os.Exit(1)
	}
	defer cat.Close()

	sessions, err := session.Open(*sessionDBPath)
	if err != nil {
		log.Error("open sessions", "err", err)
		os.Exit(1)
	}
	defer sessions.Close()

	reg := registry.New(cat, sessions)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		log.Info("shutting down")
		cancel()
	}()

	worker := downloader.New(cat, downloader.WithBinary(*fetcherBinary), downloader.WithLogger(log))
	go worker.Run(ctx, *fetchInterval)

	go metrics.Run(ctx, reg, cat, *metricsInterval, log)

	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n, err := sessions.Prune(ctx, 24*time.Hour); err != nil {
					log.Warn("prune sessions", "err", err)
				} else if n > 0 {
					log.Info("pruned stale sessions", "count", n)
				}
			}
		}
	}()

	srv := httpapi.New(reg, sessions, cat, log)

	if *plainAddr != "" {
		go func() {
			if err := srv.Run(ctx, *plainAddr); err != nil {
				log.Error("plaintext server", "err", err)
			}
		}()
		log.Info("plaintext listener", "addr", *plainAddr)
	}

	hostname := ""
	if host, _, err := net.SplitHostPort(*addr); err == nil {
		hostname = host
	}
	tlsConfig, fingerprint, err := generateTLSConfig(*certValidity, hostname)
	if err != nil {
		log.Error("generate tls config", "err", err)
		os.Exit(1)
	}
	log.Info("tls certificate", "fingerprint", fingerprint)

	fmt.Printf("amadeus %s listening on %s (tls)\n", Version, *addr)
	if err := srv.RunTLS(ctx, *addr, tlsConfig); err != nil {
		log.Error("tls server", "err", err)
		os.Exit(1)
	}
}
