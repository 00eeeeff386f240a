package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"

	"amadeus/internal/catalog"
)

// RunCLI handles subcommand execution. Returns true if a subcommand was
// handled. Modeled 1:1 on the teacher's cli.go dispatch table.
func RunCLI(args []string, dbPath string) bool {
	if len(args) == 0 {
		return false
	}

	subcmd := args[0]
	switch subcmd {
	case "version":
		fmt.Printf("amadeusd %s\n", Version)
		return true
	case "status":
		return cliStatus(dbPath)
	case "catalog":
		return cliCatalog(args[1:], dbPath)
	default:
		return false
	}
}

func openCatalogOrExit(dbPath string) *catalog.Catalog {
	blobDir := filepath.Join(filepath.Dir(dbPath), "blobs")
	cat, err := catalog.Open(dbPath, blobDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening catalog: %v\n", err)
		os.Exit(1)
	}
	return cat
}

func cliStatus(dbPath string) bool {
	cat := openCatalogOrExit(dbPath)
	defer cat.Close()

	ctx := context.Background()
	ready, err := cat.ReadyCount(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	size, err := cat.DiskUsageBytes(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	queue, err := cat.ListQueue(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Database: %s\n", dbPath)
	fmt.Printf("Version: %s\n", Version)
	fmt.Printf("Ready songs: %d\n", ready)
	fmt.Printf("Queued downloads: %d\n", len(queue))
	fmt.Printf("Catalog size: %s\n", humanize.Bytes(uint64(size)))
	return true
}

func cliCatalog(args []string, dbPath string) bool {
	cat := openCatalogOrExit(dbPath)
	defer cat.Close()

	ctx := context.Background()

	if len(args) == 0 || args[0] == "list" {
		queue, err := cat.ListQueue(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		if len(queue) == 0 {
			fmt.Println("Download queue is empty.")
			return true
		}
		for _, e := range queue {
			fmt.Printf("  %s  %-40s attempts=%d enqueued=%s\n", e.SongID, e.Title, e.Attempts, humanize.Time(e.EnqueuedAt))
		}
		return true
	}

	if args[0] == "enqueue" && len(args) > 1 {
		url := args[1]
		title := ""
		if len(args) > 2 {
			title = args[2]
		}
		song, err := cat.Enqueue(ctx, url, title, "")
		if err != nil {
			fmt.Fprintf(os.Stderr, "error enqueuing: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Enqueued %q (id=%s)\n", song.Title, song.ID)
		return true
	}

	fmt.Fprintf(os.Stderr, "Usage: amadeusd catalog [list|enqueue <url> [title]]\n")
	os.Exit(1)
	return true
}
