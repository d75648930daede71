package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"car-listings-toolkit/config"
	"car-listings-toolkit/models"
	"car-listings-toolkit/scraper/autofer"
	"car-listings-toolkit/services"
	"car-listings-toolkit/storage"
	"car-listings-toolkit/utils"
)

func main() {
	cfg := config.Load()

	urlsFile := flag.String("urls", cfg.URLsFile, "file with one listing URL per line")
	mode := flag.String("mode", cfg.ScraperMode, "scraper mode: browser or static")
	outDir := flag.String("out", cfg.OutputDir, "directory for the scraped CSV")
	debug := flag.Bool("debug", cfg.Debug(), "enable debug logging")
	flag.Parse()
	cfg.ScraperMode = *mode

	logger := utils.NewFileLogger(cfg.LogFile).SetDebug(*debug)

	logger.Info("=== Used Car Scraper starting ===")
	logger.Info("Config: mode %s | concurrency %d | rate %dms | retries %d",
		cfg.ScraperMode, cfg.MaxConcurrency, cfg.RateLimitMs, cfg.MaxRetries)

	urls, err := autofer.LoadURLs(*urlsFile, logger)
	if err != nil {
		logger.Error("Failed to load URLs: %v", err)
		os.Exit(1)
	}
	if len(urls) == 0 {
		logger.Error("No URLs to scrape. Exiting.")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	writers := []storage.RawListingWriter{}
	csvWriter, err := storage.NewCSVWriter(storage.ScrapeCSVPath(*outDir, time.Now()))
	if err != nil {
		logger.Error("Failed to create CSV writer: %v", err)
		os.Exit(1)
	}
	writers = append(writers, csvWriter)

	if cfg.PostgresEnabled {
		pgWriter, err := storage.NewPostgresWriter(cfg.DSN(), cfg.MaxRetries, cfg.RetryDelay)
		if err != nil {
			logger.Error("Failed to connect to PostgreSQL: %v", err)
			logger.Error("Make sure Docker is running: docker compose up -d")
		} else {
			writers = append(writers, pgWriter)
		}
	}

	scraper := autofer.New(cfg, logger)
	total, failed, err := scrapeAndStore(ctx, scraper.Scrape, urls, writers, logger)
	if err != nil {
		logger.Error("%v", err)
		stop()
		os.Exit(1)
	}

	logger.Info("Raw listings saved to %s", csvWriter.Path())
	fmt.Printf("\n  Done. %d listings (%d failed) → %s\n\n", total, failed, csvWriter.Path())
}

var errNoListings = errors.New("no listings were scraped")

type scrapeFunc func(ctx context.Context, urls []string) ([]*models.RawListing, error)

// scrapeAndStore runs the scrape, cleans the result and hands it to every
// writer. The writers are closed before it returns, on every path.
func scrapeAndStore(ctx context.Context, scrape scrapeFunc, urls []string, writers []storage.RawListingWriter, logger *utils.Logger) (total, failed int, err error) {
	defer func() {
		for _, w := range writers {
			if cerr := w.Close(); cerr != nil {
				logger.Warn("Closing writer: %v", cerr)
			}
		}
	}()

	rawListings, err := scrape(ctx, urls)
	if err != nil {
		logger.Error("Scrape failed: %v", err)
	}
	if len(rawListings) == 0 {
		return 0, 0, errNoListings
	}

	cleanListings := services.NewCleaner(logger).Clean(rawListings)
	for _, l := range cleanListings {
		if l.Error != "" {
			failed++
		}
	}

	for _, w := range writers {
		if err := w.WriteRaw(cleanListings); err != nil {
			logger.Error("Write failed: %v", err)
		}
	}
	return len(cleanListings), failed, nil
}
