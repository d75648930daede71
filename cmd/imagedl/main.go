package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"car-listings-toolkit/config"
	"car-listings-toolkit/services"
	"car-listings-toolkit/storage"
	"car-listings-toolkit/utils"
)

func main() {
	cfg := config.Load()

	input := flag.String("input", cfg.InputCSV, "listings CSV with guid_anuncio and url_imagenes columns")
	dir := flag.String("dir", cfg.DownloadDir, "directory for the downloaded images")
	maxImages := flag.Int("max-images", cfg.MaxImagesPerCar, "maximum images stored per listing")
	debug := flag.Bool("debug", cfg.Debug(), "enable debug logging")
	flag.Parse()
	cfg.DownloadDir = *dir
	cfg.MaxImagesPerCar = *maxImages

	logger := utils.NewFileLogger(cfg.LogFile).SetDebug(*debug)
	logger.Info("=== Image Downloader starting ===")

	jobs, err := storage.ReadImageJobs(*input)
	if errors.Is(err, storage.ErrInputNotFound) {
		logger.Error("Input CSV %s not found. Check INPUT_CSV.", *input)
		os.Exit(1)
	}
	if err != nil {
		logger.Error("Failed to read input CSV: %v", err)
		os.Exit(1)
	}
	logger.Info("Loaded %d listings from %s", len(jobs), *input)

	if err := os.MkdirAll(cfg.DownloadDir, 0755); err != nil {
		logger.Error("Failed to create download dir: %v", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	downloader := services.NewDownloader(services.DownloaderOptionsFromConfig(cfg), nil, logger)
	results := downloader.Run(ctx, jobs)

	analysis := services.NewAnalysisService(logger, nil)
	listings := analysis.Listings(results)
	summary := analysis.Summarize(results, time.Now())

	if err := storage.WriteJSON(cfg.ListingsJSON, listings); err != nil {
		logger.Error("Failed to write listings JSON: %v", err)
	} else {
		logger.Info("%d listings with local images saved to %s", len(listings), cfg.ListingsJSON)
	}
	if err := storage.WriteJSON(cfg.AnalysisJSON, summary); err != nil {
		logger.Error("Failed to write analysis JSON: %v", err)
	} else {
		logger.Info("Analysis saved to %s", cfg.AnalysisJSON)
	}

	analysis.Print(summary, listings)
}
