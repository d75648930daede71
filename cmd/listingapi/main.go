package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"car-listings-toolkit/api"
	"car-listings-toolkit/config"
	"car-listings-toolkit/utils"
)

func main() {
	cfg := config.Load()

	addr := flag.String("addr", cfg.APIAddr, "HTTP bind address")
	listings := flag.String("listings", cfg.ListingsJSON, "listings JSON written by imagedl")
	analysis := flag.String("analysis", cfg.AnalysisJSON, "analysis JSON written by imagedl")
	images := flag.String("images", cfg.DownloadDir, "directory holding <guid>/<image> files")
	debug := flag.Bool("debug", cfg.Debug(), "enable debug logging")
	flag.Parse()

	logger := utils.NewFileLogger(cfg.LogFile).SetDebug(*debug)

	store := api.LoadStore(*listings, *analysis, logger)
	srv := api.NewServer(store, *images, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.ListenAndServe(ctx, *addr); err != nil {
		logger.Error("Server error: %v", err)
		os.Exit(1)
	}
}
