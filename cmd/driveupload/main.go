package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"car-listings-toolkit/config"
	"car-listings-toolkit/gcp"
	"car-listings-toolkit/services"
	"car-listings-toolkit/utils"
)

func main() {
	cfg := config.Load()

	dir := flag.String("dir", cfg.DownloadDir, "directory holding <guid>/<image> files")
	folder := flag.String("folder", cfg.MainDriveFolderName, "Drive folder that receives one subfolder per listing")
	parent := flag.String("parent", cfg.DriveParentFolderID, "optional Drive folder id to create the main folder in")
	debug := flag.Bool("debug", cfg.Debug(), "enable debug logging")
	flag.Parse()

	logger := utils.NewFileLogger(cfg.LogFile).SetDebug(*debug)
	logger.Info("=== Drive Uploader starting ===")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts, err := gcp.ClientOptions(ctx, gcp.AuthConfig{
		ServiceAccountFile:   cfg.ServiceAccountFile,
		OAuthCredentialsFile: cfg.OAuthCredentialsFile,
		TokenFile:            cfg.OAuthTokenFile,
		Scopes:               gcp.DriveScopes,
		Prompt:               os.Stdin,
		Logger:               logger,
	})
	if errors.Is(err, gcp.ErrMissingCredentials) {
		logger.Error("%v. Download the OAuth client credentials from the Google Cloud Console.", err)
		os.Exit(1)
	}
	if err != nil {
		logger.Error("Google authentication failed: %v", err)
		os.Exit(1)
	}

	drive, err := gcp.NewDrive(ctx, opts...)
	if err != nil {
		logger.Error("%v", err)
		os.Exit(1)
	}

	uploader := services.NewUploader(drive, cfg.MaxRetries, cfg.RetryDelay, cfg.MaxConcurrency, cfg.RateLimitMs, logger)
	report, err := uploader.Mirror(ctx, *dir, *folder, *parent)
	if err != nil {
		logger.Error("Upload aborted: %v", err)
	}

	fmt.Printf("\n  Done. %d listings | %d images uploaded | %d failed | %d listings without folder\n\n",
		report.Listings, report.Uploaded, report.Failed, report.FailedListings)
	if err != nil || report.Failed > 0 {
		os.Exit(1)
	}
}
