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
	"car-listings-toolkit/gcp"
	"car-listings-toolkit/services"
	"car-listings-toolkit/utils"
)

func main() {
	cfg := config.Load()

	localDir := flag.String("local", cfg.HDRLocalDir, "classify JPEGs under this directory instead of the spreadsheet folders")
	spreadsheet := flag.String("spreadsheet", cfg.SpreadsheetID, "spreadsheet id holding one Drive folder URL per row")
	sheetName := flag.String("sheet", cfg.SheetName, "sheet (tab) name")
	workers := flag.Int("workers", cfg.HDRWorkers, "images processed in parallel per folder")
	debug := flag.Bool("debug", cfg.Debug(), "enable debug logging")
	flag.Parse()

	logger := utils.NewFileLogger(cfg.LogFile).SetDebug(*debug)
	logger.Info("=== HDR Classifier starting ===")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *localDir != "" {
		code := runLocal(ctx, *localDir, *workers, logger)
		stop()
		os.Exit(code)
	}

	if *spreadsheet == "" {
		logger.Error("SPREADSHEET_ID is not set. Use -spreadsheet or -local.")
		os.Exit(1)
	}

	opts, err := gcp.ClientOptions(ctx, gcp.AuthConfig{
		ServiceAccountFile:   cfg.ServiceAccountFile,
		OAuthCredentialsFile: cfg.OAuthCredentialsFile,
		TokenFile:            cfg.OAuthTokenFile,
		Scopes:               gcp.SheetScopes,
		Prompt:               os.Stdin,
		Logger:               logger,
	})
	if errors.Is(err, gcp.ErrMissingCredentials) {
		logger.Error("%v. Set GOOGLE_SERVICE_ACCOUNT_FILE or provide OAuth credentials.", err)
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
	sheet, err := gcp.NewSheet(ctx, *spreadsheet, *sheetName, opts...)
	if err != nil {
		logger.Error("%v", err)
		os.Exit(1)
	}

	start := time.Now()
	workflow := services.NewHDRWorkflow(drive, sheet, services.DetectHDR, services.HDRWorkflowOptions{
		Workers:          *workers,
		TempDir:          cfg.TempDir,
		URLColumn:        cfg.URLColumnIndex,
		ResultColumn:     cfg.ResultColumnIndex,
		StartRow:         cfg.StartRow,
		DownloadAttempts: cfg.MaxRetries,
		RetryDelay:       cfg.HDRRetryDelay,
	}, logger)
	if err := workflow.Run(ctx); err != nil {
		logger.Error("HDR workflow failed: %v", err)
		os.Exit(1)
	}
	logger.Info("Finished in %s", time.Since(start).Round(time.Second))
}

func runLocal(ctx context.Context, dir string, workers int, logger *utils.Logger) int {
	results, verdict, err := services.ClassifyLocalDir(ctx, dir, workers, services.DetectHDR)
	if err != nil {
		logger.Error("%v", err)
		return 1
	}
	for _, r := range results {
		label := "No HDR"
		if r.Verdict.IsHDR {
			label = "HDR"
		}
		fmt.Printf("%-7s %s\n        %s\n", label, r.Path, r.Verdict.Reason)
	}
	fmt.Printf("\n%s\n", verdict.Summary())
	return 0
}
