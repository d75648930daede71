package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"car-listings-toolkit/gcp"
	"car-listings-toolkit/utils"
)

// DriveTarget is where the uploader mirrors listing folders.
type DriveTarget interface {
	EnsureFolder(ctx context.Context, name, parentID string) (string, error)
	UploadFile(ctx context.Context, path, folderID string) (gcp.UploadedFile, error)
	FindFile(ctx context.Context, name, folderID string) (gcp.UploadedFile, bool, error)
}

// UploadReport counts the outcome of a mirror run.
type UploadReport struct {
	Listings       int
	Uploaded       int
	Failed         int
	FailedListings int
	Links          map[string][]string // guid -> webViewLinks
}

// Uploader mirrors <dir>/<guid>/*.jpg into <main folder>/<guid>/ on Drive.
type Uploader struct {
	target      DriveTarget
	retry       utils.RetryConfig
	concurrency int
	rateLimitMs int
	logger      *utils.Logger
}

// NewUploader creates an Uploader. Uploads inside one listing run on up to
// concurrency workers.
func NewUploader(target DriveTarget, attempts int, delay time.Duration, concurrency, rateLimitMs int, logger *utils.Logger) *Uploader {
	logger = logger.With("drive")
	return &Uploader{
		target: target,
		retry: utils.RetryConfig{
			MaxAttempts: attempts,
			BaseDelay:   delay,
			Backoff:     utils.Exponential,
			Logger:      logger,
		},
		concurrency: concurrency,
		rateLimitMs: rateLimitMs,
		logger:      logger,
	}
}

// Mirror uploads every listing directory under localDir. Failing to create the
// main folder aborts the run; any other failure is counted and skipped.
func (u *Uploader) Mirror(ctx context.Context, localDir, mainFolder, parentID string) (UploadReport, error) {
	report := UploadReport{Links: make(map[string][]string)}

	entries, err := os.ReadDir(localDir)
	if err != nil {
		return report, fmt.Errorf("uploader: read %s: %w", localDir, err)
	}

	mainID, err := u.ensureFolder(ctx, mainFolder, parentID)
	if err != nil {
		return report, fmt.Errorf("uploader: main folder %q: %w", mainFolder, err)
	}
	u.logger.Info("Main folder %q ready (ID: %s)", mainFolder, mainID)

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		guid := e.Name()
		files, err := listJPEGs(filepath.Join(localDir, guid))
		if err != nil || len(files) == 0 {
			u.logger.Debug("Listing %s: no images, skipping", guid)
			continue
		}
		report.Listings++

		folderID, err := u.ensureFolder(ctx, guid, mainID)
		if err != nil {
			u.logger.Error("Listing %s: folder: %v", guid, err)
			report.FailedListings++
			report.Failed += len(files)
			continue
		}

		links, failed := u.uploadAll(ctx, guid, folderID, files)
		report.Uploaded += len(links)
		report.Failed += failed
		if len(links) > 0 {
			report.Links[guid] = links
		}
		u.logger.Info("Listing %s: %d uploaded, %d failed", guid, len(links), failed)
	}
	return report, nil
}

func (u *Uploader) ensureFolder(ctx context.Context, name, parentID string) (string, error) {
	var id string
	err := u.retry.Do(ctx, "folder "+name, func() error {
		var err error
		id, err = u.target.EnsureFolder(ctx, name, parentID)
		return permanentIfDenied(err)
	})
	return id, err
}

// uploadAll returns the links of the uploaded files in file order and the
// number of failures.
func (u *Uploader) uploadAll(ctx context.Context, guid, folderID string, files []string) ([]string, int) {
	links := make([]string, len(files))
	var mu sync.Mutex
	failed := 0

	pool := utils.NewWorkerPool(u.concurrency, u.rateLimitMs)
	for i, path := range files {
		pool.Submit(func() {
			up, err := u.uploadOnce(ctx, path, folderID)
			if err != nil {
				u.logger.Error("Listing %s: %v", guid, err)
				mu.Lock()
				failed++
				mu.Unlock()
				return
			}
			links[i] = up.WebViewLink
			if links[i] == "" {
				links[i] = up.ID
			}
		})
	}
	pool.Wait()

	out := links[:0]
	for _, l := range links {
		if l != "" {
			out = append(out, l)
		}
	}
	return out, failed
}

// uploadOnce retries an upload without duplicating it: a create can succeed
// on Drive even when the response is lost, so every retry first looks for a
// file of the same name in the folder.
func (u *Uploader) uploadOnce(ctx context.Context, path, folderID string) (gcp.UploadedFile, error) {
	name := filepath.Base(path)
	var up gcp.UploadedFile
	attempt := 0
	err := u.retry.Do(ctx, "upload "+name, func() error {
		attempt++
		if attempt > 1 {
			existing, found, err := u.target.FindFile(ctx, name, folderID)
			if err != nil {
				return permanentIfDenied(err)
			}
			if found {
				u.logger.Debug("%s already in folder %s, not uploading again", name, folderID)
				up = existing
				return nil
			}
		}
		var err error
		up, err = u.target.UploadFile(ctx, path, folderID)
		return permanentIfDenied(err)
	})
	return up, err
}

func permanentIfDenied(err error) error {
	if errors.Is(err, gcp.ErrPermissionDenied) {
		return utils.Permanent(err)
	}
	return err
}

func listJPEGs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if !e.IsDir() && (ext == ".jpg" || ext == ".jpeg") {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	return files, nil
}
