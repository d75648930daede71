package services

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"car-listings-toolkit/gcp"
	"car-listings-toolkit/models"
	"car-listings-toolkit/utils"
)

// FolderSource lists and fetches the images of a remote folder.
type FolderSource interface {
	ListImages(ctx context.Context, folderID string) ([]models.DriveFile, error)
	Download(ctx context.Context, fileID, dest string) error
}

// ResultSheet is the spreadsheet holding one folder URL per row.
type ResultSheet interface {
	RowCount(ctx context.Context) (int, error)
	Rows(ctx context.Context, fromRow, toRow, lastColumn int) ([][]string, error)
	Cell(ctx context.Context, row, col int) (string, error)
	UpdateCell(ctx context.Context, row, col int, value string) error
}

// HDRWorkflowOptions configures the folder classifier. Column indexes are
// 0-based, rows 1-based.
type HDRWorkflowOptions struct {
	Workers          int
	TempDir          string
	URLColumn        int
	ResultColumn     int
	StartRow         int
	DownloadAttempts int
	RetryDelay       time.Duration
}

// HDRWorkflow classifies every image of the Drive folders listed in a sheet
// and writes one summary per row.
type HDRWorkflow struct {
	source FolderSource
	sheet  ResultSheet
	detect DetectFunc
	opts   HDRWorkflowOptions
	logger *utils.Logger
}

// NewHDRWorkflow wires the workflow. A nil detect uses DetectHDR.
func NewHDRWorkflow(source FolderSource, sheet ResultSheet, detect DetectFunc, opts HDRWorkflowOptions, logger *utils.Logger) *HDRWorkflow {
	if detect == nil {
		detect = DetectHDR
	}
	if opts.Workers < 1 {
		opts.Workers = 8
	}
	if opts.DownloadAttempts < 1 {
		opts.DownloadAttempts = 3
	}
	if opts.StartRow < 1 {
		opts.StartRow = 2
	}
	return &HDRWorkflow{
		source: source,
		sheet:  sheet,
		detect: detect,
		opts:   opts,
		logger: logger.With("hdr"),
	}
}

// Run processes rows StartRow..rowCount. Failures on single rows are logged
// and do not stop the run.
func (w *HDRWorkflow) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.opts.TempDir, 0755); err != nil {
		return fmt.Errorf("hdr: create temp dir: %w", err)
	}
	defer w.cleanupTempDir()

	w.ensureHeader(ctx)

	total, err := w.sheet.RowCount(ctx)
	if err != nil {
		return fmt.Errorf("hdr: row count: %w", err)
	}
	if total < w.opts.StartRow {
		w.logger.Warn("Sheet has %d rows, nothing to do from row %d", total, w.opts.StartRow)
		return nil
	}

	rows, err := w.sheet.Rows(ctx, w.opts.StartRow, total, w.opts.URLColumn)
	if err != nil {
		return fmt.Errorf("hdr: read rows: %w", err)
	}
	if len(rows) == 0 {
		w.logger.Warn("No data between rows %d and %d", w.opts.StartRow, total)
		return nil
	}

	w.logger.Info("Analysing %d rows starting at row %d", len(rows), w.opts.StartRow)
	for i, row := range rows {
		if err := ctx.Err(); err != nil {
			return err
		}
		rowNumber := w.opts.StartRow + i

		var folderURL string
		if len(row) > w.opts.URLColumn {
			folderURL = strings.TrimSpace(row[w.opts.URLColumn])
		}

		summary := w.SummarizeFolderURL(ctx, folderURL)
		w.logger.Info("Row %d: %s", rowNumber, summary)

		if err := w.sheet.UpdateCell(ctx, rowNumber, w.opts.ResultColumn+1, summary); err != nil {
			w.logger.Error("Row %d: sheet update failed: %v", rowNumber, err)
		}
	}

	w.logger.Info("Folder analysis finished")
	return nil
}

func (w *HDRWorkflow) ensureHeader(ctx context.Context) {
	col := w.opts.ResultColumn + 1
	header, err := w.sheet.Cell(ctx, 1, col)
	if err != nil {
		w.logger.Error("Could not read result header: %v", err)
		return
	}
	if strings.TrimSpace(header) != "" {
		return
	}
	if err := w.sheet.UpdateCell(ctx, 1, col, models.ResultColumnHeader); err != nil {
		w.logger.Error("Could not write result header: %v", err)
		return
	}
	w.logger.Info("Result column header set")
}

func (w *HDRWorkflow) cleanupTempDir() {
	entries, err := os.ReadDir(w.opts.TempDir)
	if err != nil {
		return
	}
	if len(entries) > 0 {
		w.logger.Warn("Temp dir %s still holds %d files", w.opts.TempDir, len(entries))
		return
	}
	if err := os.Remove(w.opts.TempDir); err == nil {
		w.logger.Debug("Temp dir %s removed", w.opts.TempDir)
	}
}

// SummarizeFolderURL returns the cell text for one row.
func (w *HDRWorkflow) SummarizeFolderURL(ctx context.Context, folderURL string) string {
	if folderURL == "" {
		return models.SummaryNoURL
	}
	folderID := FolderIDFromURL(folderURL)
	if folderID == "" {
		return models.SummaryNoFolderID
	}

	files, err := w.source.ListImages(ctx, folderID)
	if err != nil {
		w.logger.Error("Listing folder %s: %v", folderID, err)
		if errors.Is(err, gcp.ErrPermissionDenied) {
			w.logger.Error("Check that the credentials can read folder %s", folderID)
		}
	}
	if len(files) == 0 {
		return models.SummaryEmptyFolder
	}

	w.logger.Info("Folder %s: %d images, %d workers", folderID, len(files), w.opts.Workers)
	return w.ClassifyFolder(ctx, folderID, files).Summary()
}

// FolderIDFromURL extracts the id that follows /folders/ in a Drive URL.
func FolderIDFromURL(u string) string {
	_, rest, ok := strings.Cut(u, "/folders/")
	if !ok {
		return ""
	}
	if i := strings.IndexAny(rest, "?/"); i >= 0 {
		rest = rest[:i]
	}
	return rest
}

type imageOutcome int

const (
	outcomeFailed imageOutcome = iota
	outcomeHDR
	outcomeNonHDR
)

// ClassifyFolder downloads and classifies files with at most Workers in
// flight. Outcomes are tallied as they complete.
func (w *HDRWorkflow) ClassifyFolder(ctx context.Context, folderID string, files []models.DriveFile) models.FolderVerdict {
	outcomes := make(chan imageOutcome, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.opts.Workers)
	for _, f := range files {
		g.Go(func() error {
			outcomes <- w.processImage(gctx, folderID, f)
			return nil
		})
	}
	_ = g.Wait()
	close(outcomes)

	var v models.FolderVerdict
	for o := range outcomes {
		switch o {
		case outcomeHDR:
			v.HDR++
		case outcomeNonHDR:
			v.NonHDR++
		default:
			v.Failed++
		}
	}
	return v
}

// processImage removes its temp file on every path.
func (w *HDRWorkflow) processImage(ctx context.Context, folderID string, f models.DriveFile) imageOutcome {
	name := filepath.Base(strings.ReplaceAll(f.Name, string(os.PathSeparator), "_"))
	dest := filepath.Join(w.opts.TempDir, fmt.Sprintf("drive_img_%s_%s_%s", folderID, f.ID, name))
	defer func() {
		if err := os.Remove(dest); err != nil && !errors.Is(err, fs.ErrNotExist) {
			w.logger.Warn("Could not remove temp file %s: %v", dest, err)
		}
	}()

	retry := utils.RetryConfig{
		MaxAttempts: w.opts.DownloadAttempts,
		BaseDelay:   w.opts.RetryDelay,
		Backoff:     utils.Linear,
		Logger:      w.logger,
	}
	err := retry.Do(ctx, "download "+f.Name, func() error {
		err := w.source.Download(ctx, f.ID, dest)
		if errors.Is(err, gcp.ErrPermissionDenied) {
			return utils.Permanent(err)
		}
		return err
	})
	if err != nil {
		w.logger.Error("Image %s (%s): %v", f.Name, f.ID, err)
		return outcomeFailed
	}

	verdict := w.detect(dest)
	w.logger.Debug("Image %s: HDR=%v (%s)", f.Name, verdict.IsHDR, verdict.Reason)
	if verdict.IsHDR {
		return outcomeHDR
	}
	return outcomeNonHDR
}

// LocalVerdict is the classification of one file in local mode.
type LocalVerdict struct {
	Path    string
	Verdict models.HDRVerdict
}

// ClassifyLocalDir classifies every JPEG under dir with at most workers in
// flight. Results follow the lexical walk order.
func ClassifyLocalDir(ctx context.Context, dir string, workers int, detect DetectFunc) ([]LocalVerdict, models.FolderVerdict, error) {
	if detect == nil {
		detect = DetectHDR
	}
	if workers < 1 {
		workers = 8
	}

	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		ext := strings.ToLower(filepath.Ext(path))
		if !d.IsDir() && (ext == ".jpg" || ext == ".jpeg") {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, models.FolderVerdict{}, fmt.Errorf("hdr: walk %s: %w", dir, err)
	}

	results := make([]LocalVerdict, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, p := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = LocalVerdict{Path: p, Verdict: detect(p)}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, models.FolderVerdict{}, err
	}

	var v models.FolderVerdict
	for _, r := range results {
		if r.Verdict.IsHDR {
			v.HDR++
		} else {
			v.NonHDR++
		}
	}
	return results, v, nil
}
