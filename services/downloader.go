package services

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"car-listings-toolkit/config"
	"car-listings-toolkit/models"
	"car-listings-toolkit/storage"
	"car-listings-toolkit/utils"
)

// imageAccept prefers JPEG, then PNG, then any image.
const imageAccept = "image/jpeg,image/png,image/*;q=0.8,*/*;q=0.5"

// rewrittenExtensions are replaced by .jpg so the CDN serves a JPEG.
var rewrittenExtensions = map[string]bool{"png": true, "gif": true, "webp": true, "avif": true}

// DownloaderOptions controls the image downloader.
type DownloaderOptions struct {
	Dir          string
	MaxImages    int
	MinSizeBytes int64
	UserAgent    string
	Timeout      time.Duration
	MaxRetries   int
	RetryDelay   time.Duration
	Concurrency  int
	RateLimitMs  int
}

// DownloaderOptionsFromConfig picks the downloader settings out of cfg.
func DownloaderOptionsFromConfig(cfg *config.Config) DownloaderOptions {
	return DownloaderOptions{
		Dir:          cfg.DownloadDir,
		MaxImages:    cfg.MaxImagesPerCar,
		MinSizeBytes: cfg.MinSizeBytes,
		UserAgent:    cfg.DownloadUserAgent,
		Timeout:      cfg.DownloadTimeout,
		MaxRetries:   cfg.MaxRetries,
		RetryDelay:   cfg.RetryDelay,
		Concurrency:  cfg.MaxConcurrency,
		RateLimitMs:  cfg.RateLimitMs,
	}
}

// ListingResult is the outcome of downloading one listing's images.
type ListingResult struct {
	Job    storage.ImageJob
	Images []models.ImageMeta
	Errors []string
}

// Succeeded reports whether at least one image is stored for the listing.
func (r *ListingResult) Succeeded() bool { return len(r.Images) > 0 }

// Downloader fetches listing images and stores them as normalised JPEGs.
type Downloader struct {
	opts   DownloaderOptions
	client *http.Client
	retry  utils.RetryConfig
	logger *utils.Logger
}

// NewDownloader creates a Downloader. A nil client gets one with opts.Timeout.
func NewDownloader(opts DownloaderOptions, client *http.Client, logger *utils.Logger) *Downloader {
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	logger = logger.With("downloader")
	return &Downloader{
		opts:   opts,
		client: client,
		retry: utils.RetryConfig{
			MaxAttempts: opts.MaxRetries,
			BaseDelay:   opts.RetryDelay,
			Backoff:     utils.Constant,
			Logger:      logger,
		},
		logger: logger,
	}
}

// Run processes every job on the worker pool. Results keep the input order.
func (d *Downloader) Run(ctx context.Context, jobs []storage.ImageJob) []ListingResult {
	results := make([]ListingResult, len(jobs))
	pool := utils.NewWorkerPool(d.opts.Concurrency, d.opts.RateLimitMs)

	d.logger.Info("Processing %d listings with %d workers", len(jobs), pool.Size())
	for i, job := range jobs {
		pool.Submit(func() {
			results[i] = d.ProcessListing(ctx, job)
		})
	}
	pool.Wait()
	return results
}

// ProcessListing downloads up to MaxImages images of one listing into
// <Dir>/<guid>/x<i>.jpg. Valid files already on disk are reused.
func (d *Downloader) ProcessListing(ctx context.Context, job storage.ImageJob) ListingResult {
	res := ListingResult{Job: job}

	if job.GUID == "" {
		res.Errors = append(res.Errors, "listing has no guid_anuncio")
		d.logger.Warn("Skipping row without guid")
		return res
	}
	if len(job.URLs) == 0 {
		d.logger.Warn("Listing %s: no image URLs, skipping", job.GUID)
		return res
	}

	dir := filepath.Join(d.opts.Dir, job.GUID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("create directory %s: %v", dir, err))
		return res
	}

	d.logger.Debug("Listing %s: %d image URLs", job.GUID, len(job.URLs))
	for i, u := range job.URLs {
		if d.opts.MaxImages > 0 && len(res.Images) >= d.opts.MaxImages {
			d.logger.Info("Listing %s: limit of %d images reached", job.GUID, d.opts.MaxImages)
			break
		}
		if ctx.Err() != nil {
			res.Errors = append(res.Errors, ctx.Err().Error())
			break
		}

		dest := filepath.Join(dir, fmt.Sprintf("x%d.jpg", i+1))
		if meta, ok := d.reuseExisting(u, dest); ok {
			res.Images = append(res.Images, meta)
			continue
		}

		meta, errs := d.download(ctx, u, dest)
		res.Errors = append(res.Errors, errs...)
		if meta != nil {
			res.Images = append(res.Images, *meta)
		}
	}

	if !res.Succeeded() {
		d.logger.Warn("Listing %s: no image could be downloaded", job.GUID)
	}
	return res
}

func (d *Downloader) reuseExisting(originalURL, dest string) (models.ImageMeta, bool) {
	info, err := os.Stat(dest)
	if err != nil || info.Size() <= d.opts.MinSizeBytes {
		return models.ImageMeta{}, false
	}

	f, err := os.Open(dest)
	if err != nil {
		return models.ImageMeta{}, false
	}
	cfg, _, err := image.DecodeConfig(f)
	f.Close()
	if err != nil {
		d.logger.Warn("Existing image %s is unreadable (%v), downloading again", dest, err)
		_ = os.Remove(dest)
		return models.ImageMeta{}, false
	}

	d.logger.Debug("Image %s already exists, skipping download", filepath.Base(dest))
	return models.ImageMeta{
		OriginalURL: originalURL,
		LocalPath:   dest,
		SizeBytes:   info.Size(),
		Width:       cfg.Width,
		Height:      cfg.Height,
	}, true
}

// download fetches one image with retries. Every failed attempt contributes
// an error string.
func (d *Downloader) download(ctx context.Context, originalURL, dest string) (*models.ImageMeta, []string) {
	target := AdjustImageURL(originalURL)
	var errs []string
	var meta *models.ImageMeta

	err := d.retry.Do(ctx, "download "+target, func() error {
		body, err := d.fetch(ctx, target)
		if err != nil {
			errs = append(errs, fmt.Sprintf("network or HTTP error downloading %s: %v", target, err))
			return err
		}

		w, h, size, err := SaveAsJPEG(body, dest)
		if err != nil {
			errs = append(errs, fmt.Sprintf("could not decode image from %s: %v", target, err))
			return utils.Permanent(err)
		}
		if size < d.opts.MinSizeBytes {
			d.logger.Warn("Image %s is very small (%d bytes), it may not be a vehicle photo",
				filepath.Base(dest), size)
		}

		meta = &models.ImageMeta{
			OriginalURL: originalURL,
			LocalPath:   dest,
			SizeBytes:   size,
			Width:       w,
			Height:      h,
		}
		return nil
	})
	if err != nil {
		d.logger.Error("%v", err)
	}
	return meta, errs
}

func (d *Downloader) fetch(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, utils.Permanent(err)
	}
	req.Header.Set("User-Agent", d.opts.UserAgent)
	req.Header.Set("Accept", imageAccept)

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	return io.ReadAll(resp.Body)
}

// AdjustImageURL asks the CDN for a JPEG: png/gif/webp/avif extensions are
// replaced by .jpg and a last segment without .jpg gets it appended.
func AdjustImageURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}

	dir, last := path.Split(u.Path)
	if i := strings.LastIndex(last, "."); i >= 0 && rewrittenExtensions[strings.ToLower(last[i+1:])] {
		u.Path = dir + last[:i] + ".jpg"
	} else if !strings.HasSuffix(last, ".jpg") {
		u.Path += ".jpg"
	}
	u.RawPath = ""
	return u.String()
}

// SaveAsJPEG decodes JPEG, PNG, GIF or WebP bytes and writes them to dest as
// a JPEG. Images with alpha, palettes or CMYK are flattened onto white first.
// It returns the dimensions and the size of the written file.
func SaveAsJPEG(data []byte, dest string) (width, height int, size int64, err error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return 0, 0, 0, err
	}

	f, err := os.Create(dest)
	if err != nil {
		return 0, 0, 0, err
	}
	if err := jpeg.Encode(f, flatten(img), &jpeg.Options{Quality: 90}); err != nil {
		f.Close()
		_ = os.Remove(dest)
		return 0, 0, 0, err
	}
	if err := f.Close(); err != nil {
		return 0, 0, 0, err
	}

	info, err := os.Stat(dest)
	if err != nil {
		return 0, 0, 0, err
	}
	b := img.Bounds()
	return b.Dx(), b.Dy(), info.Size(), nil
}

func flatten(img image.Image) image.Image {
	switch img.(type) {
	case *image.YCbCr, *image.Gray:
		return img
	}
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Over)
	return dst
}
