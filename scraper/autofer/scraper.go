package autofer

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"car-listings-toolkit/config"
	"car-listings-toolkit/models"
	"car-listings-toolkit/services"
	"car-listings-toolkit/utils"
)

const (
	userAgent      = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	acceptLanguage = "es-ES,es;q=0.9,en;q=0.5"
)

// Scraper visits dealer detail pages and turns them into RawListings.
type Scraper struct {
	cfg    *config.Config
	logger *utils.Logger
	retry  *utils.RetryConfig
}

// New creates a ready-to-use Scraper.
func New(cfg *config.Config, logger *utils.Logger) *Scraper {
	return &Scraper{
		cfg:    cfg,
		logger: logger,
		retry: &utils.RetryConfig{
			MaxAttempts: cfg.MaxRetries,
			BaseDelay:   cfg.RetryDelay,
			Backoff:     utils.Exponential,
			Logger:      logger,
		},
	}
}

// Scrape visits every URL once and returns one record per unique URL, in
// input order. Pages that fail produce a record carrying the error. The
// browser is used unless static mode was requested or no Chrome binary can be
// found.
func (s *Scraper) Scrape(ctx context.Context, urls []string) ([]*models.RawListing, error) {
	urls = Dedupe(urls)
	s.logger.Info("[autofer] Starting scrape of %d URLs (mode: %s)", len(urls), s.cfg.ScraperMode)

	if s.cfg.ScraperMode == "static" {
		return s.scrapeStatic(urls), nil
	}

	chromeBin := findChromeBinary(s.cfg.ChromeBin)
	if chromeBin == "" {
		s.logger.Warn("[autofer] No Chrome binary found, falling back to static mode")
		return s.scrapeStatic(urls), nil
	}
	s.logger.Info("[autofer] Using browser binary: %s", chromeBin)
	return s.scrapeBrowser(ctx, chromeBin, urls)
}

func (s *Scraper) scrapeBrowser(ctx context.Context, chromeBin string, urls []string) ([]*models.RawListing, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.UserAgent(userAgent),
		chromedp.ExecPath(chromeBin),
	)

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	// One tab is reused for every page.
	tabCtx, cancelTab := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(string, ...any) {}))
	defer cancelTab()

	err := chromedp.Run(tabCtx,
		network.Enable(),
		network.SetExtraHTTPHeaders(network.Headers{"Accept-Language": acceptLanguage}),
	)
	if err != nil {
		return nil, fmt.Errorf("autofer: start browser: %w", err)
	}

	listings := make([]*models.RawListing, 0, len(urls))
	for i, u := range urls {
		if ctx.Err() != nil {
			s.logger.Warn("[autofer] Scrape interrupted after %d of %d URLs", i, len(urls))
			break
		}
		s.logger.Info("[autofer] (%d/%d) %s", i+1, len(urls), u)
		listing := s.scrapePage(tabCtx, u)
		s.logListing(listing)
		listings = append(listings, listing)

		if i < len(urls)-1 && s.cfg.RateLimitMs > 0 {
			time.Sleep(time.Duration(s.cfg.RateLimitMs) * time.Millisecond)
		}
	}

	s.logger.Info("[autofer] Scrape complete, %d records", len(listings))
	return listings, nil
}

func (s *Scraper) scrapePage(tabCtx context.Context, url string) *models.RawListing {
	var html string
	var images []string

	err := s.retry.Do(tabCtx, "scrape "+url, func() error {
		ctx, cancel := context.WithTimeout(tabCtx, s.cfg.PageTimeout)
		defer cancel()

		var err error
		html, images, err = s.capture(ctx, url)
		return err
	})
	if err != nil {
		s.logger.Error("[autofer] %v", err)
		return services.FailedListing(url, err)
	}

	listing, err := services.Extract(html, url, images)
	if err != nil {
		s.logger.Error("[autofer] Extract %s: %v", url, err)
		return services.FailedListing(url, err)
	}
	return listing
}

func (s *Scraper) logListing(l *models.RawListing) {
	if l.Error != "" {
		return
	}
	s.logger.Info("[autofer] %s %s | %s km | %s | %d images",
		orNA(l.Field(models.FieldBrand)), orNA(l.Field(models.FieldModel)),
		orNA(l.Field(models.FieldKilometros)), orNA(l.Field(models.FieldRegistrationYear)), len(l.Images))
}

func orNA(s string) string {
	if s == "" {
		return models.NotAvailable
	}
	return s
}

// findChromeBinary locates Chrome/Chromium, preferring the configured path.
func findChromeBinary(configured string) string {
	if configured != "" {
		return configured
	}

	names := []string{"google-chrome-stable", "google-chrome", "chromium", "chromium-browser"}
	for _, name := range names {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}

	paths := []string{
		"/usr/bin/google-chrome-stable",
		"/usr/bin/google-chrome",
		"/usr/bin/chromium-browser",
		"/usr/bin/chromium",
		"/snap/bin/chromium",
		"/opt/google/chrome/google-chrome",
		"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return ""
}
