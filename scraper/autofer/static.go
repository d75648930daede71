package autofer

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gocolly/colly"

	"car-listings-toolkit/models"
	"car-listings-toolkit/services"
)

const (
	ctxURLKey     = "original_url"
	ctxAttemptKey = "attempt"
)

// scrapeStatic fetches pages without a browser. Images come from the gallery
// markup already present in the HTML.
func (s *Scraper) scrapeStatic(urls []string) []*models.RawListing {
	var mu sync.Mutex
	byURL := make(map[string]*models.RawListing, len(urls))
	store := func(u string, l *models.RawListing) {
		mu.Lock()
		byURL[u] = l
		mu.Unlock()
	}

	c := colly.NewCollector(
		colly.Async(true),
		colly.UserAgent(userAgent),
		colly.IgnoreRobotsTxt(),
	)
	c.SetRequestTimeout(s.cfg.PageTimeout)
	parallelism := s.cfg.MaxConcurrency
	if parallelism < 1 {
		parallelism = 1
	}
	c.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: parallelism,
		Delay:       time.Duration(s.cfg.RateLimitMs) * time.Millisecond,
	})

	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept-Language", acceptLanguage)
		s.logger.Debug("[autofer] Fetching %s", r.URL)
	})

	c.OnResponse(func(r *colly.Response) {
		u := r.Ctx.Get(ctxURLKey)
		html := string(r.Body)
		listing, err := services.Extract(html, u, services.CarouselImages(html))
		if err != nil {
			s.logger.Error("[autofer] Extract %s: %v", u, err)
			listing = services.FailedListing(u, err)
		}
		s.logListing(listing)
		store(u, listing)
	})

	c.OnError(func(r *colly.Response, err error) {
		u := r.Ctx.Get(ctxURLKey)
		attempt, _ := r.Ctx.GetAny(ctxAttemptKey).(int)
		if attempt < s.retry.MaxAttempts {
			s.logger.Warn("[retry] fetch %s failed (attempt %d/%d): %v", u, attempt, s.retry.MaxAttempts, err)
			r.Ctx.Put(ctxAttemptKey, attempt+1)
			time.Sleep(s.retry.BaseDelay * time.Duration(attempt))
			if rerr := r.Request.Retry(); rerr == nil {
				return
			}
		}
		s.logger.Error("[autofer] Fetch %s failed: %v", u, err)
		store(u, services.FailedListing(u, fmt.Errorf("fetch %s: %w", u, err)))
	})

	for _, u := range urls {
		ctx := colly.NewContext()
		ctx.Put(ctxURLKey, u)
		ctx.Put(ctxAttemptKey, 1)
		if err := c.Request(http.MethodGet, u, nil, ctx, nil); err != nil {
			store(u, services.FailedListing(u, fmt.Errorf("fetch %s: %w", u, err)))
		}
	}
	c.Wait()

	listings := make([]*models.RawListing, 0, len(urls))
	for _, u := range urls {
		if l, ok := byURL[u]; ok {
			listings = append(listings, l)
		}
	}
	s.logger.Info("[autofer] Static scrape complete, %d records", len(listings))
	return listings
}
