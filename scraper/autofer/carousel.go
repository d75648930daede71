package autofer

import (
	"context"
	"regexp"
	"strconv"
	"time"

	"github.com/chromedp/chromedp"

	"car-listings-toolkit/utils"
)

const (
	imageSelector  = "img.lg-object.lg-image"
	gallerySettle  = 500 * time.Millisecond
	galleryTimeout = 5 * time.Second
)

var imageCountRegexp = regexp.MustCompile(`(?i)(\d+)\s*imágenes`)

const acceptCookiesJS = `(function() {
	var btn = document.querySelector('button.iubenda-cs-accept-btn');
	if (!btn) {
		var labels = ['aceptar todas', 'entendido', 'aceptar'];
		var buttons = document.querySelectorAll('button');
		for (var l = 0; l < labels.length && !btn; l++) {
			for (var i = 0; i < buttons.length; i++) {
				if ((buttons[i].innerText || '').trim().toLowerCase() === labels[l]) {
					btn = buttons[i];
					break;
				}
			}
		}
	}
	if (!btn) return false;
	var r = btn.getBoundingClientRect();
	if (r.width === 0 || r.height === 0) return false;
	btn.click();
	return true;
})()`

const openGalleryJS = `(function() {
	var buttons = document.querySelectorAll('button');
	for (var i = 0; i < buttons.length; i++) {
		var text = buttons[i].innerText || '';
		if (/\d+\s*imágenes/i.test(text)) {
			var r = buttons[i].getBoundingClientRect();
			if (r.width === 0 || r.height === 0) continue;
			buttons[i].click();
			return text;
		}
	}
	return '';
})()`

const currentImageJS = `(function() {
	var img = document.querySelector('div.lg-item.lg-current img.lg-object.lg-image') ||
	          document.querySelector('img.lg-object.lg-image');
	if (!img) return '';
	var r = img.getBoundingClientRect();
	if (r.width === 0 || r.height === 0) return '';
	return img.getAttribute('src') || '';
})()`

// advanceJS clicks "next" and reports 'clicked', 'disabled' or 'missing'.
const advanceJS = `(function() {
	var btn = document.querySelector('button.lg-next.lg-icon');
	if (!btn) return 'missing';
	var cls = btn.className || '';
	if (btn.disabled || cls.indexOf('lg-disabled') >= 0 || cls.indexOf('lg-next-disabled') >= 0) return 'disabled';
	var r = btn.getBoundingClientRect();
	if (r.width === 0 || r.height === 0) return 'missing';
	btn.click();
	return 'clicked';
})()`

const closeGalleryJS = `(function() {
	var btn = document.querySelector('button.lg-close.lg-icon');
	if (!btn) return false;
	btn.click();
	return true;
})()`

// carouselDriver moves through an open image gallery.
type carouselDriver interface {
	// CurrentImage returns the src of the visible image, or "" when none is.
	CurrentImage(ctx context.Context) (string, error)
	// Advance moves to the next image. It returns false at the end.
	Advance(ctx context.Context) (bool, error)
}

// collectImages walks the gallery from its first image and returns the unique
// srcs in display order. It stops at maxIter steps, when the gallery cannot
// advance, when no image is visible, when a src repeats, or once announced
// images (when > 0) have been seen.
func collectImages(ctx context.Context, d carouselDriver, announced, maxIter int, settle time.Duration, logger *utils.Logger) []string {
	images := []string{}
	seen := make(map[string]bool)

	if src, err := d.CurrentImage(ctx); err == nil && src != "" {
		images = append(images, src)
		seen[src] = true
	}

	for i := 0; i < maxIter; i++ {
		if announced > 0 && len(images) >= announced {
			logger.Debug("[autofer] All %d announced images collected", announced)
			break
		}
		ok, err := d.Advance(ctx)
		if err != nil {
			logger.Debug("[autofer] Gallery advance failed: %v", err)
			break
		}
		if !ok {
			logger.Debug("[autofer] Gallery end reached")
			break
		}

		select {
		case <-ctx.Done():
			return images
		case <-time.After(settle):
		}

		src, err := d.CurrentImage(ctx)
		if err != nil || src == "" {
			logger.Debug("[autofer] No visible image after advancing")
			break
		}
		if seen[src] {
			logger.Debug("[autofer] Image %s already seen, carousel wrapped", src)
			break
		}
		images = append(images, src)
		seen[src] = true
	}
	return images
}

// announcedImages parses the "N imágenes" label of the gallery button.
func announcedImages(label string) int {
	m := imageCountRegexp.FindStringSubmatch(label)
	if m == nil {
		return 0
	}
	n, _ := strconv.Atoi(m[1])
	return n
}

// chromeCarousel drives the LightGallery widget of the current tab.
type chromeCarousel struct{}

func (chromeCarousel) CurrentImage(ctx context.Context) (string, error) {
	var src string
	err := chromedp.Run(ctx, chromedp.Evaluate(currentImageJS, &src))
	return src, err
}

func (chromeCarousel) Advance(ctx context.Context) (bool, error) {
	var state string
	if err := chromedp.Run(ctx, chromedp.Evaluate(advanceJS, &state)); err != nil {
		return false, err
	}
	return state == "clicked", nil
}

// capture loads url in the tab, walks the image gallery and returns the
// final document HTML with the collected image URLs.
func (s *Scraper) capture(ctx context.Context, url string) (string, []string, error) {
	if err := chromedp.Run(ctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return "", nil, err
	}

	var accepted bool
	if err := chromedp.Run(ctx, chromedp.Evaluate(acceptCookiesJS, &accepted)); err != nil {
		s.logger.Debug("[autofer] Cookie banner check failed: %v", err)
	}
	if accepted {
		s.logger.Debug("[autofer] Cookies accepted")
		_ = chromedp.Run(ctx, chromedp.Sleep(time.Second))
	}

	images := []string{}
	var label string
	if err := chromedp.Run(ctx, chromedp.Evaluate(openGalleryJS, &label)); err != nil {
		s.logger.Debug("[autofer] Gallery button lookup failed: %v", err)
	}
	if label == "" {
		s.logger.Debug("[autofer] No gallery button on %s", url)
	} else {
		announced := announcedImages(label)
		s.logger.Debug("[autofer] Gallery opened (%q, %d announced)", label, announced)

		waitCtx, cancel := context.WithTimeout(ctx, galleryTimeout)
		if err := chromedp.Run(waitCtx, chromedp.WaitVisible(imageSelector, chromedp.ByQuery)); err != nil {
			s.logger.Debug("[autofer] Gallery image not visible: %v", err)
		}
		cancel()

		images = collectImages(ctx, chromeCarousel{}, announced, s.cfg.MaxImageIterations, gallerySettle, s.logger)

		var closed bool
		if err := chromedp.Run(ctx, chromedp.Evaluate(closeGalleryJS, &closed)); err == nil && closed {
			_ = chromedp.Run(ctx, chromedp.Sleep(gallerySettle))
		}
	}

	var html string
	if err := chromedp.Run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", nil, err
	}
	return html, images, nil
}
