package autofer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"car-listings-toolkit/config"
	"car-listings-toolkit/utils"
)

func testLogger() *utils.Logger { return utils.NewLoggerTo(io.Discard) }

func TestParseURLs(t *testing.T) {
	in := "https://a/1\n\n  # comment\nhttps://a/2  \n#https://a/3\n"
	got, err := ParseURLs(strings.NewReader(in))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0] != "https://a/1" || got[1] != "https://a/2" {
		t.Errorf("ParseURLs = %v", got)
	}
}

func TestLoadURLsFallsBackToDefaults(t *testing.T) {
	got, err := LoadURLs(filepath.Join(t.TempDir(), "missing.txt"), testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(DefaultURLs) {
		t.Fatalf("got %d URLs, want %d", len(got), len(DefaultURLs))
	}
	got[0] = "changed"
	if DefaultURLs[0] == "changed" {
		t.Error("LoadURLs must return a copy of the defaults")
	}
}

func TestLoadURLsFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "urls.txt")
	if err := os.WriteFile(path, []byte("https://x/1\nhttps://x/2\n"), 0644); err != nil {
		t.Fatal(err)
	}
	got, err := LoadURLs(path, testLogger())
	if err != nil || len(got) != 2 {
		t.Errorf("LoadURLs = %v, %v", got, err)
	}
}

func TestDedupe(t *testing.T) {
	got := Dedupe([]string{"b", "a", "b", "c", "a"})
	if strings.Join(got, ",") != "b,a,c" {
		t.Errorf("Dedupe = %v", got)
	}
}

func TestAnnouncedImages(t *testing.T) {
	tests := map[string]int{
		"24 imágenes":   24,
		"Ver 7imágenes": 7,
		"3 IMÁGENES":    3,
		"Galería":       0,
		"":              0,
	}
	for in, want := range tests {
		if got := announcedImages(in); got != want {
			t.Errorf("announcedImages(%q) = %d; want %d", in, got, want)
		}
	}
}

// fakeCarousel shows srcs in order and cannot advance past the end unless
// wrap is set.
type fakeCarousel struct {
	srcs     []string
	pos      int
	wrap     bool
	advances int
	failAt   int
}

func (f *fakeCarousel) CurrentImage(context.Context) (string, error) {
	if f.pos >= len(f.srcs) {
		return "", nil
	}
	return f.srcs[f.pos], nil
}

func (f *fakeCarousel) Advance(context.Context) (bool, error) {
	f.advances++
	if f.failAt > 0 && f.advances == f.failAt {
		return false, errors.New("node detached")
	}
	if f.pos+1 >= len(f.srcs) {
		if !f.wrap {
			return false, nil
		}
		f.pos = 0
		return true, nil
	}
	f.pos++
	return true, nil
}

func TestCollectImages(t *testing.T) {
	five := []string{"i1", "i2", "i3", "i4", "i5"}
	tests := []struct {
		name      string
		carousel  *fakeCarousel
		announced int
		maxIter   int
		want      string
	}{
		{"until disabled", &fakeCarousel{srcs: five}, 0, 50, "i1,i2,i3,i4,i5"},
		{"stops on repeat", &fakeCarousel{srcs: five, wrap: true}, 0, 50, "i1,i2,i3,i4,i5"},
		{"announced count", &fakeCarousel{srcs: five, wrap: true}, 3, 50, "i1,i2,i3"},
		{"iteration limit", &fakeCarousel{srcs: five}, 0, 2, "i1,i2,i3"},
		{"advance error", &fakeCarousel{srcs: five, failAt: 2}, 0, 50, "i1,i2"},
		{"blank image", &fakeCarousel{srcs: []string{"i1", "", "i3"}}, 0, 50, "i1"},
		{"no gallery", &fakeCarousel{}, 0, 50, ""},
	}
	for _, tt := range tests {
		got := collectImages(context.Background(), tt.carousel, tt.announced, tt.maxIter, time.Millisecond, testLogger())
		if strings.Join(got, ",") != tt.want {
			t.Errorf("%s: got %v; want %s", tt.name, got, tt.want)
		}
		if got == nil {
			t.Errorf("%s: images must not be nil", tt.name)
		}
	}
}

const staticPage = `<html><body>
<h1>Ficha</h1>
<div class="gallery">
  <a data-lg-src="https://cdn.example.com/v/1.jpg"><img src="thumb1.jpg"></a>
  <a data-lg-src="https://cdn.example.com/v/2.jpg"><img src="thumb2.jpg"></a>
  <a data-lg-src="https://cdn.example.com/v/1.jpg"></a>
</div>
</body></html>`

func TestScrapeStatic(t *testing.T) {
	var flakyHits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/car/1", "/car/2":
			fmt.Fprint(w, staticPage)
		case "/flaky":
			if flakyHits.Add(1) == 1 {
				http.Error(w, "busy", http.StatusServiceUnavailable)
				return
			}
			fmt.Fprint(w, staticPage)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	cfg := &config.Config{
		ScraperMode:    "static",
		MaxConcurrency: 2,
		MaxRetries:     2,
		RetryDelay:     time.Millisecond,
		PageTimeout:    5 * time.Second,
	}
	urls := []string{srv.URL + "/car/1", srv.URL + "/missing", srv.URL + "/car/1", srv.URL + "/flaky", srv.URL + "/car/2"}

	got, err := New(cfg, testLogger()).Scrape(context.Background(), urls)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 4 {
		t.Fatalf("got %d records, want 4 (duplicates visited once)", len(got))
	}

	wantOrder := []string{"/car/1", "/missing", "/flaky", "/car/2"}
	for i, l := range got {
		if l.OriginalURL != srv.URL+wantOrder[i] {
			t.Errorf("record %d is %s; want %s", i, l.OriginalURL, wantOrder[i])
		}
		if len(l.GUID) != 32 {
			t.Errorf("record %d: bad guid %q", i, l.GUID)
		}
	}

	ok := got[0]
	if ok.Error != "" {
		t.Errorf("unexpected error: %s", ok.Error)
	}
	if strings.Join(ok.Images, ",") != "https://cdn.example.com/v/1.jpg,https://cdn.example.com/v/2.jpg" {
		t.Errorf("images = %v", ok.Images)
	}

	missing := got[1]
	if missing.Error == "" || len(missing.Images) != 0 || len(missing.Fields) != 0 {
		t.Errorf("404 page should give an error record, got %+v", missing)
	}

	if got[2].Error != "" || flakyHits.Load() != 2 {
		t.Errorf("flaky page: error %q after %d hits", got[2].Error, flakyHits.Load())
	}
}

func TestFindChromeBinaryPrefersConfig(t *testing.T) {
	if got := findChromeBinary("/opt/chrome"); got != "/opt/chrome" {
		t.Errorf("findChromeBinary = %q", got)
	}
}
