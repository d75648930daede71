package services

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"car-listings-toolkit/models"
	"car-listings-toolkit/storage"
)

func sampleResults() []ListingResult {
	return []ListingResult{
		{
			Job: storage.ImageJob{GUID: "g1", Row: map[string]any{"guid_anuncio": "g1", "Marca": "Seat"}},
			Images: []models.ImageMeta{
				{SizeBytes: 10240, Width: 800, Height: 600},
				{SizeBytes: 20480, Width: 1024, Height: 768},
			},
			Errors: []string{"network or HTTP error downloading x"},
		},
		{
			Job:    storage.ImageJob{GUID: "g2", Row: map[string]any{"guid_anuncio": "g2", "Marca": "Seat"}},
			Images: []models.ImageMeta{{SizeBytes: 30720, Width: 641, Height: 481}},
		},
		{Job: storage.ImageJob{GUID: "g3", Row: map[string]any{"guid_anuncio": "g3"}}},
	}
}

func TestAnalysisSummarize(t *testing.T) {
	svc := NewAnalysisService(newTestLogger(), &bytes.Buffer{})
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	s := svc.Summarize(sampleResults(), now)

	if s.TotalListings != 3 || s.SuccessfulListings != 2 || s.FailedListings != 1 {
		t.Errorf("counts: %d/%d/%d", s.TotalListings, s.SuccessfulListings, s.FailedListings)
	}
	if s.TotalImages != 3 {
		t.Errorf("TotalImages = %d", s.TotalImages)
	}
	if s.AvgImagesPerListing != 1.5 {
		t.Errorf("AvgImagesPerListing = %v", s.AvgImagesPerListing)
	}
	if s.AvgSizeKB != 20 {
		t.Errorf("AvgSizeKB = %v", s.AvgSizeKB)
	}
	// (800+1024+641)/3 = 821.67, (600+768+481)/3 = 616.33
	if s.AvgDimensions != "822x616" {
		t.Errorf("AvgDimensions = %q", s.AvgDimensions)
	}
	if len(s.DownloadErrorsByGUID) != 1 || len(s.DownloadErrorsByGUID["g1"]) != 1 {
		t.Errorf("errors = %v", s.DownloadErrorsByGUID)
	}
	if s.GeneratedAt != "2024-05-01T10:00:00.000000" {
		t.Errorf("GeneratedAt = %q", s.GeneratedAt)
	}
}

func TestAnalysisEmpty(t *testing.T) {
	svc := NewAnalysisService(newTestLogger(), &bytes.Buffer{})
	s := svc.Summarize(nil, time.Now())
	if s.TotalImages != 0 || s.AvgSizeKB != 0 || s.AvgDimensions != "0x0" {
		t.Errorf("unexpected empty summary: %+v", s)
	}
	if s.DownloadErrorsByGUID == nil {
		t.Error("error map must be non-nil so it serialises as {}")
	}
}

func TestAnalysisListingsOnlySuccessful(t *testing.T) {
	svc := NewAnalysisService(newTestLogger(), &bytes.Buffer{})
	listings := svc.Listings(sampleResults())
	if len(listings) != 2 {
		t.Fatalf("expected 2 listings, got %d", len(listings))
	}
	if listings[0].GUID() != "g1" || len(listings[0].DownloadedImages) != 2 {
		t.Errorf("unexpected first listing: %+v", listings[0])
	}
}

func TestAnalysisPrint(t *testing.T) {
	var buf bytes.Buffer
	svc := NewAnalysisService(newTestLogger(), &buf)
	results := sampleResults()
	svc.Print(svc.Summarize(results, time.Now()), svc.Listings(results))

	out := buf.String()
	for _, want := range []string{"IMAGE DOWNLOAD SUMMARY", "822x616 px", "Seat", "(2)"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q", want)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("Mercedes-Benz Clase A", 10); got != "Mercede..." {
		t.Errorf("truncate = %q", got)
	}
	if got := truncate("Kia", 10); got != "Kia" {
		t.Errorf("truncate = %q", got)
	}
}
