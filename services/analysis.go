package services

import (
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strings"
	"time"

	"car-listings-toolkit/models"
	"car-listings-toolkit/utils"
)

// brandColumn is the make column of the downloader input CSV.
const brandColumn = "Marca"

// AnalysisService aggregates downloader results into the analysis summary.
type AnalysisService struct {
	logger *utils.Logger
	out    io.Writer
}

// NewAnalysisService prints to out, or stdout when out is nil.
func NewAnalysisService(logger *utils.Logger, out io.Writer) *AnalysisService {
	if out == nil {
		out = os.Stdout
	}
	return &AnalysisService{logger: logger, out: out}
}

// Listings returns the listings that ended up with at least one stored image,
// in input order.
func (s *AnalysisService) Listings(results []ListingResult) []models.LocalListing {
	listings := make([]models.LocalListing, 0, len(results))
	for _, r := range results {
		if !r.Succeeded() {
			continue
		}
		listings = append(listings, models.LocalListing{
			Row:              r.Job.Row,
			DownloadedImages: r.Images,
		})
	}
	return listings
}

// Summarize computes the batch summary. Averages cover every stored image,
// whether downloaded in this run or reused from disk.
func (s *AnalysisService) Summarize(results []ListingResult, now time.Time) *models.AnalysisSummary {
	summary := &models.AnalysisSummary{
		GeneratedAt:          now.Format("2006-01-02T15:04:05.000000"),
		TotalListings:        len(results),
		DownloadErrorsByGUID: make(map[string][]string),
		AvgDimensions:        "0x0",
	}

	var totalBytes int64
	var totalWidth, totalHeight int
	for _, r := range results {
		if r.Succeeded() {
			summary.SuccessfulListings++
		} else {
			summary.FailedListings++
		}
		for _, img := range r.Images {
			summary.TotalImages++
			totalBytes += img.SizeBytes
			totalWidth += img.Width
			totalHeight += img.Height
		}
		if len(r.Errors) > 0 && r.Job.GUID != "" {
			summary.DownloadErrorsByGUID[r.Job.GUID] = append(summary.DownloadErrorsByGUID[r.Job.GUID], r.Errors...)
		}
	}

	if summary.SuccessfulListings > 0 {
		summary.AvgImagesPerListing = round2(float64(summary.TotalImages) / float64(summary.SuccessfulListings))
	}
	if n := summary.TotalImages; n > 0 {
		summary.AvgSizeKB = round2(float64(totalBytes) / float64(n) / 1024)
		summary.AvgDimensions = fmt.Sprintf("%.0fx%.0f",
			math.Round(float64(totalWidth)/float64(n)),
			math.Round(float64(totalHeight)/float64(n)))
	}

	s.logger.Debug("[analysis] %d listings, %d images, %d with errors",
		summary.TotalListings, summary.TotalImages, len(summary.DownloadErrorsByGUID))
	return summary
}

// Print writes a human-readable report of the summary and the stored listings.
func (s *AnalysisService) Print(r *models.AnalysisSummary, listings []models.LocalListing) {
	sep := strings.Repeat("═", 54)
	thin := strings.Repeat("─", 54)
	w := s.out

	fmt.Fprintf(w, "\n\033[1;35m%s\033[0m\n", sep)
	fmt.Fprintf(w, "\033[1;35m  📊 IMAGE DOWNLOAD SUMMARY\033[0m\n")
	fmt.Fprintf(w, "\033[1;35m%s\033[0m\n\n", sep)

	fmt.Fprintf(w, "\033[1;33m  Listings\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	fmt.Fprintf(w, "  Processed          : \033[1m%d\033[0m\n", r.TotalListings)
	fmt.Fprintf(w, "  With images        : \033[1;32m%d\033[0m\n", r.SuccessfulListings)
	fmt.Fprintf(w, "  Failed / no images : \033[1;31m%d\033[0m\n", r.FailedListings)
	fmt.Fprintln(w)

	fmt.Fprintf(w, "\033[1;33m  Images\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	if r.TotalImages > 0 {
		fmt.Fprintf(w, "  Stored             : \033[1m%d\033[0m\n", r.TotalImages)
		fmt.Fprintf(w, "  Per listing        : %.2f\n", r.AvgImagesPerListing)
		fmt.Fprintf(w, "  Average size       : %.2f KB\n", r.AvgSizeKB)
		fmt.Fprintf(w, "  Average dimensions : %s px\n", r.AvgDimensions)
	} else {
		fmt.Fprintf(w, "  No images stored\n")
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "\033[1;33m  Listings by Brand\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	brands := countBrands(listings)
	if len(brands) == 0 {
		fmt.Fprintf(w, "  No brand data\n")
	}
	for _, bc := range brands {
		bar := strings.Repeat("█", bc.count)
		fmt.Fprintf(w, "  %-30s %s (%d)\n", truncate(bc.brand, 28), bar, bc.count)
	}

	if len(r.DownloadErrorsByGUID) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "\033[1;33m  Listings with download errors: %d\033[0m\n", len(r.DownloadErrorsByGUID))
	}

	fmt.Fprintf(w, "\n\033[1;35m%s\033[0m\n\n", sep)
}

type brandCount struct {
	brand string
	count int
}

// countBrands sorts by count descending, then by name.
func countBrands(listings []models.LocalListing) []brandCount {
	counts := make(map[string]int)
	for _, l := range listings {
		if b, ok := l.Row[brandColumn].(string); ok && !IsBlank(b) {
			counts[strings.TrimSpace(b)]++
		}
	}
	out := make([]brandCount, 0, len(counts))
	for b, c := range counts {
		out = append(out, brandCount{b, c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].count != out[j].count {
			return out[i].count > out[j].count
		}
		return out[i].brand < out[j].brand
	})
	return out
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
