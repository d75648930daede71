package storage

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"car-listings-toolkit/models"
)

const (
	colOriginalURL = "original_url"
	colGUID        = "guid"
	colError       = "error"
	colImages      = "images"
)

// CSVWriter writes scraped listings to a CSV file.
// It is safe for concurrent use.
type CSVWriter struct {
	mu     sync.Mutex
	path   string
	file   *os.File
	writer *csv.Writer
}

// ScrapeCSVPath returns the timestamped output path used for a scrape run.
func ScrapeCSVPath(dir string, t time.Time) string {
	return filepath.Join(dir, fmt.Sprintf("scraped_cars_%s.csv", t.Format("20060102_150405")))
}

// NewCSVWriter creates (or truncates) the CSV file at the given path.
// Intermediate directories are created automatically. The header is written
// together with the rows because the column set depends on the data.
func NewCSVWriter(path string) (*CSVWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("csv: create output dir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("csv: create file %q: %w", path, err)
	}

	return &CSVWriter{path: path, file: f, writer: csv.NewWriter(f)}, nil
}

// Path is the file being written.
func (c *CSVWriter) Path() string { return c.path }

// WriteRaw writes a header and one row per listing. Columns that no listing
// carries are left out.
func (c *CSVWriter) WriteRaw(listings []*models.RawListing) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(listings) == 0 {
		return nil
	}

	header := Columns(listings)
	if err := c.writer.Write(header); err != nil {
		return fmt.Errorf("csv: write header: %w", err)
	}

	for _, l := range listings {
		row := make([]string, len(header))
		for i, col := range header {
			row[i] = cell(l, col)
		}
		if err := c.writer.Write(row); err != nil {
			return fmt.Errorf("csv: write row: %w", err)
		}
	}

	c.writer.Flush()
	return c.writer.Error()
}

// Close flushes and closes the underlying file.
func (c *CSVWriter) Close() error {
	c.writer.Flush()
	return c.file.Close()
}

// Columns returns the CSV header for a set of listings: identity columns, the
// leading vehicle fields, every other field sorted, then images.
func Columns(listings []*models.RawListing) []string {
	present := make(map[string]bool)
	hasImages := false
	for _, l := range listings {
		present[colOriginalURL] = true
		present[colGUID] = true
		for k := range l.Fields {
			present[k] = true
		}
		if l.Error != "" {
			present[colError] = true
		}
		if l.Images != nil {
			hasImages = true
		}
	}

	var header []string
	for _, col := range append([]string{colOriginalURL, colGUID}, models.LeadingFields...) {
		if present[col] {
			header = append(header, col)
			delete(present, col)
		}
	}

	rest := make([]string, 0, len(present))
	for col := range present {
		if col != colImages {
			rest = append(rest, col)
		}
	}
	sort.Strings(rest)
	header = append(header, rest...)

	if hasImages {
		header = append(header, colImages)
	}
	return header
}

func cell(l *models.RawListing, col string) string {
	switch col {
	case colOriginalURL:
		return l.OriginalURL
	case colGUID:
		return l.GUID
	case colError:
		return l.Error
	case colImages:
		return strings.Join(l.Images, "|")
	default:
		return l.Field(col)
	}
}
