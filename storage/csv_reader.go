package storage

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// Input columns of the downloader CSV.
const (
	ColumnGUID      = "guid_anuncio"
	ColumnImageURLs = "url_imagenes"
)

// ErrInputNotFound is returned when the input CSV does not exist.
var ErrInputNotFound = errors.New("input csv not found")

// ImageJob is one listing row of the downloader input.
type ImageJob struct {
	GUID string
	URLs []string
	// Row holds every column of the input row. Empty cells are nil so they
	// serialise as null.
	Row map[string]any
}

// ReadImageJobs loads the downloader input CSV. Image URLs are split on ';'
// and blank entries are dropped.
func ReadImageJobs(path string) ([]ImageJob, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("csv: %q: %w", path, ErrInputNotFound)
		}
		return nil, fmt.Errorf("csv: open %q: %w", path, err)
	}
	defer f.Close()
	return ParseImageJobs(f)
}

// ParseImageJobs reads downloader jobs from any CSV stream.
func ParseImageJobs(r io.Reader) ([]ImageJob, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("csv: read header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	var jobs []ImageJob
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("csv: line %d: %w", line, err)
		}

		row := make(map[string]any, len(header))
		for i, col := range header {
			if i < len(record) && strings.TrimSpace(record[i]) != "" {
				row[col] = record[i]
			} else {
				row[col] = nil
			}
		}

		job := ImageJob{Row: row}
		if v, ok := row[ColumnGUID].(string); ok {
			job.GUID = strings.TrimSpace(v)
		}
		if v, ok := row[ColumnImageURLs].(string); ok {
			job.URLs = SplitImageURLs(v)
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// SplitImageURLs splits a ';' separated URL list, trimming and dropping blanks.
func SplitImageURLs(s string) []string {
	var urls []string
	for _, u := range strings.Split(s, ";") {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}
	return urls
}
