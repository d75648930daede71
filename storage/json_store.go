package storage

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"car-listings-toolkit/models"
)

// WriteJSON writes v as indented UTF-8 JSON, creating parent directories.
func WriteJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("json: create output dir: %w", err)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("json: encode %q: %w", path, err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("json: write %q: %w", path, err)
	}
	return nil
}

// ReadListings loads the listings JSON written by the downloader.
// A missing file is reported with os.ErrNotExist.
func ReadListings(path string) ([]models.LocalListing, error) {
	data, err := readSanitized(path)
	if err != nil {
		return nil, err
	}
	var listings []models.LocalListing
	if err := json.Unmarshal(data, &listings); err != nil {
		return nil, fmt.Errorf("json: decode %q: %w", path, err)
	}
	return listings, nil
}

// ReadAnalysis loads the analysis summary as a generic object so that values
// written as NaN by other tools survive as nil.
func ReadAnalysis(path string) (map[string]any, error) {
	data, err := readSanitized(path)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("json: decode %q: %w", path, err)
	}
	return out, nil
}

func readSanitized(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("json: %q: %w", path, os.ErrNotExist)
		}
		return nil, fmt.Errorf("json: read %q: %w", path, err)
	}
	return SanitizeNonFinite(data), nil
}

var nonFiniteTokens = [][]byte{[]byte("-Infinity"), []byte("Infinity"), []byte("NaN")}

// SanitizeNonFinite replaces the bare NaN, Infinity and -Infinity literals
// some JSON writers emit with null. String contents are left untouched.
func SanitizeNonFinite(data []byte) []byte {
	out := make([]byte, 0, len(data))
	inString, escaped := false, false

	for i := 0; i < len(data); i++ {
		c := data[i]
		if inString {
			out = append(out, c)
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		if c == '"' {
			inString = true
			out = append(out, c)
			continue
		}

		replaced := false
		for _, tok := range nonFiniteTokens {
			if bytes.HasPrefix(data[i:], tok) {
				out = append(out, "null"...)
				i += len(tok) - 1
				replaced = true
				break
			}
		}
		if !replaced {
			out = append(out, c)
		}
	}
	return out
}
