package storage

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"car-listings-toolkit/models"
)

func TestSanitizeNonFinite(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`{"a": NaN}`, `{"a": null}`},
		{`[Infinity, -Infinity, 1]`, `[null, null, 1]`},
		{`{"s": "NaN and Infinity"}`, `{"s": "NaN and Infinity"}`},
		{`{"s": "quote \" NaN"}`, `{"s": "quote \" NaN"}`},
		{`{"NaN": NaN}`, `{"NaN": null}`},
	}
	for _, tt := range tests {
		if got := string(SanitizeNonFinite([]byte(tt.in))); got != tt.want {
			t.Errorf("SanitizeNonFinite(%s) = %s; want %s", tt.in, got, tt.want)
		}
	}
}

func TestListingsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "listings.json")
	in := []models.LocalListing{{
		Row: map[string]any{"guid_anuncio": "g1", "Marca": "Seat", "Precio Contado": nil},
		DownloadedImages: []models.ImageMeta{
			{OriginalURL: "https://cdn/a.jpg", LocalPath: "imgs/g1/x1.jpg", SizeBytes: 12000, Width: 800, Height: 600},
		},
	}}
	if err := WriteJSON(path, in); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}

	out, err := ReadListings(path)
	if err != nil {
		t.Fatalf("ReadListings: %v", err)
	}
	if len(out) != 1 || out[0].GUID() != "g1" {
		t.Fatalf("unexpected listings: %+v", out)
	}
	if len(out[0].DownloadedImages) != 1 || out[0].DownloadedImages[0].Width != 800 {
		t.Errorf("images = %+v", out[0].DownloadedImages)
	}
	if _, ok := out[0].Row["downloaded_images"]; ok {
		t.Error("downloaded_images must not be kept in Row")
	}
}

func TestReadListingsWithNaN(t *testing.T) {
	path := filepath.Join(t.TempDir(), "listings.json")
	data := `[{"guid_anuncio": "g2", "Kilómetros": NaN, "downloaded_images": [{"local_path": "x1.jpg", "width": 10}, "bad"]}]`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	out, err := ReadListings(path)
	if err != nil {
		t.Fatalf("ReadListings: %v", err)
	}
	if out[0].Row["Kilómetros"] != nil {
		t.Errorf("NaN should decode as nil, got %v", out[0].Row["Kilómetros"])
	}
	if len(out[0].DownloadedImages) != 1 {
		t.Errorf("non-object images should be skipped, got %d", len(out[0].DownloadedImages))
	}
}

func TestReadAnalysisMissing(t *testing.T) {
	_, err := ReadAnalysis(filepath.Join(t.TempDir(), "none.json"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected os.ErrNotExist, got %v", err)
	}
}

func TestWriteJSONKeepsUnicode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.json")
	if err := WriteJSON(path, map[string]string{"k": "Año <b>"}); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), "Año <b>") {
		t.Errorf("expected unescaped text, got %s", data)
	}
}
