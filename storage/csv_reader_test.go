package storage

import (
	"errors"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestParseImageJobs(t *testing.T) {
	input := "\ufeffguid_anuncio,Marca,url_imagenes\n" +
		"g1,Seat,\"https://cdn/a.jpg; https://cdn/b.png ;\"\n" +
		"g2,Kia,\n"

	jobs, err := ParseImageJobs(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ParseImageJobs: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(jobs))
	}

	if jobs[0].GUID != "g1" {
		t.Errorf("GUID = %q", jobs[0].GUID)
	}
	if want := []string{"https://cdn/a.jpg", "https://cdn/b.png"}; !reflect.DeepEqual(jobs[0].URLs, want) {
		t.Errorf("URLs = %v", jobs[0].URLs)
	}
	if jobs[0].Row["Marca"] != "Seat" {
		t.Errorf("Row[Marca] = %v", jobs[0].Row["Marca"])
	}
	if len(jobs[1].URLs) != 0 {
		t.Errorf("empty url cell should yield no URLs, got %v", jobs[1].URLs)
	}
	if v, ok := jobs[1].Row["url_imagenes"]; !ok || v != nil {
		t.Errorf("empty cell should be nil, got %v", v)
	}
}

func TestReadImageJobsMissingFile(t *testing.T) {
	_, err := ReadImageJobs(filepath.Join(t.TempDir(), "nope.csv"))
	if !errors.Is(err, ErrInputNotFound) {
		t.Errorf("expected ErrInputNotFound, got %v", err)
	}
}

func TestSplitImageURLs(t *testing.T) {
	if got := SplitImageURLs(" ; ;"); got != nil {
		t.Errorf("SplitImageURLs(blank) = %v", got)
	}
}
