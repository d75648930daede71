package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"car-listings-toolkit/gcp"
)

type fakeDrive struct {
	mu       sync.Mutex
	folders  map[string]string // parent/name -> id
	uploads  map[string]string // file base name -> folder id
	deny     map[string]bool   // file or folder names answered with 403
	flaky    map[string]int    // file name -> failures before success
	lost     map[string]bool   // file name -> created, but the response times out
	attempts map[string]int
	created  map[string]int
}

func newFakeDrive() *fakeDrive {
	return &fakeDrive{
		folders:  map[string]string{},
		uploads:  map[string]string{},
		deny:     map[string]bool{},
		flaky:    map[string]int{},
		lost:     map[string]bool{},
		attempts: map[string]int{},
		created:  map[string]int{},
	}
}

func (f *fakeDrive) EnsureFolder(_ context.Context, name, parentID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deny[name] {
		return "", fmt.Errorf("create %s: %w", name, gcp.ErrPermissionDenied)
	}
	key := parentID + "/" + name
	if id, ok := f.folders[key]; ok {
		return id, nil
	}
	id := fmt.Sprintf("folder-%d", len(f.folders)+1)
	f.folders[key] = id
	return id, nil
}

func (f *fakeDrive) UploadFile(_ context.Context, path, folderID string) (gcp.UploadedFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := filepath.Base(filepath.Dir(path)) + "/" + filepath.Base(path)
	f.attempts[name]++
	if f.deny[name] {
		return gcp.UploadedFile{}, gcp.ErrPermissionDenied
	}
	if f.attempts[name] <= f.flaky[name] {
		return gcp.UploadedFile{}, errors.New("503 backend error")
	}
	f.uploads[name] = folderID
	f.created[name]++
	if f.lost[name] {
		return gcp.UploadedFile{}, errors.New("upload response timed out")
	}
	return gcp.UploadedFile{ID: "id-" + name, WebViewLink: "https://drive/" + name}, nil
}

func (f *fakeDrive) FindFile(_ context.Context, name, folderID string) (gcp.UploadedFile, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for key, folder := range f.uploads {
		if folder == folderID && filepath.Base(key) == name {
			return gcp.UploadedFile{ID: "id-" + key, WebViewLink: "https://drive/" + key}, true, nil
		}
	}
	return gcp.UploadedFile{}, false, nil
}

func TestUploaderMirror(t *testing.T) {
	dir := t.TempDir()
	for _, p := range []string{
		"g1/x1.jpg", "g1/x2.jpg", "g1/notes.txt",
		"g2/x1.jpg", "g2/x2.JPEG",
		"empty/readme.md",
		"denied/x1.jpg",
	} {
		full := filepath.Join(dir, p)
		mkdir(t, filepath.Dir(full))
		writeFile(t, full, "data")
	}
	writeFile(t, filepath.Join(dir, "stray.jpg"), "data")

	drive := newFakeDrive()
	drive.deny["denied"] = true
	drive.deny["g2/x2.JPEG"] = true
	drive.flaky["g1/x2.jpg"] = 1

	u := NewUploader(drive, 3, time.Millisecond, 2, 0, newTestLogger())
	report, err := u.Mirror(context.Background(), dir, "Main", "parent")
	if err != nil {
		t.Fatal(err)
	}

	if report.Listings != 3 || report.Uploaded != 3 || report.Failed != 2 || report.FailedListings != 1 {
		t.Errorf("report = %+v", report)
	}
	if strings.Join(report.Links["g1"], ",") != "https://drive/g1/x1.jpg,https://drive/g1/x2.jpg" {
		t.Errorf("g1 links = %v", report.Links["g1"])
	}
	if drive.attempts["g2/x2.JPEG"] != 1 {
		t.Errorf("a 403 upload must not be retried, got %d attempts", drive.attempts["g2/x2.JPEG"])
	}
	if drive.attempts["g1/x2.jpg"] != 2 {
		t.Errorf("flaky upload attempts = %d", drive.attempts["g1/x2.jpg"])
	}

	mainID := drive.folders["parent/Main"]
	if mainID == "" {
		t.Fatal("main folder not created under the parent")
	}
	if drive.uploads["g1/x1.jpg"] != drive.folders[mainID+"/g1"] {
		t.Error("g1 images must land in the g1 folder inside the main folder")
	}
	if _, ok := drive.folders[mainID+"/empty"]; ok {
		t.Error("directories without images must not get a folder")
	}
}

func TestUploaderRetryDoesNotDuplicate(t *testing.T) {
	dir := t.TempDir()
	mkdir(t, filepath.Join(dir, "g1"))
	writeFile(t, filepath.Join(dir, "g1", "x1.jpg"), "data")

	drive := newFakeDrive()
	drive.lost["g1/x1.jpg"] = true

	u := NewUploader(drive, 3, time.Millisecond, 1, 0, newTestLogger())
	report, err := u.Mirror(context.Background(), dir, "Main", "")
	if err != nil {
		t.Fatal(err)
	}
	if drive.created["g1/x1.jpg"] != 1 {
		t.Errorf("file created %d times on Drive; want 1", drive.created["g1/x1.jpg"])
	}
	if report.Uploaded != 1 || report.Failed != 0 {
		t.Errorf("report = %+v", report)
	}
	if got := report.Links["g1"]; len(got) != 1 || got[0] != "https://drive/g1/x1.jpg" {
		t.Errorf("links = %v", got)
	}
}

func TestUploaderMainFolderFailure(t *testing.T) {
	drive := newFakeDrive()
	drive.deny["Main"] = true
	u := NewUploader(drive, 3, time.Millisecond, 1, 0, newTestLogger())
	if _, err := u.Mirror(context.Background(), t.TempDir(), "Main", ""); !errors.Is(err, gcp.ErrPermissionDenied) {
		t.Errorf("err = %v", err)
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}
