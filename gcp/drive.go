package gcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"car-listings-toolkit/models"
)

const folderMimeType = "application/vnd.google-apps.folder"

// ErrPermissionDenied marks a 403 from Drive. Retrying will not help.
var ErrPermissionDenied = errors.New("drive: permission denied")

// Drive wraps the Drive v3 files API.
type Drive struct {
	svc *drive.Service
}

// UploadedFile is the result of an upload.
type UploadedFile struct {
	ID          string
	WebViewLink string
}

// NewDrive creates a Drive client from the given options.
func NewDrive(ctx context.Context, opts ...option.ClientOption) (*Drive, error) {
	svc, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("drive: create service: %w", err)
	}
	return &Drive{svc: svc}, nil
}

// FolderQuery builds the search for a non-trashed folder by name, optionally
// restricted to a parent.
func FolderQuery(name, parentID string) string {
	q := fmt.Sprintf("mimeType='%s' and name='%s' and trashed=false", folderMimeType, escapeQuery(name))
	if parentID != "" {
		q += fmt.Sprintf(" and '%s' in parents", escapeQuery(parentID))
	}
	return q
}

// ImagesQuery lists the JPEG and PNG files directly inside a folder.
func ImagesQuery(folderID string) string {
	return fmt.Sprintf("'%s' in parents and (mimeType='image/jpeg' or mimeType='image/png') and trashed=false",
		escapeQuery(folderID))
}

// FileQuery finds a non-trashed file by name directly inside a folder.
func FileQuery(name, folderID string) string {
	return fmt.Sprintf("name='%s' and '%s' in parents and trashed=false", escapeQuery(name), escapeQuery(folderID))
}

func escapeQuery(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `\'`)
}

// EnsureFolder returns the id of the named folder, creating it when missing.
func (d *Drive) EnsureFolder(ctx context.Context, name, parentID string) (string, error) {
	res, err := d.svc.Files.List().
		Q(FolderQuery(name, parentID)).
		Spaces("drive").
		Fields("files(id, name)").
		Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("drive: search folder %q: %w", name, classify(err))
	}
	if len(res.Files) > 0 {
		return res.Files[0].Id, nil
	}

	folder := &drive.File{Name: name, MimeType: folderMimeType}
	if parentID != "" {
		folder.Parents = []string{parentID}
	}
	created, err := d.svc.Files.Create(folder).Fields("id").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("drive: create folder %q: %w", name, classify(err))
	}
	return created.Id, nil
}

// UploadFile uploads a local JPEG into folderID.
func (d *Drive) UploadFile(ctx context.Context, path, folderID string) (UploadedFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return UploadedFile{}, fmt.Errorf("drive: open %q: %w", path, err)
	}
	defer f.Close()

	meta := &drive.File{Name: filepath.Base(path), Parents: []string{folderID}}
	created, err := d.svc.Files.Create(meta).
		Media(f, googleapi.ContentType("image/jpeg")).
		Fields("id, webViewLink").
		Context(ctx).Do()
	if err != nil {
		return UploadedFile{}, fmt.Errorf("drive: upload %q: %w", path, classify(err))
	}
	return UploadedFile{ID: created.Id, WebViewLink: created.WebViewLink}, nil
}

// FindFile looks up a file by name in folderID. The bool is false when no
// such file exists.
func (d *Drive) FindFile(ctx context.Context, name, folderID string) (UploadedFile, bool, error) {
	res, err := d.svc.Files.List().
		Q(FileQuery(name, folderID)).
		Spaces("drive").
		Fields("files(id, webViewLink)").
		Context(ctx).Do()
	if err != nil {
		return UploadedFile{}, false, fmt.Errorf("drive: search file %q: %w", name, classify(err))
	}
	if len(res.Files) == 0 {
		return UploadedFile{}, false, nil
	}
	return UploadedFile{ID: res.Files[0].Id, WebViewLink: res.Files[0].WebViewLink}, true, nil
}

// ListImages pages through the JPEG/PNG files of a folder, 100 at a time.
// On error the files gathered so far are returned with it.
func (d *Drive) ListImages(ctx context.Context, folderID string) ([]models.DriveFile, error) {
	var files []models.DriveFile
	call := d.svc.Files.List().
		Q(ImagesQuery(folderID)).
		PageSize(100).
		Fields("nextPageToken, files(id, name, mimeType)")

	err := call.Pages(ctx, func(page *drive.FileList) error {
		for _, f := range page.Files {
			if f.MimeType == "image/jpeg" || f.MimeType == "image/png" {
				files = append(files, models.DriveFile{ID: f.Id, Name: f.Name, MimeType: f.MimeType})
			}
		}
		return nil
	})
	if err != nil {
		return files, fmt.Errorf("drive: list folder %s: %w", folderID, classify(err))
	}
	return files, nil
}

// Download writes the content of fileID to dest. A partial file is removed
// on failure.
func (d *Drive) Download(ctx context.Context, fileID, dest string) error {
	resp, err := d.svc.Files.Get(fileID).Context(ctx).Download()
	if err != nil {
		return fmt.Errorf("drive: download %s: %w", fileID, classify(err))
	}
	defer resp.Body.Close()

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("drive: create %q: %w", dest, err)
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		_ = os.Remove(dest)
		return fmt.Errorf("drive: write %q: %w", dest, err)
	}
	return out.Close()
}

// classify tags 403 responses with ErrPermissionDenied.
func classify(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusForbidden {
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	return err
}
