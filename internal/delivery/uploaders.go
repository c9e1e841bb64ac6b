package delivery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"path/filepath"
	"strings"

	"bireport/internal/core"
	"bireport/internal/render"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
)

// LocalUploader writes reports below a directory and returns the file path.
type LocalUploader struct {
	dir string
}

func NewLocalUploader(dir string) *LocalUploader {
	if dir == "" {
		dir = "reports"
	}
	return &LocalUploader{dir: dir}
}

// Dir returns the output directory
func (u *LocalUploader) Dir() string { return u.dir }

func (u *LocalUploader) Upload(ctx context.Context, reportID, name string, body []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if name == "" || name != filepath.Base(name) {
		return "", fmt.Errorf("%w: invalid report file name %q", core.ErrUpload, name)
	}
	path, err := render.WriteReport(u.dir, name, body)
	if err != nil {
		return "", fmt.Errorf("%w: report %s: %w", core.ErrUpload, reportID, err)
	}
	return path, nil
}

// DriveUploader stores reports in a Google Drive folder and returns the
// file's web view link.
type DriveUploader struct {
	svc      *drive.Service
	folderID string
}

func NewDriveUploader(svc *drive.Service, folderID string) *DriveUploader {
	return &DriveUploader{svc: svc, folderID: folderID}
}

func (u *DriveUploader) Upload(ctx context.Context, reportID, name string, body []byte) (string, error) {
	contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(name)))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	meta := &drive.File{
		Name:        name,
		MimeType:    contentType,
		Description: "Business intelligence report " + reportID,
	}
	if u.folderID != "" {
		meta.Parents = []string{u.folderID}
	}

	f, err := u.svc.Files.Create(meta).
		Media(bytes.NewReader(body), googleapi.ContentType(contentType)).
		SupportsAllDrives(true).
		Fields("id, webViewLink").
		Context(ctx).
		Do()
	if err != nil {
		code := 0
		var gerr *googleapi.Error
		if errors.As(err, &gerr) {
			code = gerr.Code
		}
		return "", core.NewServiceError("drive_upload", code, fmt.Errorf("%w: %w", core.ErrUpload, err))
	}
	if f.WebViewLink != "" {
		return f.WebViewLink, nil
	}
	return "https://drive.google.com/file/d/" + f.Id + "/view", nil
}
