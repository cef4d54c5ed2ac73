package repository

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/okian/repscore/internal/adapters/blobstore"
)

const photoPrefix = "athletes/"

// Photo is an uploaded profile picture.
type Photo struct {
	FileName    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// UploadPhoto stores p under a fresh name and returns its URL.
func (r *Athletes) UploadPhoto(ctx context.Context, p Photo) (string, error) {
	if r.photos == nil {
		return "", ErrPhotosDisabled
	}
	if !strings.HasPrefix(p.ContentType, "image/") {
		return "", ErrNotImage
	}
	name := photoPrefix + uuid.NewString() + strings.ToLower(filepath.Ext(filepath.Base(p.FileName)))
	url, err := r.photos.Upload(ctx, name, p.Body, blobstore.Meta{
		ContentType: p.ContentType,
		Size:        p.Size,
		Custom:      map[string]string{"originalName": p.FileName},
	})
	if err != nil {
		return "", fmt.Errorf("upload profile photo: %w", err)
	}
	return url, nil
}

// DeletePhoto removes a photo stored by UploadPhoto. Empty urls are ignored.
func (r *Athletes) DeletePhoto(ctx context.Context, url string) error {
	if r.photos == nil || url == "" {
		return nil
	}
	if err := r.photos.Delete(ctx, url); err != nil {
		return fmt.Errorf("delete profile photo: %w", err)
	}
	return nil
}
