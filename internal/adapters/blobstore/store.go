// Package blobstore defines the object store holding primary video bytes,
// with in-memory and PostgreSQL backends and an HTTP handler serving them.
package blobstore

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/okian/repscore/internal/domain/model"
)

// Sentinel kinds for blob store errors.
var (
	ErrNotFound    = fmt.Errorf("blob %w", model.ErrNotFound)
	ErrInvalidPath = fmt.Errorf("%w: invalid blob path", model.ErrValidation)
	ErrForeignURL  = fmt.Errorf("%w: url does not belong to this store", model.ErrValidation)
)

// Meta describes a stored object.
type Meta struct {
	ContentType string            `json:"contentType"`
	Size        int64             `json:"size"`
	Custom      map[string]string `json:"custom,omitempty"`
}

// Store is a path addressed object store.
type Store interface {
	// Upload stores the reader's bytes at p and returns a retrievable URL.
	Upload(ctx context.Context, p string, r io.Reader, meta Meta) (string, error)

	// Open returns the object at p. Callers close the reader.
	Open(ctx context.Context, p string) (io.ReadCloser, Meta, error)

	// Delete removes the object addressed by url.
	Delete(ctx context.Context, url string) error
}

// URLMapper converts between object paths and public URLs.
type URLMapper struct {
	base string
}

// BlobRoute is where Handler is mounted.
const BlobRoute = "/blobs/"

// NewURLMapper builds URLs under baseURL + BlobRoute.
func NewURLMapper(baseURL string) URLMapper {
	return URLMapper{base: strings.TrimRight(baseURL, "/") + BlobRoute}
}

// URL returns the public URL of p.
func (m URLMapper) URL(p string) string { return m.base + p }

// Path extracts the object path from a URL produced by URL.
func (m URLMapper) Path(url string) (string, error) {
	if !strings.HasPrefix(url, m.base) {
		return "", fmt.Errorf("%w: %s", ErrForeignURL, url)
	}
	return Clean(strings.TrimPrefix(url, m.base))
}

// Clean normalizes an object path and rejects traversal.
func Clean(p string) (string, error) {
	if p == "" || strings.Contains(p, "\\") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, p)
	}
	c := path.Clean("/" + p)[1:]
	if c == "" || c != strings.TrimPrefix(p, "/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, p)
	}
	return c, nil
}
