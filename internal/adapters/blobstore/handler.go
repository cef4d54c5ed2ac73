package blobstore

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
)

// Handler serves GET/HEAD requests for objects under BlobRoute.
func Handler(s Store) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		p := strings.TrimPrefix(r.URL.Path, BlobRoute)
		rc, meta, err := s.Open(r.Context(), p)
		if err != nil {
			switch {
			case errors.Is(err, ErrNotFound), errors.Is(err, ErrInvalidPath):
				http.NotFound(w, r)
			default:
				http.Error(w, "blob unavailable", http.StatusBadGateway)
			}
			return
		}
		defer func() { _ = rc.Close() }()

		if meta.ContentType != "" {
			w.Header().Set("Content-Type", meta.ContentType)
		}
		w.Header().Set("Content-Length", strconv.FormatInt(meta.Size, 10))
		w.Header().Set("Cache-Control", "private, max-age=3600")
		if r.Method == http.MethodHead {
			return
		}
		_, _ = io.Copy(w, rc)
	})
}
