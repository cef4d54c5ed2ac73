package repository

import (
	"github.com/okian/repscore/internal/adapters/blobstore"
	"github.com/okian/repscore/pkg/logger"
)

// Option configures the athlete repository.
type Option func(*Athletes)

// WithPhotoStore keeps profile photos in blobs. Without it photo uploads are
// rejected.
func WithPhotoStore(blobs blobstore.Store) Option {
	return func(r *Athletes) {
		if blobs != nil {
			r.photos = blobs
		}
	}
}

// WithLogger sets the repository logger.
func WithLogger(l logger.Logger) Option {
	return func(r *Athletes) {
		if l != nil {
			r.logger = l
		}
	}
}
