package breaker

import (
	"context"
	"io"

	"github.com/okian/repscore/internal/adapters/blobstore"
	"github.com/okian/repscore/internal/adapters/docstore"
)

var (
	_ docstore.Store  = (*Docs)(nil)
	_ blobstore.Store = (*Blobs)(nil)
)

// Docs is a docstore.Store whose calls pass through a breaker.
type Docs struct {
	next docstore.Store
	b    *Breaker
}

// GuardDocs wraps next with b.
func GuardDocs(next docstore.Store, b *Breaker) *Docs {
	return &Docs{next: next, b: b}
}

func (d *Docs) Create(ctx context.Context, collection string, doc any) (string, error) {
	return Execute(d.b, func() (string, error) {
		return d.next.Create(ctx, collection, doc)
	})
}

func (d *Docs) Get(ctx context.Context, collection, id string) (docstore.Snapshot, error) {
	return Execute(d.b, func() (docstore.Snapshot, error) {
		return d.next.Get(ctx, collection, id)
	})
}

func (d *Docs) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	return d.b.Do(func() error {
		return d.next.Update(ctx, collection, id, fields)
	})
}

func (d *Docs) Query(ctx context.Context, collection string, q docstore.Query) ([]docstore.Snapshot, error) {
	return Execute(d.b, func() ([]docstore.Snapshot, error) {
		return d.next.Query(ctx, collection, q)
	})
}

func (d *Docs) Ping(ctx context.Context) error {
	return d.b.Do(func() error { return d.next.Ping(ctx) })
}

// Blobs is a blobstore.Store whose calls pass through a breaker.
type Blobs struct {
	next blobstore.Store
	b    *Breaker
}

// GuardBlobs wraps next with b.
func GuardBlobs(next blobstore.Store, b *Breaker) *Blobs {
	return &Blobs{next: next, b: b}
}

func (s *Blobs) Upload(ctx context.Context, p string, r io.Reader, meta blobstore.Meta) (string, error) {
	return Execute(s.b, func() (string, error) {
		return s.next.Upload(ctx, p, r, meta)
	})
}

func (s *Blobs) Open(ctx context.Context, p string) (io.ReadCloser, blobstore.Meta, error) {
	type opened struct {
		rc   io.ReadCloser
		meta blobstore.Meta
	}
	res, err := Execute(s.b, func() (opened, error) {
		rc, meta, err := s.next.Open(ctx, p)
		return opened{rc: rc, meta: meta}, err
	})
	if err != nil {
		return nil, blobstore.Meta{}, err
	}
	return res.rc, res.meta, nil
}

func (s *Blobs) Delete(ctx context.Context, url string) error {
	return s.b.Do(func() error { return s.next.Delete(ctx, url) })
}
