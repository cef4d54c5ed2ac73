package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	json "github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres stores objects as bytea rows in the blobs table.
type Postgres struct {
	pool *pgxpool.Pool
	urls URLMapper
}

// NewPostgres wraps an open pool. The schema is applied by pg.Migrate.
func NewPostgres(pool *pgxpool.Pool, baseURL string) *Postgres {
	return &Postgres{pool: pool, urls: NewURLMapper(baseURL)}
}

func (s *Postgres) Upload(ctx context.Context, p string, r io.Reader, meta Meta) (string, error) {
	p, err := Clean(p)
	if err != nil {
		return "", err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read upload: %w", err)
	}
	meta.Size = int64(len(data))
	custom, err := json.Marshal(meta.Custom)
	if err != nil {
		return "", fmt.Errorf("marshal blob metadata: %w", err)
	}
	if meta.ContentType == "" {
		meta.ContentType = "application/octet-stream"
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO blobs (path, content_type, size, metadata, data)
		VALUES ($1, $2, $3, $4::jsonb, $5)
		ON CONFLICT (path) DO UPDATE
		SET content_type = EXCLUDED.content_type, size = EXCLUDED.size,
		    metadata = EXCLUDED.metadata, data = EXCLUDED.data, created_at = NOW()`,
		p, meta.ContentType, meta.Size, string(custom), data)
	if err != nil {
		return "", fmt.Errorf("failed to upload blob: %w", err)
	}
	return s.urls.URL(p), nil
}

func (s *Postgres) Open(ctx context.Context, p string) (io.ReadCloser, Meta, error) {
	p, err := Clean(p)
	if err != nil {
		return nil, Meta{}, err
	}
	var (
		meta   Meta
		custom []byte
		data   []byte
	)
	err = s.pool.QueryRow(ctx,
		`SELECT content_type, size, metadata, data FROM blobs WHERE path = $1`, p).
		Scan(&meta.ContentType, &meta.Size, &custom, &data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, Meta{}, ErrNotFound
		}
		return nil, Meta{}, fmt.Errorf("failed to open blob: %w", err)
	}
	if len(custom) > 0 {
		_ = json.Unmarshal(custom, &meta.Custom)
	}
	return io.NopCloser(bytes.NewReader(data)), meta, nil
}

func (s *Postgres) Delete(ctx context.Context, url string) error {
	p, err := s.urls.Path(url)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM blobs WHERE path = $1`, p)
	if err != nil {
		return fmt.Errorf("failed to delete blob: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
