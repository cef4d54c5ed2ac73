package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
)

type memObject struct {
	data []byte
	meta Meta
}

// Memory keeps objects in process memory.
type Memory struct {
	mu      sync.RWMutex
	objects map[string]memObject
	urls    URLMapper
}

// NewMemory creates an empty store handing out URLs under baseURL.
func NewMemory(baseURL string) *Memory {
	return &Memory{objects: make(map[string]memObject), urls: NewURLMapper(baseURL)}
}

func (m *Memory) Upload(ctx context.Context, p string, r io.Reader, meta Meta) (string, error) {
	p, err := Clean(p)
	if err != nil {
		return "", err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read upload: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	meta.Size = int64(len(data))

	m.mu.Lock()
	m.objects[p] = memObject{data: data, meta: meta}
	m.mu.Unlock()
	return m.urls.URL(p), nil
}

func (m *Memory) Open(_ context.Context, p string) (io.ReadCloser, Meta, error) {
	p, err := Clean(p)
	if err != nil {
		return nil, Meta{}, err
	}
	m.mu.RLock()
	obj, ok := m.objects[p]
	m.mu.RUnlock()
	if !ok {
		return nil, Meta{}, ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(obj.data)), obj.meta, nil
}

func (m *Memory) Delete(_ context.Context, url string) error {
	p, err := m.urls.Path(url)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[p]; !ok {
		return ErrNotFound
	}
	delete(m.objects, p)
	return nil
}

// Len returns the number of stored objects.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
