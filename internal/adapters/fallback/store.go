// Package fallback is the local file-backed assessment store used when the
// primary backend cannot accept a write.
//
// All records live in one JSON array file. Every read-modify-write holds a
// single mutex and replaces the file atomically through a temp file rename.
package fallback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/okian/repscore/internal/domain/lifecycle"
	"github.com/okian/repscore/internal/domain/model"
	"github.com/okian/repscore/pkg/metrics"
)

const (
	recordsFile = "assessments.json"
	videosDir   = "videos"

	// VideoRoute is where the fallback video directory is served.
	VideoRoute = "/uploads/"
)

// Sentinel kinds for fallback store errors.
var (
	ErrNotFound = fmt.Errorf("fallback record %w", model.ErrNotFound)
	ErrCorrupt  = fmt.Errorf("%w: fallback file is not a JSON array", model.ErrStorage)
)

// Store persists assessments in <dir>/assessments.json and their videos in
// <dir>/videos.
type Store struct {
	mu      sync.Mutex
	file    string
	videos  string
	baseURL string
}

// New prepares dir and returns a store handing out video URLs under baseURL.
func New(dir, baseURL string) (*Store, error) {
	videos := filepath.Join(dir, videosDir)
	if err := os.MkdirAll(videos, 0o755); err != nil {
		return nil, fmt.Errorf("create fallback dir: %w", err)
	}
	return &Store{
		file:    filepath.Join(dir, recordsFile),
		videos:  videos,
		baseURL: strings.TrimRight(baseURL, "/"),
	}, nil
}

// VideoDir returns the directory holding fallback videos.
func (s *Store) VideoDir() string { return s.videos }

// SaveVideo copies r into the video directory under name and returns the
// local path, the public URL and the byte count.
func (s *Store) SaveVideo(name string, r io.Reader) (string, string, int64, error) {
	name = filepath.Base(name)
	if name == "." || name == string(filepath.Separator) {
		return "", "", 0, fmt.Errorf("%w: empty video name", model.ErrValidation)
	}
	dst := filepath.Join(s.videos, name)

	f, err := os.Create(dst)
	if err != nil {
		return "", "", 0, fmt.Errorf("create fallback video: %w", err)
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(dst)
		return "", "", 0, fmt.Errorf("copy fallback video: %w", err)
	}
	return dst, s.baseURL + VideoRoute + name, n, nil
}

// Create assigns a local_ id to a and appends it.
func (s *Store) Create(_ context.Context, a model.Assessment) (model.Assessment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return model.Assessment{}, err
	}
	a.ID = model.FallbackPrefix + uuid.NewString()
	a.Backend = model.BackendFallback
	records = append(records, a)
	if err := s.save(records); err != nil {
		return model.Assessment{}, err
	}
	metrics.UpdateFallbackRecords(len(records))
	return a, nil
}

// Get returns the record with id.
func (s *Store) Get(_ context.Context, id string) (model.Assessment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return model.Assessment{}, err
	}
	for _, a := range records {
		if a.ID == id {
			return a, nil
		}
	}
	return model.Assessment{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Update applies p to the record with id and returns the result.
func (s *Store) Update(_ context.Context, id string, p lifecycle.Patch) (model.Assessment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return model.Assessment{}, err
	}
	for i := range records {
		if records[i].ID != id {
			continue
		}
		p.Apply(&records[i])
		if err := s.save(records); err != nil {
			return model.Assessment{}, err
		}
		return records[i], nil
	}
	return model.Assessment{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// List returns every record in insertion order.
func (s *Store) List(_ context.Context) ([]model.Assessment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// load reads the record file. A missing file is an empty store.
func (s *Store) load() ([]model.Assessment, error) {
	data, err := os.ReadFile(s.file)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: read fallback file: %w", model.ErrStorage, err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, nil
	}
	var records []model.Assessment
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	for i := range records {
		records[i].Backend = model.BackendFallback
	}
	return records, nil
}

func (s *Store) save(records []model.Assessment) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal fallback records: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.file), recordsFile+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: create temp file: %w", model.ErrStorage, err)
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(name)
		return fmt.Errorf("%w: write temp file: %w", model.ErrStorage, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(name)
		return fmt.Errorf("%w: close temp file: %w", model.ErrStorage, err)
	}
	if err := os.Rename(name, s.file); err != nil {
		_ = os.Remove(name)
		return fmt.Errorf("%w: replace fallback file: %w", model.ErrStorage, err)
	}
	return nil
}
