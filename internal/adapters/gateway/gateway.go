// Package gateway routes assessment persistence between the primary
// document and blob stores and the local fallback store.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/okian/repscore/internal/adapters/blobstore"
	"github.com/okian/repscore/internal/adapters/docstore"
	"github.com/okian/repscore/internal/adapters/fallback"
	"github.com/okian/repscore/internal/domain/lifecycle"
	"github.com/okian/repscore/internal/domain/model"
	"github.com/okian/repscore/internal/domain/verify"
	"github.com/okian/repscore/internal/validation"
	"github.com/okian/repscore/pkg/logger"
	"github.com/okian/repscore/pkg/metrics"
)

// Collection is the document collection holding primary assessments.
const Collection = "assessments"

const (
	blobPrefix   = "videos/"
	defaultLimit = 20
)

// UploadedVideo is a received recording already written to a local file.
type UploadedVideo struct {
	FileName string `json:"videoFileName"`
	MimeType string `json:"videoMimeType"`
	Size     int64  `json:"videoSize"`
	Path     string `json:"video" validate:"required"`
}

// Submission is the input of Submit.
type Submission struct {
	SportCategory  string         `json:"sportCategory" validate:"required"`
	AssessmentType string         `json:"assessmentType" validate:"required"`
	AthleteID      string         `json:"athleteId"`
	Metadata       map[string]any `json:"metadata"`
	Video          UploadedVideo  `json:"video"`
}

// Gateway persists assessments in the primary store and falls back to the
// local store when the primary rejects a write.
type Gateway struct {
	docs      docstore.Store
	blobs     blobstore.Store
	local     *fallback.Store
	uploadDir string
	log       logger.Logger
	now       func() time.Time
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithLogger sets the gateway logger.
func WithLogger(l logger.Logger) Option {
	return func(g *Gateway) { g.log = l }
}

// WithUploadDir sets where primary videos are re-downloaded for analysis.
func WithUploadDir(dir string) Option {
	return func(g *Gateway) { g.uploadDir = dir }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) { g.now = now }
}

// New creates a gateway over the given stores.
func New(docs docstore.Store, blobs blobstore.Store, local *fallback.Store, opts ...Option) *Gateway {
	g := &Gateway{
		docs:      docs,
		blobs:     blobs,
		local:     local,
		uploadDir: "uploads",
		log:       logger.Nop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Submit validates s, builds the record and stores it, primary first.
func (g *Gateway) Submit(ctx context.Context, s Submission) (model.Assessment, error) {
	if err := validation.Struct(&s); err != nil {
		return model.Assessment{}, err
	}

	now := g.now().UTC()
	meta := s.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	rec := model.Assessment{
		SportCategory:  s.SportCategory,
		AssessmentType: s.AssessmentType,
		AthleteID:      s.AthleteID,
		Video: model.Video{
			FileName: s.Video.FileName,
			Size:     s.Video.Size,
			MimeType: s.Video.MimeType,
			Path:     s.Video.Path,
		},
		SubmissionDate: now,
		Metadata:       meta,
		BlockchainHash: verify.NewVerificationHash(),
		TransactionID:  verify.NewTransactionID(),
		Status:         model.StatusProcessing,
		AIAnalysis:     lifecycle.Placeholder(),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	a, perr := g.submitPrimary(ctx, rec)
	if perr == nil {
		metrics.RecordSubmission(model.BackendPrimary.String())
		return a, nil
	}
	g.log.Warn(ctx, "primary store rejected submission, using fallback",
		logger.String("assessmentType", rec.AssessmentType),
		logger.Error(perr))
	metrics.RecordStorageFallback()

	a, ferr := g.submitFallback(ctx, rec)
	if ferr != nil {
		return model.Assessment{}, fmt.Errorf("%w: primary: %v; fallback: %v", model.ErrStorage, perr, ferr)
	}
	metrics.RecordSubmission(model.BackendFallback.String())
	return a, nil
}

func (g *Gateway) submitPrimary(ctx context.Context, rec model.Assessment) (model.Assessment, error) {
	f, err := os.Open(rec.Video.Path)
	if err != nil {
		return model.Assessment{}, fmt.Errorf("open upload: %w", err)
	}
	defer func() { _ = f.Close() }()

	url, err := g.blobs.Upload(ctx, blobPrefix+rec.Video.FileName, f, blobstore.Meta{
		ContentType: rec.Video.MimeType,
		Custom:      map[string]string{"assessmentType": rec.AssessmentType},
	})
	if err != nil {
		return model.Assessment{}, fmt.Errorf("upload video: %w", err)
	}
	rec.Video.URL = url

	id, err := g.docs.Create(ctx, Collection, rec)
	if err != nil {
		if derr := g.blobs.Delete(ctx, url); derr != nil {
			g.log.Warn(ctx, "failed to remove orphaned video",
				logger.String("url", url), logger.Error(derr))
		}
		return model.Assessment{}, fmt.Errorf("create document: %w", err)
	}
	rec.ID = id
	rec.Backend = model.BackendPrimary
	return rec, nil
}

func (g *Gateway) submitFallback(ctx context.Context, rec model.Assessment) (model.Assessment, error) {
	upload := rec.Video.Path
	f, err := os.Open(upload)
	if err != nil {
		return model.Assessment{}, fmt.Errorf("open upload: %w", err)
	}
	path, url, n, err := g.local.SaveVideo(rec.Video.FileName, f)
	_ = f.Close()
	if err != nil {
		return model.Assessment{}, err
	}
	rec.Video.Path = path
	rec.Video.URL = url
	rec.Video.Size = n

	a, err := g.local.Create(ctx, rec)
	if err != nil {
		_ = os.Remove(path)
		return model.Assessment{}, err
	}
	if upload != path {
		if err := os.Remove(upload); err != nil && !errors.Is(err, os.ErrNotExist) {
			g.log.Debug(ctx, "failed to remove temp upload", logger.String("path", upload), logger.Error(err))
		}
	}
	return a, nil
}

// Get returns the record addressed by ref.
func (g *Gateway) Get(ctx context.Context, ref model.Ref) (model.Assessment, error) {
	if ref.Backend == model.BackendFallback {
		return g.local.Get(ctx, ref.ID)
	}
	snap, err := g.docs.Get(ctx, Collection, ref.ID)
	if err != nil {
		return model.Assessment{}, err
	}
	var a model.Assessment
	if err := snap.Decode(&a); err != nil {
		return model.Assessment{}, fmt.Errorf("%w: decode assessment %s: %w", model.ErrStorage, ref.ID, err)
	}
	a.ID = snap.ID
	a.Backend = model.BackendPrimary
	return a, nil
}

// Update applies p to the record addressed by ref.
func (g *Gateway) Update(ctx context.Context, ref model.Ref, p lifecycle.Patch) error {
	if ref.Backend == model.BackendFallback {
		_, err := g.local.Update(ctx, ref.ID, p)
		return err
	}
	return g.docs.Update(ctx, Collection, ref.ID, p.Fields())
}

// List merges both backends, newest submission first, and returns one page.
// A failing primary degrades the listing to fallback records.
func (g *Gateway) List(ctx context.Context, f model.Filter) (model.Page, error) {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 {
		f.Limit = defaultLimit
	}

	var all []model.Assessment
	q := docstore.Query{OrderBy: []docstore.Order{{Field: "submissionDate", Kind: docstore.KindTime, Desc: true}}}.
		Where("status", string(f.Status)).
		Where("assessmentType", f.AssessmentType)
	snaps, perr := g.docs.Query(ctx, Collection, q)
	if perr != nil {
		g.log.Warn(ctx, "primary listing failed, serving fallback records only", logger.Error(perr))
	}
	for _, s := range snaps {
		var a model.Assessment
		if err := s.Decode(&a); err != nil {
			g.log.Warn(ctx, "skipping undecodable assessment", logger.String("id", s.ID), logger.Error(err))
			continue
		}
		a.ID = s.ID
		a.Backend = model.BackendPrimary
		all = append(all, a)
	}

	local, lerr := g.local.List(ctx)
	if lerr != nil {
		if perr != nil {
			return model.Page{}, fmt.Errorf("%w: primary: %v; fallback: %v", model.ErrStorage, perr, lerr)
		}
		g.log.Warn(ctx, "fallback listing failed", logger.Error(lerr))
	}
	for _, a := range local {
		if f.Matches(a) {
			all = append(all, a)
		}
	}

	sort.SliceStable(all, func(i, j int) bool {
		if !all[i].SubmissionDate.Equal(all[j].SubmissionDate) {
			return all[i].SubmissionDate.After(all[j].SubmissionDate)
		}
		return all[i].ID < all[j].ID
	})

	page := model.Page{
		Current:      f.Page,
		TotalRecords: len(all),
		Total:        (len(all) + f.Limit - 1) / f.Limit,
	}
	start := (f.Page - 1) * f.Limit
	if start < len(all) {
		end := min(start+f.Limit, len(all))
		page.Items = all[start:end]
	}
	if page.Items == nil {
		page.Items = []model.Assessment{}
	}
	return page, nil
}

// LocalVideo returns a readable local path of a's recording. Primary
// records whose local copy is gone are re-downloaded from the blob store.
// The returned bool reports whether a new local copy was written.
func (g *Gateway) LocalVideo(ctx context.Context, a model.Assessment) (string, bool, error) {
	if a.Video.Path != "" {
		if _, err := os.Stat(a.Video.Path); err == nil {
			return a.Video.Path, false, nil
		}
	}
	if a.Backend != model.BackendPrimary || a.Video.FileName == "" {
		return "", false, fmt.Errorf("%w: %s", model.ErrVideoMissing, a.ID)
	}

	rc, _, err := g.blobs.Open(ctx, blobPrefix+a.Video.FileName)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return "", false, fmt.Errorf("%w: %s", model.ErrVideoMissing, a.ID)
		}
		return "", false, fmt.Errorf("open stored video: %w", err)
	}
	defer func() { _ = rc.Close() }()

	if err := os.MkdirAll(g.uploadDir, 0o755); err != nil {
		return "", false, fmt.Errorf("create upload dir: %w", err)
	}
	dst := filepath.Join(g.uploadDir, filepath.Base(a.Video.FileName))
	out, err := os.CreateTemp(g.uploadDir, ".download-*")
	if err != nil {
		return "", false, fmt.Errorf("create local video: %w", err)
	}
	tmp := out.Name()
	_, err = io.Copy(out, rc)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return "", false, fmt.Errorf("download video: %w", err)
	}
	// readers of dst only ever see a complete file
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return "", false, fmt.Errorf("place local video: %w", err)
	}
	g.log.Debug(ctx, "re-downloaded video for analysis",
		logger.String("id", a.ID), logger.String("path", dst))
	return dst, true, nil
}

// ReleaseVideo removes the temporary local copy of a primary record's
// recording. Fallback records keep theirs since it is the only copy.
func (g *Gateway) ReleaseVideo(ctx context.Context, a model.Assessment) {
	if a.Backend != model.BackendPrimary || a.Video.Path == "" {
		return
	}
	if !strings.HasPrefix(filepath.Clean(a.Video.Path), filepath.Clean(g.uploadDir)+string(filepath.Separator)) {
		return
	}
	if err := os.Remove(a.Video.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		g.log.Warn(ctx, "failed to remove temp upload",
			logger.String("path", a.Video.Path), logger.Error(err))
	}
}

// Ping checks the primary document store.
func (g *Gateway) Ping(ctx context.Context) error {
	return g.docs.Ping(ctx)
}

// FallbackCount returns the number of records held locally.
func (g *Gateway) FallbackCount(ctx context.Context) (int, error) {
	list, err := g.local.List(ctx)
	return len(list), err
}
