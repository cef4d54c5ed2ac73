package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/okian/repscore/internal/adapters/blobstore"
	"github.com/okian/repscore/internal/adapters/docstore"
	"github.com/okian/repscore/internal/domain/model"
	"github.com/okian/repscore/internal/validation"
	"github.com/okian/repscore/pkg/logger"
)

// AthleteCollection is the document collection holding athletes.
const AthleteCollection = "athletes"

const (
	defaultSport = "General"
	statusActive = "active"
)

// ProfileUpdate carries optional athlete profile changes. Nil fields are kept.
type ProfileUpdate struct {
	Name        *string  `json:"name" validate:"omitempty,min=1"`
	Age         *int     `json:"age" validate:"omitempty,min=10,max=50"`
	State       *string  `json:"state" validate:"omitempty,min=1"`
	District    *string  `json:"district" validate:"omitempty,min=1"`
	Sport       *string  `json:"sport" validate:"omitempty,min=1"`
	PhoneNumber *string  `json:"phoneNumber"`
	Height      *float64 `json:"height" validate:"omitempty,gt=0"`
	Weight      *float64 `json:"weight" validate:"omitempty,gt=0"`

	// Photo replaces the profile photo; the previous one is deleted.
	Photo *Photo `json:"-" validate:"-"`
}

// Athletes persists athlete records in the document store.
type Athletes struct {
	docs   docstore.Store
	photos blobstore.Store
	logger logger.Logger
	now    func() time.Time

	// mu serializes registration so the email check and the insert are atomic
	// within this process.
	mu sync.Mutex
}

// NewAthletes creates a repository over docs.
func NewAthletes(docs docstore.Store, opts ...Option) *Athletes {
	r := &Athletes{docs: docs, logger: logger.Nop(), now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register validates a and stores it with derived and default fields.
func (r *Athletes) Register(ctx context.Context, a model.Athlete) (model.Athlete, error) {
	a.Email = strings.ToLower(strings.TrimSpace(a.Email))
	if err := validation.Struct(&a); err != nil {
		return model.Athlete{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, err := r.docs.Query(ctx, AthleteCollection, docstore.Query{}.Where("email", a.Email))
	if err != nil {
		return model.Athlete{}, fmt.Errorf("check athlete email: %w", err)
	}
	if len(existing) > 0 {
		return model.Athlete{}, ErrDuplicateEmail
	}

	now := r.now().UTC()
	if a.Sport == "" {
		a.Sport = defaultSport
	}
	a.AgeGroup = model.AgeGroup(a.Age)
	a.Status = statusActive
	a.RegistrationDate = now
	a.UpdatedAt = now
	a.BestScores = model.DefaultBestScores()
	a.AverageScore = 0

	id, err := r.docs.Create(ctx, AthleteCollection, a)
	if err != nil {
		return model.Athlete{}, fmt.Errorf("create athlete: %w", err)
	}
	a.ID = id
	return a, nil
}

// Get returns the athlete with id.
func (r *Athletes) Get(ctx context.Context, id string) (model.Athlete, error) {
	snap, err := r.docs.Get(ctx, AthleteCollection, id)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return model.Athlete{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return model.Athlete{}, err
	}
	return decodeAthlete(snap)
}

// List returns athletes matching f ordered by average score, best first.
func (r *Athletes) List(ctx context.Context, f model.AthleteFilter) ([]model.Athlete, error) {
	q := docstore.Query{OrderBy: []docstore.Order{{Field: "averageScore", Kind: docstore.KindNumber, Desc: true}}}.
		Where("status", f.Status).
		Where("sport", f.Sport).
		Where("ageGroup", f.AgeGroup).
		Where("state", f.State).
		Where("district", f.District)
	snaps, err := r.docs.Query(ctx, AthleteCollection, q)
	if err != nil {
		return nil, fmt.Errorf("list athletes: %w", err)
	}
	out := make([]model.Athlete, 0, len(snaps))
	for _, s := range snaps {
		a, err := decodeAthlete(s)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// UpdateProfile applies u to the athlete with id and returns the result.
func (r *Athletes) UpdateProfile(ctx context.Context, id string, u ProfileUpdate) (model.Athlete, error) {
	if err := validation.Struct(&u); err != nil {
		return model.Athlete{}, err
	}
	before, err := r.Get(ctx, id)
	if err != nil {
		return model.Athlete{}, err
	}

	fields := map[string]any{"updatedAt": r.now().UTC()}
	var photo string
	if u.Photo != nil {
		if photo, err = r.UploadPhoto(ctx, *u.Photo); err != nil {
			return model.Athlete{}, err
		}
		fields["profilePhoto"] = photo
	}
	set := func(k string, v any) { fields[k] = v }
	if u.Name != nil {
		set("name", *u.Name)
	}
	if u.Age != nil {
		set("age", *u.Age)
		set("ageGroup", model.AgeGroup(*u.Age))
	}
	if u.State != nil {
		set("state", *u.State)
	}
	if u.District != nil {
		set("district", *u.District)
	}
	if u.Sport != nil {
		set("sport", *u.Sport)
	}
	if u.PhoneNumber != nil {
		set("phoneNumber", *u.PhoneNumber)
	}
	if u.Height != nil {
		set("height", *u.Height)
	}
	if u.Weight != nil {
		set("weight", *u.Weight)
	}
	if err := r.docs.Update(ctx, AthleteCollection, id, fields); err != nil {
		r.dropPhoto(ctx, photo)
		return model.Athlete{}, fmt.Errorf("update athlete: %w", err)
	}
	if photo != "" {
		r.dropPhoto(ctx, before.ProfilePhoto)
	}
	return r.Get(ctx, id)
}

// dropPhoto deletes url, logging failures.
func (r *Athletes) dropPhoto(ctx context.Context, url string) {
	if err := r.DeletePhoto(ctx, url); err != nil {
		r.logger.Warn(ctx, "failed to delete profile photo",
			logger.String("url", url), logger.Error(err))
	}
}

// SaveScores persists a's best scores and average.
func (r *Athletes) SaveScores(ctx context.Context, a model.Athlete) error {
	err := r.docs.Update(ctx, AthleteCollection, a.ID, map[string]any{
		"bestScores":   a.BestScores,
		"averageScore": a.AverageScore,
		"updatedAt":    r.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("save athlete scores: %w", err)
	}
	return nil
}

func decodeAthlete(s docstore.Snapshot) (model.Athlete, error) {
	var a model.Athlete
	if err := s.Decode(&a); err != nil {
		return model.Athlete{}, fmt.Errorf("%w: decode athlete %s: %w", model.ErrStorage, s.ID, err)
	}
	a.ID = s.ID
	if a.BestScores == nil {
		a.BestScores = model.DefaultBestScores()
	}
	return a, nil
}
