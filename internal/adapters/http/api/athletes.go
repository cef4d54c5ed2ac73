package api

import (
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"

	"github.com/okian/repscore/internal/adapters/repository"
	"github.com/okian/repscore/internal/domain/model"
)

// maxPhotoBytes caps a profile photo upload.
const maxPhotoBytes = 5 << 20

// AthleteHandler handles athlete requests. Register and update accept JSON,
// or multipart forms carrying an optional profilePhoto image.
type AthleteHandler struct {
	deps AthleteDependencies
}

// NewAthleteHandler creates a new athlete handler.
func NewAthleteHandler(deps AthleteDependencies) *AthleteHandler {
	return &AthleteHandler{deps: deps}
}

// registerRequest is the body of POST /api/athletes/register.
type registerRequest struct {
	Name        string  `json:"name"`
	Email       string  `json:"email"`
	Age         int     `json:"age"`
	State       string  `json:"state"`
	District    string  `json:"district"`
	Sport       string  `json:"sport"`
	PhoneNumber string  `json:"phoneNumber"`
	Height      float64 `json:"height"`
	Weight      float64 `json:"weight"`
}

// HandleRegister handles POST /api/athletes/register.
func (h *AthleteHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	const op = "api.register_athlete"
	var (
		req   registerRequest
		photo *repository.Photo
	)
	if isMultipart(r) {
		form, cleanup, err := parsePhotoForm(w, r)
		if err != nil {
			writeError(w, WrapKind(op, ErrBadRequest, err))
			return
		}
		defer cleanup()
		if req, err = registerFromForm(form); err != nil {
			writeError(w, WrapKind(op, ErrBadRequest, err))
			return
		}
		photo = form.photo
	} else if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, WrapKind(op, ErrBadRequest, errors.New("invalid JSON body")))
		return
	}

	a, err := h.deps.RegisterAthlete(r.Context(), model.Athlete{
		Name:        req.Name,
		Email:       req.Email,
		Age:         req.Age,
		State:       req.State,
		District:    req.District,
		Sport:       req.Sport,
		PhoneNumber: req.PhoneNumber,
		Height:      req.Height,
		Weight:      req.Weight,
	}, photo)
	if err != nil {
		writeError(w, Wrap(op, err))
		return
	}
	writeData(w, http.StatusCreated, "Athlete registered successfully", a)
}

// HandleList handles GET /api/athletes?status&sport&ageGroup&state&district.
func (h *AthleteHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	list, err := h.deps.Athletes(r.Context(), model.AthleteFilter{
		Status:   q.Get("status"),
		Sport:    q.Get("sport"),
		AgeGroup: q.Get("ageGroup"),
		State:    q.Get("state"),
		District: q.Get("district"),
	})
	if err != nil {
		writeError(w, Wrap("api.list_athletes", err))
		return
	}
	writeData(w, http.StatusOK, "", list)
}

// HandleGet handles GET /api/athletes/{id}.
func (h *AthleteHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	a, err := h.deps.Athlete(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, Wrap("api.get_athlete", err))
		return
	}
	writeData(w, http.StatusOK, "", a)
}

// HandleUpdate handles PUT /api/athletes/{id}.
func (h *AthleteHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	const op = "api.update_athlete"
	var req repository.ProfileUpdate
	if isMultipart(r) {
		form, cleanup, err := parsePhotoForm(w, r)
		if err != nil {
			writeError(w, WrapKind(op, ErrBadRequest, err))
			return
		}
		defer cleanup()
		if req, err = updateFromForm(form); err != nil {
			writeError(w, WrapKind(op, ErrBadRequest, err))
			return
		}
	} else if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, WrapKind(op, ErrBadRequest, errors.New("invalid JSON body")))
		return
	}

	a, err := h.deps.UpdateAthlete(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		writeError(w, Wrap(op, err))
		return
	}
	writeData(w, http.StatusOK, "Athlete updated successfully", a)
}

func isMultipart(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mt == "multipart/form-data"
}

// photoForm is a parsed athlete form. Values holds the first value per key.
type photoForm struct {
	values map[string]string
	photo  *repository.Photo
}

// parsePhotoForm reads a multipart athlete form. The returned cleanup closes
// the photo and removes spooled parts.
func parsePhotoForm(w http.ResponseWriter, r *http.Request) (photoForm, func(), error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxPhotoBytes+formAllowance)
	if err := r.ParseMultipartForm(maxPhotoBytes); err != nil {
		return photoForm{}, nil, fmt.Errorf("invalid form: %w", err)
	}
	form := photoForm{values: make(map[string]string, len(r.MultipartForm.Value))}
	for k, v := range r.MultipartForm.Value {
		if len(v) > 0 {
			form.values[k] = v[0]
		}
	}
	cleanup := func() { _ = r.MultipartForm.RemoveAll() }

	file, hdr, err := r.FormFile("profilePhoto")
	switch {
	case errors.Is(err, http.ErrMissingFile):
		return form, cleanup, nil
	case err != nil:
		cleanup()
		return photoForm{}, nil, fmt.Errorf("invalid profile photo: %w", err)
	}
	if hdr.Size > maxPhotoBytes {
		_ = file.Close()
		cleanup()
		return photoForm{}, nil, errors.New("profile photo exceeds 5MB")
	}
	form.photo = &repository.Photo{
		FileName:    hdr.Filename,
		ContentType: hdr.Header.Get("Content-Type"),
		Size:        hdr.Size,
		Body:        file,
	}
	return form, func() {
		_ = file.Close()
		cleanup()
	}, nil
}

func registerFromForm(f photoForm) (registerRequest, error) {
	req := registerRequest{
		Name:        f.values["name"],
		Email:       f.values["email"],
		State:       f.values["state"],
		District:    f.values["district"],
		Sport:       f.values["sport"],
		PhoneNumber: f.values["phoneNumber"],
	}
	var err error
	if v, ok := f.values["age"]; ok {
		if req.Age, err = strconv.Atoi(v); err != nil {
			return req, errors.New("age must be an integer")
		}
	}
	if req.Height, err = formFloat(f.values, "height"); err != nil {
		return req, err
	}
	if req.Weight, err = formFloat(f.values, "weight"); err != nil {
		return req, err
	}
	return req, nil
}

func updateFromForm(f photoForm) (repository.ProfileUpdate, error) {
	u := repository.ProfileUpdate{Photo: f.photo}
	str := func(k string) *string {
		if v, ok := f.values[k]; ok {
			return &v
		}
		return nil
	}
	u.Name, u.State, u.District = str("name"), str("state"), str("district")
	u.Sport, u.PhoneNumber = str("sport"), str("phoneNumber")

	if v, ok := f.values["age"]; ok {
		age, err := strconv.Atoi(v)
		if err != nil {
			return u, errors.New("age must be an integer")
		}
		u.Age = &age
	}
	for k, dst := range map[string]**float64{"height": &u.Height, "weight": &u.Weight} {
		if _, ok := f.values[k]; !ok {
			continue
		}
		n, err := formFloat(f.values, k)
		if err != nil {
			return u, err
		}
		*dst = &n
	}
	return u, nil
}

func formFloat(values map[string]string, key string) (float64, error) {
	v, ok := values[key]
	if !ok || v == "" {
		return 0, nil
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number", key)
	}
	return n, nil
}
