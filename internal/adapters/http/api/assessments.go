package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"

	"github.com/okian/repscore/internal/adapters/gateway"
	"github.com/okian/repscore/internal/domain/model"
	"github.com/okian/repscore/internal/domain/types"
	"github.com/okian/repscore/pkg/logger"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
	multipartMemory  = 32 << 20

	// room for the form fields around a video at the size ceiling
	formAllowance = 1 << 20
)

// AssessmentHandler handles assessment requests.
type AssessmentHandler struct {
	deps      AssessmentDependencies
	uploadDir string
	maxBytes  int64
	logger    logger.Logger
}

// NewAssessmentHandler creates a new assessment handler.
func NewAssessmentHandler(deps AssessmentDependencies, uploadDir string, maxBytes int64, l logger.Logger) *AssessmentHandler {
	return &AssessmentHandler{deps: deps, uploadDir: uploadDir, maxBytes: maxBytes, logger: l}
}

// HandleSubmit handles POST /api/assessments/submit multipart uploads.
func (h *AssessmentHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	const op = "api.submit_assessment"
	ctx := r.Context()

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes+formAllowance)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			writeError(w, NewKind(op, ErrTooLarge))
			return
		}
		writeError(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, hdr, err := r.FormFile("video")
	if err != nil {
		writeError(w, NewKind(op, ErrMissingVideo))
		return
	}
	defer func() { _ = file.Close() }()
	if hdr.Size > h.maxBytes {
		writeError(w, NewKind(op, ErrTooLarge))
		return
	}

	mime := hdr.Header.Get("Content-Type")
	if !strings.HasPrefix(mime, "video/") {
		writeError(w, NewKind(op, ErrUnsupportedMedia))
		return
	}

	var meta map[string]any
	if raw := strings.TrimSpace(r.FormValue("metadata")); raw != "" {
		if err := json.Unmarshal([]byte(raw), &meta); err != nil {
			writeError(w, WrapKind(op, ErrBadRequest, errors.New("metadata must be a JSON object")))
			return
		}
	}

	video, err := h.save(file, hdr.Filename, mime)
	if err != nil {
		h.logger.Error(ctx, "failed to store upload", logger.Error(err))
		writeError(w, Wrap(op, err))
		return
	}

	a, err := h.deps.Submit(ctx, gateway.Submission{
		SportCategory:  strings.TrimSpace(r.FormValue("sportCategory")),
		AssessmentType: strings.TrimSpace(r.FormValue("assessmentType")),
		AthleteID:      strings.TrimSpace(r.FormValue("athleteId")),
		Metadata:       meta,
		Video:          video,
	})
	if err != nil {
		_ = os.Remove(video.Path)
		h.logFailure(r, op, err)
		writeError(w, Wrap(op, err))
		return
	}
	writeData(w, http.StatusCreated, "Assessment submitted successfully", a)
}

// save writes the upload into the upload directory under a unique name.
func (h *AssessmentHandler) save(src io.Reader, original, mime string) (gateway.UploadedVideo, error) {
	if err := os.MkdirAll(h.uploadDir, 0o755); err != nil {
		return gateway.UploadedVideo{}, fmt.Errorf("create upload dir: %w", err)
	}
	name := uploadName(original, time.Now())
	dst := filepath.Join(h.uploadDir, name)
	out, err := os.Create(dst)
	if err != nil {
		return gateway.UploadedVideo{}, fmt.Errorf("create upload: %w", err)
	}
	n, err := io.Copy(out, src)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(dst)
		return gateway.UploadedVideo{}, fmt.Errorf("write upload: %w", err)
	}
	return gateway.UploadedVideo{FileName: name, MimeType: mime, Size: n, Path: dst}, nil
}

// HandleList handles GET /api/assessments?status&assessmentType&page&limit.
func (h *AssessmentHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	const op = "api.list_assessments"

	page, ok := queryInt(r, "page", 1)
	if !ok {
		writeError(w, WrapKind(op, ErrBadRequest, errors.New("page must be a positive integer")))
		return
	}
	limit, ok := queryInt(r, "limit", defaultPageLimit)
	if !ok || limit > maxPageLimit {
		writeError(w, WrapKind(op, ErrBadRequest, fmt.Errorf("limit must be between 1 and %d", maxPageLimit)))
		return
	}
	status := model.Status(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		writeError(w, WrapKind(op, ErrBadRequest, fmt.Errorf("unknown status %q", status)))
		return
	}

	res, err := h.deps.List(r.Context(), model.Filter{
		Status:         status,
		AssessmentType: r.URL.Query().Get("assessmentType"),
		Page:           page,
		Limit:          limit,
	})
	if err != nil {
		h.logFailure(r, op, err)
		writeError(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, envelope{
		Success: true,
		Data:    res.Items,
		Pagination: &pagination{
			Current:      res.Current,
			Total:        res.Total,
			Count:        len(res.Items),
			TotalRecords: res.TotalRecords,
		},
	})
}

// HandleGet handles GET /api/assessments/{id}.
func (h *AssessmentHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	d, err := h.deps.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.logFailure(r, "api.get_assessment", err)
		writeError(w, Wrap("api.get_assessment", err))
		return
	}
	writeData(w, http.StatusOK, "", d)
}

// HandleAIAnalysis handles GET /api/assessments/{id}/ai-analysis.
func (h *AssessmentHandler) HandleAIAnalysis(w http.ResponseWriter, r *http.Request) {
	rep, err := h.deps.AIAnalysis(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.logFailure(r, "api.get_ai_analysis", err)
		writeError(w, Wrap("api.get_ai_analysis", err))
		return
	}
	writeData(w, http.StatusOK, "", rep)
}

// HandleVerify handles GET /api/assessments/{id}/verify.
func (h *AssessmentHandler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	v, err := h.deps.Verify(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.logFailure(r, "api.verify_assessment", err)
		writeError(w, Wrap("api.verify_assessment", err))
		return
	}
	writeData(w, http.StatusOK, "", v)
}

// HandleEvaluate handles PUT /api/assessments/{id}/evaluate.
func (h *AssessmentHandler) HandleEvaluate(w http.ResponseWriter, r *http.Request) {
	const op = "api.evaluate_assessment"
	var req types.EvaluationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, WrapKind(op, ErrBadRequest, errors.New("invalid JSON body")))
		return
	}
	a, err := h.deps.Evaluate(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		h.logFailure(r, op, err)
		writeError(w, Wrap(op, err))
		return
	}
	writeData(w, http.StatusOK, "Assessment evaluated successfully", a)
}

// HandleProcessAI handles POST /api/assessments/{id}/process-ai.
func (h *AssessmentHandler) HandleProcessAI(w http.ResponseWriter, r *http.Request) {
	a, err := h.deps.ProcessAI(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.logFailure(r, "api.process_ai", err)
		writeError(w, Wrap("api.process_ai", err))
		return
	}
	writeData(w, http.StatusOK, "AI processing started", a)
}

// HandleReprocess handles POST /api/assessments/{id}/reprocess.
func (h *AssessmentHandler) HandleReprocess(w http.ResponseWriter, r *http.Request) {
	a, err := h.deps.Reprocess(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.logFailure(r, "api.reprocess", err)
		writeError(w, Wrap("api.reprocess", err))
		return
	}
	writeData(w, http.StatusOK, "AI reprocessing started", a)
}

// logFailure logs errors that map to a server failure.
func (h *AssessmentHandler) logFailure(r *http.Request, op string, err error) {
	if status, _ := classify(err); status >= http.StatusInternalServerError {
		h.logger.Error(r.Context(), "request failed",
			logger.String("op", op),
			logger.String("path", r.URL.Path),
			logger.Error(err))
	}
}
