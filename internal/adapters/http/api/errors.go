package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/okian/repscore/internal/domain/model"
)

// Sentinel kinds for API errors.
var (
	ErrBadRequest       = fmt.Errorf("%w: bad request", model.ErrValidation)
	ErrUnsupportedMedia = fmt.Errorf("%w: only video files are allowed", model.ErrValidation)
	ErrTooLarge         = fmt.Errorf("%w: video exceeds the upload limit", model.ErrValidation)
	ErrMissingVideo     = fmt.Errorf("%w: no video file uploaded", model.ErrValidation)
)

// OpError records the handler operation that failed.
type OpError struct {
	Op   string
	Kind error
	Err  error
}

func (e *OpError) Error() string {
	switch {
	case e.Kind != nil && e.Err != nil:
		return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
	case e.Kind != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Op
}

// Unwrap exposes both the kind and the cause to errors.Is.
func (e *OpError) Unwrap() []error {
	var out []error
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// NewKind returns an error of kind raised by op.
func NewKind(op string, kind error) error {
	return &OpError{Op: op, Kind: kind}
}

// WrapKind wraps err as kind raised by op.
func WrapKind(op string, kind, err error) error {
	return &OpError{Op: op, Kind: kind, Err: err}
}

// Wrap annotates err with op, keeping its kind.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &OpError{Op: op, Err: err}
}

// classify maps an error to its HTTP status and code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, ErrTooLarge):
		return http.StatusRequestEntityTooLarge, "too_large"
	case errors.Is(err, model.ErrVideoMissing):
		return http.StatusBadRequest, "video_missing"
	case errors.Is(err, model.ErrValidation):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, model.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, model.ErrStorage):
		return http.StatusInternalServerError, "storage_unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// message is the client facing text of err. Internal failures do not leak
// their causes.
func message(status int, err error) string {
	if status >= http.StatusInternalServerError {
		if errors.Is(err, model.ErrStorage) {
			return "Storage is unavailable, please try again later"
		}
		return http.StatusText(status)
	}
	var op *OpError
	for errors.As(err, &op) {
		if op.Err == nil {
			err = op.Kind
			break
		}
		err = op.Err
	}
	msg := err.Error()
	for _, kind := range []error{model.ErrValidation, model.ErrConflict} {
		msg = strings.TrimPrefix(msg, kind.Error()+": ")
	}
	return msg
}
