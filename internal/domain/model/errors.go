package model

import "errors"

// Sentinel error kinds shared across layers. Match with errors.Is.
var (
	ErrValidation   = errors.New("validation failed")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrStorage      = errors.New("storage unavailable")
	ErrVideoMissing = errors.New("video file not found")
)
