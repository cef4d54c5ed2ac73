package repository

import (
	"fmt"

	"github.com/okian/repscore/internal/domain/model"
)

// Sentinel kinds for repository errors.
var (
	ErrNotFound       = fmt.Errorf("athlete %w", model.ErrNotFound)
	ErrNotRanked      = fmt.Errorf("athlete ranking %w", model.ErrNotFound)
	ErrInvalidLimit   = fmt.Errorf("%w: invalid ranking limit", model.ErrValidation)
	ErrDuplicateEmail = fmt.Errorf("%w: athlete with this email already exists", model.ErrValidation)
	ErrPhotosDisabled = fmt.Errorf("%w: profile photos are not enabled", model.ErrValidation)
	ErrNotImage       = fmt.Errorf("%w: only image files are allowed", model.ErrValidation)
)
