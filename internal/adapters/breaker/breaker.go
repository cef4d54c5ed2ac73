// Package breaker guards the primary backends with a circuit breaker so a
// failing database is skipped quickly and the fallback store takes over.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/okian/repscore/internal/domain/model"
	"github.com/okian/repscore/pkg/logger"
	"github.com/okian/repscore/pkg/metrics"
)

// ErrUnavailable is returned while the breaker rejects calls.
var ErrUnavailable = fmt.Errorf("%w: primary backend unavailable", model.ErrStorage)

// Settings tunes when the breaker opens and how it recovers.
type Settings struct {
	MaxRequests  uint32        // calls allowed while half-open
	Interval     time.Duration // closed-state count reset period
	Timeout      time.Duration // open duration before half-open
	MinRequests  uint32
	FailureRatio float64
}

// DefaultSettings mirrors the configuration defaults.
func DefaultSettings() Settings {
	return Settings{
		MaxRequests:  3,
		Interval:     time.Minute,
		Timeout:      30 * time.Second,
		MinRequests:  5,
		FailureRatio: 0.6,
	}
}

// Breaker wraps a gobreaker instance with metrics and logging.
type Breaker struct {
	name string
	cb   *gobreaker.CircuitBreaker[any]
	log  logger.Logger
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithLogger sets the logger used for state transitions.
func WithLogger(l logger.Logger) Option {
	return func(b *Breaker) { b.log = l }
}

// New creates a breaker named name.
func New(name string, s Settings, opts ...Option) *Breaker {
	b := &Breaker{name: name, log: logger.Nop()}
	for _, opt := range opts {
		opt(b)
	}

	metrics.UpdateBreakerState(name, 0)

	b.cb = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: s.MaxRequests,
		Interval:    s.Interval,
		Timeout:     s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < s.MinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= s.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.log.Warn(context.Background(), "circuit breaker state transition",
				logger.String("breaker", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()))
			metrics.UpdateBreakerState(name, stateToFloat(to))
		},
		IsSuccessful: isSuccessful,
	})
	return b
}

// isSuccessful keeps caller mistakes from counting against the backend.
func isSuccessful(err error) bool {
	return err == nil ||
		errors.Is(err, model.ErrNotFound) ||
		errors.Is(err, model.ErrValidation) ||
		errors.Is(err, context.Canceled)
}

func stateToFloat(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

// Name returns the breaker name.
func (b *Breaker) Name() string { return b.name }

// State returns the current state as text.
func (b *Breaker) State() string { return b.cb.State().String() }

// Do runs fn through the breaker.
func (b *Breaker) Do(fn func() error) error {
	_, err := Execute(b, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// Execute runs fn through b and returns its typed result.
func Execute[T any](b *Breaker, fn func() (T, error)) (T, error) {
	res, err := b.cb.Execute(func() (any, error) {
		return fn()
	})
	if err != nil {
		var zero T
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.RecordBreakerRequest(b.name, "rejected")
			return zero, fmt.Errorf("%w: %s %w", ErrUnavailable, b.name, err)
		}
		if isSuccessful(err) {
			metrics.RecordBreakerRequest(b.name, "success")
		} else {
			metrics.RecordBreakerRequest(b.name, "failure")
		}
		return zero, err
	}
	metrics.RecordBreakerRequest(b.name, "success")
	v, _ := res.(T)
	return v, nil
}
