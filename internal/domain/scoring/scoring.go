// Package scoring turns repetition counts into bounded technique scores and
// human readable analysis notes.
package scoring

import (
	"fmt"
	"math"
	"strings"
)

// Default scoring configuration constants.
const (
	defaultBaseScore = 0.7
	zeroRepScore     = 0.1
	maxScoreValue    = 1.0
)

// Rep count bands. Each band's upper bound is exclusive.
const (
	lowRepBound       = 5
	moderateRepBound  = 10
	excellentRepBound = 20
)

// Band multipliers applied to the per-type base score.
const (
	lowMultiplier         = 0.6
	moderateMultiplier    = 0.8
	excellentMultiplier   = 1.0
	outstandingMultiplier = 1.2
)

var defaultBaseScores = map[string]float64{
	"shuttle-run":   0.7,
	"sit-ups":       0.8,
	"vertical-jump": 0.75,
	"push-ups":      0.8,
}

var displayNames = map[string]string{
	"shuttle-run":   "shuttle run",
	"sit-ups":       "sit-ups",
	"vertical-jump": "vertical jump",
	"push-ups":      "push-ups",
}

// Option applies a configuration option to the Scorer.
type Option func(*Scorer)

// WithBaseScores overrides per-type base scores. Values outside (0,1] are ignored.
func WithBaseScores(bases map[string]float64, defaultBase float64) Option {
	return func(s *Scorer) {
		for t, b := range bases {
			if b > 0 && b <= maxScoreValue {
				s.bases[t] = b
			}
		}
		if defaultBase > 0 && defaultBase <= maxScoreValue {
			s.defaultBase = defaultBase
		}
	}
}

// Input abstracts the worker output needed for scoring.
type Input struct {
	TestType      string
	RepCount      int
	AverageHeight float64
	UpThreshold   *float64
	DownThreshold *float64
	WarmupFrames  *int
}

// Result contains the derived score and notes.
type Result struct {
	TechniqueScore float64
	Notes          string
}

// Scorer derives technique scores. It holds only immutable configuration and
// is safe for concurrent use.
type Scorer struct {
	bases       map[string]float64
	defaultBase float64
}

// NewScorer creates a scorer with the standard base scores.
func NewScorer(opts ...Option) *Scorer {
	s := &Scorer{
		bases:       make(map[string]float64, len(defaultBaseScores)),
		defaultBase: defaultBaseScore,
	}
	for t, b := range defaultBaseScores {
		s.bases[t] = b
	}

	// Apply all options
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Base returns the base score for a test type.
func (s *Scorer) Base(testType string) float64 {
	if b, ok := s.bases[testType]; ok {
		return b
	}
	return s.defaultBase
}

// TechniqueScore maps a repetition count to [0,1]. Zero repetitions always
// yield the floor regardless of type.
func (s *Scorer) TechniqueScore(testType string, reps int) float64 {
	if reps <= 0 {
		return zeroRepScore
	}
	base := s.Base(testType)
	var m float64
	switch {
	case reps < lowRepBound:
		m = lowMultiplier
	case reps < moderateRepBound:
		m = moderateMultiplier
	case reps < excellentRepBound:
		m = excellentMultiplier
	default:
		m = outstandingMultiplier
	}
	return math.Max(0, math.Min(maxScoreValue, base*m))
}

// Notes renders the analysis summary for in.
func (s *Scorer) Notes(in Input) string {
	var b strings.Builder
	fmt.Fprintf(&b, "AI detected %d %s repetitions. ", in.RepCount, DisplayName(in.TestType))

	switch {
	case in.RepCount <= 0:
		b.WriteString("No clear repetitions detected. Please ensure proper form and lighting.")
	case in.RepCount < lowRepBound:
		b.WriteString("Low repetition count detected. Consider improving technique or duration.")
	case in.RepCount < moderateRepBound:
		b.WriteString("Good repetition count. Technique appears consistent.")
	case in.RepCount < excellentRepBound:
		b.WriteString("Excellent repetition count. Strong performance detected.")
	default:
		b.WriteString("Outstanding repetition count. Exceptional performance detected.")
	}

	if in.TestType == "vertical-jump" && in.AverageHeight > 0 {
		fmt.Fprintf(&b, " Average jump height: %.1f pixels.", in.AverageHeight)
	}
	if in.UpThreshold != nil && in.DownThreshold != nil {
		fmt.Fprintf(&b, " Thresholds - Up: %.1f, Down: %.1f", *in.UpThreshold, *in.DownThreshold)
	}
	if in.WarmupFrames != nil {
		fmt.Fprintf(&b, " Warmup: %d frames", *in.WarmupFrames)
	}
	return b.String()
}

// Score computes both the technique score and notes.
func (s *Scorer) Score(in Input) Result {
	return Result{
		TechniqueScore: s.TechniqueScore(in.TestType, in.RepCount),
		Notes:          s.Notes(in),
	}
}

// DisplayName returns the human readable name used in notes.
func DisplayName(testType string) string {
	if n, ok := displayNames[testType]; ok {
		return n
	}
	return testType
}
