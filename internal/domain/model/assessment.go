// Package model contains domain models passed between layers.
package model

import (
	"strings"
	"time"
)

// Status is the lifecycle state of an assessment.
type Status string

const (
	StatusProcessing Status = "Processing"
	StatusPending    Status = "Pending"
	StatusEvaluated  Status = "Evaluated"
	StatusFailed     Status = "Failed"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusProcessing, StatusPending, StatusEvaluated, StatusFailed:
		return true
	}
	return false
}

// Test types known to the platform.
const (
	TestSitUps       = "sit-ups"
	TestPushUps      = "push-ups"
	TestVerticalJump = "vertical-jump"
	TestShuttleRun   = "shuttle-run"
	TestSprint       = "sprint"
	TestEndurance    = "endurance"
)

// KnownTestTypes lists every test type an athlete can hold a best score for.
var KnownTestTypes = []string{
	TestSitUps, TestPushUps, TestVerticalJump, TestSprint, TestEndurance, TestShuttleRun,
}

// Backend identifies which store owns a record.
type Backend int

const (
	BackendPrimary Backend = iota
	BackendFallback
)

func (b Backend) String() string {
	if b == BackendFallback {
		return "fallback"
	}
	return "primary"
}

// FallbackPrefix marks identifiers minted by the local fallback store.
const FallbackPrefix = "local_"

// Ref addresses an assessment in exactly one backend.
type Ref struct {
	Backend Backend
	ID      string
}

// ParseRef interprets a client supplied identifier.
func ParseRef(id string) Ref {
	if strings.HasPrefix(id, FallbackPrefix) {
		return Ref{Backend: BackendFallback, ID: id}
	}
	return Ref{Backend: BackendPrimary, ID: id}
}

func (r Ref) String() string { return r.ID }

// Video describes the stored recording of an assessment.
type Video struct {
	URL      string `json:"videoUrl"`
	FileName string `json:"videoFileName"`
	Size     int64  `json:"videoSize"`
	MimeType string `json:"videoMimeType"`
	// Path is the local copy used as analysis input.
	Path string `json:"videoPath,omitempty"`
}

// AdditionalMetrics carries exercise specific worker output.
type AdditionalMetrics struct {
	JumpHeights   []float64 `json:"jumpHeights,omitempty"`
	AverageHeight float64   `json:"averageHeight,omitempty"`
}

// AIAnalysis is the automated analysis outcome stored on an assessment.
type AIAnalysis struct {
	RepCount          int                `json:"aiRepCount"`
	TechniqueScore    float64            `json:"aiTechniqueScore"`
	Notes             string             `json:"aiNotes"`
	ProcessingTime    float64            `json:"processingTime"`
	AdditionalMetrics *AdditionalMetrics `json:"additionalMetrics,omitempty"`
	Error             string             `json:"error,omitempty"`
}

// Failed reports whether the analysis ended in an error.
func (a AIAnalysis) Failed() bool { return a.Error != "" }

// Evaluation is the human evaluator's verdict.
type Evaluation struct {
	Score          *float64   `json:"score"`
	EvaluatorNotes string     `json:"evaluatorNotes"`
	EvaluatedBy    string     `json:"evaluatedBy,omitempty"`
	EvaluationDate *time.Time `json:"evaluationDate,omitempty"`
}

// Assessment is one submitted exercise recording and its outcomes.
type Assessment struct {
	ID      string  `json:"id"`
	Backend Backend `json:"-"`

	SportCategory  string         `json:"sportCategory"`
	AssessmentType string         `json:"assessmentType"`
	AthleteID      string         `json:"athleteId,omitempty"`
	Video
	SubmissionDate time.Time      `json:"submissionDate"`
	Metadata       map[string]any `json:"metadata"`
	BlockchainHash string         `json:"blockchainHash"`
	TransactionID  string         `json:"transactionId"`

	Status     Status     `json:"status"`
	AIAnalysis AIAnalysis `json:"aiAnalysis"`
	Evaluation Evaluation `json:"evaluation"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Ref returns the tagged reference of the record.
func (a Assessment) Ref() Ref { return Ref{Backend: a.Backend, ID: a.ID} }

// Filter selects assessments for listing. Empty fields match everything.
type Filter struct {
	Status         Status
	AssessmentType string
	Page           int
	Limit          int
}

// Matches reports whether a satisfies the filter's exact-match predicates.
func (f Filter) Matches(a Assessment) bool {
	if f.Status != "" && a.Status != f.Status {
		return false
	}
	if f.AssessmentType != "" && a.AssessmentType != f.AssessmentType {
		return false
	}
	return true
}

// Page is one slice of a filtered listing.
type Page struct {
	Items        []Assessment
	Current      int
	Total        int
	TotalRecords int
}
