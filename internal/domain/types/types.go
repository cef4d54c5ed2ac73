// Package types contains the read shapes shared by the service and the HTTP API.
package types

import (
	"github.com/okian/repscore/internal/domain/model"
	"github.com/okian/repscore/internal/domain/verify"
)

// Entry represents a ranking row.
type Entry struct {
	Rank      int     `json:"rank"`
	AthleteID string  `json:"athleteId"`
	Name      string  `json:"name"`
	Score     float64 `json:"averageScore"`
}

// AssessmentDetail is an assessment with its athlete embedded when one resolves.
type AssessmentDetail struct {
	model.Assessment
	Athlete *model.Athlete `json:"athlete,omitempty"`
}

// AnalysisReport is the analysis view of one assessment.
type AnalysisReport struct {
	ID             string           `json:"id"`
	AssessmentType string           `json:"assessmentType"`
	Status         model.Status     `json:"status"`
	AIAnalysis     model.AIAnalysis `json:"aiAnalysis"`
}

// Verification reports whether an assessment's identifiers are well formed.
type Verification struct {
	ID             string `json:"id"`
	BlockchainHash string `json:"blockchainHash"`
	TransactionID  string `json:"transactionId"`
	verify.Result
}

// EvaluationRequest is a human evaluator's verdict.
type EvaluationRequest struct {
	Score          *float64 `json:"score" validate:"required,gte=0,lte=100"`
	EvaluatorNotes string   `json:"evaluatorNotes"`
	EvaluatedBy    string   `json:"evaluatedBy"`
}
