// Package repository holds the athlete repository and the in-memory athlete
// ranking index ordered by average best score.
package repository

import "context"

// Entry is one ranking row.
type Entry struct {
	Rank      int     `json:"rank"`
	AthleteID string  `json:"athleteId"`
	Name      string  `json:"name"`
	Score     float64 `json:"averageScore"`
}

// Ranking provides read/write access to the ranking state.
type Ranking interface {
	// Set places an athlete at score, replacing any previous position.
	// Non-positive scores remove the athlete. Reports whether anything changed.
	Set(ctx context.Context, athleteID, name string, score float64) bool

	// Remove drops an athlete from the ranking.
	Remove(ctx context.Context, athleteID string) bool

	// Rank returns the current rank and score for an athlete.
	// Returns ErrNotRanked if the athlete has no position.
	Rank(ctx context.Context, athleteID string) (Entry, error)

	// TopN returns the top-N entries ordered by score desc.
	TopN(ctx context.Context, n int) ([]Entry, error)

	// Count returns the number of ranked athletes.
	Count(ctx context.Context) int
}
