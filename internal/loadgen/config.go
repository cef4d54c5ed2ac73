package loadgen

import (
	"time"

	"github.com/okian/repscore/internal/domain/model"
)

// Config holds configuration for a load run.
type Config struct {
	BaseURL       string        // Base URL of the service
	Athletes      int           // Number of athletes to register
	Submissions   int           // Number of assessments to submit
	TestTypes     []string      // Test types drawn for submissions
	TopN          int           // Number of ranking entries to fetch
	Workers       int           // Number of concurrent requests
	Timeout       time.Duration // HTTP request timeout
	SettleTimeout time.Duration // How long to wait for analyses to finish
	PollInterval  time.Duration // Delay between status polls
	VideoSize     int           // Bytes of synthetic video per submission
	Seed          uint64        // Seed for generated data, zero for random
	OutputFile    string        // Report file, empty for none
	Verbose       bool          // Enable verbose logging
}

// DefaultConfig returns the settings used by cmd/loadgen.
func DefaultConfig() Config {
	return Config{
		BaseURL:       "http://localhost:5000",
		Athletes:      20,
		Submissions:   100,
		TestTypes:     []string{model.TestSitUps, model.TestPushUps, model.TestSprint, model.TestEndurance},
		TopN:          10,
		Workers:       8,
		Timeout:       30 * time.Second,
		SettleTimeout: 5 * time.Minute,
		PollInterval:  500 * time.Millisecond,
		VideoSize:     64 << 10,
	}
}

// Athlete is the subset of an athlete record the run tracks.
type Athlete struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Assessment is the subset of an assessment record the run tracks.
type Assessment struct {
	ID             string       `json:"id"`
	AssessmentType string       `json:"assessmentType"`
	AthleteID      string       `json:"athleteId"`
	Status         model.Status `json:"status"`
	AIAnalysis     struct {
		RepCount       int     `json:"aiRepCount"`
		TechniqueScore float64 `json:"aiTechniqueScore"`
		Error          string  `json:"error"`
	} `json:"aiAnalysis"`
}

// Entry is a ranking entry.
type Entry struct {
	Rank      int     `json:"rank"`
	AthleteID string  `json:"athleteId"`
	Name      string  `json:"name"`
	Score     float64 `json:"averageScore"`
}

// Stats holds run statistics.
type Stats struct {
	AthletesRegistered int           `json:"athletesRegistered"`
	Submitted          int           `json:"submitted"`
	SubmitFailed       int           `json:"submitFailed"`
	Throttled          int           `json:"throttled"`
	Analyzed           int           `json:"analyzed"`
	AnalysisFailed     int           `json:"analysisFailed"`
	Unsettled          int           `json:"unsettled"`
	Evaluated          int           `json:"evaluated"`
	RanksChecked       int           `json:"ranksChecked"`
	RankMismatches     int           `json:"rankMismatches"`
	RankingEntries     int           `json:"rankingEntries"`
	StartTime          time.Time     `json:"startTime"`
	EndTime            time.Time     `json:"endTime"`
	Duration           time.Duration `json:"duration"`
}
