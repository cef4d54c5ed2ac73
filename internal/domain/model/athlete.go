package model

import "time"

// Athlete is a registered participant whose best scores are aggregated.
type Athlete struct {
	ID               string             `json:"id"`
	Name             string             `json:"name" validate:"required"`
	Email            string             `json:"email" validate:"required,email"`
	Age              int                `json:"age" validate:"required,min=10,max=50"`
	State            string             `json:"state" validate:"required"`
	District         string             `json:"district" validate:"required"`
	Sport            string             `json:"sport"`
	AgeGroup         string             `json:"ageGroup"`
	PhoneNumber      string             `json:"phoneNumber,omitempty"`
	Height           float64            `json:"height,omitempty" validate:"omitempty,gt=0"`
	Weight           float64            `json:"weight,omitempty" validate:"omitempty,gt=0"`
	ProfilePhoto     string             `json:"profilePhoto,omitempty"`
	Status           string             `json:"status"`
	RegistrationDate time.Time          `json:"registrationDate"`
	BestScores       map[string]float64 `json:"bestScores"`
	AverageScore     float64            `json:"averageScore"`
	UpdatedAt        time.Time          `json:"updatedAt"`
}

// AthleteFilter selects athletes for listing. Empty fields match everything.
type AthleteFilter struct {
	Status   string
	Sport    string
	AgeGroup string
	State    string
	District string
}

// Matches reports whether a satisfies every non-empty predicate.
func (f AthleteFilter) Matches(a Athlete) bool {
	return matchOpt(f.Status, a.Status) &&
		matchOpt(f.Sport, a.Sport) &&
		matchOpt(f.AgeGroup, a.AgeGroup) &&
		matchOpt(f.State, a.State) &&
		matchOpt(f.District, a.District)
}

func matchOpt(want, got string) bool { return want == "" || want == got }

// AgeGroup derives the competition bracket for an age.
func AgeGroup(age int) string {
	switch {
	case age <= 12:
		return "Under-12"
	case age <= 15:
		return "Under-15"
	case age <= 18:
		return "Under-18"
	default:
		return "Senior"
	}
}

// DefaultBestScores returns a zeroed best score table for every known test type.
func DefaultBestScores() map[string]float64 {
	m := make(map[string]float64, len(KnownTestTypes))
	for _, t := range KnownTestTypes {
		m[t] = 0
	}
	return m
}

// RecordBest stores score for testType when it beats the current best and
// recomputes the average. It reports whether anything changed.
func (a *Athlete) RecordBest(testType string, score float64) bool {
	if a.BestScores == nil {
		a.BestScores = DefaultBestScores()
	}
	if score <= a.BestScores[testType] {
		return false
	}
	a.BestScores[testType] = score
	a.AverageScore = AverageOfBest(a.BestScores)
	return true
}

// AverageOfBest is the mean of the strictly positive entries, 0 when none.
func AverageOfBest(best map[string]float64) float64 {
	var sum float64
	var n int
	for _, v := range best {
		if v > 0 {
			sum += v
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
