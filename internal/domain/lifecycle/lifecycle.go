// Package lifecycle holds the assessment status transitions and the partial
// updates that carry them to storage.
package lifecycle

import (
	"time"

	"github.com/okian/repscore/internal/domain/model"
)

// Trigger names the action that started an analysis run.
type Trigger int

const (
	// TriggerSubmission is the analysis kicked off by a fresh upload.
	TriggerSubmission Trigger = iota
	// TriggerReprocess is an explicit reprocess request.
	TriggerReprocess
	// TriggerProcess is an explicit process-ai request.
	TriggerProcess
)

func (t Trigger) String() string {
	switch t {
	case TriggerReprocess:
		return "reprocess"
	case TriggerProcess:
		return "process-ai"
	default:
		return "submission"
	}
}

// PlaceholderNotes is the analysis text shown while a run is in flight.
const PlaceholderNotes = "AI analysis in progress..."

// Placeholder is the analysis stored alongside a Processing status.
func Placeholder() model.AIAnalysis {
	return model.AIAnalysis{Notes: PlaceholderNotes}
}

// Completed returns the status an analysis run lands in. A failed analysis
// always yields Failed. A successful one yields Pending after submission and
// Evaluated after an explicit request, unless the record already left
// Processing, in which case the current status is kept.
func Completed(current model.Status, trigger Trigger, a model.AIAnalysis) model.Status {
	if a.Failed() {
		return model.StatusFailed
	}
	if current != model.StatusProcessing {
		return current
	}
	if trigger == TriggerSubmission {
		return model.StatusPending
	}
	return model.StatusEvaluated
}

// Patch is a partial update of an assessment. Nil fields are left untouched.
type Patch struct {
	Status     *model.Status
	AIAnalysis *model.AIAnalysis
	Evaluation *model.Evaluation
	VideoPath  *string
	UpdatedAt  time.Time
}

// Restart marks a record Processing ahead of a new analysis run.
func Restart(now time.Time) Patch {
	s := model.StatusProcessing
	a := Placeholder()
	return Patch{Status: &s, AIAnalysis: &a, UpdatedAt: now}
}

// Analyzed stores an analysis outcome with its resulting status.
func Analyzed(status model.Status, a model.AIAnalysis, now time.Time) Patch {
	return Patch{Status: &status, AIAnalysis: &a, UpdatedAt: now}
}

// Evaluated stores a human evaluation. Evaluation always lands in Evaluated.
func Evaluated(e model.Evaluation, now time.Time) Patch {
	s := model.StatusEvaluated
	return Patch{Status: &s, Evaluation: &e, UpdatedAt: now}
}

// VideoRelocated records a new local path for the recording.
func VideoRelocated(path string, now time.Time) Patch {
	return Patch{VideoPath: &path, UpdatedAt: now}
}

// Apply writes the patch onto a.
func (p Patch) Apply(a *model.Assessment) {
	if p.Status != nil {
		a.Status = *p.Status
	}
	if p.AIAnalysis != nil {
		a.AIAnalysis = *p.AIAnalysis
	}
	if p.Evaluation != nil {
		a.Evaluation = *p.Evaluation
	}
	if p.VideoPath != nil {
		a.Video.Path = *p.VideoPath
	}
	a.UpdatedAt = p.UpdatedAt
}

// Fields renders the patch as top-level document fields, keyed by their JSON
// names, for stores that merge partial documents.
func (p Patch) Fields() map[string]any {
	f := map[string]any{"updatedAt": p.UpdatedAt}
	if p.Status != nil {
		f["status"] = *p.Status
	}
	if p.AIAnalysis != nil {
		f["aiAnalysis"] = *p.AIAnalysis
	}
	if p.Evaluation != nil {
		f["evaluation"] = *p.Evaluation
	}
	if p.VideoPath != nil {
		f["videoPath"] = *p.VideoPath
	}
	return f
}

// Job is one detached analysis run. It owns everything the run needs so the
// request that started it can return immediately.
type Job struct {
	Ref       model.Ref
	VideoPath string
	TestType  string
	Trigger   Trigger
}
