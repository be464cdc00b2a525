package domain

import (
	"time"
)

// CycleStatus is the overall outcome of one processing cycle.
type CycleStatus string

const (
	// CycleSuccess means every step finished without error.
	CycleSuccess CycleStatus = "success"
	// CycleCompletedWithErrors means some steps failed but the cycle ran
	// to the end.
	CycleCompletedWithErrors CycleStatus = "completed_with_errors"
	// CycleSessionError means no portal session could be established and
	// the cycle was aborted before processing.
	CycleSessionError CycleStatus = "session_error"
	// CycleError means the cycle aborted for a reason other than the session.
	CycleError CycleStatus = "error"
)

// StepResult records the outcome of a single cycle step.
type StepResult struct {
	// Index is the step's position in the cycle, 0 for session setup.
	Index int `json:"index"`
	// Name identifies the step.
	Name string `json:"name"`
	// Error is empty when the step succeeded.
	Error string `json:"error,omitempty"`
	// DurationMS is the step runtime in milliseconds.
	DurationMS int64 `json:"duration_ms"`
	// Details carries the step's own summary, if any.
	Details any `json:"details,omitempty"`
}

// CycleReport is the persisted record of one processing cycle.
type CycleReport struct {
	ID uint `gorm:"primaryKey" json:"id"`

	Status CycleStatus `gorm:"size:50;not null;index" json:"status"`

	StartedAt  time.Time  `gorm:"not null;index" json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// StepsRun counts the steps that were started.
	StepsRun int `json:"steps_run"`
	// StepsFailed counts the steps that returned an error or panicked.
	StepsFailed int `json:"steps_failed"`

	// Steps holds the serialized per-step results.
	Steps []byte `gorm:"type:jsonb" json:"-"`

	// Error carries the abort reason for failed cycles.
	Error string `gorm:"type:text" json:"error,omitempty"`

	CreatedAt time.Time `json:"-"`
}

// Duration returns the cycle runtime, zero while still running.
func (r *CycleReport) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
