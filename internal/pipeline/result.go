package pipeline

import "time"

// StageStatus is the outcome of a single stage.
type StageStatus string

const (
	StatusSucceeded StageStatus = "succeeded"
	StatusFailed    StageStatus = "failed"
	StatusSkipped   StageStatus = "skipped"
)

// StageResult records one stage of a run.
type StageResult struct {
	Stage    string
	Executor string
	Status   StageStatus
	Files    int
	Attempts int
	Duration time.Duration
	Output   string
	Err      error
}

// RunResult aggregates the stages of one task invocation. It is created per
// run and discarded after reporting.
type RunResult struct {
	RunID      string
	Task       string
	StartedAt  time.Time
	FinishedAt time.Time
	Stages     []StageResult
	Err        error
}

// Succeeded reports whether every stage ran and succeeded.
func (r *RunResult) Succeeded() bool {
	return r.Err == nil
}

// FailedStage returns the stage that failed, or nil.
func (r *RunResult) FailedStage() *StageResult {
	for i := range r.Stages {
		if r.Stages[i].Status == StatusFailed {
			return &r.Stages[i]
		}
	}
	return nil
}

// Duration returns the wall time of the run.
func (r *RunResult) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Executed returns the names of the stages whose executor was invoked.
func (r *RunResult) Executed() []string {
	var names []string
	for _, s := range r.Stages {
		if s.Status != StatusSkipped && s.Attempts > 0 {
			names = append(names, s.Stage)
		}
	}
	return names
}
