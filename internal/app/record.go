package app

import (
	"context"
	"errors"

	"mailbuild/internal/ledger"
	"mailbuild/internal/pipeline"
)

// Run statuses stored in the ledger.
const (
	StatusSuccess   = "success"
	StatusError     = "error"
	StatusCancelled = "cancelled"
)

// newRunRecord summarizes a finished run for the ledger.
func newRunRecord(res *pipeline.RunResult) ledger.RunRecord {
	rec := ledger.RunRecord{
		RunID:      res.RunID,
		Task:       res.Task,
		Status:     StatusSuccess,
		StartedAt:  res.StartedAt,
		FinishedAt: res.FinishedAt,
	}
	if res.Err == nil {
		return rec
	}

	rec.Status = StatusError
	if errors.Is(res.Err, context.Canceled) {
		rec.Status = StatusCancelled
	}
	var te *pipeline.TaskError
	if errors.As(res.Err, &te) {
		rec.FailedAt = te.Stage
	}
	return rec
}
