// Package ledger records uploaded objects and finished runs. Upload stages
// consult it to skip files whose content is already at the destination.
package ledger

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"mailbuild/internal/config"
	"mailbuild/internal/stage"
)

// RunRecord summarizes one finished task run.
type RunRecord struct {
	RunID      string
	Task       string
	Status     string
	FailedAt   string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Ledger is the full ledger API. Stages only see stage.Ledger.
type Ledger interface {
	stage.Ledger
	Uploads(ctx context.Context, destination string) ([]stage.UploadRecord, error)
	Forget(ctx context.Context, destination string) (int64, error)
	RecordRun(ctx context.Context, run RunRecord) error
	Runs(ctx context.Context, limit int) ([]RunRecord, error)
	Close() error
}

// FileName is the SQLite file created inside data_dir.
const FileName = "ledger.db"

// NewFromConfig creates a Ledger based on the ledger config type.
func NewFromConfig(cfg config.LedgerConfig) (Ledger, error) {
	switch cfg.Type {
	case "sqlite", "":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite ledger")
		}
		l, err := OpenSQLite(filepath.Join(cfg.DataDir, FileName))
		if err != nil {
			return nil, err
		}
		return l, nil
	case "memory":
		return NewMemory(), nil
	case "none":
		return Discard{}, nil
	default:
		return nil, fmt.Errorf("unknown ledger type: %s", cfg.Type)
	}
}
