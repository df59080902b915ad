// Package ledger keeps an optional history of archive runs.
//
// Nothing in the pipeline reads the ledger back to decide what to fetch; the
// files on disk stay the only skip marker. The ledger is for operators and
// the status API.
package ledger

import (
	"context"
	"time"

	"github.com/andresuchdata/gdelt-fetch/backend-go/internal/domain"
)

// RunStatus represents the current state of a run
type RunStatus string

const (
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusFailed    RunStatus = "failed"
)

// Totals are the per-outcome counts of a finished run.
type Totals struct {
	Attempted int
	Fetched   int
	Skipped   int
	Failed    int
}

// Run is one invocation of an orchestrator mode.
type Run struct {
	ID           int64      `db:"id" json:"id"`
	Mode         string     `db:"mode" json:"mode"`
	Params       string     `db:"params" json:"params"`
	Status       RunStatus  `db:"status" json:"status"`
	Attempted    int        `db:"attempted" json:"attempted"`
	Fetched      int        `db:"fetched" json:"fetched"`
	Skipped      int        `db:"skipped" json:"skipped"`
	Failed       int        `db:"failed" json:"failed"`
	StartedAt    time.Time  `db:"started_at" json:"started_at"`
	CompletedAt  *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	ErrorMessage *string    `db:"error_message" json:"error_message,omitempty"`
}

// Recorder persists runs and their per-archive items.
type Recorder interface {
	StartRun(ctx context.Context, mode, params string) (int64, error)
	RecordItem(ctx context.Context, runID int64, item domain.ItemResult) error
	FinishRun(ctx context.Context, runID int64, totals Totals, runErr error) error
	RecentRuns(ctx context.Context, limit int) ([]Run, error)
	Close() error
}

// Noop discards everything.
type Noop struct{}

func (Noop) StartRun(context.Context, string, string) (int64, error) { return 0, nil }
func (Noop) RecordItem(context.Context, int64, domain.ItemResult) error { return nil }
func (Noop) FinishRun(context.Context, int64, Totals, error) error { return nil }
func (Noop) RecentRuns(context.Context, int) ([]Run, error) { return []Run{}, nil }
func (Noop) Close() error { return nil }

var _ Recorder = Noop{}
