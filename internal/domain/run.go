package domain

import (
	"context"
	"time"
)

// Stage names a pipeline step.
type Stage string

// Pipeline stages, in run order.
const (
	StageGenerate Stage = "generate"
	StageEvaluate Stage = "evaluate"
	StageRerank   Stage = "rerank"
	StageExport   Stage = "export"
	StageFilter   Stage = "filter"
)

type stageKey struct{}

// WithStage tags ctx with the stage its provider calls are charged to.
func WithStage(ctx context.Context, stage Stage) context.Context {
	return context.WithValue(ctx, stageKey{}, stage)
}

// StageFrom returns the stage set by WithStage, or "".
func StageFrom(ctx context.Context) Stage {
	s, _ := ctx.Value(stageKey{}).(Stage)
	return s
}

// RunStatus is the lifecycle state of a stage run.
type RunStatus string

// Run states.
const (
	RunRunning     RunStatus = "running"
	RunCompleted   RunStatus = "completed"
	RunFailed      RunStatus = "failed"
	RunInterrupted RunStatus = "interrupted"
)

// Progress counter names.
const (
	CounterPagesOK         = "pages_ok"
	CounterPagesFailed     = "pages_failed"
	CounterDocumentsOK     = "documents_ok"
	CounterDocumentsFailed = "documents_failed"
	CounterQueriesOK       = "queries_ok"
	CounterQueriesFailed   = "queries_failed"
	CounterQueriesSkipped  = "queries_skipped"
	CounterRowsWritten     = "rows_written"
)

// Run is the progress record of one stage execution.
type Run struct {
	ID         string           `json:"id"`
	Stage      Stage            `json:"stage"`
	Status     RunStatus        `json:"status"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt *time.Time       `json:"finished_at,omitempty"`
	Counters   map[string]int64 `json:"counters"`
}
