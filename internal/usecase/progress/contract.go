package progress

import (
	"context"
	"time"

	"github.com/kailas-cloud/docbench/internal/domain"
)

// Recorder persists run progress outside the process.
type Recorder interface {
	Start(ctx context.Context, run domain.Run) error
	Incr(ctx context.Context, id, counter string, n int64) (int64, error)
	Finish(ctx context.Context, id string, status domain.RunStatus, at time.Time) error
}
