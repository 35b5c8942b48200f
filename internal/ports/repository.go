package ports

import (
	"context"

	"bulksms/internal/domain"
)

// RunArchive stores run summaries and attempts for later reporting.
// Both writes are idempotent on (run id, seq).
type RunArchive interface {
	// SaveRun persists the run summary together with all of its results.
	SaveRun(ctx context.Context, run *domain.BatchRunState) error

	// SaveAttempt persists a single streamed attempt.
	SaveAttempt(ctx context.Context, ev AttemptEvent) error

	Close() error
}
