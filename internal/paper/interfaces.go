package paper

import (
	"context"
	"errors"
	"time"

	"github.com/paperlens/paperlens/internal/assessment"
)

// ErrNotFound is returned by stores when no record exists for an id.
var ErrNotFound = errors.New("paper not found")

// Store persists paper records and the daily-feed cache. Implementations
// must tolerate concurrent writes to different rows.
type Store interface {
	// Insert adds crawl metadata if the id is unseen. Existing rows,
	// including their evaluation state, are left untouched.
	Insert(ctx context.Context, rec Record) error
	Get(ctx context.Context, arxivID string) (Record, error)

	// SetStatus moves a record between non-terminal states. It never
	// touches the stored result.
	SetStatus(ctx context.Context, arxivID string, status EvaluationStatus) error
	// SaveEvaluation writes the result, derived score and timestamp and
	// marks the record completed, in one statement.
	SaveEvaluation(ctx context.Context, arxivID string, result *assessment.Result, overall float64, at time.Time) error
	// MarkFailed flips the record to failed only when it holds no stored
	// result; a prior completed evaluation is preserved.
	MarkFailed(ctx context.Context, arxivID string) error
	// ReconcileStale repairs records stuck at evaluating since before the
	// cutoff: failed when empty, completed when a result survives.
	// It returns the number of repaired rows.
	ReconcileStale(ctx context.Context, cutoff time.Time) (int64, error)

	ListEvaluated(ctx context.Context, limit int) ([]Record, error)
	Count(ctx context.Context) (int64, error)

	GetDay(ctx context.Context, date string) (Day, error)
	SaveDay(ctx context.Context, day Day) error
	ListDays(ctx context.Context, limit int) ([]string, error)
	PurgeDays(ctx context.Context) error

	Ping(ctx context.Context) error
}

// Evaluator runs the external model over one paper and returns the parsed,
// validated assessment. Calls may take tens of seconds and must honor ctx.
type Evaluator interface {
	Evaluate(ctx context.Context, rec Record) (*assessment.Result, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
