// Package dispatcher runs evaluation pipelines in the background while
// enforcing at most one in-flight evaluation per paper.
package dispatcher

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/paperlens/paperlens/internal/metrics"
	"github.com/paperlens/paperlens/internal/paper"
	"github.com/paperlens/paperlens/internal/registry"
)

// Mode selects how an evaluation request treats prior results.
type Mode string

// Dispatch modes. Initial requests refuse papers that already hold a result;
// re-evaluation replaces it.
const (
	ModeInitial    Mode = "initial"
	ModeReevaluate Mode = "reevaluate"
)

// Outcome is the immediate answer to an evaluation request. The pipeline
// itself finishes later; clients poll Status.
type Outcome string

// Possible outcomes of Evaluate.
const (
	OutcomeStarted          Outcome = "started"
	OutcomeAlreadyRunning   Outcome = "already_running"
	OutcomeAlreadyEvaluated Outcome = "already_evaluated"
)

// Decision reports how a request was dispatched. EvaluatedAt is set for
// OutcomeAlreadyEvaluated so clients can show when the stored result was
// produced.
type Decision struct {
	Outcome     Outcome
	EvaluatedAt *time.Time
}

// writeTimeout bounds store writes performed after the model call, whose own
// context may already be dead.
const writeTimeout = 10 * time.Second

// Dispatcher coordinates the store, the registry and the evaluator.
type Dispatcher struct {
	store     paper.Store
	evaluator paper.Evaluator
	registry  *registry.Registry
	clock     paper.Clock
	logger    *zap.Logger
	timeout   time.Duration

	wg sync.WaitGroup
}

// New wires a Dispatcher. timeout bounds each model call.
func New(store paper.Store, evaluator paper.Evaluator, reg *registry.Registry, clock paper.Clock, logger *zap.Logger, timeout time.Duration) *Dispatcher {
	return &Dispatcher{
		store:     store,
		evaluator: evaluator,
		registry:  reg,
		clock:     clock,
		logger:    logger,
		timeout:   timeout,
	}
}

// Evaluate dispatches one evaluation. It returns as soon as the pipeline is
// claimed; the model call runs on a detached goroutine that outlives the
// request context.
func (d *Dispatcher) Evaluate(ctx context.Context, arxivID string, mode Mode) (Decision, error) {
	rec, err := d.store.Get(ctx, arxivID)
	if err != nil {
		return Decision{}, err
	}
	if mode != ModeReevaluate && rec.Evaluated() {
		return Decision{Outcome: OutcomeAlreadyEvaluated, EvaluatedAt: rec.EvaluatedAt}, nil
	}

	now := d.clock.Now()
	if !d.registry.Begin(arxivID, now) {
		return Decision{Outcome: OutcomeAlreadyRunning}, nil
	}

	// A completed record keeps its status and result while the replacement
	// runs, so a crash mid-re-evaluation loses nothing.
	if !rec.Evaluated() {
		if err := d.store.SetStatus(ctx, arxivID, paper.StatusEvaluating); err != nil {
			d.registry.Fail(arxivID, d.clock.Now())
			return Decision{}, err
		}
	}

	metrics.IncActiveEvaluations()
	d.wg.Add(1)
	go d.run(rec)

	return Decision{Outcome: OutcomeStarted}, nil
}

// Status returns the registry task for the id, if this process ever started
// one.
func (d *Dispatcher) Status(arxivID string) (registry.Task, bool) {
	return d.registry.Status(arxivID)
}

// Active lists the tasks currently evaluating.
func (d *Dispatcher) Active() []registry.Task {
	return d.registry.Active()
}

// Tracked reports how many tasks the registry remembers, terminal ones
// included.
func (d *Dispatcher) Tracked() int {
	return d.registry.Len()
}

// Reconcile repairs records left at evaluating by a previous process: older
// than staleAfter they flip to failed, or back to completed when a result
// survives. Run it once at startup, before serving requests.
func (d *Dispatcher) Reconcile(ctx context.Context, staleAfter time.Duration) (int64, error) {
	cutoff := d.clock.Now().Add(-staleAfter)
	repaired, err := d.store.ReconcileStale(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if repaired > 0 {
		d.logger.Warn("repaired stale evaluations from previous run",
			zap.Int64("count", repaired))
	}
	return repaired, nil
}

// Wait blocks until all in-flight pipelines finish. Used on shutdown.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) run(rec paper.Record) {
	defer d.wg.Done()
	defer metrics.DecActiveEvaluations()

	start := d.clock.Now()
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	result, err := d.evaluator.Evaluate(ctx, rec)
	if err != nil {
		d.fail(rec.ArxivID, start, err)
		return
	}

	at := d.clock.Now()
	wctx, wcancel := context.WithTimeout(context.Background(), writeTimeout)
	defer wcancel()
	if err := d.store.SaveEvaluation(wctx, rec.ArxivID, result, result.Overall(), at); err != nil {
		d.fail(rec.ArxivID, start, err)
		return
	}

	d.registry.Complete(rec.ArxivID, at)
	metrics.ObserveEvaluation("completed", at.Sub(start))
	d.logger.Info("evaluation completed",
		zap.String("arxiv_id", rec.ArxivID),
		zap.Float64("overall_score", result.Overall()),
		zap.Duration("took", at.Sub(start)))
}

// fail finishes the task and, when the record holds no stored result, marks
// it failed. The store guards the latter, so a prior completed evaluation is
// never clobbered.
func (d *Dispatcher) fail(arxivID string, start time.Time, cause error) {
	now := d.clock.Now()
	d.registry.Fail(arxivID, now)

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := d.store.MarkFailed(ctx, arxivID); err != nil {
		d.logger.Error("mark paper failed",
			zap.String("arxiv_id", arxivID), zap.Error(err))
	}

	metrics.ObserveEvaluation("failed", now.Sub(start))
	d.logger.Warn("evaluation failed",
		zap.String("arxiv_id", arxivID), zap.Error(cause))
}
