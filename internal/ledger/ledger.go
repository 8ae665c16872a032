// Package ledger records the audit trail of discovery runs: one row per
// source ingestion with monotonic outcome counters.
package ledger

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/portfolio-intel/internal/model"
	"github.com/sells-group/portfolio-intel/internal/store"
)

// Ledger writes discovery run records through the shared store.
type Ledger struct {
	store store.Store
}

// New creates a ledger.
func New(st store.Store) *Ledger {
	return &Ledger{store: st}
}

// Run is a handle on one open discovery run.
type Run struct {
	ID     string
	Source string

	ledger *Ledger
}

// Start opens a run for the named source and returns its handle.
func (l *Ledger) Start(ctx context.Context, sourceName string) (*Run, error) {
	id, err := l.store.StartRun(ctx, sourceName)
	if err != nil {
		return nil, eris.Wrapf(err, "ledger: start run for %q", sourceName)
	}

	zap.L().Info("ledger: run started",
		zap.String("run_id", id),
		zap.String("source", sourceName),
	)
	return &Run{ID: id, Source: sourceName, ledger: l}, nil
}

// Count increments one of the run's counters. Counting against a
// finished run fails with store.ErrFrozenRun.
func (r *Run) Count(ctx context.Context, counter model.RunCounter) error {
	if err := r.ledger.store.RecordRunCounter(ctx, r.ID, counter); err != nil {
		return eris.Wrapf(err, "ledger: count %s on run %s", counter, r.ID)
	}
	return nil
}

// Finish closes the run with a terminal status. Counters freeze at
// their current values.
func (r *Run) Finish(ctx context.Context, status model.RunStatus, errMsg string) error {
	if err := r.ledger.store.FinishRun(ctx, r.ID, status, errMsg); err != nil {
		return eris.Wrapf(err, "ledger: finish run %s", r.ID)
	}

	zap.L().Info("ledger: run finished",
		zap.String("run_id", r.ID),
		zap.String("source", r.Source),
		zap.String("status", string(status)),
	)
	return nil
}

// Get returns one run by ID, or store.ErrNotFound.
func (l *Ledger) Get(ctx context.Context, runID string) (*model.DiscoveryRun, error) {
	run, err := l.store.GetRun(ctx, runID)
	if err != nil {
		return nil, eris.Wrapf(err, "ledger: get run %s", runID)
	}
	if run == nil {
		return nil, store.ErrNotFound
	}
	return run, nil
}

// Recent lists runs started within the window, newest first.
func (l *Ledger) Recent(ctx context.Context, since time.Duration, limit int) ([]model.DiscoveryRun, error) {
	runs, err := l.store.ListRuns(ctx, store.RunWindow{
		Since: time.Now().UTC().Add(-since),
		Limit: limit,
	})
	if err != nil {
		return nil, eris.Wrap(err, "ledger: list runs")
	}
	return runs, nil
}
