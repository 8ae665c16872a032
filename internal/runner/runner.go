// Package runner orchestrates discovery runs: it drains each source,
// pushes every observation through the deduplication engine, and keeps
// the run ledger. Sources run concurrently but fail independently.
package runner

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/portfolio-intel/internal/dedupe"
	"github.com/sells-group/portfolio-intel/internal/ledger"
	"github.com/sells-group/portfolio-intel/internal/model"
	"github.com/sells-group/portfolio-intel/internal/ratelimit"
	"github.com/sells-group/portfolio-intel/internal/resilience"
	"github.com/sells-group/portfolio-intel/internal/source"
)

// Config tunes the orchestration.
type Config struct {
	// SourceConcurrency caps how many sources drain at once. Default 4.
	SourceConcurrency int
}

// Runner drives discovery runs.
type Runner struct {
	engine   *dedupe.Engine
	ledger   *ledger.Ledger
	limits   *ratelimit.Registry
	breakers *resilience.SourceBreakers
	cfg      Config
}

// New creates a runner. limits may be nil (no throttling).
func New(engine *dedupe.Engine, lg *ledger.Ledger, limits *ratelimit.Registry, breakers *resilience.SourceBreakers, cfg Config) *Runner {
	if cfg.SourceConcurrency <= 0 {
		cfg.SourceConcurrency = 4
	}
	if breakers == nil {
		breakers = resilience.NewSourceBreakers(resilience.CircuitConfig{})
	}
	return &Runner{engine: engine, ledger: lg, limits: limits, breakers: breakers, cfg: cfg}
}

// ErrSourceUnavailable marks a source whose health probe failed. No
// run is opened for it.
var ErrSourceUnavailable = eris.New("runner: source unavailable")

// Report summarizes one source's run.
type Report struct {
	Source     string
	RunID      string
	Status     model.RunStatus
	Discovered int
	Created    int
	Merged     int
	Queued     int
	Rejected   int // malformed candidates dropped at validation
	Failed     int // candidates that errored after retries
	Err        error
}

// Run drains all sources. One source failing never aborts the others;
// per-source status lands in its Report. The returned error is non-nil
// only when the context was cancelled.
func (r *Runner) Run(ctx context.Context, sources []source.Source) ([]Report, error) {
	reports := make([]Report, len(sources))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.SourceConcurrency)

	for i, src := range sources {
		i, src := i, src
		g.Go(func() error {
			reports[i] = r.runSource(gctx, src)
			return nil
		})
	}

	_ = g.Wait()
	return reports, ctx.Err()
}

func (r *Runner) runSource(ctx context.Context, src source.Source) Report {
	rep := Report{Source: src.Name()}

	// Health probe before the run opens. An unavailable source is
	// reported failed but leaves no ledger row.
	if !src.Available(ctx) {
		rep.Status = model.RunFailed
		rep.Err = ErrSourceUnavailable
		zap.L().Warn("runner: skipping unavailable source",
			zap.String("source", src.Name()),
		)
		return rep
	}

	run, err := r.ledger.Start(ctx, src.Name())
	if err != nil {
		rep.Status = model.RunFailed
		rep.Err = err
		return rep
	}
	rep.RunID = run.ID

	breaker := r.breakers.Get(src.Name())
	err = breaker.Execute(ctx, func(ctx context.Context) error {
		return src.Discover(ctx, func(cand model.DiscoveredCompany) error {
			return r.handleCandidate(ctx, run, src.Name(), cand, &rep)
		})
	})

	// Ledger status mirrors how the drain ended.
	switch {
	case err == nil:
		rep.Status = model.RunCompleted
	case ctx.Err() != nil:
		rep.Status = model.RunCancelled
		rep.Err = err
	default:
		rep.Status = model.RunFailed
		rep.Err = err
	}

	var errMsg string
	if rep.Err != nil {
		errMsg = rep.Err.Error()
	}
	// Finishing uses a fresh context so a cancelled run still gets its
	// terminal status written.
	if ferr := run.Finish(context.WithoutCancel(ctx), rep.Status, errMsg); ferr != nil {
		zap.L().Error("runner: finishing run",
			zap.String("run_id", run.ID),
			zap.Error(ferr),
		)
	}

	zap.L().Info("runner: source drained",
		zap.String("source", src.Name()),
		zap.String("run_id", run.ID),
		zap.String("status", string(rep.Status)),
		zap.Int("discovered", rep.Discovered),
		zap.Int("created", rep.Created),
		zap.Int("merged", rep.Merged),
		zap.Int("queued", rep.Queued),
		zap.Int("rejected", rep.Rejected),
		zap.Int("failed", rep.Failed),
	)
	return rep
}

// handleCandidate runs one observation through the engine and records
// the outcome. Individual candidate failures are isolated: logged,
// counted, and skipped. Only context cancellation propagates.
func (r *Runner) handleCandidate(ctx context.Context, run *ledger.Run, sourceName string, cand model.DiscoveredCompany, rep *Report) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := r.limits.Acquire(ctx, sourceName); err != nil {
		return err
	}

	rep.Discovered++
	if err := run.Count(ctx, model.CountDiscovered); err != nil {
		return err
	}

	out, err := r.engine.Resolve(ctx, cand)
	switch {
	case err == nil:
	case dedupe.IsMalformed(err):
		rep.Rejected++
		zap.L().Warn("runner: rejected malformed candidate",
			zap.String("source", sourceName),
			zap.String("name", cand.Name),
			zap.Error(err),
		)
		return nil
	case ctx.Err() != nil:
		return err
	default:
		rep.Failed++
		zap.L().Error("runner: candidate failed",
			zap.String("source", sourceName),
			zap.String("name", cand.Name),
			zap.Error(err),
		)
		return nil
	}

	var counter model.RunCounter
	switch out.Kind {
	case dedupe.OutcomeCreatedNew:
		rep.Created++
		counter = model.CountCreated
	case dedupe.OutcomeMergedInto:
		rep.Merged++
		counter = model.CountMerged
	case dedupe.OutcomeQueuedForReview:
		rep.Queued++
		counter = model.CountQueued
	default:
		return eris.Errorf("runner: unknown outcome %q", out.Kind)
	}
	return run.Count(ctx, counter)
}
