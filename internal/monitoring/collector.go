// Package monitoring watches ingestion health: discovery-run failure
// ratios, sources whose runs have stalled, and the manual review
// backlog. A background checker evaluates the snapshot against
// thresholds and raises webhook alerts.
package monitoring

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/portfolio-intel/internal/model"
	"github.com/sells-group/portfolio-intel/internal/store"
)

// HealthSnapshot holds a point-in-time view of ingestion health.
type HealthSnapshot struct {
	// Run metrics (within lookback window).
	RunsTotal     int     `json:"runs_total"`
	RunsCompleted int     `json:"runs_completed"`
	RunsFailed    int     `json:"runs_failed"`
	RunsCancelled int     `json:"runs_cancelled"`
	RunsRunning   int     `json:"runs_running"`
	RunFailRate   float64 `json:"run_fail_rate"`

	// Aggregate outcome counters across the window.
	Discovered      int `json:"discovered"`
	CreatedNew      int `json:"created_new"`
	Merged          int `json:"merged"`
	QueuedForReview int `json:"queued_for_review"`

	// Sources with a run still marked running past the stall cutoff.
	StalledSources []string `json:"stalled_sources,omitempty"`

	// Pending review tasks, regardless of window.
	ReviewBacklog int `json:"review_backlog"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Collector gathers health metrics from the store.
type Collector struct {
	store store.Store

	nowFunc func() time.Time
}

// NewCollector creates a new health collector.
func NewCollector(st store.Store) *Collector {
	return &Collector{store: st, nowFunc: time.Now}
}

// Collect gathers a snapshot over the given lookback window. A run
// counts as stalled when it is still running stallAfter past its start.
func (c *Collector) Collect(ctx context.Context, lookbackHours int, stallAfter time.Duration) (*HealthSnapshot, error) {
	now := c.nowFunc().UTC()
	snap := &HealthSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}

	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	runs, err := c.store.ListRuns(ctx, store.RunWindow{
		Since: cutoff,
		Limit: 10000,
	})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	stalled := map[string]bool{}
	snap.RunsTotal = len(runs)
	for _, r := range runs {
		switch r.Status {
		case model.RunCompleted:
			snap.RunsCompleted++
		case model.RunFailed:
			snap.RunsFailed++
		case model.RunCancelled:
			snap.RunsCancelled++
		case model.RunRunning:
			snap.RunsRunning++
			if stallAfter > 0 && now.Sub(r.StartedAt) >= stallAfter {
				stalled[r.SourceName] = true
			}
		}
		snap.Discovered += r.Discovered
		snap.CreatedNew += r.CreatedNew
		snap.Merged += r.Merged
		snap.QueuedForReview += r.Queued
	}

	finished := snap.RunsCompleted + snap.RunsFailed
	if finished > 0 {
		snap.RunFailRate = float64(snap.RunsFailed) / float64(finished)
	}
	for src := range stalled {
		snap.StalledSources = append(snap.StalledSources, src)
	}
	sort.Strings(snap.StalledSources)

	backlog, err := c.store.CountPendingReviewTasks(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count review backlog")
	}
	snap.ReviewBacklog = backlog

	return snap, nil
}
