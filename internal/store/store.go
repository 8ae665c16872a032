// Package store persists canonical companies, merge candidates, review
// tasks, and discovery runs. Two backends exist: Postgres (pgx) for
// production and SQLite (modernc) for local development and tests.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/portfolio-intel/internal/model"
)

// ErrFrozenRun is returned when a counter increment targets a run that
// has already been finished.
var ErrFrozenRun = eris.New("store: discovery run is no longer running")

// ErrNotFound is returned when a row lookup by ID finds nothing.
var ErrNotFound = eris.New("store: not found")

// NameKeyRef is a minimal projection of the canonical index used by the
// fuzzy matching stage: one entry per company in a country.
type NameKeyRef struct {
	ID             int64
	NormalizedName string
}

// FieldUpdate is one reviewer-supplied field write applied atomically
// with review-task completion.
type FieldUpdate struct {
	Field string
	Value string
}

// RunWindow filters runs for health monitoring.
type RunWindow struct {
	Since time.Time
	Limit int
}

// Store is the persistence surface of the discovery/dedup core. All
// mutation of a single row is transactional; cross-entity atomicity is
// required only by CompleteReviewTask.
type Store interface {
	// Canonical companies. Lookup methods return (nil, nil) on no match.
	GetCompany(ctx context.Context, id int64) (*model.CanonicalCompany, error)
	GetCompanyByLEI(ctx context.Context, lei string) (*model.CanonicalCompany, error)
	GetCompanyByVAT(ctx context.Context, vatID, country string) (*model.CanonicalCompany, error)
	GetCompanyByNameKey(ctx context.Context, normalizedName, country string) (*model.CanonicalCompany, error)
	GetCompanyByDomain(ctx context.Context, domain string) (*model.CanonicalCompany, error)
	ListNameKeysByCountry(ctx context.Context, country string) ([]NameKeyRef, error)
	CreateCompany(ctx context.Context, c *model.CanonicalCompany) error
	UpdateCompany(ctx context.Context, c *model.CanonicalCompany) error
	DeleteCompany(ctx context.Context, id int64) error

	// Merge candidates. CreateMergeCandidate is idempotent on PairKey:
	// when a row with the same pair key exists it is returned into mc
	// and created is false.
	CreateMergeCandidate(ctx context.Context, mc *model.MergeCandidate) (created bool, err error)
	GetMergeCandidate(ctx context.Context, id int64) (*model.MergeCandidate, error)
	GetMergeCandidateByPairKey(ctx context.Context, pairKey string) (*model.MergeCandidate, error)
	ResolveMergeCandidate(ctx context.Context, id int64, status model.MergeStatus, reviewedBy string) error

	// Review queue.
	EnqueueReviewTask(ctx context.Context, task *model.ReviewTask) (created bool, err error)
	ListPendingReviewTasks(ctx context.Context, taskType model.TaskType, limit int) ([]model.ReviewTask, error)
	CountPendingReviewTasks(ctx context.Context) (int, error)
	GetReviewTask(ctx context.Context, id int64) (*model.ReviewTask, error)
	CompleteReviewTask(ctx context.Context, id int64, resolution string, updates []FieldUpdate) error
	SkipReviewTask(ctx context.Context, id int64, reason string) error

	// Discovery run ledger.
	StartRun(ctx context.Context, sourceName string) (string, error)
	RecordRunCounter(ctx context.Context, runID string, counter model.RunCounter) error
	FinishRun(ctx context.Context, runID string, status model.RunStatus, errMsg string) error
	GetRun(ctx context.Context, runID string) (*model.DiscoveryRun, error)
	ListRuns(ctx context.Context, window RunWindow) ([]model.DiscoveryRun, error)

	Close() error
}
