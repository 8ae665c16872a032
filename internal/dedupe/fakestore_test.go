package dedupe

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sells-group/portfolio-intel/internal/model"
	"github.com/sells-group/portfolio-intel/internal/resilience"
	"github.com/sells-group/portfolio-intel/internal/store"
)

// fakeStore is an in-memory store.Store for engine tests. It enforces
// the same uniqueness rules as the SQL backends: LEI, (VAT, country),
// and one pending merge candidate per pair key.
type fakeStore struct {
	mu sync.Mutex

	nextCompanyID int64
	nextMergeID   int64
	nextTaskID    int64

	companies map[int64]*model.CanonicalCompany
	merges    map[int64]*model.MergeCandidate
	tasks     map[int64]*model.ReviewTask
	runs      map[string]*model.DiscoveryRun
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		companies: make(map[int64]*model.CanonicalCompany),
		merges:    make(map[int64]*model.MergeCandidate),
		tasks:     make(map[int64]*model.ReviewTask),
		runs:      make(map[string]*model.DiscoveryRun),
	}
}

func cloneCompany(c *model.CanonicalCompany) *model.CanonicalCompany {
	cp := *c
	if c.Provenance != nil {
		cp.Provenance = make(map[string]model.FieldProvenance, len(c.Provenance))
		for k, v := range c.Provenance {
			cp.Provenance[k] = v
		}
	}
	cp.Blockers = append([]model.Blocker(nil), c.Blockers...)
	cp.MoatSignals = append([]string(nil), c.MoatSignals...)
	cp.Certifications = append([]string(nil), c.Certifications...)
	return &cp
}

func (f *fakeStore) GetCompany(_ context.Context, id int64) (*model.CanonicalCompany, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.companies[id]; ok {
		return cloneCompany(c), nil
	}
	return nil, nil
}

func (f *fakeStore) GetCompanyByLEI(_ context.Context, lei string) (*model.CanonicalCompany, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.companies {
		if c.LEI == lei && lei != "" {
			return cloneCompany(c), nil
		}
	}
	return nil, nil
}

func (f *fakeStore) GetCompanyByVAT(_ context.Context, vatID, country string) (*model.CanonicalCompany, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.companies {
		if c.VATID == vatID && c.Country == country && vatID != "" {
			return cloneCompany(c), nil
		}
	}
	return nil, nil
}

func (f *fakeStore) GetCompanyByNameKey(_ context.Context, normalizedName, country string) (*model.CanonicalCompany, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.companies {
		if c.NormalizedName == normalizedName && c.Country == country {
			return cloneCompany(c), nil
		}
	}
	return nil, nil
}

func (f *fakeStore) GetCompanyByDomain(_ context.Context, domain string) (*model.CanonicalCompany, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.companies {
		if c.Domain == domain && domain != "" {
			return cloneCompany(c), nil
		}
	}
	return nil, nil
}

func (f *fakeStore) ListNameKeysByCountry(_ context.Context, country string) ([]store.NameKeyRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var refs []store.NameKeyRef
	for _, c := range f.companies {
		if c.Country == country {
			refs = append(refs, store.NameKeyRef{ID: c.ID, NormalizedName: c.NormalizedName})
		}
	}
	return refs, nil
}

func (f *fakeStore) CreateCompany(_ context.Context, c *model.CanonicalCompany) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.companies {
		if c.LEI != "" && existing.LEI == c.LEI {
			return resilience.NewConflictError("lei:"+c.LEI, nil)
		}
		if c.VATID != "" && existing.VATID == c.VATID && existing.Country == c.Country {
			return resilience.NewConflictError("vat:"+c.VATID, nil)
		}
	}
	f.nextCompanyID++
	c.ID = f.nextCompanyID
	c.CreatedAt = time.Now().UTC()
	c.UpdatedAt = c.CreatedAt
	f.companies[c.ID] = cloneCompany(c)
	return nil
}

func (f *fakeStore) UpdateCompany(_ context.Context, c *model.CanonicalCompany) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.companies[c.ID]; !ok {
		return store.ErrNotFound
	}
	c.UpdatedAt = time.Now().UTC()
	f.companies[c.ID] = cloneCompany(c)
	return nil
}

func (f *fakeStore) DeleteCompany(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.companies[id]; !ok {
		return store.ErrNotFound
	}
	delete(f.companies, id)
	return nil
}

func (f *fakeStore) CreateMergeCandidate(_ context.Context, mc *model.MergeCandidate) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.merges {
		if existing.PairKey == mc.PairKey {
			*mc = *existing
			return false, nil
		}
	}
	f.nextMergeID++
	mc.ID = f.nextMergeID
	mc.CreatedAt = time.Now().UTC()
	cp := *mc
	f.merges[mc.ID] = &cp
	return true, nil
}

func (f *fakeStore) GetMergeCandidate(_ context.Context, id int64) (*model.MergeCandidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if mc, ok := f.merges[id]; ok {
		cp := *mc
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeStore) GetMergeCandidateByPairKey(_ context.Context, pairKey string) (*model.MergeCandidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, mc := range f.merges {
		if mc.PairKey == pairKey {
			cp := *mc
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) ResolveMergeCandidate(_ context.Context, id int64, status model.MergeStatus, reviewedBy string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	mc, ok := f.merges[id]
	if !ok {
		return store.ErrNotFound
	}
	now := time.Now().UTC()
	mc.Status = status
	mc.ReviewedBy = reviewedBy
	mc.ReviewedAt = &now
	return nil
}

func (f *fakeStore) EnqueueReviewTask(_ context.Context, task *model.ReviewTask) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.tasks {
		if existing.CompanyID == task.CompanyID && existing.TaskType == task.TaskType && existing.Status == model.TaskPending {
			task.ID = existing.ID
			return false, nil
		}
	}
	f.nextTaskID++
	task.ID = f.nextTaskID
	task.CreatedAt = time.Now().UTC()
	cp := *task
	f.tasks[task.ID] = &cp
	return true, nil
}

func (f *fakeStore) ListPendingReviewTasks(_ context.Context, taskType model.TaskType, limit int) ([]model.ReviewTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.ReviewTask
	for _, t := range f.tasks {
		if t.Status != model.TaskPending {
			continue
		}
		if taskType != "" && t.TaskType != taskType {
			continue
		}
		out = append(out, *t)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeStore) CountPendingReviewTasks(_ context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, t := range f.tasks {
		if t.Status == model.TaskPending {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) GetReviewTask(_ context.Context, id int64) (*model.ReviewTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.tasks[id]; ok {
		cp := *t
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeStore) CompleteReviewTask(_ context.Context, id int64, resolution string, updates []store.FieldUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok {
		return store.ErrNotFound
	}
	c := f.companies[t.CompanyID]
	for _, u := range updates {
		if c == nil {
			return store.ErrNotFound
		}
		switch u.Field {
		case "website":
			c.Website = u.Value
		case "sector":
			c.Sector = u.Value
		case "name":
			c.Name = u.Value
		}
	}
	now := time.Now().UTC()
	t.Status = model.TaskCompleted
	t.Resolution = resolution
	t.CompletedAt = &now
	return nil
}

func (f *fakeStore) SkipReviewTask(_ context.Context, id int64, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok {
		return store.ErrNotFound
	}
	now := time.Now().UTC()
	t.Status = model.TaskSkipped
	t.Resolution = reason
	t.CompletedAt = &now
	return nil
}

func (f *fakeStore) StartRun(_ context.Context, sourceName string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uuid.NewString()
	f.runs[id] = &model.DiscoveryRun{
		ID:         id,
		SourceName: sourceName,
		Status:     model.RunRunning,
		StartedAt:  time.Now().UTC(),
	}
	return id, nil
}

func (f *fakeStore) RecordRunCounter(_ context.Context, runID string, counter model.RunCounter) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	run, ok := f.runs[runID]
	if !ok {
		return store.ErrNotFound
	}
	if run.Status != model.RunRunning {
		return store.ErrFrozenRun
	}
	switch counter {
	case model.CountDiscovered:
		run.Discovered++
	case model.CountCreated:
		run.CreatedNew++
	case model.CountMerged:
		run.Merged++
	case model.CountQueued:
		run.Queued++
	}
	return nil
}

func (f *fakeStore) FinishRun(_ context.Context, runID string, status model.RunStatus, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	run, ok := f.runs[runID]
	if !ok {
		return store.ErrNotFound
	}
	now := time.Now().UTC()
	run.Status = status
	run.ErrorMessage = errMsg
	run.CompletedAt = &now
	return nil
}

func (f *fakeStore) GetRun(_ context.Context, runID string) (*model.DiscoveryRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if run, ok := f.runs[runID]; ok {
		cp := *run
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeStore) ListRuns(_ context.Context, window store.RunWindow) ([]model.DiscoveryRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.DiscoveryRun
	for _, run := range f.runs {
		if !window.Since.IsZero() && run.StartedAt.Before(window.Since) {
			continue
		}
		out = append(out, *run)
		if window.Limit > 0 && len(out) == window.Limit {
			break
		}
	}
	return out, nil
}

func (f *fakeStore) Close() error { return nil }
