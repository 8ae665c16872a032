package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/portfolio-intel/internal/model"
	"github.com/sells-group/portfolio-intel/internal/store"
)

// runStore implements only the run surface; embedding the interface
// panics on anything else, which would flag an unexpected call.
type runStore struct {
	store.Store

	mu   sync.Mutex
	runs map[string]*model.DiscoveryRun
}

func newRunStore() *runStore {
	return &runStore{runs: make(map[string]*model.DiscoveryRun)}
}

func (s *runStore) StartRun(_ context.Context, sourceName string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.NewString()
	s.runs[id] = &model.DiscoveryRun{
		ID: id, SourceName: sourceName,
		Status: model.RunRunning, StartedAt: time.Now().UTC(),
	}
	return id, nil
}

func (s *runStore) RecordRunCounter(_ context.Context, runID string, counter model.RunCounter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
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

func (s *runStore) FinishRun(_ context.Context, runID string, status model.RunStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return store.ErrNotFound
	}
	now := time.Now().UTC()
	run.Status = status
	run.ErrorMessage = errMsg
	run.CompletedAt = &now
	return nil
}

func (s *runStore) GetRun(_ context.Context, runID string) (*model.DiscoveryRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if run, ok := s.runs[runID]; ok {
		cp := *run
		return &cp, nil
	}
	return nil, nil
}

func (s *runStore) ListRuns(_ context.Context, window store.RunWindow) ([]model.DiscoveryRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.DiscoveryRun
	for _, run := range s.runs {
		if run.StartedAt.Before(window.Since) {
			continue
		}
		out = append(out, *run)
	}
	return out, nil
}

func TestRunLifecycle(t *testing.T) {
	ctx := context.Background()
	l := New(newRunStore())

	run, err := l.Start(ctx, "vc-portfolio")
	require.NoError(t, err)
	require.NotEmpty(t, run.ID)

	require.NoError(t, run.Count(ctx, model.CountDiscovered))
	require.NoError(t, run.Count(ctx, model.CountDiscovered))
	require.NoError(t, run.Count(ctx, model.CountCreated))
	require.NoError(t, run.Count(ctx, model.CountMerged))
	require.NoError(t, run.Count(ctx, model.CountQueued))

	require.NoError(t, run.Finish(ctx, model.RunCompleted, ""))

	got, err := l.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunCompleted, got.Status)
	assert.Equal(t, 2, got.Discovered)
	assert.Equal(t, 1, got.CreatedNew)
	assert.Equal(t, 1, got.Merged)
	assert.Equal(t, 1, got.Queued)
	assert.NotNil(t, got.CompletedAt)
}

func TestCount_FrozenAfterFinish(t *testing.T) {
	ctx := context.Background()
	l := New(newRunStore())

	run, err := l.Start(ctx, "csv-import")
	require.NoError(t, err)
	require.NoError(t, run.Finish(ctx, model.RunFailed, "source unreachable"))

	err = run.Count(ctx, model.CountDiscovered)
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrFrozenRun)

	got, err := l.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, "source unreachable", got.ErrorMessage)
	assert.Zero(t, got.Discovered)
}

func TestGet_UnknownRun(t *testing.T) {
	l := New(newRunStore())
	_, err := l.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRecent_FiltersByWindow(t *testing.T) {
	ctx := context.Background()
	st := newRunStore()
	l := New(st)

	run, err := l.Start(ctx, "recent")
	require.NoError(t, err)

	st.mu.Lock()
	st.runs["old"] = &model.DiscoveryRun{
		ID: "old", SourceName: "ancient",
		Status:    model.RunCompleted,
		StartedAt: time.Now().UTC().Add(-48 * time.Hour),
	}
	st.mu.Unlock()

	runs, err := l.Recent(ctx, 24*time.Hour, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)
}
