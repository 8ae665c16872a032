package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/portfolio-intel/internal/model"
	"github.com/sells-group/portfolio-intel/internal/resilience"
)

func companyRow(id int64, name, lei string) *pgxmock.Rows {
	now := time.Now().UTC()
	return pgxmock.NewRows([]string{
		"id", "name", "normalized_name", "country",
		"lei", "vat_id", "website", "domain", "sector", "description",
		"moat_signals", "certifications", "enrichment_state", "enrichment_blockers",
		"data_sources", "input_quality", "last_enrichment_attempt", "created_at", "updated_at",
	}).AddRow(
		id, name, name, "DE",
		lei, "", "", "", "", "",
		[]byte("null"), []byte("null"), model.StateDiscovered, []byte("null"),
		[]byte(`{}`), 0.5, (*time.Time)(nil), now, now,
	)
}

func TestPostgresStore_GetCompanyByLEI(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewPostgresStore(mock)

	mock.ExpectQuery(`SELECT (.+) FROM companies WHERE lei = \$1`).
		WithArgs("529900T8BM49AURSDO55").
		WillReturnRows(companyRow(7, "ACME STEEL", "529900T8BM49AURSDO55"))

	c, err := store.GetCompanyByLEI(context.Background(), "529900T8BM49AURSDO55")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, int64(7), c.ID)
	assert.Equal(t, "529900T8BM49AURSDO55", c.LEI)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetCompanyByLEI_NoMatch(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewPostgresStore(mock)

	mock.ExpectQuery(`SELECT (.+) FROM companies WHERE lei = \$1`).
		WithArgs("UNKNOWN").
		WillReturnError(pgx.ErrNoRows)

	c, err := store.GetCompanyByLEI(context.Background(), "UNKNOWN")
	require.NoError(t, err)
	assert.Nil(t, c)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateCompany(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewPostgresStore(mock)

	now := time.Now().UTC()
	mock.ExpectQuery(`INSERT INTO companies`).
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at", "updated_at"}).
			AddRow(int64(11), now, now))

	c := &model.CanonicalCompany{
		Name: "Acme", NormalizedName: "ACME", Country: "DE",
		EnrichmentState: model.StateDiscovered,
	}
	require.NoError(t, store.CreateCompany(context.Background(), c))
	assert.Equal(t, int64(11), c.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateCompany_UniqueViolationIsConflict(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewPostgresStore(mock)

	mock.ExpectQuery(`INSERT INTO companies`).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "companies_lei_key"})

	err = store.CreateCompany(context.Background(), &model.CanonicalCompany{
		Name: "Acme", NormalizedName: "ACME", Country: "DE", LEI: "DUPLICATE",
	})
	require.Error(t, err)
	assert.True(t, resilience.IsConflict(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateMergeCandidate_ExistingPair(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewPostgresStore(mock)

	// Insert hits the pair-key conflict, then the existing row is read.
	mock.ExpectQuery(`INSERT INTO merge_candidates`).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery(`SELECT (.+) FROM merge_candidates WHERE pair_key = \$1`).
		WithArgs("d:7:abc").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "company_a_id", "company_b_id", "candidate", "pair_key",
			"match_method", "confidence", "status", "reviewed_at", "reviewed_by", "created_at",
		}).AddRow(
			int64(3), int64(7), (*int64)(nil), []byte(`{"name":"Acme"}`), "d:7:abc",
			"name_fuzzy", 0.82, model.MergeRejected, (*time.Time)(nil), "analyst", time.Now().UTC(),
		))

	mc := &model.MergeCandidate{
		CompanyAID: 7,
		Candidate:  &model.DiscoveredCompany{Name: "Acme"},
		PairKey:    "d:7:abc",
	}
	created, err := store.CreateMergeCandidate(context.Background(), mc)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, int64(3), mc.ID)
	assert.Equal(t, model.MergeRejected, mc.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_EnqueueReviewTask_Idempotent(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewPostgresStore(mock)

	mock.ExpectQuery(`INSERT INTO review_tasks`).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery(`SELECT id FROM review_tasks`).
		WithArgs(int64(7), model.TaskFindWebsite).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(42)))

	task := &model.ReviewTask{
		CompanyID: 7, TaskType: model.TaskFindWebsite, Priority: 8, Status: model.TaskPending,
	}
	created, err := store.EnqueueReviewTask(context.Background(), task)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, int64(42), task.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RecordRunCounter_Frozen(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewPostgresStore(mock)

	mock.ExpectExec(`UPDATE discovery_runs SET discovered = discovered \+ 1`).
		WithArgs("run-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("run-1").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	err = store.RecordRunCounter(context.Background(), "run-1", model.CountDiscovered)
	assert.ErrorIs(t, err, ErrFrozenRun)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CompleteReviewTask_AtomicWithUpdates(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewPostgresStore(mock)

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE review_tasks`).
		WithArgs(int64(5), "website confirmed").
		WillReturnRows(pgxmock.NewRows([]string{"company_id"}).AddRow(int64(7)))
	mock.ExpectExec(`UPDATE companies SET`).
		WithArgs(int64(7), "https://acme.example.de", "acme.example.de").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	err = store.CompleteReviewTask(context.Background(), 5, "website confirmed", []FieldUpdate{
		{Field: "website", Value: "https://acme.example.de"},
		{Field: "domain", Value: "acme.example.de"},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CompleteReviewTask_RejectsUnknownField(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewPostgresStore(mock)

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE review_tasks`).
		WithArgs(int64(5), "done").
		WillReturnRows(pgxmock.NewRows([]string{"company_id"}).AddRow(int64(7)))
	mock.ExpectRollback()

	err = store.CompleteReviewTask(context.Background(), 5, "done", []FieldUpdate{
		{Field: "enrichment_state", Value: "scored"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not reviewer-writable")
}
