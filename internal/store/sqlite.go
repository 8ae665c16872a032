package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/portfolio-intel/internal/model"
	"github.com/sells-group/portfolio-intel/internal/resilience"
)

// SQLiteStore implements Store using modernc.org/sqlite. Used for local
// development and tests; Postgres is the production backend.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given DSN (":memory:" for
// tests) and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	// The in-memory database vanishes when its sole connection closes.
	if strings.Contains(dsn, ":memory:") {
		db.SetMaxOpenConns(1)
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS companies (
	id                      INTEGER PRIMARY KEY AUTOINCREMENT,
	name                    TEXT NOT NULL,
	normalized_name         TEXT NOT NULL,
	country                 TEXT NOT NULL,
	lei                     TEXT,
	vat_id                  TEXT,
	website                 TEXT,
	domain                  TEXT,
	sector                  TEXT,
	description             TEXT,
	moat_signals            TEXT,
	certifications          TEXT,
	enrichment_state        TEXT NOT NULL DEFAULT 'discovered',
	enrichment_blockers     TEXT,
	data_sources            TEXT NOT NULL DEFAULT '{}',
	input_quality           REAL NOT NULL DEFAULT 0,
	last_enrichment_attempt DATETIME,
	created_at              DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at              DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_companies_lei
	ON companies(lei) WHERE lei IS NOT NULL AND lei <> '';
CREATE UNIQUE INDEX IF NOT EXISTS idx_companies_vat_country
	ON companies(vat_id, country) WHERE vat_id IS NOT NULL AND vat_id <> '';
CREATE INDEX IF NOT EXISTS idx_companies_name_country ON companies(normalized_name, country);
CREATE INDEX IF NOT EXISTS idx_companies_domain ON companies(domain);
CREATE INDEX IF NOT EXISTS idx_companies_state ON companies(enrichment_state);

CREATE TABLE IF NOT EXISTS merge_candidates (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	company_a_id INTEGER NOT NULL REFERENCES companies(id) ON DELETE CASCADE,
	company_b_id INTEGER REFERENCES companies(id) ON DELETE CASCADE,
	candidate    TEXT,
	pair_key     TEXT NOT NULL UNIQUE,
	match_method TEXT NOT NULL,
	confidence   REAL NOT NULL,
	status       TEXT NOT NULL DEFAULT 'pending',
	reviewed_at  DATETIME,
	reviewed_by  TEXT,
	created_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS review_tasks (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	company_id   INTEGER NOT NULL REFERENCES companies(id) ON DELETE CASCADE,
	task_type    TEXT NOT NULL,
	priority     INTEGER NOT NULL DEFAULT 5,
	context      TEXT NOT NULL DEFAULT '{}',
	status       TEXT NOT NULL DEFAULT 'pending',
	assigned_to  TEXT,
	resolution   TEXT,
	created_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	completed_at DATETIME
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_review_tasks_pending
	ON review_tasks(company_id, task_type) WHERE status = 'pending';
CREATE INDEX IF NOT EXISTS idx_review_tasks_queue
	ON review_tasks(priority DESC, created_at ASC) WHERE status = 'pending';

CREATE TABLE IF NOT EXISTS discovery_runs (
	id            TEXT PRIMARY KEY,
	source_name   TEXT NOT NULL,
	started_at    DATETIME NOT NULL,
	completed_at  DATETIME,
	discovered    INTEGER NOT NULL DEFAULT 0,
	created_new   INTEGER NOT NULL DEFAULT 0,
	merged        INTEGER NOT NULL DEFAULT 0,
	queued        INTEGER NOT NULL DEFAULT 0,
	status        TEXT NOT NULL DEFAULT 'running',
	error_message TEXT
);

CREATE INDEX IF NOT EXISTS idx_discovery_runs_started ON discovery_runs(started_at DESC);
`

// Migrate creates the schema. Idempotent.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const sqliteCompanyColumns = `id, name, normalized_name, country,
	COALESCE(lei, ''), COALESCE(vat_id, ''), COALESCE(website, ''), COALESCE(domain, ''),
	COALESCE(sector, ''), COALESCE(description, ''),
	moat_signals, certifications, enrichment_state, enrichment_blockers,
	data_sources, input_quality, last_enrichment_attempt, created_at, updated_at`

func (s *SQLiteStore) GetCompany(ctx context.Context, id int64) (*model.CanonicalCompany, error) {
	return s.getCompanyWhere(ctx, "id = ?", id)
}

func (s *SQLiteStore) GetCompanyByLEI(ctx context.Context, lei string) (*model.CanonicalCompany, error) {
	return s.getCompanyWhere(ctx, "lei = ?", lei)
}

func (s *SQLiteStore) GetCompanyByVAT(ctx context.Context, vatID, country string) (*model.CanonicalCompany, error) {
	return s.getCompanyWhere(ctx, "vat_id = ? AND country = ?", vatID, country)
}

func (s *SQLiteStore) GetCompanyByNameKey(ctx context.Context, normalizedName, country string) (*model.CanonicalCompany, error) {
	return s.getCompanyWhere(ctx, "normalized_name = ? AND country = ?", normalizedName, country)
}

func (s *SQLiteStore) GetCompanyByDomain(ctx context.Context, domain string) (*model.CanonicalCompany, error) {
	return s.getCompanyWhere(ctx, "domain = ?", domain)
}

func (s *SQLiteStore) getCompanyWhere(ctx context.Context, where string, args ...any) (*model.CanonicalCompany, error) {
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM companies WHERE %s LIMIT 1`, sqliteCompanyColumns, where),
		args...,
	)
	c, err := scanSQLiteCompany(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: load company")
	}
	return c, nil
}

func (s *SQLiteStore) ListNameKeysByCountry(ctx context.Context, country string) ([]NameKeyRef, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, normalized_name FROM companies WHERE country = ?`, country)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list name keys")
	}
	defer rows.Close()

	var refs []NameKeyRef
	for rows.Next() {
		var r NameKeyRef
		if err := rows.Scan(&r.ID, &r.NormalizedName); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan name key")
		}
		refs = append(refs, r)
	}
	return refs, rows.Err()
}

func (s *SQLiteStore) CreateCompany(ctx context.Context, c *model.CanonicalCompany) error {
	moat, certs, blockers, sources, err := marshalCompanyJSON(c)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO companies (
			name, normalized_name, country, lei, vat_id, website, domain,
			sector, description, moat_signals, certifications,
			enrichment_state, enrichment_blockers, data_sources, input_quality,
			last_enrichment_attempt, created_at, updated_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		c.Name, c.NormalizedName, c.Country,
		nullStr(c.LEI), nullStr(c.VATID), nullStr(c.Website), nullStr(c.Domain),
		nullStr(c.Sector), nullStr(c.Description),
		string(moat), string(certs), c.EnrichmentState, string(blockers), string(sources),
		c.InputQuality, c.LastEnrichmentAttempt, now, now,
	)
	if err != nil {
		return wrapSQLiteWriteErr(err, "sqlite: create company")
	}

	id, err := res.LastInsertId()
	if err != nil {
		return eris.Wrap(err, "sqlite: last insert id")
	}
	c.ID = id
	c.CreatedAt = now
	c.UpdatedAt = now
	return nil
}

func (s *SQLiteStore) UpdateCompany(ctx context.Context, c *model.CanonicalCompany) error {
	moat, certs, blockers, sources, err := marshalCompanyJSON(c)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE companies SET
			name = ?, normalized_name = ?, country = ?,
			lei = ?, vat_id = ?, website = ?, domain = ?,
			sector = ?, description = ?, moat_signals = ?, certifications = ?,
			enrichment_state = ?, enrichment_blockers = ?, data_sources = ?,
			input_quality = ?, last_enrichment_attempt = ?, updated_at = ?
		WHERE id = ?`,
		c.Name, c.NormalizedName, c.Country,
		nullStr(c.LEI), nullStr(c.VATID), nullStr(c.Website), nullStr(c.Domain),
		nullStr(c.Sector), nullStr(c.Description), string(moat), string(certs),
		c.EnrichmentState, string(blockers), string(sources),
		c.InputQuality, c.LastEnrichmentAttempt, time.Now().UTC(), c.ID,
	)
	if err != nil {
		return wrapSQLiteWriteErr(err, "sqlite: update company")
	}
	return checkAffected(res)
}

func (s *SQLiteStore) DeleteCompany(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM companies WHERE id = ?`, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete company %d", id)
	}
	return checkAffected(res)
}

func (s *SQLiteStore) CreateMergeCandidate(ctx context.Context, mc *model.MergeCandidate) (bool, error) {
	var candJSON any
	if mc.Candidate != nil {
		data, err := json.Marshal(mc.Candidate)
		if err != nil {
			return false, eris.Wrap(err, "sqlite: marshal candidate snapshot")
		}
		candJSON = string(data)
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO merge_candidates
			(company_a_id, company_b_id, candidate, pair_key, match_method, confidence, status, created_at)
		 VALUES (?,?,?,?,?,?,?,?)
		 ON CONFLICT(pair_key) DO NOTHING`,
		mc.CompanyAID, mc.CompanyBID, candJSON, mc.PairKey,
		mc.MatchMethod, mc.Confidence, mc.Status, now,
	)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: create merge candidate")
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		existing, err := s.GetMergeCandidateByPairKey(ctx, mc.PairKey)
		if err != nil {
			return false, err
		}
		if existing == nil {
			return false, resilience.NewConflictError("pair:"+mc.PairKey, nil)
		}
		*mc = *existing
		return false, nil
	}

	id, err := res.LastInsertId()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: last insert id")
	}
	mc.ID = id
	mc.CreatedAt = now
	return true, nil
}

const sqliteMergeColumns = `id, company_a_id, company_b_id, candidate, pair_key,
	match_method, confidence, status, reviewed_at, COALESCE(reviewed_by, ''), created_at`

func (s *SQLiteStore) GetMergeCandidate(ctx context.Context, id int64) (*model.MergeCandidate, error) {
	return s.getMergeWhere(ctx, "id = ?", id)
}

func (s *SQLiteStore) GetMergeCandidateByPairKey(ctx context.Context, pairKey string) (*model.MergeCandidate, error) {
	return s.getMergeWhere(ctx, "pair_key = ?", pairKey)
}

func (s *SQLiteStore) getMergeWhere(ctx context.Context, where string, args ...any) (*model.MergeCandidate, error) {
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM merge_candidates WHERE %s LIMIT 1`, sqliteMergeColumns, where),
		args...,
	)

	var (
		mc       model.MergeCandidate
		candJSON sql.NullString
	)
	err := row.Scan(
		&mc.ID, &mc.CompanyAID, &mc.CompanyBID, &candJSON, &mc.PairKey,
		&mc.MatchMethod, &mc.Confidence, &mc.Status, &mc.ReviewedAt, &mc.ReviewedBy, &mc.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: load merge candidate")
	}
	if candJSON.Valid && candJSON.String != "" {
		mc.Candidate = &model.DiscoveredCompany{}
		if err := json.Unmarshal([]byte(candJSON.String), mc.Candidate); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal candidate snapshot")
		}
	}
	return &mc, nil
}

func (s *SQLiteStore) ResolveMergeCandidate(ctx context.Context, id int64, status model.MergeStatus, reviewedBy string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE merge_candidates
		 SET status = ?, reviewed_by = ?, reviewed_at = ?
		 WHERE id = ? AND status = 'pending'`,
		status, reviewedBy, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: resolve merge candidate %d", id)
	}
	return checkAffected(res)
}

const sqliteTaskColumns = `id, company_id, task_type, priority, context, status,
	COALESCE(assigned_to, ''), COALESCE(resolution, ''), created_at, completed_at`

func (s *SQLiteStore) EnqueueReviewTask(ctx context.Context, task *model.ReviewTask) (bool, error) {
	ctxJSON, err := json.Marshal(task.Context)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: marshal task context")
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO review_tasks (company_id, task_type, priority, context, status, created_at)
		 VALUES (?,?,?,?,?,?)
		 ON CONFLICT(company_id, task_type) WHERE status = 'pending' DO NOTHING`,
		task.CompanyID, task.TaskType, task.Priority, string(ctxJSON), task.Status, now,
	)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: enqueue review task")
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		err = s.db.QueryRowContext(ctx,
			`SELECT id FROM review_tasks
			 WHERE company_id = ? AND task_type = ? AND status = 'pending'`,
			task.CompanyID, task.TaskType,
		).Scan(&task.ID)
		if err != nil {
			return false, eris.Wrap(err, "sqlite: find pending review task")
		}
		return false, nil
	}

	id, err := res.LastInsertId()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: last insert id")
	}
	task.ID = id
	task.CreatedAt = now
	return true, nil
}

func (s *SQLiteStore) ListPendingReviewTasks(ctx context.Context, taskType model.TaskType, limit int) ([]model.ReviewTask, error) {
	query := fmt.Sprintf(`SELECT %s FROM review_tasks WHERE status = 'pending'`, sqliteTaskColumns)
	var args []any
	if taskType != "" {
		query += ` AND task_type = ?`
		args = append(args, taskType)
	}
	query += ` ORDER BY priority DESC, created_at ASC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list pending tasks")
	}
	defer rows.Close()

	var tasks []model.ReviewTask
	for rows.Next() {
		t, err := scanSQLiteTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

func (s *SQLiteStore) CountPendingReviewTasks(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM review_tasks WHERE status = 'pending'`).Scan(&n)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: count pending tasks")
	}
	return n, nil
}

func (s *SQLiteStore) GetReviewTask(ctx context.Context, id int64) (*model.ReviewTask, error) {
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT %s FROM review_tasks WHERE id = ?`, sqliteTaskColumns), id)
	t, err := scanSQLiteTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (s *SQLiteStore) CompleteReviewTask(ctx context.Context, id int64, resolution string, updates []FieldUpdate) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin complete task")
	}
	defer tx.Rollback()

	var companyID int64
	err = tx.QueryRowContext(ctx,
		`SELECT company_id FROM review_tasks
		 WHERE id = ? AND status IN ('pending', 'in_progress')`,
		id,
	).Scan(&companyID)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return eris.Wrapf(err, "sqlite: load task %d", id)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE review_tasks
		 SET status = 'completed', resolution = ?, completed_at = ?
		 WHERE id = ?`,
		resolution, time.Now().UTC(), id,
	); err != nil {
		return eris.Wrapf(err, "sqlite: complete task %d", id)
	}

	if len(updates) > 0 {
		sets := make([]string, 0, len(updates)+1)
		var args []any
		for _, u := range updates {
			col, ok := companyUpdateColumns[u.Field]
			if !ok {
				return eris.Errorf("sqlite: field %q is not reviewer-writable", u.Field)
			}
			sets = append(sets, fmt.Sprintf("%s = ?", col))
			args = append(args, nullStr(u.Value))
		}
		sets = append(sets, "updated_at = ?")
		args = append(args, time.Now().UTC(), companyID)

		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf(`UPDATE companies SET %s WHERE id = ?`, strings.Join(sets, ", ")),
			args...,
		); err != nil {
			return wrapSQLiteWriteErr(err, "sqlite: apply review field updates")
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit complete task")
}

func (s *SQLiteStore) SkipReviewTask(ctx context.Context, id int64, reason string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE review_tasks
		 SET status = 'skipped', resolution = ?, completed_at = ?
		 WHERE id = ? AND status IN ('pending', 'in_progress')`,
		reason, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: skip task %d", id)
	}
	return checkAffected(res)
}

func (s *SQLiteStore) StartRun(ctx context.Context, sourceName string) (string, error) {
	id := uuid.New().String()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO discovery_runs (id, source_name, started_at, status)
		 VALUES (?, ?, ?, 'running')`,
		id, sourceName, time.Now().UTC(),
	)
	if err != nil {
		return "", eris.Wrap(err, "sqlite: start run")
	}
	return id, nil
}

func (s *SQLiteStore) RecordRunCounter(ctx context.Context, runID string, counter model.RunCounter) error {
	col, ok := runCounterColumns[counter]
	if !ok {
		return eris.Errorf("sqlite: unknown run counter %q", counter)
	}

	res, err := s.db.ExecContext(ctx, fmt.Sprintf(
		`UPDATE discovery_runs SET %s = %s + 1 WHERE id = ? AND status = 'running'`, col, col),
		runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: count %s on run %s", counter, runID)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		var exists bool
		if err := s.db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM discovery_runs WHERE id = ?)`, runID,
		).Scan(&exists); err != nil {
			return eris.Wrap(err, "sqlite: check run exists")
		}
		if exists {
			return ErrFrozenRun
		}
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) FinishRun(ctx context.Context, runID string, status model.RunStatus, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE discovery_runs
		 SET status = ?, error_message = ?, completed_at = ?
		 WHERE id = ? AND status = 'running'`,
		status, nullStr(errMsg), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish run %s", runID)
	}
	return checkAffected(res)
}

const sqliteRunColumns = `id, source_name, started_at, completed_at,
	discovered, created_new, merged, queued, status, COALESCE(error_message, '')`

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.DiscoveryRun, error) {
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT %s FROM discovery_runs WHERE id = ?`, sqliteRunColumns), runID)

	var r model.DiscoveryRun
	err := row.Scan(
		&r.ID, &r.SourceName, &r.StartedAt, &r.CompletedAt,
		&r.Discovered, &r.CreatedNew, &r.Merged, &r.Queued, &r.Status, &r.ErrorMessage,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get run %s", runID)
	}
	return &r, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, window RunWindow) ([]model.DiscoveryRun, error) {
	limit := window.Limit
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT %s FROM discovery_runs WHERE started_at >= ?
		 ORDER BY started_at DESC LIMIT ?`, sqliteRunColumns),
		window.Since, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.DiscoveryRun
	for rows.Next() {
		var r model.DiscoveryRun
		if err := rows.Scan(
			&r.ID, &r.SourceName, &r.StartedAt, &r.CompletedAt,
			&r.Discovered, &r.CreatedNew, &r.Merged, &r.Queued, &r.Status, &r.ErrorMessage,
		); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// helpers

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func checkAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func wrapSQLiteWriteErr(err error, msg string) error {
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return resilience.NewConflictError("unique", err)
	}
	return eris.Wrap(err, msg)
}

type sqliteScannable interface {
	Scan(dest ...any) error
}

func scanSQLiteCompany(row sqliteScannable) (*model.CanonicalCompany, error) {
	var (
		c        model.CanonicalCompany
		moat     sql.NullString
		certs    sql.NullString
		blockers sql.NullString
		sources  sql.NullString
	)
	err := row.Scan(
		&c.ID, &c.Name, &c.NormalizedName, &c.Country,
		&c.LEI, &c.VATID, &c.Website, &c.Domain, &c.Sector, &c.Description,
		&moat, &certs, &c.EnrichmentState, &blockers,
		&sources, &c.InputQuality, &c.LastEnrichmentAttempt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := unmarshalNullStr(moat, &c.MoatSignals); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal moat signals")
	}
	if err := unmarshalNullStr(certs, &c.Certifications); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal certifications")
	}
	if err := unmarshalNullStr(blockers, &c.Blockers); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal blockers")
	}
	if err := unmarshalNullStr(sources, &c.Provenance); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal provenance")
	}
	return &c, nil
}

func scanSQLiteTask(row sqliteScannable) (*model.ReviewTask, error) {
	var (
		t       model.ReviewTask
		ctxJSON string
	)
	err := row.Scan(
		&t.ID, &t.CompanyID, &t.TaskType, &t.Priority, &ctxJSON, &t.Status,
		&t.AssignedTo, &t.Resolution, &t.CreatedAt, &t.CompletedAt,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan task")
	}
	if err := json.Unmarshal([]byte(ctxJSON), &t.Context); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal task context")
	}
	return &t, nil
}

func unmarshalNullStr(ns sql.NullString, v any) error {
	if !ns.Valid || ns.String == "" || ns.String == "null" {
		return nil
	}
	return json.Unmarshal([]byte(ns.String), v)
}
