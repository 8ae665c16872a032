package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rotisserie/eris"

	"github.com/sells-group/portfolio-intel/internal/db"
	"github.com/sells-group/portfolio-intel/internal/model"
	"github.com/sells-group/portfolio-intel/internal/resilience"
)

// PostgresStore implements Store using pgx.
type PostgresStore struct {
	pool db.Pool
}

// NewPostgresStore creates a store over an existing pool.
func NewPostgresStore(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const companyColumns = `id, name, normalized_name, country,
	COALESCE(lei, ''), COALESCE(vat_id, ''), COALESCE(website, ''), COALESCE(domain, ''),
	COALESCE(sector, ''), COALESCE(description, ''),
	moat_signals, certifications, enrichment_state, enrichment_blockers,
	data_sources, input_quality, last_enrichment_attempt, created_at, updated_at`

func (s *PostgresStore) GetCompany(ctx context.Context, id int64) (*model.CanonicalCompany, error) {
	return s.getCompanyWhere(ctx, "id = $1", id)
}

func (s *PostgresStore) GetCompanyByLEI(ctx context.Context, lei string) (*model.CanonicalCompany, error) {
	return s.getCompanyWhere(ctx, "lei = $1", lei)
}

func (s *PostgresStore) GetCompanyByVAT(ctx context.Context, vatID, country string) (*model.CanonicalCompany, error) {
	return s.getCompanyWhere(ctx, "vat_id = $1 AND country = $2", vatID, country)
}

func (s *PostgresStore) GetCompanyByNameKey(ctx context.Context, normalizedName, country string) (*model.CanonicalCompany, error) {
	return s.getCompanyWhere(ctx, "normalized_name = $1 AND country = $2", normalizedName, country)
}

func (s *PostgresStore) GetCompanyByDomain(ctx context.Context, domain string) (*model.CanonicalCompany, error) {
	return s.getCompanyWhere(ctx, "domain = $1", domain)
}

func (s *PostgresStore) getCompanyWhere(ctx context.Context, where string, args ...any) (*model.CanonicalCompany, error) {
	row := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM companies WHERE %s LIMIT 1`, companyColumns, where),
		args...,
	)
	c, err := scanCompany(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "store: load company")
	}
	return c, nil
}

func (s *PostgresStore) ListNameKeysByCountry(ctx context.Context, country string) ([]NameKeyRef, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, normalized_name FROM companies WHERE country = $1`, country)
	if err != nil {
		return nil, eris.Wrap(err, "store: list name keys")
	}
	defer rows.Close()

	var refs []NameKeyRef
	for rows.Next() {
		var r NameKeyRef
		if err := rows.Scan(&r.ID, &r.NormalizedName); err != nil {
			return nil, eris.Wrap(err, "store: scan name key")
		}
		refs = append(refs, r)
	}
	return refs, rows.Err()
}

func (s *PostgresStore) CreateCompany(ctx context.Context, c *model.CanonicalCompany) error {
	moat, certs, blockers, sources, err := marshalCompanyJSON(c)
	if err != nil {
		return err
	}

	err = s.pool.QueryRow(ctx,
		`INSERT INTO companies (
			name, normalized_name, country, lei, vat_id, website, domain,
			sector, description, moat_signals, certifications,
			enrichment_state, enrichment_blockers, data_sources, input_quality,
			last_enrichment_attempt
		) VALUES ($1,$2,$3,NULLIF($4,''),NULLIF($5,''),NULLIF($6,''),NULLIF($7,''),
			NULLIF($8,''),NULLIF($9,''),$10,$11,$12,$13,$14,$15,$16)
		RETURNING id, created_at, updated_at`,
		c.Name, c.NormalizedName, c.Country, c.LEI, c.VATID, c.Website, c.Domain,
		c.Sector, c.Description, moat, certs,
		c.EnrichmentState, blockers, sources, c.InputQuality,
		c.LastEnrichmentAttempt,
	).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return wrapWriteErr(err, "store: create company")
	}
	return nil
}

func (s *PostgresStore) UpdateCompany(ctx context.Context, c *model.CanonicalCompany) error {
	moat, certs, blockers, sources, err := marshalCompanyJSON(c)
	if err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE companies SET
			name = $2, normalized_name = $3, country = $4,
			lei = NULLIF($5,''), vat_id = NULLIF($6,''),
			website = NULLIF($7,''), domain = NULLIF($8,''),
			sector = NULLIF($9,''), description = NULLIF($10,''),
			moat_signals = $11, certifications = $12,
			enrichment_state = $13, enrichment_blockers = $14,
			data_sources = $15, input_quality = $16,
			last_enrichment_attempt = $17, updated_at = now()
		WHERE id = $1`,
		c.ID, c.Name, c.NormalizedName, c.Country, c.LEI, c.VATID,
		c.Website, c.Domain, c.Sector, c.Description, moat, certs,
		c.EnrichmentState, blockers, sources, c.InputQuality,
		c.LastEnrichmentAttempt,
	)
	if err != nil {
		return wrapWriteErr(err, "store: update company")
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteCompany(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM companies WHERE id = $1`, id)
	if err != nil {
		return eris.Wrapf(err, "store: delete company %d", id)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const mergeColumns = `id, company_a_id, company_b_id, candidate, pair_key,
	match_method, confidence, status, reviewed_at, COALESCE(reviewed_by, ''), created_at`

func (s *PostgresStore) CreateMergeCandidate(ctx context.Context, mc *model.MergeCandidate) (bool, error) {
	var candJSON []byte
	if mc.Candidate != nil {
		var err error
		if candJSON, err = json.Marshal(mc.Candidate); err != nil {
			return false, eris.Wrap(err, "store: marshal merge candidate snapshot")
		}
	}

	err := s.pool.QueryRow(ctx,
		`INSERT INTO merge_candidates (
			company_a_id, company_b_id, candidate, pair_key, match_method, confidence, status
		) VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (pair_key) DO NOTHING
		RETURNING id, created_at`,
		mc.CompanyAID, mc.CompanyBID, candJSON, mc.PairKey, mc.MatchMethod, mc.Confidence, mc.Status,
	).Scan(&mc.ID, &mc.CreatedAt)
	if err == nil {
		return true, nil
	}
	if err != pgx.ErrNoRows {
		return false, eris.Wrap(err, "store: create merge candidate")
	}

	// Pair key already present; hand back the existing row.
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

func (s *PostgresStore) GetMergeCandidate(ctx context.Context, id int64) (*model.MergeCandidate, error) {
	return s.getMergeWhere(ctx, "id = $1", id)
}

func (s *PostgresStore) GetMergeCandidateByPairKey(ctx context.Context, pairKey string) (*model.MergeCandidate, error) {
	return s.getMergeWhere(ctx, "pair_key = $1", pairKey)
}

func (s *PostgresStore) getMergeWhere(ctx context.Context, where string, args ...any) (*model.MergeCandidate, error) {
	row := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM merge_candidates WHERE %s LIMIT 1`, mergeColumns, where),
		args...,
	)

	var mc model.MergeCandidate
	var candJSON []byte
	err := row.Scan(
		&mc.ID, &mc.CompanyAID, &mc.CompanyBID, &candJSON, &mc.PairKey,
		&mc.MatchMethod, &mc.Confidence, &mc.Status, &mc.ReviewedAt, &mc.ReviewedBy, &mc.CreatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "store: load merge candidate")
	}
	if len(candJSON) > 0 {
		mc.Candidate = &model.DiscoveredCompany{}
		if err := json.Unmarshal(candJSON, mc.Candidate); err != nil {
			return nil, eris.Wrap(err, "store: unmarshal merge candidate snapshot")
		}
	}
	return &mc, nil
}

func (s *PostgresStore) ResolveMergeCandidate(ctx context.Context, id int64, status model.MergeStatus, reviewedBy string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE merge_candidates
		 SET status = $2, reviewed_by = $3, reviewed_at = now()
		 WHERE id = $1 AND status = 'pending'`,
		id, status, reviewedBy,
	)
	if err != nil {
		return eris.Wrapf(err, "store: resolve merge candidate %d", id)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const taskColumns = `id, company_id, task_type, priority, context, status,
	COALESCE(assigned_to, ''), COALESCE(resolution, ''), created_at, completed_at`

func (s *PostgresStore) EnqueueReviewTask(ctx context.Context, task *model.ReviewTask) (bool, error) {
	ctxJSON, err := json.Marshal(task.Context)
	if err != nil {
		return false, eris.Wrap(err, "store: marshal task context")
	}

	err = s.pool.QueryRow(ctx,
		`INSERT INTO review_tasks (company_id, task_type, priority, context, status)
		 VALUES ($1,$2,$3,$4,$5)
		 ON CONFLICT (company_id, task_type) WHERE status = 'pending' DO NOTHING
		 RETURNING id, created_at`,
		task.CompanyID, task.TaskType, task.Priority, ctxJSON, task.Status,
	).Scan(&task.ID, &task.CreatedAt)
	if err == nil {
		return true, nil
	}
	if err != pgx.ErrNoRows {
		return false, eris.Wrap(err, "store: enqueue review task")
	}

	// A pending task of this type already exists for the company.
	err = s.pool.QueryRow(ctx,
		`SELECT id FROM review_tasks
		 WHERE company_id = $1 AND task_type = $2 AND status = 'pending'`,
		task.CompanyID, task.TaskType,
	).Scan(&task.ID)
	if err != nil {
		return false, eris.Wrap(err, "store: find pending review task")
	}
	return false, nil
}

func (s *PostgresStore) ListPendingReviewTasks(ctx context.Context, taskType model.TaskType, limit int) ([]model.ReviewTask, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if taskType == "" {
		rows, err = s.pool.Query(ctx, fmt.Sprintf(
			`SELECT %s FROM review_tasks WHERE status = 'pending'
			 ORDER BY priority DESC, created_at ASC LIMIT $1`, taskColumns), limit)
	} else {
		rows, err = s.pool.Query(ctx, fmt.Sprintf(
			`SELECT %s FROM review_tasks WHERE status = 'pending' AND task_type = $1
			 ORDER BY priority DESC, created_at ASC LIMIT $2`, taskColumns), taskType, limit)
	}
	if err != nil {
		return nil, eris.Wrap(err, "store: list pending tasks")
	}
	defer rows.Close()

	var tasks []model.ReviewTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

func (s *PostgresStore) CountPendingReviewTasks(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM review_tasks WHERE status = 'pending'`).Scan(&n)
	if err != nil {
		return 0, eris.Wrap(err, "store: count pending tasks")
	}
	return n, nil
}

func (s *PostgresStore) GetReviewTask(ctx context.Context, id int64) (*model.ReviewTask, error) {
	row := s.pool.QueryRow(ctx, fmt.Sprintf(
		`SELECT %s FROM review_tasks WHERE id = $1`, taskColumns), id)
	t, err := scanTask(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// companyUpdateColumns whitelists reviewer-writable columns. Derived
// columns (normalized_name, domain) are supplied by the caller alongside
// the source field.
var companyUpdateColumns = map[string]string{
	"name":            "name",
	"normalized_name": "normalized_name",
	"website":         "website",
	"domain":          "domain",
	"sector":          "sector",
	"description":     "description",
	"lei":             "lei",
	"vat_id":          "vat_id",
}

func (s *PostgresStore) CompleteReviewTask(ctx context.Context, id int64, resolution string, updates []FieldUpdate) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "store: begin complete task")
	}
	defer tx.Rollback(ctx)

	var companyID int64
	err = tx.QueryRow(ctx,
		`UPDATE review_tasks
		 SET status = 'completed', resolution = $2, completed_at = now()
		 WHERE id = $1 AND status IN ('pending', 'in_progress')
		 RETURNING company_id`,
		id, resolution,
	).Scan(&companyID)
	if err == pgx.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return eris.Wrapf(err, "store: complete task %d", id)
	}

	if len(updates) > 0 {
		sets := make([]string, 0, len(updates)+1)
		args := []any{companyID}
		for _, u := range updates {
			col, ok := companyUpdateColumns[u.Field]
			if !ok {
				return eris.Errorf("store: field %q is not reviewer-writable", u.Field)
			}
			args = append(args, u.Value)
			sets = append(sets, fmt.Sprintf("%s = NULLIF($%d,'')", col, len(args)))
		}
		sets = append(sets, "updated_at = now()")

		query := fmt.Sprintf(`UPDATE companies SET %s WHERE id = $1`, strings.Join(sets, ", "))
		tag, err := tx.Exec(ctx, query, args...)
		if err != nil {
			return wrapWriteErr(err, "store: apply review field updates")
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return eris.Wrap(err, "store: commit complete task")
	}
	return nil
}

func (s *PostgresStore) SkipReviewTask(ctx context.Context, id int64, reason string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE review_tasks
		 SET status = 'skipped', resolution = $2, completed_at = now()
		 WHERE id = $1 AND status IN ('pending', 'in_progress')`,
		id, reason,
	)
	if err != nil {
		return eris.Wrapf(err, "store: skip task %d", id)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) StartRun(ctx context.Context, sourceName string) (string, error) {
	var id string
	err := s.pool.QueryRow(ctx,
		`INSERT INTO discovery_runs (source_name) VALUES ($1) RETURNING id`,
		sourceName,
	).Scan(&id)
	if err != nil {
		return "", eris.Wrap(err, "store: start run")
	}
	return id, nil
}

var runCounterColumns = map[model.RunCounter]string{
	model.CountDiscovered: "discovered",
	model.CountCreated:    "created_new",
	model.CountMerged:     "merged",
	model.CountQueued:     "queued",
}

func (s *PostgresStore) RecordRunCounter(ctx context.Context, runID string, counter model.RunCounter) error {
	col, ok := runCounterColumns[counter]
	if !ok {
		return eris.Errorf("store: unknown run counter %q", counter)
	}

	tag, err := s.pool.Exec(ctx, fmt.Sprintf(
		`UPDATE discovery_runs SET %s = %s + 1 WHERE id = $1 AND status = 'running'`, col, col),
		runID,
	)
	if err != nil {
		return eris.Wrapf(err, "store: count %s on run %s", counter, runID)
	}
	if tag.RowsAffected() == 0 {
		// Either missing or frozen; distinguish for the caller.
		var exists bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM discovery_runs WHERE id = $1)`, runID,
		).Scan(&exists); err != nil {
			return eris.Wrap(err, "store: check run exists")
		}
		if exists {
			return ErrFrozenRun
		}
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) FinishRun(ctx context.Context, runID string, status model.RunStatus, errMsg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE discovery_runs
		 SET status = $2, error_message = NULLIF($3,''), completed_at = now()
		 WHERE id = $1 AND status = 'running'`,
		runID, status, errMsg,
	)
	if err != nil {
		return eris.Wrapf(err, "store: finish run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const runColumns = `id, source_name, started_at, completed_at,
	discovered, created_new, merged, queued, status, COALESCE(error_message, '')`

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.DiscoveryRun, error) {
	row := s.pool.QueryRow(ctx, fmt.Sprintf(
		`SELECT %s FROM discovery_runs WHERE id = $1`, runColumns), runID)

	var r model.DiscoveryRun
	err := row.Scan(
		&r.ID, &r.SourceName, &r.StartedAt, &r.CompletedAt,
		&r.Discovered, &r.CreatedNew, &r.Merged, &r.Queued, &r.Status, &r.ErrorMessage,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "store: get run %s", runID)
	}
	return &r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, window RunWindow) ([]model.DiscoveryRun, error) {
	limit := window.Limit
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.pool.Query(ctx, fmt.Sprintf(
		`SELECT %s FROM discovery_runs WHERE started_at >= $1
		 ORDER BY started_at DESC LIMIT $2`, runColumns),
		window.Since, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "store: list runs")
	}
	defer rows.Close()

	var runs []model.DiscoveryRun
	for rows.Next() {
		var r model.DiscoveryRun
		if err := rows.Scan(
			&r.ID, &r.SourceName, &r.StartedAt, &r.CompletedAt,
			&r.Discovered, &r.CreatedNew, &r.Merged, &r.Queued, &r.Status, &r.ErrorMessage,
		); err != nil {
			return nil, eris.Wrap(err, "store: scan run")
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func marshalCompanyJSON(c *model.CanonicalCompany) (moat, certs, blockers, sources []byte, err error) {
	if moat, err = json.Marshal(emptyAsNil(c.MoatSignals)); err != nil {
		return nil, nil, nil, nil, eris.Wrap(err, "store: marshal moat signals")
	}
	if certs, err = json.Marshal(emptyAsNil(c.Certifications)); err != nil {
		return nil, nil, nil, nil, eris.Wrap(err, "store: marshal certifications")
	}
	if blockers, err = json.Marshal(c.Blockers); err != nil {
		return nil, nil, nil, nil, eris.Wrap(err, "store: marshal blockers")
	}
	prov := c.Provenance
	if prov == nil {
		prov = map[string]model.FieldProvenance{}
	}
	if sources, err = json.Marshal(prov); err != nil {
		return nil, nil, nil, nil, eris.Wrap(err, "store: marshal provenance")
	}
	return moat, certs, blockers, sources, nil
}

func emptyAsNil(s []string) []string {
	if len(s) == 0 {
		return nil
	}
	return s
}

func scanCompany(row pgx.Row) (*model.CanonicalCompany, error) {
	var (
		c        model.CanonicalCompany
		moat     []byte
		certs    []byte
		blockers []byte
		sources  []byte
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

	if err := unmarshalInto(moat, &c.MoatSignals); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal moat signals")
	}
	if err := unmarshalInto(certs, &c.Certifications); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal certifications")
	}
	if err := unmarshalInto(blockers, &c.Blockers); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal blockers")
	}
	if err := unmarshalInto(sources, &c.Provenance); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal provenance")
	}
	return &c, nil
}

func scanTask(row pgx.Row) (*model.ReviewTask, error) {
	var (
		t       model.ReviewTask
		ctxJSON []byte
	)
	err := row.Scan(
		&t.ID, &t.CompanyID, &t.TaskType, &t.Priority, &ctxJSON, &t.Status,
		&t.AssignedTo, &t.Resolution, &t.CreatedAt, &t.CompletedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "store: scan task")
	}
	if err := unmarshalInto(ctxJSON, &t.Context); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal task context")
	}
	return &t, nil
}

func unmarshalInto(data []byte, v any) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	return json.Unmarshal(data, v)
}

// wrapWriteErr maps unique violations and serialization failures to
// conflict errors so the engine's retry loop re-reads the index.
func wrapWriteErr(err error, msg string) error {
	var pgErr *pgconn.PgError
	if eris.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return resilience.NewConflictError(pgErr.ConstraintName, err)
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return resilience.NewConflictError(pgErr.Code, err)
		}
	}
	return eris.Wrap(err, msg)
}
