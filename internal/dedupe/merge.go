package dedupe

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/portfolio-intel/internal/model"
	"github.com/sells-group/portfolio-intel/internal/provenance"
	"github.com/sells-group/portfolio-intel/internal/store"
)

// queueForReview records a canonical-discovered merge candidate and a
// confirm_merge task for it. The pair key makes re-discovery of the same
// candidate idempotent, and a rejected pair is permanent: the candidate
// becomes a new record instead of re-entering the queue.
func (e *Engine) queueForReview(ctx context.Context, n normalized, target *model.CanonicalCompany, method string, confidence float64) (MatchOutcome, error) {
	snapshot := n.raw
	mc := &model.MergeCandidate{
		CompanyAID:  target.ID,
		Candidate:   &snapshot,
		PairKey:     fmt.Sprintf("d:%d:%s", target.ID, n.fingerprint()),
		MatchMethod: method,
		Confidence:  confidence,
		Status:      model.MergePending,
	}

	created, err := e.store.CreateMergeCandidate(ctx, mc)
	if err != nil {
		return MatchOutcome{}, eris.Wrap(err, "dedupe: create merge candidate")
	}

	if !created {
		switch mc.Status {
		case model.MergeRejected:
			// A reviewer already decided this exact pairing is two
			// distinct companies. Never ask again.
			return e.createNew(ctx, n)
		case model.MergeConfirmed:
			// Previously approved pairing; the same candidate merges
			// straight in.
			return e.merge(ctx, n, target, method, confidence)
		}
	}

	priority := 5
	if method == MethodIdentifierConflict {
		priority = 7
	}
	if _, err := e.queue.Enqueue(ctx, target.ID, model.TaskConfirmMerge, priority, model.TaskContext{
		ConfirmMerge: &model.ConfirmMergeContext{
			MergeCandidateID: mc.ID,
			MatchMethod:      method,
			Confidence:       confidence,
		},
	}); err != nil {
		return MatchOutcome{}, err
	}

	zap.L().Info("dedupe: queued for review",
		zap.Int64("company_id", target.ID),
		zap.Int64("merge_candidate_id", mc.ID),
		zap.String("method", method),
		zap.Float64("confidence", confidence),
	)

	return MatchOutcome{
		Kind:             OutcomeQueuedForReview,
		CompanyID:        target.ID,
		MergeCandidateID: mc.ID,
		Method:           method,
		Confidence:       confidence,
	}, nil
}

// queueCandidateConflict diverts a candidate whose hard identifier
// disagrees with its best match. Likely two legally-distinct entities;
// a human decides.
func (e *Engine) queueCandidateConflict(ctx context.Context, n normalized, target *model.CanonicalCompany) (MatchOutcome, error) {
	zap.L().Warn("dedupe: identifier conflict with matched record",
		zap.Int64("company_id", target.ID),
		zap.String("candidate_lei", n.lei),
		zap.String("record_lei", target.LEI),
		zap.String("candidate_vat", n.vatID),
		zap.String("record_vat", target.VATID),
	)
	return e.queueForReview(ctx, n, target, MethodIdentifierConflict, 0.5)
}

// queueIdentifierConflict handles a candidate whose LEI and VAT resolve
// to two different canonical records. The two records themselves are
// paired for review; the candidate is not written anywhere until a
// reviewer untangles the identifiers.
func (e *Engine) queueIdentifierConflict(ctx context.Context, n normalized, a, b *model.CanonicalCompany) (MatchOutcome, error) {
	lo, hi := a.ID, b.ID
	if lo > hi {
		lo, hi = hi, lo
	}

	bID := hi
	mc := &model.MergeCandidate{
		CompanyAID:  lo,
		CompanyBID:  &bID,
		PairKey:     fmt.Sprintf("c:%d:%d", lo, hi),
		MatchMethod: MethodIdentifierConflict,
		Confidence:  0.5,
		Status:      model.MergePending,
	}

	created, err := e.store.CreateMergeCandidate(ctx, mc)
	if err != nil {
		return MatchOutcome{}, eris.Wrap(err, "dedupe: create identifier-conflict candidate")
	}

	zap.L().Warn("dedupe: candidate identifiers split across two records",
		zap.Int64("lei_company_id", a.ID),
		zap.Int64("vat_company_id", b.ID),
		zap.String("source", n.raw.Source),
		zap.Bool("already_queued", !created),
	)

	if mc.Status == model.MergePending {
		if _, err := e.queue.Enqueue(ctx, lo, model.TaskConfirmMerge, 9, model.TaskContext{
			ConfirmMerge: &model.ConfirmMergeContext{
				MergeCandidateID: mc.ID,
				MatchMethod:      MethodIdentifierConflict,
				Confidence:       0.5,
			},
		}); err != nil {
			return MatchOutcome{}, err
		}
	}

	return MatchOutcome{
		Kind:             OutcomeQueuedForReview,
		CompanyID:        lo,
		MergeCandidateID: mc.ID,
		Method:           MethodIdentifierConflict,
		Confidence:       0.5,
	}, nil
}

// ConfirmMerge applies a reviewer-approved merge candidate. For a
// canonical-canonical pair, company B is folded into company A and
// deleted; for a canonical-discovered pair, the stored snapshot is
// merged into company A. Returns the surviving company ID.
func (e *Engine) ConfirmMerge(ctx context.Context, candidateID int64, reviewedBy string) (int64, error) {
	mc, err := e.store.GetMergeCandidate(ctx, candidateID)
	if err != nil {
		return 0, eris.Wrapf(err, "dedupe: load merge candidate %d", candidateID)
	}
	if mc == nil {
		return 0, store.ErrNotFound
	}
	if mc.Status != model.MergePending {
		return 0, eris.Errorf("dedupe: merge candidate %d already %s", candidateID, mc.Status)
	}

	a, err := e.store.GetCompany(ctx, mc.CompanyAID)
	if err != nil {
		return 0, eris.Wrapf(err, "dedupe: load company %d", mc.CompanyAID)
	}
	if a == nil {
		return 0, store.ErrNotFound
	}

	switch {
	case mc.CompanyBID != nil:
		if err := e.foldCanonical(ctx, a, *mc.CompanyBID); err != nil {
			return 0, err
		}
	case mc.Candidate != nil:
		n, err := e.normalize(*mc.Candidate)
		if err != nil {
			return 0, eris.Wrap(err, "dedupe: stored candidate snapshot")
		}
		if _, err := e.merge(ctx, n, a, mc.MatchMethod, mc.Confidence); err != nil {
			return 0, err
		}
	default:
		return 0, eris.Errorf("dedupe: merge candidate %d has no counterpart", candidateID)
	}

	if err := e.store.ResolveMergeCandidate(ctx, candidateID, model.MergeConfirmed, reviewedBy); err != nil {
		return 0, eris.Wrapf(err, "dedupe: resolve candidate %d", candidateID)
	}

	zap.L().Info("dedupe: merge confirmed",
		zap.Int64("merge_candidate_id", candidateID),
		zap.Int64("surviving_company_id", a.ID),
		zap.String("reviewed_by", reviewedBy),
	)
	return a.ID, nil
}

// RejectMerge marks a merge candidate rejected. The pair key row is
// retained, so the same pairing is never queued again.
func (e *Engine) RejectMerge(ctx context.Context, candidateID int64, reviewedBy string) error {
	mc, err := e.store.GetMergeCandidate(ctx, candidateID)
	if err != nil {
		return eris.Wrapf(err, "dedupe: load merge candidate %d", candidateID)
	}
	if mc == nil {
		return store.ErrNotFound
	}
	if mc.Status != model.MergePending {
		return eris.Errorf("dedupe: merge candidate %d already %s", candidateID, mc.Status)
	}

	if err := e.store.ResolveMergeCandidate(ctx, candidateID, model.MergeRejected, reviewedBy); err != nil {
		return eris.Wrapf(err, "dedupe: resolve candidate %d", candidateID)
	}

	zap.L().Info("dedupe: merge rejected",
		zap.Int64("merge_candidate_id", candidateID),
		zap.String("reviewed_by", reviewedBy),
	)
	return nil
}

// foldCanonical merges canonical company bID into a and deletes the b
// row. Field winners are decided by comparing the two records' stored
// provenance directly: higher source rank first, then confidence.
func (e *Engine) foldCanonical(ctx context.Context, a *model.CanonicalCompany, bID int64) error {
	b, err := e.store.GetCompany(ctx, bID)
	if err != nil {
		return eris.Wrapf(err, "dedupe: load company %d", bID)
	}
	if b == nil {
		return store.ErrNotFound
	}

	if a.Provenance == nil {
		a.Provenance = make(map[string]model.FieldProvenance)
	}

	absorb := func(field, bValue string, apply func(string)) {
		if bValue == "" {
			return
		}
		bp, bOK := b.Provenance[field]
		ap, aOK := a.Provenance[field]
		if !bOK {
			// No provenance on record; only fill a gap.
			if !aOK && fieldEmpty(a, field) {
				apply(bValue)
			}
			return
		}
		if aOK && !bWins(ap, bp) {
			return
		}
		apply(bValue)
		a.Provenance[field] = bp
	}

	absorb("name", b.Name, func(v string) {
		a.Name = v
		a.NormalizedName = NormalizeName(v)
	})
	absorb("sector", b.Sector, func(v string) { a.Sector = v })
	absorb("description", b.Description, func(v string) { a.Description = v })
	absorb("website", b.Website, func(v string) {
		a.Website = v
		a.Domain = NormalizeDomain(v)
	})

	// Identifiers fill empty slots; on disagreement the A-side value
	// stands and the discarded one is logged.
	if a.LEI == "" && b.LEI != "" {
		a.LEI = b.LEI
		if p, ok := b.Provenance["lei"]; ok {
			a.Provenance["lei"] = p
		}
	} else if b.LEI != "" && a.LEI != b.LEI {
		zap.L().Warn("dedupe: discarding conflicting LEI on fold",
			zap.Int64("company_id", a.ID),
			zap.String("kept", a.LEI),
			zap.String("discarded", b.LEI),
		)
	}
	if a.VATID == "" && b.VATID != "" {
		a.VATID = b.VATID
		if p, ok := b.Provenance["vat_id"]; ok {
			a.Provenance["vat_id"] = p
		}
	}

	appendMissing(&a.MoatSignals, b.MoatSignals)
	appendMissing(&a.Certifications, b.Certifications)
	if b.InputQuality > a.InputQuality {
		a.InputQuality = b.InputQuality
	}

	if err := e.store.UpdateCompany(ctx, a); err != nil {
		return eris.Wrapf(err, "dedupe: persist fold into %d", a.ID)
	}
	if err := e.store.DeleteCompany(ctx, bID); err != nil {
		return eris.Wrapf(err, "dedupe: delete folded company %d", bID)
	}

	zap.L().Info("dedupe: folded canonical record",
		zap.Int64("surviving_company_id", a.ID),
		zap.Int64("deleted_company_id", bID),
	)
	return nil
}

// bWins decides between two stored provenance entries: rank first,
// confidence as tie-break. Ties keep the A side.
func bWins(ap, bp model.FieldProvenance) bool {
	ar, br := provenance.Rank(ap.SourceType), provenance.Rank(bp.SourceType)
	if br != ar {
		return br > ar
	}
	return bp.Confidence > ap.Confidence
}

func fieldEmpty(c *model.CanonicalCompany, field string) bool {
	switch field {
	case "name":
		return c.Name == ""
	case "sector":
		return c.Sector == ""
	case "description":
		return c.Description == ""
	case "website":
		return c.Website == ""
	default:
		return false
	}
}
