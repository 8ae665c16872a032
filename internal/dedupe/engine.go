package dedupe

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/portfolio-intel/internal/lifecycle"
	"github.com/sells-group/portfolio-intel/internal/model"
	"github.com/sells-group/portfolio-intel/internal/provenance"
	"github.com/sells-group/portfolio-intel/internal/resilience"
	"github.com/sells-group/portfolio-intel/internal/review"
	"github.com/sells-group/portfolio-intel/internal/store"
)

// Match methods reported in outcomes and merge candidates.
const (
	MethodLEI                = "lei_exact"
	MethodVAT                = "vat_exact"
	MethodNameExact          = "name_exact"
	MethodNameFuzzy          = "name_fuzzy"
	MethodDomain             = "domain_exact"
	MethodIdentifierConflict = "identifier_conflict"
)

// OutcomeKind labels the three terminal outcomes of Resolve.
type OutcomeKind string

const (
	OutcomeMergedInto      OutcomeKind = "merged_into"
	OutcomeCreatedNew      OutcomeKind = "created_new"
	OutcomeQueuedForReview OutcomeKind = "queued_for_review"
)

// MatchOutcome is the terminal result of resolving one candidate.
type MatchOutcome struct {
	Kind             OutcomeKind
	CompanyID        int64 // target for merged_into / created_new
	MergeCandidateID int64 // set for queued_for_review
	Method           string
	Confidence       float64
}

// MalformedCandidateError rejects a candidate before it enters the
// matching pipeline. It is counted neither as new nor merged.
type MalformedCandidateError struct {
	Reason string
}

func (e *MalformedCandidateError) Error() string {
	return "dedupe: malformed candidate: " + e.Reason
}

// IsMalformed reports whether err is a candidate-validation rejection.
func IsMalformed(err error) bool {
	var me *MalformedCandidateError
	return eris.As(err, &me)
}

// Config holds the tunable matching thresholds. Zero values fall back
// to the calibrated defaults.
type Config struct {
	// AutoMergeThreshold: scored stages at or above this merge
	// automatically. Default 0.95.
	AutoMergeThreshold float64
	// ReviewFloor: scored stages in [ReviewFloor, AutoMergeThreshold)
	// queue a merge candidate. Below it, a new record is created.
	// Default 0.75.
	ReviewFloor float64
	// FuzzyFloor: minimum name similarity for the fuzzy stage to report
	// a match at all. Default 0.80.
	FuzzyFloor float64
	// MaxWriteAttempts bounds the decide-and-write retry loop on index
	// conflicts. Default 3.
	MaxWriteAttempts int
}

func (c Config) withDefaults() Config {
	if c.AutoMergeThreshold <= 0 {
		c.AutoMergeThreshold = 0.95
	}
	if c.ReviewFloor <= 0 {
		c.ReviewFloor = 0.75
	}
	if c.FuzzyFloor <= 0 {
		c.FuzzyFloor = 0.80
	}
	if c.MaxWriteAttempts <= 0 {
		c.MaxWriteAttempts = 3
	}
	return c
}

// Engine matches incoming candidates against the canonical index.
type Engine struct {
	store store.Store
	queue *review.Queue
	life  *lifecycle.Machine
	cfg   Config
	locks *keyLock
	now   func() time.Time
}

// NewEngine creates a deduplication engine.
func NewEngine(st store.Store, q *review.Queue, life *lifecycle.Machine, cfg Config) *Engine {
	return &Engine{
		store: st,
		queue: q,
		life:  life,
		cfg:   cfg.withDefaults(),
		locks: newKeyLock(),
		now:   time.Now,
	}
}

// normalized is a candidate after validation and key derivation.
type normalized struct {
	raw     model.DiscoveredCompany
	country string
	nameKey string
	lei     string
	vatID   string
	domain  string
	quality float64
}

// Resolve matches one candidate against the canonical index and applies
// the decision: merge into an existing record, create a new one, or
// queue a merge candidate for review. The decide-and-write step runs
// under a per-match-key lock and retries from a fresh index read on
// write conflicts (bounded; at-least-once across runs).
func (e *Engine) Resolve(ctx context.Context, cand model.DiscoveredCompany) (MatchOutcome, error) {
	n, err := e.normalize(cand)
	if err != nil {
		return MatchOutcome{}, err
	}

	retryCfg := resilience.RetryConfig{
		MaxAttempts:    e.cfg.MaxWriteAttempts,
		InitialBackoff: 50 * time.Millisecond,
		ShouldRetry:    resilience.IsConflict,
		OnRetry:        resilience.RetryLogger("dedupe", "resolve"),
	}

	return resilience.DoVal(ctx, retryCfg, func(ctx context.Context) (MatchOutcome, error) {
		unlock := e.locks.Lock(n.lockKey())
		defer unlock()
		return e.resolveLocked(ctx, n)
	})
}

func (e *Engine) normalize(cand model.DiscoveredCompany) (normalized, error) {
	if strings.TrimSpace(cand.Name) == "" {
		return normalized{}, &MalformedCandidateError{Reason: "missing name"}
	}
	country := NormalizeCountry(cand.Country)
	if !ValidCountry(country) {
		return normalized{}, &MalformedCandidateError{Reason: fmt.Sprintf("invalid country code %q", cand.Country)}
	}

	return normalized{
		raw:     cand,
		country: country,
		nameKey: NormalizeName(cand.Name),
		lei:     strings.ToUpper(strings.TrimSpace(cand.LEI)),
		vatID:   strings.ToUpper(strings.TrimSpace(cand.VATID)),
		domain:  NormalizeDomain(cand.Website),
		quality: provenance.ComputeInputQuality(cand),
	}, nil
}

// lockKey picks the strongest available identity key to serialize on.
func (n normalized) lockKey() string {
	switch {
	case n.lei != "":
		return "lei:" + n.lei
	case n.vatID != "":
		return "vat:" + n.country + ":" + n.vatID
	default:
		return "name:" + n.country + ":" + n.nameKey
	}
}

// fingerprint identifies the candidate-record pairing for merge
// candidate idempotence and rejection permanence.
func (n normalized) fingerprint() string {
	h := sha256.Sum256([]byte(strings.Join([]string{
		n.lei, n.vatID, n.country, n.nameKey, n.domain,
	}, "\x1f")))
	return hex.EncodeToString(h[:8])
}

func (e *Engine) resolveLocked(ctx context.Context, n normalized) (MatchOutcome, error) {
	// Identifier stages are strictly first: a hard legal identifier
	// overrides every name or domain signal.
	leiHit, vatHit, err := e.identifierHits(ctx, n)
	if err != nil {
		return MatchOutcome{}, err
	}

	if leiHit != nil && vatHit != nil && leiHit.ID != vatHit.ID {
		// Two hard identifiers pointing at legally-distinct records.
		// Never guess; force review.
		return e.queueIdentifierConflict(ctx, n, leiHit, vatHit)
	}

	if hit := firstNonNil(leiHit, vatHit); hit != nil {
		method := MethodLEI
		if hit == vatHit && leiHit == nil {
			method = MethodVAT
		}
		if conflictsOnIdentifiers(n, hit) {
			return e.queueCandidateConflict(ctx, n, hit)
		}
		return e.merge(ctx, n, hit, method, 1.0)
	}

	// Exact normalized-name + country.
	if hit, err := e.store.GetCompanyByNameKey(ctx, n.nameKey, n.country); err != nil {
		return MatchOutcome{}, eris.Wrap(err, "dedupe: name key lookup")
	} else if hit != nil {
		if conflictsOnIdentifiers(n, hit) {
			// Same name, different legal identifier: legitimately
			// distinct entities sharing a trading name.
			return e.queueCandidateConflict(ctx, n, hit)
		}
		return e.merge(ctx, n, hit, MethodNameExact, 0.9)
	}

	// Scored stages: fuzzy name within country, then website domain.
	best, err := e.bestScoredMatch(ctx, n)
	if err != nil {
		return MatchOutcome{}, err
	}

	switch {
	case best.company != nil && best.confidence >= e.cfg.AutoMergeThreshold:
		return e.merge(ctx, n, best.company, best.method, best.confidence)
	case best.company != nil && best.confidence >= e.cfg.ReviewFloor:
		return e.queueForReview(ctx, n, best.company, best.method, best.confidence)
	default:
		return e.createNew(ctx, n)
	}
}

func (e *Engine) identifierHits(ctx context.Context, n normalized) (leiHit, vatHit *model.CanonicalCompany, err error) {
	if n.lei != "" {
		leiHit, err = e.store.GetCompanyByLEI(ctx, n.lei)
		if err != nil {
			return nil, nil, eris.Wrap(err, "dedupe: LEI lookup")
		}
	}
	if n.vatID != "" {
		vatHit, err = e.store.GetCompanyByVAT(ctx, n.vatID, n.country)
		if err != nil {
			return nil, nil, eris.Wrap(err, "dedupe: VAT lookup")
		}
	}
	return leiHit, vatHit, nil
}

// conflictsOnIdentifiers reports whether candidate and record both carry
// a hard identifier and disagree on it.
func conflictsOnIdentifiers(n normalized, c *model.CanonicalCompany) bool {
	if n.lei != "" && c.LEI != "" && n.lei != c.LEI {
		return true
	}
	if n.vatID != "" && c.VATID != "" && n.vatID != c.VATID {
		return true
	}
	return false
}

type scoredMatch struct {
	company    *model.CanonicalCompany
	method     string
	confidence float64
}

func (e *Engine) bestScoredMatch(ctx context.Context, n normalized) (scoredMatch, error) {
	var best scoredMatch

	refs, err := e.store.ListNameKeysByCountry(ctx, n.country)
	if err != nil {
		return best, eris.Wrap(err, "dedupe: list name keys")
	}

	var bestRef *store.NameKeyRef
	var bestSim float64
	for i := range refs {
		if sim := Similarity(n.nameKey, refs[i].NormalizedName); sim >= e.cfg.FuzzyFloor && sim > bestSim {
			bestSim = sim
			bestRef = &refs[i]
		}
	}
	if bestRef != nil {
		c, err := e.store.GetCompany(ctx, bestRef.ID)
		if err != nil {
			return best, eris.Wrap(err, "dedupe: load fuzzy hit")
		}
		if c != nil && !conflictsOnIdentifiers(n, c) {
			// Fuzzy confidence is the similarity score itself.
			best = scoredMatch{company: c, method: MethodNameFuzzy, confidence: bestSim}
		}
	}

	if n.domain != "" {
		c, err := e.store.GetCompanyByDomain(ctx, n.domain)
		if err != nil {
			return best, eris.Wrap(err, "dedupe: domain lookup")
		}
		if c != nil && !conflictsOnIdentifiers(n, c) && 0.85 > best.confidence {
			best = scoredMatch{company: c, method: MethodDomain, confidence: 0.85}
		}
	}

	return best, nil
}

// merge applies the candidate's fields to an existing record through the
// field-conflict rules, then advances the lifecycle if new data
// unblocked it.
func (e *Engine) merge(ctx context.Context, n normalized, target *model.CanonicalCompany, method string, confidence float64) (MatchOutcome, error) {
	hadWebsite := target.Website != ""

	changed := e.applyCandidateFields(n, target)
	if changed {
		if err := e.store.UpdateCompany(ctx, target); err != nil {
			return MatchOutcome{}, eris.Wrapf(err, "dedupe: merge into %d", target.ID)
		}
	}

	zap.L().Info("dedupe: merged candidate",
		zap.Int64("company_id", target.ID),
		zap.String("method", method),
		zap.Float64("confidence", confidence),
		zap.String("source", n.raw.Source),
	)

	// A website arriving for a record stalled on website discovery
	// unblocks it.
	if !hadWebsite && target.Website != "" &&
		(target.EnrichmentState == model.StateWebsitePending || target.EnrichmentState == model.StateWebsiteBlocked) {
		if err := e.life.Advance(ctx, target.ID, model.StateWebsiteFound); err != nil {
			return MatchOutcome{}, eris.Wrap(err, "dedupe: advance after merge")
		}
	}

	return MatchOutcome{
		Kind:       OutcomeMergedInto,
		CompanyID:  target.ID,
		Method:     method,
		Confidence: confidence,
	}, nil
}

// applyCandidateFields runs every candidate field through the provenance
// rules and writes the winners onto target. Returns whether anything
// changed. Hard identifiers are only ever filled, never replaced.
func (e *Engine) applyCandidateFields(n normalized, target *model.CanonicalCompany) bool {
	if target.Provenance == nil {
		target.Provenance = make(map[string]model.FieldProvenance)
	}

	observed := e.now().UTC()
	changed := false

	decide := func(field, value string, apply func(string)) {
		var existing *model.FieldProvenance
		if p, ok := target.Provenance[field]; ok {
			existing = &p
		}
		d := provenance.ResolveFieldConflict(existing, provenance.Candidate{
			Field:      field,
			Value:      value,
			Source:     n.raw.Source,
			SourceType: n.raw.SourceType,
			Quality:    n.quality,
			ObservedAt: observed,
		})
		if d.Changed {
			apply(d.Value)
			target.Provenance[field] = *d.Provenance
			changed = true
		}
	}

	decide("name", n.raw.Name, func(v string) {
		target.Name = v
		target.NormalizedName = NormalizeName(v)
	})
	decide("sector", n.raw.Sector, func(v string) { target.Sector = v })
	decide("description", n.raw.Description, func(v string) { target.Description = v })
	decide("website", n.raw.Website, func(v string) {
		target.Website = v
		target.Domain = NormalizeDomain(v)
	})

	// Identifiers fill empty slots only; conflicting values were
	// diverted to review before reaching here.
	if n.lei != "" && target.LEI == "" {
		decide("lei", n.lei, func(v string) { target.LEI = v })
	}
	if n.vatID != "" && target.VATID == "" {
		decide("vat_id", n.vatID, func(v string) { target.VATID = v })
	}

	if appendMissing(&target.MoatSignals, n.raw.MoatSignals) {
		changed = true
	}
	if appendMissing(&target.Certifications, n.raw.Certifications) {
		changed = true
	}

	if n.quality > target.InputQuality {
		target.InputQuality = n.quality
		changed = true
	}

	return changed
}

func (e *Engine) createNew(ctx context.Context, n normalized) (MatchOutcome, error) {
	c := &model.CanonicalCompany{
		Name:            n.raw.Name,
		NormalizedName:  n.nameKey,
		Country:         n.country,
		LEI:             n.lei,
		VATID:           n.vatID,
		Website:         n.raw.Website,
		Domain:          n.domain,
		Sector:          n.raw.Sector,
		Description:     n.raw.Description,
		MoatSignals:     n.raw.MoatSignals,
		Certifications:  n.raw.Certifications,
		EnrichmentState: model.StateDiscovered,
		InputQuality:    n.quality,
		Provenance:      make(map[string]model.FieldProvenance),
	}

	// Seed provenance for every populated field.
	observed := e.now().UTC()
	for field, value := range map[string]string{
		"name":        n.raw.Name,
		"lei":         n.lei,
		"vat_id":      n.vatID,
		"website":     n.raw.Website,
		"sector":      n.raw.Sector,
		"description": n.raw.Description,
	} {
		if value == "" {
			continue
		}
		if d := provenance.ResolveFieldConflict(nil, provenance.Candidate{
			Field:      field,
			Value:      value,
			Source:     n.raw.Source,
			SourceType: n.raw.SourceType,
			Quality:    n.quality,
			ObservedAt: observed,
		}); d.Changed {
			c.Provenance[field] = *d.Provenance
		}
	}

	if err := e.store.CreateCompany(ctx, c); err != nil {
		// Unique-key violations surface as conflicts; the retry loop
		// re-reads the index and will find the winner of the race.
		return MatchOutcome{}, err
	}

	if err := e.life.Initialize(ctx, c); err != nil {
		return MatchOutcome{}, eris.Wrap(err, "dedupe: initialize lifecycle")
	}

	zap.L().Info("dedupe: created canonical record",
		zap.Int64("company_id", c.ID),
		zap.String("name", c.Name),
		zap.String("country", c.Country),
		zap.String("source", n.raw.Source),
	)

	return MatchOutcome{Kind: OutcomeCreatedNew, CompanyID: c.ID}, nil
}

func firstNonNil(companies ...*model.CanonicalCompany) *model.CanonicalCompany {
	for _, c := range companies {
		if c != nil {
			return c
		}
	}
	return nil
}

func appendMissing(dst *[]string, values []string) bool {
	added := false
	for _, v := range values {
		found := false
		for _, d := range *dst {
			if d == v {
				found = true
				break
			}
		}
		if !found {
			*dst = append(*dst, v)
			added = true
		}
	}
	return added
}
