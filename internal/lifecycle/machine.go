// Package lifecycle tracks where each canonical company sits in the
// enrichment pipeline. It manages lifecycle position and blockers only;
// it never inspects business content.
package lifecycle

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/portfolio-intel/internal/model"
	"github.com/sells-group/portfolio-intel/internal/review"
	"github.com/sells-group/portfolio-intel/internal/store"
)

// RelevanceFilter reports whether a company passed the external
// relevance screen. It controls the priority of find_website escalation.
type RelevanceFilter func(c *model.CanonicalCompany) bool

// transitions lists the legal next states per state. A state may always
// re-enter itself (blocker updates do not regress position).
var transitions = map[model.EnrichmentState][]model.EnrichmentState{
	model.StateDiscovered:     {model.StateWebsitePending, model.StateWebsiteFound},
	model.StateWebsitePending: {model.StateWebsiteFound, model.StateWebsiteBlocked},
	model.StateWebsiteBlocked: {model.StateWebsiteFound},
	model.StateWebsiteFound:   {model.StateEnriched},
	model.StateEnriched:       {model.StateScored},
	model.StateScored:         {},
}

// ErrBadTransition is returned for a transition the machine does not allow.
var ErrBadTransition = eris.New("lifecycle: transition not allowed")

// Machine applies lifecycle transitions and blocker bookkeeping.
type Machine struct {
	store    store.Store
	queue    *review.Queue
	relevant RelevanceFilter
	now      func() time.Time
}

// NewMachine creates a lifecycle machine. A nil relevance filter treats
// every company as not relevance-matched (low escalation priority).
func NewMachine(st store.Store, q *review.Queue, relevant RelevanceFilter) *Machine {
	return &Machine{store: st, queue: q, relevant: relevant, now: time.Now}
}

// Initialize moves a freshly created or merged company out of
// Discovered: straight to WebsiteFound when a website is already known,
// WebsitePending otherwise.
func (m *Machine) Initialize(ctx context.Context, c *model.CanonicalCompany) error {
	if c.EnrichmentState != model.StateDiscovered {
		return nil
	}
	next := model.StateWebsitePending
	if c.Website != "" {
		next = model.StateWebsiteFound
	}
	return m.advance(ctx, c, next)
}

// Advance moves a company to newState, validating the transition.
// Collaborators report website discovery, enrichment, and scoring
// completion through this single entry point.
func (m *Machine) Advance(ctx context.Context, companyID int64, newState model.EnrichmentState) error {
	c, err := m.store.GetCompany(ctx, companyID)
	if err != nil {
		return eris.Wrapf(err, "lifecycle: load company %d", companyID)
	}
	if c == nil {
		return store.ErrNotFound
	}
	return m.advance(ctx, c, newState)
}

func (m *Machine) advance(ctx context.Context, c *model.CanonicalCompany, newState model.EnrichmentState) error {
	if c.EnrichmentState == newState {
		return nil
	}
	if !allowed(c.EnrichmentState, newState) {
		return eris.Wrapf(ErrBadTransition, "%s -> %s", c.EnrichmentState, newState)
	}

	prev := c.EnrichmentState
	c.EnrichmentState = newState

	// Reaching WebsiteFound clears website blockers; the stall is over.
	if newState == model.StateWebsiteFound {
		c.Blockers = withoutCode(c.Blockers, BlockerWebsiteNotFound)
	}

	if err := m.store.UpdateCompany(ctx, c); err != nil {
		return eris.Wrapf(err, "lifecycle: persist state %s", newState)
	}

	zap.L().Info("lifecycle: advanced",
		zap.Int64("company_id", c.ID),
		zap.String("from", string(prev)),
		zap.String("to", string(newState)),
	)

	if newState == model.StateWebsiteBlocked {
		return m.escalateWebsite(ctx, c)
	}
	return nil
}

// Blocker codes recorded by this machine and its collaborators.
const (
	BlockerWebsiteNotFound = "website_not_found"
	BlockerSuspectData     = "suspect_data"
	BlockerSuspectSector   = "suspect_sector"
)

// RecordBlocker appends a structured blocker to a company without
// changing its state. Duplicate codes update the detail in place.
func (m *Machine) RecordBlocker(ctx context.Context, companyID int64, code, detail string) error {
	c, err := m.store.GetCompany(ctx, companyID)
	if err != nil {
		return eris.Wrapf(err, "lifecycle: load company %d", companyID)
	}
	if c == nil {
		return store.ErrNotFound
	}

	b := model.Blocker{Code: code, Detail: detail, RecordedAt: m.now().UTC()}
	replaced := false
	for i := range c.Blockers {
		if c.Blockers[i].Code == code {
			c.Blockers[i] = b
			replaced = true
			break
		}
	}
	if !replaced {
		c.Blockers = append(c.Blockers, b)
	}

	if err := m.store.UpdateCompany(ctx, c); err != nil {
		return eris.Wrap(err, "lifecycle: persist blocker")
	}

	zap.L().Info("lifecycle: blocker recorded",
		zap.Int64("company_id", companyID),
		zap.String("code", code),
	)
	return nil
}

// escalateWebsite queues a find_website review task. Companies that
// passed the relevance filter get priority 8, the rest 3.
func (m *Machine) escalateWebsite(ctx context.Context, c *model.CanonicalCompany) error {
	relevant := m.relevant != nil && m.relevant(c)
	priority := 3
	if relevant {
		priority = 8
	}

	_, err := m.queue.Enqueue(ctx, c.ID, model.TaskFindWebsite, priority, model.TaskContext{
		FindWebsite: &model.FindWebsiteContext{
			CompanyName:    c.Name,
			Country:        c.Country,
			RelevanceMatch: relevant,
		},
	})
	return err
}

func allowed(from, to model.EnrichmentState) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func withoutCode(blockers []model.Blocker, code string) []model.Blocker {
	out := blockers[:0]
	for _, b := range blockers {
		if b.Code != code {
			out = append(out, b)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
