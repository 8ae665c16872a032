// Package model defines the data contracts shared by the discovery and
// deduplication subsystem.
package model

import "time"

// SourceType classifies the kind of discovery source an observation came
// from. It drives field-level trust ranking during conflict resolution.
type SourceType string

const (
	// SourceManual is a human-entered value (CSV import, reviewer edit).
	SourceManual SourceType = "manual"
	// SourceRegistry is an accreditation or regulatory registry.
	SourceRegistry SourceType = "registry"
	// SourceLLM is a value extracted by an LLM from unstructured text.
	SourceLLM SourceType = "llm"
	// SourceScrape is a generic scrape (VC portfolio page, website guess).
	SourceScrape SourceType = "scrape"
)

// DiscoveredCompany is a single raw observation yielded by a discovery
// source. It is ephemeral: owned by the pipeline until the deduplication
// engine consumes it.
type DiscoveredCompany struct {
	Name           string     `json:"name"`
	Country        string     `json:"country"`
	Source         string     `json:"source"`
	SourceType     SourceType `json:"source_type"`
	SourceURL      string     `json:"source_url,omitempty"`
	LEI            string     `json:"lei,omitempty"`
	VATID          string     `json:"vat_id,omitempty"`
	Website        string     `json:"website,omitempty"`
	Sector         string     `json:"sector,omitempty"`
	Description    string     `json:"description,omitempty"`
	MoatSignals    []string   `json:"moat_signals,omitempty"`
	Certifications []string   `json:"certifications,omitempty"`
}

// EnrichmentState is the lifecycle position of a canonical company.
type EnrichmentState string

const (
	StateDiscovered     EnrichmentState = "discovered"
	StateWebsitePending EnrichmentState = "website_pending"
	StateWebsiteFound   EnrichmentState = "website_found"
	StateWebsiteBlocked EnrichmentState = "website_blocked"
	StateEnriched       EnrichmentState = "enriched"
	StateScored         EnrichmentState = "scored"
)

// Blocker is a structured reason enrichment is stalled. Blockers
// accumulate; they never regress the enrichment state on their own.
type Blocker struct {
	Code       string    `json:"code"`
	Detail     string    `json:"detail,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// FieldProvenance records the origin of a field's current value on the
// canonical record.
type FieldProvenance struct {
	Value      string     `json:"value"`
	Source     string     `json:"source"`
	SourceType SourceType `json:"source_type"`
	Confidence float64    `json:"confidence"`
	ObservedAt time.Time  `json:"observed_at"`
}

// CanonicalCompany is the system of record: one persisted row per
// real-world company. LEI and (VATID, Country) are hard unique keys;
// (NormalizedName, Country) is a soft key used only to narrow matching.
type CanonicalCompany struct {
	ID              int64           `json:"id"`
	Name            string          `json:"name"`
	NormalizedName  string          `json:"normalized_name"`
	Country         string          `json:"country"`
	LEI             string          `json:"lei,omitempty"`
	VATID           string          `json:"vat_id,omitempty"`
	Website         string          `json:"website,omitempty"`
	Domain          string          `json:"domain,omitempty"`
	Sector          string          `json:"sector,omitempty"`
	Description     string          `json:"description,omitempty"`
	MoatSignals     []string        `json:"moat_signals,omitempty"`
	Certifications  []string        `json:"certifications,omitempty"`
	EnrichmentState EnrichmentState `json:"enrichment_state"`
	Blockers        []Blocker       `json:"enrichment_blockers,omitempty"`

	// Provenance maps field name to the origin of its current value.
	Provenance map[string]FieldProvenance `json:"data_sources,omitempty"`

	InputQuality          float64    `json:"input_quality"`
	LastEnrichmentAttempt *time.Time `json:"last_enrichment_attempt,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasIdentifier reports whether the record carries at least one hard
// legal identifier.
func (c *CanonicalCompany) HasIdentifier() bool {
	return c.LEI != "" || c.VATID != ""
}

// HasIdentifier reports whether the observation carries at least one
// hard legal identifier.
func (d *DiscoveredCompany) HasIdentifier() bool {
	return d.LEI != "" || d.VATID != ""
}
