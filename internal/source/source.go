// Package source defines discovery sources: anything that yields raw
// company observations for the pipeline. Implementations include file
// imports (CSV, XLSX) and remote registries.
package source

import (
	"context"
	"strings"

	"github.com/sells-group/portfolio-intel/internal/model"
)

// Source yields company observations for one discovery run.
type Source interface {
	// Name identifies the source in run ledgers and provenance.
	Name() string

	// Type classifies the source for field-trust ranking.
	Type() model.SourceType

	// Available is the health probe run before a discovery run starts.
	// An unavailable source is skipped without opening a run.
	Available(ctx context.Context) bool

	// Discover calls yield for each observation. It stops early when
	// yield or ctx reports an error. Observations are raw: validation
	// and deduplication happen downstream.
	Discover(ctx context.Context, yield func(model.DiscoveredCompany) error) error
}

// SourceConfig is the construction block shared by all sources.
type SourceConfig struct {
	// Name identifies the source in run ledgers and provenance.
	Name string
	// Type classifies the source for field-trust ranking.
	Type model.SourceType
	// Countries, when set, restricts the source to observations from
	// these ISO 3166-1 alpha-2 codes. Empty means no restriction.
	Countries []string
}

// inScope reports whether country passes the configured country filter.
func (c SourceConfig) inScope(country string) bool {
	if len(c.Countries) == 0 {
		return true
	}
	country = strings.ToUpper(strings.TrimSpace(country))
	for _, want := range c.Countries {
		if strings.ToUpper(strings.TrimSpace(want)) == country {
			return true
		}
	}
	return false
}

// splitList parses a semicolon-separated cell into a clean slice.
func splitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
