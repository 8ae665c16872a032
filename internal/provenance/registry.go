// Package provenance decides, per field, which candidate value wins when
// sources disagree. All decision functions are pure: callers own the
// actual write and the provenance-map append.
package provenance

import (
	"github.com/sells-group/portfolio-intel/internal/model"
)

// SourcePriority ranks source types by trust. Higher wins. Manual entry
// beats a regulatory registry beats LLM extraction beats a generic
// scrape; an unknown source type ranks below all of them.
var SourcePriority = map[model.SourceType]int{
	model.SourceManual:   4,
	model.SourceRegistry: 3,
	model.SourceLLM:      2,
	model.SourceScrape:   1,
}

// Rank returns the trust rank for a source type (0 for unknown).
func Rank(st model.SourceType) int {
	return SourcePriority[st]
}

// FieldSpec describes one trackable field: which source types may write
// it at all, and a base confidence assigned per source type when the
// source does not report its own.
type FieldSpec struct {
	Name            string
	EligibleSources []model.SourceType
	BaseConfidence  map[model.SourceType]float64
}

// Eligible reports whether the given source type may write this field.
func (f FieldSpec) Eligible(st model.SourceType) bool {
	for _, s := range f.EligibleSources {
		if s == st {
			return true
		}
	}
	return false
}

// Confidence returns the base confidence for a value of this field from
// the given source type.
func (f FieldSpec) Confidence(st model.SourceType) float64 {
	if c, ok := f.BaseConfidence[st]; ok {
		return c
	}
	return 0.5
}

var allSources = []model.SourceType{
	model.SourceManual, model.SourceRegistry, model.SourceLLM, model.SourceScrape,
}

// FieldRegistry is the static registry of trackable canonical fields.
// Identifier fields accept only manual and registry sources; descriptive
// fields accept anything.
var FieldRegistry = map[string]FieldSpec{
	"name": {
		Name:            "name",
		EligibleSources: allSources,
		BaseConfidence: map[model.SourceType]float64{
			model.SourceManual: 0.99, model.SourceRegistry: 0.95,
			model.SourceLLM: 0.7, model.SourceScrape: 0.6,
		},
	},
	"lei": {
		Name:            "lei",
		EligibleSources: []model.SourceType{model.SourceManual, model.SourceRegistry},
		BaseConfidence: map[model.SourceType]float64{
			model.SourceManual: 0.99, model.SourceRegistry: 0.99,
		},
	},
	"vat_id": {
		Name:            "vat_id",
		EligibleSources: []model.SourceType{model.SourceManual, model.SourceRegistry},
		BaseConfidence: map[model.SourceType]float64{
			model.SourceManual: 0.99, model.SourceRegistry: 0.98,
		},
	},
	"website": {
		Name:            "website",
		EligibleSources: allSources,
		BaseConfidence: map[model.SourceType]float64{
			model.SourceManual: 0.99, model.SourceRegistry: 0.9,
			model.SourceLLM: 0.6, model.SourceScrape: 0.55,
		},
	},
	"sector": {
		Name:            "sector",
		EligibleSources: allSources,
		BaseConfidence: map[model.SourceType]float64{
			model.SourceManual: 0.95, model.SourceRegistry: 0.9,
			model.SourceLLM: 0.65, model.SourceScrape: 0.5,
		},
	},
	"description": {
		Name:            "description",
		EligibleSources: allSources,
		BaseConfidence: map[model.SourceType]float64{
			model.SourceManual: 0.9, model.SourceRegistry: 0.8,
			model.SourceLLM: 0.7, model.SourceScrape: 0.5,
		},
	},
}

// Spec returns the field spec for a field name, or false if the field is
// not trackable.
func Spec(field string) (FieldSpec, bool) {
	f, ok := FieldRegistry[field]
	return f, ok
}
