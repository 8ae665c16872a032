package provenance

import (
	"time"

	"github.com/sells-group/portfolio-intel/internal/model"
)

// Candidate is the value one observation offers for a field.
type Candidate struct {
	Field      string
	Value      string
	Source     string
	SourceType model.SourceType
	// Quality is the input-quality score of the whole observation,
	// used as the tie-breaker between equal-rank sources.
	Quality    float64
	ObservedAt time.Time
}

// Decision is the outcome of ResolveFieldConflict.
type Decision struct {
	Value      string
	Changed    bool
	Provenance *model.FieldProvenance // non-nil iff Changed
}

// ResolveFieldConflict decides whether a candidate value replaces the
// existing value of a field. Rules, in order:
//
//  1. An empty candidate value never wins.
//  2. A source type not eligible for the field never wins.
//  3. Any value beats no value.
//  4. A higher-ranked source type beats a lower-ranked one.
//  5. At equal rank, the higher input-quality observation wins.
//  6. Exact ties keep the existing value.
//
// The function is pure: it never mutates the record. Callers write the
// winning value and append the returned provenance entry themselves.
func ResolveFieldConflict(existing *model.FieldProvenance, cand Candidate) Decision {
	spec, ok := Spec(cand.Field)
	if !ok {
		return keep(existing)
	}
	if cand.Value == "" || !spec.Eligible(cand.SourceType) {
		return keep(existing)
	}

	if existing == nil || existing.Value == "" {
		return accept(spec, cand)
	}

	exRank := Rank(existing.SourceType)
	caRank := Rank(cand.SourceType)
	switch {
	case caRank > exRank:
		return accept(spec, cand)
	case caRank < exRank:
		return keep(existing)
	}

	// Equal rank: completeness of the candidate observation decides.
	// Stored confidence folds in the observation quality at write time,
	// so it is the comparison basis here. Ties keep the existing value.
	if effectiveConfidence(spec, cand) > existing.Confidence {
		return accept(spec, cand)
	}
	return keep(existing)
}

// effectiveConfidence scales the field's base confidence for the source
// type by the observation's input quality.
func effectiveConfidence(spec FieldSpec, cand Candidate) float64 {
	return spec.Confidence(cand.SourceType) * (0.5 + 0.5*cand.Quality)
}

func accept(spec FieldSpec, cand Candidate) Decision {
	return Decision{
		Value:   cand.Value,
		Changed: true,
		Provenance: &model.FieldProvenance{
			Value:      cand.Value,
			Source:     cand.Source,
			SourceType: cand.SourceType,
			Confidence: effectiveConfidence(spec, cand),
			ObservedAt: cand.ObservedAt,
		},
	}
}

func keep(existing *model.FieldProvenance) Decision {
	if existing == nil {
		return Decision{}
	}
	return Decision{Value: existing.Value}
}
