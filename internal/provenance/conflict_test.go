package provenance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/portfolio-intel/internal/model"
)

func TestResolveFieldConflict_NullFieldAcceptsAnySource(t *testing.T) {
	d := ResolveFieldConflict(nil, Candidate{
		Field:      "sector",
		Value:      "industrial automation",
		Source:     "vc-portfolio",
		SourceType: model.SourceScrape,
		Quality:    0.3,
		ObservedAt: time.Now(),
	})

	assert.True(t, d.Changed)
	assert.Equal(t, "industrial automation", d.Value)
	require.NotNil(t, d.Provenance)
	assert.Equal(t, model.SourceScrape, d.Provenance.SourceType)
}

func TestResolveFieldConflict_HigherRankOverwrites(t *testing.T) {
	existing := &model.FieldProvenance{
		Value:      "Acme Ltd",
		Source:     "website-guess",
		SourceType: model.SourceScrape,
		Confidence: 0.6,
	}

	d := ResolveFieldConflict(existing, Candidate{
		Field:      "name",
		Value:      "Acme Limited",
		Source:     "gleif",
		SourceType: model.SourceRegistry,
		Quality:    0.8,
	})

	assert.True(t, d.Changed)
	assert.Equal(t, "Acme Limited", d.Value)
}

func TestResolveFieldConflict_LowerRankNeverOverwrites(t *testing.T) {
	existing := &model.FieldProvenance{
		Value:      "Acme Limited",
		Source:     "gleif",
		SourceType: model.SourceRegistry,
		Confidence: 0.95,
	}

	d := ResolveFieldConflict(existing, Candidate{
		Field:      "name",
		Value:      "ACME LTD.",
		Source:     "website-guess",
		SourceType: model.SourceScrape,
		Quality:    1.0,
	})

	assert.False(t, d.Changed)
	assert.Equal(t, "Acme Limited", d.Value)
	assert.Nil(t, d.Provenance)
}

func TestResolveFieldConflict_EqualRankQualityWins(t *testing.T) {
	existing := &model.FieldProvenance{
		Value:      "https://acme.example",
		Source:     "portfolio-a",
		SourceType: model.SourceScrape,
		// Written from a low-quality observation.
		Confidence: 0.55 * (0.5 + 0.5*0.2),
	}

	d := ResolveFieldConflict(existing, Candidate{
		Field:      "website",
		Value:      "https://acme-group.example",
		Source:     "portfolio-b",
		SourceType: model.SourceScrape,
		Quality:    0.9,
	})

	assert.True(t, d.Changed)
	assert.Equal(t, "https://acme-group.example", d.Value)
}

func TestResolveFieldConflict_ExactTieKeepsExisting(t *testing.T) {
	existing := &model.FieldProvenance{
		Value:      "https://acme.example",
		Source:     "portfolio-a",
		SourceType: model.SourceScrape,
		Confidence: 0.55 * (0.5 + 0.5*0.9),
	}

	d := ResolveFieldConflict(existing, Candidate{
		Field:      "website",
		Value:      "https://other.example",
		Source:     "portfolio-b",
		SourceType: model.SourceScrape,
		Quality:    0.9,
	})

	assert.False(t, d.Changed)
	assert.Equal(t, "https://acme.example", d.Value)
}

func TestResolveFieldConflict_IneligibleSourceRejected(t *testing.T) {
	// LEI can only come from manual entry or a registry.
	d := ResolveFieldConflict(nil, Candidate{
		Field:      "lei",
		Value:      "529900T8BM49AURSDO55",
		Source:     "website-guess",
		SourceType: model.SourceScrape,
		Quality:    0.9,
	})

	assert.False(t, d.Changed)
}

func TestResolveFieldConflict_EmptyCandidateNeverWins(t *testing.T) {
	existing := &model.FieldProvenance{
		Value:      "fintech",
		SourceType: model.SourceScrape,
		Confidence: 0.4,
	}

	d := ResolveFieldConflict(existing, Candidate{
		Field:      "sector",
		Value:      "",
		Source:     "manual-import",
		SourceType: model.SourceManual,
	})

	assert.False(t, d.Changed)
	assert.Equal(t, "fintech", d.Value)
}

func TestResolveFieldConflict_MonotonicProvenance(t *testing.T) {
	// Once a registry value is in place, repeated scrape observations
	// never change it, no matter how many arrive.
	existing := &model.FieldProvenance{
		Value:      "Acme Limited",
		Source:     "gleif",
		SourceType: model.SourceRegistry,
		Confidence: 0.95,
	}

	for i := 0; i < 5; i++ {
		d := ResolveFieldConflict(existing, Candidate{
			Field:      "name",
			Value:      "acme",
			Source:     "scraper",
			SourceType: model.SourceScrape,
			Quality:    1.0,
		})
		assert.False(t, d.Changed)
	}
}

func TestComputeInputQuality(t *testing.T) {
	tests := []struct {
		name string
		in   model.DiscoveredCompany
		min  float64
		max  float64
	}{
		{
			name: "name only",
			in:   model.DiscoveredCompany{Name: "Acme"},
			min:  0.05, max: 0.2,
		},
		{
			name: "name and country",
			in:   model.DiscoveredCompany{Name: "Acme", Country: "GB"},
			min:  0.15, max: 0.3,
		},
		{
			name: "with identifier",
			in:   model.DiscoveredCompany{Name: "Acme", Country: "GB", LEI: "529900T8BM49AURSDO55"},
			min:  0.5, max: 0.7,
		},
		{
			name: "fully populated",
			in: model.DiscoveredCompany{
				Name: "Acme", Country: "GB", LEI: "529900T8BM49AURSDO55",
				Website: "https://acme.example", Sector: "robotics",
				Description: "Industrial robots", MoatSignals: []string{"patents"},
				Certifications: []string{"ISO 9001"},
			},
			min: 0.99, max: 1.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := ComputeInputQuality(tt.in)
			assert.GreaterOrEqual(t, q, tt.min)
			assert.LessOrEqual(t, q, tt.max)
		})
	}
}

func TestComputeInputQuality_IdentifierOutweighsDescriptiveFields(t *testing.T) {
	withID := ComputeInputQuality(model.DiscoveredCompany{
		Name: "Acme", Country: "GB", VATID: "GB123456789",
	})
	withoutID := ComputeInputQuality(model.DiscoveredCompany{
		Name: "Acme", Country: "GB",
		Sector: "robotics", Description: "Industrial robots",
	})
	assert.Greater(t, withID, withoutID)
}
