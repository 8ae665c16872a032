package provenance

import "github.com/sells-group/portfolio-intel/internal/model"

// ComputeInputQuality scores the completeness of a discovered
// observation on a 0-1 scale. Populated fields each contribute; a
// verifiable legal identifier contributes the most, since it makes the
// record independently checkable.
func ComputeInputQuality(d model.DiscoveredCompany) float64 {
	var score, total float64

	weigh := func(present bool, weight float64) {
		total += weight
		if present {
			score += weight
		}
	}

	weigh(d.Name != "", 1)
	weigh(d.Country != "", 1)
	weigh(d.HasIdentifier(), 3)
	weigh(d.Website != "", 1.5)
	weigh(d.Sector != "", 1)
	weigh(d.Description != "", 0.5)
	weigh(len(d.MoatSignals) > 0, 0.5)
	weigh(len(d.Certifications) > 0, 0.5)

	return score / total
}
