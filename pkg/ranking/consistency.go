package ranking

import "github.com/aragora/aragora/pkg/models"

// DefaultQualificationWeight is how much a qualification counts against
// consistency. Zero: hedging a claim is not penalized, only reversing it.
const DefaultQualificationWeight = 0.0

// Consistency scores how rarely an agent reverses itself, in [0, 1]. A new
// agent with no positions scores 1. Contradictions and retractions count
// fully; qualifications count by weight; refinements never count.
func Consistency(counts map[models.FlipType]int, totalPositions int, qualificationWeight float64) float64 {
	if totalPositions < 1 {
		totalPositions = 1
	}

	penalty := float64(counts[models.FlipContradiction]) +
		float64(counts[models.FlipRetraction]) +
		qualificationWeight*float64(counts[models.FlipQualification])

	score := 1 - penalty/float64(totalPositions)
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
