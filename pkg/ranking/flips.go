package ranking

import (
	"strings"
	"time"

	"github.com/aragora/aragora/pkg/embeddings"
	"github.com/aragora/aragora/pkg/models"
)

// Similarity bands for classifying the relation between two positions of the
// same agent. Tunable per detector; defaults chosen so near-verbatim restates
// fall above Same and topically unrelated claims below Qualification.
const (
	DefaultSameThreshold          = 0.92
	DefaultRefinementThreshold    = 0.75
	DefaultQualificationThreshold = 0.45

	// DefaultPriorWindow bounds how many of an agent's most recent positions
	// are scanned against a new one.
	DefaultPriorWindow = 50
)

// Detector classifies flips between an agent's new position and its priors.
type Detector struct {
	Same          float64
	Refinement    float64
	Qualification float64
	PriorWindow   int
}

// NewDetector creates a detector with the default thresholds.
func NewDetector() *Detector {
	return &Detector{
		Same:          DefaultSameThreshold,
		Refinement:    DefaultRefinementThreshold,
		Qualification: DefaultQualificationThreshold,
		PriorWindow:   DefaultPriorWindow,
	}
}

// Detect compares a new position against the agent's prior positions and
// returns the detected flips, most severe relation per prior. Priors are
// expected newest-first; only the detector's window is scanned. Edges always
// run from the older position to the newer one.
func (d *Detector) Detect(newPos *models.Position, priors []*models.Position) []*models.Flip {
	if newPos == nil || len(newPos.Embedding) == 0 {
		return nil
	}

	window := priors
	if d.PriorWindow > 0 && len(window) > d.PriorWindow {
		window = window[:d.PriorWindow]
	}

	retracts := hasRetractionMarker(newPos.Claim)
	newNeg := negated(newPos.Claim)

	var flips []*models.Flip
	for _, prior := range window {
		if prior.ID == newPos.ID || prior.Agent != newPos.Agent || len(prior.Embedding) == 0 {
			continue
		}

		sim := embeddings.Cosine(prior.Embedding, newPos.Embedding)

		var flipType models.FlipType
		switch {
		case sim < d.Qualification:
			// An outright reversal shares little surface with the claim it
			// reverses, so the severe classes live below the low band.
			if retracts {
				flipType = models.FlipRetraction
			} else if negated(prior.Claim) != newNeg {
				flipType = models.FlipContradiction
			} else {
				continue // unrelated claims are not flips
			}
		case sim >= d.Same:
			if negated(prior.Claim) != newNeg {
				flipType = models.FlipContradiction
			} else if retracts {
				flipType = models.FlipRetraction
			} else {
				continue // the same position restated
			}
		case retracts:
			flipType = models.FlipRetraction
		case sim >= d.Refinement && newPos.Confidence >= prior.Confidence:
			flipType = models.FlipRefinement
		default:
			// A refinement that loses confidence is a hedge, not a sharpening.
			flipType = models.FlipQualification
		}

		flips = append(flips, &models.Flip{
			Agent:      newPos.Agent,
			OriginalID: prior.ID,
			NewID:      newPos.ID,
			Similarity: sim,
			Type:       flipType,
			Domain:     newPos.Domain,
			DebateID:   newPos.DebateID,
			CreatedAt:  time.Now().UTC(),
		})
	}
	return flips
}

// negators that invert the polarity of a claim. Parity over the claim text
// decides its overall polarity.
var negators = map[string]bool{
	"not": true, "never": true, "no": true, "cannot": true, "can't": true,
	"won't": true, "shouldn't": true, "wouldn't": true, "isn't": true,
	"aren't": true, "doesn't": true, "don't": true, "without": true,
}

func negated(claim string) bool {
	count := 0
	for _, w := range strings.Fields(strings.ToLower(claim)) {
		if negators[strings.Trim(w, ".,;:!?")] {
			count++
		}
	}
	return count%2 == 1
}

var retractionMarkers = []string{
	"i was wrong",
	"i retract",
	"i no longer",
	"i withdraw",
	"on reflection, i",
	"i must concede",
}

func hasRetractionMarker(claim string) bool {
	lower := strings.ToLower(claim)
	for _, m := range retractionMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}
