// Package ranking scores agents from debate outcomes: ELO ratings from
// match results, flip detection over position embeddings, and a consistency
// score derived from flip counts.
package ranking

import (
	"math"
	"sort"
)

const (
	// InitialElo is the rating every agent starts from.
	InitialElo = 1500
	// KFactor is the maximum rating movement of one pairwise comparison.
	KFactor = 32
)

// EloChanges decomposes one N-agent match into all C(N,2) pairwise
// comparisons and returns the per-agent rating deltas. The winner scores 1
// against every other participant; all other pairs are draws. An empty
// winner makes every pair a draw.
//
// Each pairwise exchange is zero-sum, so the deltas sum to zero within
// floating tolerance. Per-pair movement is scaled by 1/(N-1) so an agent's
// total swing stays within KFactor regardless of field size.
func EloChanges(ratings map[string]float64, participants []string, winner string) map[string]float64 {
	changes := make(map[string]float64, len(participants))
	if len(participants) < 2 {
		return changes
	}

	// Deterministic pair order keeps results reproducible.
	agents := append([]string(nil), participants...)
	sort.Strings(agents)

	scale := KFactor / float64(len(agents)-1)
	for i := 0; i < len(agents); i++ {
		for j := i + 1; j < len(agents); j++ {
			a, b := agents[i], agents[j]
			ra := ratingOr(ratings, a)
			rb := ratingOr(ratings, b)

			expectedA := 1 / (1 + math.Pow(10, (rb-ra)/400))

			var scoreA float64
			switch winner {
			case a:
				scoreA = 1
			case b:
				scoreA = 0
			default:
				scoreA = 0.5
			}

			delta := scale * (scoreA - expectedA)
			changes[a] += delta
			changes[b] -= delta
		}
	}
	return changes
}

func ratingOr(ratings map[string]float64, agent string) float64 {
	if r, ok := ratings[agent]; ok && r > 0 {
		return r
	}
	return InitialElo
}
