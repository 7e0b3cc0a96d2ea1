package debate

import (
	"context"
	"sort"

	"github.com/aragora/aragora/pkg/embeddings"
	"github.com/aragora/aragora/pkg/models"
)

// defaultGroupThreshold is the cosine similarity above which two final
// proposals are treated as the same position for tallying.
const defaultGroupThreshold = 0.85

// ballot is one cast vote after parsing.
type ballot struct {
	voter      string
	choice     string
	confidence float64
}

// tallyResult is the consensus decision over a set of ballots.
type tallyResult struct {
	reached    bool
	choice     string
	share      float64
	confidence float64
}

// groupProposals clusters semantically equivalent proposals and returns a
// canonical representative per candidate. Votes for any member of a group
// count for the group's canonical candidate, which is the member earliest in
// the agents order.
func groupProposals(ctx context.Context, embedder embeddings.Embedder, agents []string, proposals map[string]string, threshold float64) map[string]string {
	canon := make(map[string]string, len(agents))
	for _, a := range agents {
		canon[a] = a
	}
	if embedder == nil || len(agents) < 2 {
		return canon
	}
	if threshold <= 0 {
		threshold = defaultGroupThreshold
	}

	texts := make([]string, len(agents))
	for i, a := range agents {
		texts[i] = proposals[a]
	}
	vecs, err := embedder.Embed(ctx, texts)
	if err != nil || len(vecs) != len(agents) {
		// Grouping is an optimization; tally ungrouped on failure.
		return canon
	}

	// Union-find over similar pairs, root = earliest agent in order.
	root := make([]int, len(agents))
	for i := range root {
		root[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		for root[i] != i {
			root[i] = root[root[i]]
			i = root[i]
		}
		return i
	}
	for i := 0; i < len(agents); i++ {
		for j := i + 1; j < len(agents); j++ {
			if embeddings.Cosine(vecs[i], vecs[j]) >= threshold {
				ri, rj := find(i), find(j)
				if ri < rj {
					root[rj] = ri
				} else if rj < ri {
					root[ri] = rj
				}
			}
		}
	}
	for i, a := range agents {
		canon[a] = agents[find(i)]
	}
	return canon
}

// tally applies the consensus policy to the ballots. Weights are required
// for the weighted policy and ignored otherwise; rounds carries the round
// each agent first proposed in, for the majority tiebreak. The judge policy
// never reaches tally; the judge's single ballot decides directly.
func tally(cfg models.DebateConfig, agents []string, ballots []ballot, canon map[string]string, weights map[string]float64, rounds map[string]int) tallyResult {
	if len(ballots) == 0 {
		return tallyResult{}
	}

	type bucket struct {
		weight     float64
		confidence float64
		votes      int
	}
	buckets := make(map[string]*bucket)
	var totalWeight float64

	for _, b := range ballots {
		choice := b.choice
		if c, ok := canon[choice]; ok {
			choice = c
		}
		w := 1.0
		if cfg.Policy == models.ConsensusWeighted {
			if bw, ok := weights[b.voter]; ok && bw > 0 {
				w = bw
			}
		}
		bk := buckets[choice]
		if bk == nil {
			bk = &bucket{}
			buckets[choice] = bk
		}
		bk.weight += w
		bk.confidence += b.confidence
		bk.votes++
		totalWeight += w
	}

	// Deterministic winner: highest weight, then highest mean confidence,
	// then earliest proposal round, then earliest in the agents order.
	order := make(map[string]int, len(agents))
	for i, a := range agents {
		order[a] = i
	}
	choices := make([]string, 0, len(buckets))
	for c := range buckets {
		choices = append(choices, c)
	}
	sort.Slice(choices, func(i, j int) bool {
		bi, bj := buckets[choices[i]], buckets[choices[j]]
		if bi.weight != bj.weight {
			return bi.weight > bj.weight
		}
		mi := bi.confidence / float64(bi.votes)
		mj := bj.confidence / float64(bj.votes)
		if mi != mj {
			return mi > mj
		}
		ri, rj := rounds[choices[i]], rounds[choices[j]]
		if ri != rj && ri > 0 && rj > 0 {
			return ri < rj
		}
		return order[choices[i]] < order[choices[j]]
	})

	top := choices[0]
	share := buckets[top].weight / totalWeight
	meanConf := buckets[top].confidence / float64(buckets[top].votes)

	// Majority is plurality: the tiebroken leader wins at any share. The
	// threshold only gates the share-based policies.
	required := 0.0
	switch cfg.Policy {
	case models.ConsensusSupermajority:
		required = cfg.Threshold
		if required < 2.0/3.0 {
			required = 2.0 / 3.0
		}
	case models.ConsensusUnanimous:
		required = 1
	case models.ConsensusWeighted:
		required = cfg.Threshold
	}

	return tallyResult{
		reached:    share >= required,
		choice:     top,
		share:      share,
		confidence: meanConf,
	}
}
