package ranking

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aragora/aragora/pkg/embeddings"
	"github.com/aragora/aragora/pkg/models"
)

func TestEloChangesZeroSum(t *testing.T) {
	tests := []struct {
		name         string
		ratings      map[string]float64
		participants []string
		winner       string
	}{
		{"two equal, winner", nil, []string{"a", "b"}, "a"},
		{"two equal, draw", nil, []string{"a", "b"}, ""},
		{"three mixed ratings", map[string]float64{"a": 1700, "b": 1500, "c": 1320}, []string{"a", "b", "c"}, "b"},
		{"five agents", map[string]float64{"a": 1600}, []string{"a", "b", "c", "d", "e"}, "e"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			changes := EloChanges(tc.ratings, tc.participants, tc.winner)
			require.Len(t, changes, len(tc.participants))

			var sum float64
			for _, d := range changes {
				sum += d
			}
			assert.InDelta(t, 0, sum, 1e-6)
		})
	}
}

func TestEloChangesWinnerGains(t *testing.T) {
	changes := EloChanges(nil, []string{"a", "b"}, "a")
	assert.InDelta(t, 16, changes["a"], 1e-9) // K/2 at equal ratings
	assert.InDelta(t, -16, changes["b"], 1e-9)

	// An underdog win moves more than a favorite win.
	underdog := EloChanges(map[string]float64{"a": 1200, "b": 1800}, []string{"a", "b"}, "a")
	favorite := EloChanges(map[string]float64{"a": 1800, "b": 1200}, []string{"a", "b"}, "a")
	assert.Greater(t, underdog["a"], favorite["a"])
}

func TestEloChangesBoundedByK(t *testing.T) {
	changes := EloChanges(nil, []string{"a", "b", "c", "d", "e", "f"}, "a")
	for agent, d := range changes {
		assert.LessOrEqual(t, math.Abs(d), float64(KFactor)+1e-9, "agent %s", agent)
	}
}

func TestEloChangesDegenerate(t *testing.T) {
	assert.Empty(t, EloChanges(nil, []string{"solo"}, "solo"))
	assert.Empty(t, EloChanges(nil, nil, ""))
}

func embedClaims(t *testing.T, claims ...string) [][]float32 {
	t.Helper()
	vecs, err := embeddings.NewLocalEmbedder().Embed(context.Background(), claims)
	require.NoError(t, err)
	return vecs
}

func position(id int64, agent, claim string, emb []float32) *models.Position {
	return &models.Position{ID: id, Agent: agent, Claim: claim, Embedding: emb}
}

func TestDetectContradiction(t *testing.T) {
	claims := []string{
		"we should enable the write through cache for user sessions because the backing store always keeps the authoritative copy and eviction merely discards data that can be fetched again later",
		"we should not enable the write through cache for user sessions because the backing store always keeps the authoritative copy and eviction merely discards data that can be fetched again later",
	}
	vecs := embedClaims(t, claims...)

	d := NewDetector()
	// The local embedder keeps near-identical wording highly similar.
	require.GreaterOrEqual(t, embeddings.Cosine(vecs[0], vecs[1]), d.Same)

	flips := d.Detect(
		position(2, "claude", claims[1], vecs[1]),
		[]*models.Position{position(1, "claude", claims[0], vecs[0])},
	)
	require.Len(t, flips, 1)
	assert.Equal(t, models.FlipContradiction, flips[0].Type)
	assert.Equal(t, int64(1), flips[0].OriginalID)
	assert.Equal(t, int64(2), flips[0].NewID)
	assert.Less(t, flips[0].OriginalID, flips[0].NewID) // edges point old to new
}

func TestDetectRestatementIsNotAFlip(t *testing.T) {
	claims := []string{
		"profile guided optimization of the hot dispatch loop should land before the release because it reliably improves throughput on every workload we measured",
		"profile guided optimization of the hot dispatch loop should land before the release because it reliably improves throughput on every workload we measured recently",
	}
	vecs := embedClaims(t, claims...)

	flips := NewDetector().Detect(
		position(2, "claude", claims[1], vecs[1]),
		[]*models.Position{position(1, "claude", claims[0], vecs[0])},
	)
	assert.Empty(t, flips)
}

func TestDetectRetraction(t *testing.T) {
	claims := []string{
		"the index rebuild is required for correctness of range lookups",
		"i was wrong: the index rebuild is not required for correctness of range lookups",
	}
	vecs := embedClaims(t, claims...)

	flips := NewDetector().Detect(
		position(2, "claude", claims[1], vecs[1]),
		[]*models.Position{position(1, "claude", claims[0], vecs[0])},
	)
	require.Len(t, flips, 1)
	assert.Equal(t, models.FlipRetraction, flips[0].Type)
}

func TestDetectLowSimilarityContradiction(t *testing.T) {
	// A reworded reversal shares little surface with the original claim:
	// orthogonal embeddings put the pair below the qualification band, and
	// the flipped negation still marks it as a contradiction.
	old := position(1, "claude", "we should use microservices for the platform", []float32{1, 0, 0})
	flipped := position(2, "claude", "we should not use microservices for the platform", []float32{0, 1, 0})

	flips := NewDetector().Detect(flipped, []*models.Position{old})
	require.Len(t, flips, 1)
	assert.Equal(t, models.FlipContradiction, flips[0].Type)
	assert.Less(t, flips[0].Similarity, DefaultQualificationThreshold)
}

func TestDetectLowSimilarityRetraction(t *testing.T) {
	old := position(1, "claude", "the nightly batch rewrite is the right investment", []float32{1, 0, 0})
	withdrawn := position(2, "claude", "i withdraw my earlier recommendation about the batch system", []float32{0, 1, 0})

	flips := NewDetector().Detect(withdrawn, []*models.Position{old})
	require.Len(t, flips, 1)
	assert.Equal(t, models.FlipRetraction, flips[0].Type)
}

func TestDetectRefinementTracksConfidence(t *testing.T) {
	// Unit vectors at cosine 0.8, inside the refinement band.
	a := []float32{1, 0}
	b := []float32{0.8, 0.6}

	old := position(1, "claude", "a one megabyte cache is the best size", a)
	old.Confidence = 0.8

	sharper := position(2, "claude", "a one megabyte cache is the best size assuming workload w", b)
	sharper.Confidence = 0.82
	flips := NewDetector().Detect(sharper, []*models.Position{old})
	require.Len(t, flips, 1)
	assert.Equal(t, models.FlipRefinement, flips[0].Type)

	// The same similarity with lost confidence is a hedge.
	hedged := position(3, "claude", "a one megabyte cache is probably the best size", b)
	hedged.Confidence = 0.4
	flips = NewDetector().Detect(hedged, []*models.Position{old})
	require.Len(t, flips, 1)
	assert.Equal(t, models.FlipQualification, flips[0].Type)
}

func TestDetectUnrelatedClaims(t *testing.T) {
	claims := []string{
		"database sharding reduces write contention",
		"penguins huddle for warmth in antarctic winters",
	}
	vecs := embedClaims(t, claims...)

	flips := NewDetector().Detect(
		position(2, "claude", claims[1], vecs[1]),
		[]*models.Position{position(1, "claude", claims[0], vecs[0])},
	)
	assert.Empty(t, flips)
}

func TestDetectIgnoresOtherAgents(t *testing.T) {
	claims := []string{
		"rate limiting is essential for fairness",
		"rate limiting is not essential for fairness",
	}
	vecs := embedClaims(t, claims...)

	flips := NewDetector().Detect(
		position(2, "claude", claims[1], vecs[1]),
		[]*models.Position{position(1, "gpt4", claims[0], vecs[0])},
	)
	assert.Empty(t, flips)
}

func TestDetectWindowBound(t *testing.T) {
	claims := []string{
		"streaming partial responses to the client improves perceived latency for long generations and should stay enabled in the default configuration that we ship",
		"streaming partial responses to the client does not improve perceived latency for long generations and should be disabled in the default configuration that we ship",
	}
	vecs := embedClaims(t, claims...)

	d := NewDetector()
	d.PriorWindow = 1
	filler := position(5, "claude", "unrelated filler claim entirely", nil)
	old := position(1, "claude", claims[0], vecs[0])

	// The contradicting prior sits outside the window.
	flips := d.Detect(position(9, "claude", claims[1], vecs[1]),
		[]*models.Position{filler, old})
	assert.Empty(t, flips)
}

func TestConsistency(t *testing.T) {
	assert.InDelta(t, 1, Consistency(nil, 0, 0), 1e-9)
	assert.InDelta(t, 1, Consistency(nil, 10, 0), 1e-9)

	counts := map[models.FlipType]int{
		models.FlipContradiction: 2,
		models.FlipRetraction:    1,
		models.FlipQualification: 4,
		models.FlipRefinement:    7,
	}
	// Refinements and (at weight 0) qualifications are free.
	assert.InDelta(t, 0.7, Consistency(counts, 10, 0), 1e-9)
	// Qualification weight pulls the score down.
	assert.InDelta(t, 0.5, Consistency(counts, 10, 0.5), 1e-9)

	// Clamped at zero.
	heavy := map[models.FlipType]int{models.FlipContradiction: 20}
	assert.Zero(t, Consistency(heavy, 10, 0))
}
