package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aragora/aragora/pkg/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestDebate(slug string) *models.Debate {
	return &models.Debate{
		ID:            "dbt_" + slug,
		Slug:          slug,
		Task:          "Should we cache sessions?",
		Agents:        []string{"claude", "gpt4"},
		RoundsPlanned: 3,
		Status:        models.DebateStatusCreated,
		CreatedAt:     time.Now().UTC(),
	}
}

func TestOpenAppliesMigrations(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Health(context.Background()))

	// Re-opening the same file is a no-op for migrations.
	path := filepath.Join(t.TempDir(), "reopen.db")
	s1, err := Open(path, nil)
	require.NoError(t, err)
	require.NoError(t, s1.Close())
	s2, err := Open(path, nil)
	require.NoError(t, err)
	require.NoError(t, s2.Close())
}

func TestCreateAndGetDebate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	d := newTestDebate("cache-debate")
	require.NoError(t, s.CreateDebate(ctx, d))

	got, err := s.GetDebate(ctx, "cache-debate")
	require.NoError(t, err)
	assert.Equal(t, d.ID, got.ID)
	assert.Equal(t, d.Task, got.Task)
	assert.Equal(t, []string{"claude", "gpt4"}, got.Agents)
	assert.Equal(t, models.DebateStatusCreated, got.Status)
	assert.False(t, got.Sealed())

	_, err = s.GetDebate(ctx, "no-such-slug")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateDebateDuplicateSlug(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateDebate(ctx, newTestDebate("dup")))
	dup := newTestDebate("dup")
	dup.ID = "dbt_other"
	assert.ErrorIs(t, s.CreateDebate(ctx, dup), ErrConflict)
}

func TestSealDebateIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	d := newTestDebate("seal")
	require.NoError(t, s.CreateDebate(ctx, d))

	conf := 0.8
	d.Status = models.DebateStatusComplete
	d.Outcome = models.OutcomeConsensus
	d.ConsensusReached = true
	d.Confidence = &conf
	d.RoundsUsed = 2
	d.FinalArtifact = map[string]any{"answer": "yes"}
	require.NoError(t, s.SealDebate(ctx, d))

	// Sealing again with the same outcome and artifact is a no-op.
	require.NoError(t, s.SealDebate(ctx, d))

	// A different outcome is rejected.
	other := *d
	other.Outcome = models.OutcomeError
	assert.ErrorIs(t, s.SealDebate(ctx, &other), ErrSealed)

	// Same outcome but a different artifact is rejected too.
	diverged := *d
	diverged.FinalArtifact = map[string]any{"answer": "no"}
	assert.ErrorIs(t, s.SealDebate(ctx, &diverged), ErrSealed)

	// The first seal's artifact survives untouched.
	kept, err := s.GetDebate(ctx, "seal")
	require.NoError(t, err)
	assert.Equal(t, "yes", kept.FinalArtifact["answer"])

	// Status transitions after seal are rejected.
	err = s.UpdateDebateStatus(ctx, d.ID, models.DebateStatusRunning, 1)
	assert.ErrorIs(t, err, ErrSealed)

	got, err := s.GetDebate(ctx, "seal")
	require.NoError(t, err)
	assert.True(t, got.Sealed())
	assert.True(t, got.ConsensusReached)
	require.NotNil(t, got.Confidence)
	assert.InDelta(t, 0.8, *got.Confidence, 1e-9)
	assert.Equal(t, "yes", got.FinalArtifact["answer"])
	assert.NotNil(t, got.CompletedAt)
}

func TestListDebates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i, slug := range []string{"a", "b", "c"} {
		d := newTestDebate(slug)
		d.ID = d.ID + slug
		d.CreatedAt = time.Now().UTC().Add(time.Duration(i) * time.Second)
		require.NoError(t, s.CreateDebate(ctx, d))
	}

	all, err := s.ListDebates(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].Slug) // newest first

	created, err := s.ListDebates(ctx, models.DebateStatusCreated, 10)
	require.NoError(t, err)
	assert.Len(t, created, 3)

	running, err := s.ListDebates(ctx, models.DebateStatusRunning, 10)
	require.NoError(t, err)
	assert.Empty(t, running)
}

func TestAppendEventAssignsMonotoneSeq(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		ev := models.NewEvent(models.EventAgentMessage, "dbt_1", map[string]any{"n": i})
		require.NoError(t, s.AppendEvent(ctx, &ev))
		assert.Equal(t, int64(i), ev.Seq)
	}

	// A second debate gets its own sequence.
	ev := models.NewEvent(models.EventDebateStart, "dbt_2", nil)
	require.NoError(t, s.AppendEvent(ctx, &ev))
	assert.Equal(t, int64(1), ev.Seq)

	latest, err := s.LatestSeq(ctx, "dbt_1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), latest)
}

func TestReadEventsAfter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		ev := models.NewEvent(models.EventTokenDelta, "dbt_1",
			models.TokenDeltaPayload{Agent: "claude", Delta: "x", Index: i})
		require.NoError(t, s.AppendEvent(ctx, &ev))
	}

	evs, err := s.ReadEventsAfter(ctx, "dbt_1", 4, 3)
	require.NoError(t, err)
	require.Len(t, evs, 3)
	assert.Equal(t, int64(5), evs[0].Seq)
	assert.Equal(t, int64(7), evs[2].Seq)

	none, err := s.ReadEventsAfter(ctx, "dbt_1", 10, 100)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestPruneTransientEvents(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old := models.NewEvent(models.EventTokenDelta, "dbt_1", models.TokenDeltaPayload{Delta: "x"})
	old.Timestamp = time.Now().UTC().Add(-2 * time.Hour)
	require.NoError(t, s.AppendEvent(ctx, &old))

	keepMsg := models.NewEvent(models.EventAgentMessage, "dbt_1", nil)
	keepMsg.Timestamp = time.Now().UTC().Add(-2 * time.Hour)
	require.NoError(t, s.AppendEvent(ctx, &keepMsg))

	fresh := models.NewEvent(models.EventTokenDelta, "dbt_1", models.TokenDeltaPayload{Delta: "y"})
	require.NoError(t, s.AppendEvent(ctx, &fresh))

	deleted, err := s.PruneTransientEvents(ctx, time.Now().UTC().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	// Durable types and fresh deltas survive.
	evs, err := s.ReadEventsAfter(ctx, "dbt_1", 0, 100)
	require.NoError(t, err)
	assert.Len(t, evs, 2)
}

func TestAppendMessageUnique(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m := &models.DebateMessage{
		DebateID:  "dbt_1",
		Round:     1,
		Agent:     "claude",
		Role:      models.RoleProposer,
		Content:   "I propose caching.",
		Citations: []string{"https://example.com/cache"},
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.AppendMessage(ctx, m))
	assert.ErrorIs(t, s.AppendMessage(ctx, m), ErrConflict)

	// Same agent, different role is fine.
	m2 := *m
	m2.Role = models.RoleCritic
	require.NoError(t, s.AppendMessage(ctx, &m2))

	msgs, err := s.ListMessages(ctx, "dbt_1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, []string{"https://example.com/cache"}, msgs[0].Citations)
}

func TestSaveVoteUnique(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	v := &models.Vote{
		DebateID:   "dbt_1",
		Agent:      "claude",
		Choice:     "gpt4",
		Confidence: 0.9,
		CreatedAt:  time.Now().UTC(),
	}
	require.NoError(t, s.SaveVote(ctx, v))
	assert.ErrorIs(t, s.SaveVote(ctx, v), ErrConflict)

	votes, err := s.ListVotes(ctx, "dbt_1")
	require.NoError(t, err)
	require.Len(t, votes, 1)
	assert.Equal(t, "gpt4", votes[0].Choice)
}

func TestRecordMatchUpdatesRatings(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m := &models.Match{
		DebateID:     "dbt_1",
		Participants: []string{"claude", "gpt4"},
		Winner:       "claude",
		EloChanges:   map[string]float64{"claude": 16, "gpt4": -16},
		CreatedAt:    time.Now().UTC(),
	}
	require.NoError(t, s.RecordMatch(ctx, m))
	assert.NotZero(t, m.ID)

	winner, err := s.GetRating(ctx, "claude", "")
	require.NoError(t, err)
	assert.InDelta(t, 1516, winner.Elo, 1e-9)
	assert.Equal(t, 1, winner.Wins)

	loser, err := s.GetRating(ctx, "gpt4", "")
	require.NoError(t, err)
	assert.InDelta(t, 1484, loser.Elo, 1e-9)
	assert.Equal(t, 1, loser.Losses)

	// Second recording for the same debate is rejected and leaves ratings
	// untouched.
	assert.ErrorIs(t, s.RecordMatch(ctx, m), ErrConflict)
	winner, err = s.GetRating(ctx, "claude", "")
	require.NoError(t, err)
	assert.Equal(t, 1, winner.Wins)

	board, err := s.Leaderboard(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, board, 2)
	assert.Equal(t, "claude", board[0].Agent)
}

func TestGetRatingDefaultsForUnknownAgent(t *testing.T) {
	s := newTestStore(t)

	r, err := s.GetRating(context.Background(), "newcomer", "")
	require.NoError(t, err)
	assert.InDelta(t, 1500, r.Elo, 1e-9)
	assert.InDelta(t, 1, r.Consistency, 1e-9)
	assert.Zero(t, r.Wins+r.Losses+r.Draws)
}

func TestRecentMatches(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i, id := range []string{"dbt_1", "dbt_2"} {
		m := &models.Match{
			DebateID:     id,
			Participants: []string{"a", "b"},
			EloChanges:   map[string]float64{"a": 0, "b": 0},
			CreatedAt:    time.Now().UTC().Add(time.Duration(i) * time.Second),
		}
		require.NoError(t, s.RecordMatch(ctx, m))
	}

	matches, err := s.RecentMatches(ctx, 10)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "dbt_2", matches[0].DebateID)
}

func TestPositionsAndFlips(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p1 := &models.Position{
		Agent:      "claude",
		Claim:      "caching is necessary",
		Confidence: 0.9,
		DebateID:   "dbt_1",
		Round:      1,
		Embedding:  []float32{0.1, 0.2, 0.3},
		CreatedAt:  time.Now().UTC(),
	}
	require.NoError(t, s.SavePosition(ctx, p1))
	assert.NotZero(t, p1.ID)

	p2 := &models.Position{
		Agent:     "claude",
		Claim:     "caching is not necessary",
		DebateID:  "dbt_1",
		Round:     2,
		CreatedAt: time.Now().UTC().Add(time.Second),
	}
	require.NoError(t, s.SavePosition(ctx, p2))

	recent, err := s.RecentPositions(ctx, "claude", "general", 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, p2.ID, recent[0].ID) // newest first
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, recent[1].Embedding)

	f := &models.Flip{
		Agent:      "claude",
		OriginalID: p1.ID,
		NewID:      p2.ID,
		Similarity: 0.95,
		Type:       models.FlipContradiction,
		DebateID:   "dbt_1",
		CreatedAt:  time.Now().UTC(),
	}
	require.NoError(t, s.SaveFlip(ctx, f))
	assert.ErrorIs(t, s.SaveFlip(ctx, f), ErrConflict)

	flips, err := s.RecentFlips(ctx, "claude", 10)
	require.NoError(t, err)
	require.Len(t, flips, 1)
	assert.Equal(t, models.FlipContradiction, flips[0].Type)

	counts, positions, err := s.FlipCounts(ctx, "claude")
	require.NoError(t, err)
	assert.Equal(t, 2, positions)
	assert.Equal(t, 1, counts[models.FlipContradiction])

	summary, err := s.FlipSummary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary[models.FlipContradiction])
}

func TestRecentPositionsPrefersDomain(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC()
	for i, domain := range []string{"infra", "security", "infra"} {
		require.NoError(t, s.SavePosition(ctx, &models.Position{
			Agent:     "claude",
			Claim:     fmt.Sprintf("claim %d", i),
			Domain:    domain,
			DebateID:  "dbt_1",
			Round:     1,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	// Same-domain positions come first, newest first; the rest follow.
	recent, err := s.RecentPositions(ctx, "claude", "security", 10)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, "security", recent[0].Domain)
	assert.Equal(t, "claim 1", recent[0].Claim)
	assert.Equal(t, "claim 2", recent[1].Claim)
	assert.Equal(t, "claim 0", recent[2].Claim)
}

func TestVectorRoundtrip(t *testing.T) {
	v := []float32{-1.5, 0, 3.25, 1e-7}
	assert.Equal(t, v, decodeVector(encodeVector(v)))
	assert.Nil(t, encodeVector(nil))
	assert.Nil(t, decodeVector(nil))
}
