package services

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aragora/aragora/pkg/agent"
	"github.com/aragora/aragora/pkg/config"
	"github.com/aragora/aragora/pkg/debate"
	"github.com/aragora/aragora/pkg/embeddings"
	"github.com/aragora/aragora/pkg/events"
	"github.com/aragora/aragora/pkg/models"
	"github.com/aragora/aragora/pkg/provider"
	"github.com/aragora/aragora/pkg/storage"
)

func testDefaults() config.DebateDefaults {
	return config.DebateDefaults{
		Rounds:            1,
		MaxRounds:         5,
		Policy:            models.ConsensusMajority,
		Threshold:         0.5,
		ConvergenceSim:    0.85,
		MinParticipants:   2,
		Timeout:           30 * time.Second,
		MaxQuestionLength: 200,
	}
}

func newDebateService(t *testing.T) (*DebateService, *storage.Store) {
	t.Helper()

	s, err := storage.Open(filepath.Join(t.TempDir(), "svc.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	bus := events.NewBus(s, nil)
	factory := provider.NewFactory(config.ProviderKeys{})
	reg, err := config.LoadAgentRegistry("", config.ProviderKeys{})
	require.NoError(t, err)

	answer := "Keep the queue based design; it bounds memory and survives restarts.\nVOTE: alpha\nCONFIDENCE: 0.9"
	for _, name := range []string{"alpha", "beta"} {
		factory.Register("scripted-"+name, provider.NewScriptedClient([]provider.ScriptedReply{{Text: answer}}))
		reg.Register(&config.AgentConfig{Name: name, Provider: "scripted-" + name, MaxTokens: 4096})
	}

	orch := debate.New(debate.Options{
		Store:    s,
		Bus:      bus,
		Invoker:  agent.NewInvoker(factory, bus, nil),
		Embedder: embeddings.NewLocalEmbedder(),
		Registry: reg,
		Timeout:  30 * time.Second,
	})
	return NewDebateService(s, orch, reg, testDefaults(), nil), s
}

func TestStartValidation(t *testing.T) {
	svc, _ := newDebateService(t)
	ctx := context.Background()

	_, err := svc.Start(ctx, StartDebateRequest{Agents: []string{"alpha", "beta"}})
	assert.True(t, IsValidationError(err))
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.Start(ctx, StartDebateRequest{Task: strings.Repeat("x", 201), Agents: []string{"alpha", "beta"}})
	assert.True(t, IsValidationError(err))

	_, err = svc.Start(ctx, StartDebateRequest{Task: "t", Agents: []string{"alpha", "ghost"}})
	assert.True(t, IsValidationError(err))

	_, err = svc.Start(ctx, StartDebateRequest{Task: "t", Agents: []string{"alpha", "beta"}, Rounds: 99})
	assert.True(t, IsValidationError(err))

	_, err = svc.Start(ctx, StartDebateRequest{Task: "t", Agents: []string{"alpha", "beta"}, Policy: models.ConsensusJudge})
	assert.True(t, IsValidationError(err))
}

func TestStartRunsInBackground(t *testing.T) {
	svc, store := newDebateService(t)
	ctx := context.Background()

	d, err := svc.Start(ctx, StartDebateRequest{
		Task:   "Which ingestion design do we adopt?",
		Agents: []string{"alpha", "beta"},
	})
	require.NoError(t, err)
	assert.Equal(t, models.DebateStatusCreated, d.Status)
	assert.True(t, strings.HasPrefix(d.ID, "dbt_"))

	svc.Drain()

	sealed, err := store.GetDebateByID(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DebateStatusComplete, sealed.Status)
	assert.Equal(t, models.OutcomeConsensus, sealed.Outcome)
}

func TestRunBlocksUntilSealed(t *testing.T) {
	svc, _ := newDebateService(t)

	d, err := svc.Run(context.Background(), StartDebateRequest{
		Task:   "Which cache policy?",
		Agents: []string{"alpha", "beta"},
	})
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeConsensus, d.Outcome)

	// Lookup works by both id and slug.
	byID, err := svc.Get(context.Background(), d.ID)
	require.NoError(t, err)
	bySlug, err := svc.Get(context.Background(), d.Slug)
	require.NoError(t, err)
	assert.Equal(t, byID.ID, bySlug.ID)

	tr, err := svc.GetTranscript(context.Background(), d.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, tr.Messages)
	assert.Len(t, tr.Votes, 2)
}

func TestGetUnknownDebate(t *testing.T) {
	svc, _ := newDebateService(t)
	_, err := svc.Get(context.Background(), "dbt_missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = svc.Get(context.Background(), "no-such-slug")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCancelInactiveDebate(t *testing.T) {
	svc, _ := newDebateService(t)

	d, err := svc.Run(context.Background(), StartDebateRequest{
		Task:   "Sealed already",
		Agents: []string{"alpha", "beta"},
	})
	require.NoError(t, err)

	err = svc.Cancel(context.Background(), d.ID)
	assert.ErrorIs(t, err, ErrNotActive)

	err = svc.Cancel(context.Background(), "dbt_missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSlugify(t *testing.T) {
	slug := slugify("Should we cache sessions? Yes/No!")
	assert.True(t, strings.HasPrefix(slug, "should-we-cache-sessions-yes-no-"))
	assert.NotEqual(t, slugify("same task"), slugify("same task"))
	assert.True(t, strings.HasPrefix(slugify("???"), "debate-"))
}

func TestRankingServiceCaches(t *testing.T) {
	_, store := newDebateService(t)
	ctx := context.Background()
	rs := NewRankingService(store)

	require.NoError(t, store.RecordMatch(ctx, &models.Match{
		DebateID:     "dbt_m1",
		Participants: []string{"alpha", "beta"},
		Winner:       "alpha",
		EloChanges:   map[string]float64{"alpha": 16, "beta": -16},
		Domain:       "general",
		CreatedAt:    time.Now().UTC(),
	}))

	first, err := rs.Leaderboard(ctx, "general", 10)
	require.NoError(t, err)
	require.NotEmpty(t, first)
	assert.Equal(t, "alpha", first[0].Agent)

	// A write after the first read is invisible until the TTL lapses.
	require.NoError(t, store.RecordMatch(ctx, &models.Match{
		DebateID:     "dbt_m2",
		Participants: []string{"alpha", "beta"},
		Winner:       "beta",
		EloChanges:   map[string]float64{"alpha": -30, "beta": 30},
		Domain:       "general",
		CreatedAt:    time.Now().UTC(),
	}))
	cached, err := rs.Leaderboard(ctx, "general", 10)
	require.NoError(t, err)
	assert.Equal(t, first[0].Elo, cached[0].Elo)

	profile, err := rs.AgentProfile(ctx, "alpha", "general")
	require.NoError(t, err)
	assert.NotNil(t, profile.Rating)

	matches, err := rs.RecentMatches(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, matches, 2)
}

func TestEventServiceCatchup(t *testing.T) {
	_, store := newDebateService(t)
	ctx := context.Background()
	es := NewEventService(store)

	for i := 0; i < 5; i++ {
		ev := models.NewEvent(models.EventAgentMessage, "dbt_ev", map[string]int{"i": i})
		require.NoError(t, store.AppendEvent(ctx, &ev))
	}

	evs, err := es.Catchup(ctx, "dbt_ev", 2, 0)
	require.NoError(t, err)
	require.Len(t, evs, 3)
	assert.Equal(t, int64(3), evs[0].Seq)

	latest, err := es.LatestSeq(ctx, "dbt_ev")
	require.NoError(t, err)
	assert.Equal(t, int64(5), latest)
}
