// Package debate runs the debate protocol: a round loop of propose, critique
// and revise phases, similarity-based convergence, a voting phase under a
// consensus policy, and a sealing phase that extracts positions, detects
// flips, records the match, and seals the debate.
package debate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aragora/aragora/pkg/agent"
	"github.com/aragora/aragora/pkg/config"
	"github.com/aragora/aragora/pkg/embeddings"
	"github.com/aragora/aragora/pkg/events"
	"github.com/aragora/aragora/pkg/models"
	"github.com/aragora/aragora/pkg/provider"
	"github.com/aragora/aragora/pkg/ranking"
	"github.com/aragora/aragora/pkg/storage"
)

// DefaultTimeout is the hard wall-clock budget for one debate.
const DefaultTimeout = 600 * time.Second

// Orchestrator drives debates from created to sealed.
type Orchestrator struct {
	store    *storage.Store
	bus      *events.Bus
	invoker  *agent.Invoker
	embedder embeddings.Embedder
	detector *ranking.Detector
	registry *config.AgentRegistry
	timeout  time.Duration
	logger   *slog.Logger

	// Debate cancel registry: debate_id to cancel function.
	mu     sync.RWMutex
	active map[string]context.CancelFunc
}

// Options configures an orchestrator.
type Options struct {
	Store    *storage.Store
	Bus      *events.Bus
	Invoker  *agent.Invoker
	Embedder embeddings.Embedder
	Registry *config.AgentRegistry
	Timeout  time.Duration
	Logger   *slog.Logger
}

// New creates an orchestrator.
func New(opts Options) *Orchestrator {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Orchestrator{
		store:    opts.Store,
		bus:      opts.Bus,
		invoker:  opts.Invoker,
		embedder: opts.Embedder,
		detector: ranking.NewDetector(),
		registry: opts.Registry,
		timeout:  opts.Timeout,
		logger:   opts.Logger,
		active:   make(map[string]context.CancelFunc),
	}
}

// Cancel cancels a running debate. Returns false when the debate is not
// active on this process.
func (o *Orchestrator) Cancel(debateID string) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if cancel, ok := o.active[debateID]; ok {
		cancel()
		return true
	}
	return false
}

// ActiveCount reports how many debates are currently running.
func (o *Orchestrator) ActiveCount() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.active)
}

func (o *Orchestrator) register(debateID string, cancel context.CancelFunc) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.active[debateID] = cancel
}

func (o *Orchestrator) unregister(debateID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.active, debateID)
}

// run-scoped state for one debate.
type run struct {
	debate         *models.Debate
	cfg            models.DebateConfig
	transcript     []models.DebateMessage
	proposals      map[string]string  // latest proposal or revision per agent
	proposalRound  map[string]int     // round each agent first proposed in
	voteConfidence map[string]float64 // each voter's stated ballot confidence
	canon          map[string]string  // vote-grouping canonical agent per agent
	failed         map[string]bool    // agents abstaining after a failed turn
	roundsUsed     int
}

func (r *run) activeAgents() []string {
	var out []string
	for _, a := range r.cfg.Agents {
		if !r.failed[a] {
			out = append(out, a)
		}
	}
	return out
}

// Run executes one debate to its terminal outcome. The debate row must
// already exist in storage. Run blocks until the debate seals; callers
// wanting asynchrony run it in a goroutine and use Cancel.
func (o *Orchestrator) Run(ctx context.Context, d *models.Debate, cfg models.DebateConfig) (*models.Debate, error) {
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid debate config: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	if !cfg.Deadline.IsZero() && cfg.Deadline.Before(time.Now().Add(o.timeout)) {
		var deadlineCancel context.CancelFunc
		runCtx, deadlineCancel = context.WithDeadline(runCtx, cfg.Deadline)
		defer deadlineCancel()
	}
	o.register(d.ID, cancel)
	defer o.unregister(d.ID)

	r := &run{
		debate:         d,
		cfg:            cfg,
		proposals:      make(map[string]string),
		proposalRound:  make(map[string]int),
		voteConfidence: make(map[string]float64),
		failed:         make(map[string]bool),
	}

	if err := o.store.UpdateDebateStatus(runCtx, d.ID, models.DebateStatusRunning, 0); err != nil {
		return nil, fmt.Errorf("starting debate %s: %w", d.ID, err)
	}
	d.Status = models.DebateStatusRunning

	startEv := models.NewEvent(models.EventDebateStart, d.ID, map[string]any{
		"task":   cfg.Task,
		"agents": cfg.Agents,
		"rounds": cfg.RoundsPlanned,
		"policy": string(cfg.Policy),
	})
	if err := o.bus.Publish(runCtx, &startEv); err != nil {
		return o.finishAborted(ctx, d, r, fmt.Errorf("publishing debate_start: %w", err))
	}

	if err := o.runRounds(runCtx, r); err != nil {
		return o.finishAborted(ctx, d, r, err)
	}

	result, err := o.runVoting(runCtx, r)
	if err != nil {
		return o.finishAborted(ctx, d, r, err)
	}

	if err := o.seal(runCtx, r, result); err != nil {
		return o.finishAborted(ctx, d, r, err)
	}
	return d, nil
}

// runRounds executes the round loop with convergence-based early stop.
func (o *Orchestrator) runRounds(ctx context.Context, r *run) error {
	phases := r.cfg.PhasesPerRound
	if r.cfg.ResearchEnabled {
		phases = append([]models.Phase{models.PhaseResearch}, phases...)
	}

	consecutive := 0
	for round := 1; round <= r.cfg.RoundsPlanned; round++ {
		ev := models.NewEvent(models.EventRoundStart, r.debate.ID, map[string]any{"round": round})
		ev.Round = round
		if err := o.bus.Publish(ctx, &ev); err != nil {
			return fmt.Errorf("publishing round_start: %w", err)
		}

		roundCtx := ctx
		roundCancel := context.CancelFunc(func() {})
		if r.cfg.RoundBudget > 0 {
			roundCtx, roundCancel = context.WithTimeout(ctx, r.cfg.RoundBudget)
		}

		budgetHit := false
		for _, phase := range phases {
			if err := o.runPhase(roundCtx, r, round, phase); err != nil {
				roundCancel()
				// A blown round budget moves straight to voting; anything
				// else aborts the debate.
				if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
					budgetHit = true
					break
				}
				return err
			}
		}
		roundCancel()
		r.roundsUsed = round

		if err := o.store.UpdateDebateStatus(ctx, r.debate.ID, models.DebateStatusRunning, round); err != nil {
			return fmt.Errorf("recording round progress: %w", err)
		}
		r.debate.RoundsUsed = round

		similarity := o.roundSimilarity(ctx, r)
		converged := r.cfg.Convergence.Enabled && similarity >= r.cfg.Convergence.SimilarityThreshold
		// Rounds before MinRounds never count toward the stop condition.
		if converged && round >= r.cfg.Convergence.MinRounds {
			consecutive++
		} else if !converged {
			consecutive = 0
		}

		endEv := models.NewEvent(models.EventRoundEnd, r.debate.ID, models.RoundEndPayload{
			Round:      round,
			Similarity: similarity,
			Converged:  converged,
		})
		endEv.Round = round
		if err := o.bus.Publish(ctx, &endEv); err != nil {
			return fmt.Errorf("publishing round_end: %w", err)
		}

		if budgetHit {
			o.logger.Warn("round budget exhausted, moving to voting",
				"debate_id", r.debate.ID, "round", round)
			return nil
		}
		if consecutive >= 2 {
			o.logger.Info("positions converged, stopping early",
				"debate_id", r.debate.ID, "round", round, "similarity", similarity)
			return nil
		}
	}
	return nil
}

// runPhase executes one phase for every active agent in parallel. Results
// are emitted in configured agent order regardless of completion order, so
// transcripts and event logs are deterministic given the same responses.
func (o *Orchestrator) runPhase(ctx context.Context, r *run, round int, phase models.Phase) error {
	agents := r.activeAgents()
	if len(agents) < r.cfg.MinParticipants {
		return fmt.Errorf("only %d agents remain, need %d", len(agents), r.cfg.MinParticipants)
	}
	if r.cfg.RotateRoles && round > 1 {
		// Rotate the speaking order so a different agent leads each round.
		shift := (round - 1) % len(agents)
		rotated := make([]string, 0, len(agents))
		rotated = append(rotated, agents[shift:]...)
		rotated = append(rotated, agents[:shift]...)
		agents = rotated
	}

	role := phase.Role()
	instruction := phaseInstruction(phase, round)

	type turnOutcome struct {
		result *agent.Result
		err    error
	}
	outcomes := make([]turnOutcome, len(agents))

	var wg sync.WaitGroup
	for i, name := range agents {
		ac, err := o.registry.Get(name)
		if err != nil {
			outcomes[i] = turnOutcome{err: err}
			continue
		}
		wg.Add(1)
		go func(i int, ac config.AgentConfig) {
			defer wg.Done()
			res, err := o.invoker.Invoke(ctx, agent.Request{
				DebateID: r.debate.ID,
				Round:    round,
				Role:     role,
				Agent:    ac,
				System:   systemPrompt(ac.Style, role, r.cfg.Task),
				Messages: turnMessages(ac.Name, r.transcript, instruction),
			})
			outcomes[i] = turnOutcome{result: res, err: err}
		}(i, *ac)
	}
	wg.Wait()

	if ctx.Err() != nil {
		return ctx.Err()
	}

	for i, name := range agents {
		out := outcomes[i]
		if out.err != nil {
			// The agent abstains for the rest of the debate; the invoker has
			// already published the error event.
			r.failed[name] = true
			o.logger.Warn("agent abstains after failed turn",
				"debate_id", r.debate.ID, "agent", name, "round", round,
				"phase", phase, "error", out.err)
			continue
		}

		msg := models.DebateMessage{
			DebateID:  r.debate.ID,
			Round:     round,
			Agent:     name,
			Role:      role,
			Content:   out.result.Content,
			CreatedAt: time.Now().UTC(),
		}
		if err := o.store.AppendMessage(ctx, &msg); err != nil && !errors.Is(err, storage.ErrConflict) {
			return fmt.Errorf("persisting message: %w", err)
		}
		r.transcript = append(r.transcript, msg)
		if phase == models.PhasePropose || phase == models.PhaseRevise {
			if _, seen := r.proposalRound[name]; !seen {
				r.proposalRound[name] = round
			}
			r.proposals[name] = out.result.Content
		}

		ev := models.NewEvent(models.EventAgentMessage, r.debate.ID, msg)
		ev.Round = round
		ev.Agent = name
		if phase == models.PhaseCritique {
			ev.Type = models.EventCritique
		}
		if err := o.bus.Publish(ctx, &ev); err != nil {
			return fmt.Errorf("publishing agent message: %w", err)
		}
	}

	if len(r.activeAgents()) < r.cfg.MinParticipants {
		return fmt.Errorf("only %d agents remain after round %d, need %d",
			len(r.activeAgents()), round, r.cfg.MinParticipants)
	}
	return nil
}

// roundSimilarity is the mean pairwise similarity of the agents' current
// proposals. 0 when embeddings are unavailable.
func (o *Orchestrator) roundSimilarity(ctx context.Context, r *run) float64 {
	agents := r.activeAgents()
	if o.embedder == nil || len(agents) < 2 {
		return 0
	}

	texts := make([]string, len(agents))
	for i, a := range agents {
		texts[i] = r.proposals[a]
	}
	vecs, err := o.embedder.Embed(ctx, texts)
	if err != nil || len(vecs) != len(agents) {
		o.logger.Warn("similarity unavailable for round", "debate_id", r.debate.ID, "error", err)
		return 0
	}

	var sum float64
	pairs := 0
	for i := 0; i < len(vecs); i++ {
		for j := i + 1; j < len(vecs); j++ {
			sum += embeddings.Cosine(vecs[i], vecs[j])
			pairs++
		}
	}
	if pairs == 0 {
		return 0
	}
	return sum / float64(pairs)
}

// finishAborted seals a debate that cannot continue: canceled when the run
// was cut by the operator or the parent context, error otherwise. Crossing
// the debate deadline is an error, not a cancellation. The parent ctx may
// already be canceled, so sealing uses a detached context.
func (o *Orchestrator) finishAborted(parent context.Context, d *models.Debate, r *run, cause error) (*models.Debate, error) {
	outcome := models.OutcomeError
	code := "debate_failed"
	message := "debate aborted"
	switch {
	case parent.Err() != nil || errors.Is(cause, context.Canceled) || errors.Is(cause, provider.ErrCanceled):
		outcome = models.OutcomeCanceled
		code = "debate_canceled"
		message = ""
	case errors.Is(cause, context.DeadlineExceeded):
		code = "deadline_exceeded"
		message = "deadline exceeded"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	d.Outcome = outcome
	d.RoundsUsed = r.roundsUsed
	d.ErrorMessage = message
	if err := o.store.SealDebate(ctx, d); err != nil {
		o.logger.Error("failed to seal aborted debate", "debate_id", d.ID, "error", err)
	}
	d.Status = models.DebateStatusComplete

	errEv := models.NewEvent(models.EventError, d.ID, models.ErrorPayload{Code: code})
	if err := o.bus.Publish(ctx, &errEv); err != nil {
		o.logger.Error("failed to publish abort error", "debate_id", d.ID, "error", err)
	}
	endEv := models.NewEvent(models.EventDebateEnd, d.ID, models.DebateEndPayload{
		Outcome:    outcome,
		RoundsUsed: r.roundsUsed,
	})
	if err := o.bus.Publish(ctx, &endEv); err != nil {
		o.logger.Error("failed to publish debate_end", "debate_id", d.ID, "error", err)
	}

	return d, fmt.Errorf("debate %s aborted: %w", d.ID, cause)
}
