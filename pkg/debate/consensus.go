package debate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aragora/aragora/pkg/agent"
	"github.com/aragora/aragora/pkg/config"
	"github.com/aragora/aragora/pkg/models"
	"github.com/aragora/aragora/pkg/ranking"
)

// runVoting executes the voting phase under the configured consensus policy
// and returns the tally.
func (o *Orchestrator) runVoting(ctx context.Context, r *run) (tallyResult, error) {
	if err := o.store.UpdateDebateStatus(ctx, r.debate.ID, models.DebateStatusVoting, r.roundsUsed); err != nil {
		return tallyResult{}, fmt.Errorf("entering voting: %w", err)
	}
	r.debate.Status = models.DebateStatusVoting

	candidates := r.activeAgents()

	var result tallyResult
	if r.cfg.Policy == models.ConsensusJudge {
		res, err := o.judgeDecision(ctx, r, candidates)
		if err != nil {
			return tallyResult{}, err
		}
		result = res
	} else {
		ballots, err := o.collectBallots(ctx, r, candidates)
		if err != nil {
			return tallyResult{}, err
		}
		if len(ballots) < r.cfg.MinParticipants {
			o.logger.Warn("too few ballots for consensus",
				"debate_id", r.debate.ID, "ballots", len(ballots),
				"required", r.cfg.MinParticipants)
			result = tallyResult{}
		} else {
			r.canon = groupProposals(ctx, o.embedder, candidates, r.proposals, r.cfg.VoteGrouping)
			result = tally(r.cfg, candidates, ballots, r.canon, o.voteWeights(ctx, r, candidates), r.proposalRound)
		}
	}

	ev := models.NewEvent(models.EventConsensus, r.debate.ID, models.ConsensusPayload{
		Reached:    result.reached,
		Choice:     result.choice,
		Confidence: result.confidence,
		Policy:     string(r.cfg.Policy),
	})
	if err := o.bus.Publish(ctx, &ev); err != nil {
		return tallyResult{}, fmt.Errorf("publishing consensus: %w", err)
	}
	return result, nil
}

// collectBallots runs the voter turn for every active agent in parallel.
// A failed or unparseable turn is an abstention, not an error.
func (o *Orchestrator) collectBallots(ctx context.Context, r *run, candidates []string) ([]ballot, error) {
	agents := r.activeAgents()
	results := make([]*agent.Result, len(agents))

	var wg sync.WaitGroup
	for i, name := range agents {
		ac, err := o.registry.Get(name)
		if err != nil {
			continue
		}
		wg.Add(1)
		go func(i int, ac config.AgentConfig) {
			defer wg.Done()
			res, err := o.invoker.Invoke(ctx, agent.Request{
				DebateID: r.debate.ID,
				Round:    r.roundsUsed,
				Role:     models.RoleVoter,
				Agent:    ac,
				System:   systemPrompt(ac.Style, models.RoleVoter, r.cfg.Task),
				Messages: turnMessages(ac.Name, r.transcript, voterInstruction(candidates)),
			})
			if err == nil {
				results[i] = res
			}
		}(i, *ac)
	}
	wg.Wait()

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var ballots []ballot
	for i, name := range agents {
		if results[i] == nil {
			continue
		}
		choice, confidence, ok := parseVote(results[i].Content, candidates)
		if !ok {
			o.logger.Warn("unparseable ballot, agent abstains",
				"debate_id", r.debate.ID, "agent", name)
			continue
		}

		v := models.Vote{
			DebateID:   r.debate.ID,
			Agent:      name,
			Choice:     choice,
			Reasoning:  results[i].Content,
			Confidence: confidence,
			CreatedAt:  time.Now().UTC(),
		}
		if err := o.store.SaveVote(ctx, &v); err != nil {
			return nil, fmt.Errorf("saving vote: %w", err)
		}

		ev := models.NewEvent(models.EventVote, r.debate.ID, v)
		ev.Agent = name
		if err := o.bus.Publish(ctx, &ev); err != nil {
			return nil, fmt.Errorf("publishing vote: %w", err)
		}

		r.voteConfidence[name] = confidence
		ballots = append(ballots, ballot{voter: name, choice: choice, confidence: confidence})
	}
	return ballots, nil
}

// judgeDecision has the configured judge cast the single deciding ballot.
func (o *Orchestrator) judgeDecision(ctx context.Context, r *run, candidates []string) (tallyResult, error) {
	ac, err := o.registry.Get(r.cfg.Judge)
	if err != nil {
		return tallyResult{}, fmt.Errorf("resolving judge: %w", err)
	}

	res, err := o.invoker.Invoke(ctx, agent.Request{
		DebateID: r.debate.ID,
		Round:    r.roundsUsed,
		Role:     models.RoleJudge,
		Agent:    *ac,
		System:   systemPrompt(ac.Style, models.RoleJudge, r.cfg.Task),
		Messages: turnMessages(ac.Name, r.transcript, voterInstruction(candidates)),
	})
	if err != nil {
		// A judge that cannot rule leaves the debate without consensus.
		o.logger.Warn("judge turn failed", "debate_id", r.debate.ID, "error", err)
		return tallyResult{}, nil
	}

	choice, confidence, ok := parseVote(res.Content, candidates)
	if !ok {
		return tallyResult{}, nil
	}

	v := models.Vote{
		DebateID:   r.debate.ID,
		Agent:      ac.Name,
		Choice:     choice,
		Reasoning:  res.Content,
		Confidence: confidence,
		CreatedAt:  time.Now().UTC(),
	}
	if err := o.store.SaveVote(ctx, &v); err != nil {
		return tallyResult{}, fmt.Errorf("saving judge vote: %w", err)
	}
	ev := models.NewEvent(models.EventVote, r.debate.ID, v)
	ev.Agent = ac.Name
	if err := o.bus.Publish(ctx, &ev); err != nil {
		return tallyResult{}, fmt.Errorf("publishing judge vote: %w", err)
	}

	return tallyResult{reached: true, choice: choice, share: 1, confidence: confidence}, nil
}

func voterInstruction(candidates []string) string {
	return fmt.Sprintf(
		"The debate is over. The final proposals above belong to: %v. Pick the strongest one and explain briefly, then emit the %s and %s lines.",
		candidates, voteMarker, confidenceMarker)
}

// voteWeights returns per-voter ELO weights for the weighted policy, nil
// otherwise.
func (o *Orchestrator) voteWeights(ctx context.Context, r *run, agents []string) map[string]float64 {
	if r.cfg.Policy != models.ConsensusWeighted {
		return nil
	}
	weights := make(map[string]float64, len(agents))
	for _, a := range agents {
		rating, err := o.store.GetRating(ctx, a, r.cfg.Domain)
		if err != nil {
			weights[a] = ranking.InitialElo
			continue
		}
		weights[a] = rating.Elo
	}
	return weights
}

// seal runs the terminal phase: position extraction, flip detection, the
// ELO match, and the debate's durable seal.
func (o *Orchestrator) seal(ctx context.Context, r *run, result tallyResult) error {
	d := r.debate
	if err := o.store.UpdateDebateStatus(ctx, d.ID, models.DebateStatusSealing, r.roundsUsed); err != nil {
		return fmt.Errorf("entering sealing: %w", err)
	}
	d.Status = models.DebateStatusSealing

	if err := o.recordPositions(ctx, r); err != nil {
		return err
	}
	if err := o.recordMatch(ctx, r, result); err != nil {
		return err
	}

	outcome := models.OutcomeNoConsensus
	if result.reached {
		outcome = models.OutcomeConsensus
	}
	d.Outcome = outcome
	d.ConsensusReached = result.reached
	d.RoundsUsed = r.roundsUsed
	if result.reached {
		conf := result.confidence
		d.Confidence = &conf
		d.FinalArtifact = map[string]any{
			"choice": result.choice,
			"answer": r.proposals[result.choice],
			"share":  result.share,
			"policy": string(r.cfg.Policy),
		}
	}
	now := time.Now().UTC()
	d.CompletedAt = &now
	if err := o.store.SealDebate(ctx, d); err != nil {
		return fmt.Errorf("sealing debate: %w", err)
	}
	d.Status = models.DebateStatusComplete

	ev := models.NewEvent(models.EventDebateEnd, d.ID, models.DebateEndPayload{
		Outcome:    outcome,
		RoundsUsed: r.roundsUsed,
	})
	if err := o.bus.Publish(ctx, &ev); err != nil {
		return fmt.Errorf("publishing debate_end: %w", err)
	}
	return nil
}

// recordPositions saves each agent's final stance, detects flips against the
// agent's prior positions, and refreshes consistency scores.
func (o *Orchestrator) recordPositions(ctx context.Context, r *run) error {
	agents := r.activeAgents()
	texts := make([]string, 0, len(agents))
	withText := make([]string, 0, len(agents))
	for _, a := range agents {
		if t := r.proposals[a]; t != "" {
			texts = append(texts, t)
			withText = append(withText, a)
		}
	}
	if len(texts) == 0 {
		return nil
	}

	var vecs [][]float32
	if o.embedder != nil {
		var err error
		vecs, err = o.embedder.Embed(ctx, texts)
		if err != nil {
			o.logger.Warn("position embedding failed, flips skipped",
				"debate_id", r.debate.ID, "error", err)
			vecs = nil
		}
	}

	for i, agentName := range withText {
		// The agent's stated ballot confidence stands in for the position's;
		// agents that never voted get the neutral default.
		confidence := 0.5
		if c, ok := r.voteConfidence[agentName]; ok {
			confidence = c
		}
		pos := &models.Position{
			Agent:      agentName,
			Claim:      texts[i],
			Domain:     r.cfg.Domain,
			DebateID:   r.debate.ID,
			Round:      r.roundsUsed,
			Outcome:    models.PositionPending,
			CreatedAt:  time.Now().UTC(),
			Confidence: confidence,
		}
		if vecs != nil {
			pos.Embedding = vecs[i]
		}

		priors, err := o.store.RecentPositions(ctx, agentName, r.cfg.Domain, o.detector.PriorWindow)
		if err != nil {
			return fmt.Errorf("loading prior positions: %w", err)
		}
		if err := o.store.SavePosition(ctx, pos); err != nil {
			return fmt.Errorf("saving position: %w", err)
		}

		for _, flip := range o.detector.Detect(pos, priors) {
			if err := o.store.SaveFlip(ctx, flip); err != nil {
				return fmt.Errorf("saving flip: %w", err)
			}
			ev := models.NewEvent(models.EventFlipDetected, r.debate.ID, flip)
			ev.Agent = agentName
			if err := o.bus.Publish(ctx, &ev); err != nil {
				return fmt.Errorf("publishing flip: %w", err)
			}
		}

		counts, total, err := o.store.FlipCounts(ctx, agentName)
		if err != nil {
			return fmt.Errorf("counting flips: %w", err)
		}
		consistency := ranking.Consistency(counts, total, ranking.DefaultQualificationWeight)
		if err := o.store.UpdateConsistency(ctx, agentName, r.cfg.Domain, consistency); err != nil {
			return fmt.Errorf("updating consistency: %w", err)
		}
	}
	return nil
}

// recordMatch converts the tally into an ELO match over the participants.
func (o *Orchestrator) recordMatch(ctx context.Context, r *run, result tallyResult) error {
	participants := r.activeAgents()
	if len(participants) < 2 {
		return nil // nothing rankable
	}

	ratings := make(map[string]float64, len(participants))
	for _, a := range participants {
		rating, err := o.store.GetRating(ctx, a, r.cfg.Domain)
		if err != nil {
			return fmt.Errorf("loading rating: %w", err)
		}
		ratings[a] = rating.Elo
	}

	winner := ""
	if result.reached {
		winner = result.choice
		// When every participant's proposal folded into the winning group,
		// nobody out-argued anybody: the match is a draw.
		if len(r.canon) > 0 {
			allGrouped := true
			for _, a := range participants {
				if r.canon[a] != winner {
					allGrouped = false
					break
				}
			}
			if allGrouped {
				winner = ""
			}
		}
	}
	match := &models.Match{
		DebateID:     r.debate.ID,
		Participants: participants,
		Winner:       winner,
		EloChanges:   ranking.EloChanges(ratings, participants, winner),
		Domain:       r.cfg.Domain,
		CreatedAt:    time.Now().UTC(),
	}
	if err := o.store.RecordMatch(ctx, match); err != nil {
		return fmt.Errorf("recording match: %w", err)
	}

	ev := models.NewEvent(models.EventMatchRecorded, r.debate.ID, match)
	if err := o.bus.Publish(ctx, &ev); err != nil {
		return fmt.Errorf("publishing match: %w", err)
	}
	return nil
}
