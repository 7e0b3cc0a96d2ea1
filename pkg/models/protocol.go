package models

import (
	"fmt"
	"time"
)

// Phase is one step within a round.
type Phase string

// Round phases, in canonical order. Research is the optional micro-phase
// that precedes the others when research_enabled is set.
const (
	PhaseResearch Phase = "research"
	PhasePropose  Phase = "propose"
	PhaseCritique Phase = "critique"
	PhaseRevise   Phase = "revise"
)

// IsValid checks if the phase is recognized.
func (p Phase) IsValid() bool {
	switch p {
	case PhaseResearch, PhasePropose, PhaseCritique, PhaseRevise:
		return true
	default:
		return false
	}
}

// Role returns the message role agents carry in this phase.
func (p Phase) Role() string {
	switch p {
	case PhaseResearch:
		return RoleResearcher
	case PhaseCritique:
		return RoleCritic
	case PhaseRevise:
		return RoleReviser
	default:
		return RoleProposer
	}
}

// ConsensusPolicy is the rule used to decide whether the agents have agreed.
type ConsensusPolicy string

// Recognized consensus policies.
const (
	ConsensusMajority      ConsensusPolicy = "majority"
	ConsensusSupermajority ConsensusPolicy = "supermajority"
	ConsensusUnanimous     ConsensusPolicy = "unanimous"
	ConsensusJudge         ConsensusPolicy = "judge"
	ConsensusWeighted      ConsensusPolicy = "weighted"
)

// IsValid checks if the consensus policy is recognized.
func (p ConsensusPolicy) IsValid() bool {
	switch p {
	case ConsensusMajority, ConsensusSupermajority, ConsensusUnanimous,
		ConsensusJudge, ConsensusWeighted:
		return true
	default:
		return false
	}
}

// ConvergenceConfig controls similarity-based early stop, distinct from
// consensus. When enabled, two consecutive rounds at or above the similarity
// threshold trigger voting early; rounds before MinRounds do not count.
type ConvergenceConfig struct {
	Enabled             bool    `json:"enabled" yaml:"enabled"`
	SimilarityThreshold float64 `json:"similarity_threshold" yaml:"similarity_threshold"`
	MinRounds           int     `json:"min_rounds" yaml:"min_rounds"`
}

// DebateConfig is the full protocol configuration for one debate.
type DebateConfig struct {
	Task            string            `json:"task"`
	Agents          []string          `json:"agents"`
	RoundsPlanned   int               `json:"rounds_planned"`
	PhasesPerRound  []Phase           `json:"phases_per_round,omitempty"`
	RotateRoles     bool              `json:"rotate_roles,omitempty"`
	Policy          ConsensusPolicy   `json:"consensus_policy"`
	Threshold       float64           `json:"consensus_threshold,omitempty"`
	Judge           string            `json:"judge,omitempty"`
	Convergence     ConvergenceConfig `json:"convergence"`
	VoteGrouping    float64           `json:"vote_grouping_threshold,omitempty"`
	ResearchEnabled bool              `json:"research_enabled,omitempty"`
	MinParticipants int               `json:"min_participants"`
	Domain          string            `json:"domain,omitempty"`
	Deadline        time.Time         `json:"deadline,omitempty"`
	RoundBudget     time.Duration     `json:"-"`
}

// Normalize fills defaults for optional fields.
func (c *DebateConfig) Normalize() {
	if len(c.PhasesPerRound) == 0 {
		c.PhasesPerRound = []Phase{PhasePropose, PhaseCritique, PhaseRevise}
	}
	if c.RoundsPlanned < 1 {
		c.RoundsPlanned = 1
	}
	if c.Policy == "" {
		c.Policy = ConsensusMajority
	}
	if c.Threshold <= 0 {
		c.Threshold = 0.5
	}
	if c.MinParticipants < 2 {
		c.MinParticipants = 2
	}
	if c.Convergence.SimilarityThreshold <= 0 {
		c.Convergence.SimilarityThreshold = 0.85
	}
	if c.Convergence.MinRounds < 1 {
		c.Convergence.MinRounds = 2
	}
}

// Validate rejects configuration combinations the orchestrator cannot run.
func (c *DebateConfig) Validate() error {
	if c.Task == "" {
		return fmt.Errorf("task is required")
	}
	if len(c.Agents) < 2 {
		return fmt.Errorf("at least 2 agents are required, got %d", len(c.Agents))
	}
	if !c.Policy.IsValid() {
		return fmt.Errorf("unknown consensus policy %q", c.Policy)
	}
	if c.Policy == ConsensusJudge && c.Judge == "" {
		return fmt.Errorf("judge policy requires a judge agent")
	}
	for _, p := range c.PhasesPerRound {
		if !p.IsValid() {
			return fmt.Errorf("unknown phase %q", p)
		}
	}
	if c.Threshold < 0 || c.Threshold > 1 {
		return fmt.Errorf("consensus threshold must be in [0,1], got %v", c.Threshold)
	}
	if len(c.Agents) < c.MinParticipants {
		return fmt.Errorf("min_participants %d exceeds agent count %d", c.MinParticipants, len(c.Agents))
	}
	return nil
}
