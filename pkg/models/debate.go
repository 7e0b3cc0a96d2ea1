// Package models defines the core data model shared by the debate engine:
// debates, messages, positions, flips, matches, ratings, and the event
// envelope carried by the event bus.
package models

import (
	"time"
)

// DebateStatus is the lifecycle state of a debate.
type DebateStatus string

// Debate lifecycle states.
const (
	DebateStatusCreated  DebateStatus = "created"
	DebateStatusRunning  DebateStatus = "running"
	DebateStatusVoting   DebateStatus = "voting"
	DebateStatusSealing  DebateStatus = "sealing"
	DebateStatusComplete DebateStatus = "complete"
)

// DebateOutcome is the terminal outcome of a debate.
type DebateOutcome string

// Terminal outcomes.
const (
	OutcomeConsensus   DebateOutcome = "consensus"
	OutcomeNoConsensus DebateOutcome = "no_consensus"
	OutcomeCanceled    DebateOutcome = "canceled"
	OutcomeError       DebateOutcome = "error"
)

// Debate is one coordinated multi-agent exchange. Identity-bearing fields are
// immutable once the debate is sealed.
type Debate struct {
	ID               string         `json:"debate_id"`
	Slug             string         `json:"slug"`
	Task             string         `json:"task"`
	Agents           []string       `json:"agents"`
	RoundsPlanned    int            `json:"rounds_planned"`
	RoundsUsed       int            `json:"rounds_used"`
	Status           DebateStatus   `json:"status"`
	Outcome          DebateOutcome  `json:"outcome,omitempty"`
	ConsensusReached bool           `json:"consensus_reached"`
	Confidence       *float64       `json:"confidence,omitempty"`
	FinalArtifact    map[string]any `json:"final_artifact,omitempty"`
	ErrorMessage     string         `json:"error_message,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	CompletedAt      *time.Time     `json:"completed_at,omitempty"`
}

// Sealed reports whether the debate has reached a terminal outcome.
func (d *Debate) Sealed() bool {
	return d.Outcome != ""
}

// DebateMessage is one agent utterance. Unique per (debate, round, agent, role);
// append-only, never updated.
type DebateMessage struct {
	DebateID      string    `json:"debate_id"`
	Round         int       `json:"round"`
	Agent         string    `json:"agent"`
	Role          string    `json:"role"`
	CognitiveRole string    `json:"cognitive_role,omitempty"`
	Content       string    `json:"content"`
	Confidence    *float64  `json:"confidence,omitempty"`
	Citations     []string  `json:"citations,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Message roles within a round.
const (
	RoleResearcher = "researcher"
	RoleProposer   = "proposer"
	RoleCritic     = "critic"
	RoleReviser    = "reviser"
	RoleVoter      = "voter"
	RoleJudge      = "judge"
)

// Vote is one agent's vote over the candidate proposals of a debate.
type Vote struct {
	DebateID   string    `json:"debate_id"`
	Agent      string    `json:"agent"`
	Choice     string    `json:"choice"`
	Reasoning  string    `json:"reasoning,omitempty"`
	Confidence float64   `json:"confidence"`
	CreatedAt  time.Time `json:"created_at"`
}

// PositionOutcome is the eventual correctness of a position.
type PositionOutcome string

// Position outcomes.
const (
	PositionPending   PositionOutcome = "pending"
	PositionCorrect   PositionOutcome = "correct"
	PositionIncorrect PositionOutcome = "incorrect"
	PositionUnknown   PositionOutcome = "unknown"
)

// Position is a discrete claim attributable to one agent in one debate at one
// round, extracted from a DebateMessage.
type Position struct {
	ID         int64           `json:"id"`
	Agent      string          `json:"agent"`
	Claim      string          `json:"claim"`
	Confidence float64         `json:"confidence"`
	Domain     string          `json:"domain,omitempty"`
	DebateID   string          `json:"debate_id"`
	Round      int             `json:"round"`
	Outcome    PositionOutcome `json:"outcome"`
	Embedding  []float32       `json:"-"`
	CreatedAt  time.Time       `json:"created_at"`
}

// FlipType classifies the relation between two positions of the same agent.
type FlipType string

// Flip types, ordered from most to least severe.
const (
	FlipContradiction FlipType = "contradiction"
	FlipRetraction    FlipType = "retraction"
	FlipQualification FlipType = "qualification"
	FlipRefinement    FlipType = "refinement"
)

// Flip is a typed relation between an agent's older and newer position.
// Edges always point from the older position to the newer one, so the flip
// graph is acyclic by construction.
type Flip struct {
	ID         int64     `json:"id"`
	Agent      string    `json:"agent"`
	OriginalID int64     `json:"original_position_id"`
	NewID      int64     `json:"new_position_id"`
	Similarity float64   `json:"similarity"`
	Type       FlipType  `json:"type"`
	Domain     string    `json:"domain,omitempty"`
	DebateID   string    `json:"debate_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// Match is one ELO rating event produced at the end of a rankable debate.
// The elo_changes sum to zero within floating tolerance.
type Match struct {
	ID           int64              `json:"id"`
	DebateID     string             `json:"debate_id"`
	Participants []string           `json:"participants"`
	Winner       string             `json:"winner,omitempty"`
	EloChanges   map[string]float64 `json:"elo_changes"`
	Domain       string             `json:"domain,omitempty"`
	CreatedAt    time.Time          `json:"created_at"`
}

// AgentRating is one agent's standing in one domain. Counters are monotone;
// elo is mutated only through matches; consistency is recomputed from flips.
type AgentRating struct {
	Agent       string    `json:"agent"`
	Domain      string    `json:"domain"`
	Elo         float64   `json:"elo"`
	Wins        int       `json:"wins"`
	Losses      int       `json:"losses"`
	Draws       int       `json:"draws"`
	Consistency float64   `json:"consistency"`
	UpdatedAt   time.Time `json:"updated_at"`
}
