package models

import (
	"encoding/json"
	"time"
)

// EventType identifies one variant of the closed event set carried by the bus.
type EventType string

// Debate lifecycle events.
const (
	EventDebateStart EventType = "debate_start"
	EventRoundStart  EventType = "round_start"
	EventRoundEnd    EventType = "round_end"
	EventDebateEnd   EventType = "debate_end"
)

// Agent emission events.
const (
	EventAgentMessage EventType = "agent_message"
	EventTokenStart   EventType = "token_start"
	EventTokenDelta   EventType = "token_delta"
	EventTokenEnd     EventType = "token_end"
)

// Structured outcome events.
const (
	EventConsensus     EventType = "consensus"
	EventVote          EventType = "vote"
	EventCritique      EventType = "critique"
	EventMatchRecorded EventType = "match_recorded"
	EventFlipDetected  EventType = "flip_detected"
)

// System events.
const (
	EventSync  EventType = "sync"
	EventError EventType = "error"
)

// Transient reports whether events of this type may be pruned from the
// durable log after the retention grace period. token_delta is
// high-frequency and reconstructable from the authoritative agent_message.
func (t EventType) Transient() bool {
	return t == EventTokenDelta
}

// Event is the typed envelope delivered through the bus. Seq is the monotone
// per-debate sequence number assigned by the storage adapter at append time;
// it is zero until the event has been accepted durably.
type Event struct {
	Seq       int64           `json:"seq,omitempty"`
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	DebateID  string          `json:"debate_id,omitempty"`
	Round     int             `json:"round,omitempty"`
	Agent     string          `json:"agent,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewEvent builds an event with the payload marshaled into Data. A marshal
// failure degrades to an error event so the stream never loses a slot in the
// sequence.
func NewEvent(t EventType, debateID string, payload any) Event {
	e := Event{
		Type:      t,
		Timestamp: time.Now().UTC(),
		DebateID:  debateID,
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			e.Type = EventError
			e.Data, _ = json.Marshal(ErrorPayload{Code: "payload_marshal_failed"})
			return e
		}
		e.Data = data
	}
	return e
}

// RoundEndPayload carries the convergence statistic for a finished round.
type RoundEndPayload struct {
	Round      int     `json:"round"`
	Similarity float64 `json:"similarity"`
	Converged  bool    `json:"converged"`
}

// TokenStartPayload opens one streamed agent turn.
type TokenStartPayload struct {
	Agent string `json:"agent"`
	Round int    `json:"round"`
	Role  string `json:"role"`
}

// TokenDeltaPayload is one incremental text chunk of a streamed turn.
type TokenDeltaPayload struct {
	Agent string `json:"agent"`
	Delta string `json:"delta"`
	Index int    `json:"index"`
}

// TokenEndPayload closes one streamed agent turn. Partial is set when the
// stream was cut short by cancellation; Truncated when the token budget hit.
type TokenEndPayload struct {
	Agent     string `json:"agent"`
	Tokens    int    `json:"tokens"`
	Partial   bool   `json:"partial"`
	Truncated bool   `json:"truncated"`
}

// ConsensusPayload announces the voting result.
type ConsensusPayload struct {
	Reached    bool    `json:"reached"`
	Choice     string  `json:"choice,omitempty"`
	Confidence float64 `json:"confidence"`
	Policy     string  `json:"policy"`
}

// DebateEndPayload seals the stream for a debate.
type DebateEndPayload struct {
	Outcome    DebateOutcome `json:"outcome"`
	RoundsUsed int           `json:"rounds_used"`
}

// ErrorPayload carries a stable machine-readable error code. Messages never
// include keys, stack traces, or provider internals.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}
