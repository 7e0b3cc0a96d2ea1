// Package provider implements streaming clients for LLM vendor APIs behind a
// single Client interface. Each call produces a finite, non-restartable
// sequence of text deltas followed by a usage summary.
//
// Clients never log request or response bodies, and never log API keys.
package provider

import (
	"context"
	"time"
)

// Request is one streaming completion call.
type Request struct {
	Model         string
	System        string
	Messages      []Message
	Temperature   float64
	MaxTokens     int
	StopSequences []string
}

// Message is one turn of conversation context sent to the provider.
type Message struct {
	Role    string // system, user, assistant
	Content string
}

// Delta is one incremental piece of the streamed response.
type Delta struct {
	Text string
	// Final is set on the last delta of a successful stream; Usage is only
	// meaningful when Final is true.
	Final bool
	Usage Usage
}

// Usage summarizes token consumption for one call. Output tokens are
// approximated from deltas when the vendor omits them.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Client is one streaming connection to one LLM vendor.
//
// Stream returns a delta channel and an error channel. The delta channel is
// closed when the stream ends; at most one error is sent. Consumers must
// materialize what they need; the sequence cannot be restarted.
type Client interface {
	Stream(ctx context.Context, req Request) (<-chan Delta, <-chan error)
	Name() string
}

// inactivityWindow is the per-read budget: a stream with no bytes for this
// long fails with ErrTimeout.
const inactivityWindow = 60 * time.Second

// streamBuffer is the delta channel capacity. Large enough that a consumer
// draining at event-bus speed never stalls the HTTP read loop.
const streamBuffer = 64
