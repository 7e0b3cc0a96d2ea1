package provider

import (
	"context"
	"strings"
	"sync"
	"time"
)

// ScriptedReply is one canned response for the scripted client.
type ScriptedReply struct {
	Text  string
	Err   error         // sent instead of text when set
	Delay time.Duration // pause before each delta
	Chunk int           // delta size in runes; 0 streams the whole text at once
}

// ScriptedClient replays canned responses in order, then repeats the last
// one. With no replies it echoes a fixed acknowledgement, which keeps demo
// runs working without any vendor key.
type ScriptedClient struct {
	mu      sync.Mutex
	replies []ScriptedReply
	next    int
	calls   int
}

// NewScriptedClient creates a client that replays the given responses.
func NewScriptedClient(replies []ScriptedReply) *ScriptedClient {
	return &ScriptedClient{replies: replies}
}

// Name returns the client name.
func (c *ScriptedClient) Name() string { return "mock" }

// Calls reports how many times Stream has been invoked.
func (c *ScriptedClient) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func (c *ScriptedClient) take() ScriptedReply {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if len(c.replies) == 0 {
		return ScriptedReply{Text: "Acknowledged. No position to add.", Chunk: 8}
	}
	r := c.replies[c.next]
	if c.next < len(c.replies)-1 {
		c.next++
	}
	return r
}

// Stream implements Client.
func (c *ScriptedClient) Stream(ctx context.Context, req Request) (<-chan Delta, <-chan error) {
	deltas := make(chan Delta, streamBuffer)
	errs := make(chan error, 1)

	go func() {
		defer close(deltas)
		defer close(errs)

		r := c.take()
		if r.Err != nil {
			errs <- r.Err
			return
		}

		chunk := r.Chunk
		if chunk <= 0 {
			chunk = len(r.Text)
		}

		runes := []rune(r.Text)
		words := 0
		for i := 0; i < len(runes); i += chunk {
			if r.Delay > 0 {
				select {
				case <-time.After(r.Delay):
				case <-ctx.Done():
					errs <- classifyErr("mock", ctx.Err())
					return
				}
			}
			end := i + chunk
			if end > len(runes) {
				end = len(runes)
			}
			select {
			case deltas <- Delta{Text: string(runes[i:end])}:
			case <-ctx.Done():
				errs <- classifyErr("mock", ctx.Err())
				return
			}
		}
		words = len(strings.Fields(r.Text))

		select {
		case deltas <- Delta{Final: true, Usage: Usage{OutputTokens: words}}:
		case <-ctx.Done():
			errs <- classifyErr("mock", ctx.Err())
		}
	}()

	return deltas, errs
}
