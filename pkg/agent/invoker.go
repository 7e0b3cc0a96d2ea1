// Package agent turns one agent turn into a supervised streaming call:
// provider selection, retry with jittered backoff, token budget enforcement,
// and the token_start / token_delta / token_end event protocol on the bus.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/aragora/aragora/pkg/config"
	"github.com/aragora/aragora/pkg/models"
	"github.com/aragora/aragora/pkg/provider"
)

const (
	// maxAttempts bounds provider calls per turn: the initial call plus
	// retries of transient failures.
	maxAttempts = 3

	retryBackoffMin = 500 * time.Millisecond
	retryBackoffMax = 8 * time.Second

	// partialRetryThreshold is the number of runes already streamed above
	// which a timed-out call is not retried: the viewer has seen too much
	// text to silently restart the stream.
	partialRetryThreshold = 128

	// truncationMarker is appended to content cut off by the token budget.
	truncationMarker = "\n[output truncated]"
)

// Publisher is the slice of the event bus the invoker needs.
type Publisher interface {
	Publish(ctx context.Context, ev *models.Event) error
}

// Clients resolves a provider client by name.
type Clients interface {
	Client(name string) (provider.Client, error)
}

// Request is one agent turn.
type Request struct {
	DebateID string
	Round    int
	Role     string
	Agent    config.AgentConfig
	System   string
	Messages []provider.Message

	// TokenBudget caps output tokens for this turn; 0 means the agent's
	// configured maximum.
	TokenBudget int
}

// Result is the outcome of one completed turn.
type Result struct {
	Content   string
	Tokens    int
	Truncated bool
}

// Invoker executes agent turns against provider clients.
type Invoker struct {
	clients Clients
	bus     Publisher
	logger  *slog.Logger
}

// NewInvoker creates an invoker publishing stream events to bus.
func NewInvoker(clients Clients, bus Publisher, logger *slog.Logger) *Invoker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Invoker{clients: clients, bus: bus, logger: logger}
}

// Invoke runs one streaming turn. Exactly one token_start is published, and
// exactly one terminal emission follows it: token_end on success,
// cancellation, or truncation; an error event when every attempt failed.
//
// Transient failures are retried with jittered backoff. Permanent errors and
// cancellations are never retried. Timeouts are retried only while little
// enough text has streamed that a restart is invisible; a restarted stream
// begins again at delta index zero.
func (iv *Invoker) Invoke(ctx context.Context, req Request) (*Result, error) {
	client, err := iv.clients.Client(req.Agent.Provider)
	if err != nil {
		iv.publishError(ctx, req, "provider_unavailable")
		return nil, fmt.Errorf("resolving provider for %s: %w", req.Agent.Name, err)
	}

	start := models.NewEvent(models.EventTokenStart, req.DebateID, models.TokenStartPayload{
		Agent: req.Agent.Name,
		Round: req.Round,
		Role:  req.Role,
	})
	start.Round = req.Round
	start.Agent = req.Agent.Name
	if err := iv.bus.Publish(ctx, &start); err != nil {
		return nil, fmt.Errorf("publishing token_start: %w", err)
	}

	budget := req.TokenBudget
	if budget <= 0 {
		budget = req.Agent.MaxTokens
	}

	var result *Result
	attempt := 0

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = retryBackoffMin
	bo.MaxInterval = retryBackoffMax
	bo.MaxElapsedTime = 0

	err = backoff.Retry(func() error {
		attempt++
		res, streamed, err := iv.runStream(ctx, client, req, budget)
		if err == nil {
			result = res
			return nil
		}

		if !iv.retryable(err, streamed, attempt) {
			return backoff.Permanent(err)
		}
		iv.logger.Warn("agent turn failed, retrying",
			"debate_id", req.DebateID, "agent", req.Agent.Name,
			"round", req.Round, "attempt", attempt, "error", err)
		return err
	}, backoff.WithContext(bo, ctx))

	if err != nil {
		if errors.Is(err, provider.ErrCanceled) || errors.Is(err, context.Canceled) {
			// The stream was cut, not broken: close it as partial.
			iv.publishTokenEnd(req, models.TokenEndPayload{
				Agent:   req.Agent.Name,
				Partial: true,
			})
			return nil, fmt.Errorf("agent %s canceled: %w", req.Agent.Name, provider.ErrCanceled)
		}
		iv.publishError(ctx, req, errorCode(err))
		return nil, fmt.Errorf("agent %s: %w", req.Agent.Name, err)
	}

	iv.publishTokenEnd(req, models.TokenEndPayload{
		Agent:     req.Agent.Name,
		Tokens:    result.Tokens,
		Truncated: result.Truncated,
	})
	return result, nil
}

// runStream performs one provider call, streaming deltas to the bus and
// enforcing the token budget. Returns the rune count streamed so the caller
// can judge whether a retry is invisible.
func (iv *Invoker) runStream(ctx context.Context, client provider.Client, req Request, budget int) (*Result, int, error) {
	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	deltas, errs := client.Stream(callCtx, provider.Request{
		Model:       req.Agent.Model,
		System:      req.System,
		Messages:    req.Messages,
		Temperature: req.Agent.Temperature,
		MaxTokens:   budget,
	})

	var (
		sb        strings.Builder
		index     int
		streamed  int
		truncated bool
		usage     provider.Usage
	)

	for d := range deltas {
		if d.Final {
			usage = d.Usage
			continue
		}

		sb.WriteString(d.Text)
		streamed += len([]rune(d.Text))

		ev := models.NewEvent(models.EventTokenDelta, req.DebateID, models.TokenDeltaPayload{
			Agent: req.Agent.Name,
			Delta: d.Text,
			Index: index,
		})
		ev.Round = req.Round
		ev.Agent = req.Agent.Name
		if err := iv.bus.Publish(ctx, &ev); err != nil {
			return nil, streamed, fmt.Errorf("publishing token_delta: %w", err)
		}
		index++

		if budget > 0 && estimateTokens(sb.Len()) >= budget {
			truncated = true
			cancel()
			// Drain so the provider goroutine can exit.
			for range deltas {
			}
			break
		}
	}

	if !truncated {
		if err := <-errs; err != nil {
			return nil, streamed, err
		}
	} else {
		// The cancellation error from the cut stream is expected.
		<-errs
	}

	content := sb.String()
	tokens := usage.OutputTokens
	if tokens == 0 {
		tokens = estimateTokens(len(content))
	}
	if truncated {
		content += truncationMarker
	}
	return &Result{Content: content, Tokens: tokens, Truncated: truncated}, streamed, nil
}

// retryable decides whether a failed attempt may be repeated.
func (iv *Invoker) retryable(err error, streamed, attempt int) bool {
	if attempt >= maxAttempts {
		return false
	}
	switch {
	case errors.Is(err, provider.ErrPermanent), errors.Is(err, provider.ErrCanceled):
		return false
	case errors.Is(err, provider.ErrTimeout):
		return streamed < partialRetryThreshold
	default:
		return true
	}
}

func (iv *Invoker) publishTokenEnd(req Request, payload models.TokenEndPayload) {
	// Terminal emissions use a detached context: the turn's context may
	// already be canceled, but the stream must still be closed.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ev := models.NewEvent(models.EventTokenEnd, req.DebateID, payload)
	ev.Round = req.Round
	ev.Agent = req.Agent.Name
	if err := iv.bus.Publish(ctx, &ev); err != nil {
		iv.logger.Error("failed to publish token_end",
			"debate_id", req.DebateID, "agent", req.Agent.Name, "error", err)
	}
}

func (iv *Invoker) publishError(ctx context.Context, req Request, code string) {
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}

	ev := models.NewEvent(models.EventError, req.DebateID, models.ErrorPayload{
		Code:    code,
		Message: fmt.Sprintf("agent %s failed", req.Agent.Name),
	})
	ev.Round = req.Round
	ev.Agent = req.Agent.Name
	if err := iv.bus.Publish(ctx, &ev); err != nil {
		iv.logger.Error("failed to publish error event",
			"debate_id", req.DebateID, "agent", req.Agent.Name, "error", err)
	}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, provider.ErrTimeout):
		return "provider_timeout"
	case errors.Is(err, provider.ErrPermanent):
		return "provider_rejected"
	default:
		return "provider_unreachable"
	}
}

// estimateTokens approximates token count from byte length. Four bytes per
// token tracks English prose closely enough for budget enforcement.
func estimateTokens(chars int) int {
	return chars / 4
}
