package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// DefaultAnthropicEndpoint is the Anthropic messages endpoint.
const DefaultAnthropicEndpoint = "https://api.anthropic.com/v1/messages"

const anthropicVersion = "2023-06-01"

// AnthropicClient streams completions from the Anthropic messages API.
type AnthropicClient struct {
	apiKey     string
	endpoint   string
	httpClient *http.Client
}

// AnthropicConfig configures the Anthropic client.
type AnthropicConfig struct {
	APIKey   string
	Endpoint string        // default DefaultAnthropicEndpoint
	Timeout  time.Duration // total call budget; default 120s
}

// NewAnthropicClient creates a streaming Anthropic client.
func NewAnthropicClient(cfg AnthropicConfig) *AnthropicClient {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultAnthropicEndpoint
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	return &AnthropicClient{
		apiKey:     cfg.APIKey,
		endpoint:   cfg.Endpoint,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// Name returns the client name.
func (c *AnthropicClient) Name() string { return "anthropic" }

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model         string             `json:"model"`
	System        string             `json:"system,omitempty"`
	Messages      []anthropicMessage `json:"messages"`
	MaxTokens     int                `json:"max_tokens"`
	Temperature   float64            `json:"temperature,omitempty"`
	StopSequences []string           `json:"stop_sequences,omitempty"`
	Stream        bool               `json:"stream"`
}

type anthropicStreamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
	Message struct {
		Usage struct {
			InputTokens int `json:"input_tokens"`
		} `json:"usage"`
	} `json:"message"`
	Usage struct {
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Stream implements Client.
func (c *AnthropicClient) Stream(ctx context.Context, req Request) (<-chan Delta, <-chan error) {
	deltas := make(chan Delta, streamBuffer)
	errs := make(chan error, 1)

	go func() {
		defer close(deltas)
		defer close(errs)

		maxTokens := req.MaxTokens
		if maxTokens == 0 {
			maxTokens = 4096 // required by the messages API
		}
		msgs := make([]anthropicMessage, 0, len(req.Messages))
		for _, m := range req.Messages {
			if m.Role == "system" {
				continue // carried in the top-level system field
			}
			msgs = append(msgs, anthropicMessage{Role: m.Role, Content: m.Content})
		}

		body, err := json.Marshal(anthropicRequest{
			Model:         req.Model,
			System:        req.System,
			Messages:      msgs,
			MaxTokens:     maxTokens,
			Temperature:   req.Temperature,
			StopSequences: req.StopSequences,
			Stream:        true,
		})
		if err != nil {
			errs <- fmt.Errorf("anthropic: marshal request: %w", ErrPermanent)
			return
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			errs <- fmt.Errorf("anthropic: build request: %w", ErrPermanent)
			return
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("x-api-key", c.apiKey)
		httpReq.Header.Set("anthropic-version", anthropicVersion)

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			errs <- classifyErr("anthropic", err)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			errs <- classifyStatus("anthropic", resp.StatusCode)
			return
		}

		var usage Usage
		scanner := bufio.NewScanner(newInactivityReader(ctx, resp.Body, inactivityWindow))
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}

			var ev anthropicStreamEvent
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
				continue
			}

			switch ev.Type {
			case "message_start":
				usage.InputTokens = ev.Message.Usage.InputTokens
			case "content_block_delta":
				if ev.Delta.Text != "" {
					select {
					case deltas <- Delta{Text: ev.Delta.Text}:
					case <-ctx.Done():
						errs <- classifyErr("anthropic", ctx.Err())
						return
					}
				}
			case "message_delta":
				if ev.Usage.OutputTokens > 0 {
					usage.OutputTokens = ev.Usage.OutputTokens
				}
			case "error":
				errs <- fmt.Errorf("anthropic: stream error event: %w", ErrTransient)
				return
			case "message_stop":
				// Terminal; fall through to final delta after scan loop.
			}
		}
		if err := scanner.Err(); err != nil {
			errs <- classifyErr("anthropic", err)
			return
		}

		select {
		case deltas <- Delta{Final: true, Usage: usage}:
		case <-ctx.Done():
			errs <- classifyErr("anthropic", ctx.Err())
		}
	}()

	return deltas, errs
}
