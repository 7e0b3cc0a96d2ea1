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

// DefaultOpenAIEndpoint is the chat completions endpoint. OpenRouter and
// other OpenAI-compatible vendors override it.
const DefaultOpenAIEndpoint = "https://api.openai.com/v1/chat/completions"

// OpenAIClient streams chat completions from OpenAI or any API-compatible
// vendor via SSE.
type OpenAIClient struct {
	name       string
	apiKey     string
	endpoint   string
	httpClient *http.Client
}

// OpenAIConfig configures an OpenAI-compatible client.
type OpenAIConfig struct {
	Name     string // client name for errors/metrics; default "openai"
	APIKey   string
	Endpoint string        // default DefaultOpenAIEndpoint
	Timeout  time.Duration // total call budget; default 120s
}

// NewOpenAIClient creates a streaming client for an OpenAI-compatible API.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	if cfg.Name == "" {
		cfg.Name = "openai"
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultOpenAIEndpoint
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	return &OpenAIClient{
		name:       cfg.Name,
		apiKey:     cfg.APIKey,
		endpoint:   cfg.Endpoint,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// Name returns the client name.
func (c *OpenAIClient) Name() string { return c.name }

type openAIChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIChatRequest struct {
	Model         string              `json:"model"`
	Messages      []openAIChatMessage `json:"messages"`
	Temperature   float64             `json:"temperature,omitempty"`
	MaxTokens     int                 `json:"max_tokens,omitempty"`
	Stop          []string            `json:"stop,omitempty"`
	Stream        bool                `json:"stream"`
	StreamOptions *openAIStreamOpts   `json:"stream_options,omitempty"`
}

type openAIStreamOpts struct {
	IncludeUsage bool `json:"include_usage"`
}

type openAIStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Stream implements Client.
func (c *OpenAIClient) Stream(ctx context.Context, req Request) (<-chan Delta, <-chan error) {
	deltas := make(chan Delta, streamBuffer)
	errs := make(chan error, 1)

	go func() {
		defer close(deltas)
		defer close(errs)

		msgs := make([]openAIChatMessage, 0, len(req.Messages)+1)
		if req.System != "" {
			msgs = append(msgs, openAIChatMessage{Role: "system", Content: req.System})
		}
		for _, m := range req.Messages {
			msgs = append(msgs, openAIChatMessage{Role: m.Role, Content: m.Content})
		}

		body, err := json.Marshal(openAIChatRequest{
			Model:         req.Model,
			Messages:      msgs,
			Temperature:   req.Temperature,
			MaxTokens:     req.MaxTokens,
			Stop:          req.StopSequences,
			Stream:        true,
			StreamOptions: &openAIStreamOpts{IncludeUsage: true},
		})
		if err != nil {
			errs <- fmt.Errorf("%s: marshal request: %w", c.name, ErrPermanent)
			return
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			errs <- fmt.Errorf("%s: build request: %w", c.name, ErrPermanent)
			return
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			errs <- classifyErr(c.name, err)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			errs <- classifyStatus(c.name, resp.StatusCode)
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
			payload := strings.TrimPrefix(line, "data: ")
			if payload == "[DONE]" {
				break
			}

			var chunk openAIStreamChunk
			if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
				// Malformed chunks are skipped; the stream stays usable.
				continue
			}
			if chunk.Usage != nil {
				usage.InputTokens = chunk.Usage.PromptTokens
				usage.OutputTokens = chunk.Usage.CompletionTokens
			}
			if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
				select {
				case deltas <- Delta{Text: chunk.Choices[0].Delta.Content}:
				case <-ctx.Done():
					errs <- classifyErr(c.name, ctx.Err())
					return
				}
			}
		}
		if err := scanner.Err(); err != nil {
			errs <- classifyErr(c.name, err)
			return
		}

		select {
		case deltas <- Delta{Final: true, Usage: usage}:
		case <-ctx.Done():
			errs <- classifyErr(c.name, ctx.Err())
		}
	}()

	return deltas, errs
}
