package provider

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// GeminiClient streams completions from the Gemini API via the official
// GenAI SDK.
type GeminiClient struct {
	apiKey string
}

// NewGeminiClient creates a streaming Gemini client.
func NewGeminiClient(apiKey string) *GeminiClient {
	return &GeminiClient{apiKey: apiKey}
}

// Name returns the client name.
func (c *GeminiClient) Name() string { return "gemini" }

// Stream implements Client.
func (c *GeminiClient) Stream(ctx context.Context, req Request) (<-chan Delta, <-chan error) {
	deltas := make(chan Delta, streamBuffer)
	errs := make(chan error, 1)

	go func() {
		defer close(deltas)
		defer close(errs)

		client, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  c.apiKey,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			errs <- fmt.Errorf("gemini: create client: %w", ErrPermanent)
			return
		}

		config := &genai.GenerateContentConfig{
			Temperature:   genai.Ptr(float32(req.Temperature)),
			StopSequences: req.StopSequences,
		}
		if req.MaxTokens > 0 {
			config.MaxOutputTokens = int32(req.MaxTokens)
		}
		if req.System != "" {
			config.SystemInstruction = &genai.Content{
				Parts: []*genai.Part{{Text: req.System}},
			}
		}

		contents := make([]*genai.Content, 0, len(req.Messages))
		for _, m := range req.Messages {
			role := genai.RoleUser
			if m.Role == "assistant" {
				role = genai.RoleModel
			}
			contents = append(contents, &genai.Content{
				Role:  role,
				Parts: []*genai.Part{{Text: m.Content}},
			})
		}

		var usage Usage
		for resp, err := range client.Models.GenerateContentStream(ctx, req.Model, contents, config) {
			if err != nil {
				errs <- classifyErr("gemini", err)
				return
			}
			if resp.UsageMetadata != nil {
				usage.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
				usage.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
			}
			if text := resp.Text(); text != "" {
				select {
				case deltas <- Delta{Text: text}:
				case <-ctx.Done():
					errs <- classifyErr("gemini", ctx.Err())
					return
				}
			}
		}

		select {
		case deltas <- Delta{Final: true, Usage: usage}:
		case <-ctx.Done():
			errs <- classifyErr("gemini", ctx.Err())
		}
	}()

	return deltas, errs
}
