package embeddings

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/aragora/aragora/pkg/provider"
)

const defaultGeminiEmbeddingModel = "text-embedding-004"

// GeminiEmbedder calls the Gemini embeddings API via the GenAI SDK.
type GeminiEmbedder struct {
	apiKey string
	model  string
}

// NewGeminiEmbedder creates an embedder against the default model.
func NewGeminiEmbedder(apiKey string) *GeminiEmbedder {
	return &GeminiEmbedder{apiKey: apiKey, model: defaultGeminiEmbeddingModel}
}

// Name returns the embedder name.
func (e *GeminiEmbedder) Name() string { return "gemini" }

// Embed implements Embedder.
func (e *GeminiEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  e.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini embeddings: create client: %w", provider.ErrPermanent)
	}

	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = &genai.Content{Parts: []*genai.Part{{Text: t}}}
	}

	resp, err := client.Models.EmbedContent(ctx, e.model, contents, nil)
	if err != nil {
		return nil, fmt.Errorf("gemini embeddings: %w", provider.ErrTransient)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("gemini embeddings: got %d vectors for %d inputs: %w",
			len(resp.Embeddings), len(texts), provider.ErrTransient)
	}

	out := make([][]float32, len(texts))
	for i, emb := range resp.Embeddings {
		out[i] = emb.Values
	}
	return out, nil
}
