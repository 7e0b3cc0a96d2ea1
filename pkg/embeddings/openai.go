package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aragora/aragora/pkg/provider"
)

// DefaultOpenAIEmbeddingsEndpoint is the OpenAI embeddings endpoint.
const DefaultOpenAIEmbeddingsEndpoint = "https://api.openai.com/v1/embeddings"

const defaultOpenAIEmbeddingModel = "text-embedding-3-small"

// OpenAIEmbedder calls the OpenAI embeddings API.
type OpenAIEmbedder struct {
	apiKey     string
	endpoint   string
	model      string
	httpClient *http.Client
}

// NewOpenAIEmbedder creates an embedder against the default endpoint and
// model.
func NewOpenAIEmbedder(apiKey string) *OpenAIEmbedder {
	return &OpenAIEmbedder{
		apiKey:     apiKey,
		endpoint:   DefaultOpenAIEmbeddingsEndpoint,
		model:      defaultOpenAIEmbeddingModel,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Name returns the embedder name.
func (e *OpenAIEmbedder) Name() string { return "openai" }

type openAIEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type openAIEmbedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed implements Embedder.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(openAIEmbedRequest{Model: e.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: marshal: %w", provider.ErrPermanent)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: build request: %w", provider.ErrPermanent)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", provider.ErrTransient)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		kind := provider.ErrTransient
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			kind = provider.ErrPermanent
		}
		return nil, fmt.Errorf("openai embeddings: status %d: %w", resp.StatusCode, kind)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: read body: %w", provider.ErrTransient)
	}
	var parsed openAIEmbedResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("openai embeddings: decode: %w", provider.ErrTransient)
	}
	if len(parsed.Data) != len(texts) {
		return nil, fmt.Errorf("openai embeddings: got %d vectors for %d inputs: %w",
			len(parsed.Data), len(texts), provider.ErrTransient)
	}

	out := make([][]float32, len(texts))
	for _, d := range parsed.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("openai embeddings: index %d out of range: %w", d.Index, provider.ErrTransient)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}
