// Package embeddings turns position text into vectors for convergence and
// flip detection. Vendor-backed embedders are preferred; a deterministic
// local embedder keeps the pipeline working with no API key.
package embeddings

import (
	"context"
	"math"

	"github.com/aragora/aragora/pkg/config"
)

// Embedder produces one vector per input text.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Name() string
}

// Cosine returns the cosine similarity of two vectors, 0 when either is a
// zero vector or the dimensions differ.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Select picks an embedder per configuration. "auto" prefers OpenAI, then
// Gemini, then the local embedder.
func Select(cfg config.EmbeddingConfig, keys config.ProviderKeys) Embedder {
	switch cfg.Provider {
	case "openai":
		return NewOpenAIEmbedder(keys.OpenAI)
	case "gemini":
		return NewGeminiEmbedder(keys.Gemini)
	case "local":
		return NewLocalEmbedder()
	default: // auto
		if keys.OpenAI != "" {
			return NewOpenAIEmbedder(keys.OpenAI)
		}
		if keys.Gemini != "" {
			return NewGeminiEmbedder(keys.Gemini)
		}
		return NewLocalEmbedder()
	}
}
