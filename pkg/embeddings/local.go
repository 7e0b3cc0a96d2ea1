package embeddings

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

const localDim = 256

// LocalEmbedder hashes unigrams and bigrams into a fixed-dimension bag
// vector. It is deterministic and offline; similar wording maps to nearby
// vectors, which is enough for convergence checks and vote grouping when no
// vendor embedder is configured.
type LocalEmbedder struct{}

// NewLocalEmbedder creates the offline embedder.
func NewLocalEmbedder() *LocalEmbedder { return &LocalEmbedder{} }

// Name returns the embedder name.
func (e *LocalEmbedder) Name() string { return "local" }

// Embed implements Embedder. It never fails.
func (e *LocalEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.embedOne(t)
	}
	return out, nil
}

func (e *LocalEmbedder) embedOne(text string) []float32 {
	vec := make([]float32, localDim)
	tokens := tokenize(text)
	for i, tok := range tokens {
		bump(vec, tok)
		if i+1 < len(tokens) {
			bump(vec, tok+" "+tokens[i+1])
		}
	}

	// L2 normalize so cosine comparisons are scale-free.
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec
}

func bump(vec []float32, token string) {
	h := fnv.New64a()
	h.Write([]byte(token))
	sum := h.Sum64()
	idx := sum % localDim
	// Signed hashing reduces collision bias.
	if sum&(1<<63) != 0 {
		vec[idx]--
	} else {
		vec[idx]++
	}
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}
