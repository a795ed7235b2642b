// Package embedding maps chunk text to fixed-dimension vectors.
package embedding

import (
	"crypto/sha256"
	"strings"

	"github.com/rs/zerolog/log"
)

// DefaultDim matches the vector column created by store.Migrate.
const DefaultDim = 384

// Embedder turns text into vectors of a fixed dimension. Implementations
// must be deterministic and must not fail; blank input maps to a defined
// default vector.
type Embedder interface {
	Embed(text string) []float32
	EmbedBatch(texts []string) [][]float32
	Dim() int
}

// HashEmbedder derives vectors from a SHA-256 digest of the text. The
// vectors are stable but carry no semantic meaning.
type HashEmbedder struct {
	dim int
}

func NewHashEmbedder(dim int) *HashEmbedder {
	if dim <= 0 {
		dim = DefaultDim
	}
	return &HashEmbedder{dim: dim}
}

func (h *HashEmbedder) Dim() int { return h.dim }

// Embed returns the vector for a single text. Blank input yields a vector
// filled with 0.1.
func (h *HashEmbedder) Embed(text string) []float32 {
	if strings.TrimSpace(text) == "" {
		log.Warn().Msg("blank text passed to embedder, using default vector")
		return DefaultVector(h.dim)
	}
	return h.vector(text)
}

// EmbedBatch embeds each text in order, exactly as Embed would, so the
// batch keeps its length.
func (h *HashEmbedder) EmbedBatch(texts []string) [][]float32 {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			out[i] = DefaultVector(h.dim)
			continue
		}
		out[i] = h.vector(t)
	}
	return out
}

func (h *HashEmbedder) vector(text string) []float32 {
	sum := sha256.Sum256([]byte(text))
	n := len(sum)
	v := make([]float32, h.dim)
	for i := range v {
		v[i] = float32(sum[i%n]^sum[(i+1)%n]) / 255.0
	}
	return v
}

// DefaultVector is the vector used for blank inputs.
func DefaultVector(dim int) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = 0.1
	}
	return v
}
