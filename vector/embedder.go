package vector

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
)

// EmbeddingDimension is the vector width every collection in this module
// uses, matching Qdrant's fixed per-collection vector size requirement.
const EmbeddingDimension = 128

// Embedder turns text into a fixed-width embedding. No embedding-model SDK
// is available to this module, so HashEmbedder below stands in at the same
// interface boundary a real model client would fill; swapping it for one
// touches only the NewHashEmbedder call in cli's worker wiring.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// HashEmbedder derives a deterministic pseudo-embedding from repeated
// SHA-256 hashing of the input text. It carries no semantic meaning, but it
// is stable (the same text always yields the same vector, so a fingerprint
// match always yields an identical vector) and gives every downstream piece
// - Qdrant upsert, similarity search - a real vector to operate against.
type HashEmbedder struct{}

// NewHashEmbedder constructs the fallback embedder.
func NewHashEmbedder() *HashEmbedder { return &HashEmbedder{} }

// Embed hashes text through repeated SHA-256 rounds, each round
// contributing eight float32 components, one per four bytes of its digest.
func (e *HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec := make([]float32, 0, EmbeddingDimension)
	seed := []byte(text)
	for len(vec) < EmbeddingDimension {
		sum := sha256.Sum256(seed)
		for i := 0; i+4 <= len(sum) && len(vec) < EmbeddingDimension; i += 4 {
			bits := binary.BigEndian.Uint32(sum[i : i+4])
			vec = append(vec, float32(bits)/float32(1<<32)-0.5)
		}
		seed = sum[:]
	}
	return vec, nil
}
