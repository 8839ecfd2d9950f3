package cache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
	"strings"

	"golang.org/x/sync/semaphore"
)

// Embedder produces a fixed-dimension embedding for a prompt.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// BoundedEmbedder caps concurrent embedding calls. Requests past the cap
// queue until a slot frees or their deadline expires.
type BoundedEmbedder struct {
	inner Embedder
	sem   *semaphore.Weighted
}

// NewBoundedEmbedder wraps inner with a concurrency bound.
func NewBoundedEmbedder(inner Embedder, concurrency int) *BoundedEmbedder {
	if concurrency <= 0 {
		concurrency = 8
	}
	return &BoundedEmbedder{
		inner: inner,
		sem:   semaphore.NewWeighted(int64(concurrency)),
	}
}

// Embed acquires a slot and delegates to the wrapped embedder.
func (b *BoundedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := b.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer b.sem.Release(1)
	return b.inner.Embed(ctx, text)
}

// hashingDimensions is the vector size of the local embedder.
const hashingDimensions = 256

// HashingEmbedder is a deterministic local embedder using character
// trigram feature hashing. It needs no upstream call, which makes it the
// default for deployments that have not configured an embedding model,
// and it keeps cache tests hermetic. Similarity quality is well below a
// learned embedding, so exact and near-duplicate prompts still match but
// paraphrases rarely clear a high threshold.
type HashingEmbedder struct{}

// Embed returns the normalized trigram-hash vector of text.
func (HashingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec := make([]float32, hashingDimensions)
	normalized := strings.ToLower(strings.Join(strings.Fields(text), " "))

	runes := []rune(normalized)
	if len(runes) < 3 {
		runes = append(runes, ' ', ' ')
	}
	for i := 0; i+3 <= len(runes); i++ {
		h := sha256.Sum256([]byte(string(runes[i : i+3])))
		idx := binary.BigEndian.Uint32(h[:4]) % hashingDimensions
		sign := float32(1)
		if h[4]%2 == 1 {
			sign = -1
		}
		vec[idx] += sign
	}

	normalize(vec)
	return vec, nil
}

// normalize scales vec to unit length in place.
func normalize(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range vec {
		vec[i] *= inv
	}
}

// cosine returns the cosine similarity of two unit vectors.
func cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}
