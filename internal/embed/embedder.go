package embed

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"sync"
)

// Dimensions of every vector produced by the engine's providers. All
// embeddings in a store must come from the same provider.
const Dimensions = 384

// Provider converts text into fixed-size vectors. Implementations must
// be deterministic for a fixed input and accept arbitrary-size batches.
type Provider interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// batchSize bounds how many documents one worker encodes at a time so
// oversized corpora never build a single giant batch.
const batchSize = 256

// maxWorkers bounds the CPU-bound encoding pool.
const maxWorkers = 4

// LocalEncoder is a deterministic 384-dim sentence encoder built on
// token feature hashing with unigram and bigram features, normalized to
// a unit vector. It needs no model download and gives stable
// similarity for lexically overlapping texts, which is what the
// transaction corpus exercises.
type LocalEncoder struct {
	modelID string
}

// NewLocalEncoder creates the in-process encoder. The model id is
// carried only for status reporting.
func NewLocalEncoder(modelID string) *LocalEncoder {
	return &LocalEncoder{modelID: modelID}
}

// ModelID reports the configured model identifier.
func (e *LocalEncoder) ModelID() string { return e.modelID }

// Dimensions returns the embedding vector size.
func (e *LocalEncoder) Dimensions() int { return Dimensions }

// EmbedQuery encodes a single text.
func (e *LocalEncoder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return e.encode(text), nil
}

// EmbedDocuments encodes a batch, fanning chunks out over a bounded
// worker pool. Order of the result matches the input order.
func (e *LocalEncoder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	if len(texts) == 0 {
		return out, nil
	}

	type chunk struct{ lo, hi int }
	chunks := make(chan chunk)
	var wg sync.WaitGroup

	workers := maxWorkers
	if len(texts) < workers*batchSize {
		workers = len(texts)/batchSize + 1
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for c := range chunks {
				for i := c.lo; i < c.hi; i++ {
					out[i] = e.encode(texts[i])
				}
			}
		}()
	}

	for lo := 0; lo < len(texts); lo += batchSize {
		hi := lo + batchSize
		if hi > len(texts) {
			hi = len(texts)
		}
		chunks <- chunk{lo, hi}
	}
	close(chunks)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// encode hashes unigrams and bigrams of the lowercased text into the
// vector, then normalizes. Deterministic by construction.
func (e *LocalEncoder) encode(text string) []float32 {
	vec := make([]float32, Dimensions)
	tokens := tokenize(text)
	for i, tok := range tokens {
		addFeature(vec, tok, 1.0)
		if i+1 < len(tokens) {
			addFeature(vec, tok+"_"+tokens[i+1], 0.5)
		}
	}
	return normalize(vec)
}

func addFeature(vec []float32, feature string, weight float32) {
	h := fnv.New64a()
	h.Write([]byte(feature))
	sum := h.Sum64()
	idx := int(sum % Dimensions)
	// Second hash bit decides the sign so collisions cancel rather
	// than pile up.
	sign := float32(1)
	if (sum>>32)&1 == 1 {
		sign = -1
	}
	vec[idx] += sign * weight
}

func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9') && !(r >= 0x0900 && r <= 0x097F)
	})
	out := fields[:0]
	for _, f := range fields {
		if len(f) > 0 {
			out = append(out, f)
		}
	}
	return out
}

func normalize(vec []float32) []float32 {
	var norm float32
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		return vec
	}
	norm = float32(math.Sqrt(float64(norm)))
	for i, v := range vec {
		vec[i] = v / norm
	}
	return vec
}

// ProviderError wraps a provider construction failure; it is fatal at
// startup by contract.
func ProviderError(provider string, err error) error {
	return fmt.Errorf("embedding provider %q failed to load: %w", provider, err)
}
