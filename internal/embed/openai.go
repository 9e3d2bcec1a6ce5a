package embed

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

// OpenAIEmbedder delegates embedding to an OpenAI-compatible gateway
// through langchaingo. Selected with EMBEDDING_PROVIDER=openai; the
// gateway model must be a 384-dim encoder so stores stay consistent
// with the local provider.
type OpenAIEmbedder struct {
	embedder *embeddings.EmbedderImpl
	modelID  string
}

// NewOpenAIEmbedder builds the remote provider. A constructor failure
// is fatal at startup: the engine refuses to serve without a working
// embedder.
func NewOpenAIEmbedder(apiKey, baseURL, modelID string) (*OpenAIEmbedder, error) {
	opts := []openai.Option{
		openai.WithToken(apiKey),
		openai.WithEmbeddingModel(modelID),
	}
	if baseURL != "" {
		opts = append(opts, openai.WithBaseURL(baseURL))
	}
	client, err := openai.New(opts...)
	if err != nil {
		return nil, ProviderError("openai", err)
	}
	embedder, err := embeddings.NewEmbedder(client)
	if err != nil {
		return nil, ProviderError("openai", err)
	}
	return &OpenAIEmbedder{embedder: embedder, modelID: modelID}, nil
}

// Dimensions returns the embedding vector size.
func (e *OpenAIEmbedder) Dimensions() int { return Dimensions }

// EmbedDocuments embeds a batch, chunking so an oversized corpus never
// hits the gateway as a single request.
func (e *OpenAIEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for lo := 0; lo < len(texts); lo += batchSize {
		hi := lo + batchSize
		if hi > len(texts) {
			hi = len(texts)
		}
		vecs, err := e.embedder.EmbedDocuments(ctx, texts[lo:hi])
		if err != nil {
			return nil, fmt.Errorf("embed batch [%d:%d]: %w", lo, hi, err)
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// EmbedQuery embeds a single query string.
func (e *OpenAIEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vec, err := e.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return vec, nil
}
