// Package embedding provides the embedding capability used at ingestion and query time.
package embedding

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
)

const (
	// DefaultModel is the OpenAI model used for generating embeddings.
	DefaultModel = "text-embedding-3-small"

	// DefaultBatchSize balances requests-per-minute vs tokens-per-minute rate limits.
	// OpenAI supports up to 2048 texts per batch, but smaller batches reduce TPM pressure.
	DefaultBatchSize = 500
)

// modelDimensions lists the vector sizes of the known OpenAI embedding models.
var modelDimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

// Capability turns texts into fixed-dimension vectors.
// The same model must be used at ingestion and at query time.
type Capability interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
	Dimension() int
}

// Embedder generates embeddings through the OpenAI embeddings endpoint.
// Each batch is a single attempt; callers own retries (see retry.Do).
type Embedder struct {
	client    *Client
	model     string
	dimension int
	batchSize int
}

// NewEmbedder creates a new Embedder.
// Empty model selects DefaultModel; batchSize <= 0 selects DefaultBatchSize.
// dimension <= 0 uses the known size of the model.
func NewEmbedder(client *Client, model string, dimension, batchSize int) (*Embedder, error) {
	if model == "" {
		model = DefaultModel
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if dimension <= 0 {
		d, ok := modelDimensions[model]
		if !ok {
			return nil, fmt.Errorf("unknown dimension for embedding model %q", model)
		}
		dimension = d
	}
	return &Embedder{
		client:    client,
		model:     model,
		dimension: dimension,
		batchSize: batchSize,
	}, nil
}

// Model returns the embedding model identifier stored with the index.
func (e *Embedder) Model() string { return e.model }

// Dimension returns the vector size produced by the model.
func (e *Embedder) Dimension() int { return e.dimension }

// Embed generates embeddings for the given texts, in input order.
// Transient failures are wrapped with drug.ErrTransient.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	all := make([][]float32, 0, len(texts))

	for i := 0; i < len(texts); i += e.batchSize {
		end := min(i+e.batchSize, len(texts))

		embeddings, err := e.embedBatch(ctx, texts[i:end])
		if err != nil {
			return nil, fmt.Errorf("batch %d-%d: %w", i, end, err)
		}
		all = append(all, embeddings...)
	}

	return all, nil
}

func (e *Embedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := e.client.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		},
		Model: openai.EmbeddingModel(e.model),
	})
	if err != nil {
		return nil, ClassifyError(err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding response has %d vectors for %d texts", len(resp.Data), len(texts))
	}

	// The API may return items out of order; Index is authoritative.
	embeddings := make([][]float32, len(texts))
	for _, data := range resp.Data {
		if data.Index < 0 || int(data.Index) >= len(texts) {
			return nil, fmt.Errorf("embedding response index %d out of range", data.Index)
		}
		vec := toFloat32(data.Embedding)
		if len(vec) != e.dimension {
			return nil, fmt.Errorf("embedding has dimension %d, want %d", len(vec), e.dimension)
		}
		embeddings[data.Index] = vec
	}
	return embeddings, nil
}

// toFloat32 converts []float64 to []float32.
// OpenAI API returns float64, but the index stores float32 for memory efficiency.
func toFloat32(f64 []float64) []float32 {
	f32 := make([]float32, len(f64))
	for i, v := range f64 {
		f32[i] = float32(v)
	}
	return f32
}
