package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"civicdocs/backend/internal/vector"
)

// maxBatch is the provider's documented per-request content limit.
const maxBatch = 100

// ErrUnavailable marks failures reaching the embedding API, as opposed to
// bad input or a malformed response. Callers match it with errors.Is to
// degrade instead of treating the outage as an internal fault.
var ErrUnavailable = errors.New("embedding provider unavailable")

type Embedder struct {
	client    *genai.Client
	model     string
	dimension int
	batchSize int
}

func NewEmbedder(ctx context.Context, apiKey, model string, dimension int, opts ...option.ClientOption) (*Embedder, error) {
	opts = append(opts, option.WithAPIKey(apiKey))
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return &Embedder{
		client:    client,
		model:     model,
		dimension: dimension,
		batchSize: maxBatch,
	}, nil
}

func (e *Embedder) Model() string { return e.model }

// SetBatchSize lowers the per-request batch below the provider limit.
func (e *Embedder) SetBatchSize(n int) {
	if n > 0 && n < maxBatch {
		e.batchSize = n
	}
}

func (e *Embedder) Close() error { return e.client.Close() }

// Embed generates a single vector, used for queries.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch generates one vector per input text, splitting across provider
// calls as needed. Any failure returns an empty result so callers never see
// a partial embedding set.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	em := e.client.EmbeddingModel(e.model)
	out := make([][]float32, 0, len(texts))

	for start := 0; start < len(texts); start += e.batchSize {
		end := start + e.batchSize
		if end > len(texts) {
			end = len(texts)
		}

		batch := em.NewBatch()
		for _, t := range texts[start:end] {
			batch.AddContent(genai.Text(t))
		}

		slog.DebugContext(ctx, "embedding batch", "model", e.model, "size", end-start)
		res, err := em.BatchEmbedContents(ctx, batch)
		if err != nil {
			slog.ErrorContext(ctx, "embedding provider call failed", "error", err, "model", e.model)
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		if len(res.Embeddings) != end-start {
			return nil, fmt.Errorf("embedding provider returned %d vectors for %d inputs", len(res.Embeddings), end-start)
		}

		for _, emb := range res.Embeddings {
			if emb == nil || len(emb.Values) == 0 {
				return nil, fmt.Errorf("embedding provider returned an empty vector")
			}
			if e.dimension > 0 && len(emb.Values) != e.dimension {
				return nil, fmt.Errorf("%w: provider returned %d, expected %d",
					vector.ErrDimensionMismatch, len(emb.Values), e.dimension)
			}
			out = append(out, emb.Values)
		}
	}
	return out, nil
}
