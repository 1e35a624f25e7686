package vector

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"
)

var (
	// ErrDimensionMismatch means a vector's length does not match the
	// dimension the index was built with. This is a hard failure, never
	// silently reconciled.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrIndexWrite means the backend rejected an add or delete.
	ErrIndexWrite = errors.New("vector index write failed")
)

// Metadata is the payload stored next to each vector. It carries enough to
// render a search result without a join back to the relational store.
type Metadata struct {
	DocumentID   string `json:"document_id"`
	ChunkIndex   int    `json:"chunk_index"`
	Content      string `json:"content"`
	DocumentType string `json:"document_type,omitempty"`
	Category     string `json:"category,omitempty"`
	WordCount    int    `json:"word_count,omitempty"`

	// Deleted is the tombstone flag used by backends without physical
	// removal.
	Deleted bool `json:"deleted,omitempty"`
}

// Entry is one (vector, metadata) pair keyed by a deterministic id.
type Entry struct {
	ID       string
	Vector   []float32
	Metadata Metadata
}

// Hit is one ranked search result. Similarity is cosine in [-1, 1] for
// every backend.
type Hit struct {
	ID         string
	Content    string
	Metadata   Metadata
	Similarity float32
}

// Store is the backend-agnostic index contract. Callers hold this interface,
// never a concrete backend, so flat and server-hosted implementations are
// swappable at construction time.
type Store interface {
	Add(ctx context.Context, entries []Entry) error
	Search(ctx context.Context, query []float32, topK int) ([]Hit, error)
	Delete(ctx context.Context, ids []string) error
	DeleteByDocument(ctx context.Context, documentID string) error
}

var chunkNamespace = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

// ChunkID derives the deterministic index id for (document, chunk index).
// Both backends share it, and it doubles as a Weaviate-compatible object id.
func ChunkID(documentID string, chunkIndex int) string {
	return uuid.NewSHA1(chunkNamespace, []byte(fmt.Sprintf("%s:%d", documentID, chunkIndex))).String()
}

// Normalize scales v to unit length in place and returns it. A zero vector
// is returned unchanged.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	inv := 1 / math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) * inv)
	}
	return v
}

// Cosine computes cosine similarity assuming both vectors are unit length.
func Cosine(a, b []float32) float32 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
	}
	return float32(dot)
}
