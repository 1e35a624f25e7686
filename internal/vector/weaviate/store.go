// Package weaviate is the server-hosted vector index backend. Storage and
// nearest-neighbor search are delegated to a Weaviate collection; deletion
// is physical.
package weaviate

import (
	"context"
	"fmt"

	"github.com/go-openapi/strfmt"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"civicdocs/backend/internal/vector"
)

const className = "DocumentChunk"

type Store struct {
	client *weaviate.Client
}

func NewStore(client *weaviate.Client) *Store {
	return &Store{client: client}
}

func (s *Store) Add(ctx context.Context, entries []vector.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	objects := make([]*models.Object, 0, len(entries))
	for _, e := range entries {
		v := vector.Normalize(append([]float32(nil), e.Vector...))
		objects = append(objects, &models.Object{
			Class: className,
			ID:    strfmt.UUID(e.ID),
			Properties: map[string]interface{}{
				"content":      e.Metadata.Content,
				"documentId":   e.Metadata.DocumentID,
				"chunkIndex":   e.Metadata.ChunkIndex,
				"documentType": e.Metadata.DocumentType,
				"category":     e.Metadata.Category,
				"wordCount":    e.Metadata.WordCount,
			},
			Vector: v,
		})
	}

	resp, err := s.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", vector.ErrIndexWrite, err)
	}
	for _, r := range resp {
		if r.Result != nil && r.Result.Errors != nil && len(r.Result.Errors.Error) > 0 {
			return fmt.Errorf("%w: %s", vector.ErrIndexWrite, r.Result.Errors.Error[0].Message)
		}
	}
	return nil
}

func (s *Store) Search(ctx context.Context, query []float32, topK int) ([]vector.Hit, error) {
	if topK <= 0 {
		topK = 10
	}

	q := vector.Normalize(append([]float32(nil), query...))
	nearVector := s.client.GraphQL().NearVectorArgBuilder().WithVector(q)

	fields := []graphql.Field{
		{Name: "content"},
		{Name: "documentId"},
		{Name: "chunkIndex"},
		{Name: "documentType"},
		{Name: "category"},
		{Name: "wordCount"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "id"}, {Name: "certainty"}}},
	}

	res, err := s.client.GraphQL().Get().
		WithClassName(className).
		WithNearVector(nearVector).
		WithLimit(topK).
		WithFields(fields...).
		Do(ctx)
	if err != nil {
		return nil, err
	}
	if len(res.Errors) > 0 {
		return nil, fmt.Errorf("graphql error: %v", res.Errors[0].Message)
	}

	var hits []vector.Hit
	data, ok := res.Data["Get"].(map[string]interface{})
	if !ok {
		return hits, nil
	}
	rows, ok := data[className].([]interface{})
	if !ok {
		return hits, nil
	}

	for _, row := range rows {
		props, ok := row.(map[string]interface{})
		if !ok {
			continue
		}
		hit := vector.Hit{}
		if content, ok := props["content"].(string); ok {
			hit.Content = content
			hit.Metadata.Content = content
		}
		if id, ok := props["documentId"].(string); ok {
			hit.Metadata.DocumentID = id
		}
		if idx, ok := props["chunkIndex"].(float64); ok {
			hit.Metadata.ChunkIndex = int(idx)
		}
		if dt, ok := props["documentType"].(string); ok {
			hit.Metadata.DocumentType = dt
		}
		if cat, ok := props["category"].(string); ok {
			hit.Metadata.Category = cat
		}
		if wc, ok := props["wordCount"].(float64); ok {
			hit.Metadata.WordCount = int(wc)
		}
		if additional, ok := props["_additional"].(map[string]interface{}); ok {
			if id, ok := additional["id"].(string); ok {
				hit.ID = id
			}
			if certainty, ok := additional["certainty"].(float64); ok {
				hit.Similarity = certaintyToCosine(certainty)
			}
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

func (s *Store) Delete(ctx context.Context, ids []string) error {
	for _, id := range ids {
		err := s.client.Data().Deleter().
			WithClassName(className).
			WithID(id).
			Do(ctx)
		if err != nil {
			return fmt.Errorf("%w: %v", vector.ErrIndexWrite, err)
		}
	}
	return nil
}

func (s *Store) DeleteByDocument(ctx context.Context, documentID string) error {
	_, err := s.client.Batch().ObjectsBatchDeleter().
		WithClassName(className).
		WithOutput("minimal").
		WithWhere(filters.Where().
			WithPath([]string{"documentId"}).
			WithOperator(filters.Equal).
			WithValueString(documentID)).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", vector.ErrIndexWrite, err)
	}
	return nil
}

// certaintyToCosine maps Weaviate's certainty ((cos+1)/2) back to plain
// cosine so both backends rank on the same [-1, 1] scale.
func certaintyToCosine(certainty float64) float32 {
	return float32(2*certainty - 1)
}
