package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/nsqio/go-nsq"

	"civicdocs/backend/features/document"
	"civicdocs/backend/internal/middleware"
)

type Ingestor interface {
	Ingest(ctx context.Context, path string, meta document.Metadata) (*document.Document, error)
	Reprocess(ctx context.Context, id string) error
}

// IngestConsumer drains ingest tasks published by the API. Failures are
// recorded on the document row, so messages are never requeued: a poison
// message retried forever would starve the topic.
type IngestConsumer struct {
	ingestor Ingestor
}

func NewIngestConsumer(ingestor Ingestor) *IngestConsumer {
	return &IngestConsumer{ingestor: ingestor}
}

func (h *IngestConsumer) HandleMessage(m *nsq.Message) error {
	if len(m.Body) == 0 {
		return nil
	}

	var task document.IngestTask
	if err := json.Unmarshal(m.Body, &task); err != nil {
		slog.Error("discarding malformed ingest task", "error", err)
		return nil
	}

	correlationID := task.CorrelationID
	if correlationID == "" {
		correlationID = uuid.New().String()
	}
	ctx := middleware.WithCorrelationID(context.Background(), correlationID)

	if task.Path == "" {
		slog.ErrorContext(ctx, "discarding ingest task without path")
		return nil
	}

	doc, err := h.ingestor.Ingest(ctx, task.Path, task.Metadata)
	if err != nil {
		if errors.Is(err, document.ErrAlreadyProcessing) {
			slog.WarnContext(ctx, "ingest task skipped, document busy", "path", task.Path)
			return nil
		}
		slog.ErrorContext(ctx, "ingest task failed", "error", err, "path", task.Path)
		return nil
	}

	slog.InfoContext(ctx, "ingest task completed", "document_id", doc.ID, "chunks", doc.ChunkCount)
	return nil
}

// ReprocessConsumer drains reprocess tasks published by the API, with the
// same never-requeue contract as the ingest consumer.
type ReprocessConsumer struct {
	ingestor Ingestor
}

func NewReprocessConsumer(ingestor Ingestor) *ReprocessConsumer {
	return &ReprocessConsumer{ingestor: ingestor}
}

func (h *ReprocessConsumer) HandleMessage(m *nsq.Message) error {
	if len(m.Body) == 0 {
		return nil
	}

	var task document.ReprocessTask
	if err := json.Unmarshal(m.Body, &task); err != nil {
		slog.Error("discarding malformed reprocess task", "error", err)
		return nil
	}

	correlationID := task.CorrelationID
	if correlationID == "" {
		correlationID = uuid.New().String()
	}
	ctx := middleware.WithCorrelationID(context.Background(), correlationID)

	if task.DocumentID == "" {
		slog.ErrorContext(ctx, "discarding reprocess task without document id")
		return nil
	}

	if err := h.ingestor.Reprocess(ctx, task.DocumentID); err != nil {
		slog.ErrorContext(ctx, "reprocess task failed", "error", err, "document_id", task.DocumentID)
		return nil
	}

	slog.InfoContext(ctx, "reprocess task completed", "document_id", task.DocumentID)
	return nil
}
