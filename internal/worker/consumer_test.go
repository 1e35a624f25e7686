package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/nsqio/go-nsq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"civicdocs/backend/features/document"
	"civicdocs/backend/internal/middleware"
)

type mockIngestor struct{ mock.Mock }

func (m *mockIngestor) Ingest(ctx context.Context, path string, meta document.Metadata) (*document.Document, error) {
	args := m.Called(ctx, path, meta)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*document.Document), args.Error(1)
}

func (m *mockIngestor) Reprocess(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func nsqMessage(t *testing.T, payload any) *nsq.Message {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	return nsq.NewMessage(nsq.MessageID{}, body)
}

func TestIngestConsumerProcessesTask(t *testing.T) {
	ing := &mockIngestor{}
	ing.On("Ingest", mock.Anything, "/uploads/f.pdf", document.Metadata{ExternalID: "ext-1"}).
		Return(&document.Document{ID: "id-1", ChunkCount: 2}, nil)

	h := NewIngestConsumer(ing)
	err := h.HandleMessage(nsqMessage(t, document.IngestTask{
		Path:     "/uploads/f.pdf",
		Metadata: document.Metadata{ExternalID: "ext-1"},
	}))

	require.NoError(t, err)
	ing.AssertExpectations(t)
}

func TestIngestConsumerPropagatesCorrelationID(t *testing.T) {
	ing := &mockIngestor{}
	ing.On("Ingest", mock.MatchedBy(func(ctx context.Context) bool {
		return middleware.GetCorrelationID(ctx) == "corr-42"
	}), mock.Anything, mock.Anything).Return(&document.Document{ID: "id-1"}, nil)

	h := NewIngestConsumer(ing)
	require.NoError(t, h.HandleMessage(nsqMessage(t, document.IngestTask{
		Path:          "/uploads/f.pdf",
		CorrelationID: "corr-42",
	})))
	ing.AssertExpectations(t)
}

func TestIngestConsumerSwallowsFailures(t *testing.T) {
	// A failure is recorded on the document row; requeueing would retry a
	// task that will fail the same way.
	ing := &mockIngestor{}
	ing.On("Ingest", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("extraction failed"))

	h := NewIngestConsumer(ing)
	assert.NoError(t, h.HandleMessage(nsqMessage(t, document.IngestTask{Path: "/uploads/bad.pdf"})))
}

func TestIngestConsumerDiscardsPoisonMessages(t *testing.T) {
	ing := &mockIngestor{}
	h := NewIngestConsumer(ing)

	assert.NoError(t, h.HandleMessage(nsq.NewMessage(nsq.MessageID{}, []byte("not json"))))
	assert.NoError(t, h.HandleMessage(nsq.NewMessage(nsq.MessageID{}, nil)))
	assert.NoError(t, h.HandleMessage(nsqMessage(t, document.IngestTask{})))
	ing.AssertNotCalled(t, "Ingest", mock.Anything, mock.Anything, mock.Anything)
}

func TestReprocessConsumerProcessesTask(t *testing.T) {
	ing := &mockIngestor{}
	ing.On("Reprocess", mock.Anything, "id-1").Return(nil)

	h := NewReprocessConsumer(ing)
	require.NoError(t, h.HandleMessage(nsqMessage(t, document.ReprocessTask{DocumentID: "id-1"})))
	ing.AssertExpectations(t)
}

func TestReprocessConsumerSwallowsFailures(t *testing.T) {
	ing := &mockIngestor{}
	ing.On("Reprocess", mock.Anything, "id-1").Return(document.ErrAlreadyProcessing)

	h := NewReprocessConsumer(ing)
	assert.NoError(t, h.HandleMessage(nsqMessage(t, document.ReprocessTask{DocumentID: "id-1"})))
}
