package document

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"civicdocs/backend/internal/extract"
)

func multipartUpload(t *testing.T, filename, content string, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	fw, err := w.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	require.NoError(t, w.Close())
	return body, w.FormDataContentType()
}

func newTestMux(h *Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /documents", h.Create)
	mux.HandleFunc("GET /documents", h.List)
	mux.HandleFunc("GET /documents/{id}", h.Get)
	mux.HandleFunc("DELETE /documents/{id}", h.Delete)
	mux.HandleFunc("POST /documents/{id}/reprocess", h.Reprocess)
	mux.HandleFunc("DELETE /documents/{id}/chunks", h.DeleteChunks)
	return mux
}

func TestHandlerCreateIngestsUpload(t *testing.T) {
	repo := &mockRepo{}
	ext := &mockExtractor{}
	emb := &mockEmbedder{}
	store := &mockStore{}

	repo.On("GetByExternalID", mock.Anything, "notes.txt").Return(nil, ErrNotFound)
	repo.On("Create", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		args.Get(1).(*Document).ID = "id-1"
	}).Return(nil)
	repo.On("MarkProcessing", mock.Anything, "id-1").Return(true, nil)
	store.On("DeleteByDocument", mock.Anything, "id-1").Return(nil)
	repo.On("DeleteChunks", mock.Anything, "id-1").Return(nil)
	ext.On("Extract", mock.Anything, "txt").Return(extract.Result{Text: "meeting notes", PageCount: 1}, nil)
	emb.On("EmbedBatch", mock.Anything, mock.Anything).Return(embeddings(1), nil)
	store.On("Add", mock.Anything, mock.Anything).Return(nil)
	repo.On("CompleteWithChunks", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	svc := newTestService(repo, ext, emb, store)
	h := NewHandler(svc, t.TempDir(), 50, false)

	body, contentType := multipartUpload(t, "notes.txt", "meeting notes", map[string]string{
		"document_type": "minutes",
	})
	req := httptest.NewRequest(http.MethodPost, "/documents", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	newTestMux(h).ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)

	var resp struct {
		Data Document `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, StatusCompleted, resp.Data.Status)
	assert.Equal(t, "notes.txt", resp.Data.ExternalID)
}

func TestHandlerCreateRejectsUnsupportedExtension(t *testing.T) {
	h := NewHandler(newTestService(&mockRepo{}, &mockExtractor{}, &mockEmbedder{}, &mockStore{}), t.TempDir(), 50, false)

	body, contentType := multipartUpload(t, "image.png", "not a document", nil)
	req := httptest.NewRequest(http.MethodPost, "/documents", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	newTestMux(h).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "BAD_REQUEST")
}

func TestHandlerCreateSurfacesFailedDocument(t *testing.T) {
	repo := &mockRepo{}
	ext := &mockExtractor{}
	store := &mockStore{}

	repo.On("GetByExternalID", mock.Anything, mock.Anything).Return(nil, ErrNotFound)
	repo.On("Create", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		args.Get(1).(*Document).ID = "id-1"
	}).Return(nil)
	repo.On("MarkProcessing", mock.Anything, "id-1").Return(true, nil)
	store.On("DeleteByDocument", mock.Anything, "id-1").Return(nil)
	repo.On("DeleteChunks", mock.Anything, "id-1").Return(nil)
	ext.On("Extract", mock.Anything, mock.Anything).Return(extract.Result{}, extract.ErrNoText)
	repo.On("Fail", mock.Anything, "id-1", mock.Anything).Return(nil)

	h := NewHandler(newTestService(repo, ext, &mockEmbedder{}, store), t.TempDir(), 50, false)

	body, contentType := multipartUpload(t, "scan.pdf", "binary junk", nil)
	req := httptest.NewRequest(http.MethodPost, "/documents", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	newTestMux(h).ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var resp struct {
		Data Document `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, StatusFailed, resp.Data.Status)
	assert.NotEmpty(t, resp.Data.ProcessingError)
}

func TestHandlerCreateAsyncEnqueues(t *testing.T) {
	pub := &mockPublisher{}
	pub.On("Publish", "docs.ingest", mock.Anything).Return(nil)

	svc := NewService(&mockRepo{}, &mockExtractor{}, nil, &mockEmbedder{}, &mockStore{}, pub, Options{})
	h := NewHandler(svc, t.TempDir(), 50, true)

	body, contentType := multipartUpload(t, "report.pdf", "pdf bytes", nil)
	req := httptest.NewRequest(http.MethodPost, "/documents", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	newTestMux(h).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	pub.AssertExpectations(t)
}

func TestHandlerGetNotFound(t *testing.T) {
	repo := &mockRepo{}
	repo.On("Get", mock.Anything, "missing").Return(nil, ErrNotFound)

	h := NewHandler(newTestService(repo, &mockExtractor{}, &mockEmbedder{}, &mockStore{}), t.TempDir(), 50, false)

	req := httptest.NewRequest(http.MethodGet, "/documents/missing", nil)
	rec := httptest.NewRecorder()
	newTestMux(h).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "NOT_FOUND")
}

func TestHandlerGetIncludesChunks(t *testing.T) {
	repo := &mockRepo{}
	repo.On("Get", mock.Anything, "id-1").Return(&Document{ID: "id-1", Status: StatusCompleted}, nil)
	repo.On("GetChunks", mock.Anything, "id-1").Return([]Chunk{{ID: "c-0", Content: "text"}}, nil)

	h := NewHandler(newTestService(repo, &mockExtractor{}, &mockEmbedder{}, &mockStore{}), t.TempDir(), 50, false)

	req := httptest.NewRequest(http.MethodGet, "/documents/id-1?include_chunks=true", nil)
	rec := httptest.NewRecorder()
	newTestMux(h).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"chunks"`)
}

func TestHandlerListReturnsEmptyArray(t *testing.T) {
	repo := &mockRepo{}
	repo.On("List", mock.Anything).Return([]Document(nil), nil)

	h := NewHandler(newTestService(repo, &mockExtractor{}, &mockEmbedder{}, &mockStore{}), t.TempDir(), 50, false)

	req := httptest.NewRequest(http.MethodGet, "/documents", nil)
	rec := httptest.NewRecorder()
	newTestMux(h).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"data":[]`)
}

func TestHandlerReprocessConflict(t *testing.T) {
	repo := &mockRepo{}
	repo.On("Get", mock.Anything, "id-1").Return(&Document{ID: "id-1", RawText: "cached", Status: StatusCompleted}, nil)
	repo.On("MarkProcessing", mock.Anything, "id-1").Return(false, nil)

	h := NewHandler(newTestService(repo, &mockExtractor{}, &mockEmbedder{}, &mockStore{}), t.TempDir(), 50, false)

	req := httptest.NewRequest(http.MethodPost, "/documents/id-1/reprocess", nil)
	rec := httptest.NewRecorder()
	newTestMux(h).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandlerReprocessAsyncEnqueues(t *testing.T) {
	repo := &mockRepo{}
	repo.On("Get", mock.Anything, "id-1").Return(&Document{ID: "id-1", Status: StatusCompleted}, nil)

	pub := &mockPublisher{}
	pub.On("Publish", "docs.reprocess", mock.Anything).Return(nil)

	svc := NewService(repo, &mockExtractor{}, nil, &mockEmbedder{}, &mockStore{}, pub, Options{})
	h := NewHandler(svc, t.TempDir(), 50, true)

	req := httptest.NewRequest(http.MethodPost, "/documents/id-1/reprocess", nil)
	rec := httptest.NewRecorder()
	newTestMux(h).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	pub.AssertExpectations(t)
}

func TestHandlerDeleteChunksNotFound(t *testing.T) {
	repo := &mockRepo{}
	repo.On("Get", mock.Anything, "missing").Return(nil, ErrNotFound)

	h := NewHandler(newTestService(repo, &mockExtractor{}, &mockEmbedder{}, &mockStore{}), t.TempDir(), 50, false)

	req := httptest.NewRequest(http.MethodDelete, "/documents/missing/chunks", nil)
	rec := httptest.NewRecorder()
	newTestMux(h).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
