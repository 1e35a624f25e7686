package document

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"civicdocs/backend/internal/middleware"
)

type Handler struct {
	service   *Service
	uploadDir string
	maxUpload int64
	async     bool
}

func NewHandler(service *Service, uploadDir string, maxUploadMB int, async bool) *Handler {
	if maxUploadMB <= 0 {
		maxUploadMB = 50
	}
	return &Handler{
		service:   service,
		uploadDir: uploadDir,
		maxUpload: int64(maxUploadMB) << 20,
		async:     async,
	}
}

// Create accepts a multipart upload and runs it through the pipeline, or
// enqueues it when async ingestion is enabled.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		h.writeError(r.Context(), w, "BAD_REQUEST", "File too large", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		h.writeError(r.Context(), w, "BAD_REQUEST", "Unable to retrieve file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	validExts := map[string]bool{
		".pdf": true, ".docx": true, ".doc": true, ".txt": true, ".md": true, ".csv": true, ".json": true,
	}
	if !validExts[ext] {
		h.writeError(r.Context(), w, "BAD_REQUEST", "Unsupported file type", http.StatusBadRequest)
		return
	}

	meta, err := parseMetadata(r, header.Filename)
	if err != nil {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}

	if err := os.MkdirAll(h.uploadDir, 0o750); err != nil {
		slog.Error("failed to create upload directory", "error", err, "path", filepath.Clean(h.uploadDir))
		h.writeError(r.Context(), w, "INTERNAL_ERROR", "Failed to create upload directory", http.StatusInternalServerError)
		return
	}

	filename := fmt.Sprintf("%s_%s", uuid.New().String(), filepath.Base(header.Filename))
	path := filepath.Clean(filepath.Join(h.uploadDir, filename))

	dst, err := os.Create(path) // #nosec G304 -- path is constructed from UUID + sanitized basename, not user-controlled
	if err != nil {
		slog.Error("failed to create file", "error", err, "path", path)
		h.writeError(r.Context(), w, "INTERNAL_ERROR", "Failed to save file", http.StatusInternalServerError)
		return
	}
	if _, err := io.Copy(dst, file); err != nil {
		dst.Close()
		h.writeError(r.Context(), w, "INTERNAL_ERROR", "Failed to write file", http.StatusInternalServerError)
		return
	}
	if err := dst.Close(); err != nil {
		h.writeError(r.Context(), w, "INTERNAL_ERROR", "Failed to write file", http.StatusInternalServerError)
		return
	}

	if h.async {
		if err := h.service.EnqueueIngest(r.Context(), path, meta); err != nil {
			h.writeError(r.Context(), w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		resp := map[string]interface{}{"data": map[string]string{"external_id": meta.ExternalID, "status": StatusPending}}
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			slog.Error("failed to encode response", "error", err)
		}
		return
	}

	doc, err := h.service.Ingest(r.Context(), path, meta)
	if err != nil {
		switch {
		case errors.Is(err, ErrAlreadyProcessing):
			h.writeError(r.Context(), w, "CONFLICT", err.Error(), http.StatusConflict)
		case errors.Is(err, ErrExtractionFailed) || errors.Is(err, ErrEmbeddingFailed):
			// The document row exists in failed state; surface it so the
			// caller can inspect processing_error.
			h.writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{"data": doc})
		default:
			slog.Error("ingestion failed", "error", err, "external_id", meta.ExternalID)
			h.writeError(r.Context(), w, "INTERNAL_ERROR", "Internal Server Error", http.StatusInternalServerError)
		}
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]interface{}{"data": doc})
}

func (h *Handler) Reprocess(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if h.async {
		if err := h.service.EnqueueReprocess(r.Context(), id); err != nil {
			if errors.Is(err, ErrNotFound) {
				h.writeError(r.Context(), w, "NOT_FOUND", "Document not found", http.StatusNotFound)
				return
			}
			h.writeError(r.Context(), w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
			return
		}
		h.writeJSON(w, http.StatusAccepted, map[string]interface{}{
			"data": map[string]string{"id": id, "status": StatusPending},
		})
		return
	}

	if err := h.service.Reprocess(r.Context(), id); err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			h.writeError(r.Context(), w, "NOT_FOUND", "Document not found", http.StatusNotFound)
		case errors.Is(err, ErrAlreadyProcessing):
			h.writeError(r.Context(), w, "CONFLICT", err.Error(), http.StatusConflict)
		default:
			h.writeError(r.Context(), w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
		}
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	docs, err := h.service.List(r.Context())
	if err != nil {
		h.writeError(r.Context(), w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
		return
	}
	if docs == nil {
		docs = []Document{}
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": docs,
		"meta": map[string]int{"count": len(docs)},
	})
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	doc, err := h.service.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			h.writeError(r.Context(), w, "NOT_FOUND", "Document not found", http.StatusNotFound)
			return
		}
		h.writeError(r.Context(), w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
		return
	}

	resp := map[string]interface{}{"data": doc}
	if r.URL.Query().Get("include_chunks") == "true" {
		chunks, err := h.service.GetChunks(r.Context(), id)
		if err != nil {
			h.writeError(r.Context(), w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
			return
		}
		if chunks == nil {
			chunks = []Chunk{}
		}
		resp["chunks"] = chunks
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.service.Delete(r.Context(), id); err != nil {
		if errors.Is(err, ErrNotFound) {
			h.writeError(r.Context(), w, "NOT_FOUND", "Document not found", http.StatusNotFound)
			return
		}
		h.writeError(r.Context(), w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) DeleteChunks(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.service.DeleteChunks(r.Context(), id); err != nil {
		if errors.Is(err, ErrNotFound) {
			h.writeError(r.Context(), w, "NOT_FOUND", "Document not found", http.StatusNotFound)
			return
		}
		h.writeError(r.Context(), w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) Reindex(w http.ResponseWriter, r *http.Request) {
	n, err := h.service.Reindex(r.Context())
	if err != nil {
		h.writeError(r.Context(), w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"data": map[string]int{"reindexed": n}})
}

func parseMetadata(r *http.Request, filename string) (Metadata, error) {
	meta := Metadata{
		ExternalID:   r.FormValue("external_id"),
		Title:        r.FormValue("title"),
		DocumentType: r.FormValue("document_type"),
		Category:     r.FormValue("category"),
		IsPublic:     r.FormValue("is_public") == "true",
		UploaderID:   r.FormValue("uploader_id"),
	}
	if meta.ExternalID == "" {
		meta.ExternalID = filepath.Base(filename)
	}
	if meta.Title == "" {
		meta.Title = strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	}
	if tags := r.FormValue("tags"); tags != "" {
		for _, t := range strings.Split(tags, ",") {
			if t = strings.TrimSpace(t); t != "" {
				meta.Tags = append(meta.Tags, t)
			}
		}
	}

	var err error
	if meta.SourceDate, err = parseDate(r.FormValue("source_date")); err != nil {
		return meta, fmt.Errorf("invalid source_date: %w", err)
	}
	if meta.EffectiveDate, err = parseDate(r.FormValue("effective_date")); err != nil {
		return meta, fmt.Errorf("invalid effective_date: %w", err)
	}
	if meta.ExpirationDate, err = parseDate(r.FormValue("expiration_date")); err != nil {
		return meta, fmt.Errorf("invalid expiration_date: %w", err)
	}
	return meta, nil
}

func parseDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}
