package document

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"civicdocs/backend/internal/config"
	"civicdocs/backend/internal/extract"
	"civicdocs/backend/internal/middleware"
	"civicdocs/backend/internal/text"
	"civicdocs/backend/internal/vector"
)

const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

var (
	ErrNotFound          = errors.New("document not found")
	ErrAlreadyProcessing = errors.New("document is already being processed")
	ErrExtractionFailed  = errors.New("document extraction failed")
	ErrEmbeddingFailed   = errors.New("embedding generation failed")
)

// Document is the relational record for one ingested source file. Status
// flips atomically with its chunk set: readers never observe a completed
// document whose chunks are still being written.
type Document struct {
	ID              string     `json:"id"`
	ExternalID      string     `json:"external_id"`
	Title           string     `json:"title"`
	SourcePath      string     `json:"source_path,omitempty"`
	ContentHash     string     `json:"-"`
	DocumentType    string     `json:"document_type"`
	Category        string     `json:"category"`
	Tags            []string   `json:"tags"`
	SourceDate      *time.Time `json:"source_date,omitempty"`
	EffectiveDate   *time.Time `json:"effective_date,omitempty"`
	ExpirationDate  *time.Time `json:"expiration_date,omitempty"`
	IsPublic        bool       `json:"is_public"`
	UploaderID      string     `json:"uploader_id,omitempty"`
	Status          string     `json:"status"`
	ProcessingError string     `json:"processing_error,omitempty"`
	ChunkCount      int        `json:"chunk_count"`
	WordCount       int        `json:"word_count"`
	PageCount       int        `json:"page_count"`
	RawText         string     `json:"-"`
	EmbeddingModel  string     `json:"embedding_model,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Chunk is one indexed slice of a document. Its embedding vector is derived
// state living in the vector index under ChunkID(DocumentID, Index).
type Chunk struct {
	ID             string  `json:"id"`
	DocumentID     string  `json:"document_id"`
	Index          int     `json:"index"`
	Content        string  `json:"content"`
	StartChar      int     `json:"start_char"`
	EndChar        int     `json:"end_char"`
	StartPage      int     `json:"start_page"`
	EndPage        int     `json:"end_page"`
	WordCount      int     `json:"word_count"`
	SentenceCount  int     `json:"sentence_count"`
	EmbeddingModel string  `json:"embedding_model,omitempty"`
	SectionTitle   string  `json:"section_title,omitempty"`
	SectionType    string  `json:"section_type,omitempty"`
	Coherence      float64 `json:"coherence_score,omitempty"`
	Importance     float64 `json:"importance_score,omitempty"`
}

// Metadata is the caller-supplied descriptor for an ingest request.
type Metadata struct {
	ExternalID     string     `json:"external_id"`
	Title          string     `json:"title"`
	DocumentType   string     `json:"document_type"`
	Category       string     `json:"category"`
	Tags           []string   `json:"tags"`
	SourceDate     *time.Time `json:"source_date,omitempty"`
	EffectiveDate  *time.Time `json:"effective_date,omitempty"`
	ExpirationDate *time.Time `json:"expiration_date,omitempty"`
	IsPublic       bool       `json:"is_public"`
	UploaderID     string     `json:"uploader_id,omitempty"`
}

type Repository interface {
	Create(ctx context.Context, doc *Document) error
	UpdateMetadata(ctx context.Context, doc *Document) error
	Get(ctx context.Context, id string) (*Document, error)
	GetByExternalID(ctx context.Context, externalID string) (*Document, error)
	List(ctx context.Context) ([]Document, error)
	ListByStatus(ctx context.Context, status string) ([]Document, error)
	Delete(ctx context.Context, id string) error

	// MarkProcessing flips status to processing unless it already is,
	// which is the per-document serialization guard.
	MarkProcessing(ctx context.Context, id string) (bool, error)
	Fail(ctx context.Context, id, reason string) error

	// CompleteWithChunks replaces the document's chunk set and marks it
	// completed in a single transaction.
	CompleteWithChunks(ctx context.Context, doc *Document, chunks []Chunk) error

	GetChunks(ctx context.Context, documentID string) ([]Chunk, error)
	DeleteChunks(ctx context.Context, documentID string) error
}

type Extractor interface {
	Extract(blob []byte, format string) (extract.Result, error)
}

type Chunker interface {
	Chunk(text string, maxTokens, overlapTokens int) []text.Piece
}

type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

type EventPublisher interface {
	Publish(topic string, body []byte) error
}

type Options struct {
	MaxTokens      int
	OverlapTokens  int
	EmbeddingModel string
}

// Service orchestrates the ingestion pipeline: extract, normalize, chunk,
// embed, index, and the document status protocol around it.
type Service struct {
	repo      Repository
	extractor Extractor
	chunker   Chunker
	embedder  Embedder
	store     vector.Store
	pub       EventPublisher
	opts      Options
}

func NewService(repo Repository, extractor Extractor, chunker Chunker, embedder Embedder, store vector.Store, pub EventPublisher, opts Options) *Service {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 512
	}
	if opts.OverlapTokens < 0 {
		opts.OverlapTokens = 0
	}
	return &Service{
		repo:      repo,
		extractor: extractor,
		chunker:   chunker,
		embedder:  embedder,
		store:     store,
		pub:       pub,
		opts:      opts,
	}
}

// Ingest reads the file at path and runs it through the full pipeline.
// Ingesting the same external id twice updates the existing document; a
// byte-identical re-upload of a completed document is a no-op.
func (s *Service) Ingest(ctx context.Context, path string, meta Metadata) (*Document, error) {
	blob, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}

	hash := fmt.Sprintf("%x", sha256.Sum256(blob))
	externalID := meta.ExternalID
	if externalID == "" {
		externalID = filepath.Base(path)
	}

	doc := &Document{
		ExternalID:     externalID,
		Title:          meta.Title,
		SourcePath:     path,
		ContentHash:    hash,
		DocumentType:   meta.DocumentType,
		Category:       meta.Category,
		Tags:           meta.Tags,
		SourceDate:     meta.SourceDate,
		EffectiveDate:  meta.EffectiveDate,
		ExpirationDate: meta.ExpirationDate,
		IsPublic:       meta.IsPublic,
		UploaderID:     meta.UploaderID,
		Status:         StatusPending,
	}

	existing, err := s.repo.GetByExternalID(ctx, externalID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	switch {
	case existing == nil:
		if err := s.repo.Create(ctx, doc); err != nil {
			return nil, err
		}
	case existing.Status == StatusProcessing:
		return nil, ErrAlreadyProcessing
	case existing.ContentHash == hash && existing.Status == StatusCompleted:
		slog.InfoContext(ctx, "duplicate upload, content unchanged", "document_id", existing.ID, "external_id", externalID)
		return existing, nil
	default:
		doc.ID = existing.ID
		if err := s.repo.UpdateMetadata(ctx, doc); err != nil {
			return nil, err
		}
	}

	if err := s.process(ctx, doc, blob, extract.FormatFromPath(path)); err != nil {
		return doc, err
	}
	return doc, nil
}

// Reprocess re-runs the full pipeline for an existing document, replacing
// its entire chunk set. Raced calls lose to the processing guard instead of
// interleaving delete/insert phases.
func (s *Service) Reprocess(ctx context.Context, id string) error {
	doc, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}

	format := extract.FormatFromPath(doc.SourcePath)
	blob, err := os.ReadFile(filepath.Clean(doc.SourcePath))
	if err != nil {
		// Source file gone: fall back to the cached text extracted at
		// first ingest.
		if doc.RawText == "" {
			return fmt.Errorf("source file unavailable and no cached text: %w", err)
		}
		blob = []byte(doc.RawText)
		format = "txt"
	}

	return s.process(ctx, doc, blob, format)
}

// process runs extraction through indexing under the document status
// machine. Every early return on a failure path leaves the document failed
// with the captured error, never completed and never half-indexed.
func (s *Service) process(ctx context.Context, doc *Document, blob []byte, format string) error {
	ok, err := s.repo.MarkProcessing(ctx, doc.ID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrAlreadyProcessing
	}

	// Drop the previous chunk generation before extraction so a failed run
	// cannot leave two overlapping generations behind.
	if err := s.store.DeleteByDocument(ctx, doc.ID); err != nil {
		s.failDoc(ctx, doc, fmt.Sprintf("clearing old index entries: %v", err))
		return err
	}
	if err := s.repo.DeleteChunks(ctx, doc.ID); err != nil {
		s.failDoc(ctx, doc, fmt.Sprintf("clearing old chunks: %v", err))
		return err
	}

	res, err := s.extractor.Extract(blob, format)
	if err != nil {
		s.failDoc(ctx, doc, fmt.Sprintf("extraction: %v", err))
		return fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}

	normalized := text.Normalize(res.Text)
	pieces := s.chunker.Chunk(normalized, s.opts.MaxTokens, s.opts.OverlapTokens)
	if len(pieces) == 0 {
		s.failDoc(ctx, doc, "no chunks produced from extracted text")
		return fmt.Errorf("%w: empty after normalization", ErrExtractionFailed)
	}

	contents := make([]string, len(pieces))
	for i, p := range pieces {
		contents[i] = p.Content
	}
	vectors, err := s.embedder.EmbedBatch(ctx, contents)
	if err != nil {
		s.failDoc(ctx, doc, fmt.Sprintf("embedding: %v", err))
		return fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	if len(vectors) != len(pieces) {
		s.failDoc(ctx, doc, fmt.Sprintf("embedding: got %d vectors for %d chunks", len(vectors), len(pieces)))
		return fmt.Errorf("%w: partial embedding set", ErrEmbeddingFailed)
	}

	chunks := make([]Chunk, len(pieces))
	entries := make([]vector.Entry, len(pieces))
	for i, p := range pieces {
		chunks[i] = Chunk{
			DocumentID:     doc.ID,
			Index:          p.Index,
			Content:        p.Content,
			StartChar:      p.StartChar,
			EndChar:        p.EndChar,
			StartPage:      pageAt(p.StartChar, len(normalized), res.PageCount),
			EndPage:        pageAt(p.EndChar, len(normalized), res.PageCount),
			WordCount:      p.WordCount,
			SentenceCount:  text.SentenceCount(p.Content),
			EmbeddingModel: s.opts.EmbeddingModel,
		}
		entries[i] = vector.Entry{
			ID:     vector.ChunkID(doc.ID, p.Index),
			Vector: vectors[i],
			Metadata: vector.Metadata{
				DocumentID:   doc.ID,
				ChunkIndex:   p.Index,
				Content:      p.Content,
				DocumentType: doc.DocumentType,
				Category:     doc.Category,
				WordCount:    p.WordCount,
			},
		}
	}

	if err := s.store.Add(ctx, entries); err != nil {
		s.failDoc(ctx, doc, fmt.Sprintf("index write: %v", err))
		return err
	}

	doc.RawText = normalized
	doc.WordCount = wordTotal(normalized)
	doc.PageCount = res.PageCount
	doc.ChunkCount = len(chunks)
	doc.EmbeddingModel = s.opts.EmbeddingModel
	doc.Status = StatusCompleted

	if err := s.repo.CompleteWithChunks(ctx, doc, chunks); err != nil {
		// The relational side rolled back; remove the index side too so
		// neither store holds orphans.
		if derr := s.store.DeleteByDocument(ctx, doc.ID); derr != nil {
			slog.ErrorContext(ctx, "failed to roll back index entries", "error", derr, "document_id", doc.ID)
		}
		s.failDoc(ctx, doc, fmt.Sprintf("committing chunks: %v", err))
		return err
	}

	slog.InfoContext(ctx, "document processed", "document_id", doc.ID, "chunks", len(chunks), "method", res.Method)
	return nil
}

func (s *Service) failDoc(ctx context.Context, doc *Document, reason string) {
	doc.Status = StatusFailed
	doc.ProcessingError = reason
	if err := s.repo.Fail(ctx, doc.ID, reason); err != nil {
		slog.ErrorContext(ctx, "failed to record document failure", "error", err, "document_id", doc.ID)
	}
}

func (s *Service) Get(ctx context.Context, id string) (*Document, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context) ([]Document, error) {
	return s.repo.List(ctx)
}

func (s *Service) GetChunks(ctx context.Context, id string) ([]Chunk, error) {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.GetChunks(ctx, id)
}

// Delete removes the document, its chunk rows (cascade), and its index
// entries.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.DeleteByDocument(ctx, id); err != nil {
		return err
	}
	return s.repo.Delete(ctx, id)
}

// DeleteChunks drops the chunk set and index entries but keeps the document
// row, with its chunk count reset.
func (s *Service) DeleteChunks(ctx context.Context, id string) error {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return err
	}
	if err := s.store.DeleteByDocument(ctx, id); err != nil {
		return err
	}
	return s.repo.DeleteChunks(ctx, id)
}

// Reindex replays every completed document's chunk rows into the active
// vector index, re-embedding the stored contents. Deleting the flat
// backend's sidecar files plus a Reindex is the supported full rebuild.
func (s *Service) Reindex(ctx context.Context) (int, error) {
	docs, err := s.repo.ListByStatus(ctx, StatusCompleted)
	if err != nil {
		return 0, err
	}

	indexed := 0
	for i := range docs {
		doc := &docs[i]
		chunks, err := s.repo.GetChunks(ctx, doc.ID)
		if err != nil {
			slog.ErrorContext(ctx, "reindex: failed to load chunks", "error", err, "document_id", doc.ID)
			continue
		}
		if len(chunks) == 0 {
			continue
		}

		contents := make([]string, len(chunks))
		for j, c := range chunks {
			contents[j] = c.Content
		}
		vectors, err := s.embedder.EmbedBatch(ctx, contents)
		if err != nil || len(vectors) != len(chunks) {
			slog.ErrorContext(ctx, "reindex: embedding failed", "error", err, "document_id", doc.ID)
			continue
		}

		entries := make([]vector.Entry, len(chunks))
		for j, c := range chunks {
			entries[j] = vector.Entry{
				ID:     vector.ChunkID(doc.ID, c.Index),
				Vector: vectors[j],
				Metadata: vector.Metadata{
					DocumentID:   doc.ID,
					ChunkIndex:   c.Index,
					Content:      c.Content,
					DocumentType: doc.DocumentType,
					Category:     doc.Category,
					WordCount:    c.WordCount,
				},
			}
		}

		if err := s.store.DeleteByDocument(ctx, doc.ID); err != nil {
			slog.ErrorContext(ctx, "reindex: failed to clear entries", "error", err, "document_id", doc.ID)
			continue
		}
		if err := s.store.Add(ctx, entries); err != nil {
			slog.ErrorContext(ctx, "reindex: index write failed", "error", err, "document_id", doc.ID)
			continue
		}
		indexed++
	}
	return indexed, nil
}

// IngestTask is the payload for asynchronous ingestion over NSQ.
type IngestTask struct {
	Path          string   `json:"path"`
	Metadata      Metadata `json:"metadata"`
	CorrelationID string   `json:"correlation_id,omitempty"`
}

// EnqueueIngest publishes an ingest task instead of processing inline.
func (s *Service) EnqueueIngest(ctx context.Context, path string, meta Metadata) error {
	if s.pub == nil {
		return errors.New("async ingestion not configured")
	}
	payload, err := json.Marshal(IngestTask{
		Path:          path,
		Metadata:      meta,
		CorrelationID: middleware.GetCorrelationID(ctx),
	})
	if err != nil {
		return err
	}
	if err := s.pub.Publish(config.TopicIngest, payload); err != nil {
		slog.ErrorContext(ctx, "failed to publish ingest task", "error", err, "path", path)
		return err
	}
	slog.InfoContext(ctx, "published ingest task", "path", path, "external_id", meta.ExternalID)
	return nil
}

// ReprocessTask is the payload for asynchronous reprocessing over NSQ.
type ReprocessTask struct {
	DocumentID    string `json:"document_id"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// EnqueueReprocess publishes a reprocess task instead of running the
// pipeline inline. The document is looked up first so callers can report
// a missing id before the task is accepted.
func (s *Service) EnqueueReprocess(ctx context.Context, id string) error {
	if s.pub == nil {
		return errors.New("async ingestion not configured")
	}
	if _, err := s.repo.Get(ctx, id); err != nil {
		return err
	}
	payload, err := json.Marshal(ReprocessTask{
		DocumentID:    id,
		CorrelationID: middleware.GetCorrelationID(ctx),
	})
	if err != nil {
		return err
	}
	if err := s.pub.Publish(config.TopicReprocess, payload); err != nil {
		slog.ErrorContext(ctx, "failed to publish reprocess task", "error", err, "document_id", id)
		return err
	}
	slog.InfoContext(ctx, "published reprocess task", "document_id", id)
	return nil
}

func pageAt(pos, textLen, pageCount int) int {
	if textLen <= 0 || pageCount <= 0 {
		return 1
	}
	page := pos*pageCount/textLen + 1
	if page > pageCount {
		page = pageCount
	}
	return page
}

func wordTotal(s string) int {
	n := 0
	inWord := false
	for i := 0; i < len(s); i++ {
		sp := s[i] == ' ' || s[i] == '\n' || s[i] == '\t'
		if !sp && !inWord {
			n++
		}
		inWord = !sp
	}
	return n
}
