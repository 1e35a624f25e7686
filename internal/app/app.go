package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"civicdocs/backend/features/document"
	"civicdocs/backend/internal/adapter/reranker"
	"civicdocs/backend/internal/config"
	"civicdocs/backend/internal/extract"
	"civicdocs/backend/internal/middleware"
	"civicdocs/backend/internal/retrieval"
	"civicdocs/backend/internal/text"
	"civicdocs/backend/internal/worker"
)

type App struct {
	Handler           http.Handler
	DocumentService   *document.Service
	IngestConsumer    *worker.IngestConsumer
	ReprocessConsumer *worker.ReprocessConsumer
	port              int
}

func New(cfg *config.Config, deps *Dependencies) (*App, error) {
	repo := document.NewPostgresRepo(deps.DB)
	chunker := text.NewChunker(text.NewTokenCounter(cfg.EmbeddingModel))

	var pub document.EventPublisher
	if deps.NSQProducer != nil {
		pub = deps.NSQProducer
	}

	docService := document.NewService(repo, extractorFunc{}, chunker, deps.Embedder, deps.VectorStore, pub, document.Options{
		MaxTokens:      cfg.ChunkMaxTokens,
		OverlapTokens:  cfg.ChunkOverlapTokens,
		EmbeddingModel: cfg.EmbeddingModel,
	})
	docHandler := document.NewHandler(docService, cfg.UploadDir, int(cfg.MaxUploadSizeMB), cfg.AsyncIngest)

	queryLogger, err := retrieval.NewFileQueryLogger(cfg.QueryLogPath)
	if err != nil {
		slog.Warn("failed to create query logger, falling back to stdout", "error", err)
		queryLogger = retrieval.NewQueryLogger(os.Stdout)
	}

	var rr retrieval.Reranker
	if cfg.RerankAPIKey != "" {
		rr = reranker.NewClient(cfg.RerankProvider, cfg.RerankAPIKey)
	}

	retrievalService := retrieval.NewService(deps.Embedder, deps.VectorStore, rr, queryLogger, cfg.SearchTopK)
	searchHandler := retrieval.NewHandler(retrievalService)

	enableCORS := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next(w, r)
		}
	}

	mux := http.NewServeMux()

	mux.Handle("POST /documents", middleware.CorrelationID(enableCORS(docHandler.Create)))
	mux.Handle("GET /documents", middleware.CorrelationID(enableCORS(docHandler.List)))
	mux.Handle("GET /documents/{id}", middleware.CorrelationID(enableCORS(docHandler.Get)))
	mux.Handle("DELETE /documents/{id}", middleware.CorrelationID(enableCORS(docHandler.Delete)))
	mux.Handle("POST /documents/{id}/reprocess", middleware.CorrelationID(enableCORS(docHandler.Reprocess)))
	mux.Handle("DELETE /documents/{id}/chunks", middleware.CorrelationID(enableCORS(docHandler.DeleteChunks)))
	mux.Handle("POST /documents/reindex", middleware.CorrelationID(enableCORS(docHandler.Reindex)))

	mux.Handle("POST /search", middleware.CorrelationID(enableCORS(searchHandler.Search)))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	return &App{
		Handler:           mux,
		DocumentService:   docService,
		IngestConsumer:    worker.NewIngestConsumer(docService),
		ReprocessConsumer: worker.NewReprocessConsumer(docService),
		port:              cfg.ServerPort,
	}, nil
}

// extractorFunc adapts the package-level extraction entry point to the
// ingestion service's interface.
type extractorFunc struct{}

func (extractorFunc) Extract(blob []byte, format string) (extract.Result, error) {
	return extract.Extract(blob, format)
}

func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", a.port),
		Handler: a.Handler,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutting down server...")
		if err := srv.Shutdown(context.Background()); err != nil {
			slog.Error("server shutdown failed", "error", err)
		}
	}()

	slog.Info("server starting", "port", a.port)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}
