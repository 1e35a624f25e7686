package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/nsqio/go-nsq"
	weaviateclient "github.com/weaviate/weaviate-go-client/v5/weaviate"

	"civicdocs/backend/internal/adapter/gemini"
	"civicdocs/backend/internal/config"
	"civicdocs/backend/internal/vector"
	"civicdocs/backend/internal/vector/flat"
	wstore "civicdocs/backend/internal/vector/weaviate"
)

type Dependencies struct {
	DB          *sql.DB
	VectorStore vector.Store
	Embedder    *gemini.Embedder
	NSQProducer *nsq.Producer
}

func Bootstrap(ctx context.Context, cfg *config.Config) (*Dependencies, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPass, cfg.DBName)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	retryDelay := time.Duration(cfg.BootstrapRetryDelaySeconds) * time.Second
	for i := 0; i < cfg.BootstrapRetryAttempts; i++ {
		if err := db.Ping(); err == nil {
			break
		}
		slog.Warn("failed to ping db, retrying...", "attempt", i+1)
		time.Sleep(retryDelay)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("migration driver error: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance(cfg.MigrationPath, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("migration instance error: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return nil, fmt.Errorf("migration up error: %w", err)
	}

	vecStore, err := openVectorStore(ctx, cfg, retryDelay)
	if err != nil {
		return nil, err
	}

	embedder, err := gemini.NewEmbedder(ctx, cfg.GeminiAPIKey, cfg.EmbeddingModel, cfg.EmbeddingDimension)
	if err != nil {
		return nil, fmt.Errorf("gemini client error: %w", err)
	}
	embedder.SetBatchSize(cfg.EmbeddingBatchSize)

	deps := &Dependencies{
		DB:          db,
		VectorStore: vecStore,
		Embedder:    embedder,
	}

	if cfg.AsyncIngest || cfg.EnableIngestWorker {
		nsqCfg := nsq.NewConfig()
		producer, err := nsq.NewProducer(cfg.NSQDHost, nsqCfg)
		if err != nil {
			return nil, fmt.Errorf("nsq producer error: %w", err)
		}
		createTopics(cfg.NSQDHTTP)
		deps.NSQProducer = producer
	}

	return deps, nil
}

func openVectorStore(ctx context.Context, cfg *config.Config, retryDelay time.Duration) (vector.Store, error) {
	switch cfg.VectorBackend {
	case "weaviate":
		wCfg := weaviateclient.Config{Host: cfg.WeaviateHost, Scheme: cfg.WeaviateScheme}
		wClient, err := weaviateclient.NewClient(wCfg)
		if err != nil {
			return nil, fmt.Errorf("weaviate client error: %w", err)
		}
		schema := wstore.NewClientAdapter(wClient)
		if err := ensureSchemaWithRetry(ctx, schema, cfg.BootstrapRetryAttempts, retryDelay); err != nil {
			return nil, fmt.Errorf("weaviate schema error: %w", err)
		}
		return wstore.NewStore(wClient), nil
	default:
		ix, err := flat.Open(cfg.FlatIndexDir, cfg.EmbeddingDimension)
		if err != nil {
			return nil, fmt.Errorf("flat index error: %w", err)
		}
		return ix, nil
	}
}

func ensureSchemaWithRetry(ctx context.Context, client wstore.SchemaClient, attempts int, delay time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = wstore.EnsureSchema(ctx, client); err == nil {
			return nil
		}
		if i < attempts-1 {
			time.Sleep(delay)
		}
	}
	return err
}

func createTopics(nsqdHTTP string) {
	create := func(topic string) {
		url := fmt.Sprintf("http://%s/topic/create?topic=%s", nsqdHTTP, topic)
		resp, err := http.Post(url, "application/json", nil) // #nosec G107 -- URL is built from internal NSQ config, not user input
		if err != nil {
			slog.Warn("failed to create NSQ topic", "topic", topic, "error", err)
			return
		}
		if closeErr := resp.Body.Close(); closeErr != nil {
			slog.Warn("failed to close NSQ topic creation response body", "error", closeErr)
		}
	}

	go func() {
		time.Sleep(2 * time.Second)
		create(config.TopicIngest)
		create(config.TopicReprocess)
	}()
}
