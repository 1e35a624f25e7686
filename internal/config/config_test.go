package config_test

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"

	"civicdocs/backend/internal/config"
)

func TestLoadConfig(t *testing.T) {
	// Set env var directly to test envconfig logic
	os.Setenv("DB_HOST", "test-host")
	defer os.Unsetenv("DB_HOST")

	cfg, err := config.Load()
	assert.NoError(t, err)
	assert.Equal(t, "test-host", cfg.DBHost)
}

func TestLoadConfig_FromEnvFile(t *testing.T) {
	content := []byte("DB_HOST=loaded-from-file")
	err := os.WriteFile(".env", content, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(".env")

	cfg, err := config.Load()
	assert.NoError(t, err)
	assert.Equal(t, "loaded-from-file", cfg.DBHost)
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := config.Load()
	assert.NoError(t, err)
	assert.Equal(t, "flat", cfg.VectorBackend)
	assert.Equal(t, 512, cfg.ChunkMaxTokens)
	assert.Equal(t, 50, cfg.ChunkOverlapTokens)
	assert.Equal(t, 768, cfg.EmbeddingDimension)
	assert.Equal(t, "gemini-embedding-001", cfg.EmbeddingModel)
}

func TestLoadConfig_Toggles(t *testing.T) {
	os.Setenv("ENABLE_API", "false")
	os.Setenv("ENABLE_INGEST_WORKER", "true")
	os.Setenv("ASYNC_INGEST", "true")
	defer os.Unsetenv("ENABLE_API")
	defer os.Unsetenv("ENABLE_INGEST_WORKER")
	defer os.Unsetenv("ASYNC_INGEST")

	cfg, err := config.Load()
	assert.NoError(t, err)
	assert.False(t, cfg.EnableAPI)
	assert.True(t, cfg.EnableIngestWorker)
	assert.True(t, cfg.AsyncIngest)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr bool
	}{
		{name: "Valid", mutate: func(c *config.Config) {}, wantErr: false},
		{name: "Missing DB Host", mutate: func(c *config.Config) { c.DBHost = "" }, wantErr: true},
		{name: "Missing DB User", mutate: func(c *config.Config) { c.DBUser = "" }, wantErr: true},
		{name: "Unknown Backend", mutate: func(c *config.Config) { c.VectorBackend = "qdrant" }, wantErr: true},
		{name: "Weaviate Without Host", mutate: func(c *config.Config) {
			c.VectorBackend = "weaviate"
			c.WeaviateHost = ""
		}, wantErr: true},
		{name: "Overlap Exceeds Max", mutate: func(c *config.Config) {
			c.ChunkOverlapTokens = 512
			c.ChunkMaxTokens = 512
		}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Config{
				DBHost:             "localhost",
				DBUser:             "user",
				DBName:             "db",
				VectorBackend:      "flat",
				ChunkMaxTokens:     512,
				ChunkOverlapTokens: 50,
			}
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, config.ErrMissingRequired)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
