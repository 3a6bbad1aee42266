package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "anthropic", cfg.LLM.Provider)
	assert.Equal(t, 5, cfg.Search.MaxResults)
	assert.Equal(t, []string{"jina", "wikipedia", "duckduckgo", "brave", "perplexity"}, cfg.Search.Backends)
	assert.Equal(t, 1500, cfg.Retrieve.ChunkSize)
	assert.Equal(t, 200, cfg.Retrieve.ChunkOverlap)
	assert.Equal(t, 3, cfg.Retrieve.TopK)
	assert.Equal(t, int64(10*1024*1024), cfg.Retrieve.FileSizeCeiling)
	assert.Equal(t, "hash", cfg.Retrieve.Embedder)
	assert.Zero(t, cfg.Retrieve.EmbedCacheSize)
	assert.Equal(t, 10, cfg.Timeouts.CallSecs)
	assert.Equal(t, 10*time.Second, cfg.Timeouts.Call())
	assert.Equal(t, "log", cfg.ReqLog.Sink)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Empty(t, cfg.Server.UploadDir)
	assert.Equal(t, int64(1<<20), cfg.Server.MaxBodyBytes)
	assert.Equal(t, "https://s.jina.ai", cfg.Jina.SearchBaseURL)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
log:
  level: debug
  format: console
retrieve:
  chunk_size: 400
  chunk_overlap: 50
search:
  max_results: 8
  backends: [wikipedia, duckduckgo]
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 400, cfg.Retrieve.ChunkSize)
	assert.Equal(t, 50, cfg.Retrieve.ChunkOverlap)
	assert.Equal(t, 8, cfg.Search.MaxResults)
	assert.Equal(t, []string{"wikipedia", "duckduckgo"}, cfg.Search.Backends)
	// Defaults still apply for unset values
	assert.Equal(t, 3, cfg.Retrieve.TopK)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
log:
  level: debug
retrieve:
  top_k: 7
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("QROUTER_LOG_LEVEL", "warn")
	t.Setenv("QROUTER_RETRIEVE_TOP_K", "2")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, 2, cfg.Retrieve.TopK)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("log: [unclosed"), 0644))

	_, err := Load()
	assert.Error(t, err)
}

func validDefaults() *Config {
	cfg := &Config{}
	cfg.LLM.Provider = "anthropic"
	cfg.Search.MaxResults = 5
	cfg.Retrieve.ChunkSize = 1500
	cfg.Retrieve.ChunkOverlap = 200
	cfg.Retrieve.TopK = 3
	cfg.Retrieve.FileSizeCeiling = 1 << 20
	cfg.Retrieve.Embedder = "hash"
	cfg.Timeouts.CallSecs = 10
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "zero overlap", mutate: func(c *Config) { c.Retrieve.ChunkOverlap = 0 }},
		{name: "overlap equals size", mutate: func(c *Config) { c.Retrieve.ChunkOverlap = 1500 }, wantErr: "chunk_overlap"},
		{name: "negative overlap", mutate: func(c *Config) { c.Retrieve.ChunkOverlap = -1 }, wantErr: "chunk_overlap"},
		{name: "zero chunk size", mutate: func(c *Config) { c.Retrieve.ChunkSize = 0 }, wantErr: "chunk_size must be positive"},
		{name: "zero top k", mutate: func(c *Config) { c.Retrieve.TopK = 0 }, wantErr: "top_k"},
		{name: "zero ceiling", mutate: func(c *Config) { c.Retrieve.FileSizeCeiling = 0 }, wantErr: "file_size_ceiling"},
		{name: "zero max results", mutate: func(c *Config) { c.Search.MaxResults = 0 }, wantErr: "max_results"},
		{name: "zero timeout", mutate: func(c *Config) { c.Timeouts.CallSecs = 0 }, wantErr: "call_secs"},
		{name: "unknown provider", mutate: func(c *Config) { c.LLM.Provider = "cohere" }, wantErr: "llm.provider"},
		{name: "no model", mutate: func(c *Config) { c.LLM.Provider = "none" }},
		{name: "unknown embedder", mutate: func(c *Config) { c.Retrieve.Embedder = "bert" }, wantErr: "retrieve.embedder"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validDefaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}
