package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "extract", cfg.Mode)
	assert.Equal(t, filepath.Join(".docpipe", "content_versions.db"), cfg.DBPath)
	assert.Equal(t, filepath.Join(".docpipe", "checkpoints"), cfg.CheckpointDir())
	assert.Equal(t, 8, cfg.Pipeline.Workers)
	assert.Equal(t, 4, cfg.Pipeline.StabilityCap)
	assert.Equal(t, 0.85, cfg.Pipeline.SimilarityThreshold)
	assert.Equal(t, 2000, cfg.Chunking.Window)
	assert.Equal(t, 60*time.Second, cfg.Breaker.Cooldown.Duration)
	assert.Equal(t, "qwen2.5:7b", cfg.Models.Primary)
	assert.Equal(t, int64(50<<20), cfg.Input.MaxDocumentBytes)
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "docpipe.toml")
	content := `
mode = "knowledge"

[pipeline]
workers = 3
similarity_threshold = 0.9

[monitor]
sample_interval = "500ms"

[embedding]
provider = "local"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "knowledge", cfg.Mode)
	assert.Equal(t, 3, cfg.Pipeline.Workers)
	assert.Equal(t, 0.9, cfg.Pipeline.SimilarityThreshold)
	assert.Equal(t, 500*time.Millisecond, cfg.Monitor.SampleInterval.Duration)
	assert.Equal(t, "local", cfg.Embedding.Provider)
	// untouched sections keep their defaults
	assert.Equal(t, 2000, cfg.Chunking.Window)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestLoad_InvalidTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("mode = "), 0644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"DOCPIPE_WORKERS":              "6",
		"DOCPIPE_SIMILARITY_THRESHOLD": "0.7",
		"DOCPIPE_VECTOR_STORE":         "redis",
		"OPENAI_API_KEY":               "sk-test",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := Default()
	require.NoError(t, cfg.applyEnv(lookup))
	assert.Equal(t, 6, cfg.Pipeline.Workers)
	assert.Equal(t, 0.7, cfg.Pipeline.SimilarityThreshold)
	assert.Equal(t, "redis", cfg.Store.Vector)
	assert.Equal(t, "sk-test", cfg.Embedding.APIKey)
}

func TestApplyEnv_BadNumber(t *testing.T) {
	lookup := func(k string) (string, bool) {
		if k == "DOCPIPE_WORKERS" {
			return "many", true
		}
		return "", false
	}
	cfg := Default()
	assert.Error(t, cfg.applyEnv(lookup))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero workers", func(c *Config) { c.Pipeline.Workers = 0 }},
		{"threshold zero", func(c *Config) { c.Pipeline.SimilarityThreshold = 0 }},
		{"threshold above one", func(c *Config) { c.Pipeline.SimilarityThreshold = 1.2 }},
		{"overlap equals window", func(c *Config) { c.Chunking.Overlap = c.Chunking.Window }},
		{"unknown mode", func(c *Config) { c.Mode = "summarize" }},
		{"unknown provider", func(c *Config) { c.Embedding.Provider = "cohere" }},
		{"unknown store", func(c *Config) { c.Store.Vector = "pinecone" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "docpipe.toml")
	cfg := Default()
	cfg.Pipeline.Workers = 5
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5, loaded.Pipeline.Workers)
	assert.Equal(t, cfg.Breaker.Cooldown, loaded.Breaker.Cooldown)
}
