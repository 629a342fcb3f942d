package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "document.ingested", cfg.Kafka.Topics.Ingested)
	assert.Equal(t, "document.to_transform", cfg.Kafka.Topics.ToTransform)
	assert.Equal(t, "document.to_index", cfg.Kafka.Topics.ToIndex)
	assert.Equal(t, 100, cfg.Extractor.OCR.MinTextChars)
	assert.Equal(t, 300, cfg.Extractor.OCR.DPI)
	assert.Equal(t, "spa+eng+fra+por+cat+eus+glg", cfg.Extractor.OCR.Languages)
	assert.Equal(t, 512, cfg.Chunker.Size)
	assert.Equal(t, "document.to_index.dlq", cfg.Kafka.DeadLetterTopic(cfg.Kafka.Topics.ToIndex))
	assert.Equal(t, 4, cfg.Blob.FetchRetry.MaxAttempts)
	assert.Zero(t, cfg.Extractor.Timeout)
}

func TestLoadYAMLAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pipeline.yaml")
	content := `
kafka:
  brokers: ["kafka-1:9092"]
  consumerGroups:
    transform: custom-transform
extractor:
  ocr:
    minTextChars: 250
    pageTimeout: 45s
chunker:
  size: 64
  overlap: 8
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	t.Setenv("DP_OCR_DPI", "150")
	t.Setenv("DP_REDIS_ADDR", "redis:6379")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"kafka-1:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "custom-transform", cfg.Kafka.ConsumerGroups.Transform)
	assert.Equal(t, "ingest-worker-group", cfg.Kafka.ConsumerGroups.Ingest)
	assert.Equal(t, 250, cfg.Extractor.OCR.MinTextChars)
	assert.Equal(t, 45*time.Second, cfg.Extractor.OCR.PageTimeout)
	assert.Equal(t, 150, cfg.Extractor.OCR.DPI)
	assert.Equal(t, 64, cfg.Chunker.Size)
	assert.Equal(t, 8, cfg.Chunker.Overlap)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"overlap not smaller than size", func(c *Config) { c.Chunker.Overlap = c.Chunker.Size }},
		{"zero chunk size", func(c *Config) { c.Chunker.Size = 0 }},
		{"no brokers", func(c *Config) { c.Kafka.Brokers = nil }},
		{"unknown blob backend", func(c *Config) { c.Blob.Backend = "s3" }},
		{"gcs without bucket", func(c *Config) { c.Blob.Backend = "gcs" }},
		{"zero dpi", func(c *Config) { c.Extractor.OCR.DPI = 0 }},
		{"embedding without model", func(c *Config) { c.Embedding.Enabled = true }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
	assert.NoError(t, Default().Validate())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
