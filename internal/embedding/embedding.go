// Package embedding attaches vector embeddings to chunks through any
// OpenAI-compatible embeddings endpoint. Embedding is best effort: callers
// record a failure on the document and carry on without vectors.
package embedding

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/internal/document"
	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/pkg/resilience"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

// Client embeds chunk text in batches behind a circuit breaker, so an
// unavailable model server costs one fast failure per document once the
// breaker is open.
type Client struct {
	embedder  embeddings.Embedder
	breaker   *resilience.CircuitBreaker
	batchSize int
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// New builds a Client for cfg.Host. Use "none" as cfg.Token for local
// servers that do not authenticate.
func New(cfg config.EmbeddingConfig, m *metrics.Metrics) (*Client, error) {
	opts := []openai.Option{
		openai.WithBaseURL(cfg.Host),
		openai.WithToken(cfg.Token),
	}
	if cfg.Model != "" {
		opts = append(opts, openai.WithEmbeddingModel(cfg.Model))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating embedding client: %w", err)
	}
	embedder, err := embeddings.NewEmbedder(llm, embeddings.WithStripNewLines(true))
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}
	return newClient(embedder, cfg, m), nil
}

func newClient(e embeddings.Embedder, cfg config.EmbeddingConfig, m *metrics.Metrics) *Client {
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 32
	}
	return &Client{
		embedder:  e,
		batchSize: batch,
		metrics:   m,
		breaker: resilience.NewCircuitBreaker("embedding:"+cfg.Model, resilience.CircuitBreakerConfig{
			FailureThreshold: cfg.FailureLimit,
			ResetTimeout:     cfg.ResetTimeout,
			OnStateChange: func(name string, _, to resilience.State) {
				m.SetBreakerState(name, int(to))
			},
		}),
		logger: slog.Default().With("component", "embedder"),
	}
}

// Embed fills chunk.Embedding for every chunk. On error no chunk is
// modified.
func (c *Client) Embed(ctx context.Context, chunks []document.Chunk) error {
	vectors := make([][]float32, 0, len(chunks))
	for start := 0; start < len(chunks); start += c.batchSize {
		end := min(start+c.batchSize, len(chunks))
		texts := make([]string, 0, end-start)
		for _, ch := range chunks[start:end] {
			texts = append(texts, ch.Text)
		}
		var batch [][]float32
		err := c.breaker.Execute(func() error {
			var err error
			batch, err = c.embedder.EmbedDocuments(ctx, texts)
			return err
		})
		if err != nil {
			c.metrics.ObserveEmbeddingError()
			return fmt.Errorf("embedding chunks %d-%d: %w", start, end-1, err)
		}
		if len(batch) != len(texts) {
			c.metrics.ObserveEmbeddingError()
			return fmt.Errorf("embedding chunks %d-%d: got %d vectors for %d texts", start, end-1, len(batch), len(texts))
		}
		vectors = append(vectors, batch...)
	}
	for i := range chunks {
		chunks[i].Embedding = vectors[i]
	}
	c.logger.Debug("chunks embedded", "count", len(chunks))
	return nil
}
