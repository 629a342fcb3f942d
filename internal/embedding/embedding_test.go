package embedding

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/internal/document"
	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/pkg/resilience"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEmbedder struct {
	calls [][]string
	err   error
	short bool
}

func (f *fakeEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	f.calls = append(f.calls, texts)
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t))}
	}
	if f.short {
		out = out[1:]
	}
	return out, nil
}

func (f *fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	v, err := f.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return v[0], nil
}

func testChunks(texts ...string) []document.Chunk {
	out := make([]document.Chunk, len(texts))
	for i, t := range texts {
		out[i] = document.Chunk{ChunkIndex: i, Text: t}
	}
	return out
}

func TestEmbedBatches(t *testing.T) {
	fake := &fakeEmbedder{}
	c := newClient(fake, config.EmbeddingConfig{BatchSize: 2}, nil)
	chunks := testChunks("a", "bb", "ccc")

	require.NoError(t, c.Embed(context.Background(), chunks))
	assert.Len(t, fake.calls, 2)
	assert.Equal(t, []string{"ccc"}, fake.calls[1])
	assert.Equal(t, []float32{3}, chunks[2].Embedding)
}

func TestEmbedFailureLeavesChunksUntouched(t *testing.T) {
	fake := &fakeEmbedder{short: true}
	c := newClient(fake, config.EmbeddingConfig{BatchSize: 8}, nil)
	chunks := testChunks("a", "b")

	err := c.Embed(context.Background(), chunks)
	assert.ErrorContains(t, err, "got 1 vectors for 2 texts")
	assert.Nil(t, chunks[0].Embedding)
}

func TestEmbedBreakerOpens(t *testing.T) {
	fake := &fakeEmbedder{err: errors.New("connection refused")}
	c := newClient(fake, config.EmbeddingConfig{BatchSize: 8, FailureLimit: 2, ResetTimeout: time.Hour}, nil)

	for i := 0; i < 2; i++ {
		assert.Error(t, c.Embed(context.Background(), testChunks("x")))
	}
	err := c.Embed(context.Background(), testChunks("x"))
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Len(t, fake.calls, 2)
}
