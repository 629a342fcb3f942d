package search

import (
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/internal/document"
	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSearchConfig(dir string) config.SearchConfig {
	return config.SearchConfig{
		DataDir:        dir,
		Shards:         2,
		SegmentMaxSize: 1 << 20,
		FlushInterval:  time.Hour,
	}
}

func chunks(docID string, texts ...string) []document.Chunk {
	out := make([]document.Chunk, len(texts))
	for i, t := range texts {
		out[i] = document.Chunk{DocumentID: docID, ChunkIndex: i, Text: t}
	}
	return out
}

func newEngine(t *testing.T, dir string) *Engine {
	t.Helper()
	e, err := NewEngine(testSearchConfig(dir), "0", nil)
	require.NoError(t, err)
	return e
}

func TestEngineIndexAndSearch(t *testing.T) {
	e := newEngine(t, t.TempDir())
	defer e.Close()

	require.NoError(t, e.IndexDocument("doc-1", chunks("doc-1", "hello world", "world peace")))
	postings, err := e.Search("World")
	require.NoError(t, err)
	require.Len(t, postings, 2)
	assert.Equal(t, 0, postings[0].Chunk)
	assert.Equal(t, 1, postings[1].Chunk)

	assert.Equal(t, int64(2), e.TotalChunks())
	assert.Equal(t, 2, e.ChunkLength("doc-1", 0))
	assert.InDelta(t, 2.0, e.AvgChunkLength(), 0.001)

	none, err := e.Search("the")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestEngineReindexReplacesPostings(t *testing.T) {
	e := newEngine(t, t.TempDir())
	defer e.Close()

	require.NoError(t, e.IndexDocument("doc-3", chunks("doc-3", "draft contract", "old clause")))
	require.NoError(t, e.Flush())
	require.NoError(t, e.IndexDocument("doc-3", chunks("doc-3", "signed contract")))

	stale, err := e.Search("clause")
	require.NoError(t, err)
	assert.Empty(t, stale, "postings from the flushed generation are hidden")

	live, err := e.Search("contract")
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, 0, live[0].Chunk)
	assert.Equal(t, 1, e.DocumentChunks("doc-3"))
	assert.Equal(t, int64(1), e.TotalChunks())
}

func TestEngineRecoversSegmentsAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	e := newEngine(t, dir)
	require.NoError(t, e.IndexDocument("doc-1", chunks("doc-1", "first version")))
	require.NoError(t, e.Flush())
	require.NoError(t, e.IndexDocument("doc-1", chunks("doc-1", "second version", "appendix")))
	require.NoError(t, e.IndexDocument("doc-2", chunks("doc-2", "unrelated memo")))
	require.NoError(t, e.Close())

	reopened := newEngine(t, dir)
	defer reopened.Close()

	first, err := reopened.Search("first")
	require.NoError(t, err)
	assert.Empty(t, first)

	version, err := reopened.Search("version")
	require.NoError(t, err)
	require.Len(t, version, 1)
	assert.Equal(t, "doc-1", version[0].DocID)
	assert.Equal(t, 2, reopened.DocumentChunks("doc-1"))
	assert.Equal(t, int64(3), reopened.TotalChunks())
}

func TestEngineReloadSegments(t *testing.T) {
	dir := t.TempDir()
	reader := newEngine(t, dir)
	defer reader.Close()

	writer := newEngine(t, dir)
	require.NoError(t, writer.IndexDocument("doc-9", chunks("doc-9", "late arrival")))
	require.NoError(t, writer.Close())

	assert.Equal(t, 1, reader.ReloadSegments())
	assert.Equal(t, 0, reader.ReloadSegments())
	hits, err := reader.Search("arrival")
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestEngineFlushesAtMaxSize(t *testing.T) {
	cfg := testSearchConfig(t.TempDir())
	cfg.SegmentMaxSize = 1
	e, err := NewEngine(cfg, "0", nil)
	require.NoError(t, err)
	defer e.Close()

	require.NoError(t, e.IndexDocument("doc-1", chunks("doc-1", "tiny threshold")))
	assert.Zero(t, e.memIndex.ChunkCount())
	hits, err := e.Search("tiny")
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}
