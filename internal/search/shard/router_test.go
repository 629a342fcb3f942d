package shard

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/internal/document"
	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRouter(t *testing.T, dir string) *Router {
	t.Helper()
	r, err := NewRouter(config.SearchConfig{
		DataDir:        dir,
		Shards:         3,
		SegmentMaxSize: 1 << 20,
		FlushInterval:  time.Hour,
	}, nil)
	require.NoError(t, err)
	return r
}

func docChunks(id string, texts ...string) []document.Chunk {
	out := make([]document.Chunk, len(texts))
	for i, text := range texts {
		out[i] = document.Chunk{DocumentID: id, ChunkIndex: i, Text: text}
	}
	return out
}

func TestRouterPlacesAllChunksOnOneShard(t *testing.T) {
	r := newRouter(t, t.TempDir())
	defer r.Close()

	doc := &document.Document{ID: "doc-1"}
	require.NoError(t, r.IndexDocument(context.Background(), doc,
		docChunks("doc-1", "alpha beta", "beta gamma", "gamma delta")))

	owner := r.ShardFor("doc-1")
	for i, e := range r.Engines() {
		hits, err := e.Search("beta")
		require.NoError(t, err)
		if i == owner {
			assert.Len(t, hits, 2)
			assert.Equal(t, 3, e.DocumentChunks("doc-1"))
		} else {
			assert.Empty(t, hits)
		}
	}
}

func TestRouterShardForIsStable(t *testing.T) {
	r := newRouter(t, t.TempDir())
	defer r.Close()
	seen := map[int]bool{}
	for i := 0; i < 64; i++ {
		id := fmt.Sprintf("doc-%d", i)
		s := r.ShardFor(id)
		assert.Equal(t, s, r.ShardFor(id))
		assert.GreaterOrEqual(t, s, 0)
		assert.Less(t, s, 3)
		seen[s] = true
	}
	assert.Len(t, seen, 3)
}

func TestRouterRejectsNonContiguousChunks(t *testing.T) {
	r := newRouter(t, t.TempDir())
	defer r.Close()

	chunks := docChunks("doc-2", "one", "two")
	chunks[1].ChunkIndex = 5
	err := r.IndexDocument(context.Background(), &document.Document{ID: "doc-2"}, chunks)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	foreign := docChunks("doc-x", "stray")
	err = r.IndexDocument(context.Background(), &document.Document{ID: "doc-2"}, foreign)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestRouterFlushAndReopen(t *testing.T) {
	dir := t.TempDir()
	r := newRouter(t, dir)
	require.NoError(t, r.IndexDocument(context.Background(), &document.Document{ID: "doc-7"},
		docChunks("doc-7", "persisted text")))
	require.NoError(t, r.FlushAll())
	require.NoError(t, r.Close())

	err := r.IndexDocument(context.Background(), &document.Document{ID: "doc-7"}, docChunks("doc-7", "x"))
	assert.Error(t, err)

	reopened := newRouter(t, dir)
	defer reopened.Close()
	hits, err := reopened.Engines()[reopened.ShardFor("doc-7")].Search("persisted")
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestNewRouterRejectsZeroShards(t *testing.T) {
	_, err := NewRouter(config.SearchConfig{DataDir: t.TempDir()}, nil)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}
