// Package shard spreads documents over independent search engines. All
// chunks of a document land on the shard picked by hashing its id, so a
// re-index always replaces postings on the same engine.
package shard

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/internal/chunker"
	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/internal/document"
	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/internal/search"
	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/pkg/metrics"
)

// Router maps shard IDs to dedicated search.Engine instances.
type Router struct {
	engines   map[int]*search.Engine
	mu        sync.RWMutex
	numShards int
	logger    *slog.Logger
}

var _ search.Indexer = (*Router)(nil)

// NewRouter creates cfg.Shards engines, each in its own sub-directory under
// cfg.DataDir.
func NewRouter(cfg config.SearchConfig, m *metrics.Metrics) (*Router, error) {
	if cfg.Shards <= 0 {
		return nil, fmt.Errorf("%w: shard count must be positive, got %d", apperrors.ErrInvalidInput, cfg.Shards)
	}
	r := &Router{
		engines:   make(map[int]*search.Engine, cfg.Shards),
		numShards: cfg.Shards,
		logger:    slog.Default().With("component", "shard-router"),
	}
	for i := 0; i < cfg.Shards; i++ {
		shardCfg := cfg
		shardCfg.DataDir = filepath.Join(cfg.DataDir, fmt.Sprintf("shard-%d", i))
		engine, err := search.NewEngine(shardCfg, fmt.Sprint(i), m)
		if err != nil {
			r.closeAll()
			return nil, fmt.Errorf("creating engine for shard %d: %w", i, err)
		}
		r.engines[i] = engine
		r.logger.Debug("shard engine initialized",
			"shard_id", i,
			"data_dir", shardCfg.DataDir,
		)
	}
	r.logger.Info("shard router ready", "num_shards", cfg.Shards)
	return r, nil
}

// ShardFor returns the shard that owns documentID.
func (r *Router) ShardFor(documentID string) int {
	h := fnv.New32a()
	h.Write([]byte(documentID))
	return int(h.Sum32() % uint32(r.numShards))
}

// IndexDocument writes the document's chunks to its shard, replacing any
// earlier postings. Chunks must be contiguous and ordered.
func (r *Router) IndexDocument(ctx context.Context, doc *document.Document, chunks []document.Chunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := chunker.Verify(doc.ID, chunks); err != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrInvalidInput, err)
	}
	shardID := r.ShardFor(doc.ID)
	r.mu.RLock()
	engine := r.engines[shardID]
	r.mu.RUnlock()
	if engine == nil {
		return fmt.Errorf("router closed")
	}
	if err := engine.IndexDocument(doc.ID, chunks); err != nil {
		return fmt.Errorf("shard %d: %w", shardID, err)
	}
	return nil
}

// Engines returns the shard engines ordered by shard ID.
func (r *Router) Engines() []*search.Engine {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]int, 0, len(r.engines))
	for id := range r.engines {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]*search.Engine, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.engines[id])
	}
	return out
}

func (r *Router) NumShards() int {
	return r.numShards
}

// StartFlushLoops runs every engine's periodic flush until ctx is done.
func (r *Router) StartFlushLoops(ctx context.Context) {
	for _, e := range r.Engines() {
		e.StartFlushLoop(ctx)
	}
}

// FlushAll flushes every shard engine to disk.
func (r *Router) FlushAll() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var firstErr error
	for id, engine := range r.engines {
		if err := engine.Flush(); err != nil {
			r.logger.Error("flush failed", "shard_id", id, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// ReloadAll tells every shard engine to re-scan for newly flushed segments.
// Returns the total number of new segments loaded across all shards.
func (r *Router) ReloadAll() int {
	total := 0
	for _, engine := range r.Engines() {
		total += engine.ReloadSegments()
	}
	return total
}

// Close flushes and closes every shard engine.
func (r *Router) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	err := r.closeAll()
	r.engines = map[int]*search.Engine{}
	return err
}

func (r *Router) closeAll() error {
	var firstErr error
	for id, engine := range r.engines {
		if err := engine.Close(); err != nil {
			r.logger.Error("close failed", "shard_id", id, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
