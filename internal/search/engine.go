// Package search is the index stage's search-engine collaborator: a sharded
// on-disk inverted index over document chunks. Each shard is an Engine that
// buffers postings in memory and periodically flushes them to immutable
// segments.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/internal/document"
	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/internal/search/index"
	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/internal/search/segment"
	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/internal/search/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/pkg/metrics"
)

// Indexer is the capability the index stage needs from the search engine.
type Indexer interface {
	IndexDocument(ctx context.Context, doc *document.Document, chunks []document.Chunk) error
}

// Engine is one shard of the index. Every IndexDocument call stamps the
// document's postings with a new generation; postings of older generations,
// whether still buffered or already on disk, are ignored by Search.
type Engine struct {
	name     string
	memIndex *index.MemoryIndex
	writer   *segment.Writer
	readers  []*segment.Reader
	readerMu sync.RWMutex
	cfg      config.SearchConfig
	metrics  *metrics.Metrics
	logger   *slog.Logger

	statsMu     sync.RWMutex
	liveGen     map[string]int64
	lengths     map[string]int
	docChunks   map[string][]string
	totalTokens int64
	lastGen     int64
}

// NewEngine opens (or creates) the shard rooted at cfg.DataDir and loads
// any segments already present there.
func NewEngine(cfg config.SearchConfig, name string, m *metrics.Metrics) (*Engine, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("creating index data directory: %w", err)
	}
	e := &Engine{
		name:      name,
		memIndex:  index.NewMemoryIndex(),
		writer:    segment.NewWriter(cfg.DataDir),
		cfg:       cfg,
		metrics:   m,
		logger:    slog.Default().With("component", "search-engine", "shard", name),
		liveGen:   make(map[string]int64),
		lengths:   make(map[string]int),
		docChunks: make(map[string][]string),
	}
	if _, err := e.loadSegments(); err != nil {
		return nil, fmt.Errorf("loading existing segments: %w", err)
	}
	return e, nil
}

// IndexDocument replaces every posting of docID with postings built from
// chunks. Callers are expected to have verified chunk contiguity.
func (e *Engine) IndexDocument(docID string, chunks []document.Chunk) error {
	gen := e.nextGen()
	e.memIndex.RemoveDocument(docID)

	lengths := make(map[string]int, len(chunks))
	keys := make([]string, 0, len(chunks))
	for _, c := range chunks {
		n := e.memIndex.AddChunk(docID, c.ChunkIndex, gen, c.Text)
		key := index.ChunkKey(docID, c.ChunkIndex)
		lengths[key] = n
		keys = append(keys, key)
	}

	e.statsMu.Lock()
	e.dropDocLocked(docID)
	for key, n := range lengths {
		e.lengths[key] = n
		e.totalTokens += int64(n)
	}
	e.docChunks[docID] = keys
	e.liveGen[docID] = gen
	total := len(e.lengths)
	e.statsMu.Unlock()

	e.metrics.ObserveIndexed()
	e.metrics.SetShardChunks(e.name, total)
	e.logger.Debug("document indexed in memory",
		"document_id", docID,
		"chunks", len(chunks),
		"generation", gen,
		"mem_size", e.memIndex.Size(),
	)
	if e.memIndex.Size() >= e.cfg.SegmentMaxSize {
		e.logger.Info("memory index reached max size, flushing to disk",
			"size", e.memIndex.Size(),
			"threshold", e.cfg.SegmentMaxSize,
		)
		if err := e.Flush(); err != nil {
			return fmt.Errorf("flushing memory index: %w", err)
		}
	}
	return nil
}

func (e *Engine) dropDocLocked(docID string) {
	for _, key := range e.docChunks[docID] {
		e.totalTokens -= int64(e.lengths[key])
		delete(e.lengths, key)
	}
	delete(e.docChunks, docID)
}

func (e *Engine) nextGen() int64 {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	gen := time.Now().UnixNano()
	if gen <= e.lastGen {
		gen = e.lastGen + 1
	}
	e.lastGen = gen
	return gen
}

// Flush writes the memory index to a new segment and resets it.
func (e *Engine) Flush() error {
	entries, stats := e.memIndex.Snapshot()
	if len(entries) == 0 {
		return nil
	}
	segmentName, err := e.writer.Write(entries, stats)
	if err != nil {
		e.metrics.ObserveFlush("error")
		return fmt.Errorf("writing segment: %w", err)
	}

	reader, err := segment.OpenReader(filepath.Join(e.cfg.DataDir, segmentName))
	if err != nil {
		e.metrics.ObserveFlush("error")
		return fmt.Errorf("opening new segment for reading: %w", err)
	}
	e.readerMu.Lock()
	e.readers = append(e.readers, reader)
	active := len(e.readers)
	e.readerMu.Unlock()
	e.memIndex.Reset()
	e.metrics.ObserveFlush("success")
	e.logger.Info("segment flushed",
		"segment", segmentName,
		"terms", reader.Terms(),
		"chunks", reader.ChunkCount(),
		"active_segments", active,
	)
	return nil
}

// Search returns the live postings for term, one per chunk, ordered by
// document id then chunk index. term is normalised the same way chunk text
// is.
func (e *Engine) Search(term string) (index.PostingList, error) {
	normalized := tokenizer.Term(term)
	if normalized == "" {
		return nil, nil
	}
	all := e.memIndex.Search(normalized)

	e.readerMu.RLock()
	readers := make([]*segment.Reader, len(e.readers))
	copy(readers, e.readers)
	e.readerMu.RUnlock()

	for _, reader := range readers {
		postings, err := reader.Search(normalized)
		if err != nil {
			e.logger.Error("segment search failed",
				"segment", reader.Path(),
				"error", err,
			)
			continue
		}
		all = append(all, postings...)
	}
	return e.liveOnly(all), nil
}

func (e *Engine) liveOnly(postings index.PostingList) index.PostingList {
	if len(postings) == 0 {
		return postings
	}
	e.statsMu.RLock()
	defer e.statsMu.RUnlock()
	seen := make(map[string]struct{}, len(postings))
	result := make(index.PostingList, 0, len(postings))
	for _, p := range postings {
		if e.liveGen[p.DocID] != p.Gen {
			continue
		}
		key := p.Key()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].DocID != result[j].DocID {
			return result[i].DocID < result[j].DocID
		}
		return result[i].Chunk < result[j].Chunk
	})
	return result
}

// ChunkLength returns the token count of a live chunk, 0 when unknown.
func (e *Engine) ChunkLength(docID string, chunk int) int {
	e.statsMu.RLock()
	defer e.statsMu.RUnlock()
	return e.lengths[index.ChunkKey(docID, chunk)]
}

// DocumentChunks returns how many live chunks docID has in this shard.
func (e *Engine) DocumentChunks(docID string) int {
	e.statsMu.RLock()
	defer e.statsMu.RUnlock()
	return len(e.docChunks[docID])
}

func (e *Engine) AvgChunkLength() float64 {
	e.statsMu.RLock()
	defer e.statsMu.RUnlock()
	if len(e.lengths) == 0 {
		return 0
	}
	return float64(e.totalTokens) / float64(len(e.lengths))
}

func (e *Engine) TotalChunks() int64 {
	e.statsMu.RLock()
	defer e.statsMu.RUnlock()
	return int64(len(e.lengths))
}

func (e *Engine) StartFlushLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.FlushInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				e.logger.Info("flush loop stopping, performing final flush")
				if err := e.Flush(); err != nil {
					e.logger.Error("final flush failed", "error", err)
				}
				return
			case <-ticker.C:
				if e.memIndex.ChunkCount() > 0 {
					if err := e.Flush(); err != nil {
						e.logger.Error("periodic flush failed", "error", err)
					}
				}
			}
		}
	}()
}

// ReloadSegments opens segments written by another process since the last
// load and returns how many were added.
func (e *Engine) ReloadSegments() int {
	n, err := e.loadSegments()
	if err != nil {
		e.logger.Error("segment reload failed", "error", err)
	}
	return n
}

func (e *Engine) Close() error {
	if err := e.Flush(); err != nil {
		e.logger.Error("final flush on close failed", "error", err)
	}
	e.readerMu.Lock()
	defer e.readerMu.Unlock()
	for _, reader := range e.readers {
		if err := reader.Close(); err != nil {
			e.logger.Error("closing segment reader", "error", err)
		}
	}
	e.readers = nil
	return nil
}

func (e *Engine) loadSegments() (int, error) {
	entries, err := os.ReadDir(e.cfg.DataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading data directory: %w", err)
	}

	e.readerMu.RLock()
	known := make(map[string]struct{}, len(e.readers))
	for _, r := range e.readers {
		known[r.Path()] = struct{}{}
	}
	e.readerMu.RUnlock()

	segFiles := make([]string, 0)
	for _, entry := range entries {
		path := filepath.Join(e.cfg.DataDir, entry.Name())
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), segment.Extension) {
			continue
		}
		if _, ok := known[path]; !ok {
			segFiles = append(segFiles, path)
		}
	}
	sort.Strings(segFiles)

	loaded := make([]*segment.Reader, 0, len(segFiles))
	for _, path := range segFiles {
		reader, err := segment.OpenReader(path)
		if err != nil {
			e.logger.Error("failed to open segment, skipping",
				"segment", path,
				"error", err,
			)
			continue
		}
		loaded = append(loaded, reader)
		e.logger.Info("loaded segment",
			"segment", filepath.Base(path),
			"terms", reader.Terms(),
			"chunks", reader.ChunkCount(),
		)
	}
	if len(loaded) == 0 {
		return 0, nil
	}

	e.statsMu.Lock()
	for _, reader := range loaded {
		e.applyStatsLocked(reader.Stats())
	}
	total := len(e.lengths)
	e.statsMu.Unlock()

	e.readerMu.Lock()
	e.readers = append(e.readers, loaded...)
	e.readerMu.Unlock()
	e.metrics.SetShardChunks(e.name, total)
	e.logger.Info("segment recovery complete", "segments_loaded", len(loaded))
	return len(loaded), nil
}

// applyStatsLocked folds on-disk chunk stats into the live view: a newer
// generation of a document replaces whatever was known about it.
func (e *Engine) applyStatsLocked(stats []index.ChunkStat) {
	byDoc := make(map[string][]index.ChunkStat)
	for _, s := range stats {
		byDoc[s.DocID] = append(byDoc[s.DocID], s)
	}
	for docID, docStats := range byDoc {
		gen := docStats[0].Gen
		if gen < e.liveGen[docID] {
			continue
		}
		if gen > e.liveGen[docID] {
			e.dropDocLocked(docID)
			e.liveGen[docID] = gen
		}
		for _, s := range docStats {
			key := s.Key()
			if _, ok := e.lengths[key]; !ok {
				e.docChunks[docID] = append(e.docChunks[docID], key)
			} else {
				e.totalTokens -= int64(e.lengths[key])
			}
			e.lengths[key] = s.Length
			e.totalTokens += int64(s.Length)
		}
		if gen > e.lastGen {
			e.lastGen = gen
		}
	}
}
