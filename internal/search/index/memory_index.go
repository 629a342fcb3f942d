// Package index holds the in-memory inverted index that buffers chunk
// postings until the engine flushes them to an immutable segment.
package index

import (
	"sort"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/internal/search/tokenizer"
)

type MemoryIndex struct {
	mu    sync.RWMutex
	index map[string]map[string]*Posting
	stats map[string]ChunkStat
	docs  map[string][]string
	size  int64
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{
		index: make(map[string]map[string]*Posting),
		stats: make(map[string]ChunkStat),
		docs:  make(map[string][]string),
	}
}

// AddChunk tokenises text and records its postings under docID#chunk. It
// returns the chunk's token count.
func (m *MemoryIndex) AddChunk(docID string, chunk int, gen int64, text string) int {
	tokens := tokenizer.Tokenize(text)
	key := ChunkKey(docID, chunk)

	termData := make(map[string]*Posting)
	for _, token := range tokens {
		p, exists := termData[token.Term]
		if !exists {
			p = &Posting{
				DocID:     docID,
				Chunk:     chunk,
				Gen:       gen,
				Positions: make([]int, 0, 4),
			}
			termData[token.Term] = p
		}
		p.Frequency++
		p.Positions = append(p.Positions, token.Position)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for term, posting := range termData {
		if _, exists := m.index[term]; !exists {
			m.index[term] = make(map[string]*Posting)
		}
		m.index[term][key] = posting
		m.size += int64(len(term) + len(key) + len(posting.Positions)*8 + 64)
	}
	if _, seen := m.stats[key]; !seen {
		m.docs[docID] = append(m.docs[docID], key)
	}
	m.stats[key] = ChunkStat{DocID: docID, Chunk: chunk, Gen: gen, Length: len(tokens)}
	return len(tokens)
}

// RemoveDocument drops every buffered posting of docID.
func (m *MemoryIndex) RemoveDocument(docID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys, ok := m.docs[docID]
	if !ok {
		return
	}
	drop := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		drop[k] = struct{}{}
		delete(m.stats, k)
	}
	for term, chunks := range m.index {
		for k := range chunks {
			if _, hit := drop[k]; hit {
				delete(chunks, k)
			}
		}
		if len(chunks) == 0 {
			delete(m.index, term)
		}
	}
	delete(m.docs, docID)
}

func (m *MemoryIndex) Search(term string) PostingList {
	m.mu.RLock()
	defer m.mu.RUnlock()
	chunks, exists := m.index[term]
	if !exists {
		return nil
	}
	result := make(PostingList, 0, len(chunks))
	for _, posting := range chunks {
		result = append(result, *posting)
	}
	sortPostings(result)
	return result
}

// Snapshot returns the buffered terms in term order and the chunk stats in
// key order, ready for a segment write.
func (m *MemoryIndex) Snapshot() ([]TermEntry, []ChunkStat) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := make([]TermEntry, 0, len(m.index))
	for term, chunks := range m.index {
		postings := make(PostingList, 0, len(chunks))
		for _, posting := range chunks {
			postings = append(postings, *posting)
		}
		sortPostings(postings)
		entries = append(entries, TermEntry{
			Term:     term,
			Postings: postings,
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Term < entries[j].Term
	})
	stats := make([]ChunkStat, 0, len(m.stats))
	for _, s := range m.stats {
		stats = append(stats, s)
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].DocID != stats[j].DocID {
			return stats[i].DocID < stats[j].DocID
		}
		return stats[i].Chunk < stats[j].Chunk
	})
	return entries, stats
}

func (m *MemoryIndex) Size() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.size
}

// ChunkCount returns the number of chunks buffered.
func (m *MemoryIndex) ChunkCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.stats)
}

func (m *MemoryIndex) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.index = make(map[string]map[string]*Posting)
	m.stats = make(map[string]ChunkStat)
	m.docs = make(map[string][]string)
	m.size = 0
}

func sortPostings(p PostingList) {
	sort.Slice(p, func(i, j int) bool {
		if p[i].DocID != p[j].DocID {
			return p[i].DocID < p[j].DocID
		}
		return p[i].Chunk < p[j].Chunk
	})
}
