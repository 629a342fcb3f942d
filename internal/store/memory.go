package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/internal/audit"
	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/internal/document"
	apperrors "github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/pkg/errors"
)

// Memory is an in-process Store. Transactions are serialised and run
// against a copy of the state that replaces the original only when the
// callback succeeds. Reads outside a transaction see the last committed
// state and never wait for one in flight, like READ COMMITTED reads.
type Memory struct {
	txMu  sync.Mutex
	mu    sync.RWMutex
	state memState
}

type memState struct {
	docs   map[string]*document.Document
	chunks map[string][]document.Chunk
	audit  []audit.Entry
}

func NewMemory() *Memory {
	return &Memory{state: memState{
		docs:   make(map[string]*document.Document),
		chunks: make(map[string][]document.Chunk),
	}}
}

func (m *Memory) InTx(ctx context.Context, fn func(Session) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	if err := ctx.Err(); err != nil {
		return apperrors.Infrastructure("beginning transaction", err)
	}
	m.mu.RLock()
	work := m.state.clone()
	m.mu.RUnlock()
	if err := fn(&memSession{s: &work}); err != nil {
		return err
	}
	m.mu.Lock()
	m.state = work
	m.mu.Unlock()
	return nil
}

func (m *Memory) Document(_ context.Context, id string) (*document.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.state.docs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrDocumentNotFound, id)
	}
	return doc.Clone(), nil
}

func (m *Memory) Chunks(_ context.Context, documentID string) ([]document.Chunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedChunks(m.state.chunks[documentID]), nil
}

func (m *Memory) AuditHistory(_ context.Context, documentID string) ([]audit.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []audit.Entry
	for _, e := range m.state.audit {
		if e.DocumentID == documentID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *Memory) ListByStatus(_ context.Context, status document.Status, limit int) ([]*document.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*document.Document
	for _, d := range m.state.docs {
		if d.Status == status {
			out = append(out, d.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s memState) clone() memState {
	c := memState{
		docs:   make(map[string]*document.Document, len(s.docs)),
		chunks: make(map[string][]document.Chunk, len(s.chunks)),
		audit:  append([]audit.Entry(nil), s.audit...),
	}
	for id, d := range s.docs {
		c.docs[id] = d.Clone()
	}
	for id, cs := range s.chunks {
		c.chunks[id] = append([]document.Chunk(nil), cs...)
	}
	return c
}

type memSession struct {
	s *memState
}

func (m *memSession) GetDocument(_ context.Context, id string) (*document.Document, error) {
	doc, ok := m.s.docs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrDocumentNotFound, id)
	}
	return doc.Clone(), nil
}

func (m *memSession) FindByChecksum(_ context.Context, uploadedBy, checksum string) (*document.Document, error) {
	for _, d := range m.s.docs {
		if d.UploadedBy == uploadedBy && d.Checksum == checksum {
			return d.Clone(), nil
		}
	}
	return nil, fmt.Errorf("%w: checksum %s", apperrors.ErrDocumentNotFound, checksum)
}

func (m *memSession) CreateDocument(_ context.Context, doc *document.Document) error {
	if _, ok := m.s.docs[doc.ID]; ok {
		return fmt.Errorf("%w: %s", apperrors.ErrDocumentExists, doc.ID)
	}
	for _, d := range m.s.docs {
		if d.UploadedBy == doc.UploadedBy && d.Checksum == doc.Checksum {
			return fmt.Errorf("%w: %s", apperrors.ErrDocumentExists, doc.ID)
		}
	}
	now := time.Now().UTC()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now
	m.s.docs[doc.ID] = doc.Clone()
	return nil
}

func (m *memSession) UpdateDocument(_ context.Context, doc *document.Document) error {
	if _, ok := m.s.docs[doc.ID]; !ok {
		return fmt.Errorf("%w: %s", apperrors.ErrDocumentNotFound, doc.ID)
	}
	doc.UpdatedAt = time.Now().UTC()
	m.s.docs[doc.ID] = doc.Clone()
	return nil
}

func (m *memSession) ReplaceChunks(_ context.Context, documentID string, chunks []document.Chunk) error {
	if len(chunks) == 0 {
		delete(m.s.chunks, documentID)
		return nil
	}
	m.s.chunks[documentID] = append([]document.Chunk(nil), chunks...)
	return nil
}

func (m *memSession) ListChunks(_ context.Context, documentID string) ([]document.Chunk, error) {
	return sortedChunks(m.s.chunks[documentID]), nil
}

func sortedChunks(chunks []document.Chunk) []document.Chunk {
	out := append([]document.Chunk(nil), chunks...)
	sort.Slice(out, func(i, j int) bool { return out[i].ChunkIndex < out[j].ChunkIndex })
	return out
}

func (m *memSession) AppendAudit(_ context.Context, e audit.Entry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	m.s.audit = append(m.s.audit, e)
	return nil
}
