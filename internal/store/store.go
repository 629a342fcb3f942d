// Package store persists documents, chunks and the audit trail. Every stage
// mutation happens inside one transaction so that a status change, its
// metadata, its chunk set and its audit entries commit together or not at
// all.
package store

import (
	"context"
	_ "embed"

	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/internal/audit"
	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/internal/document"
)

//go:embed schema.sql
var Schema string

// Session is the transactional view handed to InTx callbacks.
type Session interface {
	// GetDocument loads and locks the document for the rest of the
	// transaction. A missing id yields ErrDocumentNotFound.
	GetDocument(ctx context.Context, id string) (*document.Document, error)
	// FindByChecksum returns the uploader's document with that content hash,
	// or ErrDocumentNotFound.
	FindByChecksum(ctx context.Context, uploadedBy, checksum string) (*document.Document, error)
	CreateDocument(ctx context.Context, doc *document.Document) error
	UpdateDocument(ctx context.Context, doc *document.Document) error
	// ReplaceChunks deletes every chunk of documentID and inserts chunks.
	ReplaceChunks(ctx context.Context, documentID string, chunks []document.Chunk) error
	// ListChunks returns the document's chunks ordered by chunk index.
	ListChunks(ctx context.Context, documentID string) ([]document.Chunk, error)
	AppendAudit(ctx context.Context, entry audit.Entry) error
}

// Store opens sessions and serves read-only queries.
type Store interface {
	InTx(ctx context.Context, fn func(Session) error) error
	Document(ctx context.Context, id string) (*document.Document, error)
	Chunks(ctx context.Context, documentID string) ([]document.Chunk, error)
	AuditHistory(ctx context.Context, documentID string) ([]audit.Entry, error)
	ListByStatus(ctx context.Context, status document.Status, limit int) ([]*document.Document, error)
}

// AuditSink writes entries through a session so they share the caller's
// transaction.
type AuditSink struct {
	Session Session
}

func (s AuditSink) Record(ctx context.Context, e audit.Entry) error {
	return s.Session.AppendAudit(ctx, e)
}
