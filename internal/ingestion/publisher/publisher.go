// Package publisher stores uploads and announces documents to the pipeline.
// Uploads are deduplicated per uploader by the SHA-256 of their content.
package publisher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/internal/audit"
	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/internal/blob"
	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/internal/document"
	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/internal/ingestion/validator"
	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/internal/store"
	apperrors "github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/pkg/kafka"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

// EventPublisher writes to one pipeline channel.
type EventPublisher interface {
	Publish(ctx context.Context, event kafka.Event) error
}

// Publisher coordinates blob storage, document creation and event
// production.
type Publisher struct {
	store    store.Store
	blob     blob.Store
	ingested EventPublisher
	toIndex  EventPublisher
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a Publisher. toIndex may be nil when re-indexing is not
// needed.
func New(st store.Store, bs blob.Store, ingested, toIndex EventPublisher) *Publisher {
	return &Publisher{
		store:    st,
		blob:     bs,
		ingested: ingested,
		toIndex:  toIndex,
		logger:   slog.Default().With("component", "publisher"),
		now:      time.Now,
	}
}

// Upload stores the content, creates a PENDING document and publishes its
// ingested event once the document is committed. When the publish fails the
// document stays PENDING and the result is returned with the error so the
// caller can Reinject it. Identical content from the same uploader resolves
// to the existing document without publishing again.
func (p *Publisher) Upload(ctx context.Context, req *ingestion.UploadRequest) (*ingestion.UploadResult, error) {
	if err := validator.ValidateUpload(req); err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrInvalidInput, err)
	}
	if req.UploadedBy == "" {
		req.UploadedBy = "anonymous"
	}
	if req.MimeType == "" {
		req.MimeType = mimetype.Detect(req.Content).String()
	}
	sum := sha256.Sum256(req.Content)
	checksum := hex.EncodeToString(sum[:])

	var dup *document.Document
	err := p.store.InTx(ctx, func(s store.Session) error {
		d, err := s.FindByChecksum(ctx, req.UploadedBy, checksum)
		if errors.Is(err, apperrors.ErrDocumentNotFound) {
			return nil
		}
		dup = d
		return err
	})
	if err != nil {
		return nil, apperrors.Infrastructure("checking for duplicates", err)
	}
	if dup != nil {
		p.logger.Info("duplicate upload detected",
			"document_id", dup.ID,
			"checksum", checksum,
			"uploaded_by", req.UploadedBy,
		)
		return &ingestion.UploadResult{
			DocumentID: dup.ID,
			Status:     dup.Status,
			Location:   dup.Location,
			Checksum:   checksum,
			Duplicate:  true,
		}, nil
	}

	location := blob.ObjectName(req.UploadedBy, checksum, req.Filename, p.now())
	if err := p.blob.Put(ctx, location, req.Content); err != nil {
		return nil, fmt.Errorf("storing content: %w", err)
	}

	doc := &document.Document{
		ID:             uuid.NewString(),
		Filename:       req.Filename,
		MimeType:       req.MimeType,
		FileSize:       int64(len(req.Content)),
		Location:       location,
		Checksum:       checksum,
		UploadedBy:     req.UploadedBy,
		Classification: req.Classification,
		Status:         document.StatusPending,
		Metadata:       document.Metadata{},
	}
	err = p.store.InTx(ctx, func(s store.Session) error {
		if err := s.CreateDocument(ctx, doc); err != nil {
			return err
		}
		entry := audit.New(audit.ActionDocumentUploaded, doc.ID, map[string]any{
			"filename":  doc.Filename,
			"mime_type": doc.MimeType,
			"file_size": doc.FileSize,
		})
		entry.NewStatus = document.StatusPending
		return s.AppendAudit(ctx, entry)
	})
	if err != nil {
		return nil, fmt.Errorf("creating document: %w", err)
	}
	result := &ingestion.UploadResult{
		DocumentID: doc.ID,
		Status:     doc.Status,
		Location:   location,
		Checksum:   checksum,
	}
	// The row must be committed before the event goes out: the ingest worker
	// cannot see, or wait on, an uncommitted insert.
	err = p.ingested.Publish(ctx, kafka.Event{
		Key:   doc.ID,
		Value: document.IngestedEvent{DocumentID: doc.ID},
	})
	if err != nil {
		p.logger.Error("document stored but not announced, reinject it",
			"document_id", doc.ID,
			"error", err,
		)
		return result, apperrors.Infrastructure("announcing document "+doc.ID, err)
	}
	p.logger.Info("document uploaded",
		"document_id", doc.ID,
		"filename", doc.Filename,
		"size", doc.FileSize,
	)
	return result, nil
}

// Reinject re-publishes the ingested event of a PENDING document, for
// example one whose original event was lost. FAILED documents are not
// reprocessed; FAILED is final.
func (p *Publisher) Reinject(ctx context.Context, documentID string) error {
	return p.announce(ctx, documentID, document.StatusPending, p.ingested,
		document.IngestedEvent{DocumentID: documentID})
}

// Reindex re-publishes the index event of a PROCESSED document, typically
// one carrying an indexation error.
func (p *Publisher) Reindex(ctx context.Context, documentID string) error {
	if p.toIndex == nil {
		return fmt.Errorf("re-indexing not configured")
	}
	return p.announce(ctx, documentID, document.StatusProcessed, p.toIndex,
		document.IndexEvent{DocumentID: documentID})
}

// ReinjectPending re-publishes every PENDING document, up to limit.
func (p *Publisher) ReinjectPending(ctx context.Context, limit int) (int, error) {
	docs, err := p.store.ListByStatus(ctx, document.StatusPending, limit)
	if err != nil {
		return 0, apperrors.Infrastructure("listing pending documents", err)
	}
	n := 0
	for _, d := range docs {
		if err := p.Reinject(ctx, d.ID); err != nil {
			return n, fmt.Errorf("reinjecting %s: %w", d.ID, err)
		}
		n++
	}
	return n, nil
}

func (p *Publisher) announce(ctx context.Context, documentID string, want document.Status, to EventPublisher, event any) error {
	return p.store.InTx(ctx, func(s store.Session) error {
		doc, err := s.GetDocument(ctx, documentID)
		if err != nil {
			return err
		}
		if err := document.Guard(doc, want); err != nil {
			return err
		}
		entry := audit.New(audit.ActionReinjected, doc.ID, map[string]any{
			"status": string(doc.Status),
		})
		if err := s.AppendAudit(ctx, entry); err != nil {
			return err
		}
		return to.Publish(ctx, kafka.Event{Key: doc.ID, Value: event})
	})
}
