package worker

import (
	"context"
	"errors"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/internal/audit"
	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/internal/document"
	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/internal/search"
	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/internal/store"
	apperrors "github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/pkg/tracing"
)

var errNoChunks = errors.New("no chunks found")

// Index writes PROCESSED documents to the search engine and marks them
// INDEXED. An indexing failure is recorded on the document, which stays
// PROCESSED so it can be re-indexed later.
type Index struct {
	base
	indexer search.Indexer
}

func NewIndex(d Deps, indexer search.Indexer) *Index {
	return &Index{base: newBase(d, StageIndex, document.StatusProcessed), indexer: indexer}
}

// Handle is the kafka.MessageHandler for document.to_index.
func (w *Index) Handle(ctx context.Context, _ []byte, value []byte) error {
	event, err := decode[document.IndexEvent](ctx, &w.base, value)
	if err != nil {
		return err
	}
	ctx, span := w.begin(ctx, event.DocumentID)
	defer span.Finish()

	doc, err := w.load(ctx, event.DocumentID)
	if err != nil {
		return err
	}
	chunks, err := w.Store.Chunks(ctx, doc.ID)
	if err != nil {
		return w.classify(ctx, doc.ID, err)
	}
	if len(chunks) == 0 {
		return w.indexFailed(ctx, doc.ID, apperrors.NewIndexStageFailure(doc.ID, errNoChunks))
	}
	if err := w.write(ctx, doc, chunks); err != nil {
		return w.indexFailed(ctx, doc.ID, apperrors.NewIndexStageFailure(doc.ID, err))
	}

	indexedAt := w.now().Format(time.RFC3339)
	err = w.commit(ctx, doc.ID, func(s store.Session, tx *txResult) error {
		doc, err := w.lock(ctx, s, event.DocumentID)
		if err != nil {
			return err
		}
		prev, err := document.Transition(doc, document.StatusProcessed, document.StatusIndexed)
		if err != nil {
			return err
		}
		doc.Set(document.MetaIndexedAt, indexedAt)
		doc.Set(document.MetaIndexedChunks, len(chunks))
		doc.Unset(document.MetaIndexationError, document.MetaIndexationErrorType)
		if err := s.UpdateDocument(ctx, doc); err != nil {
			return err
		}
		entry := audit.New(audit.ActionDocumentIndexed, doc.ID, map[string]any{
			"chunks": len(chunks),
		}).Transition(prev, doc.Status)
		return tx.record(ctx, s, entry)
	})
	if err != nil {
		return err
	}
	logger.FromContext(ctx).Info("document indexed", "chunks", len(chunks))
	return nil
}

func (w *Index) write(ctx context.Context, doc *document.Document, chunks []document.Chunk) error {
	ctx, span := tracing.StartChildSpan(ctx, "index")
	defer span.End()
	span.SetAttr("chunks", len(chunks))
	return w.indexer.IndexDocument(ctx, doc, chunks)
}

// indexFailed records the failure without leaving PROCESSED.
func (w *Index) indexFailed(ctx context.Context, documentID string, cause *apperrors.StageError) error {
	err := w.commit(ctx, documentID, func(s store.Session, tx *txResult) error {
		doc, err := w.lock(ctx, s, documentID)
		if err != nil {
			return err
		}
		doc.Set(document.MetaIndexationError, cause.Err.Error())
		doc.Set(document.MetaIndexationErrorType, cause.Type)
		if err := s.UpdateDocument(ctx, doc); err != nil {
			return err
		}
		entry := audit.New(audit.ActionIndexationFailed, documentID, map[string]any{
			"error":      cause.Err.Error(),
			"error_type": cause.Type,
		}).Failed()
		return tx.record(ctx, s, entry)
	})
	if err != nil {
		return err
	}
	logger.FromContext(ctx).Error("indexation failed, document stays PROCESSED",
		"error", cause.Err,
		"error_type", cause.Type,
	)
	return cause
}
