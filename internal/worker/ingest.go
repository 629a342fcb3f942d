package worker

import (
	"context"

	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/internal/audit"
	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/internal/document"
	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/internal/store"
	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/pkg/logger"
)

// Ingest moves PENDING documents whose content is readable to PROCESSING
// and hands them to the transform stage.
type Ingest struct {
	base
	next Publisher
}

func NewIngest(d Deps, next Publisher) *Ingest {
	return &Ingest{base: newBase(d, StageIngest, document.StatusPending), next: next}
}

// Handle is the kafka.MessageHandler for document.ingested.
func (w *Ingest) Handle(ctx context.Context, _ []byte, value []byte) error {
	event, err := decode[document.IngestedEvent](ctx, &w.base, value)
	if err != nil {
		return err
	}
	ctx, span := w.begin(ctx, event.DocumentID)
	defer span.Finish()

	doc, err := w.load(ctx, event.DocumentID)
	if err != nil {
		return err
	}
	if _, failure, err := w.fetch(ctx, doc); err != nil {
		return err
	} else if failure != nil {
		return w.fail(ctx, doc.ID, audit.ActionIngestFailed, failure)
	}

	err = w.commit(ctx, doc.ID, func(s store.Session, res *txResult) error {
		doc, err := w.lock(ctx, s, event.DocumentID)
		if err != nil {
			return err
		}
		prev, err := document.Transition(doc, document.StatusPending, document.StatusProcessing)
		if err != nil {
			return err
		}
		if err := s.UpdateDocument(ctx, doc); err != nil {
			return err
		}
		entry := audit.New(audit.ActionIngestProcessed, doc.ID, map[string]any{
			"filename": doc.Filename,
		}).Transition(prev, doc.Status)
		if err := res.record(ctx, s, entry); err != nil {
			return err
		}
		return w.next.Publish(ctx, kafka.Event{
			Key: doc.ID,
			Value: document.TransformEvent{
				DocumentID: doc.ID,
				Filename:   doc.Filename,
				MimeType:   doc.MimeType,
				FileSize:   doc.FileSize,
				UploadedBy: doc.UploadedBy,
			},
		})
	})
	if err != nil {
		return err
	}
	logger.FromContext(ctx).Info("document ingested", "filename", doc.Filename)
	return nil
}
