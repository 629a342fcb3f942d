package worker

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/internal/audit"
	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/internal/chunker"
	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/internal/document"
	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/internal/extractor"
	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/internal/store"
	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/pkg/tracing"
)

// ErrorTypeEmptyText marks documents whose extraction produced no text.
// Extractions cut short by the extractor timeout are typed "timeout".
const ErrorTypeEmptyText = "empty_text"

// Extractor turns raw content into text.
type Extractor interface {
	Extract(ctx context.Context, mimeType string, content []byte) extractor.Result
}

// Embedder attaches vectors to chunks. It is optional.
type Embedder interface {
	Embed(ctx context.Context, chunks []document.Chunk) error
}

// Transform extracts and chunks PROCESSING documents, leaving them
// PROCESSED for the index stage.
type Transform struct {
	base
	next      Publisher
	extractor Extractor
	embedder  Embedder
	chunking  config.ChunkerConfig
}

// NewTransform builds the transform stage. embedder may be nil.
func NewTransform(d Deps, next Publisher, ex Extractor, embedder Embedder, chunking config.ChunkerConfig) *Transform {
	return &Transform{
		base:      newBase(d, StageTransform, document.StatusProcessing),
		next:      next,
		extractor: ex,
		embedder:  embedder,
		chunking:  chunking,
	}
}

// Handle is the kafka.MessageHandler for document.to_transform.
func (w *Transform) Handle(ctx context.Context, _ []byte, value []byte) error {
	event, err := decode[document.TransformEvent](ctx, &w.base, value)
	if err != nil {
		return err
	}
	ctx, span := w.begin(ctx, event.DocumentID)
	defer span.Finish()
	log := logger.FromContext(ctx)

	doc, err := w.load(ctx, event.DocumentID)
	if err != nil {
		return err
	}
	content, failure, err := w.fetch(ctx, doc)
	if err != nil {
		return err
	}
	if failure != nil {
		return w.fail(ctx, doc.ID, audit.ActionProcessingFailed, failure)
	}

	res := w.extract(ctx, doc, content)
	if strings.TrimSpace(res.Text) == "" {
		msg := "no text extracted"
		if res.Error != "" {
			msg += ": " + res.Error
		}
		var failure *apperrors.StageError
		if res.TimedOut {
			failure = apperrors.NewStageFailure(w.stage, doc.ID, fmt.Errorf("%w: %s", apperrors.ErrTimeout, msg))
		} else {
			failure = apperrors.NewStageFailure(w.stage, doc.ID, fmt.Errorf("%w: %s", apperrors.ErrExtraction, msg))
			failure.Type = ErrorTypeEmptyText
		}
		return w.fail(ctx, doc.ID, audit.ActionProcessingFailed, failure)
	}

	chunks := chunker.Build(doc.ID, chunker.Split(res.Text, w.chunking), w.now())
	embeddingErr := w.embed(ctx, chunks)

	extraction := map[string]any{
		"method":      res.Method,
		"page_count":  res.PageCount,
		"has_images":  res.HasImages,
		"char_count":  utf8.RuneCountInString(res.Text),
		"chunk_count": len(chunks),
	}
	for k, v := range res.Attributes {
		extraction[k] = v
	}
	if res.Error != "" {
		extraction["error"] = res.Error
	}
	if res.TimedOut {
		extraction["timed_out"] = true
	}

	err = w.commit(ctx, doc.ID, func(s store.Session, tx *txResult) error {
		doc, err := w.lock(ctx, s, event.DocumentID)
		if err != nil {
			return err
		}
		if err := s.ReplaceChunks(ctx, doc.ID, chunks); err != nil {
			return err
		}
		prev, err := document.Transition(doc, document.StatusProcessing, document.StatusProcessed)
		if err != nil {
			return err
		}
		doc.Set(document.MetaOCRApplied, res.OCRApplied)
		doc.Set(document.MetaExtraction, extraction)
		if embeddingErr != nil {
			doc.Set(document.MetaEmbeddingError, embeddingErr.Error())
		} else {
			doc.Unset(document.MetaEmbeddingError)
		}
		if err := s.UpdateDocument(ctx, doc); err != nil {
			return err
		}
		entry := audit.New(audit.ActionDocumentProcessed, doc.ID, map[string]any{
			"chunks":      len(chunks),
			"method":      res.Method,
			"ocr_applied": res.OCRApplied,
		}).Transition(prev, doc.Status)
		if err := tx.record(ctx, s, entry); err != nil {
			return err
		}
		return w.next.Publish(ctx, kafka.Event{
			Key:   doc.ID,
			Value: document.IndexEvent{DocumentID: doc.ID},
		})
	})
	if err != nil {
		return err
	}
	w.Metrics.ObserveChunks(len(chunks))
	log.Info("document processed",
		"chunks", len(chunks),
		"method", res.Method,
		"ocr_applied", res.OCRApplied,
	)
	return nil
}

func (w *Transform) extract(ctx context.Context, doc *document.Document, content []byte) extractor.Result {
	ctx, span := tracing.StartChildSpan(ctx, "extract")
	defer span.End()
	res := w.extractor.Extract(ctx, doc.MimeType, content)
	format, _ := res.Attributes["format"].(string)
	w.Metrics.ObserveExtraction(format, res.Method)
	span.SetAttr("method", res.Method)
	span.SetAttr("chars", len(res.Text))
	return res
}

// embed is best effort: a failure is reported for the document's metadata
// and the chunks are stored without vectors.
func (w *Transform) embed(ctx context.Context, chunks []document.Chunk) error {
	if w.embedder == nil || len(chunks) == 0 {
		return nil
	}
	ctx, span := tracing.StartChildSpan(ctx, "embed")
	defer span.End()
	if err := w.embedder.Embed(ctx, chunks); err != nil {
		logger.FromContext(ctx).Warn("embedding failed, storing chunks without vectors", "error", err)
		return err
	}
	return nil
}
