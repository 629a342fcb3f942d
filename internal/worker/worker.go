// Package worker implements the three pipeline stages. Each stage is a
// kafka.MessageHandler that loads the document, checks the status it
// consumes, does its work outside the database, and then applies the
// transition, metadata, audit entries and downstream publish inside one
// transaction. The downstream stage reads the document under a row lock, so
// an event that arrives before its producer's transaction commits waits for
// the commit instead of seeing the previous status.
//
// Handlers report outcomes the way pkg/kafka expects: nil when done,
// apperrors.Discard for messages that touch no document, a *StageError for
// failures already recorded on the document, and anything else for
// infrastructure trouble that deserves a redelivery.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/internal/audit"
	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/internal/blob"
	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/internal/document"
	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/internal/store"
	apperrors "github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/pkg/tracing"
)

// Stage names, used in logs, metrics and dead-letter headers.
const (
	StageIngest    = "ingest"
	StageTransform = "transform"
	StageIndex     = "index"
)

// Publisher sends an event to the next stage's topic.
type Publisher interface {
	Publish(ctx context.Context, event kafka.Event) error
}

// Deps are the collaborators shared by every stage.
type Deps struct {
	Store   store.Store
	Blob    blob.Store
	Audit   audit.Sink
	Metrics *metrics.Metrics
	Now     func() time.Time
	// FetchRetry bounds the in-process retries of a blob outage before the
	// document is failed.
	FetchRetry resilience.RetryConfig
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now().UTC()
	}
	return time.Now().UTC()
}

// base carries the per-stage plumbing.
type base struct {
	Deps
	stage    string
	consumes document.Status
	logger   *slog.Logger
}

func newBase(d Deps, stage string, consumes document.Status) base {
	if d.Audit == nil {
		d.Audit = audit.NewLogSink()
	}
	return base{
		Deps:     d,
		stage:    stage,
		consumes: consumes,
		logger:   logger.WithComponent(stage + "-worker"),
	}
}

// txResult collects what a committed transaction should report afterwards.
type txResult struct {
	entries     []audit.Entry
	transitions [][2]document.Status
}

func (r *txResult) record(ctx context.Context, s store.Session, e audit.Entry) error {
	if err := (store.AuditSink{Session: s}).Record(ctx, e); err != nil {
		return err
	}
	r.entries = append(r.entries, e)
	if e.PreviousStatus != "" && e.NewStatus != "" {
		r.transitions = append(r.transitions, [2]document.Status{e.PreviousStatus, e.NewStatus})
	}
	return nil
}

// begin starts the per-message span and tags the logging context with
// documentID.
func (b *base) begin(ctx context.Context, documentID string) (context.Context, *tracing.Span) {
	ctx = logger.WithDocument(ctx, b.stage, documentID)
	return tracing.StartSpan(ctx, b.stage, documentID)
}

// decode parses the event payload. An undecodable payload is discarded and
// leaves a trace in the audit log.
func decode[T any](ctx context.Context, b *base, value []byte) (T, error) {
	event, err := kafka.DecodeJSON[T](value)
	if err != nil {
		b.discard(ctx, "", "undecodable payload", err)
		return event, apperrors.Discard("undecodable payload", err)
	}
	return event, nil
}

// load checks the status this stage consumes in a short transaction. The
// row lock is released before the stage does its work.
func (b *base) load(ctx context.Context, documentID string) (*document.Document, error) {
	if documentID == "" {
		b.discard(ctx, "", "missing document id", nil)
		return nil, apperrors.Discard("missing document id", apperrors.ErrInvalidInput)
	}
	var doc *document.Document
	err := b.Store.InTx(ctx, func(s store.Session) error {
		d, err := b.lock(ctx, s, documentID)
		doc = d
		return err
	})
	if err != nil {
		return nil, b.classify(ctx, documentID, err)
	}
	return doc, nil
}

// lock re-reads and locks the document inside a transaction, re-checking
// the status in case a duplicate delivery won the race.
func (b *base) lock(ctx context.Context, s store.Session, documentID string) (*document.Document, error) {
	doc, err := s.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if err := document.Guard(doc, b.consumes); err != nil {
		return nil, err
	}
	return doc, nil
}

// classify maps a load or transaction error to the handler outcome.
func (b *base) classify(ctx context.Context, documentID string, err error) error {
	log := logger.FromContext(ctx)
	var precondition *document.PreconditionError
	switch {
	case errors.Is(err, apperrors.ErrDocumentNotFound):
		log.Error("document not found, discarding message")
		b.discard(ctx, documentID, "document not found", err)
		return apperrors.Discard("document not found", err)
	case errors.As(err, &precondition):
		log.Warn("document not in expected status, skipping",
			"expected", precondition.Expected,
			"actual", precondition.Actual,
		)
		return apperrors.Discard("status precondition", err)
	case apperrors.IsDiscarded(err), apperrors.IsContained(err):
		return err
	default:
		return apperrors.Infrastructure(b.stage+" stage", err)
	}
}

func (b *base) discard(ctx context.Context, documentID, reason string, err error) {
	attrs := map[string]any{"stage": b.stage, "reason": reason}
	if err != nil {
		attrs["error"] = err.Error()
	}
	entry := audit.New(audit.ActionStageDiscarded, documentID, attrs).Failed()
	if recErr := b.Audit.Record(ctx, entry); recErr != nil {
		logger.FromContext(ctx).Warn("audit record failed", "error", recErr)
	}
}

// commit runs fn in a transaction and, once committed, mirrors the audit
// entries and transition metrics.
func (b *base) commit(ctx context.Context, documentID string, fn func(store.Session, *txResult) error) error {
	var res txResult
	err := b.Store.InTx(ctx, func(s store.Session) error {
		res = txResult{}
		return fn(s, &res)
	})
	if err != nil {
		return b.classify(ctx, documentID, err)
	}
	for _, e := range res.entries {
		if recErr := b.Audit.Record(ctx, e); recErr != nil {
			logger.FromContext(ctx).Warn("audit mirror failed", "action", e.Action, "error", recErr)
		}
	}
	for _, t := range res.transitions {
		b.Metrics.ObserveTransition(string(t[0]), string(t[1]))
	}
	return nil
}

// fail moves the document to FAILED, records why, and returns the stage
// error for the consumer to dead-letter.
func (b *base) fail(ctx context.Context, documentID, action string, cause *apperrors.StageError) error {
	err := b.commit(ctx, documentID, func(s store.Session, res *txResult) error {
		doc, err := b.lock(ctx, s, documentID)
		if err != nil {
			return err
		}
		prev, err := document.Transition(doc, b.consumes, document.StatusFailed)
		if err != nil {
			return err
		}
		doc.Set(document.MetaError, cause.Err.Error())
		doc.Set(document.MetaErrorType, cause.Type)
		doc.Set(document.MetaFailedStage, b.stage)
		if err := s.UpdateDocument(ctx, doc); err != nil {
			return err
		}
		entry := audit.New(action, documentID, map[string]any{
			"error":      cause.Err.Error(),
			"error_type": cause.Type,
		}).Transition(prev, document.StatusFailed).Failed()
		return res.record(ctx, s, entry)
	})
	if err != nil {
		return err
	}
	logger.FromContext(ctx).Error("document failed",
		"error", cause.Err,
		"error_type", cause.Type,
	)
	return cause
}

// fetch loads the document's raw content, retrying outages in process. A
// blob that stays unreadable once the retries run out is the document's
// failure; only shutdown leaves the message for redelivery.
func (b *base) fetch(ctx context.Context, doc *document.Document) ([]byte, *apperrors.StageError, error) {
	_, span := tracing.StartChildSpan(ctx, "blob_fetch")
	defer span.End()
	retry := b.FetchRetry
	retry.Retryable = apperrors.IsInfrastructure
	retry.OnRetry = func(int, error, time.Duration) { b.Metrics.ObserveBlobRetry(b.stage) }
	var content []byte
	err := resilience.Retry(ctx, b.stage+" blob fetch", retry, func() error {
		var err error
		content, err = b.Blob.Get(ctx, doc.Location)
		return err
	})
	if err == nil {
		span.SetAttr("bytes", len(content))
		return content, nil, nil
	}
	if ctx.Err() != nil {
		return nil, nil, apperrors.Infrastructure("fetching "+doc.Location, err)
	}
	span.SetAttr("error", err.Error())
	return nil, apperrors.NewStageFailure(b.stage, doc.ID, fmt.Errorf("fetching %s: %w", doc.Location, err)), nil
}
