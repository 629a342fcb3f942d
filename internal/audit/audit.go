// Package audit records an append-only trail of lifecycle transitions and
// stage outcomes. Entries are persisted with the state change they describe
// and mirrored to the log and, optionally, a Kafka topic after commit.
package audit

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/internal/document"
)

// Actions recorded by the stages.
const (
	ActionIngestProcessed   = "ingest_processed"
	ActionIngestFailed      = "ingest_failed"
	ActionDocumentProcessed = "document_processed"
	ActionProcessingFailed  = "document_processing_failed"
	ActionDocumentIndexed   = "document_indexed"
	ActionIndexationFailed  = "document_indexation_failed"
	ActionStageDiscarded    = "stage_discarded"
	ActionDocumentUploaded  = "document_uploaded"
	ActionReinjected        = "document_reinjected"
	ResultSuccess           = "success"
	ResultFailure           = "failure"
	ResourceDocument        = "document"
)

// Entry is one audit record.
type Entry struct {
	Action         string          `json:"action"`
	ResourceType   string          `json:"resource_type"`
	DocumentID     string          `json:"document_id"`
	Result         string          `json:"result"`
	PreviousStatus document.Status `json:"previous_status,omitempty"`
	NewStatus      document.Status `json:"new_status,omitempty"`
	Attributes     map[string]any  `json:"attributes,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
}

// New builds a success entry for action on documentID.
func New(action, documentID string, attrs map[string]any) Entry {
	return Entry{
		Action:       action,
		ResourceType: ResourceDocument,
		DocumentID:   documentID,
		Result:       ResultSuccess,
		Attributes:   attrs,
		Timestamp:    time.Now().UTC(),
	}
}

// Transition records a status change.
func (e Entry) Transition(prev, next document.Status) Entry {
	e.PreviousStatus = prev
	e.NewStatus = next
	return e
}

// Failed marks the entry as a failure outcome.
func (e Entry) Failed() Entry {
	e.Result = ResultFailure
	return e
}

// Sink receives audit entries.
type Sink interface {
	Record(ctx context.Context, entry Entry) error
}

// LogSink writes entries through slog.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink() *LogSink {
	return &LogSink{logger: slog.Default().With("component", "audit")}
}

func (s *LogSink) Record(_ context.Context, e Entry) error {
	attrs := []any{
		"action", e.Action,
		"document_id", e.DocumentID,
		"result", e.Result,
	}
	if e.PreviousStatus != "" || e.NewStatus != "" {
		attrs = append(attrs, "previous_status", e.PreviousStatus, "new_status", e.NewStatus)
	}
	for k, v := range e.Attributes {
		attrs = append(attrs, k, v)
	}
	s.logger.Info("audit", attrs...)
	return nil
}

type multi []Sink

// Multi fans an entry out to every sink and joins their errors.
func Multi(sinks ...Sink) Sink {
	return multi(sinks)
}

func (m multi) Record(ctx context.Context, e Entry) error {
	var errs []error
	for _, s := range m {
		if err := s.Record(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Statuses extracts the status sequence an audit history describes: the
// first transition's previous status followed by every new status.
func Statuses(entries []Entry) []document.Status {
	var out []document.Status
	for _, e := range entries {
		if e.NewStatus == "" {
			continue
		}
		if len(out) == 0 && e.PreviousStatus != "" {
			out = append(out, e.PreviousStatus)
		}
		out = append(out, e.NewStatus)
	}
	return out
}
