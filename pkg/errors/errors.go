package errors

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrDocumentNotFound  = errors.New("document not found")
	ErrDocumentExists    = errors.New("document already exists")
	ErrPrecondition      = errors.New("status precondition failed")
	ErrIllegalTransition = errors.New("illegal status transition")
	ErrBlobNotFound      = errors.New("blob not found")
	ErrExtraction        = errors.New("extraction failed")
	ErrStageFailure      = errors.New("stage failure")
	ErrIndexStageFailure = errors.New("index stage failure")
	ErrInfrastructure    = errors.New("infrastructure unavailable")
	ErrInvalidInput      = errors.New("invalid input")
	ErrInternal          = errors.New("internal error")
	ErrTimeout           = errors.New("operation timed out")
	ErrDiscarded         = errors.New("message discarded")
)

// StageError is a document-scoped failure that has already been recorded
// against the document. Kind is ErrStageFailure or ErrIndexStageFailure.
type StageError struct {
	Stage      string
	DocumentID string
	Kind       error
	Type       string
	Err        error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %s stage, document %s: %v", e.Kind.Error(), e.Stage, e.DocumentID, e.Err)
}

func (e *StageError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

func NewStageFailure(stage, documentID string, err error) *StageError {
	return &StageError{
		Stage:      stage,
		DocumentID: documentID,
		Kind:       ErrStageFailure,
		Type:       ErrorType(err),
		Err:        err,
	}
}

func NewIndexStageFailure(documentID string, err error) *StageError {
	return &StageError{
		Stage:      "index",
		DocumentID: documentID,
		Kind:       ErrIndexStageFailure,
		Type:       ErrorType(err),
		Err:        err,
	}
}

// Infrastructure marks err as a broker/store/search outage.
func Infrastructure(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrInfrastructure) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, ErrInfrastructure, err)
}

// IsContained reports whether err was fully handled at the stage boundary.
func IsContained(err error) bool {
	var stageErr *StageError
	return errors.As(err, &stageErr)
}

// IsInfrastructure reports whether err should be retried rather than recorded.
func IsInfrastructure(err error) bool {
	return errors.Is(err, ErrInfrastructure)
}

// ErrorType returns a short, stable classification of err for metadata and
// dead-letter headers.
func ErrorType(err error) string {
	var stageErr *StageError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &stageErr) && stageErr.Type != "":
		return stageErr.Type
	case errors.Is(err, ErrDocumentNotFound):
		return "not_found"
	case errors.Is(err, ErrPrecondition):
		return "precondition"
	case errors.Is(err, ErrBlobNotFound):
		return "blob_not_found"
	case errors.Is(err, ErrExtraction):
		return "extraction"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, ErrInfrastructure):
		return "infrastructure"
	default:
		return "internal"
	}
}

// Discard marks a message that was handled without touching any document:
// unknown ids, stale redeliveries and undecodable payloads.
func Discard(reason string, err error) error {
	if err == nil {
		return fmt.Errorf("%w: %s", ErrDiscarded, reason)
	}
	return fmt.Errorf("%w: %s: %w", ErrDiscarded, reason, err)
}

func IsDiscarded(err error) bool {
	return errors.Is(err, ErrDiscarded)
}
