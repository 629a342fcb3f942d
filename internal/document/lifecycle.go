package document

import (
	"fmt"

	apperrors "github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/pkg/errors"
)

// Status is the lifecycle state of a document.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusProcessed  Status = "PROCESSED"
	StatusIndexed    Status = "INDEXED"
	StatusFailed     Status = "FAILED"
)

// rank orders the success path; FAILED sits outside it.
var rank = map[Status]int{
	StatusPending:    0,
	StatusProcessing: 1,
	StatusProcessed:  2,
	StatusIndexed:    3,
}

var edges = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusFailed},
	StatusProcessing: {StatusProcessed, StatusFailed},
	StatusProcessed:  {StatusIndexed},
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusProcessed, StatusIndexed, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no stage ever moves a document out of s.
func (s Status) Terminal() bool {
	return s == StatusIndexed || s == StatusFailed
}

func ParseStatus(v string) (Status, error) {
	s := Status(v)
	if !s.Valid() {
		return "", fmt.Errorf("%w: unknown status %q", apperrors.ErrInvalidInput, v)
	}
	return s, nil
}

// CanTransition reports whether from -> to is an edge of the state machine.
func CanTransition(from, to Status) bool {
	for _, next := range edges[from] {
		if next == to {
			return true
		}
	}
	return false
}

// PreconditionError is returned when a stage finds a document in a status
// other than the one it consumes.
type PreconditionError struct {
	DocumentID string
	Expected   Status
	Actual     Status
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("document %s: expected status %s, found %s", e.DocumentID, e.Expected, e.Actual)
}

func (e *PreconditionError) Unwrap() error {
	return apperrors.ErrPrecondition
}

// Guard checks the precondition without mutating doc.
func Guard(doc *Document, expected Status) error {
	if doc.Status != expected {
		return &PreconditionError{DocumentID: doc.ID, Expected: expected, Actual: doc.Status}
	}
	return nil
}

// Transition moves doc from expected to to and returns the previous status.
// It is the only code path that assigns Document.Status after creation.
func Transition(doc *Document, expected, to Status) (Status, error) {
	if err := Guard(doc, expected); err != nil {
		return doc.Status, err
	}
	if !CanTransition(expected, to) {
		return doc.Status, fmt.Errorf("%w: %s -> %s", apperrors.ErrIllegalTransition, expected, to)
	}
	prev := doc.Status
	doc.Status = to
	return prev, nil
}

// ValidateHistory replays a status sequence, as recovered from the audit log,
// and reports the first step that breaks monotonic progress.
func ValidateHistory(history []Status) error {
	for i, s := range history {
		if !s.Valid() {
			return fmt.Errorf("step %d: unknown status %q", i, s)
		}
		if i == 0 {
			continue
		}
		prev := history[i-1]
		if !CanTransition(prev, s) {
			return fmt.Errorf("step %d: %w: %s -> %s", i, apperrors.ErrIllegalTransition, prev, s)
		}
		if s != StatusFailed && rank[s] <= rank[prev] {
			return fmt.Errorf("step %d: status regressed from %s to %s", i, prev, s)
		}
	}
	return nil
}
