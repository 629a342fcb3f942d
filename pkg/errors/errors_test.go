package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStageErrorUnwrap(t *testing.T) {
	cause := fmt.Errorf("fetching blob: %w", ErrBlobNotFound)
	err := NewStageFailure("transform", "doc-2", cause)

	assert.True(t, errors.Is(err, ErrStageFailure))
	assert.True(t, errors.Is(err, ErrBlobNotFound))
	assert.False(t, errors.Is(err, ErrIndexStageFailure))
	assert.Equal(t, "blob_not_found", err.Type)
	assert.True(t, IsContained(fmt.Errorf("handler: %w", err)))
}

func TestIndexStageFailure(t *testing.T) {
	err := NewIndexStageFailure("doc-3", errors.New("segment write failed"))
	assert.True(t, errors.Is(err, ErrIndexStageFailure))
	assert.Equal(t, "index", err.Stage)
	assert.Equal(t, "internal", err.Type)
}

func TestInfrastructure(t *testing.T) {
	assert.Nil(t, Infrastructure("loading document", nil))

	err := Infrastructure("loading document", errors.New("connection refused"))
	assert.True(t, IsInfrastructure(err))
	assert.False(t, IsContained(err))
	assert.Equal(t, err, Infrastructure("again", err))
}

func TestErrorType(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{ErrDocumentNotFound, "not_found"},
		{fmt.Errorf("x: %w", ErrPrecondition), "precondition"},
		{ErrExtraction, "extraction"},
		{context.DeadlineExceeded, "timeout"},
		{Infrastructure("publish", errors.New("broker down")), "infrastructure"},
		{errors.New("boom"), "internal"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ErrorType(tt.err))
	}
}

func TestDiscard(t *testing.T) {
	err := Discard("unknown document", ErrDocumentNotFound)
	assert.True(t, IsDiscarded(err))
	assert.ErrorIs(t, err, ErrDocumentNotFound)
	assert.False(t, IsContained(err))

	assert.True(t, IsDiscarded(Discard("malformed payload", nil)))
	assert.False(t, IsDiscarded(errors.New("other")))
}
