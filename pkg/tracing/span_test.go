package tracing

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpanTree(t *testing.T) {
	ctx, root := StartSpan(context.Background(), "transform", "")
	require.NotEmpty(t, root.TraceID)

	_, child := StartChildSpan(ctx, "extract")
	child.SetAttr("method", "OCR")
	child.End()

	assert.Same(t, root, SpanFromContext(ctx))
	require.Len(t, root.Children, 1)
	assert.Equal(t, root.TraceID, child.TraceID)
	assert.Equal(t, "OCR", child.Attrs["method"])
}

func TestFinishLogsOnlyWhenEnabled(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(logger.New(&buf, "info", "json"))
	t.Cleanup(func() {
		slog.SetDefault(prev)
		SetEnabled(false)
	})

	_, span := StartSpan(context.Background(), "index", "trace-1")
	span.Finish()
	assert.Empty(t, buf.String())

	SetEnabled(true)
	ctx, span := StartSpan(context.Background(), "index", "trace-2")
	_, child := StartChildSpan(ctx, "search.index_document")
	child.End()
	span.Finish()
	assert.Contains(t, buf.String(), `"trace_id":"trace-2"`)
	assert.Contains(t, buf.String(), `"span":"search.index_document"`)
}

func TestChildWithoutParent(t *testing.T) {
	_, span := StartChildSpan(context.Background(), "orphan")
	assert.Empty(t, span.TraceID)
	assert.Nil(t, SpanFromContext(context.Background()))
}
