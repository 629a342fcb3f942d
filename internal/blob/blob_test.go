package blob

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
)

func TestObjectName(t *testing.T) {
	at := time.Date(2026, 3, 7, 23, 0, 0, 0, time.UTC)
	tests := []struct {
		user, filename, want string
	}{
		{"alice", "report.pdf", "alice/2026/03/07/abc_report.pdf"},
		{"alice", "../../etc/passwd", "alice/2026/03/07/abc_passwd"},
		{"alice", `C:\docs\scan.png`, "alice/2026/03/07/abc_scan.png"},
		{"", "x.txt", "anonymous/2026/03/07/abc_x.txt"},
		{"a/b", "x.txt", "a_b/2026/03/07/abc_x.txt"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ObjectName(tt.user, "abc", tt.filename, at))
	}
}

func TestFSRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := NewFS(t.TempDir())
	require.NoError(t, err)

	loc := "alice/2026/03/07/abc_report.txt"
	require.NoError(t, store.Put(ctx, loc, []byte("hello world")))
	got, err := store.Get(ctx, loc)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(got))

	require.NoError(t, store.Put(ctx, loc, []byte("replaced")))
	got, err = store.Get(ctx, loc)
	require.NoError(t, err)
	assert.Equal(t, "replaced", string(got))
}

func TestFSMissing(t *testing.T) {
	store, err := NewFS(t.TempDir())
	require.NoError(t, err)
	_, err = store.Get(context.Background(), "nobody/here.txt")
	assert.ErrorIs(t, err, apperrors.ErrBlobNotFound)
}

func TestFSRejectsEscape(t *testing.T) {
	store, err := NewFS(t.TempDir())
	require.NoError(t, err)
	for _, loc := range []string{"", "../outside", "/etc/passwd", "a/../../b"} {
		_, err := store.Get(context.Background(), loc)
		assert.ErrorIs(t, err, apperrors.ErrInvalidInput, loc)
	}
}

func TestNewUnknownBackend(t *testing.T) {
	_, err := New(context.Background(), config.BlobConfig{Backend: "s3"})
	assert.Error(t, err)
}

func TestPreconditionFailed(t *testing.T) {
	assert.True(t, isPreconditionFailed(fmt.Errorf("close: %w", &googleapi.Error{Code: 412})))
	assert.False(t, isPreconditionFailed(&googleapi.Error{Code: 500}))
	assert.False(t, isPreconditionFailed(fmt.Errorf("plain")))
}
