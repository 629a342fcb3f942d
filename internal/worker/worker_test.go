package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/internal/audit"
	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/internal/document"
	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/internal/extractor"
	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/internal/search"
	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/internal/search/shard"
	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/internal/store"
	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/pkg/resilience"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memBlob struct {
	objects map[string][]byte
	err     error
	// flaky limits err to the first flaky reads; 0 fails every read.
	flaky int
	gets  int
	onGet func()
}

func (b *memBlob) Get(_ context.Context, location string) ([]byte, error) {
	b.gets++
	if b.onGet != nil {
		b.onGet()
	}
	if b.err != nil && (b.flaky == 0 || b.gets <= b.flaky) {
		return nil, b.err
	}
	content, ok := b.objects[location]
	if !ok {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrBlobNotFound, location)
	}
	return content, nil
}

func (b *memBlob) Put(_ context.Context, location string, content []byte) error {
	b.objects[location] = content
	return nil
}

func (b *memBlob) Close() error { return nil }

type capturePublisher struct {
	mu     sync.Mutex
	events []kafka.Event
	err    error
}

func (p *capturePublisher) Publish(_ context.Context, e kafka.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, e)
	return nil
}

// payload re-encodes the i-th event the way the producer would.
func (p *capturePublisher) payload(t *testing.T, i int) []byte {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	require.Greater(t, len(p.events), i)
	b, err := json.Marshal(p.events[i].Value)
	require.NoError(t, err)
	return b
}

type recordingSink struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (r *recordingSink) Record(_ context.Context, e audit.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return nil
}

func (r *recordingSink) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.Action
	}
	return out
}

type stubIndexer struct {
	err   error
	calls int
}

func (s *stubIndexer) IndexDocument(context.Context, *document.Document, []document.Chunk) error {
	s.calls++
	return s.err
}

type failingEmbedder struct{}

func (failingEmbedder) Embed(context.Context, []document.Chunk) error {
	return errors.New("model server unreachable")
}

// brokerPublisher delivers each event to a consumer goroutine as soon as it
// is published and acks after ackDelay, while the producer's transaction is
// still open.
type brokerPublisher struct {
	deliver  kafka.MessageHandler
	ackDelay time.Duration
	results  chan error
}

func (b *brokerPublisher) Publish(_ context.Context, e kafka.Event) error {
	value, err := json.Marshal(e.Value)
	if err != nil {
		return err
	}
	go func() { b.results <- b.deliver(context.Background(), []byte(e.Key), value) }()
	time.Sleep(b.ackDelay)
	return nil
}

type pipeline struct {
	deps      Deps
	store     *store.Memory
	blob      *memBlob
	sink      *recordingSink
	toXform   *capturePublisher
	toIndex   *capturePublisher
	ingest    *Ingest
	transform *Transform
	index     *Index
}

func newPipeline(t *testing.T, indexer search.Indexer, embedder Embedder) *pipeline {
	t.Helper()
	p := &pipeline{
		store:   store.NewMemory(),
		blob:    &memBlob{objects: map[string][]byte{}},
		sink:    &recordingSink{},
		toXform: &capturePublisher{},
		toIndex: &capturePublisher{},
	}
	now := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	deps := Deps{
		Store: p.store,
		Blob:  p.blob,
		Audit: p.sink,
		Now:   func() time.Time { return now },
		FetchRetry: resilience.RetryConfig{
			MaxAttempts:  3,
			InitialDelay: time.Millisecond,
			MaxDelay:     time.Millisecond,
		},
	}
	p.deps = deps
	p.ingest = NewIngest(deps, p.toXform)
	p.transform = NewTransform(deps, p.toIndex, extractor.New(config.ExtractorConfig{}), embedder,
		config.ChunkerConfig{Size: 512})
	p.index = NewIndex(deps, indexer)
	return p
}

func (p *pipeline) seed(t *testing.T, id, mime string, content []byte) {
	t.Helper()
	location := "tester/2026/03/04/" + id
	if content != nil {
		p.blob.objects[location] = content
	}
	require.NoError(t, p.store.InTx(context.Background(), func(s store.Session) error {
		return s.CreateDocument(context.Background(), &document.Document{
			ID:         id,
			Filename:   id + ".txt",
			MimeType:   mime,
			FileSize:   int64(len(content)),
			Location:   location,
			Checksum:   "sum-" + id,
			UploadedBy: "tester",
			Status:     document.StatusPending,
		})
	}))
}

func (p *pipeline) doc(t *testing.T, id string) *document.Document {
	t.Helper()
	doc, err := p.store.Document(context.Background(), id)
	require.NoError(t, err)
	return doc
}

func event(id string) []byte {
	return []byte(`{"document_id":"` + id + `"}`)
}

func (p *pipeline) history(t *testing.T, id string) []document.Status {
	t.Helper()
	entries, err := p.store.AuditHistory(context.Background(), id)
	require.NoError(t, err)
	return audit.Statuses(entries)
}

func newRouter(t *testing.T) *shard.Router {
	t.Helper()
	r, err := shard.NewRouter(config.SearchConfig{
		DataDir:        t.TempDir(),
		Shards:         2,
		SegmentMaxSize: 1 << 20,
		FlushInterval:  time.Hour,
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func TestPipelineHappyPath(t *testing.T) {
	router := newRouter(t)
	p := newPipeline(t, router, nil)
	ctx := context.Background()
	p.seed(t, "doc-1", "text/plain", []byte("hello world"))

	require.NoError(t, p.ingest.Handle(ctx, nil, event("doc-1")))
	assert.Equal(t, document.StatusProcessing, p.doc(t, "doc-1").Status)
	require.Len(t, p.toXform.events, 1)
	assert.Equal(t, "doc-1", p.toXform.events[0].Key)
	assert.JSONEq(t,
		`{"document_id":"doc-1","filename":"doc-1.txt","mime_type":"text/plain","file_size":11,"uploaded_by":"tester"}`,
		string(p.toXform.payload(t, 0)))

	require.NoError(t, p.transform.Handle(ctx, nil, p.toXform.payload(t, 0)))
	doc := p.doc(t, "doc-1")
	assert.Equal(t, document.StatusProcessed, doc.Status)
	assert.Equal(t, false, doc.Metadata[document.MetaOCRApplied])
	extraction := doc.Metadata[document.MetaExtraction].(map[string]any)
	assert.Equal(t, extractor.MethodDirect, extraction["method"])
	assert.Equal(t, 11, extraction["char_count"])
	chunks, err := p.store.Chunks(ctx, "doc-1")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "hello world", chunks[0].Text)

	require.NoError(t, p.index.Handle(ctx, nil, p.toIndex.payload(t, 0)))
	doc = p.doc(t, "doc-1")
	assert.Equal(t, document.StatusIndexed, doc.Status)
	assert.Equal(t, 1, doc.Metadata[document.MetaIndexedChunks])
	assert.Equal(t, "2026-03-04T05:06:07Z", doc.Metadata[document.MetaIndexedAt])

	hits, err := router.Engines()[router.ShardFor("doc-1")].Search("hello")
	require.NoError(t, err)
	assert.Len(t, hits, 1)

	history := p.history(t, "doc-1")
	assert.Equal(t, []document.Status{
		document.StatusPending, document.StatusProcessing, document.StatusProcessed, document.StatusIndexed,
	}, history)
	require.NoError(t, document.ValidateHistory(history))
	assert.Equal(t, []string{
		audit.ActionIngestProcessed, audit.ActionDocumentProcessed, audit.ActionDocumentIndexed,
	}, p.sink.actions())
}

func TestIngestMissingBlobFailsDocument(t *testing.T) {
	p := newPipeline(t, &stubIndexer{}, nil)
	p.seed(t, "doc-2", "text/plain", nil)

	err := p.ingest.Handle(context.Background(), nil, event("doc-2"))
	require.Error(t, err)
	assert.True(t, apperrors.IsContained(err))
	assert.Equal(t, "blob_not_found", apperrors.ErrorType(err))

	doc := p.doc(t, "doc-2")
	assert.Equal(t, document.StatusFailed, doc.Status)
	assert.Contains(t, doc.Metadata.String(document.MetaError), "blob not found")
	assert.Equal(t, "blob_not_found", doc.Metadata[document.MetaErrorType])
	assert.Equal(t, StageIngest, doc.Metadata[document.MetaFailedStage])
	assert.Empty(t, p.toXform.events)
	assert.Equal(t, []document.Status{document.StatusPending, document.StatusFailed}, p.history(t, "doc-2"))

	err = p.ingest.Handle(context.Background(), nil, event("doc-2"))
	assert.True(t, apperrors.IsDiscarded(err), "FAILED is absorbing")
}

func TestTransformBlobOutageFailsDocument(t *testing.T) {
	p := newPipeline(t, &stubIndexer{}, nil)
	ctx := context.Background()
	p.seed(t, "doc-2", "text/plain", []byte("scanned invoice"))
	require.NoError(t, p.ingest.Handle(ctx, nil, event("doc-2")))
	p.blob.err = apperrors.Infrastructure("reading object", errors.New("503 backend unavailable"))
	p.blob.gets = 0

	err := p.transform.Handle(ctx, nil, event("doc-2"))
	require.Error(t, err)
	assert.True(t, apperrors.IsContained(err))
	assert.Equal(t, 3, p.blob.gets)

	doc := p.doc(t, "doc-2")
	assert.Equal(t, document.StatusFailed, doc.Status)
	assert.Contains(t, doc.Metadata.String(document.MetaError), "503 backend unavailable")
	assert.Equal(t, "infrastructure", doc.Metadata[document.MetaErrorType])
	assert.Equal(t, StageTransform, doc.Metadata[document.MetaFailedStage])
	assert.Empty(t, p.toIndex.events)
	assert.Equal(t, []document.Status{
		document.StatusPending, document.StatusProcessing, document.StatusFailed,
	}, p.history(t, "doc-2"))
}

func TestBlobOutageRecoversWithinRetries(t *testing.T) {
	p := newPipeline(t, &stubIndexer{}, nil)
	p.seed(t, "doc-2", "text/plain", []byte("x"))
	p.blob.err = apperrors.Infrastructure("reading object", errors.New("503"))
	p.blob.flaky = 2

	require.NoError(t, p.ingest.Handle(context.Background(), nil, event("doc-2")))
	assert.Equal(t, 3, p.blob.gets)
	assert.Equal(t, document.StatusProcessing, p.doc(t, "doc-2").Status)
}

func TestShutdownDuringBlobOutageLeavesMessage(t *testing.T) {
	p := newPipeline(t, &stubIndexer{}, nil)
	p.seed(t, "doc-2", "text/plain", []byte("x"))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.blob.err = apperrors.Infrastructure("reading object", errors.New("503"))
	p.blob.onGet = cancel

	err := p.ingest.Handle(ctx, nil, event("doc-2"))
	assert.True(t, apperrors.IsInfrastructure(err))
	assert.False(t, apperrors.IsContained(err))
	assert.Equal(t, document.StatusPending, p.doc(t, "doc-2").Status)
}

func TestIndexWaitsForTransformCommit(t *testing.T) {
	indexer := &stubIndexer{}
	p := newPipeline(t, indexer, nil)
	ctx := context.Background()
	p.seed(t, "doc-9", "text/plain", []byte("race to the index"))
	require.NoError(t, p.ingest.Handle(ctx, nil, event("doc-9")))

	broker := &brokerPublisher{deliver: p.index.Handle, ackDelay: 50 * time.Millisecond, results: make(chan error, 1)}
	transform := NewTransform(p.deps, broker, extractor.New(config.ExtractorConfig{}), nil,
		config.ChunkerConfig{Size: 512})
	require.NoError(t, transform.Handle(ctx, nil, event("doc-9")))

	select {
	case err := <-broker.results:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("index stage did not finish")
	}
	assert.Equal(t, document.StatusIndexed, p.doc(t, "doc-9").Status)
	assert.Equal(t, 1, indexer.calls)
}

func TestIngestPublishFailureRollsBack(t *testing.T) {
	p := newPipeline(t, &stubIndexer{}, nil)
	p.seed(t, "doc-5", "text/plain", []byte("content"))
	p.toXform.err = errors.New("broker down")

	err := p.ingest.Handle(context.Background(), nil, event("doc-5"))
	require.Error(t, err)
	assert.True(t, apperrors.IsInfrastructure(err))
	assert.Equal(t, document.StatusPending, p.doc(t, "doc-5").Status)
	assert.Empty(t, p.history(t, "doc-5"))
	assert.Empty(t, p.sink.entries, "nothing mirrored for a rolled back transaction")

	p.toXform.err = nil
	require.NoError(t, p.ingest.Handle(context.Background(), nil, event("doc-5")))
	assert.Equal(t, document.StatusProcessing, p.doc(t, "doc-5").Status)
}

func TestIndexFailureKeepsProcessedAndReindexRecovers(t *testing.T) {
	indexer := &stubIndexer{err: errors.New("search engine unavailable")}
	p := newPipeline(t, indexer, nil)
	ctx := context.Background()
	p.seed(t, "doc-3", "text/plain", []byte("quarterly report"))
	require.NoError(t, p.ingest.Handle(ctx, nil, event("doc-3")))
	require.NoError(t, p.transform.Handle(ctx, nil, event("doc-3")))

	err := p.index.Handle(ctx, nil, event("doc-3"))
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrIndexStageFailure)
	doc := p.doc(t, "doc-3")
	assert.Equal(t, document.StatusProcessed, doc.Status)
	assert.Equal(t, "search engine unavailable", doc.Metadata[document.MetaIndexationError])
	assert.Equal(t, "internal", doc.Metadata[document.MetaIndexationErrorType])

	indexer.err = nil
	require.NoError(t, p.index.Handle(ctx, nil, event("doc-3")))
	doc = p.doc(t, "doc-3")
	assert.Equal(t, document.StatusIndexed, doc.Status)
	assert.NotContains(t, doc.Metadata, document.MetaIndexationError)
	assert.NotContains(t, doc.Metadata, document.MetaIndexationErrorType)
	assert.Equal(t, 2, indexer.calls)
	require.NoError(t, document.ValidateHistory(p.history(t, "doc-3")))
}

func TestIndexWithoutChunks(t *testing.T) {
	indexer := &stubIndexer{}
	p := newPipeline(t, indexer, nil)
	p.seed(t, "doc-6", "text/plain", nil)
	require.NoError(t, p.store.InTx(context.Background(), func(s store.Session) error {
		doc, err := s.GetDocument(context.Background(), "doc-6")
		if err != nil {
			return err
		}
		doc.Status = document.StatusProcessed
		return s.UpdateDocument(context.Background(), doc)
	}))

	err := p.index.Handle(context.Background(), nil, event("doc-6"))
	assert.True(t, apperrors.IsContained(err))
	assert.Zero(t, indexer.calls)
	doc := p.doc(t, "doc-6")
	assert.Equal(t, document.StatusProcessed, doc.Status)
	assert.Equal(t, "no chunks found", doc.Metadata[document.MetaIndexationError])
}

func TestDuplicateTransformIsNoOp(t *testing.T) {
	p := newPipeline(t, &stubIndexer{}, nil)
	ctx := context.Background()
	p.seed(t, "doc-4", "text/plain", []byte("duplicate delivery"))
	require.NoError(t, p.ingest.Handle(ctx, nil, event("doc-4")))
	require.NoError(t, p.transform.Handle(ctx, nil, event("doc-4")))
	before, err := p.store.Chunks(ctx, "doc-4")
	require.NoError(t, err)

	err = p.transform.Handle(ctx, nil, event("doc-4"))
	assert.True(t, apperrors.IsDiscarded(err))
	assert.ErrorIs(t, err, apperrors.ErrPrecondition)
	after, err := p.store.Chunks(ctx, "doc-4")
	require.NoError(t, err)
	assert.Equal(t, before[0].ID, after[0].ID)
	assert.Len(t, p.toIndex.events, 1)
}

func TestTransformEmptyTextFails(t *testing.T) {
	p := newPipeline(t, &stubIndexer{}, nil)
	ctx := context.Background()
	p.seed(t, "doc-7", "application/x-unknown", []byte("opaque"))
	require.NoError(t, p.ingest.Handle(ctx, nil, event("doc-7")))

	err := p.transform.Handle(ctx, nil, event("doc-7"))
	assert.True(t, apperrors.IsContained(err))
	assert.Equal(t, ErrorTypeEmptyText, apperrors.ErrorType(err))

	doc := p.doc(t, "doc-7")
	assert.Equal(t, document.StatusFailed, doc.Status)
	assert.Contains(t, doc.Metadata.String(document.MetaError), "no text extracted")
	assert.Contains(t, doc.Metadata.String(document.MetaError), "unsupported mime type")
	assert.Empty(t, p.toIndex.events)
	assert.Equal(t, []document.Status{
		document.StatusPending, document.StatusProcessing, document.StatusFailed,
	}, p.history(t, "doc-7"))
}

func TestTransformEmbeddingFailureIsNotFatal(t *testing.T) {
	p := newPipeline(t, &stubIndexer{}, failingEmbedder{})
	ctx := context.Background()
	p.seed(t, "doc-8", "text/plain", []byte("vectors optional"))
	require.NoError(t, p.ingest.Handle(ctx, nil, event("doc-8")))
	require.NoError(t, p.transform.Handle(ctx, nil, event("doc-8")))

	doc := p.doc(t, "doc-8")
	assert.Equal(t, document.StatusProcessed, doc.Status)
	assert.Equal(t, "model server unreachable", doc.Metadata[document.MetaEmbeddingError])
}

func TestUnknownDocumentIsDiscarded(t *testing.T) {
	p := newPipeline(t, &stubIndexer{}, nil)

	err := p.index.Handle(context.Background(), nil, event("missing"))
	assert.True(t, apperrors.IsDiscarded(err))
	assert.ErrorIs(t, err, apperrors.ErrDocumentNotFound)
	require.Len(t, p.sink.entries, 1)
	assert.Equal(t, audit.ActionStageDiscarded, p.sink.entries[0].Action)
	assert.Equal(t, audit.ResultFailure, p.sink.entries[0].Result)
}

func TestUndecodablePayloadIsDiscarded(t *testing.T) {
	p := newPipeline(t, &stubIndexer{}, nil)
	err := p.transform.Handle(context.Background(), nil, []byte(`{not json`))
	assert.True(t, apperrors.IsDiscarded(err))
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	err = p.ingest.Handle(context.Background(), nil, []byte(`{}`))
	assert.True(t, apperrors.IsDiscarded(err))
}

type extractFunc func(ctx context.Context, mimeType string, content []byte) extractor.Result

func (f extractFunc) Extract(ctx context.Context, mimeType string, content []byte) extractor.Result {
	return f(ctx, mimeType, content)
}

func TestTransformTimeoutIsTypedTimeout(t *testing.T) {
	p := newPipeline(t, &stubIndexer{}, nil)
	ctx := context.Background()
	p.transform = NewTransform(p.deps, p.toIndex, extractFunc(func(context.Context, string, []byte) extractor.Result {
		return extractor.Result{Method: "OCR", TimedOut: true, Error: "timed out after 2m0s: context deadline exceeded"}
	}), nil, config.ChunkerConfig{Size: 512})
	p.seed(t, "doc-4", "application/pdf", []byte("%PDF"))
	require.NoError(t, p.ingest.Handle(ctx, nil, event("doc-4")))

	err := p.transform.Handle(ctx, nil, event("doc-4"))
	require.Error(t, err)
	assert.True(t, apperrors.IsContained(err))

	doc := p.doc(t, "doc-4")
	assert.Equal(t, document.StatusFailed, doc.Status)
	assert.Equal(t, "timeout", doc.Metadata[document.MetaErrorType])
	assert.Contains(t, doc.Metadata.String(document.MetaError), "timed out after 2m0s")
}

func TestTransformKeepsTextCutShortByTimeout(t *testing.T) {
	p := newPipeline(t, &stubIndexer{}, nil)
	ctx := context.Background()
	p.transform = NewTransform(p.deps, p.toIndex, extractFunc(func(context.Context, string, []byte) extractor.Result {
		return extractor.Result{Method: "OCR", Text: "first page only", TimedOut: true}
	}), nil, config.ChunkerConfig{Size: 512})
	p.seed(t, "doc-5", "application/pdf", []byte("%PDF"))
	require.NoError(t, p.ingest.Handle(ctx, nil, event("doc-5")))

	require.NoError(t, p.transform.Handle(ctx, nil, event("doc-5")))
	doc := p.doc(t, "doc-5")
	assert.Equal(t, document.StatusProcessed, doc.Status)
	extraction, ok := doc.Metadata[document.MetaExtraction].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, extraction["timed_out"])
}
