//go:build e2e

// Package e2e runs the three stage workers in-process against real
// PostgreSQL and Kafka and follows one upload to INDEXED.
//
// Prerequisites:
//   - PostgreSQL reachable with the credentials in the config file
//   - Kafka reachable, with topic auto-creation enabled
//   - Redis optional
//
// Run with:
//
//	go test -v -tags=e2e -timeout=180s ./test/e2e/...
package e2e

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/internal/app"
	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/internal/audit"
	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/internal/document"
	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/internal/ingestion/publisher"
	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/internal/search/query"
	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/internal/search/shard"
	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/internal/worker"
	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/pkg/kafka"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func TestUploadReachesIndexed(t *testing.T) {
	cfg, err := config.Load(envOrDefault("E2E_CONFIG", "../../configs/development.yaml"))
	require.NoError(t, err)
	cfg.Blob = config.BlobConfig{Backend: "fs", Dir: t.TempDir()}
	cfg.Search.DataDir = t.TempDir()
	cfg.Search.Shards = 2
	cfg.Metrics.Enabled = false
	cfg.Embedding.Enabled = false
	cfg.Kafka.AutoCreateTopics = true

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Second)
	defer cancel()

	a, err := app.New(ctx, cfg, "e2e")
	if err != nil {
		t.Skipf("infrastructure unavailable: %v", err)
	}
	defer a.Close()
	require.NoError(t, a.Store.Migrate(ctx))

	router, err := shard.NewRouter(cfg.Search, a.Metrics)
	require.NoError(t, err)
	defer router.Close()

	deps := a.WorkerDeps(ctx)
	topics, groups := cfg.Kafka.Topics, cfg.Kafka.ConsumerGroups
	ingest := worker.NewIngest(deps, a.Producer(topics.ToTransform))
	transform := worker.NewTransform(deps, a.Producer(topics.ToIndex), app.Extractor(cfg.Extractor), nil, cfg.Chunker)
	index := worker.NewIndex(deps, router)
	consumers := []*kafka.Consumer{
		a.Consumer(topics.Ingested, groups.Ingest, worker.StageIngest, ingest.Handle),
		a.Consumer(topics.ToTransform, groups.Transform, worker.StageTransform, transform.Handle),
		a.Consumer(topics.ToIndex, groups.Index, worker.StageIndex, index.Handle),
	}

	runCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- a.Run(runCtx, consumers) }()
	defer func() {
		stop()
		<-done
	}()

	word := fmt.Sprintf("e2etest%d", time.Now().UnixNano())
	pub := publisher.New(a.Store, a.Blob, a.Producer(topics.Ingested), a.Producer(topics.ToIndex))
	res, err := pub.Upload(ctx, &ingestion.UploadRequest{
		Filename:   word + ".txt",
		MimeType:   "text/plain",
		UploadedBy: "e2e",
		Content:    []byte("End to end test document containing the word " + word + " for verification."),
	})
	require.NoError(t, err)
	t.Logf("uploaded document %s", res.DocumentID)

	require.Eventually(t, func() bool {
		doc, err := a.Store.Document(ctx, res.DocumentID)
		return err == nil && doc.Status == document.StatusIndexed
	}, 90*time.Second, 500*time.Millisecond, "document never reached INDEXED")

	entries, err := a.Store.AuditHistory(ctx, res.DocumentID)
	require.NoError(t, err)
	history := audit.Statuses(entries)
	assert.Equal(t, []document.Status{
		document.StatusPending, document.StatusProcessing, document.StatusProcessed, document.StatusIndexed,
	}, history)
	assert.NoError(t, document.ValidateHistory(history))

	chunks, err := a.Store.Chunks(ctx, res.DocumentID)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	engines := router.Engines()
	shards := make([]query.Shard, len(engines))
	for i, e := range engines {
		shards[i] = e
	}
	result, err := query.NewExecutor(shards).Execute(ctx, query.Parse(word), 5)
	require.NoError(t, err)
	require.NotZero(t, result.TotalHits)
	assert.Equal(t, res.DocumentID, result.Hits[0].DocumentID)
}
