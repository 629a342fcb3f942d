// Command ingest-worker consumes document.ingested, checks that each
// PENDING document's content is stored and hands it to the transform stage.
//
// Usage:
//
//	go run ./cmd/ingest-worker [-config configs/development.yaml]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/internal/app"
	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/internal/worker"
	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/pkg/kafka"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := app.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	slog.Info("starting ingest worker")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, "ingest-worker")
	if err != nil {
		slog.Error("failed to initialise dependencies", "error", err)
		os.Exit(1)
	}

	w := worker.NewIngest(a.WorkerDeps(ctx), a.Producer(cfg.Kafka.Topics.ToTransform))
	c := a.Consumer(cfg.Kafka.Topics.Ingested, cfg.Kafka.ConsumerGroups.Ingest, worker.StageIngest, w.Handle)
	slog.Info("ingest worker ready, consuming from kafka",
		"topic", cfg.Kafka.Topics.Ingested,
		"group", cfg.Kafka.ConsumerGroups.Ingest,
	)

	runErr := a.Run(ctx, []*kafka.Consumer{c})
	stop()
	if err := a.Close(); err != nil {
		slog.Error("shutdown error", "error", err)
	}
	if runErr != nil {
		slog.Error("consumer error", "error", runErr)
		os.Exit(1)
	}
	slog.Info("ingest worker stopped")
}
