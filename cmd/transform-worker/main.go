// Command transform-worker consumes document.to_transform. It extracts text
// (falling back to OCR for scans), splits it into chunks, optionally embeds
// them and marks the document PROCESSED.
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
	slog.Info("starting transform worker",
		"chunk_size", cfg.Chunker.Size,
		"chunk_overlap", cfg.Chunker.Overlap,
		"ocr_min_text_chars", cfg.Extractor.OCR.MinTextChars,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, "transform-worker")
	if err != nil {
		slog.Error("failed to initialise dependencies", "error", err)
		os.Exit(1)
	}
	embedder, err := a.Embedder()
	if err != nil {
		slog.Error("failed to initialise embedder", "error", err)
		a.Close()
		os.Exit(1)
	}

	w := worker.NewTransform(
		a.WorkerDeps(ctx),
		a.Producer(cfg.Kafka.Topics.ToIndex),
		app.Extractor(cfg.Extractor),
		embedder,
		cfg.Chunker,
	)
	c := a.Consumer(cfg.Kafka.Topics.ToTransform, cfg.Kafka.ConsumerGroups.Transform, worker.StageTransform, w.Handle)
	slog.Info("transform worker ready, consuming from kafka",
		"topic", cfg.Kafka.Topics.ToTransform,
		"group", cfg.Kafka.ConsumerGroups.Transform,
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
	slog.Info("transform worker stopped")
}
