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
	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/internal/search/shard"
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
	slog.Info("starting index worker", "num_shards", cfg.Search.Shards, "data_dir", cfg.Search.DataDir)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, "index-worker")
	if err != nil {
		slog.Error("failed to initialise dependencies", "error", err)
		os.Exit(1)
	}
	router, err := shard.NewRouter(cfg.Search, a.Metrics)
	if err != nil {
		slog.Error("failed to create shard router", "error", err)
		a.Close()
		os.Exit(1)
	}
	router.StartFlushLoops(ctx)

	w := worker.NewIndex(a.WorkerDeps(ctx), router)
	c := a.Consumer(cfg.Kafka.Topics.ToIndex, cfg.Kafka.ConsumerGroups.Index, worker.StageIndex, w.Handle)
	slog.Info("index worker ready, consuming from kafka",
		"topic", cfg.Kafka.Topics.ToIndex,
		"group", cfg.Kafka.ConsumerGroups.Index,
	)

	runErr := a.Run(ctx, []*kafka.Consumer{c})
	stop()

	slog.Info("flushing all shards before shutdown")
	if err := router.Close(); err != nil {
		slog.Error("final flush failed", "error", err)
	}
	if err := a.Close(); err != nil {
		slog.Error("shutdown error", "error", err)
	}
	if runErr != nil {
		slog.Error("consumer error", "error", runErr)
		os.Exit(1)
	}
	slog.Info("index worker stopped")
}
