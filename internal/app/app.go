// Package app assembles the dependencies shared by the pipeline binaries
// from a loaded Config: the document store, blob store, Kafka producers and
// consumers, the audit sinks, metrics and health checks.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/internal/audit"
	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/internal/blob"
	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/internal/embedding"
	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/internal/extractor"
	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/internal/extractor/ocr"
	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/internal/store"
	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/internal/worker"
	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/pkg/postgres"
	pkgredis "github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/pkg/tracing"
	"github.com/prometheus/client_golang/prometheus"
)

// App owns the long-lived clients of one process. Close releases them in
// reverse order of creation.
type App struct {
	Config  *config.Config
	DB      *postgres.Client
	Store   *store.Postgres
	Blob    blob.Store
	Redis   *pkgredis.Client
	Metrics *metrics.Metrics
	Health  *health.Checker

	stream     *audit.StreamSink
	stopStream context.CancelFunc
	closers    []func() error
	logger     *slog.Logger
}

// Load reads the config file, installs the process logger and applies the
// tracing switch.
func Load(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	tracing.SetEnabled(cfg.Tracing.Enabled)
	return cfg, nil
}

// New connects to Postgres and the blob store. Redis is optional: when it is
// disabled or unreachable, delivery attempts are counted per process.
func New(ctx context.Context, cfg *config.Config, service string) (*App, error) {
	a := &App{
		Config:  cfg,
		Metrics: metrics.New(prometheus.DefaultRegisterer),
		Health:  health.NewChecker(service),
		logger:  slog.Default().With("component", "app", "service", service),
	}

	db, err := postgres.New(cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	a.DB = db
	a.Store = store.NewPostgres(db)
	a.closers = append(a.closers, db.Close)
	a.Health.Register("postgres", health.PingCheck(db.Ping, true))
	a.logger.Info("connected to postgres", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)

	bs, err := blob.New(ctx, cfg.Blob)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("opening blob store: %w", err)
	}
	a.Blob = bs
	a.closers = append(a.closers, bs.Close)
	a.Health.Register("blob", health.BlobCheck(bs.Get))
	a.logger.Info("blob store ready", "backend", cfg.Blob.Backend)

	if cfg.Redis.Enabled {
		rc, err := pkgredis.NewClient(cfg.Redis)
		if err != nil {
			a.logger.Warn("redis unavailable, counting delivery attempts in process", "error", err)
		} else {
			a.Redis = rc
			a.closers = append(a.closers, rc.Close)
			a.Health.Register("redis", health.PingCheck(rc.Ping, false))
			a.logger.Info("redis attempt tracker enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.AttemptTTL)
		}
	}
	a.Health.Register("kafka", health.KafkaCheck(cfg.Kafka.Brokers))
	return a, nil
}

// Producer returns a producer for topic that is closed with the App.
func (a *App) Producer(topic string) *kafka.Producer {
	p := kafka.NewProducer(a.Config.Kafka, topic)
	a.closers = append(a.closers, p.Close)
	return p
}

// Consumer builds a consumer for topic wired to its dead-letter companion,
// the attempt tracker and metrics.
func (a *App) Consumer(topic, group, stage string, handler kafka.MessageHandler) *kafka.Consumer {
	opts := []kafka.Option{
		kafka.WithDeadLetter(a.Producer(a.Config.Kafka.DeadLetterTopic(topic))),
		kafka.WithMetrics(a.Metrics),
	}
	if a.Redis != nil {
		opts = append(opts, kafka.WithAttemptCounter(pkgredis.NewAttemptTracker(a.Redis, a.Config.Redis.AttemptTTL)))
	}
	c := kafka.NewConsumer(a.Config.Kafka, topic, group, stage, handler, opts...)
	a.closers = append(a.closers, c.Close)
	return c
}

// AuditSink mirrors committed audit entries to the log and to the audit
// topic. The stream is flushed until ctx is cancelled or the App closes.
func (a *App) AuditSink(ctx context.Context) audit.Sink {
	if a.stream == nil {
		sctx, cancel := context.WithCancel(ctx)
		a.stream = audit.NewStreamSink(a.Producer(a.Config.Kafka.Topics.Audit), 100, 2*time.Second)
		a.stream.Start(sctx)
		a.stopStream = cancel
	}
	return audit.Multi(audit.NewLogSink(), a.stream)
}

// WorkerDeps returns the dependencies every stage worker shares.
func (a *App) WorkerDeps(ctx context.Context) worker.Deps {
	return worker.Deps{
		Store:   a.Store,
		Blob:    a.Blob,
		Audit:   a.AuditSink(ctx),
		Metrics: a.Metrics,
		FetchRetry: resilience.RetryConfig{
			MaxAttempts:  a.Config.Blob.FetchRetry.MaxAttempts,
			InitialDelay: a.Config.Blob.FetchRetry.InitialDelay,
			MaxDelay:     a.Config.Blob.FetchRetry.MaxDelay,
		},
	}
}

// Extractor builds the format extractor with the Tesseract OCR fallback.
func Extractor(cfg config.ExtractorConfig) *extractor.Extractor {
	return extractor.New(cfg, extractor.WithOCR(ocr.New(cfg.OCR, ocr.ExecRunner{})))
}

// Embedder returns the chunk embedder, or nil when embedding is disabled.
func (a *App) Embedder() (worker.Embedder, error) {
	if !a.Config.Embedding.Enabled {
		return nil, nil
	}
	c, err := embedding.New(a.Config.Embedding, a.Metrics)
	if err != nil {
		return nil, fmt.Errorf("creating embedding client: %w", err)
	}
	a.logger.Info("chunk embedding enabled", "model", a.Config.Embedding.Model, "host", a.Config.Embedding.Host)
	return c, nil
}

// ServeMetrics starts the metrics and health server when enabled and
// returns its shutdown function.
func (a *App) ServeMetrics() func(context.Context) error {
	if !a.Config.Metrics.Enabled {
		return func(context.Context) error { return nil }
	}
	return metrics.StartServer(a.Config.Metrics.Port, map[string]http.Handler{
		"/health/live":  a.Health.LiveHandler(),
		"/health/ready": a.Health.ReadyHandler(),
	})
}

// Close flushes the audit stream and closes every client.
func (a *App) Close() error {
	if a.stream != nil {
		a.stopStream()
		a.stream.Close()
		a.stream = nil
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
