// Package kafka provides Kafka producer and consumer clients backed by
// segmentio/kafka-go. The producer serialises events as JSON. The consumer
// hands each message to a MessageHandler and commits its offset only once
// the message reached a final outcome: handled, discarded, or written to the
// topic's dead-letter companion.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/pkg/resilience"
	"github.com/segmentio/kafka-go"
)

// Dead-letter headers.
const (
	HeaderError          = "x-error"
	HeaderErrorType      = "x-error-type"
	HeaderStage          = "x-stage"
	HeaderOriginalTopic  = "x-original-topic"
	HeaderOriginalOffset = "x-original-offset"
	HeaderAttempts       = "x-attempts"
)

// MessageHandler is a callback invoked for each Kafka message. A nil error
// or one wrapping errors.ErrDiscarded commits the offset. A StageError is
// dead-lettered and committed. Anything else is retried.
type MessageHandler func(ctx context.Context, key []byte, value []byte) error

// AttemptCounter tracks failed deliveries of one message across restarts.
type AttemptCounter interface {
	Increment(ctx context.Context, topic string, partition int, offset int64) (int, error)
	Clear(ctx context.Context, topic string, partition int, offset int64) error
}

// MessagePublisher is where dead letters are written.
type MessagePublisher interface {
	PublishMessage(ctx context.Context, msg kafka.Message) error
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads messages from a Kafka topic and dispatches them to a
// MessageHandler.
type Consumer struct {
	reader          messageReader
	topic           string
	stage           string
	handler         MessageHandler
	deadLetters     MessagePublisher
	attempts        AttemptCounter
	retry           resilience.RetryConfig
	deadLetterAfter int
	metrics         *metrics.Metrics
	logger          *slog.Logger
}

// Option customises a Consumer.
type Option func(*Consumer)

// WithDeadLetter routes contained failures and poison messages to p.
func WithDeadLetter(p MessagePublisher) Option {
	return func(c *Consumer) { c.deadLetters = p }
}

// WithAttemptCounter replaces the process-local attempt counter.
func WithAttemptCounter(a AttemptCounter) Option {
	return func(c *Consumer) {
		if a != nil {
			c.attempts = a
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Consumer) { c.metrics = m }
}

// NewConsumer creates a Consumer for topic in the given consumer group.
func NewConsumer(cfg config.KafkaConfig, topic, groupID, stage string, handler MessageHandler, opts ...Option) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       topic,
		GroupID:     groupID,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     500 * time.Millisecond,
		StartOffset: kafka.FirstOffset,
	})
	return newConsumer(r, cfg, topic, stage, handler, opts...)
}

func newConsumer(r messageReader, cfg config.KafkaConfig, topic, stage string, handler MessageHandler, opts ...Option) *Consumer {
	c := &Consumer{
		reader:  r,
		topic:   topic,
		stage:   stage,
		handler: handler,
		retry: resilience.RetryConfig{
			MaxAttempts:  cfg.Retry.MaxAttempts,
			InitialDelay: cfg.Retry.InitialDelay,
			MaxDelay:     cfg.Retry.MaxDelay,
			Retryable:    retryable,
		},
		deadLetterAfter: cfg.DeadLetterAfter,
		attempts:        newLocalAttempts(),
		logger:          slog.Default().With("component", "kafka-consumer", "topic", topic, "stage", stage),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func retryable(err error) bool {
	return !apperrors.IsContained(err) && !apperrors.IsDiscarded(err)
}

// Start enters the consume loop. It returns nil once ctx is cancelled and a
// non-nil error when a message could not reach a final outcome; the caller
// is expected to exit so the uncommitted message is redelivered.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("consumer started")
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("consumer stopping", "reason", ctx.Err())
				return nil
			}
			c.logger.Error("failed to fetch message", "error", err)
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return nil
			}
			continue
		}
		if err := c.process(ctx, msg); err != nil {
			if ctx.Err() != nil {
				c.logger.Info("consumer stopping mid-message, offset left uncommitted",
					"partition", msg.Partition, "offset", msg.Offset)
				return nil
			}
			return err
		}
	}
}

func (c *Consumer) process(ctx context.Context, msg kafka.Message) error {
	start := time.Now()
	c.logger.Debug("message received",
		"partition", msg.Partition,
		"offset", msg.Offset,
		"key", string(msg.Key),
		"value_size", len(msg.Value),
	)

	err := resilience.Retry(ctx, c.stage+" handler", c.retry, func() error {
		return c.handle(ctx, msg)
	})

	outcome := metrics.OutcomeSuccess
	switch {
	case err == nil:
	case apperrors.IsDiscarded(err):
		outcome = metrics.OutcomeDiscarded
		c.logger.Info("message discarded", "partition", msg.Partition, "offset", msg.Offset, "reason", err)
	case apperrors.IsContained(err):
		outcome = metrics.OutcomeFailed
		if dlErr := c.deadLetter(ctx, msg, err, 1); dlErr != nil {
			return dlErr
		}
	default:
		if ctx.Err() != nil {
			return err
		}
		n, trackErr := c.attempts.Increment(ctx, c.topic, msg.Partition, msg.Offset)
		if trackErr != nil {
			c.logger.Warn("attempt tracking unavailable", "error", trackErr)
		}
		if trackErr != nil || n < c.deadLetterAfter {
			c.metrics.ObserveMessage(c.stage, metrics.OutcomeRetry, time.Since(start))
			c.logger.Error("message failed, leaving uncommitted for redelivery",
				"partition", msg.Partition,
				"offset", msg.Offset,
				"attempts", n,
				"dead_letter_after", c.deadLetterAfter,
				"error", err,
			)
			return fmt.Errorf("%s stage: message %d/%d: %w", c.stage, msg.Partition, msg.Offset, err)
		}
		outcome = metrics.OutcomeDeadLetter
		if dlErr := c.deadLetter(ctx, msg, err, n); dlErr != nil {
			return dlErr
		}
	}

	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		return apperrors.Infrastructure("committing offset", err)
	}
	if err := c.attempts.Clear(ctx, c.topic, msg.Partition, msg.Offset); err != nil {
		c.logger.Warn("failed to clear attempt counter", "error", err)
	}
	c.metrics.ObserveMessage(c.stage, outcome, time.Since(start))
	return nil
}

// handle runs the handler and turns a panic into an internal error so one
// bad message cannot take the loop down without a chance to dead-letter it.
func (c *Consumer) handle(ctx context.Context, msg kafka.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("handler panic", "partition", msg.Partition, "offset", msg.Offset, "panic", r)
			err = fmt.Errorf("%w: handler panic: %v", apperrors.ErrInternal, r)
		}
	}()
	return c.handler(ctx, msg.Key, msg.Value)
}

func (c *Consumer) deadLetter(ctx context.Context, msg kafka.Message, cause error, attempts int) error {
	errType := apperrors.ErrorType(cause)
	if c.deadLetters == nil {
		c.logger.Warn("no dead-letter topic configured, dropping failed message",
			"partition", msg.Partition, "offset", msg.Offset, "error_type", errType)
		return nil
	}
	dl := kafka.Message{
		Key:   msg.Key,
		Value: msg.Value,
		Headers: append(append([]kafka.Header(nil), msg.Headers...),
			kafka.Header{Key: HeaderError, Value: []byte(cause.Error())},
			kafka.Header{Key: HeaderErrorType, Value: []byte(errType)},
			kafka.Header{Key: HeaderStage, Value: []byte(c.stage)},
			kafka.Header{Key: HeaderOriginalTopic, Value: []byte(c.topic)},
			kafka.Header{Key: HeaderOriginalOffset, Value: []byte(fmt.Sprintf("%d/%d", msg.Partition, msg.Offset))},
			kafka.Header{Key: HeaderAttempts, Value: []byte(strconv.Itoa(attempts))},
		),
	}
	if err := c.deadLetters.PublishMessage(ctx, dl); err != nil {
		return apperrors.Infrastructure("publishing dead letter", err)
	}
	c.metrics.ObserveDeadLetter(c.topic, errType)
	c.logger.Warn("message dead-lettered",
		"partition", msg.Partition,
		"offset", msg.Offset,
		"error_type", errType,
		"attempts", attempts,
	)
	return nil
}

// Close closes the underlying Kafka reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}

// DecodeJSON is a generic helper that unmarshals a Kafka message value into T.
func DecodeJSON[T any](value []byte) (T, error) {
	var result T
	if err := json.Unmarshal(value, &result); err != nil {
		return result, fmt.Errorf("%w: decoding kafka message: %w", apperrors.ErrInvalidInput, err)
	}
	return result, nil
}

// Header returns the value of the named header, or "".
func Header(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

// localAttempts counts failures in memory. Counts are lost on restart, so
// without a shared counter a message is retried until it succeeds.
type localAttempts struct {
	mu     sync.Mutex
	counts map[string]int
}

func newLocalAttempts() *localAttempts {
	return &localAttempts{counts: make(map[string]int)}
}

func (l *localAttempts) Increment(_ context.Context, topic string, partition int, offset int64) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := fmt.Sprintf("%s/%d/%d", topic, partition, offset)
	l.counts[k]++
	return l.counts[k], nil
}

func (l *localAttempts) Clear(_ context.Context, topic string, partition int, offset int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.counts, fmt.Sprintf("%s/%d/%d", topic, partition, offset))
	return nil
}
