package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/pkg/kafka"
)

// BatchPublisher is the subset of kafka.Producer the stream sink needs.
type BatchPublisher interface {
	PublishBatch(ctx context.Context, events []kafka.Event) error
}

// StreamSink buffers entries and publishes them to an audit topic either
// when the batch is full or on a timer.
type StreamSink struct {
	producer      BatchPublisher
	mu            sync.Mutex
	buffer        []kafka.Event
	batchSize     int
	flushInterval time.Duration
	logger        *slog.Logger
	done          chan struct{}
}

func NewStreamSink(producer BatchPublisher, batchSize int, flushInterval time.Duration) *StreamSink {
	if batchSize <= 0 {
		batchSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}
	return &StreamSink{
		producer:      producer,
		buffer:        make([]kafka.Event, 0, batchSize),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		logger:        slog.Default().With("component", "audit-stream"),
		done:          make(chan struct{}),
	}
}

// Start launches the background flush loop; it stops when ctx is cancelled
// after a final flush.
func (s *StreamSink) Start(ctx context.Context) {
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.flushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Flush(ctx)
			case <-ctx.Done():
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				s.Flush(flushCtx)
				cancel()
				return
			}
		}
	}()
}

// Record buffers e keyed by document id so one document's trail stays on one
// partition.
func (s *StreamSink) Record(ctx context.Context, e Entry) error {
	s.mu.Lock()
	s.buffer = append(s.buffer, kafka.Event{Key: e.DocumentID, Value: e})
	full := len(s.buffer) >= s.batchSize
	s.mu.Unlock()
	if full {
		s.Flush(ctx)
	}
	return nil
}

// Flush publishes everything buffered. Failed batches are re-queued up to
// three batches' worth; older entries beyond that are dropped.
func (s *StreamSink) Flush(ctx context.Context) {
	s.mu.Lock()
	if len(s.buffer) == 0 {
		s.mu.Unlock()
		return
	}
	batch := s.buffer
	s.buffer = make([]kafka.Event, 0, s.batchSize)
	s.mu.Unlock()

	if err := s.producer.PublishBatch(ctx, batch); err != nil {
		s.logger.Error("audit batch publish failed", "batch_size", len(batch), "error", err)
		s.mu.Lock()
		s.buffer = append(batch, s.buffer...)
		if limit := s.batchSize * 3; len(s.buffer) > limit {
			dropped := len(s.buffer) - limit
			s.buffer = s.buffer[dropped:]
			s.logger.Warn("audit buffer overflow, entries dropped", "dropped", dropped)
		}
		s.mu.Unlock()
		return
	}
	s.logger.Debug("audit batch published", "entries", len(batch))
}

// BufferLen returns the number of entries waiting to be published.
func (s *StreamSink) BufferLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buffer)
}

// Close waits for the flush loop started by Start to exit.
func (s *StreamSink) Close() {
	<-s.done
}
