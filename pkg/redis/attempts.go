package redis

import (
	"context"
	"strconv"
	"time"
)

// AttemptTracker counts how many times a Kafka message has failed with an
// infrastructure error, keyed by topic, partition and offset. Counts expire
// after ttl so abandoned keys do not accumulate.
type AttemptTracker struct {
	client *Client
	ttl    time.Duration
}

func NewAttemptTracker(client *Client, ttl time.Duration) *AttemptTracker {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &AttemptTracker{client: client, ttl: ttl}
}

// Increment records one more failed attempt and returns the new total.
func (t *AttemptTracker) Increment(ctx context.Context, topic string, partition int, offset int64) (int, error) {
	return t.client.Count(ctx, attemptKey(topic, partition, offset), t.ttl)
}

// Clear forgets the message once it reached a final outcome.
func (t *AttemptTracker) Clear(ctx context.Context, topic string, partition int, offset int64) error {
	return t.client.Forget(ctx, attemptKey(topic, partition, offset))
}

func attemptKey(topic string, partition int, offset int64) string {
	return Key("attempts", topic, strconv.Itoa(partition), strconv.FormatInt(offset, 10))
}
