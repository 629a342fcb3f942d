package health

import (
	"context"
	"errors"
	"net"

	apperrors "github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/pkg/errors"
	"github.com/segmentio/kafka-go"
)

// blobCheckLocation is read by BlobCheck. It is never written, so a healthy
// store answers "not found".
const blobCheckLocation = "health/.check"

// PingCheck adapts a ping function into a Check. A failing critical
// collaborator reports down; an optional one reports degraded.
func PingCheck(ping func(ctx context.Context) error, critical bool) Check {
	return func(ctx context.Context) ComponentHealth {
		if err := ping(ctx); err != nil {
			status := StatusDegraded
			if critical {
				status = StatusDown
			}
			return ComponentHealth{Status: status, Message: err.Error()}
		}
		return ComponentHealth{Status: StatusUp}
	}
}

// KafkaCheck dials each broker until one answers.
func KafkaCheck(brokers []string) Check {
	return PingCheck(func(ctx context.Context) error {
		var lastErr error
		for _, b := range brokers {
			conn, err := kafka.DialContext(ctx, "tcp", b)
			if err != nil {
				lastErr = err
				continue
			}
			conn.Close()
			return nil
		}
		if lastErr == nil {
			lastErr = &net.AddrError{Err: "no brokers configured"}
		}
		return lastErr
	}, true)
}

// BlobCheck reads a location that does not exist. A not-found answer proves
// the store is reachable and the credentials work; anything else is down.
func BlobCheck(get func(ctx context.Context, location string) ([]byte, error)) Check {
	return PingCheck(func(ctx context.Context) error {
		_, err := get(ctx, blobCheckLocation)
		if err == nil || errors.Is(err, apperrors.ErrBlobNotFound) {
			return nil
		}
		return err
	}, true)
}
