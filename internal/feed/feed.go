// Package feed is the boundary to the remote push-based data store: subscription streams of raw
// snapshots and path writes.
package feed

import (
	"context"
	"time"

	"fieldsync/internal/models"
)

// RawSnapshot is an undecoded push from the remote store.
type RawSnapshot struct {
	Topic      models.Topic
	Payload    []byte
	ReceivedAt time.Time
}

// Subscriber opens and closes live topic streams.
// The returned channel is closed when the remote side ends the stream or Close is called.
type Subscriber interface {
	Open(ctx context.Context, topic models.Topic) (<-chan RawSnapshot, error)
	Close(topic models.Topic) error
}

// Writer sets a value at a remote path.
type Writer interface {
	Write(ctx context.Context, path string, value any) error
}

// Client is the full external feed.
type Client interface {
	Subscriber
	Writer
}
