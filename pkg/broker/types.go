// Package broker implements the Event Stream Broker (C3): publishing
// timeline event envelopes onto per-session and global Redis Streams, and
// a consumer-group subscription used by the Subscription Surface (C9) for
// live push with at-least-once delivery.
package broker

import (
	"context"
	"errors"
	"time"
)

// groupName is the single consumer group used on every stream so delivered
// entries can be acknowledged once a live subscriber has flushed them.
const groupName = "gateway-subscribers"

// ErrGroupExists names the "group already exists" condition. Neither
// StreamClient in this package returns it: both EnsureGroup implementations
// treat an existing group as success and return nil.
var ErrGroupExists = errors.New("consumer group already exists")

// Entry is one delivered Redis Streams record, decoded for a live
// subscriber.
type Entry struct {
	StreamKey string
	ID        string
	Envelope  map[string]interface{}
}

// StreamClient is the narrow slice of the Redis Streams API the broker
// needs. Concrete Redis access is gated behind this interface so tests can
// fake it in-memory instead of driving a live Redis instance, matching the
// teacher's pattern of testing ConnectionManager against a fake
// CatchupQuerier rather than a real Postgres LISTEN connection.
type StreamClient interface {
	// EnsureGroup creates the consumer group on streamKey if it doesn't
	// already exist, creating the stream itself if necessary.
	EnsureGroup(ctx context.Context, streamKey, group string) error
	// Add appends one entry to streamKey and returns its assigned ID.
	Add(ctx context.Context, streamKey string, envelope map[string]interface{}) (string, error)
	// ReadGroup blocks up to block for new entries on streamKey visible to
	// consumer within group. Returns nil, nil on a timeout with no entries.
	ReadGroup(ctx context.Context, streamKey, group, consumer string, block time.Duration) ([]Entry, error)
	// Ack acknowledges one delivered entry, removing it from the group's
	// pending entries list.
	Ack(ctx context.Context, streamKey, group, id string) error
	// Close releases the underlying connection.
	Close() error
}
