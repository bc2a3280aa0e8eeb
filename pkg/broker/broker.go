package broker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// readBlock bounds how long a single ReadGroup call may block, so a
// subscriber's loop periodically wakes to check for context cancellation
// even with no new entries, mirroring the teacher's 100ms NOTIFY poll
// window in NotifyListener.receiveLoop.
const readBlock = 2 * time.Second

// Broker publishes timeline event envelopes onto the per-session and
// global Redis Streams (spec §4.8) and lets the Subscription Surface
// consume them through a shared consumer group. Generalizes the teacher's
// NotifyListener/ConnectionManager pairing: Publish plays the NOTIFY role,
// Subscribe plays the per-connection receive loop, and group
// ensureGroup/reconnect follow the same shape as NotifyListener.Subscribe
// and NotifyListener.reconnect — minus the dedicated-connection machinery,
// since go-redis's XREADGROUP is safe to call concurrently per stream key.
type Broker struct {
	client    StreamClient
	prefix    string
	globalKey string

	ensuredMu sync.Mutex
	ensured   map[string]bool
}

// New builds a Broker over client, namespacing per-session streams under
// prefix and publishing cross-session events to globalKey.
func New(client StreamClient, prefix, globalKey string) *Broker {
	return &Broker{
		client:    client,
		prefix:    prefix,
		globalKey: globalKey,
		ensured:   make(map[string]bool),
	}
}

// SessionStreamKey returns the stream key for sessionID.
func (b *Broker) SessionStreamKey(sessionID string) string {
	return b.prefix + sessionID
}

// GlobalStreamKey returns the cross-session stream key.
func (b *Broker) GlobalStreamKey() string {
	return b.globalKey
}

// Publish appends envelope to sessionID's stream and to the global stream,
// creating the consumer group on first use of each key. Satisfies
// outbox.Broker.
func (b *Broker) Publish(ctx context.Context, sessionID string, envelope map[string]interface{}) error {
	sessionKey := b.SessionStreamKey(sessionID)
	if err := b.ensureGroup(ctx, sessionKey); err != nil {
		return err
	}
	if _, err := b.client.Add(ctx, sessionKey, envelope); err != nil {
		return err
	}

	if err := b.ensureGroup(ctx, b.globalKey); err != nil {
		return err
	}
	if _, err := b.client.Add(ctx, b.globalKey, envelope); err != nil {
		return err
	}
	return nil
}

func (b *Broker) ensureGroup(ctx context.Context, streamKey string) error {
	b.ensuredMu.Lock()
	if b.ensured[streamKey] {
		b.ensuredMu.Unlock()
		return nil
	}
	b.ensuredMu.Unlock()

	if err := b.client.EnsureGroup(ctx, streamKey, groupName); err != nil {
		return fmt.Errorf("ensure group on %s: %w", streamKey, err)
	}

	b.ensuredMu.Lock()
	b.ensured[streamKey] = true
	b.ensuredMu.Unlock()
	return nil
}

// Subscribe starts a live-tail read loop over sessionID's stream under
// consumerID (unique per connection) and returns a channel of delivered
// entries. The channel is closed when ctx is cancelled. A read error backs
// off exponentially (capped at 30s) before retrying, mirroring
// NotifyListener.reconnect.
func (b *Broker) Subscribe(ctx context.Context, sessionID, consumerID string) (<-chan Entry, error) {
	streamKey := b.SessionStreamKey(sessionID)
	if err := b.ensureGroup(ctx, streamKey); err != nil {
		return nil, err
	}

	out := make(chan Entry, 64)
	go b.readLoop(ctx, streamKey, consumerID, out)
	return out, nil
}

func (b *Broker) readLoop(ctx context.Context, streamKey, consumerID string, out chan<- Entry) {
	defer close(out)

	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		entries, err := b.client.ReadGroup(ctx, streamKey, groupName, consumerID, readBlock)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("broker read failed", "stream", streamKey, "error", err, "backoff", backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, 30*time.Second)
			continue
		}
		backoff = time.Second

		for _, entry := range entries {
			select {
			case out <- entry:
			case <-ctx.Done():
				return
			}
		}
	}
}

// Ack acknowledges entryID on sessionID's stream, advancing the consumer
// group's pending list once a live subscriber has flushed the entry —
// feeding the outbox row's delivered → consumed transition (spec §4.7).
func (b *Broker) Ack(ctx context.Context, sessionID, entryID string) error {
	return b.client.Ack(ctx, b.SessionStreamKey(sessionID), groupName, entryID)
}

// Close releases the underlying stream client connection.
func (b *Broker) Close() error {
	return b.client.Close()
}
