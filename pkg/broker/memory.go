package broker

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStreamClient is an in-memory StreamClient used by tests that
// exercise Broker's publish/subscribe/ack logic without a live Redis
// instance, per the gating described in types.go. ReadGroup polls rather
// than blocking on a condition variable — simple and sufficient for test
// use, where streams are short-lived and poll latency doesn't matter.
type MemoryStreamClient struct {
	mu      sync.Mutex
	streams map[string][]memoryEntry
	groups  map[string]map[string]bool // streamKey -> group -> exists
	cursors map[string]map[string]int  // streamKey -> group -> next unread index
}

type memoryEntry struct {
	id       string
	envelope map[string]interface{}
}

// NewMemoryStreamClient builds an empty in-memory stream client.
func NewMemoryStreamClient() *MemoryStreamClient {
	return &MemoryStreamClient{
		streams: make(map[string][]memoryEntry),
		groups:  make(map[string]map[string]bool),
		cursors: make(map[string]map[string]int),
	}
}

func (c *MemoryStreamClient) EnsureGroup(_ context.Context, streamKey, group string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.groups[streamKey] == nil {
		c.groups[streamKey] = make(map[string]bool)
	}
	if c.groups[streamKey][group] {
		return nil
	}
	c.groups[streamKey][group] = true
	if c.cursors[streamKey] == nil {
		c.cursors[streamKey] = make(map[string]int)
	}
	// Mirrors EnsureGroup's "$"-less XGroupCreateMkStream start ID of "0":
	// a freshly created group is entitled to the stream's entire history,
	// not just entries added after it was created.
	c.cursors[streamKey][group] = 0
	return nil
}

func (c *MemoryStreamClient) Add(_ context.Context, streamKey string, envelope map[string]interface{}) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := fmt.Sprintf("%d-0", len(c.streams[streamKey])+1)
	c.streams[streamKey] = append(c.streams[streamKey], memoryEntry{id: id, envelope: envelope})
	return id, nil
}

func (c *MemoryStreamClient) ReadGroup(ctx context.Context, streamKey, group, _ string, block time.Duration) ([]Entry, error) {
	deadline := time.Now().Add(block)
	const pollInterval = 10 * time.Millisecond

	for {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		c.mu.Lock()
		cursor := c.cursors[streamKey][group]
		entries := c.streams[streamKey]
		if cursor < len(entries) {
			pending := entries[cursor:]
			c.cursors[streamKey][group] = len(entries)
			out := make([]Entry, len(pending))
			for i, e := range pending {
				out[i] = Entry{StreamKey: streamKey, ID: e.id, Envelope: e.envelope}
			}
			c.mu.Unlock()
			return out, nil
		}
		c.mu.Unlock()

		if time.Now().After(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

func (c *MemoryStreamClient) Ack(_ context.Context, _, _, _ string) error {
	return nil
}

func (c *MemoryStreamClient) Close() error {
	return nil
}
