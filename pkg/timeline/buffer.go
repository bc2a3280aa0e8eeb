package timeline

import (
	"sort"
	"sync"

	"github.com/uniassist/gateway/pkg/contracts"
)

// bufferCap bounds how many recent events the hot buffer keeps per session.
// Sized generously above a typical burst of ingest+routing+provider-run+
// interaction events for a handful of in-flight turns.
const bufferCap = 256

// Buffer is the in-memory catch-up layer described in spec §4.3/§4.9: a
// recent window of events per session, consulted ahead of (and merged
// with) the durable store so a subscriber reconnecting moments after an
// append doesn't have to wait on a round trip to Postgres. Grounded on the
// teacher's pkg/events.ConnectionManager catch-up buffer.
type Buffer struct {
	mu   sync.RWMutex
	byID map[string][]contracts.TimelineEvent
}

// NewBuffer builds an empty hot buffer.
func NewBuffer() *Buffer {
	return &Buffer{byID: make(map[string][]contracts.TimelineEvent)}
}

// Append records an event in the hot buffer, trimming the oldest entries
// once the per-session cap is exceeded.
func (b *Buffer) Append(event contracts.TimelineEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	events := b.byID[event.SessionID]
	events = append(events, event)
	if len(events) > bufferCap {
		events = events[len(events)-bufferCap:]
	}
	b.byID[event.SessionID] = events
}

// Since returns buffered events for sessionID with seq > cursor, ascending.
func (b *Buffer) Since(sessionID string, cursor int) []contracts.TimelineEvent {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []contracts.TimelineEvent
	for _, e := range b.byID[sessionID] {
		if e.Seq > cursor {
			out = append(out, e)
		}
	}
	return out
}

// Merge combines buffered and durable events for one session, deduplicating
// by EventID and sorting ascending by Seq, per spec §4.3's replay/merge
// rule.
func Merge(durable, buffered []contracts.TimelineEvent) []contracts.TimelineEvent {
	seen := make(map[string]contracts.TimelineEvent, len(durable)+len(buffered))
	for _, e := range durable {
		seen[e.EventID] = e
	}
	for _, e := range buffered {
		seen[e.EventID] = e
	}

	merged := make([]contracts.TimelineEvent, 0, len(seen))
	for _, e := range seen {
		merged = append(merged, e)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Seq < merged[j].Seq })
	return merged
}
