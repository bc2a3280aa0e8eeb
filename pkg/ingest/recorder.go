package ingest

import (
	"context"
	"sync"

	"github.com/uniassist/gateway/pkg/contracts"
)

// EventAppender is the durable-append surface the pipeline writes onto;
// satisfied by *outbox.Writer.
type EventAppender interface {
	Append(ctx context.Context, event contracts.TimelineEvent) error
}

// EventRecorder wraps an EventAppender and remembers, per session, every
// event appended through it since the last Drain. The Provider Invoker is
// given the same EventRecorder instance the pipeline itself writes
// through, so the pipeline can observe — and fold into its ack response —
// the ack/assistant-message events a *synchronous* fallback invoke call
// appends on its own, without the invoker needing to return them.
type EventRecorder struct {
	mu         sync.Mutex
	underlying EventAppender
	pending    map[string][]contracts.TimelineEvent
}

// NewEventRecorder builds an EventRecorder over underlying.
func NewEventRecorder(underlying EventAppender) *EventRecorder {
	return &EventRecorder{underlying: underlying, pending: make(map[string][]contracts.TimelineEvent)}
}

// Append appends event and, on success, records it for later Drain.
func (r *EventRecorder) Append(ctx context.Context, event contracts.TimelineEvent) error {
	if err := r.underlying.Append(ctx, event); err != nil {
		return err
	}
	r.mu.Lock()
	r.pending[event.SessionID] = append(r.pending[event.SessionID], event)
	r.mu.Unlock()
	return nil
}

// Drain returns and clears every event recorded for sessionID since the
// last Drain call.
func (r *EventRecorder) Drain(sessionID string) []contracts.TimelineEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	events := r.pending[sessionID]
	delete(r.pending, sessionID)
	return events
}
