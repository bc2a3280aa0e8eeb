package ingest

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/uniassist/gateway/pkg/contracts"
	"github.com/uniassist/gateway/pkg/session"
)

// Events implements POST /v0/events: a provider's bulk out-of-band push of
// interaction and domain events. Per spec §6, the call is bulk and each
// item is independently accepted or rejected with a per-index error; one
// rejected item never aborts the rest of the batch.
func (p *Pipeline) Events(ctx context.Context, items []contracts.BulkEventItem) []contracts.BulkEventResult {
	results := make([]contracts.BulkEventResult, len(items))
	for i, item := range items {
		event, err := p.appendBulkEvent(ctx, item)
		if err != nil {
			results[i] = contracts.BulkEventResult{Index: i, Ok: false, Error: err.Error()}
			continue
		}
		results[i] = contracts.BulkEventResult{Index: i, Ok: true, EventID: event.EventID}
	}
	return results
}

func (p *Pipeline) appendBulkEvent(ctx context.Context, item contracts.BulkEventItem) (contracts.TimelineEvent, error) {
	if err := validateBulkEventItem(item); err != nil {
		return contracts.TimelineEvent{}, err
	}

	st, err := p.sessions.Lookup(ctx, item.SessionID)
	if err != nil {
		if err == session.ErrSessionNotFound {
			return contracts.TimelineEvent{}, fmt.Errorf("session %q not found", item.SessionID)
		}
		return contracts.TimelineEvent{}, fmt.Errorf("lookup session: %w", err)
	}

	// Each pushed item is treated as its own top-level request: a provider
	// batch can carry events belonging to unrelated traces, so there is no
	// single traceId to inherit.
	traceID := uuid.New().String()
	userID := st.Snapshot().UserID

	seq := st.NextSeq()
	event := contracts.TimelineEvent{
		EventID:       fmt.Sprintf("%s:%d", st.ID, seq),
		TraceID:       traceID,
		SessionID:     st.ID,
		UserID:        userID,
		ProviderID:    item.ProviderID,
		RunID:         item.RunID,
		Seq:           seq,
		TimestampMs:   p.now().UnixMilli(),
		Kind:          item.Kind,
		ExtensionKind: item.ExtensionKind,
		Payload:       item.Payload,
	}
	if err := p.recorder.Append(ctx, event); err != nil {
		return contracts.TimelineEvent{}, fmt.Errorf("append event: %w", err)
	}

	p.sessions.PersistAsync(st)
	return event, nil
}

func validateBulkEventItem(item contracts.BulkEventItem) error {
	switch {
	case item.SessionID == "":
		return fmt.Errorf("sessionId is required")
	case item.Kind != contracts.KindInteraction && item.Kind != contracts.KindDomainEvent:
		return fmt.Errorf("kind must be %q or %q", contracts.KindInteraction, contracts.KindDomainEvent)
	}
	return nil
}
