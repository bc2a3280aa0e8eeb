package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/uniassist/gateway/ent"
	"github.com/uniassist/gateway/ent/outboxevent"
	"github.com/uniassist/gateway/ent/timelineevent"
	"github.com/uniassist/gateway/pkg/contracts"
	"github.com/uniassist/gateway/pkg/timeline"
)

// PersistenceErrorRecorder is the subset of pkg/metrics.Registry a
// persistence component needs: one counter bump per failed durable write
// (spec §7). Kept local and narrow so pkg/outbox never has to import
// pkg/metrics.
type PersistenceErrorRecorder interface {
	IncPersistenceError()
}

// defaultMaxAttempts matches config.DefaultOutboxConfig's MaxAttempts, used
// when a Writer's maxAttempts hasn't been set via SetMaxAttempts.
const defaultMaxAttempts = 12

// Writer implements the atomic (TimelineEvent + OutboxRow) write described
// in spec §4.6, with an optional inline-dispatch fast path.
type Writer struct {
	client  *ent.Client
	store   *timeline.Store
	broker  Broker
	inline  bool
	streamPrefix string
	globalKey    string
	metrics      PersistenceErrorRecorder
	maxAttempts  int
}

// NewWriter builds a Writer. inline enables the inline-dispatch
// configuration flag from spec §4.6 step 3.
func NewWriter(client *ent.Client, store *timeline.Store, broker Broker, streamPrefix, globalKey string, inline bool) *Writer {
	return &Writer{
		client:       client,
		store:        store,
		broker:       broker,
		inline:       inline,
		streamPrefix: streamPrefix,
		globalKey:    globalKey,
	}
}

// SetMaxAttempts configures the delivery attempt ceiling stamped on newly
// created outbox rows, matching config.OutboxConfig.MaxAttempts. Left
// unset, rows use defaultMaxAttempts.
func (w *Writer) SetMaxAttempts(n int) {
	w.maxAttempts = n
}

func (w *Writer) effectiveMaxAttempts() int {
	if w.maxAttempts <= 0 {
		return defaultMaxAttempts
	}
	return w.maxAttempts
}

// SetMetrics wires a persistence-error recorder in after construction,
// mirroring pkg/api.Server's SetMetrics/ValidateWiring pattern. Safe to
// leave unset: a nil metrics field is simply skipped.
func (w *Writer) SetMetrics(m PersistenceErrorRecorder) {
	w.metrics = m
}

func (w *Writer) recordPersistenceError() {
	if w.metrics != nil {
		w.metrics.IncPersistenceError()
	}
}

// Append inserts event and its matching outbox row in one transaction, per
// spec §4.6. On success it publishes the event into the hot timeline
// buffer and, if inline dispatch is enabled, attempts a synchronous broker
// push before returning.
func (w *Writer) Append(ctx context.Context, event contracts.TimelineEvent) error {
	tx, err := w.client.Tx(ctx)
	if err != nil {
		w.recordPersistenceError()
		return fmt.Errorf("begin outbox tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := insertEvent(ctx, tx, event); err != nil {
		w.recordPersistenceError()
		return fmt.Errorf("insert timeline event: %w", err)
	}

	envelope := w.envelope(event)
	row, err := upsertOutboxRow(ctx, tx, event, envelope, w.effectiveMaxAttempts())
	if err != nil {
		w.recordPersistenceError()
		return fmt.Errorf("upsert outbox row: %w", err)
	}

	if err := tx.Commit(); err != nil {
		w.recordPersistenceError()
		return fmt.Errorf("commit outbox tx: %w", err)
	}

	w.store.RecordAppended(event)

	if w.inline && row != nil && row.Status == outboxevent.StatusPending {
		w.dispatchInline(ctx, event.SessionID, row.ID, envelope)
	}

	return nil
}

func insertEvent(ctx context.Context, tx *ent.Tx, event contracts.TimelineEvent) error {
	create := tx.TimelineEvent.Create().
		SetID(event.EventID).
		SetTraceID(event.TraceID).
		SetSessionID(event.SessionID).
		SetUserID(event.UserID).
		SetSeq(event.Seq).
		SetTimestampMs(event.TimestampMs).
		SetKind(timelineevent.Kind(event.Kind)).
		SetPayload(event.Payload)

	if event.ProviderID != "" {
		create = create.SetProviderID(event.ProviderID)
	}
	if event.RunID != "" {
		create = create.SetRunID(event.RunID)
	}
	if event.ExtensionKind != "" {
		create = create.SetExtensionKind(event.ExtensionKind)
	}
	if event.RenderSchemaRef != "" {
		create = create.SetRenderSchemaRef(event.RenderSchemaRef)
	}

	return create.OnConflict(entsql.ConflictColumns("event_id")).DoNothing().Exec(ctx)
}

// upsertOutboxRow implements spec §4.6 step 2: insert a pending row, unless
// one already exists for this eventId — in which case leave terminal rows
// alone and reset non-terminal rows back to pending.
func upsertOutboxRow(ctx context.Context, tx *ent.Tx, event contracts.TimelineEvent, envelope map[string]interface{}, maxAttempts int) (*ent.OutboxEvent, error) {
	existing, err := tx.OutboxEvent.Query().
		Where(outboxevent.EventIDEQ(event.EventID)).
		Only(ctx)
	if err != nil && !ent.IsNotFound(err) {
		return nil, err
	}

	now := time.Now()

	if existing == nil {
		return tx.OutboxEvent.Create().
			SetEventID(event.EventID).
			SetSessionID(event.SessionID).
			SetChannel("timeline").
			SetPayload(envelope).
			SetStatus(outboxevent.StatusPending).
			SetAttempts(0).
			SetMaxAttempts(maxAttempts).
			SetNextRetryAt(now).
			Save(ctx)
	}

	switch existing.Status {
	case outboxevent.StatusDelivered, outboxevent.StatusConsumed:
		return existing, nil
	default:
		return existing.Update().
			SetStatus(outboxevent.StatusPending).
			SetNextRetryAt(now).
			SetPayload(envelope).
			Save(ctx)
	}
}

func (w *Writer) envelope(event contracts.TimelineEvent) map[string]interface{} {
	return map[string]interface{}{
		"schemaVersion": contracts.SchemaVersion,
		"type":          "timeline_event",
		"event":         event,
		"stream": map[string]interface{}{
			"key":       w.streamPrefix + event.SessionID,
			"globalKey": w.globalKey,
		},
	}
}

// dispatchInline attempts a synchronous broker push for the inline-dispatch
// fast path. Failure here is not fatal: the row is left pending for the
// background Worker to retry.
func (w *Writer) dispatchInline(ctx context.Context, sessionID string, rowID int, envelope map[string]interface{}) {
	if err := w.broker.Publish(ctx, sessionID, envelope); err != nil {
		slog.Warn("inline outbox dispatch failed, leaving row for worker", "session_id", sessionID, "error", err)
		return
	}

	now := time.Now()
	if err := w.client.OutboxEvent.UpdateOneID(rowID).
		SetStatus(outboxevent.StatusDelivered).
		SetDeliveredAt(now).
		Exec(ctx); err != nil {
		slog.Warn("failed to mark inline-dispatched outbox row delivered", "row_id", rowID, "error", err)
	}
}
