package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// OutboxEvent holds the schema definition for the OutboxEvent entity.
//
// One durable row per TimelineEvent, inserted in the same transaction as
// the event (pkg/outbox.Writer), drained by a pool of worker goroutines
// (pkg/outbox.Worker) that claim rows with SELECT ... FOR UPDATE SKIP
// LOCKED, push them to the broker, and advance status with exponential
// backoff on failure — see spec §4.7 for the full state machine.
type OutboxEvent struct {
	ent.Schema
}

// Fields of the OutboxEvent.
func (OutboxEvent) Fields() []ent.Field {
	return []ent.Field{
		field.String("event_id").
			Unique().
			Immutable(),
		field.String("session_id").
			Immutable(),
		field.String("channel").
			Default("timeline"),
		field.JSON("payload", map[string]interface{}{}),
		field.Enum("status").
			Values("pending", "processing", "delivered", "failed", "dead_letter", "consumed").
			Default("pending"),
		field.Int("attempts").
			Default(0),
		field.Int("max_attempts").
			Default(12),
		field.String("last_error").
			Optional().
			Nillable(),
		field.Time("next_retry_at").
			Default(time.Now),
		field.String("locked_by").
			Optional().
			Nillable(),
		field.Time("locked_at").
			Optional().
			Nillable(),
		field.Time("delivered_at").
			Optional().
			Nillable(),
		field.Time("consumed_at").
			Optional().
			Nillable(),
		field.String("consumed_by").
			Optional().
			Nillable(),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
		field.Time("updated_at").
			Default(time.Now).
			UpdateDefault(time.Now),
	}
}

// Indexes of the OutboxEvent.
func (OutboxEvent) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("status", "next_retry_at"),
		index.Fields("status", "created_at"),
	}
}
