package schema

import (
	"entgo.io/ent"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// TimelineEvent holds the schema definition for the TimelineEvent entity.
//
// A single durable, ordered fact within a session. Append-only: never
// updated or deleted by the engine once written. (session_id, seq) is
// globally unique and gapless within a session — enforced by pkg/session's
// single-writer-per-session sequencing, with the unique index here as a
// second line of defence per spec §5.
type TimelineEvent struct {
	ent.Schema
}

// Fields of the TimelineEvent.
func (TimelineEvent) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("event_id").
			Unique().
			Immutable(),
		field.String("trace_id").
			Immutable(),
		field.String("session_id").
			Immutable(),
		field.String("user_id").
			Immutable(),
		field.String("provider_id").
			Optional().
			Nillable().
			Immutable(),
		field.String("run_id").
			Optional().
			Nillable().
			Immutable(),
		field.Int("seq").
			Immutable().
			Comment("assigned from session.seq at append time"),
		field.Int64("timestamp_ms").
			Immutable(),
		field.Enum("kind").
			Values(
				"inbound",
				"routing_decision",
				"provider_run",
				"interaction",
				"user_interaction",
				"domain_event",
			).
			Immutable(),
		field.String("extension_kind").
			Optional().
			Nillable().
			Immutable().
			Comment("sub-type discriminator, interaction events only"),
		field.String("render_schema_ref").
			Optional().
			Nillable().
			Immutable(),
		field.JSON("payload", map[string]interface{}{}).
			Immutable(),
	}
}

// Indexes of the TimelineEvent.
func (TimelineEvent) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("session_id", "seq").
			Unique(),
		index.Fields("trace_id"),
	}
}
