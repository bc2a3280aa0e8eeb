package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// ProviderRun holds the schema definition for the ProviderRun entity.
//
// One execution of one provider for one ingest trace. idempotencyKey
// collisions are treated as the same run by pkg/provider before a new row
// is ever inserted, so a unique constraint here is a safety net, not the
// primary de-dup mechanism.
type ProviderRun struct {
	ent.Schema
}

// Fields of the ProviderRun.
func (ProviderRun) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("run_id").
			Unique().
			Immutable(),
		field.String("trace_id").
			Immutable(),
		field.String("session_id").
			Immutable(),
		field.String("user_id").
			Immutable(),
		field.String("provider_id").
			Immutable(),
		field.Enum("mode").
			Values("sync", "async").
			Immutable(),
		field.Enum("routing_mode").
			Values("normal", "fallback").
			Immutable(),
		field.String("idempotency_key").
			Unique().
			Immutable(),
		field.String("status").
			Default("in-progress"),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
		field.Time("updated_at").
			Default(time.Now).
			UpdateDefault(time.Now),
	}
}

// Indexes of the ProviderRun.
func (ProviderRun) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("session_id"),
	}
}
