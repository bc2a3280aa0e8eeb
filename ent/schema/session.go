package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// Session holds the schema definition for the Session entity.
//
// A Session is conversational state for one user on one logical
// conversation. It is rotated (new id, seq reset) after an idle period or
// on explicit user request — see pkg/session.
type Session struct {
	ent.Schema
}

// Fields of the Session.
func (Session) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("session_id").
			Unique().
			Immutable(),
		field.String("user_id").
			NotEmpty(),
		field.Int("seq").
			Default(0).
			Comment("last assigned event sequence number"),
		field.Time("last_activity_at").
			Default(time.Now),
		field.String("last_user_text").
			Optional().
			Nillable(),
		field.JSON("topic_state", []string{}).
			Optional().
			Comment("tokenised form of last_user_text, cached for drift comparison"),
		field.Int("topic_drift_streak").
			Default(0),
		field.String("sticky_provider_id").
			Optional().
			Nillable(),
		field.Float("sticky_score_boost").
			Default(0),
		field.String("switch_lead_provider_id").
			Optional().
			Nillable(),
		field.Int("switch_lead_streak").
			Default(0),
		field.Time("last_switch_ts").
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

// Indexes of the Session.
func (Session) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("user_id"),
		index.Fields("last_activity_at"),
	}
}
