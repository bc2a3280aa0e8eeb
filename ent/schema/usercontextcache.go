package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// UserContextCache holds the schema definition for the UserContextCache
// entity — a TTL-bounded snapshot of a user profile reference, served to
// providers via pkg/usercontext.
type UserContextCache struct {
	ent.Schema
}

// Fields of the UserContextCache.
func (UserContextCache) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("profile_ref").
			Unique().
			Immutable(),
		field.String("user_id"),
		field.JSON("snapshot", map[string]interface{}{}),
		field.Time("ttl_expires_at"),
		field.Time("updated_at").
			Default(time.Now).
			UpdateDefault(time.Now),
	}
}

// Indexes of the UserContextCache.
func (UserContextCache) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("ttl_expires_at"),
	}
}
