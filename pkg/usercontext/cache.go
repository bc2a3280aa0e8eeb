// Package usercontext implements the user-context surface (part of
// C4/C5): a TTL-bounded, read-through snapshot of a user profile
// reference, served to providers via GET /v0/context/users/:profileRef.
package usercontext

import (
	"context"
	"fmt"
	"time"

	"github.com/uniassist/gateway/ent"
)

// DefaultTTL is the lifetime given to a freshly synthesised snapshot
// when no TTL is configured.
const DefaultTTL = 24 * time.Hour

// Snapshot is a user's profile context as served to providers.
type Snapshot struct {
	ProfileRef   string
	UserID       string
	Data         map[string]interface{}
	TTLExpiresAt time.Time
}

// PersistenceErrorRecorder is the subset of pkg/metrics.Registry a
// persistence component needs: one counter bump per failed durable write
// (spec §7). Kept local and narrow so pkg/usercontext never has to import
// pkg/metrics.
type PersistenceErrorRecorder interface {
	IncPersistenceError()
}

// Cache is a read-through, write-through cache over the
// user_context_caches table: a hit within TTL is served straight from the
// row; a miss or an expired row synthesises a default snapshot, persists
// it with a fresh TTL, and returns that.
type Cache struct {
	client  *ent.Client
	ttl     time.Duration
	metrics PersistenceErrorRecorder
}

// NewCache builds a Cache persisting through client, stamping newly
// synthesised snapshots with the given ttl.
func NewCache(client *ent.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{client: client, ttl: ttl}
}

// SetMetrics wires a persistence-error recorder in after construction,
// mirroring pkg/api.Server's SetMetrics/ValidateWiring pattern. Safe to
// leave unset: a nil metrics field is simply skipped.
func (c *Cache) SetMetrics(m PersistenceErrorRecorder) {
	c.metrics = m
}

func (c *Cache) recordPersistenceError() {
	if c.metrics != nil {
		c.metrics.IncPersistenceError()
	}
}

// Get returns the snapshot for profileRef, synthesising and persisting a
// default one on a cache miss or an expired entry. userID identifies the
// caller that owns profileRef when a new row must be created.
func (c *Cache) Get(ctx context.Context, profileRef, userID string) (*Snapshot, error) {
	row, err := c.client.UserContextCache.Get(ctx, profileRef)
	switch {
	case err == nil:
		if time.Now().Before(row.TTLExpiresAt) {
			return snapshotFromEnt(row), nil
		}
		return c.refresh(ctx, profileRef, userID, row.Snapshot)
	case ent.IsNotFound(err):
		return c.refresh(ctx, profileRef, userID, nil)
	default:
		c.recordPersistenceError()
		return nil, fmt.Errorf("load user context %q: %w", profileRef, err)
	}
}

// refresh synthesises a default snapshot (or reuses the carried-forward
// data of an expired one) and writes it through with a fresh TTL.
func (c *Cache) refresh(ctx context.Context, profileRef, userID string, carryForward map[string]interface{}) (*Snapshot, error) {
	data := carryForward
	if data == nil {
		data = defaultSnapshot()
	}
	expiresAt := time.Now().Add(c.ttl)

	row, err := c.client.UserContextCache.Create().
		SetID(profileRef).
		SetUserID(userID).
		SetSnapshot(data).
		SetTTLExpiresAt(expiresAt).
		Save(ctx)
	if err != nil {
		if !ent.IsConstraintError(err) {
			c.recordPersistenceError()
			return nil, fmt.Errorf("create user context %q: %w", profileRef, err)
		}
		row, err = c.client.UserContextCache.UpdateOneID(profileRef).
			SetUserID(userID).
			SetSnapshot(data).
			SetTTLExpiresAt(expiresAt).
			Save(ctx)
		if err != nil {
			c.recordPersistenceError()
			return nil, fmt.Errorf("refresh user context %q: %w", profileRef, err)
		}
	}
	return snapshotFromEnt(row), nil
}

// defaultSnapshot is the opaque profile synthesised on a cache miss, per
// spec §4.5.
func defaultSnapshot() map[string]interface{} {
	return map[string]interface{}{
		"preferences": map[string]interface{}{},
		"traits":      map[string]interface{}{},
	}
}

func snapshotFromEnt(row *ent.UserContextCache) *Snapshot {
	return &Snapshot{
		ProfileRef:   row.ID,
		UserID:       row.UserID,
		Data:         row.Snapshot,
		TTLExpiresAt: row.TTLExpiresAt,
	}
}
