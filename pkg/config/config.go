// Package config provides configuration management for the gateway:
// env-derived runtime settings plus the frozen routing/scoring constants
// the specification requires to default to fixed values.
package config

import (
	"time"

	"github.com/uniassist/gateway/pkg/database"
)

// RoutingConfig holds the scoring parameters used by pkg/session to rank
// providers and detect topic drift / switch suggestions. The numeric
// defaults are frozen by specification; DefaultRoutingConfig returns them
// but the struct may be overridden in tests or non-standard deployments.
type RoutingConfig struct {
	// StickyBase is the keyword score floor once a provider has any
	// keyword hits.
	StickyBase float64
	// StickyPerHit is added per keyword hit, capped by StickyMax.
	StickyPerHit float64
	// StickyMax caps the keyword-derived score (the sticky boost is added
	// on top of it).
	StickyMax float64
	// CandidateThreshold is the minimum score for a provider to be selected.
	CandidateThreshold float64
	// TieMargin: if the top two candidates differ by less than this, the
	// result requires user confirmation.
	TieMargin float64
	// SwitchLeadMargin: a non-sticky provider must lead the sticky provider
	// by at least this much to start or continue a switch-lead streak.
	SwitchLeadMargin float64
	// StickyDecayPerTurn is subtracted from stickyScoreBoost each turn
	// without a sticky hit, floored at 0.
	StickyDecayPerTurn float64
	// DriftThreshold: Jaccard similarity below this resets topic continuity
	// and increments the drift streak.
	DriftThreshold float64
	// DefaultStickyBoost is applied on an explicit switch_provider action.
	DefaultStickyBoost float64
	// SwitchLeadStreakTarget is the number of consecutive leading turns
	// required before a switch suggestion card is emitted.
	SwitchLeadStreakTarget int
}

// DefaultRoutingConfig returns the scoring parameters fixed by specification:
// 0.45, 0.18, 0.55, 0.10, 0.15, 0.03, 0.30.
func DefaultRoutingConfig() RoutingConfig {
	return RoutingConfig{
		StickyBase:             0.45,
		StickyPerHit:           0.18,
		StickyMax:              0.95,
		CandidateThreshold:     0.55,
		TieMargin:              0.10,
		SwitchLeadMargin:       0.15,
		StickyDecayPerTurn:     0.03,
		DriftThreshold:         0.30,
		DefaultStickyBoost:     0.15,
		SwitchLeadStreakTarget: 2,
	}
}

// SecurityConfig holds the adapter-facing authentication settings.
type SecurityConfig struct {
	// AdapterSecret signs/verifies the HMAC-SHA256 signature on inbound
	// external adapter requests.
	AdapterSecret string
	// ProviderContextToken gates getContext(profileRef) bearer auth.
	ProviderContextToken string
	// NonceTTL bounds how long a (timestamp, nonce) pair is remembered for
	// replay rejection.
	NonceTTL time.Duration
	// ClockSkew is the maximum allowed drift between a request's timestamp
	// and server time.
	ClockSkew time.Duration
}

// DefaultSecurityConfig returns the built-in security defaults.
func DefaultSecurityConfig() SecurityConfig {
	return SecurityConfig{
		NonceTTL:  5 * time.Minute,
		ClockSkew: 5 * time.Minute,
	}
}

// StreamConfig holds the event broker's key naming.
type StreamConfig struct {
	// RedisURL is the connection string for the broker.
	RedisURL string
	// Prefix namespaces the per-session stream keys, e.g. "uniassist:session:".
	Prefix string
	// GlobalKey is the stream key used for the cross-session/global channel.
	GlobalKey string
}

// UserContextConfig controls the TTL-bounded profile snapshot cache.
type UserContextConfig struct {
	SnapshotTTL time.Duration
}

// DefaultUserContextConfig returns the built-in default TTL of 24h.
func DefaultUserContextConfig() UserContextConfig {
	return UserContextConfig{SnapshotTTL: 24 * time.Hour}
}

// Config is the umbrella configuration object assembled by Load and
// threaded through cmd/gateway/main.go into every component.
type Config struct {
	Port string

	Database    database.Config
	Stream      StreamConfig
	Security    SecurityConfig
	Outbox      *OutboxConfig
	Routing     RoutingConfig
	UserContext UserContextConfig

	// OutboxInlineDispatch, when true, delivers outbox rows synchronously
	// on the same goroutine that wrote them instead of waiting for a
	// worker poll — useful for tests and low-volume deployments.
	OutboxInlineDispatch bool

	// ProviderBaseURLs maps a providerId to its HTTP base URL.
	ProviderBaseURLs map[string]string
}

// Stats describes a loaded configuration for the GET /health response.
type Stats struct {
	WorkerCount      int
	ProviderCount    int
	InlineDispatch   bool
	NonceTTLSeconds  int
}

// Stats returns a small summary reported in the GET /health response.
func (c *Config) Stats() Stats {
	return Stats{
		WorkerCount:     c.Outbox.WorkerCount,
		ProviderCount:   len(c.ProviderBaseURLs),
		InlineDispatch:  c.OutboxInlineDispatch,
		NonceTTLSeconds: int(c.Security.NonceTTL.Seconds()),
	}
}
