package config

import "time"

// OutboxConfig contains outbox worker pool configuration. These values
// control how pending outbox rows are polled, claimed, and retried.
type OutboxConfig struct {
	// WorkerCount is the number of worker goroutines draining the outbox,
	// each independently claiming rows with SELECT ... FOR UPDATE SKIP LOCKED.
	WorkerCount int `yaml:"worker_count"`

	// PollInterval is the base interval for checking pending rows.
	PollInterval time.Duration `yaml:"poll_interval"`

	// PollIntervalJitter is the random jitter added to PollInterval.
	// Actual interval: PollInterval ± PollIntervalJitter.
	PollIntervalJitter time.Duration `yaml:"poll_interval_jitter"`

	// ClaimTimeout is the maximum time a row may stay locked by a worker
	// before being considered abandoned and reclaimable.
	ClaimTimeout time.Duration `yaml:"claim_timeout"`

	// GracefulShutdownTimeout is the max time to wait for in-flight
	// deliveries to complete during shutdown.
	GracefulShutdownTimeout time.Duration `yaml:"graceful_shutdown_timeout"`

	// MaxAttempts is the default delivery attempt ceiling before a row is
	// moved to dead_letter. Overridable per-row via OutboxEvent.max_attempts.
	MaxAttempts int `yaml:"max_attempts"`

	// BackoffBase is the base delay for exponential backoff between
	// delivery retries.
	BackoffBase time.Duration `yaml:"backoff_base"`

	// BackoffMax caps the exponential backoff delay.
	BackoffMax time.Duration `yaml:"backoff_max"`
}

// DefaultOutboxConfig returns the built-in outbox worker defaults.
func DefaultOutboxConfig() *OutboxConfig {
	return &OutboxConfig{
		WorkerCount:             4,
		PollInterval:            500 * time.Millisecond,
		PollIntervalJitter:      200 * time.Millisecond,
		ClaimTimeout:            2 * time.Minute,
		GracefulShutdownTimeout: 30 * time.Second,
		MaxAttempts:             12,
		BackoffBase:             250 * time.Millisecond,
		BackoffMax:              1 * time.Minute,
	}
}
