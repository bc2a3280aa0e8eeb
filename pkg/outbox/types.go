// Package outbox implements the transactional outbox: atomic event+outbox
// writes (C7) and the claim/dispatch/backoff worker pool that drains them
// to the broker with at-least-once semantics (C8).
package outbox

import (
	"context"
	"errors"
	"time"
)

// ErrNoRowsAvailable indicates the claim query found nothing eligible for
// dispatch; the caller should back off and poll again.
var ErrNoRowsAvailable = errors.New("no outbox rows available")

// Broker is the subset of the Event Stream Broker contract (C3, spec
// §4.8) the worker needs: publish one envelope to both the per-session and
// global streams for sessionID.
type Broker interface {
	Publish(ctx context.Context, sessionID string, envelope map[string]interface{}) error
}

// PoolHealth reports aggregate worker-pool health for /health and /metrics.
type PoolHealth struct {
	WorkerCount   int            `json:"workerCount"`
	QueueDepth    int            `json:"queueDepth"`
	DeadLetterCnt int            `json:"deadLetterCount"`
	Workers       []WorkerHealth `json:"workers"`
}

// WorkerHealth reports one worker's last activity.
type WorkerHealth struct {
	ID                string    `json:"id"`
	RowsDispatched    int       `json:"rowsDispatched"`
	RowsFailed        int       `json:"rowsFailed"`
	LastActivity      time.Time `json:"lastActivity"`
}
