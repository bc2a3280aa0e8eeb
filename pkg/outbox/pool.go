package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/uniassist/gateway/ent"
	"github.com/uniassist/gateway/ent/outboxevent"
	"github.com/uniassist/gateway/pkg/config"
)

// Pool runs a fixed-size group of Workers draining the outbox table, per
// spec §5's "W parallel claim-dispatch tasks (default W=4)". Grounded on
// the teacher's pkg/queue.WorkerPool.
type Pool struct {
	client  *ent.Client
	broker  Broker
	config  config.OutboxConfig
	workers []*Worker

	started bool
}

// NewPool builds a Pool of cfg.WorkerCount workers.
func NewPool(client *ent.Client, broker Broker, cfg config.OutboxConfig) *Pool {
	return &Pool{client: client, broker: broker, config: cfg}
}

// Start spawns the configured number of worker goroutines. Safe to call
// once; subsequent calls are no-ops.
func (p *Pool) Start(ctx context.Context) {
	if p.started {
		slog.Warn("outbox pool already started, ignoring duplicate Start call")
		return
	}
	p.started = true

	slog.Info("starting outbox worker pool", "worker_count", p.config.WorkerCount)
	for i := 0; i < p.config.WorkerCount; i++ {
		w := NewWorker(fmt.Sprintf("outbox-worker-%d", i), p.client, p.broker, p.config)
		p.workers = append(p.workers, w)
		w.Start(ctx)
	}
}

// Stop signals every worker to stop and waits for them to exit, for at most
// config.GracefulShutdownTimeout (without a bound when that is zero). Per
// spec §5, in-flight claims are released without changing row status: rows
// left in "processing" by an interrupted dispatch are reset by a worker's
// watchdog (every ClaimTimeout/2) once their lock is older than ClaimTimeout.
func (p *Pool) Stop() {
	slog.Info("stopping outbox worker pool gracefully")
	done := make(chan struct{})
	go func() {
		for _, w := range p.workers {
			w.Stop()
		}
		close(done)
	}()
	if timeout := p.config.GracefulShutdownTimeout; timeout > 0 {
		select {
		case <-done:
		case <-time.After(timeout):
			slog.Warn("outbox worker pool stop timed out", "timeout", timeout)
			return
		}
	} else {
		<-done
	}
	slog.Info("outbox worker pool stopped")
}

// MarkConsumed implements the outbox row's final delivered → consumed
// transition (spec §4.7), fired once a live subscriber has flushed the
// event over the stream and acknowledged it. Rows already consumed, or
// not found at all (e.g. an envelope the broker never round-tripped
// through the outbox), are left alone.
func (p *Pool) MarkConsumed(ctx context.Context, eventID, consumedBy string) error {
	n, err := p.client.OutboxEvent.Update().
		Where(
			outboxevent.EventIDEQ(eventID),
			outboxevent.StatusNEQ(outboxevent.StatusConsumed),
		).
		SetStatus(outboxevent.StatusConsumed).
		SetConsumedAt(time.Now()).
		SetConsumedBy(consumedBy).
		Save(ctx)
	if err != nil {
		return fmt.Errorf("mark outbox row consumed for event %q: %w", eventID, err)
	}
	if n == 0 {
		slog.Debug("outbox row already consumed or not found", "event_id", eventID)
	}
	return nil
}

// Health aggregates per-worker health plus queue depth and dead-letter
// count for /health and /metrics.
func (p *Pool) Health(ctx context.Context) PoolHealth {
	queueDepth, err := p.client.OutboxEvent.Query().
		Where(outboxevent.StatusIn(outboxevent.StatusPending, outboxevent.StatusFailed)).
		Count(ctx)
	if err != nil {
		slog.Error("failed to query outbox queue depth", "error", err)
	}

	deadLetterCnt, err := p.client.OutboxEvent.Query().
		Where(outboxevent.StatusEQ(outboxevent.StatusDeadLetter)).
		Count(ctx)
	if err != nil {
		slog.Error("failed to query outbox dead-letter count", "error", err)
	}

	workerStats := make([]WorkerHealth, len(p.workers))
	for i, w := range p.workers {
		workerStats[i] = w.Health()
	}

	return PoolHealth{
		WorkerCount:   len(p.workers),
		QueueDepth:    queueDepth,
		DeadLetterCnt: deadLetterCnt,
		Workers:       workerStats,
	}
}
