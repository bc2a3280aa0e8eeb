package outbox

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/uniassist/gateway/ent"
	"github.com/uniassist/gateway/ent/outboxevent"
	"github.com/uniassist/gateway/pkg/backoff"
	"github.com/uniassist/gateway/pkg/config"
)

// claimBatch bounds how many rows a single worker claims per poll.
const claimBatch = 16

// Worker polls the outbox table, claims eligible rows with
// `FOR UPDATE SKIP LOCKED`, dispatches them to the broker, and advances
// their status through the state machine in spec §4.7. Grounded on the
// teacher's pkg/queue.Worker claim-and-process loop.
type Worker struct {
	id     string
	client *ent.Client
	broker Broker
	config config.OutboxConfig

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu             sync.RWMutex
	rowsDispatched int
	rowsFailed     int
	lastActivity   time.Time
}

// NewWorker builds a Worker identified by id.
func NewWorker(id string, client *ent.Client, broker Broker, cfg config.OutboxConfig) *Worker {
	return &Worker{
		id:           id,
		client:       client,
		broker:       broker,
		config:       cfg,
		stopCh:       make(chan struct{}),
		lastActivity: time.Now(),
	}
}

// Start begins the worker's poll loop in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the worker to stop after its current poll and waits for it
// to exit. Safe to call multiple times.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

// Health reports this worker's recent activity counters.
func (w *Worker) Health() WorkerHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WorkerHealth{
		ID:             w.id,
		RowsDispatched: w.rowsDispatched,
		RowsFailed:     w.rowsFailed,
		LastActivity:   w.lastActivity,
	}
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	log := slog.With("worker_id", w.id)
	log.Info("outbox worker started")

	watchdogInterval := w.config.ClaimTimeout / 2
	if watchdogInterval <= 0 {
		watchdogInterval = time.Minute
	}
	watchdog := time.NewTicker(watchdogInterval)
	defer watchdog.Stop()

	for {
		select {
		case <-w.stopCh:
			log.Info("outbox worker shutting down")
			return
		case <-ctx.Done():
			log.Info("context cancelled, outbox worker shutting down")
			return
		case <-watchdog.C:
			if err := w.reclaimStaleLocks(ctx); err != nil {
				log.Warn("failed to reclaim stale outbox locks", "error", err)
			}
		default:
			if err := w.pollAndDispatch(ctx); err != nil {
				if errors.Is(err, ErrNoRowsAvailable) {
					w.sleep(w.pollInterval())
					continue
				}
				log.Error("outbox poll failed", "error", err)
				w.sleep(time.Second)
			}
		}
	}
}

func (w *Worker) sleep(d time.Duration) {
	select {
	case <-w.stopCh:
	case <-time.After(d):
	}
}

// pollAndDispatch claims a batch of eligible rows and dispatches each to
// the broker, advancing its status per spec §4.7's state machine.
func (w *Worker) pollAndDispatch(ctx context.Context) error {
	rows, err := w.claim(ctx)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return ErrNoRowsAvailable
	}

	for _, row := range rows {
		w.dispatch(ctx, row)
	}
	return nil
}

// claim implements the pending/failed → processing transition with
// `SELECT ... FOR UPDATE SKIP LOCKED`, grounded on the teacher's
// pkg/queue.Worker.claimNextSession.
func (w *Worker) claim(ctx context.Context) ([]*ent.OutboxEvent, error) {
	tx, err := w.client.Tx(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now()
	rows, err := tx.OutboxEvent.Query().
		Where(
			outboxevent.StatusIn(outboxevent.StatusPending, outboxevent.StatusFailed),
			outboxevent.NextRetryAtLTE(now),
		).
		Order(ent.Asc(outboxevent.FieldNextRetryAt)).
		Limit(claimBatch).
		ForUpdate(entsql.WithLockAction(entsql.SkipLocked)).
		All(ctx)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, tx.Commit()
	}

	claimed := make([]*ent.OutboxEvent, 0, len(rows))
	for _, row := range rows {
		updated, err := row.Update().
			SetStatus(outboxevent.StatusProcessing).
			SetLockedBy(w.id).
			SetLockedAt(now).
			SetAttempts(row.Attempts + 1).
			Save(ctx)
		if err != nil {
			return nil, err
		}
		claimed = append(claimed, updated)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return claimed, nil
}

// dispatch pushes one claimed row to the broker and advances its terminal
// state: delivered on success, failed (with backoff) or dead_letter on
// exhaustion otherwise.
func (w *Worker) dispatch(ctx context.Context, row *ent.OutboxEvent) {
	err := w.broker.Publish(ctx, row.SessionID, row.Payload)

	w.mu.Lock()
	w.lastActivity = time.Now()
	w.mu.Unlock()

	if err == nil {
		if updateErr := w.client.OutboxEvent.UpdateOneID(row.ID).
			SetStatus(outboxevent.StatusDelivered).
			SetDeliveredAt(time.Now()).
			Exec(ctx); updateErr != nil {
			slog.Error("failed to mark outbox row delivered", "row_id", row.ID, "error", updateErr)
		}
		w.mu.Lock()
		w.rowsDispatched++
		w.mu.Unlock()
		return
	}

	w.mu.Lock()
	w.rowsFailed++
	w.mu.Unlock()

	update := w.client.OutboxEvent.UpdateOneID(row.ID).SetLastError(err.Error())
	if row.Attempts >= row.MaxAttempts {
		update = update.SetStatus(outboxevent.StatusDeadLetter)
	} else {
		delay := backoff.Compute(row.Attempts, w.config.BackoffBase, w.config.BackoffMax)
		update = update.SetStatus(outboxevent.StatusFailed).SetNextRetryAt(time.Now().Add(delay))
	}

	if updateErr := update.Exec(ctx); updateErr != nil {
		slog.Error("failed to record outbox dispatch failure", "row_id", row.ID, "error", updateErr)
	}
}

// reclaimStaleLocks resets rows stuck in "processing" past the configured
// claim timeout back to "pending", covering a worker that crashed
// mid-dispatch.
func (w *Worker) reclaimStaleLocks(ctx context.Context) error {
	claimTimeout := w.config.ClaimTimeout
	if claimTimeout <= 0 {
		claimTimeout = 2 * time.Minute
	}
	cutoff := time.Now().Add(-claimTimeout)
	_, err := w.client.OutboxEvent.Update().
		Where(
			outboxevent.StatusEQ(outboxevent.StatusProcessing),
			outboxevent.LockedAtLTE(cutoff),
		).
		SetStatus(outboxevent.StatusPending).
		SetNextRetryAt(time.Now()).
		Save(ctx)
	return err
}

// pollInterval returns the configured poll interval with jitter.
func (w *Worker) pollInterval() time.Duration {
	base := w.config.PollInterval
	jitter := w.config.PollIntervalJitter
	if jitter <= 0 {
		return base
	}
	offset := time.Duration(rand.Int64N(int64(2 * jitter)))
	return base - jitter + offset
}
