// Package provider implements the Provider Invoker (C6): async dispatch
// of invoke/interact calls to external providers (or the in-process
// builtin_chat fallback) with a bounded local retry policy, translating
// any exhausted failure into a locally-synthesised fallback interaction
// rather than ever surfacing an error to the ingest caller.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/uniassist/gateway/pkg/backoff"
	"github.com/uniassist/gateway/pkg/contracts"
)

// maxRetries bounds the invoker's internal retry policy (spec §7: "up to a
// small bound"), shared in shape with the outbox worker's backoff but
// tuned for a synchronous-feeling provider round trip rather than a
// background poll.
const maxRetries = 2

// EventAppender is the subset of outbox.Writer the invoker needs: durable,
// at-least-once append of one timeline event.
type EventAppender interface {
	Append(ctx context.Context, event contracts.TimelineEvent) error
}

// SeqSource hands out the next sequence number for a session. Kept as a
// narrow interface so pkg/provider doesn't need to import pkg/session
// directly; cmd/gateway wires a small adapter closing over session.Engine
// (Get(sessionID).NextSeq()) to satisfy it.
type SeqSource interface {
	NextSeq(sessionID string) (seq int, ok bool)
}

// Invoker dispatches invoke/interact calls to the Transport registered for
// a providerId, retrying locally before falling back to a synthesised
// apology, and appends every resulting interaction onto the timeline via
// an EventAppender.
type Invoker struct {
	transports map[string]Transport
	appender   EventAppender
	runs       *RunStore
	seqs       SeqSource

	backoffBase time.Duration
	backoffMax  time.Duration
	callTimeout time.Duration
}

// NewInvoker builds an Invoker. transports maps providerId to the
// Transport used to reach it; builtin_chat should always be present,
// typically bound to NewBuiltinChatTransport().
func NewInvoker(transports map[string]Transport, appender EventAppender, runs *RunStore, seqs SeqSource) *Invoker {
	return &Invoker{
		transports:  transports,
		appender:    appender,
		runs:        runs,
		seqs:        seqs,
		backoffBase: 100 * time.Millisecond,
		backoffMax:  2 * time.Second,
		callTimeout: defaultTimeout,
	}
}

// Dispatch runs Invoke in its own goroutine against a context detached
// from the originating HTTP request, per spec §4.4: the ingest pipeline
// must never block its response on a provider round trip.
func (i *Invoker) Dispatch(run RunContext, input contracts.UnifiedUserInput, contextPackage map[string]interface{}) {
	go func() {
		ctx := context.Background()
		if err := i.Invoke(ctx, run, input, contextPackage); err != nil {
			slog.Error("provider invoke failed", "run_id", run.RunID, "provider_id", run.ProviderID, "error", err)
		}
	}()
}

// Invoke performs (and retries) one provider invoke call, then appends its
// ack and immediate events to the timeline and updates the run's terminal
// status. Synchronous — callers that must not block use Dispatch.
func (i *Invoker) Invoke(ctx context.Context, run RunContext, input contracts.UnifiedUserInput, contextPackage map[string]interface{}) error {
	run.IdempotencyKey = run.TraceID + ":" + run.ProviderID

	result, err := callWithRetry(ctx, i, run.ProviderID, func(callCtx context.Context, transport Transport) (*InvokeResult, error) {
		return transport.Invoke(callCtx, run.IdempotencyKey, input, contextPackage, run)
	})

	status := "completed"
	if err != nil {
		slog.Warn("provider invoke exhausted retries, using fallback", "run_id", run.RunID, "provider_id", run.ProviderID, "error", err)
		result = fallbackInvokeResult()
		status = "failed"
	}

	events := append([]contracts.InteractionEvent{result.Ack}, result.ImmediateEvents...)
	if err := i.appendEvents(ctx, run, events); err != nil {
		return err
	}

	if i.runs != nil {
		if err := i.runs.UpdateStatus(ctx, run.RunID, status); err != nil {
			return fmt.Errorf("update run status: %w", err)
		}
	}
	return nil
}

// DispatchInteract is Dispatch's counterpart for POST /v0/interact.
func (i *Invoker) DispatchInteract(run RunContext, interaction contracts.UserInteraction, contextPackage map[string]interface{}) {
	go func() {
		ctx := context.Background()
		if err := i.Interact(ctx, run, interaction, contextPackage); err != nil {
			slog.Error("provider interact failed", "run_id", run.RunID, "provider_id", run.ProviderID, "error", err)
		}
	}()
}

// Interact performs (and retries) one provider interact call, appending
// its events to the timeline.
func (i *Invoker) Interact(ctx context.Context, run RunContext, interaction contracts.UserInteraction, contextPackage map[string]interface{}) error {
	run.IdempotencyKey = run.TraceID + ":" + run.RunID + ":interact"

	result, err := callWithRetry(ctx, i, run.ProviderID, func(callCtx context.Context, transport Transport) (*InteractResult, error) {
		return transport.Interact(callCtx, run.IdempotencyKey, interaction, contextPackage, run)
	})

	if err != nil {
		slog.Warn("provider interact exhausted retries, using fallback", "run_id", run.RunID, "provider_id", run.ProviderID, "error", err)
		result = fallbackInteractResult()
	}

	return i.appendEvents(ctx, run, result.Events)
}

// callWithRetry runs fn against the Transport registered for providerID,
// retrying up to maxRetries times with exponential backoff+jitter on
// error (transport failure, timeout, or non-2xx — Transport implementations
// fold all three into a returned error). An unregistered providerID is
// treated as an immediate, non-retryable failure.
func callWithRetry[T any](ctx context.Context, i *Invoker, providerID string, fn func(context.Context, Transport) (*T, error)) (*T, error) {
	transport, ok := i.transports[providerID]
	if !ok {
		return nil, fmt.Errorf("no transport registered for provider %q", providerID)
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := backoff.Compute(attempt, i.backoffBase, i.backoffMax)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, i.callTimeout)
		result, err := fn(callCtx, transport)
		cancel()
		if err == nil {
			return result, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func (i *Invoker) appendEvents(ctx context.Context, run RunContext, events []contracts.InteractionEvent) error {
	for _, event := range events {
		seq, ok := i.seqs.NextSeq(run.SessionID)
		if !ok {
			return fmt.Errorf("session %s not resident, cannot stamp seq", run.SessionID)
		}

		payload, err := interactionPayload(event)
		if err != nil {
			return err
		}

		timelineEvent := contracts.TimelineEvent{
			EventID:     run.RunID + ":" + fmt.Sprintf("%d", seq),
			TraceID:     run.TraceID,
			SessionID:   run.SessionID,
			UserID:      run.UserID,
			ProviderID:  run.ProviderID,
			RunID:       run.RunID,
			Seq:         seq,
			TimestampMs: time.Now().UnixMilli(),
			Kind:        contracts.KindInteraction,
			Payload:     payload,
		}
		if err := i.appender.Append(ctx, timelineEvent); err != nil {
			return fmt.Errorf("append interaction event: %w", err)
		}
	}
	return nil
}

// interactionPayload round-trips an InteractionEvent through JSON into the
// map[string]interface{} shape TimelineEvent.Payload stores, matching how
// every other TimelineEvent kind embeds its typed payload.
func interactionPayload(event contracts.InteractionEvent) (map[string]interface{}, error) {
	encoded, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("encode interaction event: %w", err)
	}
	var payload map[string]interface{}
	if err := json.Unmarshal(encoded, &payload); err != nil {
		return nil, fmt.Errorf("decode interaction event: %w", err)
	}
	return payload, nil
}
