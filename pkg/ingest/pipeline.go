// Package ingest implements the Ingest Pipeline (C5): the single
// Pipeline.Ingest entry point behind POST /v0/ingest, coordinating
// authentication, session/routing, durable append, and provider dispatch
// without owning any storage itself — a thin orchestrator over the
// sharper single-purpose packages, in the shape of the teacher's
// services.AlertService.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uniassist/gateway/pkg/contracts"
	"github.com/uniassist/gateway/pkg/provider"
	"github.com/uniassist/gateway/pkg/security"
	"github.com/uniassist/gateway/pkg/session"
)

// Headers carries the external-source signing envelope (spec §4.1):
// required whenever UnifiedUserInput.Source is anything but "app".
type Headers struct {
	Signature string
	Timestamp string
	Nonce     string
}

// RunStore is the subset of provider.RunStore the pipeline needs: create
// (or recover, on an idempotency-key collision) a ProviderRun row.
type RunStore interface {
	GetOrCreate(ctx context.Context, run provider.RunContext) (runID string, created bool, err error)
}

// Invoker is the subset of provider.Invoker the pipeline needs: a
// synchronous call for the fallback path (so its ack/assistant-message
// land inside this ingest call's response) and an asynchronous dispatch
// for every other selected candidate, plus their POST /v0/interact
// counterparts.
type Invoker interface {
	Invoke(ctx context.Context, run provider.RunContext, input contracts.UnifiedUserInput, contextPackage map[string]interface{}) error
	Dispatch(run provider.RunContext, input contracts.UnifiedUserInput, contextPackage map[string]interface{})
	Interact(ctx context.Context, run provider.RunContext, interaction contracts.UserInteraction, contextPackage map[string]interface{}) error
	DispatchInteract(run provider.RunContext, interaction contracts.UserInteraction, contextPackage map[string]interface{})
}

// Pipeline implements spec §4.1's eleven-step ingest algorithm.
type Pipeline struct {
	sessions *session.Engine
	recorder *EventRecorder
	runs     RunStore
	invoker  Invoker
	verifier *security.SignatureVerifier
	now      func() time.Time
}

// NewPipeline builds a Pipeline. recorder must be the same EventRecorder
// wired into provider.NewInvoker's EventAppender argument, so the
// pipeline can observe events the invoker appends during a synchronous
// fallback call.
func NewPipeline(sessions *session.Engine, recorder *EventRecorder, runs RunStore, invoker Invoker, verifier *security.SignatureVerifier) *Pipeline {
	return &Pipeline{
		sessions: sessions,
		recorder: recorder,
		runs:     runs,
		invoker:  invoker,
		verifier: verifier,
		now:      time.Now,
	}
}

// Ingest runs the full algorithm of spec §4.1 for one POST /v0/ingest
// call. rawBody is the exact request body bytes, needed unmodified for
// HMAC verification of external-source requests.
func (p *Pipeline) Ingest(ctx context.Context, input contracts.UnifiedUserInput, rawBody []byte, headers Headers) (*contracts.AckResponse, error) {
	if err := validate(input); err != nil {
		return nil, err
	}
	if err := p.authenticate(input, rawBody, headers); err != nil {
		return nil, err
	}

	st, rotated, err := p.sessions.Resolve(ctx, input.UserID, input.SessionID)
	if err != nil {
		return nil, fmt.Errorf("resolve session: %w", err)
	}

	var events []contracts.TimelineEvent

	if rotated {
		event, err := p.appendInteraction(ctx, st, input, contracts.InteractionEvent{
			Type: contracts.InteractionAck,
			Text: "Your previous session was idle too long, so a new one was started.",
		})
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}

	inboundPayload, err := toPayload(input)
	if err != nil {
		return nil, fmt.Errorf("encode inbound payload: %w", err)
	}
	inboundEvent, err := p.append(ctx, st, input.TraceID, input.UserID, contracts.KindInbound, inboundPayload, "", "")
	if err != nil {
		return nil, err
	}
	events = append(events, inboundEvent)

	decision, selected, switchSuggestion, driftSuggested := p.sessions.ApplyTurn(st, input.Text)

	routingPayload, err := toPayload(decision)
	if err != nil {
		return nil, fmt.Errorf("encode routing decision: %w", err)
	}
	routingEvent, err := p.append(ctx, st, input.TraceID, input.UserID, contracts.KindRoutingDecision, routingPayload, "", "")
	if err != nil {
		return nil, err
	}
	events = append(events, routingEvent)

	var runs []contracts.ProviderRunRef
	if decision.Fallback != contracts.FallbackNone {
		runRef, runEvents, err := p.dispatchFallback(ctx, st, input, decision.Fallback)
		if err != nil {
			return nil, err
		}
		runs = append(runs, runRef)
		events = append(events, runEvents...)
	} else {
		for _, providerID := range selected {
			runRef, runEvents, err := p.dispatchCandidate(ctx, st, input, providerID)
			if err != nil {
				return nil, err
			}
			runs = append(runs, runRef)
			events = append(events, runEvents...)
		}
	}

	if driftSuggested {
		event, err := p.appendInteraction(ctx, st, input, contracts.InteractionEvent{
			Type: contracts.InteractionCard,
			Text: "This looks like a new topic — start a fresh session?",
			Actions: []contracts.CardAction{
				{ActionID: "new_session:auto", Label: "Start new session"},
			},
		})
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}

	if switchSuggestion != "" {
		event, err := p.appendInteraction(ctx, st, input, contracts.InteractionEvent{
			Type: contracts.InteractionCard,
			Text: fmt.Sprintf("%s looks like a better fit now — switch?", switchSuggestion),
			Actions: []contracts.CardAction{
				{ActionID: "switch_provider:" + switchSuggestion, Label: "Switch provider"},
			},
		})
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}

	p.sessions.PersistAsync(st)

	return &contracts.AckResponse{
		SessionID:        st.ID,
		Rotated:          rotated,
		Routing:          &decision,
		Runs:             runs,
		Events:           events,
		SubscriptionHint: contracts.SubscriptionHint{SessionID: st.ID, Cursor: st.Snapshot().Seq},
	}, nil
}

// dispatchFallback implements spec §4.1 step 6: a single fallback
// ProviderRun, invoked synchronously so its ack and assistant message are
// part of this call's response.
func (p *Pipeline) dispatchFallback(ctx context.Context, st *session.State, input contracts.UnifiedUserInput, fallbackProviderID string) (contracts.ProviderRunRef, []contracts.TimelineEvent, error) {
	run := provider.RunContext{
		RunID:       uuid.New().String(),
		TraceID:     input.TraceID,
		SessionID:   st.ID,
		UserID:      input.UserID,
		ProviderID:  fallbackProviderID,
		Mode:        string(contracts.ModeSync),
		RoutingMode: string(contracts.RoutingFallback),
	}
	run.IdempotencyKey = run.TraceID + ":" + run.ProviderID

	runID, _, err := p.runs.GetOrCreate(ctx, run)
	if err != nil {
		return contracts.ProviderRunRef{}, nil, fmt.Errorf("create fallback run: %w", err)
	}
	run.RunID = runID

	var events []contracts.TimelineEvent

	runEvent, err := p.appendProviderRun(ctx, st, input, run)
	if err != nil {
		return contracts.ProviderRunRef{}, nil, err
	}
	events = append(events, runEvent)

	// The synchronous Invoke call below appends both the "no provider
	// matched" ack and the fallback's assistant message itself (step 6),
	// so unlike dispatchCandidate the pipeline doesn't author its own ack
	// here — that would just duplicate the one the invoker writes.
	p.recorder.Drain(st.ID)
	if err := p.invoker.Invoke(ctx, run, input, nil); err != nil {
		return contracts.ProviderRunRef{}, nil, fmt.Errorf("fallback invoke: %w", err)
	}
	events = append(events, p.recorder.Drain(st.ID)...)

	return contracts.ProviderRunRef{RunID: runID, ProviderID: fallbackProviderID, Mode: contracts.ModeSync, RoutingMode: contracts.RoutingFallback}, events, nil
}

// dispatchCandidate implements spec §4.1 step 7 for one selected,
// above-threshold candidate: a normal ProviderRun, an immediate ack
// interaction, then an asynchronous dispatch to the Provider Invoker.
func (p *Pipeline) dispatchCandidate(ctx context.Context, st *session.State, input contracts.UnifiedUserInput, providerID string) (contracts.ProviderRunRef, []contracts.TimelineEvent, error) {
	run := provider.RunContext{
		RunID:       uuid.New().String(),
		TraceID:     input.TraceID,
		SessionID:   st.ID,
		UserID:      input.UserID,
		ProviderID:  providerID,
		Mode:        string(contracts.ModeAsync),
		RoutingMode: string(contracts.RoutingNormal),
	}
	run.IdempotencyKey = run.TraceID + ":" + run.ProviderID

	runID, _, err := p.runs.GetOrCreate(ctx, run)
	if err != nil {
		return contracts.ProviderRunRef{}, nil, fmt.Errorf("create run for %s: %w", providerID, err)
	}
	run.RunID = runID

	var events []contracts.TimelineEvent

	runEvent, err := p.appendProviderRun(ctx, st, input, run)
	if err != nil {
		return contracts.ProviderRunRef{}, nil, err
	}
	events = append(events, runEvent)

	ackEvent, err := p.appendInteraction(ctx, st, input, contracts.InteractionEvent{Type: contracts.InteractionAck})
	if err != nil {
		return contracts.ProviderRunRef{}, nil, err
	}
	events = append(events, ackEvent)

	p.invoker.Dispatch(run, input, nil)

	return contracts.ProviderRunRef{RunID: runID, ProviderID: providerID, Mode: contracts.ModeAsync, RoutingMode: contracts.RoutingNormal}, events, nil
}

func (p *Pipeline) authenticate(input contracts.UnifiedUserInput, rawBody []byte, headers Headers) error {
	if input.Source == contracts.SourceApp {
		return nil
	}
	if err := p.verifier.Verify(headers.Signature, headers.Timestamp, headers.Nonce, rawBody); err != nil {
		return contracts.NewAPIError(contracts.ErrInvalidSignature, "signature verification failed: %v", err)
	}
	return nil
}

func validate(input contracts.UnifiedUserInput) error {
	switch {
	case input.SchemaVersion != contracts.SchemaVersion:
		return contracts.NewAPIError(contracts.ErrInvalidRequest, "unsupported schemaVersion %q", input.SchemaVersion)
	case input.TraceID == "":
		return contracts.NewAPIError(contracts.ErrInvalidRequest, "traceId is required")
	case input.UserID == "":
		return contracts.NewAPIError(contracts.ErrInvalidRequest, "userId is required")
	case input.SessionID == "":
		return contracts.NewAPIError(contracts.ErrInvalidRequest, "sessionId is required")
	case input.Source == "":
		return contracts.NewAPIError(contracts.ErrInvalidRequest, "source is required")
	case input.TimestampMs <= 0:
		return contracts.NewAPIError(contracts.ErrInvalidRequest, "timestampMs must be positive")
	}
	return nil
}

func (p *Pipeline) appendInteraction(ctx context.Context, st *session.State, input contracts.UnifiedUserInput, interaction contracts.InteractionEvent) (contracts.TimelineEvent, error) {
	return p.appendInteractionFor(ctx, st, input.TraceID, input.UserID, interaction)
}

// appendInteractionFor is appendInteraction without requiring a full
// UnifiedUserInput, for callers (Interact) that only have a traceId/userId
// pair.
func (p *Pipeline) appendInteractionFor(ctx context.Context, st *session.State, traceID, userID string, interaction contracts.InteractionEvent) (contracts.TimelineEvent, error) {
	payload, err := toPayload(interaction)
	if err != nil {
		return contracts.TimelineEvent{}, fmt.Errorf("encode interaction: %w", err)
	}
	return p.append(ctx, st, traceID, userID, contracts.KindInteraction, payload, "", "")
}

func (p *Pipeline) appendProviderRun(ctx context.Context, st *session.State, input contracts.UnifiedUserInput, run provider.RunContext) (contracts.TimelineEvent, error) {
	payload := map[string]interface{}{
		"runId":       run.RunID,
		"providerId":  run.ProviderID,
		"mode":        run.Mode,
		"routingMode": run.RoutingMode,
	}
	return p.append(ctx, st, input.TraceID, input.UserID, contracts.KindProviderRun, payload, run.ProviderID, run.RunID)
}

func (p *Pipeline) append(ctx context.Context, st *session.State, traceID, userID string, kind contracts.EventKind, payload map[string]interface{}, providerID, runID string) (contracts.TimelineEvent, error) {
	seq := st.NextSeq()
	event := contracts.TimelineEvent{
		EventID:     fmt.Sprintf("%s:%d", st.ID, seq),
		TraceID:     traceID,
		SessionID:   st.ID,
		UserID:      userID,
		ProviderID:  providerID,
		RunID:       runID,
		Seq:         seq,
		TimestampMs: p.now().UnixMilli(),
		Kind:        kind,
		Payload:     payload,
	}
	if err := p.recorder.Append(ctx, event); err != nil {
		return contracts.TimelineEvent{}, fmt.Errorf("append %s event: %w", kind, err)
	}
	return event, nil
}

// toPayload round-trips v through JSON into the map[string]interface{}
// shape TimelineEvent.Payload stores, matching how every TimelineEvent
// kind embeds its typed payload (pkg/provider does the same for
// InteractionEvent).
func toPayload(v interface{}) (map[string]interface{}, error) {
	encoded, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var payload map[string]interface{}
	if err := json.Unmarshal(encoded, &payload); err != nil {
		return nil, err
	}
	return payload, nil
}
