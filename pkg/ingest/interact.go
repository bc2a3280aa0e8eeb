package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uniassist/gateway/pkg/contracts"
	"github.com/uniassist/gateway/pkg/provider"
	"github.com/uniassist/gateway/pkg/session"
)

const (
	switchProviderPrefix = "switch_provider:"
	newSessionAutoAction = "new_session:auto"
)

// Interact implements POST /v0/interact: resolve the session the action
// targets, record it as a user_interaction event, then either handle it
// locally (an explicit provider switch or a new-session trigger touch
// nothing but session state) or route it to the Provider Invoker that
// owns the run it replies to.
func (p *Pipeline) Interact(ctx context.Context, interaction contracts.UserInteraction) (*contracts.AckResponse, error) {
	if err := validateInteraction(interaction); err != nil {
		return nil, err
	}

	st, err := p.sessions.Lookup(ctx, interaction.SessionID)
	if err != nil {
		if err == session.ErrSessionNotFound {
			return nil, contracts.NewAPIError(contracts.ErrSessionNotFound, "session %q not found", interaction.SessionID)
		}
		return nil, fmt.Errorf("lookup session: %w", err)
	}

	traceID := uuid.New().String()
	userID := st.Snapshot().UserID

	var events []contracts.TimelineEvent

	userEvent, err := p.appendUserInteraction(ctx, st, traceID, userID, interaction)
	if err != nil {
		return nil, err
	}
	events = append(events, userEvent)

	var runs []contracts.ProviderRunRef

	switch {
	case strings.HasPrefix(interaction.ActionID, switchProviderPrefix):
		event, err := p.applySwitchProvider(ctx, st, traceID, userID, interaction)
		if err != nil {
			return nil, err
		}
		events = append(events, event)

	case interaction.ActionID == newSessionAutoAction:
		// Clearing lastActivityAt makes the next POST /v0/ingest's Resolve
		// treat this session as idle past the threshold and rotate it; here
		// we mark the session and confirm the request was received.
		st.Touch(time.Time{})
		event, err := p.appendInteractionFor(ctx, st, traceID, userID, contracts.InteractionEvent{
			Type: contracts.InteractionAck,
			Text: "Starting a new session on your next message.",
		})
		if err != nil {
			return nil, err
		}
		events = append(events, event)

	default:
		runRef, event, err := p.dispatchInteraction(ctx, st, traceID, userID, interaction)
		if err != nil {
			return nil, err
		}
		runs = append(runs, runRef)
		events = append(events, event)
	}

	p.sessions.PersistAsync(st)

	return &contracts.AckResponse{
		SessionID:        st.ID,
		Runs:             runs,
		Events:           events,
		SubscriptionHint: contracts.SubscriptionHint{SessionID: st.ID, Cursor: st.Snapshot().Seq},
	}, nil
}

// applySwitchProvider implements spec §4.2's explicit switch_provider:<id>
// action: sticky is reassigned immediately and a confirming assistant
// message is appended (S4).
func (p *Pipeline) applySwitchProvider(ctx context.Context, st *session.State, traceID, userID string, interaction contracts.UserInteraction) (contracts.TimelineEvent, error) {
	providerID := strings.TrimPrefix(interaction.ActionID, switchProviderPrefix)
	p.sessions.ApplyExplicitSwitch(st, providerID)

	return p.appendInteractionFor(ctx, st, traceID, userID, contracts.InteractionEvent{
		Type: contracts.InteractionAssistantMessage,
		Text: fmt.Sprintf("Switched to %s.", providerID),
	})
}

// dispatchInteraction routes a non-local interaction to the provider that
// owns interaction.RunID. builtin_chat is invoked synchronously, the same
// asymmetry Ingest applies to the fallback provider, so its reply lands in
// this call's response; every other provider is dispatched asynchronously
// and replies later via the timeline (S2).
func (p *Pipeline) dispatchInteraction(ctx context.Context, st *session.State, traceID, userID string, interaction contracts.UserInteraction) (contracts.ProviderRunRef, contracts.TimelineEvent, error) {
	if interaction.ProviderID == "" {
		return contracts.ProviderRunRef{}, contracts.TimelineEvent{}, contracts.NewAPIError(contracts.ErrInvalidRequest, "providerId is required for action %q", interaction.ActionID)
	}

	run := provider.RunContext{
		RunID:      interaction.RunID,
		TraceID:    traceID,
		SessionID:  st.ID,
		UserID:     userID,
		ProviderID: interaction.ProviderID,
	}

	if run.ProviderID == provider.BuiltinChatID {
		p.recorder.Drain(st.ID)
		if err := p.invoker.Interact(ctx, run, interaction, nil); err != nil {
			return contracts.ProviderRunRef{}, contracts.TimelineEvent{}, fmt.Errorf("builtin interact: %w", err)
		}
		drained := p.recorder.Drain(st.ID)
		var last contracts.TimelineEvent
		if len(drained) > 0 {
			last = drained[len(drained)-1]
		}
		return contracts.ProviderRunRef{RunID: run.RunID, ProviderID: run.ProviderID, Mode: contracts.ModeSync}, last, nil
	}

	ackEvent, err := p.appendInteractionFor(ctx, st, traceID, userID, contracts.InteractionEvent{Type: contracts.InteractionAck})
	if err != nil {
		return contracts.ProviderRunRef{}, contracts.TimelineEvent{}, err
	}

	p.invoker.DispatchInteract(run, interaction, nil)

	return contracts.ProviderRunRef{RunID: run.RunID, ProviderID: run.ProviderID, Mode: contracts.ModeAsync}, ackEvent, nil
}

func (p *Pipeline) appendUserInteraction(ctx context.Context, st *session.State, traceID, userID string, interaction contracts.UserInteraction) (contracts.TimelineEvent, error) {
	payload, err := toPayload(interaction)
	if err != nil {
		return contracts.TimelineEvent{}, fmt.Errorf("encode user interaction: %w", err)
	}
	return p.append(ctx, st, traceID, userID, contracts.KindUserInteraction, payload, interaction.ProviderID, interaction.RunID)
}

func validateInteraction(interaction contracts.UserInteraction) error {
	switch {
	case interaction.SessionID == "":
		return contracts.NewAPIError(contracts.ErrInvalidRequest, "sessionId is required")
	case interaction.ActionID == "":
		return contracts.NewAPIError(contracts.ErrInvalidRequest, "actionId is required")
	}
	return nil
}
