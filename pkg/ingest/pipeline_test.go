package ingest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uniassist/gateway/pkg/config"
	"github.com/uniassist/gateway/pkg/contracts"
	"github.com/uniassist/gateway/pkg/provider"
	"github.com/uniassist/gateway/pkg/session"
)

// fakeSessionStore is an in-memory session.Store so Pipeline tests never
// touch a database.
type fakeSessionStore struct {
	mu       sync.Mutex
	sessions map[string]*session.State
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{sessions: make(map[string]*session.State)}
}

func (s *fakeSessionStore) LoadSession(_ context.Context, sessionID string) (*session.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.sessions[sessionID]; ok {
		return st, nil
	}
	return nil, session.ErrSessionNotFound
}

func (s *fakeSessionStore) CreateSession(_ context.Context, sessionID, userID string, now time.Time) (*session.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := &session.State{ID: sessionID, UserID: userID, LastActivityAt: now, CreatedAt: now, UpdatedAt: now}
	s.sessions[sessionID] = st
	return st, nil
}

func (s *fakeSessionStore) SaveSession(_ context.Context, st *session.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[st.ID] = st
	return nil
}

// fakeAppender is an in-memory EventAppender recording every appended
// event, keyed by the shared EventRecorder wrapping it.
type fakeAppender struct {
	mu     sync.Mutex
	events []contracts.TimelineEvent
}

func (a *fakeAppender) Append(_ context.Context, event contracts.TimelineEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
	return nil
}

// fakeRunStore is an in-memory ingest.RunStore keyed by idempotency key,
// mirroring provider.RunStore.GetOrCreate's collision semantics.
type fakeRunStore struct {
	mu   sync.Mutex
	runs map[string]string
}

func newFakeRunStore() *fakeRunStore {
	return &fakeRunStore{runs: make(map[string]string)}
}

func (s *fakeRunStore) GetOrCreate(_ context.Context, run provider.RunContext) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.runs[run.IdempotencyKey]; ok {
		return existing, false, nil
	}
	s.runs[run.IdempotencyKey] = run.RunID
	return run.RunID, true, nil
}

// fakeInvoker is an in-memory ingest.Invoker. Invoke appends its own
// synthetic ack/assistant-message through recorder — just as
// provider.Invoker.Invoke does for the real builtin_chat transport — so
// dispatchFallback's drain-around-Invoke behavior is exercised for real,
// not just assumed.
type fakeInvoker struct {
	recorder              *EventRecorder
	invokeCalls           []provider.RunContext
	dispatchCalls         []provider.RunContext
	interactCalls         []provider.RunContext
	dispatchInteractCalls []provider.RunContext
	mu                    sync.Mutex
}

func (f *fakeInvoker) Invoke(ctx context.Context, run provider.RunContext, input contracts.UnifiedUserInput, _ map[string]interface{}) error {
	f.mu.Lock()
	f.invokeCalls = append(f.invokeCalls, run)
	f.mu.Unlock()

	ackEvent := contracts.TimelineEvent{
		EventID:     run.RunID + ":1",
		TraceID:     run.TraceID,
		SessionID:   run.SessionID,
		UserID:      run.UserID,
		ProviderID:  run.ProviderID,
		RunID:       run.RunID,
		Kind:        contracts.KindInteraction,
		Payload:     map[string]interface{}{"type": string(contracts.InteractionAck)},
	}
	if err := f.recorder.Append(ctx, ackEvent); err != nil {
		return err
	}
	msgEvent := contracts.TimelineEvent{
		EventID:     run.RunID + ":2",
		TraceID:     run.TraceID,
		SessionID:   run.SessionID,
		UserID:      run.UserID,
		ProviderID:  run.ProviderID,
		RunID:       run.RunID,
		Kind:        contracts.KindInteraction,
		Payload:     map[string]interface{}{"type": string(contracts.InteractionAssistantMessage), "text": fmt.Sprintf("Got it: %s", input.Text)},
	}
	return f.recorder.Append(ctx, msgEvent)
}

func (f *fakeInvoker) Dispatch(run provider.RunContext, _ contracts.UnifiedUserInput, _ map[string]interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dispatchCalls = append(f.dispatchCalls, run)
}

// Interact mirrors Invoke's pattern for POST /v0/interact: the builtin
// provider appends a single synthetic reply through recorder.
func (f *fakeInvoker) Interact(ctx context.Context, run provider.RunContext, interaction contracts.UserInteraction, _ map[string]interface{}) error {
	f.mu.Lock()
	f.interactCalls = append(f.interactCalls, run)
	f.mu.Unlock()

	event := contracts.TimelineEvent{
		EventID:    run.RunID + ":interact",
		TraceID:    run.TraceID,
		SessionID:  run.SessionID,
		UserID:     run.UserID,
		ProviderID: run.ProviderID,
		RunID:      run.RunID,
		Kind:       contracts.KindInteraction,
		Payload:    map[string]interface{}{"type": string(contracts.InteractionAssistantMessage), "text": fmt.Sprintf("Handled %s.", interaction.ActionID)},
	}
	return f.recorder.Append(ctx, event)
}

func (f *fakeInvoker) DispatchInteract(run provider.RunContext, _ contracts.UserInteraction, _ map[string]interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dispatchInteractCalls = append(f.dispatchInteractCalls, run)
}

func newTestPipeline() (*Pipeline, *fakeAppender, *fakeInvoker) {
	store := newFakeSessionStore()
	engine := session.NewEngine(store, config.DefaultRoutingConfig())
	appender := &fakeAppender{}
	recorder := NewEventRecorder(appender)
	runs := newFakeRunStore()
	invoker := &fakeInvoker{recorder: recorder}
	pipeline := NewPipeline(engine, recorder, runs, invoker, nil)
	return pipeline, appender, invoker
}

func newInput(sessionID, text string) contracts.UnifiedUserInput {
	return contracts.UnifiedUserInput{
		SchemaVersion: contracts.SchemaVersion,
		TraceID:       uuid.New().String(),
		UserID:        "user-1",
		SessionID:     sessionID,
		Source:        contracts.SourceApp,
		TimestampMs:   time.Now().UnixMilli(),
		Text:          text,
	}
}

// S1: no keyword hits routes to the builtin_chat fallback, invoked
// synchronously, and its ack/assistant-message land in this call's events.
func TestPipeline_Ingest_NoCandidateFallsBackSynchronously(t *testing.T) {
	pipeline, _, invoker := newTestPipeline()
	ctx := context.Background()

	input := newInput("session-1", "hello there")
	ack, err := pipeline.Ingest(ctx, input, nil, Headers{})
	require.NoError(t, err)

	require.Len(t, invoker.invokeCalls, 1)
	assert.Equal(t, provider.BuiltinChatID, invoker.invokeCalls[0].ProviderID)
	assert.Empty(t, invoker.dispatchCalls)

	require.Len(t, ack.Runs, 1)
	assert.Equal(t, contracts.ModeSync, ack.Runs[0].Mode)
	assert.Equal(t, contracts.RoutingFallback, ack.Runs[0].RoutingMode)
	assert.Equal(t, provider.BuiltinChatID, ack.Runs[0].ProviderID)

	require.Len(t, ack.Events, 5)
	assert.Equal(t, contracts.KindInbound, ack.Events[0].Kind)
	assert.Equal(t, contracts.KindRoutingDecision, ack.Events[1].Kind)
	assert.Equal(t, contracts.KindProviderRun, ack.Events[2].Kind)
	assert.Equal(t, contracts.KindInteraction, ack.Events[3].Kind)
	assert.Equal(t, "ack", ack.Events[3].Payload["type"])
	assert.Equal(t, contracts.KindInteraction, ack.Events[4].Kind)
	assert.Equal(t, "assistant_message", ack.Events[4].Payload["type"])
	assert.Equal(t, "Got it: hello there", ack.Events[4].Payload["text"])
}

// S1b: the fallback path never authors its own ack interaction — only one
// ack event reaches the timeline (the invoker's), not two.
func TestPipeline_Ingest_FallbackDoesNotDuplicateAck(t *testing.T) {
	pipeline, appender, _ := newTestPipeline()
	ctx := context.Background()

	input := newInput("session-2", "hello there")
	_, err := pipeline.Ingest(ctx, input, nil, Headers{})
	require.NoError(t, err)

	ackCount := 0
	for _, event := range appender.events {
		if event.Kind == contracts.KindInteraction && event.Payload["type"] == "ack" {
			ackCount++
		}
	}
	assert.Equal(t, 1, ackCount)
}

// S2: a single above-threshold keyword hit selects one candidate and
// dispatches it asynchronously; the pipeline authors its own immediate ack
// since there is no synchronous invoke output to rely on.
func TestPipeline_Ingest_SingleCandidateDispatchesAsynchronously(t *testing.T) {
	pipeline, _, invoker := newTestPipeline()
	ctx := context.Background()

	input := newInput("session-3", "let's make a plan for tomorrow")
	ack, err := pipeline.Ingest(ctx, input, nil, Headers{})
	require.NoError(t, err)

	assert.Empty(t, invoker.invokeCalls)
	require.Len(t, invoker.dispatchCalls, 1)
	assert.Equal(t, "plan", invoker.dispatchCalls[0].ProviderID)

	require.Len(t, ack.Runs, 1)
	assert.Equal(t, contracts.ModeAsync, ack.Runs[0].Mode)
	assert.Equal(t, contracts.RoutingNormal, ack.Runs[0].RoutingMode)

	require.Len(t, ack.Events, 4)
	assert.Equal(t, contracts.KindInbound, ack.Events[0].Kind)
	assert.Equal(t, contracts.KindRoutingDecision, ack.Events[1].Kind)
	assert.Equal(t, contracts.KindProviderRun, ack.Events[2].Kind)
	assert.Equal(t, contracts.KindInteraction, ack.Events[3].Kind)
	assert.Equal(t, "ack", ack.Events[3].Payload["type"])
}

// A repeated ingest with the same traceId+provider idempotency key must
// resolve to the same runId rather than minting a second ProviderRun row.
func TestPipeline_Ingest_IdempotentRunsCollapseToSameRunID(t *testing.T) {
	pipeline, _, invoker := newTestPipeline()
	ctx := context.Background()

	input := newInput("session-4", "hello there")
	input.TraceID = "trace-fixed"

	first, err := pipeline.Ingest(ctx, input, nil, Headers{})
	require.NoError(t, err)
	second, err := pipeline.Ingest(ctx, input, nil, Headers{})
	require.NoError(t, err)

	require.Len(t, invoker.invokeCalls, 2)
	assert.Equal(t, first.Runs[0].RunID, second.Runs[0].RunID)
}

func TestPipeline_Ingest_RejectsUnsupportedSchemaVersion(t *testing.T) {
	pipeline, _, _ := newTestPipeline()
	input := newInput("session-5", "hello there")
	input.SchemaVersion = "v9"

	_, err := pipeline.Ingest(context.Background(), input, nil, Headers{})
	require.Error(t, err)
	apiErr, ok := err.(*contracts.APIError)
	require.True(t, ok)
	assert.Equal(t, contracts.ErrInvalidRequest, apiErr.Code)
}

func TestPipeline_Ingest_RejectsMissingTraceID(t *testing.T) {
	pipeline, _, _ := newTestPipeline()
	input := newInput("session-6", "hello there")
	input.TraceID = ""

	_, err := pipeline.Ingest(context.Background(), input, nil, Headers{})
	require.Error(t, err)
}

func TestPipeline_Ingest_AppSourceSkipsSignatureVerification(t *testing.T) {
	pipeline, _, _ := newTestPipeline()
	input := newInput("session-7", "hello there")
	input.Source = contracts.SourceApp

	// verifier is nil on this pipeline; if authenticate() tried to use it
	// for an "app" source this would panic.
	_, err := pipeline.Ingest(context.Background(), input, nil, Headers{})
	require.NoError(t, err)
}

// S4: an explicit switch_provider:<id> action updates sticky immediately
// and replies with a confirming assistant_message, all synchronously — no
// provider round trip involved.
func TestPipeline_Interact_SwitchProviderUpdatesStickyAndConfirms(t *testing.T) {
	pipeline, _, invoker := newTestPipeline()
	ctx := context.Background()

	_, err := pipeline.Ingest(ctx, newInput("session-8", "hello there"), nil, Headers{})
	require.NoError(t, err)

	ack, err := pipeline.Interact(ctx, contracts.UserInteraction{
		SessionID: "session-8",
		ActionID:  "switch_provider:work",
	})
	require.NoError(t, err)

	st, ok := pipeline.sessions.Get("session-8")
	require.True(t, ok)
	assert.Equal(t, "work", st.Snapshot().StickyProviderID)

	require.Len(t, ack.Events, 2)
	assert.Equal(t, contracts.KindUserInteraction, ack.Events[0].Kind)
	assert.Equal(t, contracts.KindInteraction, ack.Events[1].Kind)
	assert.Equal(t, "assistant_message", ack.Events[1].Payload["type"])
	assert.Equal(t, "Switched to work.", ack.Events[1].Payload["text"])

	assert.Empty(t, invoker.interactCalls)
	assert.Empty(t, invoker.dispatchInteractCalls)
}

// S2: a structured data-collection submit targeting a non-builtin provider
// dispatches asynchronously; the immediate response carries only the ack,
// not the provider's eventual data_collection_progress/result events.
func TestPipeline_Interact_SubmitDataCollectionDispatchesAsynchronously(t *testing.T) {
	pipeline, _, invoker := newTestPipeline()
	ctx := context.Background()

	_, err := pipeline.Ingest(ctx, newInput("session-9", "help me plan my week"), nil, Headers{})
	require.NoError(t, err)

	ack, err := pipeline.Interact(ctx, contracts.UserInteraction{
		SessionID:  "session-9",
		ActionID:   "submit_data_collection",
		RunID:      "run-plan-1",
		ProviderID: "plan",
		Payload:    map[string]interface{}{"goal": "g", "dueDate": "2026-03-01"},
	})
	require.NoError(t, err)

	require.Len(t, invoker.dispatchInteractCalls, 1)
	assert.Equal(t, "plan", invoker.dispatchInteractCalls[0].ProviderID)
	assert.Equal(t, "run-plan-1", invoker.dispatchInteractCalls[0].RunID)
	assert.Empty(t, invoker.interactCalls)

	require.Len(t, ack.Events, 2)
	assert.Equal(t, contracts.KindUserInteraction, ack.Events[0].Kind)
	assert.Equal(t, contracts.KindInteraction, ack.Events[1].Kind)
	assert.Equal(t, "ack", ack.Events[1].Payload["type"])

	require.Len(t, ack.Runs, 1)
	assert.Equal(t, contracts.ModeAsync, ack.Runs[0].Mode)
}

// An interaction targeting builtin_chat is handled synchronously, mirroring
// Ingest's fallback/candidate asymmetry for POST /v0/interact.
func TestPipeline_Interact_BuiltinProviderHandledSynchronously(t *testing.T) {
	pipeline, _, invoker := newTestPipeline()
	ctx := context.Background()

	_, err := pipeline.Ingest(ctx, newInput("session-10", "hello there"), nil, Headers{})
	require.NoError(t, err)

	ack, err := pipeline.Interact(ctx, contracts.UserInteraction{
		SessionID:  "session-10",
		ActionID:   "dismiss",
		ProviderID: provider.BuiltinChatID,
		RunID:      "run-fallback-1",
	})
	require.NoError(t, err)

	require.Len(t, invoker.interactCalls, 1)
	assert.Empty(t, invoker.dispatchInteractCalls)

	require.Len(t, ack.Events, 2)
	assert.Equal(t, contracts.KindUserInteraction, ack.Events[0].Kind)
	assert.Equal(t, contracts.KindInteraction, ack.Events[1].Kind)
	assert.Equal(t, "Handled dismiss.", ack.Events[1].Payload["text"])
}

func TestPipeline_Interact_UnknownSessionReturnsSessionNotFound(t *testing.T) {
	pipeline, _, _ := newTestPipeline()

	_, err := pipeline.Interact(context.Background(), contracts.UserInteraction{
		SessionID: "does-not-exist",
		ActionID:  "switch_provider:work",
	})
	require.Error(t, err)
	apiErr, ok := err.(*contracts.APIError)
	require.True(t, ok)
	assert.Equal(t, contracts.ErrSessionNotFound, apiErr.Code)
}

func TestPipeline_Interact_RejectsMissingActionID(t *testing.T) {
	pipeline, _, _ := newTestPipeline()
	_, err := pipeline.Ingest(context.Background(), newInput("session-11", "hello there"), nil, Headers{})
	require.NoError(t, err)

	_, err = pipeline.Interact(context.Background(), contracts.UserInteraction{SessionID: "session-11"})
	require.Error(t, err)
	apiErr, ok := err.(*contracts.APIError)
	require.True(t, ok)
	assert.Equal(t, contracts.ErrInvalidRequest, apiErr.Code)
}
