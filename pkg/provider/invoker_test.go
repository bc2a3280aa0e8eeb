package provider

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uniassist/gateway/pkg/contracts"
)

func decodeInteraction(t *testing.T, payload map[string]interface{}, out *contracts.InteractionEvent) {
	t.Helper()
	encoded, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(encoded, out))
}

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

func (a *fakeAppender) all() []contracts.TimelineEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]contracts.TimelineEvent, len(a.events))
	copy(out, a.events)
	return out
}

type fakeSeqSource struct {
	mu   sync.Mutex
	seqs map[string]int
}

func newFakeSeqSource() *fakeSeqSource {
	return &fakeSeqSource{seqs: make(map[string]int)}
}

func (s *fakeSeqSource) NextSeq(sessionID string) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seqs[sessionID]++
	return s.seqs[sessionID], true
}

type flakyTransport struct {
	mu       sync.Mutex
	failN    int
	invoked  int
	interact int
}

func (t *flakyTransport) Invoke(_ context.Context, _ string, input contracts.UnifiedUserInput, _ map[string]interface{}, _ RunContext) (*InvokeResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.invoked++
	if t.failN > 0 {
		t.failN--
		return nil, errors.New("transient provider failure")
	}
	return &InvokeResult{
		Ack:             contracts.InteractionEvent{Type: contracts.InteractionAck},
		ImmediateEvents: []contracts.InteractionEvent{{Type: contracts.InteractionAssistantMessage, Text: "ok: " + input.Text}},
	}, nil
}

func (t *flakyTransport) Interact(_ context.Context, _ string, interaction contracts.UserInteraction, _ map[string]interface{}, _ RunContext) (*InteractResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.interact++
	if t.failN > 0 {
		t.failN--
		return nil, errors.New("transient provider failure")
	}
	return &InteractResult{Events: []contracts.InteractionEvent{{Type: contracts.InteractionAssistantMessage, Text: "handled " + interaction.ActionID}}}, nil
}

func newTestRun(providerID string) RunContext {
	return RunContext{
		RunID:       "run-1",
		TraceID:     "trace-1",
		SessionID:   "sess-1",
		UserID:      "user-1",
		ProviderID:  providerID,
		Mode:        "async",
		RoutingMode: "normal",
	}
}

func TestInvoker_Invoke_SucceedsOnFirstTry(t *testing.T) {
	transport := &flakyTransport{}
	appender := &fakeAppender{}
	inv := NewInvoker(map[string]Transport{"chat": transport}, appender, nil, newFakeSeqSource())

	input := contracts.UnifiedUserInput{Text: "hello there"}
	require.NoError(t, inv.Invoke(context.Background(), newTestRun("chat"), input, nil))

	events := appender.all()
	require.Len(t, events, 2) // ack + one immediate event
	assert.Equal(t, 1, events[0].Seq)
	assert.Equal(t, 2, events[1].Seq)
	assert.Equal(t, 1, transport.invoked)
}

func TestInvoker_Invoke_RetriesThenSucceeds(t *testing.T) {
	transport := &flakyTransport{failN: 1}
	appender := &fakeAppender{}
	inv := NewInvoker(map[string]Transport{"chat": transport}, appender, nil, newFakeSeqSource())
	inv.backoffBase, inv.backoffMax = 0, 0

	require.NoError(t, inv.Invoke(context.Background(), newTestRun("chat"), contracts.UnifiedUserInput{Text: "hi"}, nil))
	assert.Equal(t, 2, transport.invoked)

	events := appender.all()
	require.Len(t, events, 2)
}

func TestInvoker_Invoke_FallsBackAfterExhaustingRetries(t *testing.T) {
	transport := &flakyTransport{failN: maxRetries + 1}
	appender := &fakeAppender{}
	inv := NewInvoker(map[string]Transport{"chat": transport}, appender, nil, newFakeSeqSource())
	inv.backoffBase, inv.backoffMax = 0, 0

	require.NoError(t, inv.Invoke(context.Background(), newTestRun("chat"), contracts.UnifiedUserInput{Text: "hi"}, nil))
	assert.Equal(t, maxRetries+1, transport.invoked)

	events := appender.all()
	require.Len(t, events, 2)
	var payload contracts.InteractionEvent
	decodeInteraction(t, events[1].Payload, &payload)
	assert.Equal(t, contracts.InteractionAssistantMessage, payload.Type)
	assert.Contains(t, payload.Text, "couldn't reach")
}

func TestInvoker_Invoke_UnregisteredProviderFallsBackImmediately(t *testing.T) {
	appender := &fakeAppender{}
	inv := NewInvoker(map[string]Transport{}, appender, nil, newFakeSeqSource())

	require.NoError(t, inv.Invoke(context.Background(), newTestRun("missing"), contracts.UnifiedUserInput{Text: "hi"}, nil))

	events := appender.all()
	require.Len(t, events, 2)
}

func TestInvoker_Interact_AppendsResultEvents(t *testing.T) {
	transport := &flakyTransport{}
	appender := &fakeAppender{}
	inv := NewInvoker(map[string]Transport{"chat": transport}, appender, nil, newFakeSeqSource())

	interaction := contracts.UserInteraction{SessionID: "sess-1", ActionID: "switch_provider:work"}
	require.NoError(t, inv.Interact(context.Background(), newTestRun("chat"), interaction, nil))

	events := appender.all()
	require.Len(t, events, 1)
	assert.Equal(t, 1, transport.interact)
}

func TestInvoker_Dispatch_RunsAsynchronously(t *testing.T) {
	transport := &flakyTransport{}
	appender := &fakeAppender{}
	inv := NewInvoker(map[string]Transport{"chat": transport}, appender, nil, newFakeSeqSource())

	done := make(chan struct{})
	go func() {
		inv.Dispatch(newTestRun("chat"), contracts.UnifiedUserInput{Text: "hi"}, nil)
		close(done)
	}()
	<-done // Dispatch itself returns immediately; this just proves it doesn't block forever.
}

func TestBuiltinChat_Invoke_EchoesUserText(t *testing.T) {
	transport := NewBuiltinChatTransport()
	result, err := transport.Invoke(context.Background(), "key", contracts.UnifiedUserInput{Text: "hello there"}, nil, newTestRun(BuiltinChatID))
	require.NoError(t, err)
	require.Len(t, result.ImmediateEvents, 1)
	assert.Contains(t, result.ImmediateEvents[0].Text, "hello there")
}
