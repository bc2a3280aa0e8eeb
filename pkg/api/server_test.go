package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uniassist/gateway/pkg/config"
	"github.com/uniassist/gateway/pkg/contracts"
	"github.com/uniassist/gateway/pkg/ingest"
	"github.com/uniassist/gateway/pkg/provider"
	"github.com/uniassist/gateway/pkg/session"
)

// fakeSessionStore is an in-memory session.Store, kept local to this
// package since pkg/ingest's own fakes are unexported.
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

// fakeAppender is an in-memory ingest.EventAppender.
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

// fakeRunStore is an in-memory ingest.RunStore.
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

// fakeInvoker is an in-memory ingest.Invoker whose builtin_chat-style
// replies land through the shared recorder, same as the real transport.
type fakeInvoker struct {
	recorder *ingest.EventRecorder
}

func (f *fakeInvoker) Invoke(ctx context.Context, run provider.RunContext, input contracts.UnifiedUserInput, _ map[string]interface{}) error {
	ackEvent := contracts.TimelineEvent{
		EventID:    run.RunID + ":1",
		TraceID:    run.TraceID,
		SessionID:  run.SessionID,
		UserID:     run.UserID,
		ProviderID: run.ProviderID,
		RunID:      run.RunID,
		Kind:       contracts.KindInteraction,
		Payload:    map[string]interface{}{"type": string(contracts.InteractionAck)},
	}
	return f.recorder.Append(ctx, ackEvent)
}

func (f *fakeInvoker) Dispatch(_ provider.RunContext, _ contracts.UnifiedUserInput, _ map[string]interface{}) {}

func (f *fakeInvoker) Interact(ctx context.Context, run provider.RunContext, interaction contracts.UserInteraction, _ map[string]interface{}) error {
	event := contracts.TimelineEvent{
		EventID:    run.RunID + ":interact",
		TraceID:    run.TraceID,
		SessionID:  run.SessionID,
		UserID:     run.UserID,
		ProviderID: run.ProviderID,
		RunID:      run.RunID,
		Kind:       contracts.KindInteraction,
		Payload:    map[string]interface{}{"type": string(contracts.InteractionAssistantMessage), "text": "handled " + interaction.ActionID},
	}
	return f.recorder.Append(ctx, event)
}

func (f *fakeInvoker) DispatchInteract(_ provider.RunContext, _ contracts.UserInteraction, _ map[string]interface{}) {}

// newTestServer builds a Server with a real *ingest.Pipeline backed by
// in-memory fakes and every ent-backed dependency left nil. Handlers that
// touch the timeline store, broker, or user-context cache are not exercised
// through this server.
func newTestServer(t *testing.T) *Server {
	t.Helper()

	store := newFakeSessionStore()
	engine := session.NewEngine(store, config.DefaultRoutingConfig())
	appender := &fakeAppender{}
	recorder := ingest.NewEventRecorder(appender)
	runs := newFakeRunStore()
	invoker := &fakeInvoker{recorder: recorder}
	pipeline := ingest.NewPipeline(engine, recorder, runs, invoker, nil)

	cfg := &config.Config{
		Security: config.SecurityConfig{ProviderContextToken: "secret-token"},
		Outbox:   config.DefaultOutboxConfig(),
	}

	gin.SetMode(gin.TestMode)
	s := &Server{
		router:   gin.New(),
		cfg:      cfg,
		pipeline: pipeline,
	}
	s.setupRoutes()
	return s
}

func TestHealthHandler_ReturnsHealthyWithoutDatabaseOrOutbox(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)
}

func TestManifestHandler_ServesBuiltinManifest(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/.well-known/uniassist/manifest.json", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), provider.BuiltinChatID)
}

func TestIngestHandler_ReturnsAckForValidInput(t *testing.T) {
	s := newTestServer(t)

	sessionID := "session-" + uuid.New().String()
	body := `{
		"schemaVersion": "` + contracts.SchemaVersion + `",
		"traceId": "` + uuid.New().String() + `",
		"userId": "user-1",
		"sessionId": "` + sessionID + `",
		"source": "app",
		"timestampMs": 1000,
		"text": "hello there"
	}`

	req := httptest.NewRequest(http.MethodPost, "/v0/ingest", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"runs"`)
}

func TestIngestHandler_RejectsInvalidJSON(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/v0/ingest", strings.NewReader("not json"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), string(contracts.ErrInvalidRequest))
}

func TestEventsHandler_ReturnsPerItemResults(t *testing.T) {
	s := newTestServer(t)

	sessionID := "session-" + uuid.New().String()
	ingestBody := `{
		"schemaVersion": "` + contracts.SchemaVersion + `",
		"traceId": "` + uuid.New().String() + `",
		"userId": "user-1",
		"sessionId": "` + sessionID + `",
		"source": "app",
		"timestampMs": 1000,
		"text": "hello there"
	}`
	req := httptest.NewRequest(http.MethodPost, "/v0/ingest", strings.NewReader(ingestBody))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	eventsBody := `{
		"events": [
			{"sessionId": "` + sessionID + `", "kind": "interaction", "payload": {"type": "assistant_message", "text": "done"}},
			{"sessionId": "does-not-exist", "kind": "domain_event", "payload": {}}
		]
	}`
	req = httptest.NewRequest(http.MethodPost, "/v0/events", strings.NewReader(eventsBody))
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok":true`)
	assert.Contains(t, rec.Body.String(), `"ok":false`)
}

func TestStatusForCode_MapsErrorCodesToHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusForCode(contracts.ErrInvalidRequest))
	assert.Equal(t, http.StatusUnauthorized, statusForCode(contracts.ErrInvalidSignature))
	assert.Equal(t, http.StatusUnauthorized, statusForCode(contracts.ErrInvalidProviderToken))
	assert.Equal(t, http.StatusForbidden, statusForCode(contracts.ErrMissingScope))
	assert.Equal(t, http.StatusNotFound, statusForCode(contracts.ErrSessionNotFound))
	assert.Equal(t, http.StatusTooManyRequests, statusForCode(contracts.ErrRateLimited))
	assert.Equal(t, http.StatusInternalServerError, statusForCode(contracts.ErrInternal))
}

func TestSecurityHeaders_SetsStandardHeaders(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestValidateWiring_FailsWithoutMetrics(t *testing.T) {
	s := newTestServer(t)
	err := s.ValidateWiring()
	require.Error(t, err)
}
