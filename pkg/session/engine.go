package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/uniassist/gateway/pkg/config"
	"github.com/uniassist/gateway/pkg/contracts"
)

// IdleThreshold is the default rotation threshold from spec §3.
const IdleThreshold = 24 * time.Hour

// Store persists State to the durable layer; implemented by
// pkg/timeline over the generated ent client. Kept as a narrow interface
// here so pkg/session has no dependency on ent or the database package.
type Store interface {
	LoadSession(ctx context.Context, sessionID string) (*State, error)
	CreateSession(ctx context.Context, sessionID, userID string, now time.Time) (*State, error)
	SaveSession(ctx context.Context, s *State) error
}

// ErrSessionNotFound is returned by Store implementations on a cache/store
// miss so Engine can distinguish "create" from "real error".
var ErrSessionNotFound = errors.New("session not found")

// Engine owns the in-memory session registry and the pure routing/drift
// logic layered on top of it. One Engine serves every session in the
// process; each State's own mutex serializes mutation of that one
// session (spec §9's single-writer-per-session model).
type Engine struct {
	mu       sync.RWMutex
	sessions map[string]*State

	store  Store
	router *Router
	config config.RoutingConfig
	now    func() time.Time
}

// NewEngine builds an Engine backed by store for cold lookups and cfg for
// routing/drift parameters.
func NewEngine(store Store, cfg config.RoutingConfig) *Engine {
	return &Engine{
		sessions: make(map[string]*State),
		store:    store,
		router:   NewRouter(DefaultProviderRules, cfg),
		config:   cfg,
		now:      time.Now,
	}
}

// Router exposes the engine's scoring router for callers that need to
// compute a routing decision outside of Resolve (e.g. the ingest
// pipeline).
func (e *Engine) Router() *Router {
	return e.router
}

// Resolve looks up a session by id, creating or rotating it as needed.
// rotated is true when the returned State has a different ID than
// requestedSessionID because the previous session idled out.
func (e *Engine) Resolve(ctx context.Context, userID, requestedSessionID string) (st *State, rotated bool, err error) {
	now := e.now()

	e.mu.RLock()
	st, found := e.sessions[requestedSessionID]
	e.mu.RUnlock()

	if !found {
		st, err = e.store.LoadSession(ctx, requestedSessionID)
		switch {
		case err == nil:
			e.register(st)
		case isNotFound(err):
			st, err = e.store.CreateSession(ctx, requestedSessionID, userID, now)
			if err != nil {
				return nil, false, fmt.Errorf("create session: %w", err)
			}
			e.register(st)
			return st, false, nil
		default:
			return nil, false, fmt.Errorf("load session: %w", err)
		}
	}

	if now.Sub(st.Snapshot().LastActivityAt) > IdleThreshold {
		rotatedState, err := e.rotate(ctx, st, now)
		if err != nil {
			return nil, false, fmt.Errorf("rotate session: %w", err)
		}
		slog.Info("session rotated on idle timeout", "old_session_id", requestedSessionID, "new_session_id", rotatedState.ID)
		return rotatedState, true, nil
	}

	st.Touch(now)
	return st, false, nil
}

// Lookup resolves sessionID for POST /v0/interact: unlike Resolve it never
// creates a session and never rotates on idle timeout, since a user
// interaction always targets a session that must already exist.
func (e *Engine) Lookup(ctx context.Context, sessionID string) (*State, error) {
	e.mu.RLock()
	st, found := e.sessions[sessionID]
	e.mu.RUnlock()
	if found {
		return st, nil
	}

	st, err := e.store.LoadSession(ctx, sessionID)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("load session: %w", err)
	}
	e.register(st)
	return st, nil
}

// Get returns the in-memory State for sessionID if it is currently
// registered in this process, without touching the durable store. Used by
// pkg/provider to stamp seq numbers on events appended after an
// asynchronous invoke/interact completes.
func (e *Engine) Get(sessionID string) (*State, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	st, ok := e.sessions[sessionID]
	return st, ok
}

// PersistAsync saves st's current snapshot to the durable store on its own
// goroutine, per spec §4.1 step 10: the ingest response must not wait on
// this write.
func (e *Engine) PersistAsync(st *State) {
	go func() {
		if err := e.store.SaveSession(context.Background(), st); err != nil {
			slog.Error("async session persist failed", "session_id", st.ID, "error", err)
		}
	}()
}

func (e *Engine) register(st *State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sessions[st.ID] = st
}

func (e *Engine) rotate(ctx context.Context, old *State, now time.Time) (*State, error) {
	snap := old.Snapshot()
	newID := uuid.New().String()

	fresh, err := e.store.CreateSession(ctx, newID, snap.UserID, now)
	if err != nil {
		return nil, err
	}
	e.register(fresh)
	return fresh, nil
}

// ApplyTurn runs the per-turn session-state transitions described in spec
// §4.2: topic-drift evaluation, routing, and sticky-provider dynamics. It
// mutates st in place and returns the routing decision, the provider ids
// selected for dispatch, and — when a switch-lead streak has just reached
// its target — the provider id a switch_provider suggestion should name.
func (e *Engine) ApplyTurn(st *State, text string) (decision contracts.RoutingDecision, selected []string, switchSuggestion string, driftSuggested bool) {
	snap := st.Snapshot()

	drift := EvaluateDrift(text, snap.TopicState, snap.TopicDriftStreak, e.config.DriftThreshold)

	rd, selectedIDs := e.router.SelectCandidates(text, snap)

	st.mu.Lock()
	st.LastUserText = text
	st.TopicState = drift.NewTopicState
	st.TopicDriftStreak = drift.TopicDriftStreak
	st.mu.Unlock()

	driftSuggested = drift.TopicDriftStreak >= DriftSuggestionStreakTarget

	switchSuggestion = e.applySticky(st, rd, selectedIDs)

	return rd, selectedIDs, switchSuggestion, driftSuggested
}

// applySticky implements spec §4.2's per-turn sticky dynamics: decay, lead
// detection, switch-streak accounting, and first-leader stickiness.
func (e *Engine) applySticky(st *State, rd contracts.RoutingDecision, selected []string) (switchSuggestion string) {
	st.mu.Lock()
	defer st.mu.Unlock()

	st.StickyScoreBoost -= e.config.StickyDecayPerTurn
	if st.StickyScoreBoost < 0 {
		st.StickyScoreBoost = 0
	}

	if len(rd.Candidates) == 0 {
		return ""
	}
	top := rd.Candidates[0]

	if st.StickyProviderID == "" {
		if len(selected) > 0 {
			st.StickyProviderID = top.ProviderID
			st.StickyScoreBoost = e.config.DefaultStickyBoost
		}
		return ""
	}

	if top.ProviderID == st.StickyProviderID {
		st.SwitchLeadProviderID = ""
		st.SwitchLeadStreak = 0
		return ""
	}

	var stickyScore float64
	for _, c := range rd.Candidates {
		if c.ProviderID == st.StickyProviderID {
			stickyScore = c.Score
			break
		}
	}

	leads := top.Score-stickyScore >= e.config.SwitchLeadMargin
	if !leads {
		st.SwitchLeadProviderID = ""
		st.SwitchLeadStreak = 0
		return ""
	}

	if st.SwitchLeadProviderID == top.ProviderID {
		st.SwitchLeadStreak++
	} else {
		st.SwitchLeadProviderID = top.ProviderID
		st.SwitchLeadStreak = 1
	}

	if st.SwitchLeadStreak >= e.config.SwitchLeadStreakTarget {
		return st.SwitchLeadProviderID
	}
	return ""
}

// ApplyExplicitSwitch handles the switch_provider:<id> user interaction
// action from spec §4.2: set sticky to id, reset boost to the default,
// clear switch-lead state.
func (e *Engine) ApplyExplicitSwitch(st *State, providerID string) {
	st.mu.Lock()
	defer st.mu.Unlock()

	st.StickyProviderID = providerID
	st.StickyScoreBoost = e.config.DefaultStickyBoost
	st.SwitchLeadProviderID = ""
	st.SwitchLeadStreak = 0
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrSessionNotFound)
}
