// Package timeline implements the durable+hot-buffer read path for the
// per-session event log (C2/C3 in spec terms) and the session persistence
// backing pkg/session.Engine.
package timeline

import (
	"context"
	"fmt"
	"time"

	"github.com/uniassist/gateway/ent"
	"github.com/uniassist/gateway/ent/timelineevent"
	"github.com/uniassist/gateway/pkg/contracts"
	"github.com/uniassist/gateway/pkg/session"
)

// pageSize caps a single timeline page, per spec §4.3.
const pageSize = 1000

// PersistenceErrorRecorder is the subset of pkg/metrics.Registry a
// persistence component needs: one counter bump per failed durable write
// (spec §7). Kept local and narrow so pkg/timeline never has to import
// pkg/metrics.
type PersistenceErrorRecorder interface {
	IncPersistenceError()
}

// Store is the ent-backed implementation of pkg/session.Store, plus the
// cursor-replay read path that merges the durable table with the hot
// Buffer per spec §4.3's replay/merge rule.
type Store struct {
	client  *ent.Client
	buffer  *Buffer
	metrics PersistenceErrorRecorder
}

// NewStore builds a Store over client, publishing appended events into
// buffer for hot catch-up reads.
func NewStore(client *ent.Client, buffer *Buffer) *Store {
	return &Store{client: client, buffer: buffer}
}

// SetMetrics wires a persistence-error recorder in after construction,
// mirroring pkg/api.Server's SetMetrics/ValidateWiring pattern. Safe to
// leave unset: a nil metrics field is simply skipped.
func (s *Store) SetMetrics(m PersistenceErrorRecorder) {
	s.metrics = m
}

func (s *Store) recordPersistenceError() {
	if s.metrics != nil {
		s.metrics.IncPersistenceError()
	}
}

// LoadSession implements pkg/session.Store.
func (s *Store) LoadSession(ctx context.Context, sessionID string) (*session.State, error) {
	row, err := s.client.Session.Get(ctx, sessionID)
	if err != nil {
		if ent.IsNotFound(err) {
			return nil, session.ErrSessionNotFound
		}
		s.recordPersistenceError()
		return nil, fmt.Errorf("load session %q: %w", sessionID, err)
	}
	return stateFromEnt(row), nil
}

// CreateSession implements pkg/session.Store.
func (s *Store) CreateSession(ctx context.Context, sessionID, userID string, now time.Time) (*session.State, error) {
	row, err := s.client.Session.Create().
		SetID(sessionID).
		SetUserID(userID).
		SetLastActivityAt(now).
		SetCreatedAt(now).
		SetUpdatedAt(now).
		Save(ctx)
	if err != nil {
		s.recordPersistenceError()
		return nil, fmt.Errorf("create session %q: %w", sessionID, err)
	}
	return stateFromEnt(row), nil
}

// SaveSession implements pkg/session.Store, persisting the mutable fields
// of an in-memory session after a turn.
func (s *Store) SaveSession(ctx context.Context, st *session.State) error {
	snap := st.Snapshot()

	update := s.client.Session.UpdateOneID(snap.ID).
		SetUserID(snap.UserID).
		SetSeq(snap.Seq).
		SetLastActivityAt(snap.LastActivityAt).
		SetTopicState(snap.TopicState).
		SetTopicDriftStreak(snap.TopicDriftStreak).
		SetStickyScoreBoost(snap.StickyScoreBoost).
		SetSwitchLeadStreak(snap.SwitchLeadStreak)

	if snap.LastUserText != "" {
		update = update.SetLastUserText(snap.LastUserText)
	}
	if snap.StickyProviderID != "" {
		update = update.SetStickyProviderID(snap.StickyProviderID)
	} else {
		update = update.ClearStickyProviderID()
	}
	if snap.SwitchLeadProviderID != "" {
		update = update.SetSwitchLeadProviderID(snap.SwitchLeadProviderID)
	} else {
		update = update.ClearSwitchLeadProviderID()
	}
	if !snap.LastSwitchTs.IsZero() {
		update = update.SetLastSwitchTs(snap.LastSwitchTs)
	}

	if _, err := update.Save(ctx); err != nil {
		s.recordPersistenceError()
		return fmt.Errorf("save session %q: %w", snap.ID, err)
	}
	return nil
}

// List returns the cursor page of events for sessionID with seq > cursor,
// merging the durable table with the hot Buffer and capping at pageSize,
// per spec §4.3/§8 (replay equivalence, cursor idempotence).
func (s *Store) List(ctx context.Context, sessionID string, cursor int) (contracts.TimelinePage, error) {
	rows, err := s.client.TimelineEvent.Query().
		Where(
			timelineevent.SessionIDEQ(sessionID),
			timelineevent.SeqGT(cursor),
		).
		Order(ent.Asc(timelineevent.FieldSeq)).
		Limit(pageSize).
		All(ctx)
	if err != nil {
		s.recordPersistenceError()
		return contracts.TimelinePage{}, fmt.Errorf("list timeline for %q: %w", sessionID, err)
	}

	durable := make([]contracts.TimelineEvent, len(rows))
	for i, r := range rows {
		durable[i] = eventFromEnt(r)
	}

	buffered := s.buffer.Since(sessionID, cursor)
	merged := Merge(durable, buffered)
	if len(merged) > pageSize {
		merged = merged[:pageSize]
	}

	next := cursor
	if len(merged) > 0 {
		next = merged[len(merged)-1].Seq
	}

	return contracts.TimelinePage{Events: merged, NextCursor: next}, nil
}

// RecordAppended pushes a freshly-written event into the hot buffer. Called
// by pkg/outbox.Writer immediately after the transactional insert commits.
func (s *Store) RecordAppended(event contracts.TimelineEvent) {
	s.buffer.Append(event)
}

func stateFromEnt(row *ent.Session) *session.State {
	st := &session.State{
		ID:               row.ID,
		UserID:           row.UserID,
		Seq:              row.Seq,
		LastActivityAt:   row.LastActivityAt,
		TopicState:       row.TopicState,
		TopicDriftStreak: row.TopicDriftStreak,
		StickyScoreBoost: row.StickyScoreBoost,
		SwitchLeadStreak: row.SwitchLeadStreak,
		CreatedAt:        row.CreatedAt,
		UpdatedAt:        row.UpdatedAt,
	}
	if row.LastUserText != nil {
		st.LastUserText = *row.LastUserText
	}
	if row.StickyProviderID != nil {
		st.StickyProviderID = *row.StickyProviderID
	}
	if row.SwitchLeadProviderID != nil {
		st.SwitchLeadProviderID = *row.SwitchLeadProviderID
	}
	if row.LastSwitchTs != nil {
		st.LastSwitchTs = *row.LastSwitchTs
	}
	return st
}

func eventFromEnt(row *ent.TimelineEvent) contracts.TimelineEvent {
	e := contracts.TimelineEvent{
		EventID:     row.ID,
		TraceID:     row.TraceID,
		SessionID:   row.SessionID,
		UserID:      row.UserID,
		Seq:         row.Seq,
		TimestampMs: row.TimestampMs,
		Kind:        contracts.EventKind(row.Kind),
		Payload:     row.Payload,
	}
	if row.ProviderID != nil {
		e.ProviderID = *row.ProviderID
	}
	if row.RunID != nil {
		e.RunID = *row.RunID
	}
	if row.ExtensionKind != nil {
		e.ExtensionKind = *row.ExtensionKind
	}
	if row.RenderSchemaRef != nil {
		e.RenderSchemaRef = *row.RenderSchemaRef
	}
	return e
}
