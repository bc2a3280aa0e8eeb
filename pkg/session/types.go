// Package session implements the session/routing state machine (C4):
// session resolution and rotation, sticky-provider scoring, topic-drift
// detection, and candidate selection for the ingest pipeline.
package session

import (
	"sync"
	"time"
)

// State is the in-memory mirror of an ent Session row, guarded by its own
// mutex so a single session can be read/mutated from concurrent ingests
// without round-tripping to the store for every field access.
type State struct {
	mu sync.RWMutex

	ID                   string
	UserID               string
	Seq                  int
	LastActivityAt       time.Time
	LastUserText         string
	TopicState           []string
	TopicDriftStreak     int
	StickyProviderID     string
	StickyScoreBoost     float64
	SwitchLeadProviderID string
	SwitchLeadStreak     int
	LastSwitchTs         time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Snapshot is a point-in-time, lock-free copy of a State for callers that
// only need to read.
type Snapshot struct {
	ID                   string
	UserID               string
	Seq                  int
	LastActivityAt       time.Time
	LastUserText         string
	TopicState           []string
	TopicDriftStreak     int
	StickyProviderID     string
	StickyScoreBoost     float64
	SwitchLeadProviderID string
	SwitchLeadStreak     int
	LastSwitchTs         time.Time
}

// Snapshot returns a thread-safe copy of the session's current fields.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	topicState := make([]string, len(s.TopicState))
	copy(topicState, s.TopicState)

	return Snapshot{
		ID:                   s.ID,
		UserID:               s.UserID,
		Seq:                  s.Seq,
		LastActivityAt:       s.LastActivityAt,
		LastUserText:         s.LastUserText,
		TopicState:           topicState,
		TopicDriftStreak:     s.TopicDriftStreak,
		StickyProviderID:     s.StickyProviderID,
		StickyScoreBoost:     s.StickyScoreBoost,
		SwitchLeadProviderID: s.SwitchLeadProviderID,
		SwitchLeadStreak:     s.SwitchLeadStreak,
		LastSwitchTs:         s.LastSwitchTs,
	}
}

// NextSeq increments and returns the session's sequence counter. It is the
// single point through which every TimelineEvent's seq is stamped, so
// every call serializes against this session's mutex — the
// single-writer-per-session design called out in spec §9.
func (s *State) NextSeq() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Seq++
	return s.Seq
}

// Touch updates LastActivityAt to now.
func (s *State) Touch(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LastActivityAt = now
	s.UpdatedAt = now
}
