//
//  Copyright © Manetu Inc. All rights reserved.
//

// Package session tracks request flows between a source and a destination
// address.
//
// Sessions are created on first observation and live for the lifetime of the
// process; there is no eviction.
package session

import (
	"sort"
	"sync"
	"time"
)

// Key identifies a flow.
type Key struct {
	Source string `json:"source_ip"`
	Dest   string `json:"dest_ip"`
}

// String renders the key as "source:dest".
func (k Key) String() string {
	return k.Source + ":" + k.Dest
}

// Snapshot is a point-in-time copy of a session.
type Snapshot struct {
	Key
	RequestCount int64     `json:"request_count"`
	FirstSeen    time.Time `json:"first_seen"`
	LastSeen     time.Time `json:"last_seen"`
}

// Tracker is a concurrency-safe session table.
type Tracker struct {
	mu       sync.Mutex
	sessions map[Key]*Snapshot
	now      func() time.Time
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		sessions: make(map[Key]*Snapshot),
		now:      time.Now,
	}
}

// Touch records one request on the (source, dest) flow and returns the
// updated session.
func (t *Tracker) Touch(source, dest string) Snapshot {
	k := Key{Source: source, Dest: dest}

	t.mu.Lock()
	defer t.mu.Unlock()

	// read under the lock so touches on a key observe the clock in order
	at := t.now().UTC()

	s, ok := t.sessions[k]
	if !ok {
		s = &Snapshot{Key: k, FirstSeen: at}
		t.sessions[k] = s
	}
	s.RequestCount++
	if at.After(s.LastSeen) {
		s.LastSeen = at
	}
	return *s
}

// Get returns the session for a flow.
func (t *Tracker) Get(source, dest string) (Snapshot, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.sessions[Key{Source: source, Dest: dest}]
	if !ok {
		return Snapshot{}, false
	}
	return *s, true
}

// List returns a consistent copy of every session, ordered by key.
func (t *Tracker) List() []Snapshot {
	t.mu.Lock()
	out := make([]Snapshot, 0, len(t.sessions))
	for _, s := range t.sessions {
		out = append(out, *s)
	}
	t.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Key.String() < out[j].Key.String()
	})
	return out
}

// Count is the number of tracked sessions.
func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}
