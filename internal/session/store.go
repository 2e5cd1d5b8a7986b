package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/callbridge/callbridge/internal/clientstate"
)

// Default eviction parameters. A session that survives to the TTL means a
// terminal webhook was lost (provider outage, restart), so the sweep is the
// backstop against leaked entries.
const (
	DefaultTTL           = 30 * time.Minute
	DefaultSweepInterval = 5 * time.Minute
)

// indexEntry maps a provider call-control ID back to its owning session.
type indexEntry struct {
	sessionID string
	leg       clientstate.Leg
}

// Store is the process-scoped registry of in-flight sessions, indexed by
// session ID and by each leg's call-control ID. The primary map and the
// reverse index are always mutated together under the store mutex: an
// insert registers both, a removal drops both.
type Store struct {
	mu              sync.Mutex
	sessions        map[string]*Session
	byCallControlID map[string]indexEntry
	ttl             time.Duration
	logger          *slog.Logger
}

// NewStore creates an empty session store. A ttl of zero uses DefaultTTL.
func NewStore(ttl time.Duration, logger *slog.Logger) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		sessions:        make(map[string]*Session),
		byCallControlID: make(map[string]indexEntry),
		ttl:             ttl,
		logger:          logger.With("subsystem", "session-store"),
	}
}

// Create registers a session and reverse-index entries for any legs already
// attached. Returns an error if the session ID is already present.
func (st *Store) Create(s *Session) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	if _, exists := st.sessions[s.ID]; exists {
		return fmt.Errorf("session %s already exists", s.ID)
	}
	st.sessions[s.ID] = s

	s.mu.Lock()
	for _, leg := range []clientstate.Leg{clientstate.LegA, clientstate.LegB} {
		if slot := *s.legSlot(leg); slot != nil {
			st.byCallControlID[slot.CallControlID] = indexEntry{sessionID: s.ID, leg: leg}
		}
	}
	s.mu.Unlock()

	return nil
}

// AttachLeg records a leg's call-control ID on an existing session and adds
// the reverse-index entry. This is the second phase of the create-then-attach
// pattern used during dialing, and also how an "initiated" webhook registers
// a handle the dialer has not stored yet. Attaching an already-known leg is
// a no-op.
func (st *Store) AttachLeg(sessionID string, leg clientstate.Leg, callControlID string) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	s, ok := st.sessions[sessionID]
	if !ok {
		return fmt.Errorf("session %s not found", sessionID)
	}
	if s.attachLeg(leg, callControlID) {
		st.byCallControlID[callControlID] = indexEntry{sessionID: sessionID, leg: leg}
	}
	return nil
}

// Get returns the session with the given ID.
func (st *Store) Get(sessionID string) (*Session, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.sessions[sessionID]
	return s, ok
}

// GetByCallControlID resolves a provider call-control ID to its owning
// session and which leg the ID belongs to.
func (st *Store) GetByCallControlID(callControlID string) (*Session, clientstate.Leg, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	entry, ok := st.byCallControlID[callControlID]
	if !ok {
		return nil, "", false
	}
	s, ok := st.sessions[entry.sessionID]
	if !ok {
		// Index entries never outlive their session; repair if they do.
		delete(st.byCallControlID, callControlID)
		return nil, "", false
	}
	return s, entry.leg, true
}

// Remove drops the session and both reverse-index entries atomically.
// Removing an unknown session is a no-op.
func (st *Store) Remove(sessionID string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.removeLocked(sessionID)
}

func (st *Store) removeLocked(sessionID string) {
	s, ok := st.sessions[sessionID]
	if !ok {
		return
	}
	s.mu.Lock()
	for _, leg := range []clientstate.Leg{clientstate.LegA, clientstate.LegB} {
		if slot := *s.legSlot(leg); slot != nil {
			delete(st.byCallControlID, slot.CallControlID)
		}
	}
	s.mu.Unlock()
	delete(st.sessions, sessionID)
}

// Len returns the number of in-flight sessions.
func (st *Store) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}

// StartSweep runs a background goroutine that periodically evicts sessions
// older than the TTL regardless of state. No provider calls are made for
// swept sessions: surviving to the TTL means the provider side is already
// unreachable or the call ended without us hearing about it. The goroutine
// stops when ctx is cancelled.
func (st *Store) StartSweep(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := st.sweepOnce(time.Now()); n > 0 {
					st.logger.Warn("evicted stale sessions", "count", n, "ttl", st.ttl)
				}
			}
		}
	}()
}

// sweepOnce removes all sessions created before now−TTL and returns how
// many were evicted.
func (st *Store) sweepOnce(now time.Time) int {
	st.mu.Lock()
	defer st.mu.Unlock()

	cutoff := now.Add(-st.ttl)
	var stale []string
	for id, s := range st.sessions {
		if s.CreatedAt.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	for _, id := range stale {
		st.removeLocked(id)
	}
	return len(stale)
}
