// Package session holds the in-memory registry of in-flight outbound call
// sessions. A session exists only for the lifetime of a call attempt: it is
// created when dialing, mutated by the webhook processor, and removed when
// both legs hang up or when the TTL sweep evicts it. Sessions are lost on
// restart by design; the provider hangs up orphaned legs on its own and the
// sweep covers any webhook that never arrives.
package session

import (
	"sync"
	"time"

	"github.com/callbridge/callbridge/internal/clientstate"
)

// LegStatus is the provider-reported state of a single call leg.
type LegStatus string

const (
	LegInitiated LegStatus = "initiated"
	LegRinging   LegStatus = "ringing"
	LegAnswered  LegStatus = "answered"
	LegHangup    LegStatus = "hangup"
)

// LegInfo is the tracked state of one leg of a session.
type LegInfo struct {
	CallControlID string
	Status        LegStatus
	AnsweredAt    *time.Time
}

// Session is one in-flight two-leg outbound call. Leg A is the PSTN leg,
// leg B the agent's SIP leg. All mutation goes through methods that take
// the session mutex, so two webhook handlers can never interleave a
// read/modify/write on the same session. Call metadata is immutable after
// creation.
type Session struct {
	ID         string
	CallLogID  int64
	ToNumber   string
	FromNumber string
	ContactID  *int64
	CompanyID  *int64
	UserID     int64
	CreatedAt  time.Time

	mu              sync.Mutex
	legA            *LegInfo
	legB            *LegInfo
	bridgeAttempted bool
	bridged         bool
	finished        bool
}

// New creates a session with no legs attached yet.
func New(id string, callLogID int64, toNumber, fromNumber string, userID int64) *Session {
	return &Session{
		ID:         id,
		CallLogID:  callLogID,
		ToNumber:   toNumber,
		FromNumber: fromNumber,
		UserID:     userID,
		CreatedAt:  time.Now(),
	}
}

// attachLeg records a leg's call-control ID. A leg is set once and never
// reassigned; a second attach for the same leg is ignored so a duplicated
// "initiated" webhook cannot clobber the original handle.
func (s *Session) attachLeg(leg clientstate.Leg, callControlID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot := s.legSlot(leg)
	if *slot != nil {
		return false
	}
	*slot = &LegInfo{CallControlID: callControlID, Status: LegInitiated}
	return true
}

// Leg returns a copy of the given leg's state.
func (s *Session) Leg(leg clientstate.Leg) (LegInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot := s.legSlot(leg)
	if *slot == nil {
		return LegInfo{}, false
	}
	return **slot, true
}

// SetLegStatus updates a leg's status, stamping the answer time on the
// first transition to answered. It is a no-op if the leg is unknown.
func (s *Session) SetLegStatus(leg clientstate.Leg, status LegStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot := s.legSlot(leg)
	if *slot == nil {
		return
	}
	(*slot).Status = status
	if status == LegAnswered && (*slot).AnsweredAt == nil {
		now := time.Now()
		(*slot).AnsweredAt = &now
	}
}

// TryStartBridge reports whether the caller has won the right to issue the
// bridge command: both legs answered and no previous attempt. The attempt
// flag flips at most once for the session's lifetime, which makes the
// bridge decision idempotent under duplicated "answered" webhooks.
func (s *Session) TryStartBridge() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.bridgeAttempted || s.legA == nil || s.legB == nil {
		return false
	}
	if s.legA.Status != LegAnswered || s.legB.Status != LegAnswered {
		return false
	}
	s.bridgeAttempted = true
	return true
}

// MarkBridged records that the bridge command succeeded.
func (s *Session) MarkBridged() {
	s.mu.Lock()
	s.bridged = true
	s.mu.Unlock()
}

// Bridged reports whether a successful bridge has been issued.
func (s *Session) Bridged() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bridged
}

// TryFinish reports whether the caller has won the right to run terminal
// processing for this session. Like TryStartBridge it flips at most once,
// so two hangup webhooks racing on the same session produce exactly one
// finalize and one ended notification.
func (s *Session) TryFinish() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finished {
		return false
	}
	s.finished = true
	return true
}

// AnsweredAt returns the earliest answer time across both legs, or nil if
// the call never reached answered. Used for outcome/duration derivation.
func (s *Session) AnsweredAt() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	var earliest *time.Time
	for _, l := range []*LegInfo{s.legA, s.legB} {
		if l == nil || l.AnsweredAt == nil {
			continue
		}
		if earliest == nil || l.AnsweredAt.Before(*earliest) {
			earliest = l.AnsweredAt
		}
	}
	return earliest
}

// EverAnswered reports whether either leg reached answered.
func (s *Session) EverAnswered() bool {
	return s.AnsweredAt() != nil
}

// OtherLeg returns the opposite leg identifier.
func OtherLeg(leg clientstate.Leg) clientstate.Leg {
	if leg == clientstate.LegA {
		return clientstate.LegB
	}
	return clientstate.LegA
}

func (s *Session) legSlot(leg clientstate.Leg) **LegInfo {
	if leg == clientstate.LegA {
		return &s.legA
	}
	return &s.legB
}
