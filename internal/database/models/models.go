// Package models defines the row types stored in the CallBridge database.
package models

import "time"

// Call log statuses. A log is in_progress from dial time until the
// finalizer stamps a terminal outcome; "terminal" here means the status
// equals CallStatusEnded.
const (
	CallStatusInProgress = "in_progress"
	CallStatusEnded      = "ended"
)

// Call outcomes, derived once at hangup from the provider's hangup cause
// and whether the call ever reached answered.
const (
	OutcomeCompleted = "completed"
	OutcomeBusy      = "busy"
	OutcomeNoAnswer  = "no_answer"
	OutcomeCancelled = "cancelled"
	OutcomeFailed    = "failed"
)

// CallLog is the durable record of one call attempt. SessionID and
// ProviderCallID are correlation handles: SessionID for calls this engine
// initiated, ProviderCallID for inbound calls correlated without a
// client-state token.
type CallLog struct {
	ID             int64
	SessionID      string
	ProviderCallID string
	Direction      string
	ToNumber       string
	FromNumber     string
	ContactID      *int64
	CompanyID      *int64
	UserID         int64
	Status         string
	Outcome        string
	StartedAt      time.Time
	AnsweredAt     *time.Time
	EndedAt        *time.Time
	DurationSecs   int
	RecordingURL   string
}

// Activity is a CRM activity row linked to a call log. Created by the
// finalizer for answered calls with non-zero duration.
type Activity struct {
	ID           int64
	CallLogID    int64
	UserID       int64
	ContactID    *int64
	Kind         string
	Summary      string
	DurationSecs int
	CreatedAt    time.Time
}

// Contact is a CRM contact reachable at a phone number.
type Contact struct {
	ID          int64
	Name        string
	PhoneNumber string
	CompanyID   *int64
	CreatedAt   time.Time
}

// AgentUser is an operator account for the dialer API and event stream.
type AgentUser struct {
	ID           int64
	Username     string
	DisplayName  string
	PasswordHash string
	CreatedAt    time.Time
}
