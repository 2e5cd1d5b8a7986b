// Package events defines the normalized call events pushed to connected
// browser clients and the websocket hub that fans them out. Only the
// browser that owns a session acts on its events, so no per-recipient
// addressing is needed.
package events

// Type is the kind of a normalized call event.
type Type string

const (
	TypeConnecting Type = "connecting"
	TypeRinging    Type = "ringing"
	TypeActive     Type = "active"
	TypeEnded      Type = "ended"
)

// Event is a normalized call state change. ToNumber is populated only on
// connecting; Error only on ended, and only when the call ended abnormally
// (bridge failure). Provider-side terminal outcomes such as busy or
// no-answer are not errors and leave Error empty.
type Event struct {
	Type      Type   `json:"type"`
	SessionID string `json:"session_id"`
	CallLogID int64  `json:"call_log_id"`
	ToNumber  string `json:"to_number,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Publisher delivers normalized events to all connected clients.
type Publisher interface {
	Publish(Event)
}

// Connecting builds a connecting event.
func Connecting(sessionID string, callLogID int64, toNumber string) Event {
	return Event{Type: TypeConnecting, SessionID: sessionID, CallLogID: callLogID, ToNumber: toNumber}
}

// Ringing builds a ringing event.
func Ringing(sessionID string, callLogID int64) Event {
	return Event{Type: TypeRinging, SessionID: sessionID, CallLogID: callLogID}
}

// Active builds an active event.
func Active(sessionID string, callLogID int64) Event {
	return Event{Type: TypeActive, SessionID: sessionID, CallLogID: callLogID}
}

// Ended builds an ended event. errMsg is empty for normal call outcomes.
func Ended(sessionID string, callLogID int64, errMsg string) Event {
	return Event{Type: TypeEnded, SessionID: sessionID, CallLogID: callLogID, Error: errMsg}
}
