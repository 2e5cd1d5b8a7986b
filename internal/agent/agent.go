// Package agent drives the softphone side of a call: it asks the server to
// start a dial, auto-answers the SIP leg the provider sends back, and tracks
// the call's lifecycle from the server's pushed events.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/callbridge/callbridge/internal/events"
)

// State is the controller's view of the current call.
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateRinging    State = "ringing"
	StateActive     State = "active"
	StateEnded      State = "ended"
)

// transitions maps the current state and a pushed event type to the next
// state. Pairs absent from the table are ignored, so a late ringing event
// cannot move an active call backwards.
var transitions = map[State]map[events.Type]State{
	StateConnecting: {
		events.TypeRinging: StateRinging,
		events.TypeActive:  StateActive,
		events.TypeEnded:   StateEnded,
	},
	StateRinging: {
		events.TypeActive: StateActive,
		events.TypeEnded:  StateEnded,
	},
	StateActive: {
		events.TypeEnded: StateEnded,
	},
}

// defaultAnswerWait is how long the controller waits for the provider's SIP
// leg to arrive after a dial before giving up.
const defaultAnswerWait = 10 * time.Second

// SoftPhone is the local SIP endpoint the controller answers calls on.
type SoftPhone interface {
	// OnIncomingCall registers the accept decision for inbound INVITEs.
	// The phone answers when the callback returns true and rejects the
	// call otherwise.
	OnIncomingCall(func(from string) bool)

	// Hangup terminates the established local call, if any.
	Hangup() error
}

// ServerAPI is the subset of the server's HTTP API the controller uses.
type ServerAPI interface {
	Dial(ctx context.Context, toNumber string) (sessionID string, callLogID int64, err error)
	Hangup(ctx context.Context, sessionID string) error
}

// ErrCallInProgress is returned by Dial while another call is being handled.
var ErrCallInProgress = errors.New("call already in progress")

// ErrNoAnswer is recorded when the provider's SIP leg never reached the
// softphone within the answer window.
var ErrNoAnswer = errors.New("softphone leg never arrived")

// Controller owns one call at a time. It posts dial intents to the server,
// answers the matching inbound SIP leg, and follows the server's pushed
// events through the call lifecycle.
type Controller struct {
	server     ServerAPI
	phone      SoftPhone
	answerWait time.Duration
	onChange   func(State)
	logger     *slog.Logger

	mu        sync.Mutex
	state     State
	sessionID string
	callLogID int64
	hasCall   bool
	timer     *time.Timer
	lastErr   error
}

// Option configures a Controller.
type Option func(*Controller)

// WithAnswerWait overrides the window the controller waits for the SIP leg.
func WithAnswerWait(d time.Duration) Option {
	return func(c *Controller) { c.answerWait = d }
}

// WithStateListener registers a callback invoked (with the controller
// unlocked) after every state change.
func WithStateListener(fn func(State)) Option {
	return func(c *Controller) { c.onChange = fn }
}

// NewController wires the controller to the server API and the softphone.
// It installs itself as the phone's incoming-call gate.
func NewController(server ServerAPI, phone SoftPhone, logger *slog.Logger, opts ...Option) *Controller {
	c := &Controller{
		server:     server,
		phone:      phone,
		answerWait: defaultAnswerWait,
		logger:     logger.With("subsystem", "agent"),
		state:      StateIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	phone.OnIncomingCall(c.acceptIncoming)
	return c
}

// State returns the current call state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SessionID returns the session being handled, or "" when idle.
func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Err returns the error that ended the last call, if any.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Dial asks the server to start a call to the given number. The controller
// moves to connecting and waits for the provider to route the SIP leg to
// the softphone.
func (c *Controller) Dial(ctx context.Context, toNumber string) (string, error) {
	c.mu.Lock()
	switch c.state {
	case StateConnecting, StateRinging, StateActive:
		c.mu.Unlock()
		return "", ErrCallInProgress
	}
	// Reserve the controller before the network round trip so a second
	// Dial cannot race in underneath it.
	c.state = StateConnecting
	c.sessionID = ""
	c.callLogID = 0
	c.hasCall = false
	c.lastErr = nil
	c.mu.Unlock()

	sessionID, callLogID, err := c.server.Dial(ctx, toNumber)
	if err != nil {
		c.mu.Lock()
		c.state = StateIdle
		c.mu.Unlock()
		return "", fmt.Errorf("requesting dial: %w", err)
	}

	c.mu.Lock()
	c.sessionID = sessionID
	c.callLogID = callLogID
	c.timer = time.AfterFunc(c.answerWait, func() { c.answerTimeout(sessionID) })
	c.mu.Unlock()

	c.logger.Info("dial accepted", "session_id", sessionID, "to", toNumber)
	c.notify(StateConnecting)
	return sessionID, nil
}

// acceptIncoming is the softphone's gate for inbound INVITEs. Only the leg
// of a dial currently in flight is answered; anything else is rejected.
func (c *Controller) acceptIncoming(from string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateConnecting || c.hasCall {
		c.logger.Warn("rejecting unexpected incoming call", "from", from, "state", string(c.state))
		return false
	}

	c.hasCall = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.logger.Info("answering softphone leg", "from", from, "session_id", c.sessionID)
	return true
}

// HandleServerEvent applies a pushed event to the local state machine.
// Events for sessions this controller is not handling are ignored.
func (c *Controller) HandleServerEvent(ev events.Event) {
	c.mu.Lock()

	if c.sessionID == "" || ev.SessionID != c.sessionID {
		c.mu.Unlock()
		c.logger.Debug("ignoring event for untracked session", "session_id", ev.SessionID, "type", string(ev.Type))
		return
	}

	next, ok := transitions[c.state][ev.Type]
	if !ok {
		c.mu.Unlock()
		return
	}

	c.state = next
	var dropLeg bool
	if next == StateEnded {
		if c.timer != nil {
			c.timer.Stop()
			c.timer = nil
		}
		dropLeg = c.hasCall
		c.hasCall = false
		if ev.Error != "" {
			c.lastErr = errors.New(ev.Error)
		}
	}
	c.mu.Unlock()

	if dropLeg {
		if err := c.phone.Hangup(); err != nil {
			c.logger.Warn("dropping softphone leg after call end", "error", err)
		}
	}
	c.notify(next)
}

// HangupLocal ends the call from the agent's side: the local leg is dropped
// immediately and the server is told to tear down the rest.
func (c *Controller) HangupLocal(ctx context.Context) error {
	c.mu.Lock()
	if c.sessionID == "" || c.state == StateIdle || c.state == StateEnded {
		c.mu.Unlock()
		return errors.New("no call to hang up")
	}
	sessionID := c.sessionID
	dropLeg := c.hasCall
	c.hasCall = false
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.state = StateEnded
	c.mu.Unlock()

	if dropLeg {
		if err := c.phone.Hangup(); err != nil {
			c.logger.Warn("dropping local leg", "error", err)
		}
	}
	if err := c.server.Hangup(ctx, sessionID); err != nil {
		c.logger.Error("notifying server of hangup", "session_id", sessionID, "error", err)
	}

	c.notify(StateEnded)
	return nil
}

// answerTimeout fires when the provider never delivered the SIP leg. The
// sessionID pins the timer to the dial that armed it.
func (c *Controller) answerTimeout(sessionID string) {
	c.mu.Lock()
	if c.sessionID != sessionID || c.state != StateConnecting || c.hasCall {
		c.mu.Unlock()
		return
	}
	c.state = StateEnded
	c.lastErr = ErrNoAnswer
	c.timer = nil
	c.mu.Unlock()

	c.logger.Error("softphone leg never arrived, abandoning call", "session_id", sessionID)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.server.Hangup(ctx, sessionID); err != nil {
		c.logger.Error("tearing down abandoned call", "session_id", sessionID, "error", err)
	}

	c.notify(StateEnded)
}

func (c *Controller) notify(s State) {
	if c.onChange != nil {
		c.onChange(s)
	}
}
