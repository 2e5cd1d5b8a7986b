package engine

import (
	"context"
	"time"

	"github.com/callbridge/callbridge/internal/clientstate"
	"github.com/callbridge/callbridge/internal/database/models"
	"github.com/callbridge/callbridge/internal/events"
	"github.com/callbridge/callbridge/internal/session"
)

// Provider webhook event types.
const (
	EventCallInitiated  = "call.initiated"
	EventCallRinging    = "call.ringing"
	EventCallAnswered   = "call.answered"
	EventCallHangup     = "call.hangup"
	EventRecordingSaved = "recording.saved"
)

// WebhookEvent is the decoded body of a provider webhook callback.
type WebhookEvent struct {
	EventType string         `json:"event_type"`
	Payload   WebhookPayload `json:"payload"`
}

// WebhookPayload carries the per-call fields of a webhook. ClientState is
// the correlation token echoed back from leg creation; it is absent on
// calls this engine did not initiate.
type WebhookPayload struct {
	CallControlID string `json:"call_control_id"`
	ClientState   string `json:"client_state,omitempty"`
	HangupCause   string `json:"hangup_cause,omitempty"`
	RecordingURL  string `json:"recording_url,omitempty"`
	To            string `json:"to,omitempty"`
	From          string `json:"from,omitempty"`
	Direction     string `json:"direction,omitempty"`
}

// ProcessWebhook routes one provider webhook through the per-leg state
// machine. It never returns an error for unroutable events: a webhook the
// engine cannot place (bad token, unknown session) is logged, counted, and
// dropped, because the provider only needs an acknowledgment.
func (e *Engine) ProcessWebhook(ctx context.Context, ev WebhookEvent) {
	token, err := clientstate.Decode(ev.Payload.ClientState)
	if err != nil {
		e.processUncorrelated(ctx, ev)
		return
	}

	sess, ok := e.store.Get(token.SessionID)
	if !ok {
		e.stats.unroutableWebhooks.Add(1)
		e.logger.Warn("webhook for unknown session",
			"event_type", ev.EventType, "session_id", token.SessionID)
		return
	}

	switch ev.EventType {
	case EventCallInitiated:
		e.handleInitiated(sess, token.Leg, ev.Payload.CallControlID)
	case EventCallRinging:
		e.handleRinging(sess, token.Leg)
	case EventCallAnswered:
		e.handleAnswered(ctx, sess, token.Leg)
	case EventCallHangup:
		e.handleHangup(ctx, sess, token.Leg, ev.Payload.HangupCause)
	case EventRecordingSaved:
		e.handleRecordingSaved(ctx, token.CallLogID, ev.Payload.RecordingURL)
	default:
		e.logger.Debug("ignoring webhook event", "event_type", ev.EventType)
	}
}

// handleInitiated records the leg's call-control ID if the dial path has
// not stored it yet. No state transition, no notifications.
func (e *Engine) handleInitiated(sess *session.Session, leg clientstate.Leg, callControlID string) {
	if callControlID == "" {
		return
	}
	if err := e.store.AttachLeg(sess.ID, leg, callControlID); err != nil {
		e.logger.Warn("attaching leg from webhook", "session_id", sess.ID, "leg", leg, "error", err)
	}
}

// handleRinging marks the leg ringing. Only leg A's ringing is surfaced to
// clients: the agent's own phone ringing is not news to the agent.
func (e *Engine) handleRinging(sess *session.Session, leg clientstate.Leg) {
	sess.SetLegStatus(leg, session.LegRinging)
	if leg == clientstate.LegA {
		e.publisher.Publish(events.Ringing(sess.ID, sess.CallLogID))
	}
}

// handleAnswered marks the leg answered. The bridge is issued only from
// leg A's answered transition, and at most once per session: leg B (the
// agent soft phone) answers near-instantly, so by the time the external
// party picks up, leg B is already waiting.
func (e *Engine) handleAnswered(ctx context.Context, sess *session.Session, leg clientstate.Leg) {
	sess.SetLegStatus(leg, session.LegAnswered)

	if leg != clientstate.LegA {
		return
	}
	if !sess.TryStartBridge() {
		return
	}

	legA, okA := sess.Leg(clientstate.LegA)
	legB, okB := sess.Leg(clientstate.LegB)
	if !okA || !okB {
		// TryStartBridge only succeeds with both legs present.
		return
	}

	// The provider call is made without holding any session lock.
	if err := e.provider.Bridge(ctx, legA.CallControlID, legB.CallControlID); err != nil {
		e.stats.bridgeFailures.Add(1)
		e.logger.Error("bridging legs", "session_id", sess.ID, "error", err)
		e.failBridge(ctx, sess, legA.CallControlID, legB.CallControlID, err)
		return
	}

	sess.MarkBridged()
	e.stats.bridgesTotal.Add(1)

	if e.recordCall {
		if err := e.provider.StartRecording(ctx, legA.CallControlID); err != nil {
			e.logger.Warn("starting recording", "session_id", sess.ID, "error", err)
		}
	}

	e.publisher.Publish(events.Active(sess.ID, sess.CallLogID))
	e.logger.Info("call bridged", "session_id", sess.ID, "call_log_id", sess.CallLogID)
}

// failBridge is the terminal path for a failed bridge command: both legs
// are hung up, the record is finalized as failed, and clients get an ended
// event carrying the error. There is no retry.
func (e *Engine) failBridge(ctx context.Context, sess *session.Session, legAID, legBID string, bridgeErr error) {
	if !sess.TryFinish() {
		return
	}

	e.hangupBestEffort(ctx, legAID, legBID)

	applied, err := e.finalizer.Finalize(ctx, FinalizeInput{
		CallLogID:  sess.CallLogID,
		UserID:     sess.UserID,
		ContactID:  sess.ContactID,
		ToNumber:   sess.ToNumber,
		Outcome:    models.OutcomeFailed,
		AnsweredAt: sess.AnsweredAt(),
		EndedAt:    time.Now().UTC(),
	})
	if err != nil {
		e.logger.Error("finalizing bridge failure", "session_id", sess.ID, "error", err)
	}
	if applied {
		e.stats.outcomesFailed.Add(1)
	}

	e.publisher.Publish(events.Ended(sess.ID, sess.CallLogID, bridgeErr.Error()))
	e.store.Remove(sess.ID)
}

// handleHangup is the terminal path for either leg hanging up: the other
// live leg is torn down, the outcome derived from the hangup cause, the
// record finalized, clients notified, and the session removed. A second
// hangup for the same session is a no-op.
func (e *Engine) handleHangup(ctx context.Context, sess *session.Session, leg clientstate.Leg, hangupCause string) {
	sess.SetLegStatus(leg, session.LegHangup)

	if !sess.TryFinish() {
		return
	}

	if other, ok := sess.Leg(session.OtherLeg(leg)); ok && other.Status != session.LegHangup {
		if err := e.provider.Hangup(ctx, other.CallControlID); err != nil {
			e.logger.Error("hanging up other leg", "session_id", sess.ID, "error", err)
		}
	}

	outcome := deriveOutcome(hangupCause, sess.EverAnswered())
	applied, err := e.finalizer.Finalize(ctx, FinalizeInput{
		CallLogID:  sess.CallLogID,
		UserID:     sess.UserID,
		ContactID:  sess.ContactID,
		ToNumber:   sess.ToNumber,
		Outcome:    outcome,
		AnsweredAt: sess.AnsweredAt(),
		EndedAt:    time.Now().UTC(),
	})
	if err != nil {
		e.logger.Error("finalizing call", "session_id", sess.ID, "error", err)
	}
	if applied {
		e.countOutcome(outcome)
	}

	e.publisher.Publish(events.Ended(sess.ID, sess.CallLogID, ""))
	e.store.Remove(sess.ID)
	e.logger.Info("call ended",
		"session_id", sess.ID, "call_log_id", sess.CallLogID,
		"hangup_cause", hangupCause, "outcome", outcome)
}

// handleRecordingSaved attaches the recording URL to the call record. No
// session state changes; the event can arrive after the session is gone.
func (e *Engine) handleRecordingSaved(ctx context.Context, callLogID int64, url string) {
	if url == "" {
		return
	}
	if err := e.callLogs.SetRecordingURL(ctx, callLogID, url); err != nil {
		e.logger.Error("saving recording url", "call_log_id", callLogID, "error", err)
	}
}

// processUncorrelated handles webhooks carrying no usable correlation
// token. Calls this engine did not initiate are matched by provider call
// ID and get single-leg terminal bookkeeping only: no session, no bridge,
// no client notifications.
func (e *Engine) processUncorrelated(ctx context.Context, ev WebhookEvent) {
	if ev.Payload.CallControlID == "" {
		e.stats.unroutableWebhooks.Add(1)
		e.logger.Warn("unroutable webhook", "event_type", ev.EventType)
		return
	}

	log, err := e.callLogs.GetByProviderCallID(ctx, ev.Payload.CallControlID)
	if err != nil {
		e.logger.Error("looking up call by provider id", "error", err)
		return
	}
	if log == nil {
		e.stats.unroutableWebhooks.Add(1)
		e.logger.Warn("webhook for unknown call",
			"event_type", ev.EventType, "call_control_id", ev.Payload.CallControlID)
		return
	}

	switch ev.EventType {
	case EventCallHangup:
		outcome := deriveOutcome(ev.Payload.HangupCause, log.AnsweredAt != nil)
		applied, err := e.finalizer.Finalize(ctx, FinalizeInput{
			CallLogID:  log.ID,
			UserID:     log.UserID,
			ContactID:  log.ContactID,
			ToNumber:   log.ToNumber,
			Outcome:    outcome,
			AnsweredAt: log.AnsweredAt,
			EndedAt:    time.Now().UTC(),
		})
		if err != nil {
			e.logger.Error("finalizing uncorrelated call", "call_log_id", log.ID, "error", err)
		}
		if applied {
			e.countOutcome(outcome)
		}
	case EventRecordingSaved:
		e.handleRecordingSaved(ctx, log.ID, ev.Payload.RecordingURL)
	}
}
