// Package engine is the call orchestration core: it dials the two legs of
// an outbound session, reacts to provider webhooks with a per-leg state
// machine, bridges the legs when both answer, and finalizes the call
// record at hangup.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/callbridge/callbridge/internal/clientstate"
	"github.com/callbridge/callbridge/internal/database"
	"github.com/callbridge/callbridge/internal/database/models"
	"github.com/callbridge/callbridge/internal/events"
	"github.com/callbridge/callbridge/internal/identity"
	"github.com/callbridge/callbridge/internal/session"
)

// CallController is the slice of the provider call-control API the engine
// drives.
type CallController interface {
	CreatePSTNLeg(ctx context.Context, to, from, clientState string, timeoutSecs int) (string, error)
	CreateSIPLeg(ctx context.Context, sipAddress, from, clientState string) (string, error)
	Bridge(ctx context.Context, callControlID, otherCallControlID string) error
	Hangup(ctx context.Context, callControlID string) error
	StartRecording(ctx context.Context, callControlID string) error
}

// SIPAddressSource resolves the agent's current SIP address.
type SIPAddressSource interface {
	SIPAddress(ctx context.Context) (string, error)
}

// CallerIDSource hands out the outbound caller ID for the next call.
type CallerIDSource interface {
	Next() string
}

// Engine wires the session store, provider client, persistence, and event
// hub into the dial and webhook paths.
type Engine struct {
	store      *session.Store
	provider   CallController
	sipSource  SIPAddressSource
	callerIDs  CallerIDSource
	callLogs   database.CallLogRepository
	resolver   identity.Resolver
	finalizer  *Finalizer
	publisher  events.Publisher
	logger     *slog.Logger
	recordCall bool

	stats stats
}

// stats are monotonically increasing engine counters, read by the metrics
// collector at scrape time.
type stats struct {
	bridgesTotal       atomic.Int64
	bridgeFailures     atomic.Int64
	outcomesCompleted  atomic.Int64
	outcomesBusy       atomic.Int64
	outcomesNoAnswer   atomic.Int64
	outcomesCancelled  atomic.Int64
	outcomesFailed     atomic.Int64
	unroutableWebhooks atomic.Int64
}

// Config collects the engine's collaborators.
type Config struct {
	Store      *session.Store
	Provider   CallController
	SIPSource  SIPAddressSource
	CallerIDs  CallerIDSource
	CallLogs   database.CallLogRepository
	Activities database.ActivityRepository
	Resolver   identity.Resolver
	Publisher  events.Publisher
	Logger     *slog.Logger
	// RecordCalls starts dual-channel recording after a successful bridge.
	RecordCalls bool
}

// New creates an Engine.
func New(cfg Config) *Engine {
	return &Engine{
		store:      cfg.Store,
		provider:   cfg.Provider,
		sipSource:  cfg.SIPSource,
		callerIDs:  cfg.CallerIDs,
		callLogs:   cfg.CallLogs,
		resolver:   cfg.Resolver,
		finalizer:  NewFinalizer(cfg.CallLogs, cfg.Activities, cfg.Logger),
		publisher:  cfg.Publisher,
		logger:     cfg.Logger.With("subsystem", "engine"),
		recordCall: cfg.RecordCalls,
	}
}

// DialResult identifies the session and record created for a dial request.
type DialResult struct {
	SessionID string
	CallLogID int64
}

// Dial places a two-leg outbound call: leg A to the PSTN number, leg B to
// the agent's SIP address, both tagged with a correlation token. Any leg
// creation failure tears down what was already created and finalizes the
// call record as failed; nothing about a half-built call is left behind.
func (e *Engine) Dial(ctx context.Context, toNumber string, userID int64) (*DialResult, error) {
	sessionID := uuid.NewString()
	fromNumber := e.callerIDs.Next()

	contactID, companyID, err := e.resolver.ResolveCallerIdentity(ctx, toNumber)
	if err != nil {
		// Identity enrichment is optional; dial anyway.
		e.logger.Warn("resolving caller identity", "to", toNumber, "error", err)
	}

	log := &models.CallLog{
		SessionID:  sessionID,
		ToNumber:   toNumber,
		FromNumber: fromNumber,
		ContactID:  contactID,
		CompanyID:  companyID,
		UserID:     userID,
		StartedAt:  time.Now().UTC(),
	}
	if err := e.callLogs.Create(ctx, log); err != nil {
		return nil, fmt.Errorf("creating call log: %w", err)
	}

	sipAddress, err := e.sipSource.SIPAddress(ctx)
	if err != nil {
		e.failDial(ctx, log, "")
		return nil, fmt.Errorf("resolving agent sip address: %w", err)
	}

	legAID, err := e.provider.CreatePSTNLeg(ctx, toNumber, fromNumber,
		clientstate.Encode(sessionID, clientstate.LegA, log.ID), 0)
	if err != nil {
		e.failDial(ctx, log, "")
		return nil, fmt.Errorf("creating pstn leg: %w", err)
	}

	legBID, err := e.provider.CreateSIPLeg(ctx, sipAddress, fromNumber,
		clientstate.Encode(sessionID, clientstate.LegB, log.ID))
	if err != nil {
		e.failDial(ctx, log, legAID)
		return nil, fmt.Errorf("creating sip leg: %w", err)
	}

	if err := e.callLogs.SetProviderCallID(ctx, log.ID, legAID); err != nil {
		e.logger.Error("recording provider call id", "call_log_id", log.ID, "error", err)
	}

	sess := session.New(sessionID, log.ID, toNumber, fromNumber, userID)
	sess.ContactID = contactID
	sess.CompanyID = companyID
	if err := e.store.Create(sess); err != nil {
		// A UUID collision in practice means a programming error; tear
		// the legs down rather than run an untracked call.
		e.hangupBestEffort(ctx, legAID, legBID)
		e.failDial(ctx, log, "")
		return nil, fmt.Errorf("registering session: %w", err)
	}
	if err := e.store.AttachLeg(sessionID, clientstate.LegA, legAID); err != nil {
		e.logger.Error("attaching leg A", "session_id", sessionID, "error", err)
	}
	if err := e.store.AttachLeg(sessionID, clientstate.LegB, legBID); err != nil {
		e.logger.Error("attaching leg B", "session_id", sessionID, "error", err)
	}

	e.publisher.Publish(events.Connecting(sessionID, log.ID, toNumber))
	e.logger.Info("dial started", "session_id", sessionID, "call_log_id", log.ID, "to", toNumber)

	return &DialResult{SessionID: sessionID, CallLogID: log.ID}, nil
}

// failDial finalizes the call record as failed during dial setup, hanging
// up a leg that was already created.
func (e *Engine) failDial(ctx context.Context, log *models.CallLog, createdLegID string) {
	if createdLegID != "" {
		if err := e.provider.Hangup(ctx, createdLegID); err != nil {
			e.logger.Error("tearing down partial leg", "call_control_id", createdLegID, "error", err)
		}
	}
	applied, err := e.finalizer.Finalize(ctx, FinalizeInput{
		CallLogID: log.ID,
		UserID:    log.UserID,
		ContactID: log.ContactID,
		ToNumber:  log.ToNumber,
		Outcome:   models.OutcomeFailed,
		EndedAt:   time.Now().UTC(),
	})
	if err != nil {
		e.logger.Error("finalizing failed dial", "call_log_id", log.ID, "error", err)
	}
	if applied {
		e.stats.outcomesFailed.Add(1)
	}
}

// RequestHangup tears down both legs of a session on the operator's
// request. Teardown is best-effort; the provider's hangup webhooks drive
// the actual finalization.
func (e *Engine) RequestHangup(ctx context.Context, sessionID string) error {
	sess, ok := e.store.Get(sessionID)
	if !ok {
		return fmt.Errorf("session %s not found", sessionID)
	}

	for _, leg := range []clientstate.Leg{clientstate.LegA, clientstate.LegB} {
		info, ok := sess.Leg(leg)
		if !ok || info.Status == session.LegHangup {
			continue
		}
		if err := e.provider.Hangup(ctx, info.CallControlID); err != nil {
			e.logger.Error("requesting hangup", "session_id", sessionID, "leg", leg, "error", err)
		}
	}
	return nil
}

// hangupBestEffort hangs up any non-empty call-control IDs, logging
// failures.
func (e *Engine) hangupBestEffort(ctx context.Context, ids ...string) {
	for _, id := range ids {
		if id == "" {
			continue
		}
		if err := e.provider.Hangup(ctx, id); err != nil {
			e.logger.Error("hangup failed", "call_control_id", id, "error", err)
		}
	}
}

// countOutcome bumps the per-class outcome counter.
func (e *Engine) countOutcome(outcome string) {
	switch outcome {
	case models.OutcomeCompleted:
		e.stats.outcomesCompleted.Add(1)
	case models.OutcomeBusy:
		e.stats.outcomesBusy.Add(1)
	case models.OutcomeNoAnswer:
		e.stats.outcomesNoAnswer.Add(1)
	case models.OutcomeCancelled:
		e.stats.outcomesCancelled.Add(1)
	default:
		e.stats.outcomesFailed.Add(1)
	}
}

// Stats is a point-in-time snapshot of the engine counters.
type Stats struct {
	ActiveSessions     int
	BridgesTotal       int64
	BridgeFailures     int64
	OutcomesCompleted  int64
	OutcomesBusy       int64
	OutcomesNoAnswer   int64
	OutcomesCancelled  int64
	OutcomesFailed     int64
	UnroutableWebhooks int64
}

// Snapshot returns current engine counters for the metrics collector.
func (e *Engine) Snapshot() Stats {
	return Stats{
		ActiveSessions:     e.store.Len(),
		BridgesTotal:       e.stats.bridgesTotal.Load(),
		BridgeFailures:     e.stats.bridgeFailures.Load(),
		OutcomesCompleted:  e.stats.outcomesCompleted.Load(),
		OutcomesBusy:       e.stats.outcomesBusy.Load(),
		OutcomesNoAnswer:   e.stats.outcomesNoAnswer.Load(),
		OutcomesCancelled:  e.stats.outcomesCancelled.Load(),
		OutcomesFailed:     e.stats.outcomesFailed.Load(),
		UnroutableWebhooks: e.stats.unroutableWebhooks.Load(),
	}
}
