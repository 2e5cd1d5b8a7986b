package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/callbridge/callbridge/internal/database"
	"github.com/callbridge/callbridge/internal/database/models"
)

// FinalizeInput carries everything needed to stamp a terminal state on a
// call record.
type FinalizeInput struct {
	CallLogID  int64
	UserID     int64
	ContactID  *int64
	ToNumber   string
	Outcome    string
	AnsweredAt *time.Time
	EndedAt    time.Time
}

// Finalizer writes the terminal bookkeeping for a finished call: outcome,
// timestamps, duration, and a linked CRM activity for answered calls.
type Finalizer struct {
	callLogs   database.CallLogRepository
	activities database.ActivityRepository
	logger     *slog.Logger
}

// NewFinalizer creates a Finalizer.
func NewFinalizer(callLogs database.CallLogRepository, activities database.ActivityRepository, logger *slog.Logger) *Finalizer {
	return &Finalizer{
		callLogs:   callLogs,
		activities: activities,
		logger:     logger.With("subsystem", "finalizer"),
	}
}

// Finalize stamps the terminal state on the call log and, for calls that
// were answered and carried a conversation, records a linked activity.
// Duration counts only conversation time: zero when the call was never
// answered. Finalizing an already-terminal log is a no-op and reports
// false, so a duplicated hangup event cannot rewrite history.
func (f *Finalizer) Finalize(ctx context.Context, in FinalizeInput) (bool, error) {
	durationSecs := 0
	if in.AnsweredAt != nil {
		durationSecs = int(in.EndedAt.Sub(*in.AnsweredAt) / time.Second)
		if durationSecs < 0 {
			durationSecs = 0
		}
	}

	applied, err := f.callLogs.Finalize(ctx, in.CallLogID, in.Outcome, in.AnsweredAt, in.EndedAt, durationSecs)
	if err != nil {
		return false, fmt.Errorf("finalizing call log %d: %w", in.CallLogID, err)
	}
	if !applied {
		return false, nil
	}

	if durationSecs > 0 {
		act := &models.Activity{
			CallLogID:    in.CallLogID,
			UserID:       in.UserID,
			ContactID:    in.ContactID,
			Summary:      fmt.Sprintf("Outbound call to %s (%s)", in.ToNumber, in.Outcome),
			DurationSecs: durationSecs,
		}
		if err := f.activities.Create(ctx, act); err != nil {
			// The call record is already finalized; a missing activity is
			// not worth failing the hangup path over.
			f.logger.Error("creating call activity", "call_log_id", in.CallLogID, "error", err)
		}
	}

	return true, nil
}
