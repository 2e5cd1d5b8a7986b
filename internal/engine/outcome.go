package engine

import "github.com/callbridge/callbridge/internal/database/models"

// Provider hangup causes with a defined outcome mapping. Anything else is
// classified by whether the call ever reached answered.
const (
	causeNormalClearing   = "normal_clearing"
	causeUserBusy         = "user_busy"
	causeNoAnswer         = "no_answer"
	causeTimeout          = "timeout"
	causeOriginatorCancel = "originator_cancel"
)

// deriveOutcome maps a provider hangup cause to the stored call outcome.
// The derivation happens once, at hangup time.
func deriveOutcome(hangupCause string, everAnswered bool) string {
	switch hangupCause {
	case causeNormalClearing:
		return models.OutcomeCompleted
	case causeUserBusy:
		return models.OutcomeBusy
	case causeNoAnswer, causeTimeout:
		return models.OutcomeNoAnswer
	case causeOriginatorCancel:
		return models.OutcomeCancelled
	}
	if everAnswered {
		return models.OutcomeCompleted
	}
	return models.OutcomeFailed
}
