package database

import (
	"context"
	"time"

	"github.com/callbridge/callbridge/internal/database/models"
)

// CallLogListFilter specifies filtering and pagination for call history
// queries.
type CallLogListFilter struct {
	Limit     int
	Offset    int
	Search    string // matches to_number or from_number
	Outcome   string // completed, busy, no_answer, cancelled, failed, or "" for all
	StartDate string // RFC3339 or YYYY-MM-DD
	EndDate   string // RFC3339 or YYYY-MM-DD
}

// CallLogRepository manages durable call records.
type CallLogRepository interface {
	Create(ctx context.Context, log *models.CallLog) error
	GetByID(ctx context.Context, id int64) (*models.CallLog, error)
	GetByProviderCallID(ctx context.Context, providerCallID string) (*models.CallLog, error)
	SetProviderCallID(ctx context.Context, id int64, providerCallID string) error
	SetRecordingURL(ctx context.Context, id int64, url string) error
	// Finalize stamps the terminal outcome, timestamps, and duration on an
	// in-progress call log. It returns false without modifying anything if
	// the log is already in a terminal status, which makes duplicate
	// hangup processing a no-op.
	Finalize(ctx context.Context, id int64, outcome string, answeredAt *time.Time, endedAt time.Time, durationSecs int) (bool, error)
	List(ctx context.Context, filter CallLogListFilter) ([]models.CallLog, int, error)
}

// ActivityRepository manages CRM activities linked to call logs.
type ActivityRepository interface {
	Create(ctx context.Context, act *models.Activity) error
	ListByCallLog(ctx context.Context, callLogID int64) ([]models.Activity, error)
}

// ContactRepository manages CRM contacts.
type ContactRepository interface {
	Create(ctx context.Context, contact *models.Contact) error
	GetByID(ctx context.Context, id int64) (*models.Contact, error)
	GetByPhoneNumber(ctx context.Context, number string) (*models.Contact, error)
}

// AgentUserRepository manages operator accounts.
type AgentUserRepository interface {
	Create(ctx context.Context, user *models.AgentUser) error
	GetByUsername(ctx context.Context, username string) (*models.AgentUser, error)
	Count(ctx context.Context) (int64, error)
}
