package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/callbridge/callbridge/internal/database/models"
)

// callLogRepo implements CallLogRepository.
type callLogRepo struct {
	db *DB
}

// NewCallLogRepository creates a new CallLogRepository.
func NewCallLogRepository(db *DB) CallLogRepository {
	return &callLogRepo{db: db}
}

const callLogColumns = `id, session_id, provider_call_id, direction, to_number,
	from_number, contact_id, company_id, user_id, status, outcome,
	started_at, answered_at, ended_at, duration_secs, recording_url`

// Create inserts a new call log row and backfills the generated ID.
func (r *callLogRepo) Create(ctx context.Context, log *models.CallLog) error {
	if log.Status == "" {
		log.Status = models.CallStatusInProgress
	}
	if log.Direction == "" {
		log.Direction = "outbound"
	}
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO call_logs (session_id, provider_call_id, direction, to_number,
		 from_number, contact_id, company_id, user_id, status, outcome,
		 started_at, answered_at, ended_at, duration_secs, recording_url)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		nullStr(log.SessionID), nullStr(log.ProviderCallID), log.Direction,
		log.ToNumber, log.FromNumber, log.ContactID, log.CompanyID, log.UserID,
		log.Status, nullStr(log.Outcome), log.StartedAt, log.AnsweredAt,
		log.EndedAt, log.DurationSecs, nullStr(log.RecordingURL),
	)
	if err != nil {
		return fmt.Errorf("inserting call log: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting last insert id: %w", err)
	}
	log.ID = id
	return nil
}

// GetByID returns a call log by ID, or nil if not found.
func (r *callLogRepo) GetByID(ctx context.Context, id int64) (*models.CallLog, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT `+callLogColumns+` FROM call_logs WHERE id = ?`, id))
}

// GetByProviderCallID returns a call log by the provider's call identifier,
// or nil if not found. Used for the uncorrelated webhook path.
func (r *callLogRepo) GetByProviderCallID(ctx context.Context, providerCallID string) (*models.CallLog, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT `+callLogColumns+` FROM call_logs WHERE provider_call_id = ?`, providerCallID))
}

// SetProviderCallID records the provider's call identifier on a log.
func (r *callLogRepo) SetProviderCallID(ctx context.Context, id int64, providerCallID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE call_logs SET provider_call_id = ? WHERE id = ?`, providerCallID, id)
	if err != nil {
		return fmt.Errorf("setting provider call id: %w", err)
	}
	return nil
}

// SetRecordingURL attaches a recording reference to a call log.
func (r *callLogRepo) SetRecordingURL(ctx context.Context, id int64, url string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE call_logs SET recording_url = ? WHERE id = ?`, url, id)
	if err != nil {
		return fmt.Errorf("setting recording url: %w", err)
	}
	return nil
}

// Finalize stamps the terminal state on an in-progress call log. The
// status guard in the WHERE clause makes a second finalize a no-op.
func (r *callLogRepo) Finalize(ctx context.Context, id int64, outcome string, answeredAt *time.Time, endedAt time.Time, durationSecs int) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE call_logs
		 SET status = ?, outcome = ?, answered_at = ?, ended_at = ?, duration_secs = ?
		 WHERE id = ? AND status = ?`,
		models.CallStatusEnded, outcome, answeredAt, endedAt, durationSecs,
		id, models.CallStatusInProgress,
	)
	if err != nil {
		return false, fmt.Errorf("finalizing call log: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reading rows affected: %w", err)
	}
	return n > 0, nil
}

// List returns call logs matching the filter, newest first, along with the
// total count.
func (r *callLogRepo) List(ctx context.Context, filter CallLogListFilter) ([]models.CallLog, int, error) {
	where := "1=1"
	args := []any{}

	if filter.Outcome != "" {
		where += " AND outcome = ?"
		args = append(args, filter.Outcome)
	}
	if filter.Search != "" {
		where += " AND (to_number LIKE ? OR from_number LIKE ?)"
		s := "%" + filter.Search + "%"
		args = append(args, s, s)
	}
	if filter.StartDate != "" {
		where += " AND started_at >= ?"
		args = append(args, filter.StartDate)
	}
	if filter.EndDate != "" {
		where += " AND started_at <= ?"
		args = append(args, filter.EndDate)
	}

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM call_logs WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting call logs: %w", err)
	}

	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	query := `SELECT ` + callLogColumns + ` FROM call_logs WHERE ` + where +
		` ORDER BY started_at DESC LIMIT ? OFFSET ?`
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing call logs: %w", err)
	}
	defer rows.Close()

	var logs []models.CallLog
	for rows.Next() {
		log, err := scanCallLog(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scanning call log row: %w", err)
		}
		logs = append(logs, *log)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterating call log rows: %w", err)
	}

	return logs, total, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *callLogRepo) scanOne(row *sql.Row) (*models.CallLog, error) {
	log, err := scanCallLog(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning call log: %w", err)
	}
	return log, nil
}

func scanCallLog(row rowScanner) (*models.CallLog, error) {
	var log models.CallLog
	var sessionID, providerCallID, outcome, recordingURL sql.NullString
	err := row.Scan(
		&log.ID, &sessionID, &providerCallID, &log.Direction, &log.ToNumber,
		&log.FromNumber, &log.ContactID, &log.CompanyID, &log.UserID,
		&log.Status, &outcome, &log.StartedAt, &log.AnsweredAt, &log.EndedAt,
		&log.DurationSecs, &recordingURL,
	)
	if err != nil {
		return nil, err
	}
	log.SessionID = sessionID.String
	log.ProviderCallID = providerCallID.String
	log.Outcome = outcome.String
	log.RecordingURL = recordingURL.String
	return &log, nil
}

// nullStr maps "" to NULL so partial indexes and lookups stay clean.
func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}
