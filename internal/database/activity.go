package database

import (
	"context"
	"fmt"

	"github.com/callbridge/callbridge/internal/database/models"
)

type activityRepo struct {
	db *DB
}

// NewActivityRepository creates a new ActivityRepository.
func NewActivityRepository(db *DB) ActivityRepository {
	return &activityRepo{db: db}
}

// Create inserts a new activity row and backfills the generated ID.
func (r *activityRepo) Create(ctx context.Context, act *models.Activity) error {
	if act.Kind == "" {
		act.Kind = "call"
	}
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO activities (call_log_id, user_id, contact_id, kind, summary, duration_secs)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		act.CallLogID, act.UserID, act.ContactID, act.Kind, act.Summary, act.DurationSecs,
	)
	if err != nil {
		return fmt.Errorf("inserting activity: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting last insert id: %w", err)
	}
	act.ID = id
	return nil
}

// ListByCallLog returns all activities linked to a call log, oldest first.
func (r *activityRepo) ListByCallLog(ctx context.Context, callLogID int64) ([]models.Activity, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, call_log_id, user_id, contact_id, kind, summary, duration_secs, created_at
		 FROM activities WHERE call_log_id = ? ORDER BY created_at`, callLogID)
	if err != nil {
		return nil, fmt.Errorf("listing activities: %w", err)
	}
	defer rows.Close()

	var acts []models.Activity
	for rows.Next() {
		var act models.Activity
		if err := rows.Scan(&act.ID, &act.CallLogID, &act.UserID, &act.ContactID,
			&act.Kind, &act.Summary, &act.DurationSecs, &act.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning activity row: %w", err)
		}
		acts = append(acts, act)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating activity rows: %w", err)
	}

	return acts, nil
}
