package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/callbridge/callbridge/internal/database/models"
)

type agentUserRepo struct {
	db *DB
}

// NewAgentUserRepository creates a new AgentUserRepository.
func NewAgentUserRepository(db *DB) AgentUserRepository {
	return &agentUserRepo{db: db}
}

// Create inserts a new agent user and backfills the generated ID.
func (r *agentUserRepo) Create(ctx context.Context, user *models.AgentUser) error {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO agent_users (username, display_name, password_hash) VALUES (?, ?, ?)`,
		user.Username, user.DisplayName, user.PasswordHash,
	)
	if err != nil {
		return fmt.Errorf("inserting agent user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting last insert id: %w", err)
	}
	user.ID = id
	return nil
}

// GetByUsername returns an agent user by username, or nil if not found.
func (r *agentUserRepo) GetByUsername(ctx context.Context, username string) (*models.AgentUser, error) {
	var u models.AgentUser
	err := r.db.QueryRowContext(ctx,
		`SELECT id, username, display_name, password_hash, created_at
		 FROM agent_users WHERE username = ?`, username).
		Scan(&u.ID, &u.Username, &u.DisplayName, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning agent user: %w", err)
	}
	return &u, nil
}

// Count returns the number of agent user accounts.
func (r *agentUserRepo) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM agent_users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting agent users: %w", err)
	}
	return n, nil
}
