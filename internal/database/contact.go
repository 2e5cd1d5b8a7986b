package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/callbridge/callbridge/internal/database/models"
)

type contactRepo struct {
	db *DB
}

// NewContactRepository creates a new ContactRepository.
func NewContactRepository(db *DB) ContactRepository {
	return &contactRepo{db: db}
}

// Create inserts a new contact row and backfills the generated ID.
func (r *contactRepo) Create(ctx context.Context, contact *models.Contact) error {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO contacts (name, phone_number, company_id) VALUES (?, ?, ?)`,
		contact.Name, contact.PhoneNumber, contact.CompanyID,
	)
	if err != nil {
		return fmt.Errorf("inserting contact: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting last insert id: %w", err)
	}
	contact.ID = id
	return nil
}

// GetByID returns a contact by ID, or nil if not found.
func (r *contactRepo) GetByID(ctx context.Context, id int64) (*models.Contact, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT id, name, phone_number, company_id, created_at
		 FROM contacts WHERE id = ?`, id))
}

// GetByPhoneNumber returns the contact reachable at the given number, or
// nil if none is known. The most recently created contact wins when the
// number is shared.
func (r *contactRepo) GetByPhoneNumber(ctx context.Context, number string) (*models.Contact, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT id, name, phone_number, company_id, created_at
		 FROM contacts WHERE phone_number = ? ORDER BY id DESC LIMIT 1`, number))
}

func (r *contactRepo) scanOne(row *sql.Row) (*models.Contact, error) {
	var c models.Contact
	err := row.Scan(&c.ID, &c.Name, &c.PhoneNumber, &c.CompanyID, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning contact: %w", err)
	}
	return &c, nil
}
