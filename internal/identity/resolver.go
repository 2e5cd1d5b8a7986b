// Package identity resolves phone numbers to known CRM records and
// handles operator credential hashing.
package identity

import (
	"context"
	"fmt"

	"github.com/callbridge/callbridge/internal/database"
)

// Resolver maps a dialed number to the contact and company it belongs to.
type Resolver interface {
	// ResolveCallerIdentity returns the contact and company IDs for a
	// phone number. Both are nil when the number is unknown; an unknown
	// number is not an error.
	ResolveCallerIdentity(ctx context.Context, number string) (contactID, companyID *int64, err error)
}

type contactResolver struct {
	contacts database.ContactRepository
}

// NewResolver creates a Resolver backed by the contact repository.
func NewResolver(contacts database.ContactRepository) Resolver {
	return &contactResolver{contacts: contacts}
}

func (r *contactResolver) ResolveCallerIdentity(ctx context.Context, number string) (*int64, *int64, error) {
	contact, err := r.contacts.GetByPhoneNumber(ctx, number)
	if err != nil {
		return nil, nil, fmt.Errorf("looking up contact by number: %w", err)
	}
	if contact == nil {
		return nil, nil, nil
	}
	id := contact.ID
	return &id, contact.CompanyID, nil
}
