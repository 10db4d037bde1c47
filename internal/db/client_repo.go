package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"payretry/internal/types"
)

// ClientContactRepository implements types.ClientDirectory over the
// client_contacts table, a projection of the CRM's contact records kept in
// sync by the surrounding system.
type ClientContactRepository struct {
	db DBTX
}

// NewClientContactRepository creates a new ClientContactRepository.
func NewClientContactRepository(db DBTX) *ClientContactRepository {
	return &ClientContactRepository{db: db}
}

// GetContact returns the contact card of a client. An unknown client yields
// an empty, non-opted-out contact so reminders fail per channel with a
// missing-recipient error instead of aborting the trigger.
func (r *ClientContactRepository) GetContact(ctx context.Context, orgID, clientID string) (*types.ClientContact, error) {
	var (
		name, email, phone, push, address, locale *string
		optedOut                                  bool
	)
	err := r.db.QueryRow(ctx,
		`SELECT name, email, phone, push_token, postal_address, locale, opted_out
		 FROM client_contacts
		 WHERE organisation_id = $1 AND client_id = $2`,
		orgID, clientID,
	).Scan(&name, &email, &phone, &push, &address, &locale, &optedOut)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &types.ClientContact{ClientID: clientID}, nil
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve client contact", err)
	}
	return &types.ClientContact{
		ClientID:  clientID,
		Name:      deref(name),
		Email:     deref(email),
		Phone:     deref(phone),
		PushToken: deref(push),
		Address:   deref(address),
		Locale:    deref(locale),
		OptedOut:  optedOut,
	}, nil
}

// Upsert writes a contact card, used by seeding tools and tests against a
// real database.
func (r *ClientContactRepository) Upsert(ctx context.Context, orgID string, c *types.ClientContact) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO client_contacts (organisation_id, client_id, name, email, phone,
		   push_token, postal_address, locale, opted_out, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		 ON CONFLICT (organisation_id, client_id) DO UPDATE SET
		   name = EXCLUDED.name, email = EXCLUDED.email, phone = EXCLUDED.phone,
		   push_token = EXCLUDED.push_token, postal_address = EXCLUDED.postal_address,
		   locale = EXCLUDED.locale, opted_out = EXCLUDED.opted_out, updated_at = NOW()`,
		orgID,
		c.ClientID,
		nilIfEmpty(c.Name),
		nilIfEmpty(c.Email),
		nilIfEmpty(c.Phone),
		nilIfEmpty(c.PushToken),
		nilIfEmpty(c.Address),
		nilIfEmpty(c.Locale),
		c.OptedOut,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to upsert client contact", err)
	}
	return nil
}
