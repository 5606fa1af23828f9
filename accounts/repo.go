package accounts

import "context"

// Store is the authoritative account record shared with backend jobs.
// Implementations return errors wrapping internal/errors.ErrNotFound for unknown ids.
type Store interface {
	List(ctx context.Context, customerID string, platform Platform) ([]*ConnectedAccount, error)
	// Upsert inserts or updates by identity key, keeping the token with the later expiry.
	// It returns the record as stored.
	Upsert(ctx context.Context, account *ConnectedAccount) (*ConnectedAccount, error)
	Delete(ctx context.Context, customerID, accountID string) error
}
