// Package localcache is the per-device replica of connected accounts, namespaced by
// signed-in user and platform.
package localcache

import (
	"context"

	"github.com/jrsteele09/go-social-connect/accounts"
)

// Entry is everything cached for one (user, platform): the account collection of every
// customer the user acts for, and each customer's active selection.
type Entry struct {
	Accounts  []*accounts.ConnectedAccount `json:"accounts"`
	ActiveIDs map[string]string            `json:"activeIds,omitempty"`
}

// Active returns the customer's selected account id, or "".
func (e *Entry) Active(customerID string) string {
	if e == nil {
		return ""
	}
	return e.ActiveIDs[customerID]
}

// SetActive records the customer's selection. An empty id clears it.
func (e *Entry) SetActive(customerID, accountID string) {
	if accountID == "" {
		delete(e.ActiveIDs, customerID)
		return
	}
	if e.ActiveIDs == nil {
		e.ActiveIDs = make(map[string]string)
	}
	e.ActiveIDs[customerID] = accountID
}

// Clone deep copies the entry.
func (e *Entry) Clone() *Entry {
	if e == nil {
		return &Entry{}
	}
	c := &Entry{Accounts: make([]*accounts.ConnectedAccount, 0, len(e.Accounts))}
	for customerID, id := range e.ActiveIDs {
		c.SetActive(customerID, id)
	}
	for _, a := range e.Accounts {
		c.Accounts = append(c.Accounts, a.Clone())
	}
	return c
}

// Cache is a namespaced repository. Get returns an empty entry when nothing is cached.
type Cache interface {
	Get(ctx context.Context, userID string, platform accounts.Platform) (*Entry, error)
	Set(ctx context.Context, userID string, platform accounts.Platform, entry *Entry) error
	Clear(ctx context.Context, userID string, platform accounts.Platform) error
}
