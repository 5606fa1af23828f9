package lifecycle

import "github.com/jrsteele09/go-social-connect/accounts"

// SelectionListener is told when the active account of a platform changes, so per-account
// caches (analytics, previews) can be dropped. newID is empty when no account remains.
type SelectionListener interface {
	ActiveChanged(platform accounts.Platform, previousID, newID string)
}

type SelectionListenerFunc func(platform accounts.Platform, previousID, newID string)

func (f SelectionListenerFunc) ActiveChanged(platform accounts.Platform, previousID, newID string) {
	f(platform, previousID, newID)
}
