package lifecycle

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/go-social-connect/accounts"
)

// SwitchActive makes the account the active one for its platform. It touches only the
// selection and the cache; no provider call is made.
func (m *Manager) SwitchActive(ctx context.Context, accountID string) error {
	const op = "Manager.SwitchActive"
	unlock := m.locks.Lock(accountID)
	defer unlock()

	m.mu.Lock()
	a, ok := m.accounts[accountID]
	if !ok || a.CustomerID != m.customerID {
		m.mu.Unlock()
		return m.notFound(op, accountID)
	}
	platform := a.Platform
	previous := m.active[platform]
	m.setActiveLocked(platform, accountID)
	m.mu.Unlock()

	if previous == accountID {
		return nil
	}
	m.syncCache(ctx, platform)
	m.notify(platform, previous, accountID)
	log.Info().Str("account", accountID).Str("platform", string(platform)).Msg("active account switched")
	return nil
}

// Active returns the active account for the platform, or nil when none is connected.
func (m *Manager) Active(platform accounts.Platform) *accounts.ConnectedAccount {
	m.mu.RLock()
	id, ok := m.active.Get(platform)
	var a *accounts.ConnectedAccount
	if ok {
		a = m.accounts[id].Clone()
	}
	m.mu.RUnlock()
	if a == nil {
		return nil
	}
	a.Status = accounts.DeriveStatus(a, m.clock.Now(), m.policy.Lead)
	return a
}
