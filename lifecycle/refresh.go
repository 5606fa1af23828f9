package lifecycle

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/go-social-connect/accounts"
	"github.com/jrsteele09/go-social-connect/exchange"
	"github.com/jrsteele09/go-social-connect/internal/errors"
	"github.com/jrsteele09/go-social-connect/internal/metrics"
)

// Refresh renews the account token when it is within its lead time or degraded.
// An account that needs reconnecting fails fast without contacting the provider.
func (m *Manager) Refresh(ctx context.Context, accountID string) error {
	return m.refresh(ctx, accountID, false)
}

// scheduledRefresh is the scheduler's entry point.
func (m *Manager) scheduledRefresh(ctx context.Context, accountID string) error {
	return m.refresh(ctx, accountID, false)
}

// forceRefresh renews even when the token looks healthy, used after the provider rejected it.
func (m *Manager) forceRefresh(ctx context.Context, accountID string) error {
	return m.refresh(ctx, accountID, true)
}

func (m *Manager) refresh(ctx context.Context, accountID string, force bool) error {
	unlock := m.locks.Lock(accountID)
	platform, storeRead, err := m.refreshLocked(ctx, accountID, force)
	unlock()

	// A successful store read ends the cache fallback for the whole platform.
	if storeRead && m.Stale(platform) {
		if err := m.load(ctx, platform, false); err != nil {
			log.Warn().Err(err).Str("platform", string(platform)).Msg("reload after store recovery failed")
		}
	}
	return err
}

// refreshLocked reports the account's platform and whether the store answered.
func (m *Manager) refreshLocked(ctx context.Context, accountID string, force bool) (accounts.Platform, bool, error) {
	current, ok := m.get(accountID)
	if !ok {
		return "", false, m.notFound("Manager.Refresh", accountID)
	}
	storeRead, err := m.renewAccount(ctx, current, force)
	return current.Platform, storeRead, err
}

func (m *Manager) renewAccount(ctx context.Context, current *accounts.ConnectedAccount, force bool) (bool, error) {
	const op = "Manager.Refresh"
	accountID := current.ID
	platform := string(current.Platform)
	if current.Status == accounts.StatusReconnectRequired {
		return false, accounts.E(accounts.KindConsentRevoked, op, fmt.Errorf("account needs reconnecting: %s", current.LastError)).WithAccount(accountID)
	}
	if !force && !accounts.NeedsRefresh(current, m.clock.Now(), m.policy.Lead) {
		metrics.TokenRefreshTotal.WithLabelValues(platform, "noop").Inc()
		m.arm(current)
		return false, nil
	}

	// Another process may have renewed already; the store is authoritative.
	stored, found, err := m.readStored(ctx, current)
	switch {
	case err != nil:
		log.Warn().Err(err).Str("account", accountID).Msg("store re-read failed, renewing from memory")
	case !found:
		m.forget(ctx, current)
		metrics.TokenRefreshTotal.WithLabelValues(platform, "noop").Inc()
		return true, m.notFound(op, accountID)
	case m.adoptable(current, stored, force):
		stored.Stale = false
		m.remember(stored)
		m.syncCache(ctx, current.Platform)
		m.arm(stored)
		metrics.TokenRefreshTotal.WithLabelValues(platform, "adopted").Inc()
		log.Info().Str("account", accountID).Msg("adopted token renewed elsewhere")
		return true, nil
	}

	storeRead := err == nil

	token, err := m.renewToken(ctx, current)
	if err != nil {
		kind := accounts.KindOf(err)
		if kind.Terminal() {
			metrics.TokenRefreshTotal.WithLabelValues(platform, "terminal").Inc()
			if !m.markReconnectRequired(ctx, current, err) {
				return storeRead, nil
			}
			return storeRead, accounts.E(accounts.KindConsentRevoked, op, err).WithAccount(accountID)
		}
		metrics.TokenRefreshTotal.WithLabelValues(platform, "transient").Inc()
		m.setLastError(accountID, err)
		var e *accounts.Error
		if errors.As(err, &e) && e.AccountID == "" {
			return storeRead, e.WithAccount(accountID)
		}
		return storeRead, err
	}

	next := current.Clone()
	next.Token = token
	next.Degraded = false
	next.Status = accounts.StatusActive
	next.LastError = ""
	next.Stale = false
	next.UpdatedAt = m.clock.Now()
	if adapter, err := m.adapter(current.Platform); err == nil {
		if subs, err := adapter.SubResources(ctx, token); err != nil {
			log.Warn().Err(err).Str("account", accountID).Msg("sub-resource refresh failed, keeping previous")
		} else if subs != nil {
			next.SubResources = subs
		}
	}

	saved, err := m.store.Upsert(ctx, next)
	if err != nil {
		metrics.TokenRefreshTotal.WithLabelValues(platform, "persistence").Inc()
		return storeRead, accounts.E(accounts.KindPersistence, op, err).WithAccount(accountID)
	}
	saved.Stale = false
	m.remember(saved)
	m.syncCache(ctx, current.Platform)
	m.arm(saved)
	metrics.TokenRefreshTotal.WithLabelValues(platform, "renewed").Inc()
	log.Info().Str("account", accountID).Time("expires_at", m.policy.Lead.Expiry(saved)).Msg("token renewed")
	return storeRead, nil
}

// renewToken renews a long-lived token, or retries the long-lived exchange for a degraded account.
func (m *Manager) renewToken(ctx context.Context, a *accounts.ConnectedAccount) (accounts.Token, error) {
	const op = "Manager.Refresh"
	var token accounts.Token
	err := m.withRetry(ctx, op, func() error {
		if a.Degraded {
			res, err := m.exchanger.ExchangeShortLived(ctx, a.Platform, exchange.Grant{ShortLivedToken: a.Token.Value})
			if err != nil {
				return err
			}
			token = res.Token
			return nil
		}
		var err error
		token, err = m.exchanger.Renew(ctx, a.Platform, a.Token)
		return err
	})
	if err != nil && accounts.KindOf(err) == accounts.KindSessionExpired {
		err = accounts.E(accounts.KindConsentRevoked, op, err)
	}
	return token, err
}

func (m *Manager) readStored(ctx context.Context, a *accounts.ConnectedAccount) (*accounts.ConnectedAccount, bool, error) {
	list, err := m.store.List(ctx, a.CustomerID, a.Platform)
	if err != nil {
		return nil, false, err
	}
	for _, s := range list {
		if s.ID == a.ID {
			return s.Clone(), true, nil
		}
	}
	return nil, false, nil
}

// adoptable reports whether the stored record already carries a better token than memory.
func (m *Manager) adoptable(current, stored *accounts.ConnectedAccount, force bool) bool {
	if stored.Status == accounts.StatusReconnectRequired || stored.Token.IsZero() {
		return false
	}
	now := m.clock.Now()
	window := m.policy.Lead.DefaultWindow
	if force {
		return stored.Token.Value != current.Token.Value && accounts.Usable(stored, now, m.policy.Lead)
	}
	return stored.Token.Expiry(window).After(current.Token.Expiry(window)) && !accounts.NeedsRefresh(stored, now, m.policy.Lead)
}

// markReconnectRequired records a terminal failure. The store write is best effort.
// When the store already holds a usable token written by another process, that token is
// adopted instead and false is returned.
func (m *Manager) markReconnectRequired(ctx context.Context, a *accounts.ConnectedAccount, cause error) bool {
	m.scheduler.Cancel(a.ID)
	next := a.Clone()
	next.Status = accounts.StatusReconnectRequired
	next.LastError = cause.Error()
	next.UpdatedAt = m.clock.Now()

	saved, err := m.store.Upsert(ctx, next)
	switch {
	case err != nil:
		log.Error().Err(err).Str("account", a.ID).Msg("failed to persist reconnect_required")
	case saved.Status != accounts.StatusReconnectRequired && accounts.Usable(saved, m.clock.Now(), m.policy.Lead):
		saved.Stale = false
		saved.LastError = ""
		m.remember(saved)
		m.syncCache(ctx, a.Platform)
		m.arm(saved)
		log.Info().Err(cause).Str("account", a.ID).Msg("renewal rejected but the store holds a newer token, adopting it")
		return false
	default:
		next = saved
	}
	next.Stale = false
	m.remember(next)
	m.syncCache(ctx, a.Platform)
	log.Warn().Err(cause).Str("account", a.ID).Str("platform", string(a.Platform)).Msg("account needs reconnecting")
	return true
}

func (m *Manager) setLastError(accountID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.accounts[accountID]; ok {
		a.LastError = err.Error()
	}
}

func (m *Manager) remember(a *accounts.ConnectedAccount) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[a.ID] = a.Clone()
}

// forget drops an account another process deleted and re-elects the active one.
func (m *Manager) forget(ctx context.Context, a *accounts.ConnectedAccount) {
	m.scheduler.Cancel(a.ID)
	previous, next, changed := m.removeLocal(a)
	m.syncCache(ctx, a.Platform)
	if changed {
		m.notify(a.Platform, previous, next)
	}
}

// removeLocal deletes the account from memory and elects a successor when it was active.
func (m *Manager) removeLocal(a *accounts.ConnectedAccount) (previous, next string, changed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.accounts, a.ID)
	previous = m.active[a.Platform]
	if previous != a.ID {
		return previous, previous, false
	}
	remaining := make([]*accounts.ConnectedAccount, 0)
	for _, o := range m.accounts {
		if o.Platform == a.Platform {
			remaining = append(remaining, o)
		}
	}
	next = accounts.ElectSuccessor(remaining, a.ID)
	m.setActiveLocked(a.Platform, next)
	return previous, next, true
}
