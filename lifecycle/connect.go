package lifecycle

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/go-social-connect/accounts"
	"github.com/jrsteele09/go-social-connect/exchange"
	"github.com/jrsteele09/go-social-connect/internal/metrics"
	"github.com/jrsteele09/go-social-connect/platforms"
	"github.com/jrsteele09/go-social-connect/sessionmon"
)

// Connect exchanges a fresh grant, resolves the provider identity and upserts the account.
// The store is written before the cache; a store failure leaves cache and memory untouched.
// The first account of a platform becomes active.
func (m *Manager) Connect(ctx context.Context, platform accounts.Platform, grant exchange.Grant) (*accounts.ConnectedAccount, error) {
	const op = "Manager.Connect"
	adapter, err := m.adapter(platform)
	if err != nil {
		return nil, accounts.E(accounts.KindUnknown, op, err)
	}

	now := m.clock.Now()
	token, subject, degraded, err := m.exchangeGrant(ctx, platform, grant)
	if err != nil {
		metrics.ConnectTotal.WithLabelValues(string(platform), "exchange_error").Inc()
		return nil, err
	}

	var identity *platforms.Identity
	err = m.withRetry(ctx, op, func() error {
		var err error
		identity, err = adapter.Identity(ctx, token)
		return err
	})
	if err != nil {
		kind := accounts.KindOf(err)
		if kind.Terminal() || kind == accounts.KindSessionExpired {
			err = accounts.E(accounts.KindExchange, op, fmt.Errorf("identity lookup rejected the new token: %w", err))
		}
		metrics.ConnectTotal.WithLabelValues(string(platform), "identity_error").Inc()
		return nil, err
	}
	if subject != "" && subject != identity.ExternalID {
		metrics.ConnectTotal.WithLabelValues(string(platform), "exchange_error").Inc()
		return nil, accounts.E(accounts.KindExchange, op, fmt.Errorf("token subject %s does not match identity %s", subject, identity.ExternalID))
	}

	subs, err := adapter.SubResources(ctx, token)
	if err != nil {
		log.Warn().Err(err).Str("platform", string(platform)).Msg("sub-resource lookup failed, connecting without them")
	}

	key := accounts.Key{CustomerID: m.customerID, Platform: platform, ExternalAccountID: identity.ExternalID}
	id := key.ID()

	unlock := m.locks.Lock(id)
	defer unlock()

	account := &accounts.ConnectedAccount{
		ID:                id,
		CustomerID:        m.customerID,
		Platform:          platform,
		ExternalAccountID: identity.ExternalID,
		DisplayName:       identity.DisplayName,
		ProfileImageURL:   identity.ProfileImageURL,
		Token:             token,
		SubResources:      subs,
		ConnectedAt:       now,
		UpdatedAt:         now,
		Status:            accounts.StatusActive,
		Degraded:          degraded,
	}
	if existing, ok := m.get(id); ok {
		account.ConnectedAt = existing.ConnectedAt
		if subs == nil {
			account.SubResources = existing.SubResources
		}
	}

	stored, err := m.store.Upsert(ctx, account)
	if err != nil {
		metrics.ConnectTotal.WithLabelValues(string(platform), "persistence_error").Inc()
		return nil, accounts.E(accounts.KindPersistence, op, err).WithAccount(id)
	}
	stored.Stale = false

	m.mu.Lock()
	m.accounts[id] = stored.Clone()
	previous, hasActive := m.active.Get(platform)
	if !hasActive {
		m.setActiveLocked(platform, id)
	}
	m.mu.Unlock()

	m.syncCache(ctx, platform)
	m.arm(stored)
	if !hasActive {
		m.notify(platform, previous, id)
	}

	outcome := "connected"
	if degraded {
		outcome = "degraded"
	}
	metrics.ConnectTotal.WithLabelValues(string(platform), outcome).Inc()
	log.Info().Str("account", id).Str("platform", string(platform)).Bool("degraded", degraded).Msg("account connected")
	return m.view(stored), nil
}

// exchangeGrant returns the long-lived token, or the grant's short-lived token flagged as
// degraded when the exchange failed for a non-terminal reason.
func (m *Manager) exchangeGrant(ctx context.Context, platform accounts.Platform, grant exchange.Grant) (accounts.Token, string, bool, error) {
	const op = "Manager.Connect"
	var res *exchange.Result
	err := m.withRetry(ctx, op, func() error {
		var err error
		res, err = m.exchanger.ExchangeShortLived(ctx, platform, grant)
		return err
	})
	if err == nil {
		return res.Token, res.Subject, false, nil
	}

	kind := accounts.KindOf(err)
	if !kind.Terminal() && grant.HasShortLivedToken() {
		log.Warn().Err(err).Str("platform", string(platform)).Msg("long-lived exchange failed, connecting with the short-lived token")
		return grant.ShortLived(m.clock.Now()), "", true, nil
	}
	if kind.Terminal() || kind == accounts.KindSessionExpired {
		return accounts.Token{}, "", false, accounts.E(accounts.KindExchange, op, err)
	}
	return accounts.Token{}, "", false, sessionmon.Classify(op, err)
}

// view returns a copy with the status derived from the current time.
func (m *Manager) view(a *accounts.ConnectedAccount) *accounts.ConnectedAccount {
	c := a.Clone()
	c.Status = accounts.DeriveStatus(c, m.clock.Now(), m.policy.Lead)
	return c
}
