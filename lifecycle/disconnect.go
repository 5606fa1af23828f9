package lifecycle

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/go-social-connect/accounts"
	"github.com/jrsteele09/go-social-connect/internal/errors"
	"github.com/jrsteele09/go-social-connect/internal/metrics"
)

// RequestDisconnect issues a single-use confirmation for Disconnect of the account.
func (m *Manager) RequestDisconnect(accountID string) (string, error) {
	if _, ok := m.get(accountID); !ok {
		return "", m.notFound("Manager.RequestDisconnect", accountID)
	}
	return m.confirmations.Issue(accountTarget(accountID)), nil
}

// RequestDisconnectAll issues a single-use confirmation for DisconnectAll of the platform.
func (m *Manager) RequestDisconnectAll(platform accounts.Platform) (string, error) {
	if _, err := m.adapter(platform); err != nil {
		return "", accounts.E(accounts.KindUnknown, "Manager.RequestDisconnectAll", err)
	}
	return m.confirmations.Issue(platformTarget(string(platform))), nil
}

// Disconnect removes the account from store, cache and memory and cancels its refresh job.
// The provider revoke runs afterwards and never fails the disconnect.
func (m *Manager) Disconnect(ctx context.Context, accountID, confirmation string) error {
	const op = "Manager.Disconnect"
	if !m.confirmations.Consume(confirmation, accountTarget(accountID)) {
		return accounts.E(accounts.KindInvalidConfirmation, op, errors.New("confirmation is missing, expired or for another target")).WithAccount(accountID)
	}
	removed, err := m.disconnect(ctx, accountID)
	if err != nil {
		return err
	}
	if err := m.revoke(ctx, removed); err != nil {
		log.Warn().Err(err).Str("account", accountID).Msg("provider revoke failed")
	}
	return nil
}

// DisconnectAll disconnects every account of the platform, oldest first. A failure on one
// account never stops the rest.
func (m *Manager) DisconnectAll(ctx context.Context, platform accounts.Platform, confirmation string) (*accounts.BulkResult, error) {
	const op = "Manager.DisconnectAll"
	if !m.confirmations.Consume(confirmation, platformTarget(string(platform))) {
		return nil, accounts.E(accounts.KindInvalidConfirmation, op, errors.New("confirmation is missing, expired or for another target"))
	}

	m.mu.RLock()
	targets := make([]*accounts.ConnectedAccount, 0)
	for _, a := range m.accounts {
		if a.Platform == platform {
			targets = append(targets, a.Clone())
		}
	}
	m.mu.RUnlock()
	accounts.SortByConnectedAt(targets)

	result := &accounts.BulkResult{Failed: make(map[string]error)}
	for _, a := range targets {
		removed, err := m.disconnect(ctx, a.ID)
		if err != nil {
			if accounts.KindOf(err) == accounts.KindNotFound {
				continue
			}
			result.Failed[a.ID] = err
			continue
		}
		result.Disconnected = append(result.Disconnected, a.ID)
		if err := m.revoke(ctx, removed); err != nil {
			log.Warn().Err(err).Str("account", a.ID).Msg("provider revoke failed")
			result.RevokeFailed = append(result.RevokeFailed, a.ID)
		}
	}
	log.Info().Str("platform", string(platform)).Int("disconnected", len(result.Disconnected)).Int("failed", len(result.Failed)).Msg("bulk disconnect finished")
	return result, nil
}

// disconnect runs the locked part: cancel, delete from the store, then memory and cache.
// A store failure re-arms the job and leaves everything else untouched.
func (m *Manager) disconnect(ctx context.Context, accountID string) (*accounts.ConnectedAccount, error) {
	const op = "Manager.Disconnect"
	unlock := m.locks.Lock(accountID)
	defer unlock()

	current, ok := m.get(accountID)
	if !ok {
		return nil, m.notFound(op, accountID)
	}
	platform := string(current.Platform)
	m.scheduler.Cancel(accountID)

	if err := m.store.Delete(ctx, current.CustomerID, accountID); err != nil && !errors.Is(err, errors.ErrNotFound) {
		m.arm(current)
		metrics.DisconnectTotal.WithLabelValues(platform, "persistence_error").Inc()
		return nil, accounts.E(accounts.KindPersistence, op, fmt.Errorf("delete: %w", err)).WithAccount(accountID)
	}

	previous, next, changed := m.removeLocal(current)
	m.syncCache(ctx, current.Platform)
	if changed {
		m.notify(current.Platform, previous, next)
	}
	metrics.DisconnectTotal.WithLabelValues(platform, "disconnected").Inc()
	log.Info().Str("account", accountID).Str("platform", platform).Str("active", next).Msg("account disconnected")
	current.Status = accounts.StatusDisconnected
	return current, nil
}

func (m *Manager) revoke(ctx context.Context, a *accounts.ConnectedAccount) error {
	adapter, err := m.adapter(a.Platform)
	if err != nil {
		return err
	}
	if a.Token.IsZero() {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, adapter.Timeout(false))
	defer cancel()
	return adapter.Revoke(ctx, a.Token)
}
