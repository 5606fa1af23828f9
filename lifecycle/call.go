package lifecycle

import (
	"context"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/go-social-connect/accounts"
	"github.com/jrsteele09/go-social-connect/internal/errors"
	"github.com/jrsteele09/go-social-connect/sessionmon"
)

type CallOptions struct {
	// Media selects the platform's longer timeout for uploads and other heavy calls.
	Media bool
}

// CallFunc performs one provider API call. The client injects the account token.
type CallFunc func(ctx context.Context, client *http.Client, account *accounts.ConnectedAccount) error

// Call runs fn with the account's token under the recovery policy: transient failures and
// rate limits are retried with backoff, an expired session gets one forced refresh, and
// revoked consent marks the account reconnect_required.
func (m *Manager) Call(ctx context.Context, accountID string, opts CallOptions, fn CallFunc) error {
	const op = "Manager.Call"
	refreshed := false
	for attempt := 0; ; attempt++ {
		account, err := m.usableAccount(ctx, op, accountID)
		if err != nil {
			return err
		}
		adapter, err := m.adapter(account.Platform)
		if err != nil {
			return accounts.E(accounts.KindUnknown, op, err).WithAccount(accountID)
		}

		callCtx, cancel := context.WithTimeout(ctx, adapter.Timeout(opts.Media))
		err = fn(callCtx, adapter.Client(callCtx, account.Token), account)
		cancel()
		if err == nil {
			return nil
		}

		classified := sessionmon.Classify(op, err).WithAccount(accountID)
		switch kind := classified.Kind; {
		case kind.Retryable():
			if attempt >= m.policy.MaxRetries {
				return classified
			}
			if err := m.clock.Sleep(ctx, m.backoff(attempt, classified)); err != nil {
				return classified
			}
		case kind == accounts.KindSessionExpired:
			if refreshed {
				m.escalate(ctx, accountID, classified)
				return accounts.E(accounts.KindConsentRevoked, op, classified).WithAccount(accountID)
			}
			refreshed = true
			if err := m.forceRefresh(ctx, accountID); err != nil {
				m.escalate(ctx, accountID, err)
				return accounts.E(accounts.KindConsentRevoked, op, err).WithAccount(accountID)
			}
		case kind.Terminal():
			m.escalate(ctx, accountID, classified)
			return classified
		default:
			return classified
		}
	}
}

// usableAccount returns the account, refreshing first when its token is no longer usable.
func (m *Manager) usableAccount(ctx context.Context, op, accountID string) (*accounts.ConnectedAccount, error) {
	account, ok := m.get(accountID)
	if !ok {
		return nil, m.notFound(op, accountID)
	}
	if account.Status == accounts.StatusReconnectRequired {
		return nil, accounts.E(accounts.KindConsentRevoked, op, errors.New("account needs reconnecting")).WithAccount(accountID)
	}
	if accounts.Usable(account, m.clock.Now(), m.policy.Lead) {
		return account, nil
	}
	if err := m.Refresh(ctx, accountID); err != nil {
		return nil, err
	}
	account, ok = m.get(accountID)
	if !ok {
		return nil, m.notFound(op, accountID)
	}
	if !accounts.Usable(account, m.clock.Now(), m.policy.Lead) {
		return nil, accounts.E(accounts.KindSessionExpired, op, errors.New("token expired and could not be renewed")).WithAccount(accountID)
	}
	return account, nil
}

// escalate moves the account to reconnect_required unless it already is.
func (m *Manager) escalate(ctx context.Context, accountID string, cause error) {
	unlock := m.locks.Lock(accountID)
	defer unlock()
	current, ok := m.get(accountID)
	if !ok || current.Status == accounts.StatusReconnectRequired {
		return
	}
	log.Warn().Err(cause).Str("account", accountID).Msg("provider rejected the session")
	m.markReconnectRequired(ctx, current, cause)
}
