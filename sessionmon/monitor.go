package sessionmon

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/go-social-connect/accounts"
	"github.com/jrsteele09/go-social-connect/internal/clock"
	"github.com/jrsteele09/go-social-connect/internal/errors"
	"github.com/jrsteele09/go-social-connect/platforms"
)

// ProbeResult is the live session state of one account.
type ProbeResult struct {
	AccountID string                  `json:"accountId"`
	Platform  string                  `json:"platform"`
	Healthy   bool                    `json:"healthy"`
	Kind      accounts.Kind           `json:"kind,omitempty"`
	Action    accounts.RecoveryAction `json:"recoveryAction,omitempty"`
	Error     string                  `json:"error,omitempty"`
	CheckedAt time.Time               `json:"checkedAt"`
}

// Monitor checks sessions against the provider's identity endpoint.
type Monitor struct {
	adapters map[accounts.Platform]platforms.Adapter
	clock    clock.Clock
}

func NewMonitor(adapters map[accounts.Platform]platforms.Adapter, clk clock.Clock) (*Monitor, error) {
	if len(adapters) == 0 {
		return nil, errors.New("[NewMonitor] adapters are required")
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Monitor{adapters: adapters, clock: clk}, nil
}

// Probe makes one lightweight identity call with the account token. It never mutates the account.
func (m *Monitor) Probe(ctx context.Context, account *accounts.ConnectedAccount) ProbeResult {
	result := ProbeResult{AccountID: account.ID, Platform: string(account.Platform), CheckedAt: m.clock.Now()}

	adapter, ok := m.adapters[account.Platform]
	if !ok {
		err := errors.Wrapf(errors.ErrUnknownPlatform, "[Monitor Probe] %s", account.Platform)
		result.Kind, result.Error = accounts.KindUnknown, err.Error()
		return result
	}

	id, err := adapter.Identity(ctx, account.Token)
	if err == nil && id.ExternalID != account.ExternalAccountID {
		err = fmt.Errorf("token belongs to %s, not %s", id.ExternalID, account.ExternalAccountID)
		err = accounts.E(accounts.KindConsentRevoked, "Monitor.Probe", err)
	}
	if err != nil {
		classified := Classify("Monitor.Probe", err)
		result.Kind = classified.Kind
		result.Action = classified.RecoveryAction()
		result.Error = classified.Error()
		log.Debug().Str("account", account.ID).Str("kind", string(classified.Kind)).Err(err).Msg("session probe failed")
		return result
	}
	result.Healthy = true
	return result
}
