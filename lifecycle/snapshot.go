package lifecycle

import (
	"time"

	"github.com/jrsteele09/go-social-connect/accounts"
)

// AccountView is an account with everything a UI needs to render it.
type AccountView struct {
	Account                 *accounts.ConnectedAccount     `json:"account"`
	Capability              accounts.Capability            `json:"capability"`
	SubResourceCapabilities map[string]accounts.Capability `json:"subResourceCapabilities,omitempty"`
	NextRefreshAt           *time.Time                     `json:"nextRefreshAt,omitempty"`
}

type PlatformState struct {
	Accounts []AccountView `json:"accounts"`
	ActiveID string        `json:"activeId,omitempty"`
	Stale    bool          `json:"stale,omitempty"`
}

// Snapshot is a consistent read of every platform for the current customer.
type Snapshot struct {
	UserID     string                              `json:"userId"`
	CustomerID string                              `json:"customerId"`
	TakenAt    time.Time                           `json:"takenAt"`
	Platforms  map[accounts.Platform]PlatformState `json:"platforms"`
}

// Accounts returns the platform's accounts oldest first, with derived status.
func (m *Manager) Accounts(platform accounts.Platform) []*accounts.ConnectedAccount {
	m.mu.RLock()
	list := make([]*accounts.ConnectedAccount, 0)
	for _, a := range m.accounts {
		if a.Platform == platform && a.CustomerID == m.customerID {
			list = append(list, a.Clone())
		}
	}
	m.mu.RUnlock()

	now := m.clock.Now()
	for _, a := range list {
		a.Status = accounts.DeriveStatus(a, now, m.policy.Lead)
	}
	accounts.SortByConnectedAt(list)
	return list
}

// Status is the account's current derived status. Unknown accounts report disconnected.
func (m *Manager) Status(accountID string) accounts.Status {
	a, ok := m.get(accountID)
	if !ok {
		return accounts.StatusDisconnected
	}
	return accounts.DeriveStatus(a, m.clock.Now(), m.policy.Lead)
}

// Capabilities reports what the account token and each sub-resource token allow right now.
func (m *Manager) Capabilities(accountID string) (accounts.Capability, map[string]accounts.Capability, error) {
	a, ok := m.get(accountID)
	if !ok {
		return accounts.CapabilityNone, nil, m.notFound("Manager.Capabilities", accountID)
	}
	v := m.accountView(a, m.clock.Now())
	return v.Capability, v.SubResourceCapabilities, nil
}

// Stale reports whether the platform is being served from the cache.
func (m *Manager) Stale(platform accounts.Platform) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stale[platform]
}

func (m *Manager) Snapshot() Snapshot {
	now := m.clock.Now()
	snap := Snapshot{
		UserID:     m.userID,
		CustomerID: m.customerID,
		TakenAt:    now,
		Platforms:  make(map[accounts.Platform]PlatformState),
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.platforms() {
		state := PlatformState{ActiveID: m.active[p], Stale: m.stale[p]}
		list := make([]*accounts.ConnectedAccount, 0)
		for _, a := range m.accounts {
			if a.Platform == p {
				list = append(list, a.Clone())
			}
		}
		accounts.SortByConnectedAt(list)
		for _, a := range list {
			state.Accounts = append(state.Accounts, m.accountView(a, now))
		}
		snap.Platforms[p] = state
	}
	return snap
}

func (m *Manager) accountView(a *accounts.ConnectedAccount, now time.Time) AccountView {
	a.Status = accounts.DeriveStatus(a, now, m.policy.Lead)
	v := AccountView{
		Account:    a,
		Capability: accounts.AccountCapability(a, now, m.policy.Lead),
	}
	if len(a.SubResources) > 0 {
		v.SubResourceCapabilities = make(map[string]accounts.Capability, len(a.SubResources))
		for _, s := range a.SubResources {
			v.SubResourceCapabilities[s.ID] = accounts.SubResourceCapability(a, s, now, m.policy.Lead)
		}
	}
	if at, ok := m.scheduler.Scheduled(a.ID); ok {
		v.NextRefreshAt = &at
	}
	return v
}
