package lifecycle_test

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/go-social-connect/accounts"
	"github.com/jrsteele09/go-social-connect/accounts/repofake"
	"github.com/jrsteele09/go-social-connect/exchange"
	"github.com/jrsteele09/go-social-connect/internal/clock/fakeclock"
	"github.com/jrsteele09/go-social-connect/lifecycle"
	"github.com/jrsteele09/go-social-connect/localcache"
	"github.com/jrsteele09/go-social-connect/platforms"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type mockExchanger struct {
	mock.Mock
}

func (m *mockExchanger) ExchangeShortLived(ctx context.Context, platform accounts.Platform, grant exchange.Grant) (*exchange.Result, error) {
	args := m.Called(ctx, platform, grant)
	res, _ := args.Get(0).(*exchange.Result)
	return res, args.Error(1)
}

func (m *mockExchanger) Renew(ctx context.Context, platform accounts.Platform, token accounts.Token) (accounts.Token, error) {
	args := m.Called(ctx, platform, token)
	tok, _ := args.Get(0).(accounts.Token)
	return tok, args.Error(1)
}

type mockAdapter struct {
	mock.Mock
}

func (m *mockAdapter) Platform() accounts.Platform { return accounts.PlatformFacebook }

func (m *mockAdapter) Identity(ctx context.Context, token accounts.Token) (*platforms.Identity, error) {
	args := m.Called(ctx, token)
	id, _ := args.Get(0).(*platforms.Identity)
	return id, args.Error(1)
}

func (m *mockAdapter) SubResources(ctx context.Context, token accounts.Token) ([]accounts.SubResource, error) {
	args := m.Called(ctx, token)
	subs, _ := args.Get(0).([]accounts.SubResource)
	return subs, args.Error(1)
}

func (m *mockAdapter) Revoke(ctx context.Context, token accounts.Token) error {
	return m.Called(ctx, token).Error(0)
}

func (m *mockAdapter) Client(context.Context, accounts.Token) *http.Client { return http.DefaultClient }

func (m *mockAdapter) Timeout(bool) time.Duration { return time.Second }

type switchRecord struct {
	platform accounts.Platform
	from, to string
}

type fixture struct {
	m        *lifecycle.Manager
	clk      *fakeclock.Clock
	store    *repofake.FakeAccountStore
	cache    *localcache.InMemoryCache
	ex       *mockExchanger
	fb       *mockAdapter
	mu       sync.Mutex
	switches []switchRecord
}

func (f *fixture) switched() []switchRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]switchRecord(nil), f.switches...)
}

func testPolicy() lifecycle.Policy {
	p := lifecycle.DefaultPolicy()
	p.Lead.Ceiling = 300 * time.Second
	p.MaxRetries = 2
	p.RetryBackoff = time.Second
	p.RetryDelay = time.Minute
	return p
}

func setupTestFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		clk:   fakeclock.New(t0),
		store: repofake.NewFakeAccountStore(),
		cache: localcache.NewInMemoryCache(),
		ex:    &mockExchanger{},
		fb:    &mockAdapter{},
	}
	f.fb.On("SubResources", mock.Anything, mock.Anything).Return(nil, nil).Maybe()

	listener := lifecycle.SelectionListenerFunc(func(p accounts.Platform, from, to string) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.switches = append(f.switches, switchRecord{p, from, to})
	})
	f.m = f.newManager(t, "cust-1", lifecycle.WithSelectionListener(listener))
	return f
}

// newManager builds another manager for user-1 sharing the fixture's store, cache and clock.
func (f *fixture) newManager(t *testing.T, customerID string, opts ...lifecycle.Option) *lifecycle.Manager {
	t.Helper()
	opts = append([]lifecycle.Option{lifecycle.WithClock(f.clk), lifecycle.WithPolicy(testPolicy())}, opts...)
	m, err := lifecycle.NewManager("user-1", customerID, lifecycle.Deps{
		Store:     f.store,
		Cache:     f.cache,
		Exchanger: f.ex,
		Adapters:  map[accounts.Platform]platforms.Adapter{accounts.PlatformFacebook: f.fb},
	}, opts...)
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return m
}

func tokenValue(v string) interface{} {
	return mock.MatchedBy(func(t accounts.Token) bool { return t.Value == v })
}

// connect runs a successful Facebook connect for the external id.
func (f *fixture) connect(t *testing.T, external string, lifetime time.Duration) *accounts.ConnectedAccount {
	t.Helper()
	return f.connectWith(t, f.m, external, lifetime)
}

func (f *fixture) connectWith(t *testing.T, m *lifecycle.Manager, external string, lifetime time.Duration) *accounts.ConnectedAccount {
	t.Helper()
	long := accounts.NewToken("long-"+external, accounts.TokenLongLived, f.clk.Now(), lifetime, "")
	f.ex.On("ExchangeShortLived", mock.Anything, accounts.PlatformFacebook, exchange.Grant{ShortLivedToken: "short-" + external}).
		Return(&exchange.Result{Token: long}, nil).Once()
	f.fb.On("Identity", mock.Anything, tokenValue("long-"+external)).
		Return(&platforms.Identity{ExternalID: external, DisplayName: "User " + external}, nil).Once()

	a, err := m.Connect(context.Background(), accounts.PlatformFacebook, exchange.Grant{ShortLivedToken: "short-" + external})
	require.NoError(t, err)
	return a
}

func (f *fixture) nextRefresh(t *testing.T, accountID string) *time.Time {
	t.Helper()
	for _, v := range f.m.Snapshot().Platforms[accounts.PlatformFacebook].Accounts {
		if v.Account.ID == accountID {
			return v.NextRefreshAt
		}
	}
	t.Fatalf("account %s not in snapshot", accountID)
	return nil
}

func TestManager_Connect(t *testing.T) {
	t.Run("first account becomes active and is persisted before the cache", func(t *testing.T) {
		f := setupTestFixture(t)
		a := f.connect(t, "fb-1", time.Hour)

		require.Equal(t, accounts.StatusActive, a.Status)
		require.Equal(t, accounts.Key{CustomerID: "cust-1", Platform: accounts.PlatformFacebook, ExternalAccountID: "fb-1"}.ID(), a.ID)
		require.Equal(t, a.ID, f.m.Active(accounts.PlatformFacebook).ID)
		require.Equal(t, 1, f.store.Len())

		entry, err := f.cache.Get(context.Background(), "user-1", accounts.PlatformFacebook)
		require.NoError(t, err)
		require.Len(t, entry.Accounts, 1)
		require.Equal(t, a.ID, entry.Active("cust-1"))
		require.Equal(t, []switchRecord{{accounts.PlatformFacebook, "", a.ID}}, f.switched())
	})

	t.Run("reconnecting the same external id upserts", func(t *testing.T) {
		f := setupTestFixture(t)
		first := f.connect(t, "fb-1", time.Hour)
		f.clk.Advance(10 * time.Minute)
		second := f.connect(t, "fb-1", time.Hour)

		require.Equal(t, first.ID, second.ID)
		require.Equal(t, 1, f.store.Len())
		require.Len(t, f.m.Accounts(accounts.PlatformFacebook), 1)
		require.Equal(t, t0, second.ConnectedAt)
	})

	t.Run("store failure leaves cache and memory untouched", func(t *testing.T) {
		f := setupTestFixture(t)
		f.store.FailUpsert = errors.New("database is down")
		f.ex.On("ExchangeShortLived", mock.Anything, accounts.PlatformFacebook, mock.Anything).
			Return(&exchange.Result{Token: accounts.NewToken("long", accounts.TokenLongLived, t0, time.Hour, "")}, nil).Once()
		f.fb.On("Identity", mock.Anything, mock.Anything).Return(&platforms.Identity{ExternalID: "fb-1"}, nil).Once()

		_, err := f.m.Connect(context.Background(), accounts.PlatformFacebook, exchange.Grant{ShortLivedToken: "short"})
		require.ErrorIs(t, err, accounts.ErrPersistence)
		require.Equal(t, accounts.RecoveryRetry, accounts.KindOf(err).RecoveryAction())
		require.Equal(t, 0, f.cache.SetCalls)
		require.Empty(t, f.m.Accounts(accounts.PlatformFacebook))
		require.Nil(t, f.m.Active(accounts.PlatformFacebook))
	})

	t.Run("denied grant is an exchange error", func(t *testing.T) {
		f := setupTestFixture(t)
		f.ex.On("ExchangeShortLived", mock.Anything, accounts.PlatformFacebook, mock.Anything).
			Return(nil, accounts.E(accounts.KindExchange, "test", errors.New("invalid_grant"))).Once()

		_, err := f.m.Connect(context.Background(), accounts.PlatformFacebook, exchange.Grant{ShortLivedToken: "short"})
		require.ErrorIs(t, err, accounts.ErrExchange)
		require.Equal(t, 0, f.store.UpsertCalls)
	})

	t.Run("transient exchange failure connects degraded", func(t *testing.T) {
		f := setupTestFixture(t)
		f.ex.On("ExchangeShortLived", mock.Anything, accounts.PlatformFacebook, mock.Anything).
			Return(nil, accounts.E(accounts.KindTransientNetwork, "test", context.DeadlineExceeded)).Times(3)
		f.fb.On("Identity", mock.Anything, tokenValue("short")).Return(&platforms.Identity{ExternalID: "fb-1"}, nil).Once()

		a, err := f.m.Connect(context.Background(), accounts.PlatformFacebook, exchange.Grant{ShortLivedToken: "short", ShortLivedExpiresIn: time.Hour})
		require.NoError(t, err)
		require.True(t, a.Degraded)
		require.Equal(t, accounts.TokenShortLived, a.Token.Kind)
		require.Equal(t, []time.Duration{time.Second, 2 * time.Second}, f.clk.Sleeps())
		require.Equal(t, t0.Add(2*time.Minute), *f.nextRefresh(t, a.ID))

		f.ex.On("ExchangeShortLived", mock.Anything, accounts.PlatformFacebook, exchange.Grant{ShortLivedToken: "short"}).
			Return(&exchange.Result{Token: accounts.NewToken("long", accounts.TokenLongLived, t0.Add(2*time.Minute), 60*24*time.Hour, "")}, nil).Once()
		f.clk.Advance(2 * time.Minute)

		stored, ok := f.store.Get(a.ID)
		require.True(t, ok)
		require.False(t, stored.Degraded)
		require.Equal(t, "long", stored.Token.Value)
		require.Equal(t, accounts.StatusActive, f.m.Status(a.ID))
		f.ex.AssertExpectations(t)
	})
}

// 3600s token with a 300s lead fires at T+3300 and renews to a fresh expiry.
func TestManager_ScheduledRenewal(t *testing.T) {
	f := setupTestFixture(t)
	a := f.connect(t, "fb-1", 3600*time.Second)
	require.Equal(t, t0.Add(3300*time.Second), *f.nextRefresh(t, a.ID))

	renewedAt := t0.Add(3300 * time.Second)
	f.ex.On("Renew", mock.Anything, accounts.PlatformFacebook, tokenValue("long-fb-1")).
		Return(accounts.NewToken("long-fb-1-b", accounts.TokenLongLived, renewedAt, 3600*time.Second, ""), nil).Once()

	f.clk.Advance(3299 * time.Second)
	f.ex.AssertNotCalled(t, "Renew", mock.Anything, mock.Anything, mock.Anything)

	f.clk.Advance(time.Second)
	require.Equal(t, accounts.StatusActive, f.m.Status(a.ID))
	stored, ok := f.store.Get(a.ID)
	require.True(t, ok)
	require.Equal(t, "long-fb-1-b", stored.Token.Value)
	require.Equal(t, renewedAt.Add(3600*time.Second), *stored.Token.ExpiresAt)
	require.Equal(t, renewedAt.Add(3300*time.Second), *f.nextRefresh(t, a.ID))
	f.ex.AssertExpectations(t)
}

// A revoked renewal leaves the account reconnect_required with no job, and manual refresh fails fast.
func TestManager_TerminalRenewal(t *testing.T) {
	f := setupTestFixture(t)
	a := f.connect(t, "fb-1", 3600*time.Second)
	f.ex.On("Renew", mock.Anything, accounts.PlatformFacebook, mock.Anything).
		Return(nil, accounts.E(accounts.KindConsentRevoked, "test", errors.New("user removed the app"))).Once()

	f.clk.Advance(3300 * time.Second)
	require.Equal(t, accounts.StatusReconnectRequired, f.m.Status(a.ID))
	require.Nil(t, f.nextRefresh(t, a.ID))
	require.Equal(t, 0, f.clk.Pending())

	stored, _ := f.store.Get(a.ID)
	require.Equal(t, accounts.StatusReconnectRequired, stored.Status)
	require.Equal(t, "long-fb-1", stored.Token.Value)

	err := f.m.Refresh(context.Background(), a.ID)
	require.ErrorIs(t, err, accounts.ErrConsentRevoked)
	require.Equal(t, accounts.RecoveryReconnect, accounts.KindOf(err).RecoveryAction())
	f.ex.AssertNumberOfCalls(t, "Renew", 1)

	capability, _, err := f.m.Capabilities(a.ID)
	require.NoError(t, err)
	require.Equal(t, accounts.CapabilityNone, capability)

	t.Run("reconnect restores the account", func(t *testing.T) {
		again := f.connect(t, "fb-1", 3600*time.Second)
		require.Equal(t, a.ID, again.ID)
		require.Equal(t, accounts.StatusActive, f.m.Status(a.ID))
		require.NotNil(t, f.nextRefresh(t, a.ID))
	})
}

func TestManager_TransientRenewalRetriesLater(t *testing.T) {
	f := setupTestFixture(t)
	a := f.connect(t, "fb-1", 3600*time.Second)
	f.ex.On("Renew", mock.Anything, accounts.PlatformFacebook, mock.Anything).
		Return(nil, accounts.E(accounts.KindTransientNetwork, "test", context.DeadlineExceeded)).Times(3)

	f.clk.Advance(3300 * time.Second)
	require.Equal(t, accounts.StatusExpiringSoon, f.m.Status(a.ID))
	require.Equal(t, t0.Add(3300*time.Second+time.Minute), *f.nextRefresh(t, a.ID))

	stored, _ := f.store.Get(a.ID)
	require.Equal(t, accounts.StatusActive, stored.Status)
	f.ex.AssertExpectations(t)
}

func TestManager_RefreshAdoptsTokenFromAnotherProcess(t *testing.T) {
	f := setupTestFixture(t)
	a := f.connect(t, "fb-1", 3600*time.Second)
	f.clk.Set(t0.Add(3200 * time.Second))

	other := a.Clone()
	other.Token = accounts.NewToken("renewed-elsewhere", accounts.TokenLongLived, t0.Add(3100*time.Second), 3600*time.Second, "")
	f.store.Put(other)

	f.clk.Advance(100 * time.Second)
	f.ex.AssertNotCalled(t, "Renew", mock.Anything, mock.Anything, mock.Anything)
	require.Equal(t, "renewed-elsewhere", f.m.Accounts(accounts.PlatformFacebook)[0].Token.Value)
	require.Equal(t, t0.Add(3100*time.Second+3300*time.Second), *f.nextRefresh(t, a.ID))
}

// The store answers a renewal that was rejected because another process already rotated the token.
func TestManager_TerminalRenewalAdoptsStoredToken(t *testing.T) {
	f := setupTestFixture(t)
	a := f.connect(t, "fb-1", 3600*time.Second)

	other := a.Clone()
	other.Token = accounts.NewToken("renewed-elsewhere", accounts.TokenLongLived, t0.Add(3250*time.Second), 3600*time.Second, "")
	f.ex.On("Renew", mock.Anything, accounts.PlatformFacebook, tokenValue("long-fb-1")).
		Run(func(mock.Arguments) { f.store.Put(other) }).
		Return(nil, accounts.E(accounts.KindConsentRevoked, "test", errors.New("token was rotated"))).Once()

	f.clk.Advance(3300 * time.Second)
	require.Equal(t, accounts.StatusActive, f.m.Status(a.ID))
	require.Equal(t, "renewed-elsewhere", f.m.Accounts(accounts.PlatformFacebook)[0].Token.Value)
	require.Empty(t, f.m.Accounts(accounts.PlatformFacebook)[0].LastError)
	require.Equal(t, t0.Add(3250*time.Second+3300*time.Second), *f.nextRefresh(t, a.ID))

	stored, _ := f.store.Get(a.ID)
	require.Equal(t, accounts.StatusActive, stored.Status)
	require.Equal(t, "renewed-elsewhere", stored.Token.Value)
	f.ex.AssertExpectations(t)
}

// A scheduled refresh that reaches the store again ends the cache fallback.
func TestManager_RefreshClearsStaleAfterStoreRecovers(t *testing.T) {
	f := setupTestFixture(t)
	cached := &accounts.ConnectedAccount{
		CustomerID:        "cust-1",
		Platform:          accounts.PlatformFacebook,
		ExternalAccountID: "fb-1",
		Token:             accounts.NewToken("cached", accounts.TokenLongLived, t0, 3600*time.Second, ""),
		ConnectedAt:       t0,
		Status:            accounts.StatusActive,
	}
	cached.EnsureID()
	f.store.Put(cached)
	require.NoError(t, f.cache.Set(context.Background(), "user-1", accounts.PlatformFacebook, &localcache.Entry{
		Accounts:  []*accounts.ConnectedAccount{cached},
		ActiveIDs: map[string]string{"cust-1": cached.ID},
	}))

	f.store.FailList = errors.New("database is down")
	require.NoError(t, f.m.Start(context.Background()))
	require.True(t, f.m.Stale(accounts.PlatformFacebook))
	require.True(t, f.m.Accounts(accounts.PlatformFacebook)[0].Stale)

	f.store.FailList = nil
	f.ex.On("Renew", mock.Anything, accounts.PlatformFacebook, tokenValue("cached")).
		Return(accounts.NewToken("renewed", accounts.TokenLongLived, t0.Add(3300*time.Second), 3600*time.Second, ""), nil).Once()
	f.clk.Advance(3300 * time.Second)

	require.False(t, f.m.Stale(accounts.PlatformFacebook))
	list := f.m.Accounts(accounts.PlatformFacebook)
	require.Len(t, list, 1)
	require.False(t, list[0].Stale)
	require.Equal(t, "renewed", list[0].Token.Value)
	require.Equal(t, cached.ID, f.m.Active(accounts.PlatformFacebook).ID)

	entry, err := f.cache.Get(context.Background(), "user-1", accounts.PlatformFacebook)
	require.NoError(t, err)
	require.Equal(t, "renewed", entry.Accounts[0].Token.Value)
	f.ex.AssertExpectations(t)
}

func TestManager_RefreshNoopWhenActive(t *testing.T) {
	f := setupTestFixture(t)
	a := f.connect(t, "fb-1", 3600*time.Second)
	require.NoError(t, f.m.Refresh(context.Background(), a.ID))
	f.ex.AssertNotCalled(t, "Renew", mock.Anything, mock.Anything, mock.Anything)

	err := f.m.Refresh(context.Background(), "missing")
	require.ErrorIs(t, err, accounts.ErrNotFound)
}

func TestManager_SwitchActive(t *testing.T) {
	f := setupTestFixture(t)
	a := f.connect(t, "fb-1", time.Hour)
	f.clk.Advance(time.Minute)
	b := f.connect(t, "fb-2", time.Hour)

	upserts, exCalls, fbCalls := f.store.UpsertCalls, len(f.ex.Calls), len(f.fb.Calls)
	require.NoError(t, f.m.SwitchActive(context.Background(), b.ID))

	require.Equal(t, b.ID, f.m.Active(accounts.PlatformFacebook).ID)
	require.Equal(t, upserts, f.store.UpsertCalls)
	require.Len(t, f.ex.Calls, exCalls)
	require.Len(t, f.fb.Calls, fbCalls)
	require.Equal(t, switchRecord{accounts.PlatformFacebook, a.ID, b.ID}, f.switched()[1])

	entry, err := f.cache.Get(context.Background(), "user-1", accounts.PlatformFacebook)
	require.NoError(t, err)
	require.Equal(t, b.ID, entry.Active("cust-1"))

	err = f.m.SwitchActive(context.Background(), "missing")
	require.ErrorIs(t, err, accounts.ErrNotFound)
}

// Customers of one user share a cache entry per platform but keep their own selection.
func TestManager_SelectionSurvivesRestartPerCustomer(t *testing.T) {
	f := setupTestFixture(t)
	f.connect(t, "fb-1", 24*time.Hour)
	f.clk.Advance(time.Minute)
	b := f.connect(t, "fb-2", 24*time.Hour)
	require.NoError(t, f.m.SwitchActive(context.Background(), b.ID))

	other := f.newManager(t, "cust-2")
	c := f.connectWith(t, other, "fb-9", 24*time.Hour)
	require.Equal(t, c.ID, other.Active(accounts.PlatformFacebook).ID)

	entry, err := f.cache.Get(context.Background(), "user-1", accounts.PlatformFacebook)
	require.NoError(t, err)
	require.Len(t, entry.Accounts, 3)
	require.Equal(t, b.ID, entry.Active("cust-1"))
	require.Equal(t, c.ID, entry.Active("cust-2"))

	t.Run("restart from cache keeps the explicit switch", func(t *testing.T) {
		f.store.FailList = errors.New("database is down")
		restarted := f.newManager(t, "cust-1")
		require.NoError(t, restarted.Start(context.Background()))

		require.True(t, restarted.Stale(accounts.PlatformFacebook))
		require.Len(t, restarted.Accounts(accounts.PlatformFacebook), 2)
		require.Equal(t, b.ID, restarted.Active(accounts.PlatformFacebook).ID)
	})

	t.Run("restart from the store keeps the explicit switch", func(t *testing.T) {
		f.store.FailList = nil
		restarted := f.newManager(t, "cust-1")
		require.NoError(t, restarted.Start(context.Background()))

		require.False(t, restarted.Stale(accounts.PlatformFacebook))
		require.Equal(t, b.ID, restarted.Active(accounts.PlatformFacebook).ID)

		entry, err := f.cache.Get(context.Background(), "user-1", accounts.PlatformFacebook)
		require.NoError(t, err)
		require.Equal(t, c.ID, entry.Active("cust-2"))
	})
}

func TestManager_Disconnect(t *testing.T) {
	t.Run("re-elects the earliest remaining account", func(t *testing.T) {
		f := setupTestFixture(t)
		a := f.connect(t, "fb-1", time.Hour)
		f.clk.Advance(time.Minute)
		b := f.connect(t, "fb-2", time.Hour)
		f.fb.On("Revoke", mock.Anything, tokenValue("long-fb-1")).Return(nil).Once()

		confirmation, err := f.m.RequestDisconnect(a.ID)
		require.NoError(t, err)
		require.NoError(t, f.m.Disconnect(context.Background(), a.ID, confirmation))

		require.Equal(t, b.ID, f.m.Active(accounts.PlatformFacebook).ID)
		require.Equal(t, accounts.StatusDisconnected, f.m.Status(a.ID))
		require.Equal(t, 1, f.store.Len())
		require.NotNil(t, f.nextRefresh(t, b.ID))
		f.fb.AssertExpectations(t)

		entry, err := f.cache.Get(context.Background(), "user-1", accounts.PlatformFacebook)
		require.NoError(t, err)
		require.Len(t, entry.Accounts, 1)
		require.Equal(t, b.ID, entry.Active("cust-1"))
	})

	t.Run("no refresh after disconnect even when due", func(t *testing.T) {
		f := setupTestFixture(t)
		a := f.connect(t, "fb-1", 3600*time.Second)
		f.fb.On("Revoke", mock.Anything, mock.Anything).Return(nil).Once()

		confirmation, err := f.m.RequestDisconnect(a.ID)
		require.NoError(t, err)
		require.NoError(t, f.m.Disconnect(context.Background(), a.ID, confirmation))

		f.clk.Advance(2 * time.Hour)
		f.ex.AssertNotCalled(t, "Renew", mock.Anything, mock.Anything, mock.Anything)
		require.Nil(t, f.m.Active(accounts.PlatformFacebook))
		require.Equal(t, 0, f.clk.Pending())
	})

	t.Run("revoke failure does not fail the disconnect", func(t *testing.T) {
		f := setupTestFixture(t)
		a := f.connect(t, "fb-1", time.Hour)
		f.fb.On("Revoke", mock.Anything, mock.Anything).Return(errors.New("provider down")).Once()

		confirmation, err := f.m.RequestDisconnect(a.ID)
		require.NoError(t, err)
		require.NoError(t, f.m.Disconnect(context.Background(), a.ID, confirmation))
		require.Equal(t, 0, f.store.Len())
	})

	t.Run("store failure keeps the account and its job", func(t *testing.T) {
		f := setupTestFixture(t)
		a := f.connect(t, "fb-1", time.Hour)
		f.store.FailDelete = errors.New("database is down")

		confirmation, err := f.m.RequestDisconnect(a.ID)
		require.NoError(t, err)
		err = f.m.Disconnect(context.Background(), a.ID, confirmation)
		require.ErrorIs(t, err, accounts.ErrPersistence)
		require.Equal(t, accounts.StatusActive, f.m.Status(a.ID))
		require.NotNil(t, f.nextRefresh(t, a.ID))
		f.fb.AssertNotCalled(t, "Revoke", mock.Anything, mock.Anything)
	})
}

func TestManager_DisconnectConfirmation(t *testing.T) {
	f := setupTestFixture(t)
	a := f.connect(t, "fb-1", 24*time.Hour)
	b := f.connect(t, "fb-2", 24*time.Hour)

	t.Run("unknown token", func(t *testing.T) {
		err := f.m.Disconnect(context.Background(), a.ID, "made-up")
		require.ErrorIs(t, err, accounts.ErrInvalidConfirmation)
	})

	t.Run("token for another account is burned", func(t *testing.T) {
		confirmation, err := f.m.RequestDisconnect(b.ID)
		require.NoError(t, err)
		require.ErrorIs(t, f.m.Disconnect(context.Background(), a.ID, confirmation), accounts.ErrInvalidConfirmation)
		require.ErrorIs(t, f.m.Disconnect(context.Background(), b.ID, confirmation), accounts.ErrInvalidConfirmation)
	})

	t.Run("expired token", func(t *testing.T) {
		confirmation, err := f.m.RequestDisconnect(a.ID)
		require.NoError(t, err)
		f.clk.Advance(lifecycle.DefaultConfirmationTTL)
		require.ErrorIs(t, f.m.Disconnect(context.Background(), a.ID, confirmation), accounts.ErrInvalidConfirmation)
	})

	t.Run("single use", func(t *testing.T) {
		f.fb.On("Revoke", mock.Anything, mock.Anything).Return(nil).Once()
		confirmation, err := f.m.RequestDisconnect(a.ID)
		require.NoError(t, err)
		require.NoError(t, f.m.Disconnect(context.Background(), a.ID, confirmation))
		require.ErrorIs(t, f.m.Disconnect(context.Background(), a.ID, confirmation), accounts.ErrInvalidConfirmation)
	})

	require.Equal(t, 1, f.store.Len())
}

func TestManager_DisconnectAll(t *testing.T) {
	f := setupTestFixture(t)
	a := f.connect(t, "fb-1", time.Hour)
	f.clk.Advance(time.Minute)
	b := f.connect(t, "fb-2", time.Hour)
	f.fb.On("Revoke", mock.Anything, tokenValue("long-fb-1")).Return(errors.New("provider down")).Once()
	f.fb.On("Revoke", mock.Anything, tokenValue("long-fb-2")).Return(nil).Once()

	_, err := f.m.DisconnectAll(context.Background(), accounts.PlatformFacebook, "made-up")
	require.ErrorIs(t, err, accounts.ErrInvalidConfirmation)

	confirmation, err := f.m.RequestDisconnectAll(accounts.PlatformFacebook)
	require.NoError(t, err)
	result, err := f.m.DisconnectAll(context.Background(), accounts.PlatformFacebook, confirmation)
	require.NoError(t, err)

	require.Equal(t, []string{a.ID, b.ID}, result.Disconnected)
	require.Equal(t, []string{a.ID}, result.RevokeFailed)
	require.Empty(t, result.Failed)
	require.True(t, result.OK())
	require.Equal(t, 0, f.store.Len())
	require.Nil(t, f.m.Active(accounts.PlatformFacebook))
	require.Equal(t, 0, f.clk.Pending())
}

// A refresh in flight and a disconnect of the same account serialize; the account never
// ends up deleted with a live job or a token written after deletion.
func TestManager_ConcurrentRefreshAndDisconnect(t *testing.T) {
	f := setupTestFixture(t)
	a := f.connect(t, "fb-1", 3600*time.Second)
	f.fb.On("Revoke", mock.Anything, mock.Anything).Return(nil).Maybe()

	started := make(chan struct{})
	release := make(chan struct{})
	f.ex.On("Renew", mock.Anything, accounts.PlatformFacebook, mock.Anything).
		Run(func(mock.Arguments) {
			close(started)
			<-release
		}).
		Return(accounts.NewToken("renewed", accounts.TokenLongLived, t0.Add(3300*time.Second), 3600*time.Second, ""), nil).Once()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		f.clk.Advance(3300 * time.Second)
	}()
	<-started

	// Issued once the clock is at the refresh time so the confirmation is still fresh.
	confirmation, err := f.m.RequestDisconnect(a.ID)
	require.NoError(t, err)

	var disconnectErr error
	go func() {
		defer wg.Done()
		disconnectErr = f.m.Disconnect(context.Background(), a.ID, confirmation)
	}()
	close(release)
	wg.Wait()

	require.NoError(t, disconnectErr)
	require.Equal(t, 0, f.store.Len())
	require.Equal(t, accounts.StatusDisconnected, f.m.Status(a.ID))
	require.Equal(t, 0, f.clk.Pending())

	f.clk.Advance(24 * time.Hour)
	f.ex.AssertNumberOfCalls(t, "Renew", 1)
	require.Equal(t, 0, f.store.Len())
}

func TestManager_StartFromCache(t *testing.T) {
	f := setupTestFixture(t)
	cached := &accounts.ConnectedAccount{
		CustomerID:        "cust-1",
		Platform:          accounts.PlatformFacebook,
		ExternalAccountID: "fb-1",
		Token:             accounts.NewToken("cached", accounts.TokenLongLived, t0, time.Hour, ""),
		ConnectedAt:       t0,
		Status:            accounts.StatusActive,
	}
	cached.EnsureID()
	foreign := cached.Clone()
	foreign.CustomerID = "cust-2"
	foreign.ID = ""
	foreign.EnsureID()
	require.NoError(t, f.cache.Set(context.Background(), "user-1", accounts.PlatformFacebook, &localcache.Entry{
		Accounts:  []*accounts.ConnectedAccount{cached, foreign},
		ActiveIDs: map[string]string{"cust-1": cached.ID, "cust-2": foreign.ID},
	}))

	f.store.FailList = errors.New("database is down")
	require.NoError(t, f.m.Start(context.Background()))

	list := f.m.Accounts(accounts.PlatformFacebook)
	require.Len(t, list, 1)
	require.True(t, list[0].Stale)
	require.True(t, f.m.Stale(accounts.PlatformFacebook))
	require.Equal(t, cached.ID, f.m.Active(accounts.PlatformFacebook).ID)
	require.NotNil(t, f.nextRefresh(t, cached.ID))

	t.Run("reload fails while the store is down", func(t *testing.T) {
		err := f.m.Reload(context.Background(), accounts.PlatformFacebook)
		require.ErrorIs(t, err, accounts.ErrPersistence)
		require.True(t, f.m.Stale(accounts.PlatformFacebook))
	})

	t.Run("reload clears stale", func(t *testing.T) {
		f.store.FailList = nil
		f.store.Put(cached)
		require.NoError(t, f.m.Reload(context.Background(), accounts.PlatformFacebook))
		require.False(t, f.m.Stale(accounts.PlatformFacebook))
		require.False(t, f.m.Accounts(accounts.PlatformFacebook)[0].Stale)

		entry, err := f.cache.Get(context.Background(), "user-1", accounts.PlatformFacebook)
		require.NoError(t, err)
		require.Len(t, entry.Accounts, 2)
	})

	t.Run("start fails when store and cache are both down", func(t *testing.T) {
		g := setupTestFixture(t)
		g.store.FailList = errors.New("database is down")
		g.cache.FailGet = errors.New("disk is gone")
		require.ErrorIs(t, g.m.Start(context.Background()), accounts.ErrPersistence)
	})
}

func TestManager_Call(t *testing.T) {
	graphExpired := &platforms.ProviderError{Platform: accounts.PlatformFacebook, StatusCode: 400, Code: 190, Subcode: 463}

	t.Run("expired session gets one refresh", func(t *testing.T) {
		f := setupTestFixture(t)
		a := f.connect(t, "fb-1", time.Hour)
		f.ex.On("Renew", mock.Anything, accounts.PlatformFacebook, tokenValue("long-fb-1")).
			Return(accounts.NewToken("renewed", accounts.TokenLongLived, t0, time.Hour, ""), nil).Once()

		var seen []string
		err := f.m.Call(context.Background(), a.ID, lifecycle.CallOptions{}, func(_ context.Context, _ *http.Client, acct *accounts.ConnectedAccount) error {
			seen = append(seen, acct.Token.Value)
			if len(seen) == 1 {
				return graphExpired
			}
			return nil
		})
		require.NoError(t, err)
		require.Equal(t, []string{"long-fb-1", "renewed"}, seen)
		f.ex.AssertExpectations(t)
	})

	t.Run("failed refresh escalates to reconnect", func(t *testing.T) {
		f := setupTestFixture(t)
		a := f.connect(t, "fb-1", time.Hour)
		f.ex.On("Renew", mock.Anything, accounts.PlatformFacebook, mock.Anything).
			Return(nil, accounts.E(accounts.KindConsentRevoked, "test", errors.New("revoked"))).Once()

		err := f.m.Call(context.Background(), a.ID, lifecycle.CallOptions{}, func(context.Context, *http.Client, *accounts.ConnectedAccount) error {
			return graphExpired
		})
		require.ErrorIs(t, err, accounts.ErrConsentRevoked)
		require.Equal(t, accounts.StatusReconnectRequired, f.m.Status(a.ID))

		err = f.m.Call(context.Background(), a.ID, lifecycle.CallOptions{}, func(context.Context, *http.Client, *accounts.ConnectedAccount) error {
			t.Fatal("call made with a revoked account")
			return nil
		})
		require.ErrorIs(t, err, accounts.ErrConsentRevoked)
	})

	t.Run("transient failures retry with backoff", func(t *testing.T) {
		f := setupTestFixture(t)
		a := f.connect(t, "fb-1", time.Hour)

		calls := 0
		err := f.m.Call(context.Background(), a.ID, lifecycle.CallOptions{Media: true}, func(context.Context, *http.Client, *accounts.ConnectedAccount) error {
			calls++
			return context.DeadlineExceeded
		})
		require.ErrorIs(t, err, accounts.ErrTransientNetwork)
		require.Equal(t, 3, calls)
		require.Equal(t, []time.Duration{time.Second, 2 * time.Second}, f.clk.Sleeps())
	})

	t.Run("rate limit honours the provider delay", func(t *testing.T) {
		f := setupTestFixture(t)
		a := f.connect(t, "fb-1", time.Hour)

		calls := 0
		err := f.m.Call(context.Background(), a.ID, lifecycle.CallOptions{}, func(context.Context, *http.Client, *accounts.ConnectedAccount) error {
			calls++
			if calls == 1 {
				return &platforms.ProviderError{Platform: accounts.PlatformFacebook, StatusCode: 400, Code: 4, RetryAfter: 30 * time.Second}
			}
			return nil
		})
		require.NoError(t, err)
		require.Equal(t, []time.Duration{30 * time.Second}, f.clk.Sleeps())
	})

	t.Run("revoked consent marks the account", func(t *testing.T) {
		f := setupTestFixture(t)
		a := f.connect(t, "fb-1", time.Hour)

		err := f.m.Call(context.Background(), a.ID, lifecycle.CallOptions{}, func(context.Context, *http.Client, *accounts.ConnectedAccount) error {
			return &platforms.ProviderError{Platform: accounts.PlatformFacebook, StatusCode: 400, Code: 190, Subcode: 458}
		})
		require.ErrorIs(t, err, accounts.ErrConsentRevoked)
		require.Equal(t, accounts.StatusReconnectRequired, f.m.Status(a.ID))
		f.ex.AssertNotCalled(t, "Renew", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestManager_CapabilitiesAndSnapshot(t *testing.T) {
	f := setupTestFixture(t)
	pageExpiry := t0.Add(time.Hour)
	f.ex.On("ExchangeShortLived", mock.Anything, accounts.PlatformFacebook, mock.Anything).
		Return(&exchange.Result{Token: accounts.NewToken("long", accounts.TokenLongLived, t0, 2*time.Hour, "")}, nil).Once()
	// Replace the fixture's empty sub-resource default.
	f.fb.ExpectedCalls = nil
	f.fb.On("Identity", mock.Anything, mock.Anything).Return(&platforms.Identity{ExternalID: "fb-1"}, nil).Once()
	f.fb.On("SubResources", mock.Anything, mock.Anything).Return([]accounts.SubResource{
		{ID: "page-1", Kind: accounts.SubResourcePage, Token: &accounts.Token{Value: "page", IssuedAt: t0, ExpiresAt: &pageExpiry}},
		{ID: "page-2", Kind: accounts.SubResourcePage},
	}, nil).Once()

	a, err := f.m.Connect(context.Background(), accounts.PlatformFacebook, exchange.Grant{ShortLivedToken: "short"})
	require.NoError(t, err)

	capability, subs, err := f.m.Capabilities(a.ID)
	require.NoError(t, err)
	require.Equal(t, accounts.CapabilityFull, capability)
	require.Equal(t, accounts.CapabilityFull, subs["page-1"])
	require.Equal(t, accounts.CapabilityReadOnly, subs["page-2"])

	f.clk.Set(t0.Add(90 * time.Minute))
	snap := f.m.Snapshot()
	require.Equal(t, "cust-1", snap.CustomerID)
	state := snap.Platforms[accounts.PlatformFacebook]
	require.Equal(t, a.ID, state.ActiveID)
	require.Len(t, state.Accounts, 1)
	require.Equal(t, accounts.CapabilityReadOnly, state.Accounts[0].SubResourceCapabilities["page-1"])

	_, _, err = f.m.Capabilities("missing")
	require.ErrorIs(t, err, accounts.ErrNotFound)
}
