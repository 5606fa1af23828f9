// Package lifecycle owns connected accounts for one signed-in user acting for one customer:
// connecting, switching, refreshing and disconnecting, while keeping the store, the local
// cache and the refresh scheduler consistent.
package lifecycle

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/go-social-connect/accounts"
	"github.com/jrsteele09/go-social-connect/exchange"
	"github.com/jrsteele09/go-social-connect/internal/clock"
	"github.com/jrsteele09/go-social-connect/internal/errors"
	"github.com/jrsteele09/go-social-connect/localcache"
	"github.com/jrsteele09/go-social-connect/platforms"
	"github.com/jrsteele09/go-social-connect/scheduler"
)

// Policy holds the timing knobs of the lifecycle.
type Policy struct {
	Lead            accounts.LeadPolicy
	MaxRetries      int
	RetryBackoff    time.Duration
	RetryDelay      time.Duration
	ConfirmationTTL time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		Lead: accounts.LeadPolicy{
			Ceiling:       24 * time.Hour,
			Fraction:      0.1,
			DegradedAfter: 2 * time.Minute,
			DefaultWindow: accounts.DefaultTokenWindow,
		},
		MaxRetries:      3,
		RetryBackoff:    500 * time.Millisecond,
		RetryDelay:      scheduler.DefaultRetryDelay,
		ConfirmationTTL: DefaultConfirmationTTL,
	}
}

// Deps are the collaborators a Manager drives.
type Deps struct {
	Store     accounts.Store
	Cache     localcache.Cache
	Exchanger exchange.Exchanger
	Adapters  map[accounts.Platform]platforms.Adapter
}

type Manager struct {
	userID     string
	customerID string

	store     accounts.Store
	cache     localcache.Cache
	exchanger exchange.Exchanger
	adapters  map[accounts.Platform]platforms.Adapter
	clock     clock.Clock
	policy    Policy
	scheduler *scheduler.Scheduler

	locks         *keyedMutex
	confirmations *confirmations
	cacheLocks    map[accounts.Platform]*sync.Mutex
	listeners     []SelectionListener

	mu       sync.RWMutex
	accounts map[string]*accounts.ConnectedAccount
	active   accounts.ActiveSelection
	stale    map[accounts.Platform]bool
}

type Option func(*Manager)

func WithClock(c clock.Clock) Option {
	return func(m *Manager) {
		m.clock = c
	}
}

func WithPolicy(p Policy) Option {
	return func(m *Manager) {
		m.policy = p
	}
}

func WithSelectionListener(l SelectionListener) Option {
	return func(m *Manager) {
		m.listeners = append(m.listeners, l)
	}
}

func NewManager(userID, customerID string, deps Deps, opts ...Option) (*Manager, error) {
	if userID == "" {
		return nil, errors.New("[NewManager] userID is required")
	}
	if customerID == "" {
		return nil, errors.New("[NewManager] customerID is required")
	}
	if deps.Store == nil {
		return nil, errors.New("[NewManager] Store is required")
	}
	if deps.Cache == nil {
		return nil, errors.New("[NewManager] Cache is required")
	}
	if deps.Exchanger == nil {
		return nil, errors.New("[NewManager] Exchanger is required")
	}
	if len(deps.Adapters) == 0 {
		return nil, errors.New("[NewManager] Adapters are required")
	}

	m := &Manager{
		userID:     userID,
		customerID: customerID,
		store:      deps.Store,
		cache:      deps.Cache,
		exchanger:  deps.Exchanger,
		adapters:   deps.Adapters,
		clock:      clock.Real{},
		policy:     DefaultPolicy(),
		locks:      newKeyedMutex(),
		cacheLocks: make(map[accounts.Platform]*sync.Mutex),
		accounts:   make(map[string]*accounts.ConnectedAccount),
		active:     make(accounts.ActiveSelection),
		stale:      make(map[accounts.Platform]bool),
	}
	for _, opt := range opts {
		opt(m)
	}
	for _, p := range accounts.Platforms {
		m.cacheLocks[p] = &sync.Mutex{}
	}
	m.confirmations = newConfirmations(m.policy.ConfirmationTTL, m.clock.Now)

	s, err := scheduler.New(m.clock, m.scheduledRefresh, scheduler.WithRetryDelay(m.policy.RetryDelay))
	if err != nil {
		return nil, fmt.Errorf("[NewManager] %w", err)
	}
	m.scheduler = s
	return m, nil
}

// Start loads every platform from the store, falling back to the cache, and arms refresh jobs.
// It fails only when a platform can be read from neither.
func (m *Manager) Start(ctx context.Context) error {
	var errs []error
	for _, p := range m.platforms() {
		if err := m.load(ctx, p, true); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Reload re-reads the store for one platform and clears the stale flag.
// A store failure leaves the current state untouched.
func (m *Manager) Reload(ctx context.Context, platform accounts.Platform) error {
	return m.load(ctx, platform, false)
}

// Close cancels every refresh job.
func (m *Manager) Close() {
	m.scheduler.CancelAll()
}

func (m *Manager) platforms() []accounts.Platform {
	list := make([]accounts.Platform, 0, len(m.adapters))
	for _, p := range accounts.Platforms {
		if _, ok := m.adapters[p]; ok {
			list = append(list, p)
		}
	}
	return list
}

func (m *Manager) adapter(platform accounts.Platform) (platforms.Adapter, error) {
	a, ok := m.adapters[platform]
	if !ok {
		return nil, errors.Wrapf(errors.ErrUnknownPlatform, "[Manager] %q", platform)
	}
	return a, nil
}

func (m *Manager) load(ctx context.Context, platform accounts.Platform, allowCache bool) error {
	list, storeErr := m.store.List(ctx, m.customerID, platform)
	stale := false
	if storeErr != nil {
		if !allowCache {
			return accounts.E(accounts.KindPersistence, "Manager.Reload", storeErr)
		}
		log.Warn().Err(storeErr).Str("platform", string(platform)).Msg("account store unavailable, serving cached accounts")
		entry, cacheErr := m.cache.Get(ctx, m.userID, platform)
		if cacheErr != nil {
			return accounts.E(accounts.KindPersistence, "Manager.Start", errors.Join(storeErr, cacheErr))
		}
		list = entry.Accounts
		stale = true
	}
	list = accounts.FilterScope(list, m.customerID, platform)

	cachedActive := ""
	if entry, err := m.cache.Get(ctx, m.userID, platform); err == nil {
		cachedActive = entry.Active(m.customerID)
	}

	loaded := make(map[string]*accounts.ConnectedAccount, len(list))
	for _, a := range list {
		c := a.Clone()
		c.Stale = stale
		loaded[c.ID] = c
	}

	m.mu.Lock()
	for id, a := range m.accounts {
		if a.Platform == platform {
			if _, keep := loaded[id]; !keep {
				delete(m.accounts, id)
				m.scheduler.Cancel(id)
			}
		}
	}
	for id, a := range loaded {
		m.accounts[id] = a
	}
	previous := m.active[platform]
	next := previous
	if _, ok := loaded[next]; !ok {
		next = cachedActive
	}
	if _, ok := loaded[next]; !ok {
		next = accounts.ElectSuccessor(list, "")
	}
	m.setActiveLocked(platform, next)
	m.stale[platform] = stale
	m.mu.Unlock()

	for _, a := range loaded {
		m.arm(a)
	}
	if previous != next {
		m.notify(platform, previous, next)
	}
	if !stale {
		m.syncCache(ctx, platform)
	}
	log.Info().Str("platform", string(platform)).Int("accounts", len(loaded)).Bool("stale", stale).Msg("accounts loaded")
	return nil
}

// arm schedules the next refresh unless the account needs re-authorization.
func (m *Manager) arm(a *accounts.ConnectedAccount) {
	if a.Status == accounts.StatusReconnectRequired {
		m.scheduler.Cancel(a.ID)
		return
	}
	m.scheduler.Arm(a.ID, m.policy.Lead.FireAt(a))
}

func (m *Manager) setActiveLocked(platform accounts.Platform, id string) {
	if id == "" {
		delete(m.active, platform)
		return
	}
	m.active[platform] = id
}

func (m *Manager) notify(platform accounts.Platform, previousID, newID string) {
	for _, l := range m.listeners {
		l.ActiveChanged(platform, previousID, newID)
	}
}

func (m *Manager) get(accountID string) (*accounts.ConnectedAccount, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.accounts[accountID]
	if !ok {
		return nil, false
	}
	return a.Clone(), true
}

func (m *Manager) notFound(op, accountID string) error {
	return accounts.E(accounts.KindNotFound, op, errors.ErrNotFound).WithAccount(accountID)
}

// syncCache writes the platform's in-memory state to the cache. Accounts of other customers
// sharing the user's namespace are preserved. Failures are logged; the store stays authoritative.
func (m *Manager) syncCache(ctx context.Context, platform accounts.Platform) {
	lock := m.cacheLocks[platform]
	lock.Lock()
	defer lock.Unlock()

	entry, err := m.cache.Get(ctx, m.userID, platform)
	if err != nil {
		log.Warn().Err(err).Str("platform", string(platform)).Msg("cache read failed, rewriting entry")
		entry = &localcache.Entry{}
	}

	next := &localcache.Entry{ActiveIDs: maps.Clone(entry.ActiveIDs)}
	for _, a := range entry.Accounts {
		if a != nil && a.CustomerID != m.customerID {
			next.Accounts = append(next.Accounts, a)
		}
	}

	m.mu.RLock()
	mine := make([]*accounts.ConnectedAccount, 0)
	for _, a := range m.accounts {
		if a.Platform == platform {
			c := a.Clone()
			c.Stale = false
			mine = append(mine, c)
		}
	}
	activeID := m.active[platform]
	m.mu.RUnlock()

	accounts.SortByConnectedAt(mine)
	next.Accounts = append(next.Accounts, mine...)
	next.SetActive(m.customerID, activeID)

	if err := m.cache.Set(ctx, m.userID, platform, next); err != nil {
		log.Warn().Err(err).Str("platform", string(platform)).Msg("cache write failed")
	}
}
