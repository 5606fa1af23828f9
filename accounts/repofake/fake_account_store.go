package repofake

import (
	"context"
	"sync"

	"github.com/jrsteele09/go-social-connect/accounts"
	"github.com/jrsteele09/go-social-connect/internal/errors"
)

var _ accounts.Store = (*FakeAccountStore)(nil)

// FakeAccountStore is an in-memory accounts.Store. Fail* fields inject errors into the next calls.
type FakeAccountStore struct {
	accounts map[string]*accounts.ConnectedAccount
	lock     sync.RWMutex

	FailList   error
	FailUpsert error
	FailDelete error

	ListCalls   int
	UpsertCalls int
	DeleteCalls int
}

func NewFakeAccountStore() *FakeAccountStore {
	return &FakeAccountStore{
		accounts: make(map[string]*accounts.ConnectedAccount),
	}
}

func (s *FakeAccountStore) List(_ context.Context, customerID string, platform accounts.Platform) ([]*accounts.ConnectedAccount, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.ListCalls++
	if s.FailList != nil {
		return nil, s.FailList
	}

	list := make([]*accounts.ConnectedAccount, 0, len(s.accounts))
	for _, a := range s.accounts {
		list = append(list, a.Clone())
	}
	list = accounts.FilterScope(list, customerID, platform)
	accounts.SortByConnectedAt(list)
	return list, nil
}

func (s *FakeAccountStore) Upsert(_ context.Context, account *accounts.ConnectedAccount) (*accounts.ConnectedAccount, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.UpsertCalls++
	if s.FailUpsert != nil {
		return nil, s.FailUpsert
	}

	incoming := account.Clone()
	incoming.EnsureID()
	merged := accounts.MergeForUpsert(s.accounts[incoming.ID], incoming, accounts.DefaultTokenWindow)
	s.accounts[merged.ID] = merged
	return merged.Clone(), nil
}

func (s *FakeAccountStore) Delete(_ context.Context, customerID, accountID string) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.DeleteCalls++
	if s.FailDelete != nil {
		return s.FailDelete
	}

	a, ok := s.accounts[accountID]
	if !ok || a.CustomerID != customerID {
		return errors.Wrapf(errors.ErrNotFound, "[FakeAccountStore Delete] account %s", accountID)
	}
	delete(s.accounts, accountID)
	return nil
}

// Get returns a copy of the stored record, for assertions.
func (s *FakeAccountStore) Get(accountID string) (*accounts.ConnectedAccount, bool) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	a, ok := s.accounts[accountID]
	return a.Clone(), ok
}

// Put writes a record directly, bypassing the merge, to simulate another process.
func (s *FakeAccountStore) Put(account *accounts.ConnectedAccount) {
	s.lock.Lock()
	defer s.lock.Unlock()
	c := account.Clone()
	c.EnsureID()
	s.accounts[c.ID] = c
}

func (s *FakeAccountStore) Len() int {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return len(s.accounts)
}
