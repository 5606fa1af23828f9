package localcache

import (
	"context"
	"sync"

	"github.com/jrsteele09/go-social-connect/accounts"
)

var _ Cache = (*InMemoryCache)(nil)

type namespace struct {
	userID   string
	platform accounts.Platform
}

// InMemoryCache is a process-local Cache. Fail* fields inject errors for tests.
type InMemoryCache struct {
	entries map[namespace]*Entry
	lock    sync.RWMutex

	FailGet error
	FailSet error

	SetCalls int
}

func NewInMemoryCache() *InMemoryCache {
	return &InMemoryCache{entries: make(map[namespace]*Entry)}
}

func (c *InMemoryCache) Get(_ context.Context, userID string, platform accounts.Platform) (*Entry, error) {
	c.lock.RLock()
	defer c.lock.RUnlock()
	if c.FailGet != nil {
		return nil, c.FailGet
	}
	return c.entries[namespace{userID, platform}].Clone(), nil
}

func (c *InMemoryCache) Set(_ context.Context, userID string, platform accounts.Platform, entry *Entry) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.SetCalls++
	if c.FailSet != nil {
		return c.FailSet
	}
	c.entries[namespace{userID, platform}] = entry.Clone()
	return nil
}

func (c *InMemoryCache) Clear(_ context.Context, userID string, platform accounts.Platform) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	delete(c.entries, namespace{userID, platform})
	return nil
}
