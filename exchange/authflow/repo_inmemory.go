package authflow

import (
	"sync"
	"time"

	"github.com/jrsteele09/go-social-connect/internal/errors"
)

var _ Repo = (*InMemoryRepo)(nil)

// InMemoryRepo is a thread-safe Repo whose states expire after ttl.
type InMemoryRepo struct {
	mu     sync.Mutex
	states map[string]*State
	ttl    time.Duration
	now    func() time.Time
}

func NewInMemoryRepo(ttl time.Duration, now func() time.Time) *InMemoryRepo {
	if now == nil {
		now = time.Now
	}
	return &InMemoryRepo{
		states: make(map[string]*State),
		ttl:    ttl,
		now:    now,
	}
}

// Upsert stores a copy of flow and drops expired states.
func (r *InMemoryRepo) Upsert(state string, flow *State) error {
	if state == "" {
		return errors.Wrapf(errors.ErrInvalidRequest, "[InMemoryRepo Upsert] state cannot be empty")
	}
	if flow == nil {
		return errors.Wrapf(errors.ErrInvalidRequest, "[InMemoryRepo Upsert] flow cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.cleanupLocked()

	c := *flow
	if c.CreatedAt.IsZero() {
		c.CreatedAt = r.now()
	}
	r.states[state] = &c
	return nil
}

func (r *InMemoryRepo) Take(state string) (*State, error) {
	if state == "" {
		return nil, errors.ErrInvalidState
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	flow, ok := r.states[state]
	if !ok {
		return nil, errors.ErrInvalidState
	}
	delete(r.states, state)
	if r.expired(flow) {
		return nil, errors.ErrInvalidState
	}
	c := *flow
	return &c, nil
}

func (r *InMemoryRepo) Delete(state string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.states, state)
	return nil
}

func (r *InMemoryRepo) expired(flow *State) bool {
	return r.ttl > 0 && r.now().Sub(flow.CreatedAt) > r.ttl
}

func (r *InMemoryRepo) cleanupLocked() {
	for k, v := range r.states {
		if r.expired(v) {
			delete(r.states, k)
		}
	}
}
