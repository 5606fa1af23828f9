package lifecycle

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultConfirmationTTL bounds how long a disconnect confirmation stays valid.
const DefaultConfirmationTTL = 5 * time.Minute

type confirmation struct {
	target  string
	expires time.Time
}

// confirmations issues single-use tokens bound to one disconnect target.
type confirmations struct {
	mu     sync.Mutex
	issued map[string]confirmation
	ttl    time.Duration
	now    func() time.Time
}

func newConfirmations(ttl time.Duration, now func() time.Time) *confirmations {
	if ttl <= 0 {
		ttl = DefaultConfirmationTTL
	}
	return &confirmations{issued: make(map[string]confirmation), ttl: ttl, now: now}
}

func (c *confirmations) Issue(target string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleanupLocked()
	token := uuid.NewString()
	c.issued[token] = confirmation{target: target, expires: c.now().Add(c.ttl)}
	return token
}

// Consume reports whether token was issued for target and is unexpired. A token is
// removed on first use even when it names another target.
func (c *confirmations) Consume(token, target string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	conf, ok := c.issued[token]
	if !ok {
		return false
	}
	delete(c.issued, token)
	return conf.target == target && c.now().Before(conf.expires)
}

func (c *confirmations) cleanupLocked() {
	now := c.now()
	for token, conf := range c.issued {
		if !now.Before(conf.expires) {
			delete(c.issued, token)
		}
	}
}

func accountTarget(accountID string) string {
	return "account:" + accountID
}

func platformTarget(platform string) string {
	return "platform:" + platform
}
