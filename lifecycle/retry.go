package lifecycle

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/go-social-connect/accounts"
	"github.com/jrsteele09/go-social-connect/sessionmon"
)

// backoff returns the delay before retry attempt n (0 based), honouring a provider delay.
func (m *Manager) backoff(attempt int, err error) time.Duration {
	d := m.policy.RetryBackoff << attempt
	if ra := accounts.RetryAfterOf(err); ra > d {
		d = ra
	}
	return d
}

// withRetry runs fn until it succeeds, fails with a non-retryable kind, or MaxRetries
// retries are spent. Errors come back classified.
func (m *Manager) withRetry(ctx context.Context, op string, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		classified := sessionmon.Classify(op, err)
		if !classified.Kind.Retryable() || attempt >= m.policy.MaxRetries {
			return classified
		}
		delay := m.backoff(attempt, classified)
		log.Debug().Err(err).Str("op", op).Int("attempt", attempt+1).Dur("delay", delay).Msg("retrying")
		if err := m.clock.Sleep(ctx, delay); err != nil {
			return classified
		}
	}
}
