// Package scheduler runs at most one refresh timer per account.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/go-social-connect/accounts"
	"github.com/jrsteele09/go-social-connect/internal/clock"
	"github.com/jrsteele09/go-social-connect/internal/errors"
	"github.com/jrsteele09/go-social-connect/internal/metrics"
)

// DefaultRetryDelay is used after a transient refresh failure.
const DefaultRetryDelay = time.Minute

// RefreshFunc renews one account. Classified errors drive re-arming: terminal kinds and
// not found stop the job, everything else retries after the retry delay.
type RefreshFunc func(ctx context.Context, accountID string) error

type job struct {
	gen   uint64
	timer clock.Timer
	at    time.Time
}

type Scheduler struct {
	clock      clock.Clock
	refresh    RefreshFunc
	retryDelay time.Duration
	baseCtx    context.Context

	mu   sync.Mutex
	seq  uint64
	gens map[string]uint64 // latest generation per account; absent once cancelled
	jobs map[string]*job
}

type Option func(*Scheduler)

func WithRetryDelay(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.retryDelay = d
		}
	}
}

// WithBaseContext sets the context passed to refresh calls made by timers.
func WithBaseContext(ctx context.Context) Option {
	return func(s *Scheduler) {
		s.baseCtx = ctx
	}
}

func New(clk clock.Clock, refresh RefreshFunc, opts ...Option) (*Scheduler, error) {
	if clk == nil {
		return nil, errors.New("[scheduler New] clock is required")
	}
	if refresh == nil {
		return nil, errors.New("[scheduler New] refresh func is required")
	}
	s := &Scheduler{
		clock:      clk,
		refresh:    refresh,
		retryDelay: DefaultRetryDelay,
		baseCtx:    context.Background(),
		gens:       make(map[string]uint64),
		jobs:       make(map[string]*job),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Arm schedules a refresh of accountID at the given time, replacing any existing job.
// A time in the past fires as soon as possible.
func (s *Scheduler) Arm(accountID string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.armLocked(accountID, at)
}

func (s *Scheduler) armLocked(accountID string, at time.Time) {
	s.stopLocked(accountID)
	s.seq++
	gen := s.seq
	s.gens[accountID] = gen
	d := at.Sub(s.clock.Now())
	if d < 0 {
		d = 0
	}
	s.jobs[accountID] = &job{
		gen:   gen,
		at:    at,
		timer: s.clock.AfterFunc(d, func() { s.fire(accountID, gen) }),
	}
	metrics.ScheduledJobs.Set(float64(len(s.jobs)))
	log.Debug().Str("account", accountID).Time("at", at).Msg("refresh job armed")
}

// Cancel removes the job for accountID. A timer that already started firing will not
// re-arm after Cancel returns.
func (s *Scheduler) Cancel(accountID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked(accountID)
	delete(s.gens, accountID)
	metrics.ScheduledJobs.Set(float64(len(s.jobs)))
}

func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.jobs {
		s.stopLocked(id)
	}
	s.gens = make(map[string]uint64)
	metrics.ScheduledJobs.Set(0)
}

// Scheduled returns when the job for accountID fires.
func (s *Scheduler) Scheduled(accountID string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[accountID]
	if !ok {
		return time.Time{}, false
	}
	return j.at, true
}

func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

func (s *Scheduler) stopLocked(accountID string) {
	if j, ok := s.jobs[accountID]; ok {
		j.timer.Stop()
		delete(s.jobs, accountID)
	}
}

func (s *Scheduler) fire(accountID string, gen uint64) {
	s.mu.Lock()
	if s.gens[accountID] != gen {
		s.mu.Unlock()
		metrics.SchedulerFiresTotal.WithLabelValues("superseded").Inc()
		return
	}
	delete(s.jobs, accountID)
	metrics.ScheduledJobs.Set(float64(len(s.jobs)))
	s.mu.Unlock()

	err := s.refresh(s.baseCtx, accountID)
	if err == nil {
		metrics.SchedulerFiresTotal.WithLabelValues("success").Inc()
		return
	}

	kind := accounts.KindOf(err)
	if kind.Terminal() || kind == accounts.KindNotFound || kind == accounts.KindInvalidConfirmation {
		metrics.SchedulerFiresTotal.WithLabelValues("terminal").Inc()
		log.Info().Str("account", accountID).Str("kind", string(kind)).Msg("refresh job stopped")
		return
	}

	delay := s.retryDelay
	if ra := accounts.RetryAfterOf(err); ra > delay {
		delay = ra
	}
	metrics.SchedulerFiresTotal.WithLabelValues("retry").Inc()
	log.Warn().Err(err).Str("account", accountID).Dur("retry_in", delay).Msg("refresh failed, retrying")

	s.mu.Lock()
	defer s.mu.Unlock()
	// Re-arm only if nobody armed or cancelled this account while the refresh ran.
	if _, armed := s.jobs[accountID]; !armed && s.gens[accountID] == gen {
		s.armLocked(accountID, s.clock.Now().Add(delay))
	}
}
