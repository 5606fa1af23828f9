// Package clock abstracts wall-clock time and timers so refresh scheduling can be
// driven deterministically in tests.
package clock

import (
	"context"
	"time"
)

// Timer is a handle to a pending AfterFunc callback.
type Timer interface {
	// Stop prevents the callback from firing. It returns false if the callback
	// already fired or the timer was already stopped.
	Stop() bool
}

// Clock provides the current time, one-shot timers and context aware sleeping.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
	Sleep(ctx context.Context, d time.Duration) error
}

// Real is the Clock backed by the time package.
type Real struct{}

var _ Clock = Real{}

func (Real) Now() time.Time {
	return time.Now()
}

func (Real) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

func (Real) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
