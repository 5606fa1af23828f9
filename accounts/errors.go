package accounts

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind classifies lifecycle failures. The relay sends it on the wire so clients can rebuild the error.
type Kind string

const (
	KindUnknown             Kind = "unknown"
	KindExchange            Kind = "exchange_error"
	KindPersistence         Kind = "persistence_error"
	KindTransientNetwork    Kind = "transient_network"
	KindSessionExpired      Kind = "session_expired"
	KindConsentRevoked      Kind = "consent_revoked"
	KindRateLimited         Kind = "rate_limited"
	KindNotFound            Kind = "not_found"
	KindInvalidConfirmation Kind = "invalid_confirmation"
)

type RecoveryAction string

const (
	RecoveryNone      RecoveryAction = "none"
	RecoveryRetry     RecoveryAction = "retry"
	RecoveryRefresh   RecoveryAction = "refresh"
	RecoveryReconnect RecoveryAction = "reconnect"
)

// Sentinels for errors.Is; an *Error matches the sentinel of its Kind.
var (
	ErrExchange            = &Error{Kind: KindExchange}
	ErrPersistence         = &Error{Kind: KindPersistence}
	ErrTransientNetwork    = &Error{Kind: KindTransientNetwork}
	ErrSessionExpired      = &Error{Kind: KindSessionExpired}
	ErrConsentRevoked      = &Error{Kind: KindConsentRevoked}
	ErrRateLimited         = &Error{Kind: KindRateLimited}
	ErrNotFound            = &Error{Kind: KindNotFound}
	ErrInvalidConfirmation = &Error{Kind: KindInvalidConfirmation}
)

type Error struct {
	Kind       Kind
	Op         string
	AccountID  string
	RetryAfter time.Duration
	Err        error
}

// E builds an *Error of the given kind for the operation.
func E(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// WithAccount returns a copy of e naming the account.
func (e *Error) WithAccount(id string) *Error {
	c := *e
	c.AccountID = id
	return &c
}

func (e *Error) WithRetryAfter(d time.Duration) *Error {
	c := *e
	c.RetryAfter = d
	return &c
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString("[" + e.Op + "] ")
	}
	b.WriteString(string(e.Kind))
	if e.AccountID != "" {
		b.WriteString(" account " + e.AccountID)
	}
	if e.RetryAfter > 0 {
		fmt.Fprintf(&b, " (retry after %s)", e.RetryAfter)
	}
	if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func (e *Error) RecoveryAction() RecoveryAction {
	return e.Kind.RecoveryAction()
}

func (k Kind) RecoveryAction() RecoveryAction {
	switch k {
	case KindExchange, KindConsentRevoked:
		return RecoveryReconnect
	case KindSessionExpired:
		return RecoveryRefresh
	case KindTransientNetwork, KindRateLimited, KindPersistence:
		return RecoveryRetry
	default:
		return RecoveryNone
	}
}

// Retryable reports whether the call policy retries the kind automatically.
func (k Kind) Retryable() bool {
	return k == KindTransientNetwork || k == KindRateLimited
}

// Terminal kinds move an account to reconnect_required.
func (k Kind) Terminal() bool {
	return k == KindExchange || k == KindConsentRevoked
}

// KindOf returns the Kind of the first *Error in err's chain, KindUnknown otherwise.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// RetryAfterOf returns the provider requested delay carried by err, if any.
func RetryAfterOf(err error) time.Duration {
	var e *Error
	if errors.As(err, &e) {
		return e.RetryAfter
	}
	return 0
}

// BulkResult aggregates a bulk disconnect.
type BulkResult struct {
	Disconnected []string         `json:"disconnected"`
	Failed       map[string]error `json:"-"`
	RevokeFailed []string         `json:"revokeFailed,omitempty"`
}

func (r BulkResult) OK() bool {
	return len(r.Failed) == 0
}

// Err joins the per-account failures, nil when all succeeded.
func (r BulkResult) Err() error {
	if len(r.Failed) == 0 {
		return nil
	}
	errs := make([]error, 0, len(r.Failed))
	for id, err := range r.Failed {
		errs = append(errs, fmt.Errorf("%s: %w", id, err))
	}
	return errors.Join(errs...)
}
