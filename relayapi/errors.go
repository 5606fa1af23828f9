package relayapi

import (
	"errors"
	"time"

	"github.com/jrsteele09/go-social-connect/accounts"
)

// ErrorResponse is the JSON body of every relay 4xx/5xx response.
type ErrorResponse struct {
	// Error is a short machine readable code.
	// Example: "invalid_grant"
	Error string `json:"error"`

	// ErrorDescription is human readable detail.
	ErrorDescription string `json:"error_description,omitempty"`

	// Kind is the lifecycle error class so clients can rebuild an *accounts.Error.
	// Example: "consent_revoked"
	Kind accounts.Kind `json:"kind,omitempty"`

	// RetryAfterSeconds is set for rate_limited responses.
	RetryAfterSeconds int64 `json:"retryAfterSeconds,omitempty"`
}

// AsError rebuilds the typed error for the operation.
func (r ErrorResponse) AsError(op string) *accounts.Error {
	kind := r.Kind
	if kind == "" {
		kind = accounts.KindUnknown
	}
	msg := r.Error
	if r.ErrorDescription != "" {
		msg += ": " + r.ErrorDescription
	}
	e := accounts.E(kind, op, errors.New(msg))
	if r.RetryAfterSeconds > 0 {
		e.RetryAfter = time.Duration(r.RetryAfterSeconds) * time.Second
	}
	return e
}
