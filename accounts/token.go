package accounts

import (
	"time"

	"github.com/jrsteele09/go-social-connect/internal/utils"
)

type TokenKind string

const (
	TokenShortLived TokenKind = "short_lived"
	TokenLongLived  TokenKind = "long_lived"
)

// DefaultTokenWindow caps tokens that carry no expiry.
const DefaultTokenWindow = time.Hour

type Token struct {
	Value        string     `json:"value"`
	Kind         TokenKind  `json:"kind"`
	IssuedAt     time.Time  `json:"issuedAt"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`
	RefreshToken string     `json:"refreshToken,omitempty"`
}

func (t Token) IsZero() bool {
	return t.Value == ""
}

func (t Token) Clone() Token {
	c := t
	if t.ExpiresAt != nil {
		c.ExpiresAt = utils.Ptr(*t.ExpiresAt)
	}
	return c
}

// Expiry returns ExpiresAt, or IssuedAt+window when the provider gave no lifetime.
// A token is never treated as non-expiring.
func (t Token) Expiry(window time.Duration) time.Time {
	if t.ExpiresAt != nil {
		return *t.ExpiresAt
	}
	if window <= 0 {
		window = DefaultTokenWindow
	}
	return t.IssuedAt.Add(window)
}

func (t Token) Lifetime(window time.Duration) time.Duration {
	return t.Expiry(window).Sub(t.IssuedAt)
}

func (t Token) Remaining(now time.Time, window time.Duration) time.Duration {
	return t.Expiry(window).Sub(now)
}

// NewToken builds a token issued at issuedAt living for expiresIn. A non-positive
// expiresIn leaves ExpiresAt nil so the default window applies.
func NewToken(value string, kind TokenKind, issuedAt time.Time, expiresIn time.Duration, refreshToken string) Token {
	t := Token{Value: value, Kind: kind, IssuedAt: issuedAt, RefreshToken: refreshToken}
	if expiresIn > 0 {
		t.ExpiresAt = utils.Ptr(issuedAt.Add(expiresIn))
	}
	return t
}

// Fresher returns whichever token expires later; ties keep a.
func Fresher(a, b Token, window time.Duration) Token {
	if b.IsZero() {
		return a
	}
	if a.IsZero() || b.Expiry(window).After(a.Expiry(window)) {
		return b
	}
	return a
}
