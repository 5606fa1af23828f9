// Package exchange turns short-lived grants into long-lived tokens and renews them.
// Exchangers are pure network operations; callers persist the result.
package exchange

import (
	"context"
	"time"

	"github.com/jrsteele09/go-social-connect/accounts"
)

// Grant is what the client obtained from the provider's login.
type Grant struct {
	// ShortLivedToken is set for client-side logins (Facebook, Instagram).
	ShortLivedToken     string
	ShortLivedExpiresIn time.Duration
	// Code and State are set for authorization-code logins (YouTube).
	Code        string
	State       string
	RedirectURI string
}

// HasShortLivedToken reports whether the grant itself carries a usable token.
func (g Grant) HasShortLivedToken() bool {
	return g.ShortLivedToken != ""
}

// ShortLived returns the grant's own token, used when the long-lived exchange fails.
func (g Grant) ShortLived(issuedAt time.Time) accounts.Token {
	return accounts.NewToken(g.ShortLivedToken, accounts.TokenShortLived, issuedAt, g.ShortLivedExpiresIn, "")
}

// Result is a long-lived token and, when the provider revealed it, the external subject.
type Result struct {
	Token   accounts.Token
	Subject string
}

// Exchanger returns errors classified as *accounts.Error. Exchange denials are KindExchange;
// renewal denials are KindConsentRevoked.
type Exchanger interface {
	ExchangeShortLived(ctx context.Context, platform accounts.Platform, grant Grant) (*Result, error)
	Renew(ctx context.Context, platform accounts.Platform, token accounts.Token) (accounts.Token, error)
}
