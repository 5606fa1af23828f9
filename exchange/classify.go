package exchange

import (
	"github.com/jrsteele09/go-social-connect/accounts"
	"github.com/jrsteele09/go-social-connect/sessionmon"
)

// classifyExchange treats every non-retryable exchange failure as a denial of the grant.
func classifyExchange(op string, err error) error {
	if err == nil {
		return nil
	}
	e := sessionmon.Classify(op, err)
	if e.Kind.Retryable() || e.Kind == accounts.KindExchange {
		return e
	}
	return &accounts.Error{Kind: accounts.KindExchange, Op: op, Err: err}
}

// classifyRenew maps an expired long-lived token to consent revoked: there is nothing left to renew with.
func classifyRenew(op string, err error) error {
	if err == nil {
		return nil
	}
	e := sessionmon.Classify(op, err)
	if e.Kind == accounts.KindSessionExpired {
		return &accounts.Error{Kind: accounts.KindConsentRevoked, Op: op, Err: err}
	}
	return e
}
