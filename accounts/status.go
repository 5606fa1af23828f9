package accounts

import "time"

// LeadPolicy decides how long before expiry a token is renewed.
type LeadPolicy struct {
	Ceiling       time.Duration // Upper bound on the lead
	Fraction      float64       // Share of the token lifetime, 0.1 when unset
	DegradedAfter time.Duration // Degraded accounts renew this long after issue
	DefaultWindow time.Duration // Lifetime assumed for tokens without expiry
}

func (p LeadPolicy) window() time.Duration {
	if p.DefaultWindow <= 0 {
		return DefaultTokenWindow
	}
	return p.DefaultWindow
}

// LeadTime is min(Fraction * lifetime, Ceiling).
func (p LeadPolicy) LeadTime(t Token) time.Duration {
	fraction := p.Fraction
	if fraction <= 0 {
		fraction = 0.1
	}
	lead := time.Duration(float64(t.Lifetime(p.window())) * fraction)
	if p.Ceiling > 0 && lead > p.Ceiling {
		lead = p.Ceiling
	}
	if lead < 0 {
		lead = 0
	}
	return lead
}

// Expiry is the effective expiry of the account token under the default window.
func (p LeadPolicy) Expiry(a *ConnectedAccount) time.Time {
	return a.Token.Expiry(p.window())
}

// FireAt is when the refresh job for the account should run. Degraded accounts run
// much earlier so the long-lived exchange is retried soon after connect.
func (p LeadPolicy) FireAt(a *ConnectedAccount) time.Time {
	at := p.Expiry(a).Add(-p.LeadTime(a.Token))
	if a.Degraded && p.DegradedAfter > 0 {
		if early := a.Token.IssuedAt.Add(p.DegradedAfter); early.Before(at) {
			at = early
		}
	}
	return at
}

// DeriveStatus is the account status as a pure function of stored state and time.
// Connecting, reconnect_required and disconnected are sticky; the rest follow the clock.
func DeriveStatus(a *ConnectedAccount, now time.Time, p LeadPolicy) Status {
	switch a.Status {
	case StatusConnecting, StatusReconnectRequired, StatusDisconnected:
		return a.Status
	}
	if a.Token.IsZero() {
		return StatusExpired
	}
	exp := p.Expiry(a)
	if !now.Before(exp) {
		return StatusExpired
	}
	if !now.Before(exp.Add(-p.LeadTime(a.Token))) {
		return StatusExpiringSoon
	}
	return StatusActive
}

// Usable reports whether provider API calls may be made with the account token.
func Usable(a *ConnectedAccount, now time.Time, p LeadPolicy) bool {
	switch DeriveStatus(a, now, p) {
	case StatusActive, StatusExpiringSoon:
		return true
	}
	return false
}

// NeedsRefresh is false only when the account is active with more than the lead remaining.
func NeedsRefresh(a *ConnectedAccount, now time.Time, p LeadPolicy) bool {
	return DeriveStatus(a, now, p) != StatusActive || a.Degraded
}
