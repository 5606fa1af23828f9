package accounts

import "time"

type Capability string

const (
	CapabilityFull     Capability = "full"      // Read and publish
	CapabilityReadOnly Capability = "read_only" // Read through the parent user token only
	CapabilityNone     Capability = "none"
)

// AccountCapability reports what the account's own user token allows right now.
func AccountCapability(a *ConnectedAccount, now time.Time, p LeadPolicy) Capability {
	if Usable(a, now, p) {
		return CapabilityFull
	}
	return CapabilityNone
}

// SubResourceCapability never borrows the parent token for publishing. A sub-resource
// without its own valid token is read-only while the parent is usable.
func SubResourceCapability(a *ConnectedAccount, s SubResource, now time.Time, p LeadPolicy) Capability {
	if !Usable(a, now, p) {
		return CapabilityNone
	}
	if s.Token == nil || s.Token.IsZero() {
		return CapabilityReadOnly
	}
	if !now.Before(s.Token.Expiry(p.window())) {
		return CapabilityReadOnly
	}
	return CapabilityFull
}
