package accounts

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Platform string

const (
	PlatformFacebook  Platform = "facebook"
	PlatformInstagram Platform = "instagram"
	PlatformYouTube   Platform = "youtube"
)

// Platforms lists every supported platform in display order.
var Platforms = []Platform{PlatformFacebook, PlatformInstagram, PlatformYouTube}

func (p Platform) Valid() bool {
	for _, known := range Platforms {
		if p == known {
			return true
		}
	}
	return false
}

func (p Platform) String() string {
	return string(p)
}

func ParsePlatform(s string) (Platform, error) {
	p := Platform(strings.ToLower(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", fmt.Errorf("unknown platform %q", s)
	}
	return p, nil
}

type Status string

const (
	StatusConnecting        Status = "connecting"         // Initial authorization in progress, nothing persisted
	StatusActive            Status = "active"             // now < expiresAt - leadTime
	StatusExpiringSoon      Status = "expiring_soon"      // expiresAt - leadTime <= now < expiresAt
	StatusExpired           Status = "expired"            // now >= expiresAt, no API calls until refreshed
	StatusReconnectRequired Status = "reconnect_required" // Terminal refresh failure, needs re-authorization
	StatusDisconnected      Status = "disconnected"       // Removed from store and cache
)

type SubResourceKind string

const (
	SubResourcePage            SubResourceKind = "page"
	SubResourceChannel         SubResourceKind = "channel"
	SubResourceBusinessAccount SubResourceKind = "business_account"
)

// SubResource is a platform child entity (Facebook Page, YouTube Channel). Its token,
// when present, is issued separately from the parent account's user token.
type SubResource struct {
	ID          string          `json:"id" validate:"required"`
	Kind        SubResourceKind `json:"kind"`
	Name        string          `json:"name"`
	Token       *Token          `json:"token,omitempty"`
	Permissions []string        `json:"permissions,omitempty"`
}

// ConnectedAccount is one authenticated external identity bound to one customer and one platform.
// Identity is (CustomerID, Platform, ExternalAccountID); ID is derived from it.
type ConnectedAccount struct {
	ID                string        `json:"id"`
	CustomerID        string        `json:"customerId" validate:"required"`
	Platform          Platform      `json:"platform" validate:"required,oneof=facebook instagram youtube"`
	ExternalAccountID string        `json:"externalAccountId" validate:"required"`
	DisplayName       string        `json:"displayName"`
	ProfileImageURL   string        `json:"profileImageUrl,omitempty"`
	Token             Token         `json:"token"`
	SubResources      []SubResource `json:"subResources,omitempty" validate:"dive"`
	ConnectedAt       time.Time     `json:"connectedAt"`
	UpdatedAt         time.Time     `json:"updatedAt"`
	Status            Status        `json:"status"`
	Degraded          bool          `json:"degraded,omitempty"`
	Stale             bool          `json:"stale,omitempty"`
	LastError         string        `json:"lastError,omitempty"`
}

// Key is the unique identity of a ConnectedAccount.
type Key struct {
	CustomerID        string
	Platform          Platform
	ExternalAccountID string
}

var accountNamespace = uuid.MustParse("6f1c9a52-3d0e-4a55-9a7c-2b8f0c1d4e21")

// ID returns the deterministic account id for the key. Every process derives the same
// id for the same external identity, so re-authorizing upserts instead of duplicating.
func (k Key) ID() string {
	name := k.CustomerID + "\x00" + string(k.Platform) + "\x00" + k.ExternalAccountID
	return uuid.NewSHA1(accountNamespace, []byte(name)).String()
}

func (a *ConnectedAccount) Key() Key {
	return Key{CustomerID: a.CustomerID, Platform: a.Platform, ExternalAccountID: a.ExternalAccountID}
}

// EnsureID fills ID from the identity key when it is empty.
func (a *ConnectedAccount) EnsureID() {
	if a.ID == "" {
		a.ID = a.Key().ID()
	}
}

// Clone returns a deep copy so callers never share token slices with the manager.
func (a *ConnectedAccount) Clone() *ConnectedAccount {
	if a == nil {
		return nil
	}
	c := *a
	c.Token = a.Token.Clone()
	if a.SubResources != nil {
		c.SubResources = make([]SubResource, len(a.SubResources))
		for i, s := range a.SubResources {
			c.SubResources[i] = s.Clone()
		}
	}
	return &c
}

func (s SubResource) Clone() SubResource {
	c := s
	if s.Token != nil {
		t := s.Token.Clone()
		c.Token = &t
	}
	if s.Permissions != nil {
		c.Permissions = append([]string(nil), s.Permissions...)
	}
	return c
}

// FilterScope returns the accounts that belong to the customer and platform. Both stores may hold
// records for other customers and platforms, so every read goes through here.
func FilterScope(all []*ConnectedAccount, customerID string, platform Platform) []*ConnectedAccount {
	scoped := make([]*ConnectedAccount, 0, len(all))
	for _, a := range all {
		if a == nil || a.CustomerID != customerID || a.Platform != platform {
			continue
		}
		scoped = append(scoped, a)
	}
	return scoped
}

// SortByConnectedAt orders accounts by connection time, then id.
func SortByConnectedAt(list []*ConnectedAccount) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].ConnectedAt.Equal(list[j].ConnectedAt) {
			return list[i].ID < list[j].ID
		}
		return list[i].ConnectedAt.Before(list[j].ConnectedAt)
	})
}

// MergeForUpsert combines an incoming record with the stored one under the same identity.
// The later-expiring token wins unless the stored record needs reconnecting, in which case
// any incoming token replaces it. connectedAt keeps the first connection time.
func MergeForUpsert(stored, incoming *ConnectedAccount, window time.Duration) *ConnectedAccount {
	merged := incoming.Clone()
	merged.EnsureID()
	if stored == nil {
		return merged
	}
	if !stored.ConnectedAt.IsZero() && (merged.ConnectedAt.IsZero() || stored.ConnectedAt.Before(merged.ConnectedAt)) {
		merged.ConnectedAt = stored.ConnectedAt
	}
	storedUsable := stored.Status != StatusReconnectRequired || incoming.Status == StatusReconnectRequired
	if storedUsable && stored.Token.Expiry(window).After(incoming.Token.Expiry(window)) {
		merged.Token = stored.Token.Clone()
		merged.Degraded = stored.Degraded
		merged.Status = stored.Status
	}
	return merged
}
