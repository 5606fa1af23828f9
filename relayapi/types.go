// Package relayapi holds the JSON wire types shared by the relay server and its clients.
package relayapi

import "github.com/jrsteele09/go-social-connect/accounts"

// GrantType identifies what the client hands to /oauth/exchange.
type GrantType string

const (
	// ShortLivedTokenGrant carries a short-lived user token obtained by the provider's client-side login.
	// Used by: Facebook, Instagram
	// Exchanged for: a long-lived token (about 60 days)
	ShortLivedTokenGrant GrantType = "short_lived_token"

	// AuthorizationCodeGrant carries an authorization code and the state issued by /oauth/authorize.
	// Used by: YouTube (Google OAuth with PKCE)
	// The relay looks up the PKCE verifier by state; the client never sees it.
	AuthorizationCodeGrant GrantType = "authorization_code"
)

// ExchangeRequest is the body of POST /oauth/exchange.
type ExchangeRequest struct {
	// Platform is the provider the grant came from.
	// Example: "facebook"
	Platform accounts.Platform `json:"platform" validate:"required,oneof=facebook instagram youtube"`

	// ShortLivedToken is the user token from client-side login.
	// Required: when Code is empty
	ShortLivedToken string `json:"shortLivedToken,omitempty" validate:"required_without=Code"`

	// Code is the authorization code returned to the redirect URI.
	// Required: when ShortLivedToken is empty
	Code string `json:"code,omitempty" validate:"required_without=ShortLivedToken"`

	// State is the value issued by /oauth/authorize alongside the authorization URL.
	// Required: with Code
	State string `json:"state,omitempty" validate:"required_with=Code"`

	// RedirectURI must match the one used for the authorization request.
	// Example: "http://localhost:3000/connect/youtube/callback"
	RedirectURI string `json:"redirectUri,omitempty" validate:"omitempty,url"`
}

// RenewRequest is the body of POST /oauth/renew.
type RenewRequest struct {
	Platform accounts.Platform `json:"platform" validate:"required,oneof=facebook instagram youtube"`

	// Token is the current long-lived token. Facebook and Instagram renew with it directly.
	Token string `json:"token" validate:"required_without=RefreshToken"`

	// RefreshToken is used where the provider issues one (YouTube).
	RefreshToken string `json:"refreshToken,omitempty"`
}

// AuthorizeResponse is returned from GET /oauth/authorize.
type AuthorizeResponse struct {
	// URL is the provider consent page the user must visit.
	URL string `json:"url"`

	// State must be echoed back in the exchange request.
	State string `json:"state"`
}

// ListAccountsResponse is returned from GET /accounts.
type ListAccountsResponse struct {
	Accounts []*accounts.ConnectedAccount `json:"accounts"`
}
