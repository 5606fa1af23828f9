package relayapi

// TokenResponse is returned from /oauth/exchange and /oauth/renew.
type TokenResponse struct {
	// LongLivedToken is the renewed or exchanged user token.
	// Usage: stored on the ConnectedAccount, never logged
	LongLivedToken string `json:"longLivedToken"`

	// ExpiresIn is the token lifetime in seconds.
	// Example: 5183944 (about 60 days for Facebook)
	// Zero: the provider did not say; clients apply their default window
	ExpiresIn int64 `json:"expiresIn"`

	// RefreshToken is present only for providers that rotate refresh tokens (YouTube).
	RefreshToken string `json:"refreshToken,omitempty"`

	// Subject is the provider's stable user id when the relay learned it during the exchange.
	// Example: the "sub" claim of a verified Google ID token
	Subject string `json:"subject,omitempty"`
}
