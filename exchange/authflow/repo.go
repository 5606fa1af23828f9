// Package authflow keeps PKCE state for authorization-code connects on the relay.
package authflow

import "time"

// State is created by /oauth/authorize and consumed once by /oauth/exchange.
type State struct {
	Platform     string
	UserID       string
	CodeVerifier string
	Nonce        string
	RedirectURI  string
	CreatedAt    time.Time
}

type Repo interface {
	Upsert(state string, flow *State) error
	// Take returns the state and deletes it, so a state can be exchanged only once.
	Take(state string) (*State, error)
	Delete(state string) error
}
