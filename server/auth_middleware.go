package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/go-social-connect/token"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

const (
	// ContextKeyClaims stores the verified relay session
	ContextKeyClaims ContextKey = "claims"
)

// RequireAuth validates the Bearer relay session token and injects its claims.
func (s *Server) RequireAuth() func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeJSONError(w, "unauthorized", "Missing Authorization header", http.StatusUnauthorized)
				return
			}

			scheme, raw, found := strings.Cut(authHeader, " ")
			if !found || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(raw) == "" {
				writeJSONError(w, "unauthorized", "Invalid Authorization header format", http.StatusUnauthorized)
				return
			}

			claims, err := s.sessions.Verify(strings.TrimSpace(raw))
			if err != nil {
				log.Debug().Err(err).Msg("session token rejected")
				writeJSONError(w, "unauthorized", "Invalid session token", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), ContextKeyClaims, claims)
			next(w, r.WithContext(ctx))
		}
	}
}

// claimsFromContext returns the session injected by RequireAuth.
func claimsFromContext(ctx context.Context) (*token.Claims, bool) {
	claims, ok := ctx.Value(ContextKeyClaims).(*token.Claims)
	return claims, ok && claims != nil
}
