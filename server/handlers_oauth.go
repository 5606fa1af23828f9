package server

import (
	"net/http"

	"github.com/jrsteele09/go-social-connect/accounts"
	"github.com/jrsteele09/go-social-connect/exchange"
	"github.com/jrsteele09/go-social-connect/internal/errors"
	"github.com/jrsteele09/go-social-connect/relayapi"
)

// ExchangeHandler turns a short-lived token or an authorization code into a long-lived token.
func (s *Server) ExchangeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req relayapi.ExchangeRequest
		if err := s.decodeJSON(r, &req); err != nil {
			writeError(w, err)
			return
		}

		res, err := s.exchanger.ExchangeShortLived(r.Context(), req.Platform, exchange.Grant{
			ShortLivedToken: req.ShortLivedToken,
			Code:            req.Code,
			State:           req.State,
			RedirectURI:     req.RedirectURI,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, exchange.ResponseFromToken(res.Token, res.Subject, s.now()))
	}
}

// RenewHandler renews a long-lived token before it expires.
func (s *Server) RenewHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req relayapi.RenewRequest
		if err := s.decodeJSON(r, &req); err != nil {
			writeError(w, err)
			return
		}

		tok, err := s.exchanger.Renew(r.Context(), req.Platform, accounts.Token{
			Value:        req.Token,
			Kind:         accounts.TokenLongLived,
			RefreshToken: req.RefreshToken,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, exchange.ResponseFromToken(tok, "", s.now()))
	}
}

// AuthorizeHandler starts an authorization-code connect and returns the consent URL.
func (s *Server) AuthorizeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := claimsFromContext(r.Context())
		if !ok {
			writeJSONError(w, "unauthorized", "no session", http.StatusUnauthorized)
			return
		}
		platform, err := accounts.ParsePlatform(r.URL.Query().Get("platform"))
		if err != nil {
			writeError(w, errors.Wrapf(errors.ErrInvalidRequest, "%s", err.Error()))
			return
		}

		resp, err := s.exchanger.Authorize(platform, claims.UserID, r.URL.Query().Get("redirectUri"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
