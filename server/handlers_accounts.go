package server

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/go-social-connect/accounts"
	"github.com/jrsteele09/go-social-connect/internal/errors"
	"github.com/jrsteele09/go-social-connect/relayapi"
)

// ListAccountsHandler lists one customer's accounts for one platform.
// Agency sessions may read any customer.
func (s *Server) ListAccountsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, _ := claimsFromContext(r.Context())
		customerID := r.URL.Query().Get("customerId")
		if customerID == "" {
			writeError(w, errors.Wrapf(errors.ErrInvalidRequest, "customerId is required"))
			return
		}
		if !claims.CanRead(customerID) {
			writeError(w, errors.Wrapf(errors.ErrForbidden, "%s", customerID))
			return
		}
		platform, err := accounts.ParsePlatform(r.URL.Query().Get("platform"))
		if err != nil {
			writeError(w, errors.Wrapf(errors.ErrInvalidRequest, "%s", err.Error()))
			return
		}

		list, err := s.store.List(r.Context(), customerID, platform)
		if err != nil {
			writeError(w, accounts.E(accounts.KindPersistence, "relay list", err))
			return
		}
		writeJSON(w, http.StatusOK, relayapi.ListAccountsResponse{Accounts: accounts.FilterScope(list, customerID, platform)})
	}
}

// UpsertAccountHandler stores an account keyed by its external identity.
func (s *Server) UpsertAccountHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, _ := claimsFromContext(r.Context())
		var account accounts.ConnectedAccount
		if err := s.decodeJSON(r, &account); err != nil {
			writeError(w, err)
			return
		}
		if !claims.CanActFor(account.CustomerID) {
			writeError(w, errors.Wrapf(errors.ErrForbidden, "%s", account.CustomerID))
			return
		}
		if want := account.Key().ID(); account.ID != "" && account.ID != want {
			writeError(w, errors.Wrapf(errors.ErrInvalidRequest, "id %s does not match the account identity", account.ID))
			return
		}
		account.EnsureID()
		account.Stale = false

		stored, err := s.store.Upsert(r.Context(), &account)
		if err != nil {
			writeError(w, accounts.E(accounts.KindPersistence, "relay upsert", err))
			return
		}
		log.Info().Str("account", stored.ID).Str("customer", stored.CustomerID).Str("user", claims.UserID).Msg("account stored")
		writeJSON(w, http.StatusOK, stored)
	}
}

// DeleteAccountHandler removes an account. Unknown ids are 404.
func (s *Server) DeleteAccountHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, _ := claimsFromContext(r.Context())
		accountID := r.PathValue("id")
		customerID := r.URL.Query().Get("customerId")
		if !claims.CanActFor(customerID) {
			writeError(w, errors.Wrapf(errors.ErrForbidden, "%s", customerID))
			return
		}

		if err := s.store.Delete(r.Context(), customerID, accountID); err != nil {
			if errors.Is(err, errors.ErrNotFound) {
				writeError(w, err)
				return
			}
			writeError(w, accounts.E(accounts.KindPersistence, "relay delete", err))
			return
		}
		log.Info().Str("account", accountID).Str("customer", customerID).Str("user", claims.UserID).Msg("account deleted")
		w.WriteHeader(http.StatusNoContent)
	}
}

// HealthHandler reports whether the store answers.
func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if p, ok := s.store.(Pinger); ok {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := p.Ping(ctx); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
