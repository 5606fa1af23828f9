package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/go-social-connect/accounts"
	"github.com/jrsteele09/go-social-connect/internal/errors"
	"github.com/jrsteele09/go-social-connect/relayapi"
)

const contentTypeJSON = "application/json; charset=utf-8"

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

// writeJSONError writes an error without a lifecycle kind
func writeJSONError(w http.ResponseWriter, errorCode, description string, statusCode int) {
	writeJSON(w, statusCode, relayapi.ErrorResponse{Error: errorCode, ErrorDescription: description})
}

// writeError renders err with the status and kind a client needs to rebuild it.
func writeError(w http.ResponseWriter, err error) {
	resp, status := errorResponse(err)
	if resp.RetryAfterSeconds > 0 {
		w.Header().Set("Retry-After", strconv.FormatInt(resp.RetryAfterSeconds, 10))
	}
	if status >= 500 {
		log.Error().Err(err).Msg("relay request failed")
	}
	writeJSON(w, status, resp)
}

func errorResponse(err error) (relayapi.ErrorResponse, int) {
	resp := relayapi.ErrorResponse{ErrorDescription: err.Error()}

	switch {
	case errors.Is(err, errors.ErrInvalidRequest), errors.Is(err, errors.ErrUnknownPlatform), errors.Is(err, errors.ErrUnsupported):
		resp.Error = "invalid_request"
		return resp, http.StatusBadRequest
	case errors.Is(err, errors.ErrForbidden):
		resp.Error = "forbidden"
		return resp, http.StatusForbidden
	case errors.Is(err, errors.ErrNotFound):
		resp.Error = "not_found"
		resp.Kind = accounts.KindNotFound
		return resp, http.StatusNotFound
	case errors.Is(err, errors.ErrInvalidState):
		resp.Error = "invalid_grant"
		resp.Kind = accounts.KindExchange
		return resp, http.StatusBadRequest
	}

	var e *accounts.Error
	if !errors.As(err, &e) {
		resp.Error = "server_error"
		return resp, http.StatusInternalServerError
	}
	resp.Kind = e.Kind
	switch e.Kind {
	case accounts.KindExchange, accounts.KindConsentRevoked, accounts.KindSessionExpired:
		resp.Error = "invalid_grant"
		return resp, http.StatusBadRequest
	case accounts.KindRateLimited:
		resp.Error = "rate_limited"
		resp.RetryAfterSeconds = int64(e.RetryAfter.Seconds())
		return resp, http.StatusTooManyRequests
	case accounts.KindTransientNetwork:
		resp.Error = "temporarily_unavailable"
		return resp, http.StatusServiceUnavailable
	case accounts.KindNotFound:
		resp.Error = "not_found"
		return resp, http.StatusNotFound
	case accounts.KindPersistence:
		resp.Error = "server_error"
		return resp, http.StatusInternalServerError
	default:
		resp.Error = "upstream_error"
		return resp, http.StatusBadGateway
	}
}

// decodeJSON reads a request body into v and validates it.
func (s *Server) decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		return errors.Wrapf(errors.ErrInvalidRequest, "malformed body: %s", err.Error())
	}
	if err := s.validate.Struct(v); err != nil {
		return errors.Wrapf(errors.ErrInvalidRequest, "%s", err.Error())
	}
	return nil
}
