// Package sessionmon classifies provider failures and probes live sessions.
package sessionmon

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"syscall"

	"golang.org/x/oauth2"

	"github.com/jrsteele09/go-social-connect/accounts"
	"github.com/jrsteele09/go-social-connect/platforms"
)

// Graph API error codes.
const (
	graphCodeUnknown        = 1
	graphCodeService        = 2
	graphCodeTooManyCalls   = 4
	graphCodePermission     = 10
	graphCodeUserTooMany    = 17
	graphCodePageTooMany    = 32
	graphCodeSessionInvalid = 102
	graphCodeAccessToken    = 190
	graphCodeRateLimit      = 613

	graphSubcodeNotInstalled    = 458
	graphSubcodePasswordChanged = 460
	graphSubcodeExpired         = 463
	graphSubcodeInvalidSession  = 467
)

// Classify maps any error from a provider, relay or transport call to an *accounts.Error.
// Errors that are already classified pass through unchanged. nil stays nil.
func Classify(op string, err error) *accounts.Error {
	if err == nil {
		return nil
	}
	var classified *accounts.Error
	if errors.As(err, &classified) {
		return classified
	}

	var pe *platforms.ProviderError
	if errors.As(err, &pe) {
		kind := classifyProvider(pe)
		e := accounts.E(kind, op, err)
		if kind == accounts.KindRateLimited {
			e.RetryAfter = pe.RetryAfter
		}
		return e
	}

	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		return accounts.E(classifyRetrieve(re), op, err)
	}

	if isTransient(err) {
		return accounts.E(accounts.KindTransientNetwork, op, err)
	}
	return accounts.E(accounts.KindUnknown, op, err)
}

func classifyProvider(pe *platforms.ProviderError) accounts.Kind {
	if pe.Platform == accounts.PlatformYouTube {
		return classifyGoogle(pe)
	}
	return classifyGraph(pe)
}

func classifyGraph(pe *platforms.ProviderError) accounts.Kind {
	switch pe.Code {
	case graphCodeAccessToken:
		switch pe.Subcode {
		case graphSubcodeNotInstalled, graphSubcodePasswordChanged:
			return accounts.KindConsentRevoked
		case graphSubcodeExpired, graphSubcodeInvalidSession:
			return accounts.KindSessionExpired
		}
		return accounts.KindSessionExpired
	case graphCodeSessionInvalid:
		return accounts.KindSessionExpired
	case graphCodeTooManyCalls, graphCodeUserTooMany, graphCodePageTooMany, graphCodeRateLimit:
		return accounts.KindRateLimited
	case graphCodePermission:
		return accounts.KindConsentRevoked
	case graphCodeUnknown, graphCodeService:
		return accounts.KindTransientNetwork
	}
	if pe.Code >= 200 && pe.Code < 300 {
		return accounts.KindConsentRevoked
	}
	if pe.Code >= 80001 && pe.Code <= 80014 {
		return accounts.KindRateLimited
	}
	return classifyStatus(pe.StatusCode)
}

func classifyGoogle(pe *platforms.ProviderError) accounts.Kind {
	switch pe.Reason {
	case "invalid_grant", "unauthorized_client", "access_denied", "insufficientPermissions", "forbidden":
		return accounts.KindConsentRevoked
	case "rateLimitExceeded", "userRateLimitExceeded", "quotaExceeded", "RESOURCE_EXHAUSTED":
		return accounts.KindRateLimited
	case "invalid_token", "authError", "UNAUTHENTICATED":
		return accounts.KindSessionExpired
	}
	return classifyStatus(pe.StatusCode)
}

func classifyRetrieve(re *oauth2.RetrieveError) accounts.Kind {
	switch re.ErrorCode {
	case "invalid_grant", "unauthorized_client", "access_denied", "invalid_client":
		return accounts.KindConsentRevoked
	case "temporarily_unavailable", "server_error":
		return accounts.KindTransientNetwork
	case "slow_down":
		return accounts.KindRateLimited
	}
	if re.Response != nil {
		return classifyStatus(re.Response.StatusCode)
	}
	return accounts.KindUnknown
}

func classifyStatus(status int) accounts.Kind {
	switch {
	case status == http.StatusTooManyRequests:
		return accounts.KindRateLimited
	case status == http.StatusUnauthorized:
		return accounts.KindSessionExpired
	case status == http.StatusRequestTimeout || status >= 500:
		return accounts.KindTransientNetwork
	}
	return accounts.KindUnknown
}

func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	for _, errno := range transientErrnos {
		if errors.Is(err, errno) {
			return true
		}
	}
	// *url.Error is a net.Error too, so only timeouts count; certificate and URL errors never heal.
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

var transientErrnos = []syscall.Errno{
	syscall.ECONNREFUSED,
	syscall.ECONNRESET,
	syscall.ECONNABORTED,
	syscall.ETIMEDOUT,
	syscall.EHOSTUNREACH,
	syscall.ENETUNREACH,
	syscall.EPIPE,
}
