package platforms

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jrsteele09/go-social-connect/accounts"
)

// ProviderError is a non-2xx provider response decoded from either the Graph API
// or the Google error envelope.
type ProviderError struct {
	Platform   accounts.Platform
	StatusCode int
	Code       int    // Graph error code
	Subcode    int    // Graph error_subcode
	Reason     string // Google errors[].reason or OAuth "error"
	Message    string
	RetryAfter time.Duration
}

func (e *ProviderError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: HTTP %d", e.Platform, e.StatusCode)
	if e.Code != 0 {
		fmt.Fprintf(&b, " code %d", e.Code)
	}
	if e.Subcode != 0 {
		fmt.Fprintf(&b, "/%d", e.Subcode)
	}
	if e.Reason != "" {
		b.WriteString(" " + e.Reason)
	}
	if e.Message != "" {
		b.WriteString(": " + e.Message)
	}
	return b.String()
}

// ParseProviderError decodes a provider error response body.
func ParseProviderError(platform accounts.Platform, resp *http.Response, body []byte) *ProviderError {
	pe := &ProviderError{Platform: platform, StatusCode: resp.StatusCode, RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}

	var envelope struct {
		Error            json.RawMessage `json:"error"`
		ErrorDescription string          `json:"error_description"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || len(envelope.Error) == 0 {
		pe.Message = strings.TrimSpace(string(body))
		return pe
	}

	// OAuth style: {"error":"invalid_grant","error_description":"..."}
	var code string
	if json.Unmarshal(envelope.Error, &code) == nil {
		pe.Reason = code
		pe.Message = envelope.ErrorDescription
		return pe
	}

	var detail struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
		Subcode int    `json:"error_subcode"`
		Errors  []struct {
			Reason string `json:"reason"`
		} `json:"errors"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(envelope.Error, &detail); err != nil {
		pe.Message = string(envelope.Error)
		return pe
	}
	pe.Message = detail.Message
	pe.Subcode = detail.Subcode
	if platform != accounts.PlatformYouTube {
		pe.Code = detail.Code
		pe.Reason = detail.Type
	}
	if len(detail.Errors) > 0 {
		pe.Reason = detail.Errors[0].Reason
	} else if detail.Status != "" && pe.Reason == "" {
		pe.Reason = detail.Status
	}
	return pe
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
