package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jrsteele09/go-social-connect/accounts"
	"github.com/jrsteele09/go-social-connect/internal/errors"
	"github.com/jrsteele09/go-social-connect/relayapi"
	"github.com/jrsteele09/go-social-connect/sessionmon"
)

var _ Exchanger = (*RelayClient)(nil)

// RelayClient runs exchanges through the relay, which holds the client secrets.
type RelayClient struct {
	baseURL string
	token   string
	client  *http.Client
	now     func() time.Time
}

type RelayOption func(*RelayClient)

func WithRelayHTTPClient(c *http.Client) RelayOption {
	return func(r *RelayClient) {
		r.client = c
	}
}

func WithRelayNowFunc(now func() time.Time) RelayOption {
	return func(r *RelayClient) {
		r.now = now
	}
}

func NewRelayClient(baseURL, sessionToken string, timeout time.Duration, opts ...RelayOption) (*RelayClient, error) {
	if baseURL == "" {
		return nil, errors.New("[NewRelayClient] base URL is required")
	}
	if sessionToken == "" {
		return nil, errors.New("[NewRelayClient] session token is required")
	}
	r := &RelayClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   sessionToken,
		client:  &http.Client{Timeout: timeout},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

func (r *RelayClient) ExchangeShortLived(ctx context.Context, platform accounts.Platform, grant Grant) (*Result, error) {
	req := relayapi.ExchangeRequest{
		Platform:        platform,
		ShortLivedToken: grant.ShortLivedToken,
		Code:            grant.Code,
		State:           grant.State,
		RedirectURI:     grant.RedirectURI,
	}
	issued := r.now()
	var resp relayapi.TokenResponse
	if err := r.post(ctx, "/oauth/exchange", req, &resp); err != nil {
		return nil, classifyExchange("RelayClient.ExchangeShortLived", err)
	}
	return &Result{Token: toToken(resp, issued, ""), Subject: resp.Subject}, nil
}

func (r *RelayClient) Renew(ctx context.Context, platform accounts.Platform, token accounts.Token) (accounts.Token, error) {
	req := relayapi.RenewRequest{Platform: platform, Token: token.Value, RefreshToken: token.RefreshToken}
	issued := r.now()
	var resp relayapi.TokenResponse
	if err := r.post(ctx, "/oauth/renew", req, &resp); err != nil {
		return accounts.Token{}, classifyRenew("RelayClient.Renew", err)
	}
	return toToken(resp, issued, token.RefreshToken), nil
}

// Authorize asks the relay for a consent URL; the PKCE verifier stays on the relay.
func (r *RelayClient) Authorize(ctx context.Context, platform accounts.Platform, redirectURI string) (*relayapi.AuthorizeResponse, error) {
	q := url.Values{"platform": {string(platform)}}
	if redirectURI != "" {
		q.Set("redirectUri", redirectURI)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/oauth/authorize?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("[RelayClient Authorize] build request: %w", err)
	}
	var resp relayapi.AuthorizeResponse
	if err := r.do(req, &resp); err != nil {
		return nil, sessionmon.Classify("RelayClient.Authorize", err)
	}
	return &resp, nil
}

func toToken(resp relayapi.TokenResponse, issued time.Time, previousRefresh string) accounts.Token {
	refresh := resp.RefreshToken
	if refresh == "" {
		refresh = previousRefresh
	}
	return accounts.NewToken(resp.LongLivedToken, accounts.TokenLongLived, issued, time.Duration(resp.ExpiresIn)*time.Second, refresh)
}

func (r *RelayClient) post(ctx context.Context, path string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return r.do(req, out)
}

func (r *RelayClient) do(req *http.Request, out any) error {
	req.Header.Set("Authorization", "Bearer "+r.token)
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var er relayapi.ErrorResponse
		if decodeErr := json.NewDecoder(resp.Body).Decode(&er); decodeErr != nil || er.Kind == "" {
			return &accounts.Error{Kind: kindForStatus(resp.StatusCode), Op: "relay", Err: fmt.Errorf("relay returned %d %s", resp.StatusCode, er.Error)}
		}
		return er.AsError("relay")
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func kindForStatus(status int) accounts.Kind {
	switch {
	case status == http.StatusTooManyRequests:
		return accounts.KindRateLimited
	case status >= 500:
		return accounts.KindTransientNetwork
	}
	return accounts.KindUnknown
}
