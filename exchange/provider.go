package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/jrsteele09/go-social-connect/accounts"
	"github.com/jrsteele09/go-social-connect/exchange/authflow"
	"github.com/jrsteele09/go-social-connect/internal/config"
	"github.com/jrsteele09/go-social-connect/internal/errors"
	"github.com/jrsteele09/go-social-connect/internal/metrics"
	"github.com/jrsteele09/go-social-connect/platforms"
	"github.com/jrsteele09/go-social-connect/relayapi"
)

var _ Exchanger = (*ProviderExchanger)(nil)

// YouTubeScopes are requested on every Google consent.
var YouTubeScopes = []string{
	oidc.ScopeOpenID, "profile", "email",
	"https://www.googleapis.com/auth/youtube.readonly",
	"https://www.googleapis.com/auth/yt-analytics.readonly",
}

// Endpoints are the provider token endpoints, overridable for tests.
type Endpoints struct {
	FacebookGraph  string
	InstagramGraph string
	GoogleIssuer   string
	GoogleAuthURL  string
	GoogleTokenURL string
}

var DefaultEndpoints = Endpoints{
	FacebookGraph:  "https://graph.facebook.com/v19.0",
	InstagramGraph: "https://graph.instagram.com",
	GoogleIssuer:   "https://accounts.google.com",
	GoogleAuthURL:  "https://accounts.google.com/o/oauth2/v2/auth",
	GoogleTokenURL: "https://oauth2.googleapis.com/token",
}

// ProviderExchanger talks to the providers directly with the relay's client secrets.
type ProviderExchanger struct {
	creds      config.ProviderConfig
	endpoints  Endpoints
	flows      authflow.Repo
	httpClient *http.Client
	timeout    time.Duration
	now        func() time.Time

	verifierLock sync.Mutex
	verifier     *oidc.IDTokenVerifier
}

type ProviderOption func(*ProviderExchanger)

func WithEndpoints(e Endpoints) ProviderOption {
	return func(p *ProviderExchanger) {
		p.endpoints = e
	}
}

func WithProviderHTTPClient(c *http.Client) ProviderOption {
	return func(p *ProviderExchanger) {
		p.httpClient = c
	}
}

func WithProviderNowFunc(now func() time.Time) ProviderOption {
	return func(p *ProviderExchanger) {
		p.now = now
	}
}

func WithTimeout(d time.Duration) ProviderOption {
	return func(p *ProviderExchanger) {
		p.timeout = d
	}
}

func NewProviderExchanger(creds config.ProviderConfig, flows authflow.Repo, opts ...ProviderOption) (*ProviderExchanger, error) {
	if creds == nil {
		return nil, errors.New("[NewProviderExchanger] ProviderConfig is required")
	}
	if flows == nil {
		return nil, errors.New("[NewProviderExchanger] authflow Repo is required")
	}
	p := &ProviderExchanger{
		creds:      creds,
		endpoints:  DefaultEndpoints,
		flows:      flows,
		httpClient: http.DefaultClient,
		timeout:    platforms.DefaultTimeout,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func (p *ProviderExchanger) credentials(platform accounts.Platform) (config.ProviderCredentials, error) {
	c := p.creds.GetProviderCredentials(string(platform))
	if !c.Configured() {
		return c, errors.Wrapf(errors.ErrUnsupported, "[ProviderExchanger] %s client credentials are not configured", platform)
	}
	return c, nil
}

func (p *ProviderExchanger) googleConfig(creds config.ProviderCredentials, redirectURI string) *oauth2.Config {
	if redirectURI == "" {
		redirectURI = creds.RedirectURL
	}
	return &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		RedirectURL:  redirectURI,
		Scopes:       YouTubeScopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   p.endpoints.GoogleAuthURL,
			TokenURL:  p.endpoints.GoogleTokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// Authorize starts an authorization-code connect and keeps the PKCE verifier server side.
func (p *ProviderExchanger) Authorize(platform accounts.Platform, userID, redirectURI string) (*relayapi.AuthorizeResponse, error) {
	if platform != accounts.PlatformYouTube {
		return nil, errors.Wrapf(errors.ErrUnsupported, "[ProviderExchanger Authorize] %s connects with a client-side login", platform)
	}
	creds, err := p.credentials(platform)
	if err != nil {
		return nil, err
	}
	cfg := p.googleConfig(creds, redirectURI)
	state := uuid.NewString()
	verifier := oauth2.GenerateVerifier()
	nonce := uuid.NewString()
	if err := p.flows.Upsert(state, &authflow.State{
		Platform:     string(platform),
		UserID:       userID,
		CodeVerifier: verifier,
		Nonce:        nonce,
		RedirectURI:  cfg.RedirectURL,
		CreatedAt:    p.now(),
	}); err != nil {
		return nil, fmt.Errorf("[ProviderExchanger Authorize] save state: %w", err)
	}
	authURL := cfg.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
		oidc.Nonce(nonce),
		oauth2.S256ChallengeOption(verifier),
	)
	return &relayapi.AuthorizeResponse{URL: authURL, State: state}, nil
}

func (p *ProviderExchanger) ExchangeShortLived(ctx context.Context, platform accounts.Platform, grant Grant) (*Result, error) {
	start := time.Now()
	defer func() {
		metrics.ExchangeDuration.WithLabelValues(string(platform), "exchange").Observe(time.Since(start).Seconds())
	}()
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	creds, err := p.credentials(platform)
	if err != nil {
		return nil, err
	}
	issued := p.now()

	switch platform {
	case accounts.PlatformFacebook:
		tok, err := p.graphExchange(ctx, platform, p.endpoints.FacebookGraph+"/oauth/access_token", url.Values{
			"grant_type":        {"fb_exchange_token"},
			"client_id":         {creds.ClientID},
			"client_secret":     {creds.ClientSecret},
			"fb_exchange_token": {grant.ShortLivedToken},
		}, issued)
		if err != nil {
			return nil, classifyExchange("ProviderExchanger.ExchangeShortLived", err)
		}
		return &Result{Token: tok}, nil

	case accounts.PlatformInstagram:
		tok, err := p.graphExchange(ctx, platform, p.endpoints.InstagramGraph+"/access_token", url.Values{
			"grant_type":    {"ig_exchange_token"},
			"client_secret": {creds.ClientSecret},
			"access_token":  {grant.ShortLivedToken},
		}, issued)
		if err != nil {
			return nil, classifyExchange("ProviderExchanger.ExchangeShortLived", err)
		}
		return &Result{Token: tok}, nil

	case accounts.PlatformYouTube:
		res, err := p.googleExchange(ctx, creds, grant, issued)
		if err != nil {
			return nil, classifyExchange("ProviderExchanger.ExchangeShortLived", err)
		}
		return res, nil
	}
	return nil, errors.Wrapf(errors.ErrUnknownPlatform, "[ProviderExchanger ExchangeShortLived] %s", platform)
}

func (p *ProviderExchanger) Renew(ctx context.Context, platform accounts.Platform, token accounts.Token) (accounts.Token, error) {
	start := time.Now()
	defer func() {
		metrics.ExchangeDuration.WithLabelValues(string(platform), "renew").Observe(time.Since(start).Seconds())
	}()
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	creds, err := p.credentials(platform)
	if err != nil {
		return accounts.Token{}, err
	}
	issued := p.now()

	var tok accounts.Token
	switch platform {
	case accounts.PlatformFacebook:
		tok, err = p.graphExchange(ctx, platform, p.endpoints.FacebookGraph+"/oauth/access_token", url.Values{
			"grant_type":        {"fb_exchange_token"},
			"client_id":         {creds.ClientID},
			"client_secret":     {creds.ClientSecret},
			"fb_exchange_token": {token.Value},
		}, issued)
	case accounts.PlatformInstagram:
		tok, err = p.graphExchange(ctx, platform, p.endpoints.InstagramGraph+"/refresh_access_token", url.Values{
			"grant_type":   {"ig_refresh_token"},
			"access_token": {token.Value},
		}, issued)
	case accounts.PlatformYouTube:
		tok, err = p.googleRenew(ctx, creds, token, issued)
	default:
		return accounts.Token{}, errors.Wrapf(errors.ErrUnknownPlatform, "[ProviderExchanger Renew] %s", platform)
	}
	if err != nil {
		return accounts.Token{}, classifyRenew("ProviderExchanger.Renew", err)
	}
	return tok, nil
}

// graphExchange calls a Graph-style token endpoint that answers {access_token, expires_in}.
func (p *ProviderExchanger) graphExchange(ctx context.Context, platform accounts.Platform, endpoint string, params url.Values, issued time.Time) (accounts.Token, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return accounts.Token{}, fmt.Errorf("build request: %w", err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return accounts.Token{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return accounts.Token{}, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode >= 300 {
		return accounts.Token{}, platforms.ParseProviderError(platform, resp, body)
	}

	var tr struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &tr); err != nil {
		return accounts.Token{}, fmt.Errorf("decode token response: %w", err)
	}
	if tr.AccessToken == "" {
		return accounts.Token{}, &platforms.ProviderError{Platform: platform, StatusCode: resp.StatusCode, Reason: "invalid_grant", Message: "no access_token in response"}
	}
	return accounts.NewToken(tr.AccessToken, accounts.TokenLongLived, issued, time.Duration(tr.ExpiresIn)*time.Second, ""), nil
}

func (p *ProviderExchanger) googleExchange(ctx context.Context, creds config.ProviderCredentials, grant Grant, issued time.Time) (*Result, error) {
	if grant.Code == "" {
		return nil, &oauth2.RetrieveError{ErrorCode: "invalid_grant", ErrorDescription: "authorization code is required"}
	}
	flow, err := p.flows.Take(grant.State)
	if err != nil {
		return nil, &oauth2.RetrieveError{ErrorCode: "invalid_grant", ErrorDescription: err.Error()}
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	cfg := p.googleConfig(creds, flow.RedirectURI)
	ot, err := cfg.Exchange(ctx, grant.Code, oauth2.VerifierOption(flow.CodeVerifier))
	if err != nil {
		return nil, err
	}

	res := &Result{Token: fromOAuth2(ot, issued, "")}
	if rawIDToken, ok := ot.Extra("id_token").(string); ok {
		verifier, err := p.idTokenVerifier(ctx, creds.ClientID)
		if err != nil {
			return nil, err
		}
		idToken, err := verifier.Verify(ctx, rawIDToken)
		if err != nil {
			return nil, &oauth2.RetrieveError{ErrorCode: "invalid_grant", ErrorDescription: "id token: " + err.Error()}
		}
		if idToken.Nonce != flow.Nonce {
			return nil, &oauth2.RetrieveError{ErrorCode: "invalid_grant", ErrorDescription: "id token nonce mismatch"}
		}
		res.Subject = idToken.Subject
	}
	return res, nil
}

func (p *ProviderExchanger) googleRenew(ctx context.Context, creds config.ProviderCredentials, token accounts.Token, issued time.Time) (accounts.Token, error) {
	if token.RefreshToken == "" {
		return accounts.Token{}, &oauth2.RetrieveError{ErrorCode: "invalid_grant", ErrorDescription: "no refresh token"}
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	// An expired copy forces the token source to hit the token endpoint.
	stale := &oauth2.Token{AccessToken: token.Value, RefreshToken: token.RefreshToken, Expiry: issued.Add(-time.Minute)}
	ot, err := p.googleConfig(creds, "").TokenSource(ctx, stale).Token()
	if err != nil {
		return accounts.Token{}, err
	}
	return fromOAuth2(ot, issued, token.RefreshToken), nil
}

func (p *ProviderExchanger) idTokenVerifier(ctx context.Context, clientID string) (*oidc.IDTokenVerifier, error) {
	p.verifierLock.Lock()
	defer p.verifierLock.Unlock()
	if p.verifier != nil {
		return p.verifier, nil
	}
	provider, err := oidc.NewProvider(oidc.ClientContext(ctx, p.httpClient), p.endpoints.GoogleIssuer)
	if err != nil {
		return nil, fmt.Errorf("[ProviderExchanger idTokenVerifier] discovery: %w", err)
	}
	p.verifier = provider.Verifier(&oidc.Config{ClientID: clientID, Now: p.now})
	return p.verifier, nil
}

func fromOAuth2(ot *oauth2.Token, issued time.Time, previousRefresh string) accounts.Token {
	refresh := ot.RefreshToken
	if refresh == "" {
		refresh = previousRefresh
	}
	return accounts.NewToken(ot.AccessToken, accounts.TokenLongLived, issued, lifetimeOf(ot), refresh)
}

// lifetimeOf reads expires_in from the raw response; Expiry is stamped with the wall clock.
func lifetimeOf(ot *oauth2.Token) time.Duration {
	switch v := ot.Extra("expires_in").(type) {
	case float64:
		return time.Duration(v) * time.Second
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return time.Duration(n) * time.Second
		}
	case string:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	if !ot.Expiry.IsZero() {
		return time.Until(ot.Expiry)
	}
	return 0
}

// ResponseFromToken renders a token on the relay wire.
func ResponseFromToken(tok accounts.Token, subject string, now time.Time) relayapi.TokenResponse {
	resp := relayapi.TokenResponse{LongLivedToken: tok.Value, RefreshToken: tok.RefreshToken, Subject: subject}
	if tok.ExpiresAt != nil {
		resp.ExpiresIn = int64(tok.ExpiresAt.Sub(now).Round(time.Second) / time.Second)
	}
	return resp
}

// IsConfigured reports whether the relay can exchange for the platform.
func (p *ProviderExchanger) IsConfigured(platform accounts.Platform) bool {
	return p.creds.GetProviderCredentials(strings.ToLower(string(platform))).Configured()
}
