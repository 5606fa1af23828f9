package platforms

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/jrsteele09/go-social-connect/accounts"
	"github.com/jrsteele09/go-social-connect/internal/errors"
)

// Adapter is the provider surface the lifecycle manager needs.
type Adapter interface {
	Platform() accounts.Platform
	Identity(ctx context.Context, token accounts.Token) (*Identity, error)
	SubResources(ctx context.Context, token accounts.Token) ([]accounts.SubResource, error)
	Revoke(ctx context.Context, token accounts.Token) error
	// Client returns an HTTP client that authenticates provider calls with token.
	Client(ctx context.Context, token accounts.Token) *http.Client
	Timeout(media bool) time.Duration
}

var _ Adapter = (*SpecAdapter)(nil)

// SpecAdapter drives any provider described by a Spec.
type SpecAdapter struct {
	spec       Spec
	httpClient *http.Client
	now        func() time.Time

	providerLock sync.Mutex
	provider     *oidc.Provider
}

type Option func(*SpecAdapter)

// WithHTTPClient sets the base transport; per-call timeouts still apply through the context.
func WithHTTPClient(c *http.Client) Option {
	return func(a *SpecAdapter) {
		a.httpClient = c
	}
}

func WithNowFunc(now func() time.Time) Option {
	return func(a *SpecAdapter) {
		a.now = now
	}
}

func New(spec Spec, opts ...Option) (*SpecAdapter, error) {
	if !spec.Platform.Valid() {
		return nil, errors.Wrapf(errors.ErrUnknownPlatform, "[platforms New] %q", spec.Platform)
	}
	if spec.IdentityURL == "" && spec.OIDCIssuer == "" {
		return nil, errors.New("[platforms New] identity URL or OIDC issuer is required")
	}
	a := &SpecAdapter{spec: spec, httpClient: http.DefaultClient, now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// NewRegistry builds one adapter per spec.
func NewRegistry(specs map[accounts.Platform]Spec, opts ...Option) (map[accounts.Platform]Adapter, error) {
	registry := make(map[accounts.Platform]Adapter, len(specs))
	for p, spec := range specs {
		a, err := New(spec, opts...)
		if err != nil {
			return nil, err
		}
		registry[p] = a
	}
	return registry, nil
}

func (a *SpecAdapter) Platform() accounts.Platform {
	return a.spec.Platform
}

func (a *SpecAdapter) Timeout(media bool) time.Duration {
	return a.spec.timeout(media)
}

func (a *SpecAdapter) Client(ctx context.Context, token accounts.Token) *http.Client {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, a.httpClient)
	return oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token.Value, TokenType: "Bearer"}))
}

func (a *SpecAdapter) Identity(ctx context.Context, token accounts.Token) (*Identity, error) {
	ctx, cancel := context.WithTimeout(ctx, a.Timeout(false))
	defer cancel()

	if a.spec.OIDCIssuer != "" {
		return a.oidcIdentity(ctx, token)
	}
	body, err := a.get(ctx, token, a.spec.IdentityURL)
	if err != nil {
		return nil, fmt.Errorf("[SpecAdapter Identity] %w", err)
	}
	return a.spec.DecodeIdentity(body)
}

func (a *SpecAdapter) oidcIdentity(ctx context.Context, token accounts.Token) (*Identity, error) {
	provider, err := a.oidcProvider(ctx)
	if err != nil {
		return nil, err
	}
	ctx = oidc.ClientContext(ctx, a.httpClient)
	info, err := provider.UserInfo(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token.Value, TokenType: "Bearer"}))
	if err != nil {
		return nil, fmt.Errorf("[SpecAdapter Identity] userinfo: %w", a.wrapUserInfoErr(err))
	}
	var claims struct {
		Name    string `json:"name"`
		Picture string `json:"picture"`
	}
	_ = info.Claims(&claims)
	name := claims.Name
	if name == "" {
		name = info.Email
	}
	return &Identity{ExternalID: info.Subject, DisplayName: name, ProfileImageURL: claims.Picture}, nil
}

// wrapUserInfoErr turns go-oidc's "401 Unauthorized: body" text into a ProviderError.
func (a *SpecAdapter) wrapUserInfoErr(err error) error {
	msg := err.Error()
	status, rest, ok := strings.Cut(msg, " ")
	if !ok {
		return err
	}
	code := 0
	if _, scanErr := fmt.Sscanf(status, "%d", &code); scanErr != nil || code < 400 {
		return err
	}
	resp := &http.Response{StatusCode: code, Header: http.Header{}}
	if _, body, found := strings.Cut(rest, ": "); found {
		return ParseProviderError(a.spec.Platform, resp, []byte(body))
	}
	return &ProviderError{Platform: a.spec.Platform, StatusCode: code, Message: rest}
}

func (a *SpecAdapter) oidcProvider(ctx context.Context) (*oidc.Provider, error) {
	a.providerLock.Lock()
	defer a.providerLock.Unlock()
	if a.provider != nil {
		return a.provider, nil
	}
	p, err := oidc.NewProvider(oidc.ClientContext(ctx, a.httpClient), a.spec.OIDCIssuer)
	if err != nil {
		return nil, fmt.Errorf("[SpecAdapter oidcProvider] discovery %s: %w", a.spec.OIDCIssuer, err)
	}
	a.provider = p
	return p, nil
}

// SubResources lists child entities. Their tokens never outlive the parent token.
func (a *SpecAdapter) SubResources(ctx context.Context, token accounts.Token) ([]accounts.SubResource, error) {
	if a.spec.SubResourcesURL == "" {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, a.Timeout(false))
	defer cancel()

	body, err := a.get(ctx, token, a.spec.SubResourcesURL)
	if err != nil {
		return nil, fmt.Errorf("[SpecAdapter SubResources] %w", err)
	}
	subs, err := a.spec.DecodeSubResources(body)
	if err != nil {
		return nil, err
	}
	now := a.now()
	for i := range subs {
		if subs[i].Token == nil {
			continue
		}
		subs[i].Token.IssuedAt = now
		if subs[i].Token.ExpiresAt == nil && token.ExpiresAt != nil {
			exp := *token.ExpiresAt
			subs[i].Token.ExpiresAt = &exp
		}
	}
	return subs, nil
}

// Revoke withdraws consent. Providers without a revoke endpoint return nil.
func (a *SpecAdapter) Revoke(ctx context.Context, token accounts.Token) error {
	if a.spec.RevokeURL == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, a.Timeout(false))
	defer cancel()

	var (
		req *http.Request
		err error
	)
	if a.spec.RevokeTokenInForm {
		form := url.Values{"token": {token.Value}}
		req, err = http.NewRequestWithContext(ctx, a.spec.RevokeMethod, a.spec.RevokeURL, strings.NewReader(form.Encode()))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	} else {
		req, err = http.NewRequestWithContext(ctx, a.spec.RevokeMethod, a.spec.RevokeURL, nil)
	}
	if err != nil {
		return fmt.Errorf("[SpecAdapter Revoke] build request: %w", err)
	}

	client := a.httpClient
	if !a.spec.RevokeTokenInForm {
		client = a.Client(ctx, token)
	}
	if _, err := a.send(client, req); err != nil {
		return fmt.Errorf("[SpecAdapter Revoke] %w", err)
	}
	return nil
}

func (a *SpecAdapter) get(ctx context.Context, token accounts.Token, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return a.send(a.Client(ctx, token), req)
}

func (a *SpecAdapter) send(client *http.Client, req *http.Request) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, ParseProviderError(a.spec.Platform, resp, body)
	}
	return body, nil
}
