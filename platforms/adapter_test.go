package platforms_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jrsteele09/go-social-connect/accounts"
	"github.com/jrsteele09/go-social-connect/platforms"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func userToken() accounts.Token {
	return accounts.NewToken("user-token", accounts.TokenLongLived, t0, 60*24*time.Hour, "")
}

func newFacebookServer(t *testing.T) (*httptest.Server, *bool) {
	t.Helper()
	revoked := false
	mux := http.NewServeMux()
	mux.HandleFunc("GET /me", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer user-token" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":{"message":"Error validating access token","type":"OAuthException","code":190,"error_subcode":463}}`))
			return
		}
		_, _ = w.Write([]byte(`{"id":"fb-1","name":"Jo Blogs","picture":{"data":{"url":"https://img/1.png"}}}`))
	})
	mux.HandleFunc("GET /me/accounts", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"id":"page-1","name":"Shop","access_token":"page-token","tasks":["ANALYZE","CREATE_CONTENT"]}]}`))
	})
	mux.HandleFunc("DELETE /me/permissions", func(w http.ResponseWriter, r *http.Request) {
		revoked = true
		_, _ = w.Write([]byte(`{"success":true}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &revoked
}

func TestFacebookAdapter(t *testing.T) {
	srv, revoked := newFacebookServer(t)
	a, err := platforms.New(platforms.Facebook(srv.URL), platforms.WithNowFunc(func() time.Time { return t0 }))
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("identity", func(t *testing.T) {
		id, err := a.Identity(ctx, userToken())
		require.NoError(t, err)
		require.Equal(t, "fb-1", id.ExternalID)
		require.Equal(t, "Jo Blogs", id.DisplayName)
		require.Equal(t, "https://img/1.png", id.ProfileImageURL)
	})

	t.Run("pages keep their own tokens", func(t *testing.T) {
		subs, err := a.SubResources(ctx, userToken())
		require.NoError(t, err)
		require.Len(t, subs, 1)
		require.Equal(t, accounts.SubResourcePage, subs[0].Kind)
		require.Equal(t, "page-token", subs[0].Token.Value)
		require.Equal(t, *userToken().ExpiresAt, *subs[0].Token.ExpiresAt)
		require.Equal(t, []string{"ANALYZE", "CREATE_CONTENT"}, subs[0].Permissions)
	})

	t.Run("expired token yields provider error", func(t *testing.T) {
		_, err := a.Identity(ctx, accounts.Token{Value: "bad"})
		var pe *platforms.ProviderError
		require.ErrorAs(t, err, &pe)
		require.Equal(t, 190, pe.Code)
		require.Equal(t, 463, pe.Subcode)
		require.Equal(t, http.StatusUnauthorized, pe.StatusCode)
	})

	t.Run("revoke", func(t *testing.T) {
		require.NoError(t, a.Revoke(ctx, userToken()))
		require.True(t, *revoked)
	})
}

func TestInstagramAdapter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"app-scoped","user_id":"ig-1","username":"jo.blogs"}`))
	}))
	defer srv.Close()

	a, err := platforms.New(platforms.Instagram(srv.URL))
	require.NoError(t, err)

	id, err := a.Identity(context.Background(), userToken())
	require.NoError(t, err)
	require.Equal(t, "ig-1", id.ExternalID)
	require.Equal(t, "jo.blogs", id.DisplayName)

	subs, err := a.SubResources(context.Background(), userToken())
	require.NoError(t, err)
	require.Empty(t, subs)
	require.NoError(t, a.Revoke(context.Background(), userToken()))
}

func TestYouTubeAdapter(t *testing.T) {
	var revokedToken string
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("GET /.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"issuer":                 srv.URL,
			"authorization_endpoint": srv.URL + "/auth",
			"token_endpoint":         srv.URL + "/token",
			"jwks_uri":               srv.URL + "/certs",
			"userinfo_endpoint":      srv.URL + "/userinfo",
		})
	})
	mux.HandleFunc("GET /userinfo", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer user-token" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"invalid_token","error_description":"Invalid Credentials"}`))
			return
		}
		_, _ = w.Write([]byte(`{"sub":"google-1","name":"Jo Blogs","picture":"https://img/g.png","email":"jo@example.com"}`))
	})
	mux.HandleFunc("GET /youtube/v3/channels", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "true", r.URL.Query().Get("mine"))
		_, _ = w.Write([]byte(`{"items":[{"id":"UC123","snippet":{"title":"Jo's Channel"}}]}`))
	})
	mux.HandleFunc("POST /revoke", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		revokedToken = r.PostForm.Get("token")
	})

	a, err := platforms.New(platforms.YouTube(srv.URL+"/youtube/v3", srv.URL, srv.URL+"/revoke"))
	require.NoError(t, err)
	ctx := context.Background()

	id, err := a.Identity(ctx, userToken())
	require.NoError(t, err)
	require.Equal(t, "google-1", id.ExternalID)
	require.Equal(t, "Jo Blogs", id.DisplayName)

	_, err = a.Identity(ctx, accounts.Token{Value: "bad"})
	var pe *platforms.ProviderError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, http.StatusUnauthorized, pe.StatusCode)
	require.Equal(t, "invalid_token", pe.Reason)

	subs, err := a.SubResources(ctx, userToken())
	require.NoError(t, err)
	require.Len(t, subs, 1)
	require.Equal(t, accounts.SubResourceChannel, subs[0].Kind)
	require.Nil(t, subs[0].Token)

	require.NoError(t, a.Revoke(ctx, userToken()))
	require.Equal(t, "user-token", revokedToken)
}

func TestParseProviderError(t *testing.T) {
	resp := &http.Response{StatusCode: http.StatusForbidden, Header: http.Header{"Retry-After": {"120"}}}
	pe := platforms.ParseProviderError(accounts.PlatformYouTube, resp,
		[]byte(`{"error":{"code":403,"message":"Quota","errors":[{"reason":"rateLimitExceeded"}]}}`))
	require.Equal(t, "rateLimitExceeded", pe.Reason)
	require.Equal(t, 2*time.Minute, pe.RetryAfter)
	require.Zero(t, pe.Code)

	pe = platforms.ParseProviderError(accounts.PlatformFacebook, &http.Response{StatusCode: 500, Header: http.Header{}}, []byte("upstream broke"))
	require.Equal(t, "upstream broke", pe.Message)
}

func TestNew_Validates(t *testing.T) {
	_, err := platforms.New(platforms.Spec{Platform: "myspace", IdentityURL: "http://x"})
	require.Error(t, err)
	_, err = platforms.New(platforms.Spec{Platform: accounts.PlatformFacebook})
	require.Error(t, err)
}
