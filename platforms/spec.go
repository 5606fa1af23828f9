// Package platforms describes each social provider as data and drives them through one adapter.
package platforms

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jrsteele09/go-social-connect/accounts"
)

const (
	DefaultTimeout      = 15 * time.Second
	DefaultMediaTimeout = 2 * time.Minute
)

// Identity is the provider's view of the signed-in user.
type Identity struct {
	ExternalID      string
	DisplayName     string
	ProfileImageURL string
}

// Spec is everything that differs between providers.
type Spec struct {
	Platform accounts.Platform

	// IdentityURL returns the signed-in user. Empty when identity comes from OIDC userinfo.
	IdentityURL    string
	DecodeIdentity func(body []byte) (*Identity, error)

	// OIDCIssuer switches identity resolution to the issuer's userinfo endpoint.
	OIDCIssuer string

	// SubResourcesURL lists child entities (pages, channels). Empty when the platform has none.
	SubResourcesURL    string
	DecodeSubResources func(body []byte) ([]accounts.SubResource, error)

	// RevokeURL and RevokeMethod withdraw consent. Empty when the provider has no revoke endpoint.
	RevokeURL    string
	RevokeMethod string
	// RevokeTokenInForm sends the token as a form field instead of a bearer header.
	RevokeTokenInForm bool

	Timeout      time.Duration
	MediaTimeout time.Duration
}

func (s Spec) timeout(media bool) time.Duration {
	if media {
		if s.MediaTimeout > 0 {
			return s.MediaTimeout
		}
		return DefaultMediaTimeout
	}
	if s.Timeout > 0 {
		return s.Timeout
	}
	return DefaultTimeout
}

// BaseURLs overrides provider hosts, mainly for tests.
type BaseURLs struct {
	FacebookGraph  string
	InstagramGraph string
	YouTubeData    string
	GoogleIssuer   string
	GoogleRevoke   string
}

var DefaultBaseURLs = BaseURLs{
	FacebookGraph:  "https://graph.facebook.com/v19.0",
	InstagramGraph: "https://graph.instagram.com",
	YouTubeData:    "https://www.googleapis.com/youtube/v3",
	GoogleIssuer:   "https://accounts.google.com",
	GoogleRevoke:   "https://oauth2.googleapis.com/revoke",
}

// Specs returns the provider specs for all supported platforms.
func Specs(urls BaseURLs) map[accounts.Platform]Spec {
	return map[accounts.Platform]Spec{
		accounts.PlatformFacebook:  Facebook(urls.FacebookGraph),
		accounts.PlatformInstagram: Instagram(urls.InstagramGraph),
		accounts.PlatformYouTube:   YouTube(urls.YouTubeData, urls.GoogleIssuer, urls.GoogleRevoke),
	}
}

func Facebook(graphURL string) Spec {
	graphURL = strings.TrimRight(graphURL, "/")
	return Spec{
		Platform:           accounts.PlatformFacebook,
		IdentityURL:        graphURL + "/me?fields=id,name,picture",
		DecodeIdentity:     decodeFacebookIdentity,
		SubResourcesURL:    graphURL + "/me/accounts?fields=id,name,access_token,tasks",
		DecodeSubResources: decodeFacebookPages,
		RevokeURL:          graphURL + "/me/permissions",
		RevokeMethod:       "DELETE",
		Timeout:            DefaultTimeout,
		MediaTimeout:       DefaultMediaTimeout,
	}
}

func Instagram(graphURL string) Spec {
	graphURL = strings.TrimRight(graphURL, "/")
	return Spec{
		Platform:       accounts.PlatformInstagram,
		IdentityURL:    graphURL + "/me?fields=user_id,username,profile_picture_url",
		DecodeIdentity: decodeInstagramIdentity,
		Timeout:        DefaultTimeout,
		MediaTimeout:   DefaultMediaTimeout,
	}
}

func YouTube(dataURL, issuer, revokeURL string) Spec {
	dataURL = strings.TrimRight(dataURL, "/")
	return Spec{
		Platform:           accounts.PlatformYouTube,
		OIDCIssuer:         issuer,
		SubResourcesURL:    dataURL + "/channels?part=snippet&mine=true",
		DecodeSubResources: decodeYouTubeChannels,
		RevokeURL:          revokeURL,
		RevokeMethod:       "POST",
		RevokeTokenInForm:  true,
		Timeout:            DefaultTimeout,
		MediaTimeout:       5 * time.Minute,
	}
}

func decodeFacebookIdentity(body []byte) (*Identity, error) {
	var me struct {
		ID      string `json:"id"`
		Name    string `json:"name"`
		Picture struct {
			Data struct {
				URL string `json:"url"`
			} `json:"data"`
		} `json:"picture"`
	}
	if err := json.Unmarshal(body, &me); err != nil {
		return nil, fmt.Errorf("[facebook identity] decode: %w", err)
	}
	if me.ID == "" {
		return nil, fmt.Errorf("[facebook identity] response has no id")
	}
	return &Identity{ExternalID: me.ID, DisplayName: me.Name, ProfileImageURL: me.Picture.Data.URL}, nil
}

// decodeFacebookPages keeps each page's own access token; page tasks become its permissions.
func decodeFacebookPages(body []byte) ([]accounts.SubResource, error) {
	var pages struct {
		Data []struct {
			ID          string   `json:"id"`
			Name        string   `json:"name"`
			AccessToken string   `json:"access_token"`
			Tasks       []string `json:"tasks"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &pages); err != nil {
		return nil, fmt.Errorf("[facebook pages] decode: %w", err)
	}
	subs := make([]accounts.SubResource, 0, len(pages.Data))
	for _, p := range pages.Data {
		s := accounts.SubResource{ID: p.ID, Kind: accounts.SubResourcePage, Name: p.Name, Permissions: p.Tasks}
		if p.AccessToken != "" {
			s.Token = &accounts.Token{Value: p.AccessToken, Kind: accounts.TokenLongLived}
		}
		subs = append(subs, s)
	}
	return subs, nil
}

func decodeInstagramIdentity(body []byte) (*Identity, error) {
	var me struct {
		ID                string `json:"id"`
		UserID            string `json:"user_id"`
		Username          string `json:"username"`
		ProfilePictureURL string `json:"profile_picture_url"`
	}
	if err := json.Unmarshal(body, &me); err != nil {
		return nil, fmt.Errorf("[instagram identity] decode: %w", err)
	}
	id := me.UserID
	if id == "" {
		id = me.ID
	}
	if id == "" {
		return nil, fmt.Errorf("[instagram identity] response has no id")
	}
	return &Identity{ExternalID: id, DisplayName: me.Username, ProfileImageURL: me.ProfilePictureURL}, nil
}

// decodeYouTubeChannels returns channels without tokens; channels act through the owner's Google token.
func decodeYouTubeChannels(body []byte) ([]accounts.SubResource, error) {
	var channels struct {
		Items []struct {
			ID      string `json:"id"`
			Snippet struct {
				Title string `json:"title"`
			} `json:"snippet"`
		} `json:"items"`
	}
	if err := json.Unmarshal(body, &channels); err != nil {
		return nil, fmt.Errorf("[youtube channels] decode: %w", err)
	}
	subs := make([]accounts.SubResource, 0, len(channels.Items))
	for _, c := range channels.Items {
		subs = append(subs, accounts.SubResource{ID: c.ID, Kind: accounts.SubResourceChannel, Name: c.Snippet.Title})
	}
	return subs, nil
}
