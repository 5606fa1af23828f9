package config

// ProviderCredentials are the OAuth client credentials the relay holds for one platform.
// They never leave the relay process.
type ProviderCredentials struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// Configured reports whether both halves of the client credentials are present.
func (p ProviderCredentials) Configured() bool {
	return p.ClientID != "" && p.ClientSecret != ""
}

type ProviderConfig interface {
	GetProviderCredentials(platform string) ProviderCredentials
}

type Providers struct {
	FacebookClientID      string `env:"FACEBOOK_CLIENT_ID"`
	FacebookClientSecret  string `env:"FACEBOOK_CLIENT_SECRET"`
	FacebookRedirectURL   string `env:"FACEBOOK_REDIRECT_URL" envDefault:"http://localhost:3000/connect/facebook"`
	InstagramClientID     string `env:"INSTAGRAM_CLIENT_ID"`
	InstagramClientSecret string `env:"INSTAGRAM_CLIENT_SECRET"`
	InstagramRedirectURL  string `env:"INSTAGRAM_REDIRECT_URL" envDefault:"http://localhost:3000/connect/instagram"`
	GoogleClientID        string `env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret    string `env:"GOOGLE_CLIENT_SECRET"`
	GoogleRedirectURL     string `env:"GOOGLE_REDIRECT_URL" envDefault:"http://localhost:3000/connect/youtube"`
}

var _ ProviderConfig = Providers{}

func (p Providers) GetProviderCredentials(platform string) ProviderCredentials {
	switch platform {
	case "facebook":
		return ProviderCredentials{ClientID: p.FacebookClientID, ClientSecret: p.FacebookClientSecret, RedirectURL: p.FacebookRedirectURL}
	case "instagram":
		return ProviderCredentials{ClientID: p.InstagramClientID, ClientSecret: p.InstagramClientSecret, RedirectURL: p.InstagramRedirectURL}
	case "youtube":
		return ProviderCredentials{ClientID: p.GoogleClientID, ClientSecret: p.GoogleClientSecret, RedirectURL: p.GoogleRedirectURL}
	default:
		return ProviderCredentials{}
	}
}
