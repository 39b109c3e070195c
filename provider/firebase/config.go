package firebase

import (
	"net/http"
	"strings"
	"time"
)

const (
	DefaultIdentityToolkitURL = "https://identitytoolkit.googleapis.com/v1"
	DefaultSecureTokenURL     = "https://securetoken.googleapis.com/v1"
	GoogleJWKSURL             = "https://www.googleapis.com/service_accounts/v1/jwk/securetoken@system.gserviceaccount.com"

	ProviderGoogle = "google.com"
	ProviderName   = "firebase"

	// tokens are refreshed this long before they expire
	refreshSkew = 5 * time.Minute
)

// Config holds the web app credentials of the Firebase project.
type Config struct {
	APIKey             string
	ProjectID          string
	ContinueURL        string
	IdentityToolkitURL string
	SecureTokenURL     string
	HTTPClient         *http.Client
}

func (c Config) withDefaults() Config {
	if c.IdentityToolkitURL == "" {
		c.IdentityToolkitURL = DefaultIdentityToolkitURL
	}
	if c.SecureTokenURL == "" {
		c.SecureTokenURL = DefaultSecureTokenURL
	}
	c.IdentityToolkitURL = strings.TrimRight(c.IdentityToolkitURL, "/")
	c.SecureTokenURL = strings.TrimRight(c.SecureTokenURL, "/")
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	return c
}
