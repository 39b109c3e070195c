package auth

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Settings is the process configuration, read from the environment.
type Settings struct {
	Addr            string        `env:"STUDIO_ADDR" envDefault:":8080"`
	PublicURL       string        `env:"STUDIO_PUBLIC_URL" envDefault:"http://localhost:8080"`
	RealtimeURL     string        `env:"STUDIO_REALTIME_URL" envDefault:"ws://localhost:4000/socket"`
	RealtimeOrigin  string        `env:"STUDIO_REALTIME_ORIGIN" envDefault:"http://localhost:8080"`
	RealtimePolling string        `env:"STUDIO_REALTIME_POLLING_URL"`
	APIBaseURL      string        `env:"STUDIO_API_URL" envDefault:"http://localhost:4000/api"`
	ProfileBackend  string        `env:"STUDIO_PROFILE_BACKEND" envDefault:"sqlite"`
	SQLiteDSN       string        `env:"STUDIO_SQLITE_DSN" envDefault:"file:studio.db?cache=shared"`
	RedisURL        string        `env:"STUDIO_REDIS_URL"`
	LinkClaimTTL    time.Duration `env:"STUDIO_LINK_CLAIM_TTL" envDefault:"10m"`
	LoginPath       string        `env:"STUDIO_LOGIN_PATH" envDefault:"/login"`
	HomePath        string        `env:"STUDIO_HOME_PATH" envDefault:"/"`

	FirebaseAPIKey      string `env:"FIREBASE_API_KEY"`
	FirebaseProjectID   string `env:"FIREBASE_PROJECT_ID"`
	FirebaseCredentials string `env:"FIREBASE_CREDENTIALS_FILE"`
	FirebaseContinueURL string `env:"FIREBASE_LINK_CONTINUE_URL" envDefault:"http://localhost:8080/login/link/complete"`
	FirebaseVerifyJWKS  bool   `env:"FIREBASE_VERIFY_TOKENS" envDefault:"false"`
	ProfileCollection   string `env:"FIREBASE_PROFILE_COLLECTION" envDefault:"users"`
}

// LoadSettings reads Settings from the environment.
func LoadSettings() (Settings, error) {
	var s Settings
	if err := env.Parse(&s); err != nil {
		return s, fmt.Errorf("parse env: %w", err)
	}
	return s, nil
}

func (s Settings) GetRealtimeURL() string { return s.RealtimeURL }

func (s Settings) GetRealtimeOrigin() string { return s.RealtimeOrigin }

func (s Settings) GetRealtimePollingURL() string { return s.RealtimePolling }

func (s Settings) GetLinkClaimTTL() time.Duration { return s.LinkClaimTTL }

// GuardPaths returns the configured login and home paths.
func (s Settings) GuardPaths() GuardPaths {
	return GuardPaths{Login: s.LoginPath, Home: s.HomePath}
}
