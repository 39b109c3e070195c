package auth

import (
	"context"
	"net/http"
)

// TokenSource returns a fresh bearer token. IdentityClient.IDToken fits.
type TokenSource interface {
	IDToken(ctx context.Context) (string, error)
}

// BearerTransport attaches a freshly fetched token to every outgoing
// request. Tokens are not cached here; the provider refreshes them.
type BearerTransport struct {
	Source TokenSource
	Base   http.RoundTripper
	// Skip, when set, leaves matching requests anonymous.
	Skip func(*http.Request) bool
}

// RoundTrip implements http.RoundTripper.
func (t *BearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	if t.Source == nil || (t.Skip != nil && t.Skip(req)) {
		return base.RoundTrip(req)
	}

	token, err := t.Source.IDToken(req.Context())
	if err != nil {
		return nil, err
	}
	if token == "" {
		return base.RoundTrip(req)
	}

	out := req.Clone(req.Context())
	out.Header.Set("Authorization", "Bearer "+token)
	return base.RoundTrip(out)
}

// NewAPIClient returns an http.Client that authenticates every request.
func NewAPIClient(source TokenSource, base http.RoundTripper) *http.Client {
	return &http.Client{Transport: &BearerTransport{Source: source, Base: base}}
}
