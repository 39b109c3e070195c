package firebase

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// REST operations, also used as ProviderError.Operation.
const (
	opSignInWithPassword  = "accounts:signInWithPassword"
	opSendOobCode         = "accounts:sendOobCode"
	opSignInWithEmailLink = "accounts:signInWithEmailLink"
	opCreateAuthURI       = "accounts:createAuthUri"
	opSignInWithIdp       = "accounts:signInWithIdp"
	opLookup              = "accounts:lookup"
	opRefresh             = "token"
)

type signInResponse struct {
	IDToken      string `json:"idToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    string `json:"expiresIn"`
	LocalID      string `json:"localId"`
	Email        string `json:"email"`
	DisplayName  string `json:"displayName"`
	PhotoURL     string `json:"photoUrl"`
	ProviderID   string `json:"providerId"`
}

func (r signInResponse) expiresIn() int {
	n, _ := strconv.Atoi(r.ExpiresIn)
	return n
}

type createAuthURIResponse struct {
	AuthURI    string `json:"authUri"`
	SessionID  string `json:"sessionId"`
	ProviderID string `json:"providerId"`
}

type lookupResponse struct {
	Users []struct {
		LocalID     string `json:"localId"`
		Email       string `json:"email"`
		DisplayName string `json:"displayName"`
		PhotoURL    string `json:"photoUrl"`
		Disabled    bool   `json:"disabled"`
	} `json:"users"`
}

type refreshResponse struct {
	IDToken      string `json:"id_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    string `json:"expires_in"`
	UserID       string `json:"user_id"`
}

type restClient struct {
	cfg Config
}

func (c *restClient) accounts(ctx context.Context, op string, body, out any) error {
	endpoint := c.cfg.IdentityToolkitURL + "/" + op + "?key=" + url.QueryEscape(c.cfg.APIKey)
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(op, req, out)
}

func (c *restClient) refresh(ctx context.Context, refreshToken string) (refreshResponse, error) {
	var out refreshResponse
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)

	endpoint := c.cfg.SecureTokenURL + "/" + opRefresh + "?key=" + url.QueryEscape(c.cfg.APIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return out, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	err = c.do(opRefresh, req, &out)
	return out, err
}

func (c *restClient) do(op string, req *http.Request, out any) error {
	res, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return transportError(op, err)
	}
	defer res.Body.Close()

	if res.StatusCode >= http.StatusBadRequest {
		return decodeError(op, res)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, res.Body)
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return transportError(op, err)
	}
	return nil
}
