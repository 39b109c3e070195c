package firebase_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	auth "github.com/goliatone/go-studio-auth"
	"github.com/goliatone/go-studio-auth/provider/firebase"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	apiKey  = "test-key"
	project = "studio-test"
)

var signingKey = []byte("firebase-test")

type quietLogger struct{}

func (quietLogger) Trace(string, ...any)                      {}
func (quietLogger) Debug(string, ...any)                      {}
func (quietLogger) Info(string, ...any)                       {}
func (quietLogger) Warn(string, ...any)                       {}
func (quietLogger) Error(string, ...any)                      {}
func (quietLogger) Fatal(string, ...any)                      {}
func (l quietLogger) WithContext(context.Context) auth.Logger { return l }

func idToken(t *testing.T, uid string, exp time.Time, extra map[string]any) string {
	t.Helper()
	claims := jwt.MapClaims{
		"user_id":  uid,
		"sub":      uid,
		"email":    uid + "@studio.test",
		"name":     "User " + uid,
		"exp":      exp.Unix(),
		"firebase": map[string]any{"sign_in_provider": "password"},
	}
	for k, v := range extra {
		claims[k] = v
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(signingKey)
	require.NoError(t, err)
	return raw
}

// fakeToolkit emulates the REST endpoints the provider calls.
type fakeToolkit struct {
	t   *testing.T
	now time.Time

	mu       sync.Mutex
	calls    []string
	bodies   map[string]map[string]any
	disabled bool
}

func (f *fakeToolkit) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("key") != apiKey {
		writeError(w, http.StatusBadRequest, "API_KEY_INVALID")
		return
	}
	op := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
	body := map[string]any{}
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		_ = json.NewDecoder(r.Body).Decode(&body)
	} else {
		_ = r.ParseForm()
		for k := range r.PostForm {
			body[k] = r.PostForm.Get(k)
		}
	}
	f.mu.Lock()
	f.calls = append(f.calls, op)
	f.bodies[op] = body
	disabled := f.disabled
	f.mu.Unlock()

	exp := f.now.Add(time.Hour)
	switch op {
	case "accounts:signInWithPassword":
		switch {
		case body["email"] == "off@studio.test":
			writeError(w, http.StatusBadRequest, "USER_DISABLED")
		case body["email"] == "busy@studio.test":
			writeError(w, http.StatusBadRequest, "TOO_MANY_ATTEMPTS_TRY_LATER : Access disabled for now")
		case body["password"] != "secret":
			writeError(w, http.StatusBadRequest, "INVALID_LOGIN_CREDENTIALS")
		default:
			writeJSON(w, map[string]any{
				"idToken":      idToken(f.t, "uid-ana", exp, map[string]any{"role": "teacher"}),
				"refreshToken": "refresh-1",
				"expiresIn":    "3600",
				"localId":      "uid-ana",
				"email":        body["email"],
				"displayName":  "Ana",
			})
		}
	case "accounts:sendOobCode":
		writeJSON(w, map[string]any{"email": body["email"]})
	case "accounts:signInWithEmailLink":
		if body["oobCode"] != "good" {
			writeError(w, http.StatusBadRequest, "INVALID_OOB_CODE")
			return
		}
		writeJSON(w, map[string]any{
			"idToken":      idToken(f.t, "uid-link", exp, nil),
			"refreshToken": "refresh-link",
			"expiresIn":    "3600",
			"localId":      "uid-link",
			"email":        body["email"],
		})
	case "accounts:createAuthUri":
		writeJSON(w, map[string]any{"authUri": "https://accounts.google.test/o/oauth2?state=x", "sessionId": "sess-1"})
	case "accounts:signInWithIdp":
		if body["sessionId"] != "sess-1" {
			writeError(w, http.StatusBadRequest, "INVALID_IDP_RESPONSE")
			return
		}
		writeJSON(w, map[string]any{
			"idToken":      idToken(f.t, "uid-g", exp, nil),
			"refreshToken": "refresh-g",
			"expiresIn":    "3600",
			"localId":      "uid-g",
			"email":        "g@studio.test",
			"photoUrl":     "https://img.test/g.png",
			"providerId":   "google.com",
		})
	case "accounts:lookup":
		writeJSON(w, map[string]any{"users": []map[string]any{{
			"localId": "uid-ana", "email": "ana@studio.test", "displayName": "Ana María", "disabled": disabled,
		}}})
	case "token":
		writeJSON(w, map[string]any{
			"id_token":      idToken(f.t, "uid-ana", f.now.Add(3*time.Hour), map[string]any{"role": "admin"}),
			"refresh_token": "refresh-2",
			"expires_in":    "3600",
			"user_id":       "uid-ana",
		})
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND")
	}
}

func (f *fakeToolkit) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == op {
			n++
		}
	}
	return n
}

func (f *fakeToolkit) body(op string) map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bodies[op]
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"code": status, "message": message}})
}

type fixture struct {
	toolkit *fakeToolkit
	server  *httptest.Server
	clock   *clock
	store   *firebase.MemoryPersistence
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	now := time.Now().Truncate(time.Second)
	f := &fixture{
		toolkit: &fakeToolkit{t: t, now: now, bodies: map[string]map[string]any{}},
		clock:   &clock{now: now},
		store:   firebase.NewMemoryPersistence(),
	}
	f.server = httptest.NewServer(f.toolkit)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fixture) provider(t *testing.T, opts ...firebase.Option) *firebase.Provider {
	t.Helper()
	base := []firebase.Option{
		firebase.WithLogger(quietLogger{}),
		firebase.WithClock(f.clock.Now),
		firebase.WithPersistence(f.store),
	}
	p, err := firebase.New(firebase.Config{
		APIKey:             apiKey,
		ProjectID:          project,
		ContinueURL:        "https://studio.test/login",
		IdentityToolkitURL: f.server.URL + "/v1",
		SecureTokenURL:     f.server.URL + "/v1",
	}, append(base, opts...)...)
	require.NoError(t, err)
	return p
}

func TestNewRequiresAPIKey(t *testing.T) {
	_, err := firebase.New(firebase.Config{})
	assert.Error(t, err)
}

func TestSignInWithPasswordEstablishesSession(t *testing.T) {
	f := newFixture(t)
	p := f.provider(t)

	tok, err := p.SignInWithPassword(context.Background(), "ana@studio.test", "secret")
	require.NoError(t, err)
	assert.Equal(t, "uid-ana", tok.UID)
	assert.Equal(t, "Ana", tok.DisplayName)
	assert.Equal(t, "password", tok.ProviderID)
	assert.Equal(t, auth.RoleTeacher, tok.ClaimedRole())

	raw, err := p.IDToken(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, raw)
	assert.Equal(t, 0, f.toolkit.count("token"), "a fresh token is not refreshed")

	saved, err := f.store.Load(context.Background())
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.Equal(t, "refresh-1", saved.RefreshToken)
}

func TestSignInErrorsTranslateToDomainCodes(t *testing.T) {
	f := newFixture(t)
	p := f.provider(t)
	ctx := context.Background()

	cases := map[string]auth.ErrorCode{
		"ana@studio.test":  auth.CodeInvalidCredential,
		"off@studio.test":  auth.CodeAccountDisabled,
		"busy@studio.test": auth.CodeTooManyRequests,
	}
	for email, want := range cases {
		_, err := p.SignInWithPassword(ctx, email, "nope")
		require.Error(t, err, email)
		assert.Equal(t, want, auth.CodeOf(auth.MapProviderError(err)), email)
	}

	_, err := p.SignInWithPassword(ctx, "busy@studio.test", "nope")
	var perr *auth.ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "Access disabled for now", perr.Message)
	assert.Equal(t, http.StatusBadRequest, perr.Status)
}

func TestNetworkFailureIsReported(t *testing.T) {
	f := newFixture(t)
	p := f.provider(t)
	f.server.Close()

	_, err := p.SignInWithPassword(context.Background(), "ana@studio.test", "secret")
	require.Error(t, err)
	assert.Equal(t, auth.CodeNetworkError, auth.CodeOf(auth.MapProviderError(err)))
}

func TestEmailLinkFlow(t *testing.T) {
	f := newFixture(t)
	p := f.provider(t)
	ctx := context.Background()

	require.NoError(t, p.SendSignInLink(ctx, "lu@studio.test"))
	body := f.toolkit.body("accounts:sendOobCode")
	assert.Equal(t, "EMAIL_SIGNIN", body["requestType"])
	assert.Equal(t, "https://studio.test/login", body["continueUrl"])

	good := "https://studio.test/login?apiKey=x&mode=signIn&oobCode=good"
	wrapped := "https://studio.page.link/?link=" + "https%3A%2F%2Fstudio.test%2Flogin%3Fmode%3DsignIn%26oobCode%3Dgood"
	assert.True(t, p.IsSignInLink(good))
	assert.True(t, p.IsSignInLink(wrapped))
	assert.False(t, p.IsSignInLink("https://studio.test/login?mode=resetPassword&oobCode=x"))
	assert.False(t, p.IsSignInLink("::not a url"))

	tok, err := p.SignInWithLink(ctx, "lu@studio.test", good)
	require.NoError(t, err)
	assert.Equal(t, "uid-link", tok.UID)

	_, err = p.SignInWithLink(ctx, "lu@studio.test", "https://studio.test/login?mode=signIn&oobCode=used")
	assert.Equal(t, auth.CodeLinkConsumed, auth.CodeOf(auth.MapProviderError(err)))
}

func TestPopupSignIn(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.provider(t).SignInWithPopup(ctx, "")
	assert.Equal(t, auth.CodePopupBlocked, auth.CodeOf(auth.MapProviderError(err)))

	closed := f.provider(t, firebase.WithPopupOpener(firebase.PopupFunc(func(context.Context, string) (string, error) {
		return "", firebase.ErrPopupClosed
	})))
	_, err = closed.SignInWithPopup(ctx, "")
	assert.Equal(t, auth.CodePopupClosed, auth.CodeOf(auth.MapProviderError(err)))

	var opened string
	p := f.provider(t, firebase.WithPopupOpener(firebase.PopupFunc(func(_ context.Context, uri string) (string, error) {
		opened = uri
		return "https://studio.test/__/auth/handler?code=abc&state=x", nil
	})))
	tok, err := p.SignInWithPopup(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "https://accounts.google.test/o/oauth2?state=x", opened)
	assert.Equal(t, "uid-g", tok.UID)
	assert.Equal(t, "google.com", tok.ProviderID)
	assert.Equal(t, "google.com", f.toolkit.body("accounts:createAuthUri")["providerId"])
}

func TestRedirectSignInCompletesThroughAuthState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var target string
	p := f.provider(t, firebase.WithRedirector(firebase.RedirectFunc(func(_ context.Context, uri string) error {
		target = uri
		return nil
	})))

	_, err := p.CompleteRedirect(ctx, "https://studio.test/__/auth/handler")
	require.Error(t, err)

	identities := make(chan *auth.IdentityToken, 4)
	sub := p.OnAuthStateChanged(func(tok *auth.IdentityToken) { identities <- tok })
	defer sub.Cancel()
	assert.Nil(t, <-identities, "initial state is signed out")

	require.NoError(t, p.SignInWithRedirect(ctx, firebase.ProviderGoogle))
	assert.NotEmpty(t, target)

	_, err = p.CompleteRedirect(ctx, "https://studio.test/__/auth/handler?code=abc")
	require.NoError(t, err)

	select {
	case tok := <-identities:
		require.NotNil(t, tok)
		assert.Equal(t, "uid-g", tok.UID)
	case <-time.After(time.Second):
		t.Fatal("expected identity after redirect")
	}
}

func TestIDTokenRefreshesNearExpiry(t *testing.T) {
	f := newFixture(t)
	p := f.provider(t)
	ctx := context.Background()

	_, err := p.SignInWithPassword(ctx, "ana@studio.test", "secret")
	require.NoError(t, err)
	first, err := p.IDToken(ctx)
	require.NoError(t, err)

	f.clock.Advance(58 * time.Minute)
	second, err := p.IDToken(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
	assert.Equal(t, 1, f.toolkit.count("token"))
	assert.Equal(t, "refresh-1", f.toolkit.body("token")["refresh_token"])

	current := p.CurrentIdentity()
	require.NotNil(t, current)
	assert.Equal(t, auth.RoleAdmin, current.ClaimedRole(), "claims follow the refreshed token")
}

func TestRestoresPersistedSession(t *testing.T) {
	f := newFixture(t)
	first := f.provider(t)
	_, err := first.SignInWithPassword(context.Background(), "ana@studio.test", "secret")
	require.NoError(t, err)

	restored := f.provider(t)
	identities := make(chan *auth.IdentityToken, 1)
	sub := restored.OnAuthStateChanged(func(tok *auth.IdentityToken) { identities <- tok })
	defer sub.Cancel()

	select {
	case tok := <-identities:
		require.NotNil(t, tok)
		assert.Equal(t, "uid-ana", tok.UID)
	case <-time.After(time.Second):
		t.Fatal("expected restored identity")
	}
}

func TestSignOutNotifiesOnce(t *testing.T) {
	f := newFixture(t)
	p := f.provider(t)
	ctx := context.Background()

	events := make(chan *auth.IdentityToken, 8)
	sub := p.OnAuthStateChanged(func(tok *auth.IdentityToken) { events <- tok })
	defer sub.Cancel()
	<-events

	_, err := p.SignInWithPassword(ctx, "ana@studio.test", "secret")
	require.NoError(t, err)
	require.NotNil(t, <-events)

	require.NoError(t, p.SignOut(ctx))
	require.NoError(t, p.SignOut(ctx))
	assert.Nil(t, <-events)
	assert.Len(t, events, 0)

	raw, err := p.IDToken(ctx)
	require.NoError(t, err)
	assert.Empty(t, raw)
	saved, _ := f.store.Load(ctx)
	assert.Nil(t, saved)
}

func TestReloadSignsOutDisabledAccount(t *testing.T) {
	f := newFixture(t)
	p := f.provider(t)
	ctx := context.Background()
	_, err := p.SignInWithPassword(ctx, "ana@studio.test", "secret")
	require.NoError(t, err)

	tok, err := p.Reload(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Ana María", tok.DisplayName)

	f.toolkit.mu.Lock()
	f.toolkit.disabled = true
	f.toolkit.mu.Unlock()

	_, err = p.Reload(ctx)
	assert.Equal(t, auth.CodeAccountDisabled, auth.CodeOf(auth.MapProviderError(err)))
	assert.Nil(t, p.CurrentIdentity())
}

func TestKeyfuncVerifier(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	kf := keyfunc.NewGiven(map[string]keyfunc.GivenKey{
		"k1": keyfunc.NewGivenCustom(&key.PublicKey, keyfunc.GivenKeyOptions{Algorithm: "RS256"}),
	}).Keyfunc
	verifier := firebase.KeyfuncVerifier(kf, project)

	sign := func(aud string) string {
		tok := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
			"iss":     "https://securetoken.google.com/" + project,
			"aud":     aud,
			"sub":     "uid-ana",
			"user_id": "uid-ana",
			"exp":     time.Now().Add(time.Hour).Unix(),
		})
		tok.Header["kid"] = "k1"
		raw, err := tok.SignedString(key)
		require.NoError(t, err)
		return raw
	}

	claims, err := verifier.Verify(sign(project))
	require.NoError(t, err)
	assert.Equal(t, "uid-ana", claims["user_id"])

	_, err = verifier.Verify(sign("other-project"))
	assert.Error(t, err)

	_, err = verifier.Verify(idToken(t, "uid-ana", time.Now().Add(time.Hour), nil))
	assert.Error(t, err, "HMAC tokens are rejected")
}
