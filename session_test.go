package auth_test

import (
	"sync"
	"testing"

	auth "github.com/goliatone/go-studio-auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReduceSetUserRedirectTargets(t *testing.T) {
	tests := []struct {
		role auth.Role
		want string
	}{
		{auth.RoleAdmin, "/admin"},
		{auth.RoleTeacher, "/teacher/dashboard"},
		{auth.RoleStudent, "/student/dashboard"},
		{auth.RoleUnknown, "/"},
		{auth.Role(""), "/"},
	}

	for _, tt := range tests {
		t.Run(string(tt.role), func(t *testing.T) {
			state := auth.Reduce(auth.InitialSessionState(), auth.SetUser(&auth.UserProfile{UID: "u1", Role: tt.role}))
			assert.Equal(t, auth.StatusSucceeded, state.Status)
			assert.Equal(t, tt.want, state.RedirectTarget)
			require.NotNil(t, state.User)
			assert.Equal(t, "u1", state.User.UID)
		})
	}
}

func TestReduceSetUserNil(t *testing.T) {
	state := auth.Reduce(auth.SessionState{Status: auth.StatusLoading}, auth.SetUser(nil))
	assert.Equal(t, auth.StatusSucceeded, state.Status)
	assert.Nil(t, state.User)
	assert.Empty(t, state.RedirectTarget)
}

func TestReduceClearAuthIsFailed(t *testing.T) {
	start := auth.Reduce(auth.InitialSessionState(), auth.SetUser(&auth.UserProfile{UID: "u1", Role: auth.RoleAdmin}))

	state := auth.Reduce(start, auth.ClearAuth())
	assert.Equal(t, auth.StatusFailed, state.Status)
	assert.NotEqual(t, auth.StatusIdle, state.Status)
	assert.Nil(t, state.User)
	assert.Empty(t, state.RedirectTarget)

	again := auth.Reduce(auth.InitialSessionState(), auth.ClearAuth())
	assert.Equal(t, auth.StatusFailed, again.Status)
}

func TestReduceSetLoadingKeepsUser(t *testing.T) {
	start := auth.Reduce(auth.InitialSessionState(), auth.SetUser(&auth.UserProfile{UID: "u1", Role: auth.RoleStudent}))
	state := auth.Reduce(start, auth.SetLoading())
	assert.Equal(t, auth.StatusLoading, state.Status)
	assert.Equal(t, "u1", state.User.UID)
	assert.Equal(t, "/student/dashboard", state.RedirectTarget)
}

func TestReduceDoesNotMutateInput(t *testing.T) {
	profile := &auth.UserProfile{UID: "u1", Role: auth.RoleTeacher, Legacy: map[string]any{"phone": "1"}}
	state := auth.Reduce(auth.InitialSessionState(), auth.SetUser(profile))

	profile.Role = auth.RoleAdmin
	profile.Legacy["phone"] = "2"

	assert.Equal(t, auth.RoleTeacher, state.User.Role)
	assert.Equal(t, "1", state.User.Legacy["phone"])
}

func TestSessionStoreSnapshotsAreCopies(t *testing.T) {
	store := auth.NewSessionStore()
	assert.Equal(t, auth.StatusIdle, store.Snapshot().Status)

	store.Dispatch(auth.SetUser(&auth.UserProfile{UID: "u1", Role: auth.RoleTeacher}))
	snap := store.Snapshot()
	snap.User.Role = auth.RoleAdmin

	assert.Equal(t, auth.RoleTeacher, store.Snapshot().User.Role)
}

func TestSessionStoreSubscribe(t *testing.T) {
	store := auth.NewSessionStore()
	var seen []auth.Status
	sub := store.Subscribe(func(s auth.SessionState) {
		seen = append(seen, s.Status)
	})

	store.Dispatch(auth.SetLoading())
	store.Dispatch(auth.SetUser(&auth.UserProfile{UID: "u1"}))
	sub.Cancel()
	sub.Cancel()
	store.Dispatch(auth.ClearAuth())

	assert.Equal(t, []auth.Status{auth.StatusLoading, auth.StatusSucceeded}, seen)
}

func TestSessionStoreReentrantDispatchIsQueued(t *testing.T) {
	store := auth.NewSessionStore()
	var seen []auth.Status
	store.Subscribe(func(s auth.SessionState) {
		seen = append(seen, s.Status)
		if s.Status == auth.StatusSucceeded {
			store.Dispatch(auth.ClearAuth())
		}
	})

	store.Dispatch(auth.SetUser(&auth.UserProfile{UID: "u1"}))
	assert.Equal(t, []auth.Status{auth.StatusSucceeded, auth.StatusFailed}, seen)
	assert.Equal(t, auth.StatusFailed, store.Snapshot().Status)
}

func TestSessionStoreConcurrentDispatch(t *testing.T) {
	store := auth.NewSessionStore()
	var mu sync.Mutex
	count := 0
	store.Subscribe(func(auth.SessionState) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			store.Dispatch(auth.SetLoading())
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 50, count)
}
