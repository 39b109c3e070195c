package firestore_test

import (
	"context"
	"os"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	auth "github.com/goliatone/go-studio-auth"
	store "github.com/goliatone/go-studio-auth/store/firestore"
)

// newEmulatorStore needs a running emulator, e.g.
// FIRESTORE_EMULATOR_HOST=localhost:8080.
func newEmulatorStore(t *testing.T) *store.Store {
	t.Helper()
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}
	client, err := firestore.NewClient(context.Background(), "studio-test")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return store.New(client, store.WithCollection("users-"+uuid.NewString()))
}

func TestStoreRoundTrip(t *testing.T) {
	s := newEmulatorStore(t)
	ctx := context.Background()

	doc, err := s.Get(ctx, "uid-ana")
	require.NoError(t, err)
	assert.False(t, doc.Exists)

	require.NoError(t, s.Set(ctx, "uid-ana", map[string]any{"email": "ana@studio.test", "role": "teacher", "active": true}))
	require.NoError(t, s.Merge(ctx, "uid-ana", map[string]any{"displayName": "Ana"}))
	require.NoError(t, s.Set(ctx, "Ana@Studio.test", map[string]any{"email": "Ana@Studio.test", "active": true}))

	doc, err = s.Get(ctx, "uid-ana")
	require.NoError(t, err)
	assert.True(t, doc.Exists)
	assert.Equal(t, "teacher", doc.Data["role"])
	assert.Equal(t, "Ana", doc.Data["displayName"])

	found, err := s.FindByEmail(ctx, "Ana@Studio.test")
	require.NoError(t, err)
	assert.Len(t, found, 2)

	require.NoError(t, s.Delete(ctx, "Ana@Studio.test"))
	found, err = s.FindByEmail(ctx, "ana@studio.test")
	require.NoError(t, err)
	assert.Len(t, found, 1)
}

func TestStoreWatch(t *testing.T) {
	s := newEmulatorStore(t)
	ctx := context.Background()

	docs := make(chan auth.Document, 8)
	sub, err := s.Watch(ctx, "uid-lu", func(doc auth.Document, err error) {
		if err == nil {
			docs <- doc
		}
	})
	require.NoError(t, err)
	defer sub.Cancel()

	first := <-docs
	assert.False(t, first.Exists)

	require.NoError(t, s.Set(ctx, "uid-lu", map[string]any{"active": false}))
	select {
	case doc := <-docs:
		assert.True(t, doc.Exists)
		assert.False(t, doc.Active())
	case <-time.After(5 * time.Second):
		t.Fatal("expected a snapshot")
	}
}
