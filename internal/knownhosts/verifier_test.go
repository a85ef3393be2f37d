package knownhosts

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

type memStore struct {
	entries map[string]Entry
}

func newMemStore() *memStore { return &memStore{entries: map[string]Entry{}} }

func key(k string) string { return k }

func (m *memStore) GetKnownHost(_ context.Context, host string, port int) (*Entry, error) {
	e, ok := m.entries[key(host)]
	if !ok || e.Port != port {
		return nil, nil
	}
	return &e, nil
}

func (m *memStore) UpsertKnownHost(_ context.Context, e Entry) error {
	m.entries[key(e.Host)] = e
	return nil
}

func genKey(t *testing.T) ssh.PublicKey {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	sshPub, err := ssh.NewPublicKey(pub)
	require.NoError(t, err)
	return sshPub
}

func TestUnknownThenAutoAcceptRemembers(t *testing.T) {
	store := newMemStore()
	v := New(store, AutoAccept, nil)
	k := genKey(t)

	require.NoError(t, v.EnsureTrusted(context.Background(), "host1", 22, k))
	require.NoError(t, v.EnsureTrusted(context.Background(), "host1", 22, k))
}

func TestMismatchIsFatalAndDoesNotMutateStore(t *testing.T) {
	store := newMemStore()
	v := New(store, AutoAccept, nil)
	ctx := context.Background()
	k1 := genKey(t)
	k2 := genKey(t)

	require.NoError(t, v.EnsureTrusted(ctx, "host1", 22, k1))
	before := store.entries["host1"]

	err := v.EnsureTrusted(ctx, "host1", 22, k2)
	require.Error(t, err)

	after := store.entries["host1"]
	require.Equal(t, before, after, "known-hosts store must not mutate on mismatch")
}

func TestAutoRejectUnknown(t *testing.T) {
	store := newMemStore()
	v := New(store, AutoReject, nil)
	require.Error(t, v.EnsureTrusted(context.Background(), "newhost", 22, genKey(t)))
	_, ok := store.entries["newhost"]
	require.False(t, ok)
}

func TestPromptAcceptOrReject(t *testing.T) {
	store := newMemStore()
	accept := New(store, Prompt, func(context.Context, Entry) (bool, error) { return true, nil })
	require.NoError(t, accept.EnsureTrusted(context.Background(), "h", 22, genKey(t)))

	store2 := newMemStore()
	reject := New(store2, Prompt, func(context.Context, Entry) (bool, error) { return false, nil })
	require.Error(t, reject.EnsureTrusted(context.Background(), "h", 22, genKey(t)))
}
