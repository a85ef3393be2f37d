package session

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/warpgated/warpgate/internal/config"
)

type memSessionStore struct {
	rows map[string]Snapshot
}

func newMemSessionStore() *memSessionStore {
	return &memSessionStore{rows: map[string]Snapshot{}}
}

func (m *memSessionStore) InsertSession(_ context.Context, snap Snapshot) error {
	m.rows[snap.ID.String()] = snap
	return nil
}

func (m *memSessionStore) UpdateSession(_ context.Context, snap Snapshot) error {
	m.rows[snap.ID.String()] = snap
	return nil
}

func TestRegisterAssignsIDAndPersists(t *testing.T) {
	store := newMemSessionStore()
	reg := NewRegistry(store, nil)

	h, err := reg.Register(context.Background(), config.ProtocolSSH, &net.TCPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	require.Contains(t, store.rows, h.ID().String())
}

func TestUserInfoThenTargetOrderEnforced(t *testing.T) {
	reg := NewRegistry(nil, nil)
	h, err := reg.Register(context.Background(), config.ProtocolSSH, nil)
	require.NoError(t, err)

	target := &config.Target{Name: "prod-db"}
	err = h.SetTarget(context.Background(), target)
	require.Error(t, err, "target must not be settable before user_info")

	require.NoError(t, h.SetUserInfo(context.Background(), UserInfo{Username: "alice"}))
	require.NoError(t, h.SetTarget(context.Background(), target))

	err = h.SetUserInfo(context.Background(), UserInfo{Username: "bob"})
	require.Error(t, err, "user_info must be settable at most once")

	err = h.SetTarget(context.Background(), target)
	require.Error(t, err, "target must be settable at most once")
}

func TestSubscribeReceivesBroadcast(t *testing.T) {
	reg := NewRegistry(nil, nil)
	ch, cancel := reg.Subscribe()
	defer cancel()

	h, err := reg.Register(context.Background(), config.ProtocolHTTP, nil)
	require.NoError(t, err)

	snap := <-ch
	require.Equal(t, h.ID(), snap.ID)
}

func TestCloseForgetsSession(t *testing.T) {
	reg := NewRegistry(nil, nil)
	h, err := reg.Register(context.Background(), config.ProtocolMySQL, nil)
	require.NoError(t, err)

	require.NoError(t, h.Close(context.Background()))
	_, ok := reg.Get(h.ID())
	require.False(t, ok)
}
