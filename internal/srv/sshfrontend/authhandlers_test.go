package sshfrontend

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/warpgated/warpgate/internal/authz"
	"github.com/warpgated/warpgate/internal/config"
)

type fakeConnMeta struct {
	user      string
	sessionID []byte
}

func (f fakeConnMeta) User() string          { return f.user }
func (f fakeConnMeta) SessionID() []byte     { return f.sessionID }
func (f fakeConnMeta) ClientVersion() []byte { return []byte("SSH-2.0-test") }
func (f fakeConnMeta) ServerVersion() []byte { return []byte("SSH-2.0-warpgate") }
func (f fakeConnMeta) RemoteAddr() net.Addr  { return &net.TCPAddr{} }
func (f fakeConnMeta) LocalAddr() net.Addr   { return &net.TCPAddr{} }

type stubResolver struct{ policy authz.Policy }

func (r *stubResolver) ResolvePolicy(_ context.Context, _ string, _ config.Protocol, _ []config.CredentialKind) (authz.Policy, error) {
	return r.policy, nil
}

func buildProvider(t *testing.T, username, passwordHash string) config.Provider {
	t.Helper()
	p := config.NewInMemoryProvider()
	p.PutUser(&config.User{
		Username: username,
		Roles:    []string{"default"},
		Credential: config.UserCredentials{
			Passwords: []config.PasswordCredential{{Hash: passwordHash}},
		},
	})
	return p
}

func TestStateForIsStableAcrossCallbacks(t *testing.T) {
	provider := buildProvider(t, "alice", "")
	resolver := &stubResolver{policy: authz.AnySingle{Supported: []config.CredentialKind{config.CredentialPassword}}}
	store := authz.NewStore(resolver)
	h := NewAuthHandlers(store, provider)

	conn := fakeConnMeta{user: "alice#prod", sessionID: []byte("session-1")}

	cs1, err := h.stateFor(context.Background(), conn)
	require.NoError(t, err)
	cs2, err := h.stateFor(context.Background(), conn)
	require.NoError(t, err)
	require.Same(t, cs1, cs2, "stateFor must return the same connState for the same connection")
	require.Equal(t, "alice", cs1.username)
	require.Equal(t, "prod", cs1.target)
}
