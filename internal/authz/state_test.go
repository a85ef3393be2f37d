package authz

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/warpgated/warpgate/internal/config"
)

func TestAuthStateAnySingleAccepts(t *testing.T) {
	state := NewAuthState(uuid.New(), nil, "alice", config.ProtocolSSH, AnySingle{
		Supported: []config.CredentialKind{config.CredentialPassword, config.CredentialPublicKey},
	})

	result := state.Verify()
	require.Equal(t, NeedMore, result.Kind)

	result = state.AddCredential(config.CredentialPassword)
	require.Equal(t, Accepted, result.Kind)
	require.Equal(t, "alice", result.Username)
}

func TestAuthStateFreezesOnAccept(t *testing.T) {
	state := NewAuthState(uuid.New(), nil, "bob", config.ProtocolHTTP, All{
		Kinds: []config.CredentialKind{config.CredentialSSO, config.CredentialWebUserApproval},
	})

	require.Equal(t, Need, state.AddCredential(config.CredentialSSO).Kind)
	result := state.AddCredential(config.CredentialWebUserApproval)
	require.Equal(t, Accepted, result.Kind)
	require.True(t, state.IsFrozen())

	// Testable property 2: once Accepted, every subsequent call returns the
	// same Accepted{username}, even for credentials that were never added.
	again := state.AddCredential(config.CredentialPassword)
	require.Equal(t, Accepted, again.Kind)
	require.Equal(t, result.Username, again.Username)
}

func TestAuthStateWebApprovalSignal(t *testing.T) {
	state := NewAuthState(uuid.New(), nil, "carol", config.ProtocolHTTP, All{
		Kinds: []config.CredentialKind{config.CredentialSSO, config.CredentialWebUserApproval},
	})
	signal := state.SubscribeWebApproval()

	state.AddCredential(config.CredentialSSO)

	select {
	case id := <-signal:
		require.Equal(t, state.ID, id)
	default:
		t.Fatal("expected web_user_approval signal to fire once the policy needs it")
	}
}

func TestAllPolicyNeedsSingleVsMultiple(t *testing.T) {
	p := All{Kinds: []config.CredentialKind{config.CredentialPassword, config.CredentialOTP}}

	r := p.Evaluate("x", map[config.CredentialKind]bool{}, config.ProtocolSSH)
	require.Equal(t, NeedMore, r.Kind)

	r = p.Evaluate("x", map[config.CredentialKind]bool{config.CredentialPassword: true}, config.ProtocolSSH)
	require.Equal(t, Need, r.Kind)
	require.Equal(t, config.CredentialOTP, r.NeedKind)
}

func TestPerProtocolFallsBackToAnySingle(t *testing.T) {
	p := PerProtocol{
		ByProtocol: map[config.Protocol]Policy{
			config.ProtocolKubernetes: All{Kinds: []config.CredentialKind{config.CredentialCertificate}},
		},
	}

	r := p.Evaluate("x", map[config.CredentialKind]bool{config.CredentialPassword: true}, config.ProtocolSSH)
	require.Equal(t, Accepted, r.Kind)

	r = p.Evaluate("x", map[config.CredentialKind]bool{config.CredentialCertificate: true}, config.ProtocolKubernetes)
	require.Equal(t, Accepted, r.Kind)
}

func TestRejectedWhenNoSupportedKinds(t *testing.T) {
	p := AnySingle{}
	r := p.Evaluate("x", map[config.CredentialKind]bool{}, config.ProtocolSSH)
	require.Equal(t, Rejected, r.Kind)
}
