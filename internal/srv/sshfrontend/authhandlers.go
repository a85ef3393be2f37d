package sshfrontend

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"

	"github.com/warpgated/warpgate/internal/authz"
	"github.com/warpgated/warpgate/internal/config"
)

// connState is the per-TCP-connection bookkeeping AuthHandlers needs across
// the several userauth callback invocations x/crypto/ssh issues for one
// client: which AuthState is tracking it and which target it asked for.
type connState struct {
	authID   uuid.UUID
	state    *authz.AuthState
	username string
	target   string
}

// AuthHandlers wires golang.org/x/crypto/ssh.ServerConfig's userauth
// callbacks into internal/authz's state machine, mirroring how the teacher's
// AuthHandlers plug PublicKeyCallback/HostKeyAuth into ssh.ServerConfig —
// generalized from Teleport's single-shot cert auth into Warpgate's
// multi-credential policy evaluation (spec §4.9).
type AuthHandlers struct {
	store    *authz.Store
	provider config.Provider

	mu    sync.Mutex
	conns map[string]*connState

	log *log.Entry
}

// NewAuthHandlers builds an AuthHandlers bound to store/provider.
func NewAuthHandlers(store *authz.Store, provider config.Provider) *AuthHandlers {
	return &AuthHandlers{
		store:    store,
		provider: provider,
		conns:    map[string]*connState{},
		log:      log.WithField(trace.Component, "sshfrontend"),
	}
}

func (h *AuthHandlers) connKey(conn ssh.ConnMetadata) string {
	return string(conn.SessionID())
}

func (h *AuthHandlers) stateFor(ctx context.Context, conn ssh.ConnMetadata) (*connState, error) {
	key := h.connKey(conn)

	h.mu.Lock()
	cs, ok := h.conns[key]
	h.mu.Unlock()
	if ok {
		return cs, nil
	}

	username, target := ParseSSHUser(conn.User())
	supported := []config.CredentialKind{
		config.CredentialPassword, config.CredentialPublicKey, config.CredentialOTP,
	}
	id, state, err := h.store.Create(ctx, nil, username, config.ProtocolSSH, supported)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	cs = &connState{authID: id, state: state, username: username, target: target}

	h.mu.Lock()
	h.conns[key] = cs
	h.mu.Unlock()
	return cs, nil
}

// evaluate applies result to the ssh handshake, returning Permissions on
// Accepted, a PartialSuccessError asking for more on Need/NeedMore, or a
// plain auth failure on Rejected.
func (h *AuthHandlers) evaluate(cs *connState, result authz.Result) (*ssh.Permissions, error) {
	switch result.Kind {
	case authz.Accepted:
		h.log.WithField("user", cs.username).WithField("target", cs.target).Info("ssh auth accepted")
		return &ssh.Permissions{
			Extensions: map[string]string{
				"warpgate-target":   cs.target,
				"warpgate-username": cs.username,
			},
		}, nil
	case authz.Need, authz.NeedMore:
		return nil, &ssh.PartialSuccessError{}
	default:
		return nil, trace.AccessDenied("authentication failed for %q", cs.username)
	}
}

// PublicKeyCallback is invoked by x/crypto/ssh twice per offered key under
// RFC 4252's two-phase public key auth: once during the query phase (the
// client hasn't signed anything yet) and once more after the library itself
// has verified the signature. Both invocations run the same membership
// check; the first grants nothing beyond "this key would be accepted",
// matching the library's own semantics, and AddCredential's monotonic
// union means calling it twice for the same kind is harmless.
func (h *AuthHandlers) PublicKeyCallback(conn ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
	ctx := context.Background()
	cs, err := h.stateFor(ctx, conn)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	user, err := h.provider.GetUser(ctx, cs.username)
	if err != nil {
		return nil, trace.AccessDenied("authentication failed for %q", cs.username)
	}

	offered := authz.PublicKeyBlob{Algorithm: key.Type(), Base64: marshalBase64(key)}
	if !authz.VerifyPublicKey(offered, user.Credential.PublicKeys) {
		return nil, trace.AccessDenied("no matching public key for %q", cs.username)
	}

	result := cs.state.AddCredential(config.CredentialPublicKey)
	return h.evaluate(cs, result)
}

// PasswordCallback handles password auth: the whole password field is
// checked against the user's stored password hashes. A one-time code
// appended to the password (as in "password,123456") is not split off or
// checked; OTP is accepted only through KeyboardInteractiveCallback.
func (h *AuthHandlers) PasswordCallback(conn ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
	ctx := context.Background()
	cs, err := h.stateFor(ctx, conn)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	user, err := h.provider.GetUser(ctx, cs.username)
	if err != nil {
		return nil, trace.AccessDenied("authentication failed for %q", cs.username)
	}

	ok := false
	for _, cred := range user.Credential.Passwords {
		if authz.VerifyPassword(string(password), cred.Hash) {
			ok = true
			break
		}
	}
	if !ok {
		return nil, trace.AccessDenied("bad password for %q", cs.username)
	}

	result := cs.state.AddCredential(config.CredentialPassword)
	return h.evaluate(cs, result)
}

// KeyboardInteractiveCallback prompts for a TOTP code on every
// keyboard-interactive attempt, whatever the policy, matching spec §4.9's
// "keyboard-interactive carries the OTP step".
func (h *AuthHandlers) KeyboardInteractiveCallback(conn ssh.ConnMetadata, challenge ssh.KeyboardInteractiveChallenge) (*ssh.Permissions, error) {
	ctx := context.Background()
	cs, err := h.stateFor(ctx, conn)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	answers, err := challenge("", "", []string{"Verification code: "}, []bool{true})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if len(answers) != 1 {
		return nil, trace.AccessDenied("no verification code provided")
	}

	user, err := h.provider.GetUser(ctx, cs.username)
	if err != nil {
		return nil, trace.AccessDenied("authentication failed for %q", cs.username)
	}

	matched := false
	for _, otp := range user.Credential.OTPs {
		if authz.VerifyOTP(answers[0], otp.Base64Secret, nowFunc()) {
			matched = true
			break
		}
	}
	if !matched {
		return nil, trace.AccessDenied("bad verification code for %q", cs.username)
	}

	result := cs.state.AddCredential(config.CredentialOTP)
	return h.evaluate(cs, result)
}

// forget drops the per-connection bookkeeping once the SSH connection
// closes, whether or not auth ever completed.
func (h *AuthHandlers) forget(conn ssh.ConnMetadata) {
	h.mu.Lock()
	delete(h.conns, h.connKey(conn))
	h.mu.Unlock()
}
