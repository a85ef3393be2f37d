// Package knownhosts implements SSH TOFU host key verification for upstream
// connections (spec §4.3), grounded on the HostKeyAuth/IsHostAuthority
// pairing in the teacher's lib/srv/authhandlers.go, generalized from
// Teleport's CA-signed-host-certificate model to Warpgate's simpler
// per-(host,port) key memory.
package knownhosts

import (
	"context"
	"encoding/base64"

	"github.com/gravitational/trace"
	"golang.org/x/crypto/ssh"

	"github.com/warpgated/warpgate/internal/wgerr"
)

// Entry is a remembered (host, port) -> server key binding (spec §3).
type Entry struct {
	Host        string
	Port        int
	KeyType     string
	KeyBase64   string
}

// Result is the outcome of checking a presented key against the store.
type Result int

const (
	Invalid Result = iota
	Valid
	Unknown
)

// Policy decides what happens on Unknown.
type Policy int

const (
	Prompt Policy = iota
	AutoAccept
	AutoReject
)

// Persister is the narrow slice of the key store (spec §1) knownhosts needs:
// lookup and transactional upsert to avoid TOCTOU on first use (spec §5).
type Persister interface {
	GetKnownHost(ctx context.Context, host string, port int) (*Entry, error)
	UpsertKnownHost(ctx context.Context, e Entry) error
}

// PromptFunc asks an interactive operator whether to accept an unknown host
// key; used only when Policy == Prompt.
type PromptFunc func(ctx context.Context, e Entry) (bool, error)

// Verifier implements the TOFU rules from spec §4.3.
type Verifier struct {
	store  Persister
	policy Policy
	prompt PromptFunc
}

// New builds a Verifier. prompt may be nil unless policy == Prompt.
func New(store Persister, policy Policy, prompt PromptFunc) *Verifier {
	return &Verifier{store: store, policy: policy, prompt: prompt}
}

func blobOf(key ssh.PublicKey) string {
	return base64.StdEncoding.EncodeToString(key.Marshal())
}

// Verify checks key against the stored entry for (host, port):
//   - exact match -> Valid
//   - no entry -> Unknown (left to the caller/policy to remember via Remember)
//   - different key -> Invalid, and the store is never mutated.
func (v *Verifier) Verify(ctx context.Context, host string, port int, key ssh.PublicKey) (Result, *Entry, error) {
	existing, err := v.store.GetKnownHost(ctx, host, port)
	if err != nil {
		return Invalid, nil, trace.Wrap(err)
	}
	if existing == nil {
		return Unknown, nil, nil
	}
	if existing.KeyType == key.Type() && existing.KeyBase64 == blobOf(key) {
		return Valid, existing, nil
	}
	return Invalid, existing, nil
}

// EnsureTrusted runs the full TOFU decision tree for an upstream SSH
// connection: Verify, then apply Policy to an Unknown result, then Remember
// on acceptance. It never mutates the store on Invalid (spec §8 invariant 6).
func (v *Verifier) EnsureTrusted(ctx context.Context, host string, port int, key ssh.PublicKey) error {
	result, existing, err := v.Verify(ctx, host, port, key)
	if err != nil {
		return err
	}

	switch result {
	case Valid:
		return nil
	case Invalid:
		return wgerr.HostKeyMismatch(&wgerr.HostKeyMismatchError{
			Host:               host,
			KnownKeyType:       existing.KeyType,
			KnownKeyBase64:     existing.KeyBase64,
			ReceivedKeyType:    key.Type(),
			ReceivedKeyBase64:  blobOf(key),
		})
	case Unknown:
		return v.handleUnknown(ctx, host, port, key)
	default:
		return trace.BadParameter("unreachable known-hosts result %v", result)
	}
}

func (v *Verifier) handleUnknown(ctx context.Context, host string, port int, key ssh.PublicKey) error {
	entry := Entry{Host: host, Port: port, KeyType: key.Type(), KeyBase64: blobOf(key)}
	switch v.policy {
	case AutoAccept:
		return v.remember(ctx, entry)
	case AutoReject:
		return wgerr.AuthenticationFailed("unknown host key for %s:%d rejected by policy", host, port)
	case Prompt:
		if v.prompt == nil {
			return trace.BadParameter("knownhosts: Prompt policy configured without a PromptFunc")
		}
		accept, err := v.prompt(ctx, entry)
		if err != nil {
			return trace.Wrap(err)
		}
		if !accept {
			return wgerr.AuthenticationFailed("unknown host key for %s:%d rejected by operator", host, port)
		}
		return v.remember(ctx, entry)
	default:
		return trace.BadParameter("unknown knownhosts policy %v", v.policy)
	}
}

func (v *Verifier) remember(ctx context.Context, e Entry) error {
	return trace.Wrap(v.store.UpsertKnownHost(ctx, e))
}
