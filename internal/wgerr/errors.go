// Package wgerr maps Warpgate's error taxonomy onto gravitational/trace so
// every front-end can translate a failure into a protocol-native response
// with a single type switch.
package wgerr

import "github.com/gravitational/trace"

// Kind identifies which branch of the taxonomy an error belongs to, for
// front-ends that need to decide on a wire-level response without string
// matching.
type Kind int

const (
	KindUnknown Kind = iota
	KindConfiguration
	KindAuthenticationFailed
	KindAuthorizationDenied
	KindHostKeyMismatch
	KindUpstreamUnavailable
	KindProtocol
	KindStorage
	KindCancelled
)

type taggedError struct {
	kind Kind
	err  error
}

func (t *taggedError) Error() string { return t.err.Error() }
func (t *taggedError) Unwrap() error { return t.err }

// KindOf extracts the taxonomy tag from err, walking wrapped errors.
func KindOf(err error) Kind {
	var t *taggedError
	for err != nil {
		if tagged, ok := err.(*taggedError); ok {
			t = tagged
			break
		}
		err = trace.Unwrap(err)
	}
	if t == nil {
		return KindUnknown
	}
	return t.kind
}

func tag(kind Kind, err error) error {
	return &taggedError{kind: kind, err: err}
}

// Configuration marks a fatal startup error (bad YAML, missing cert, unknown
// provider).
func Configuration(format string, args ...interface{}) error {
	return tag(KindConfiguration, trace.BadParameter(format, args...))
}

// AuthenticationFailed marks credentials that did not satisfy the active
// policy. Counted against IP/user rate limiters by the caller.
func AuthenticationFailed(format string, args ...interface{}) error {
	return tag(KindAuthenticationFailed, trace.AccessDenied(format, args...))
}

// AuthorizationDenied marks an authenticated session with no role
// intersection against the target.
func AuthorizationDenied(format string, args ...interface{}) error {
	return tag(KindAuthorizationDenied, trace.AccessDenied(format, args...))
}

// HostKeyMismatchError carries both sides of a TOFU mismatch for operator
// diagnosis. Always fatal for the session; never auto-repaired.
type HostKeyMismatchError struct {
	Host, KnownKeyType, KnownKeyBase64, ReceivedKeyType, ReceivedKeyBase64 string
}

func (e *HostKeyMismatchError) Error() string {
	return "host key mismatch for " + e.Host + ": known=" + e.KnownKeyType + " received=" + e.ReceivedKeyType
}

// HostKeyMismatch wraps e with the HostKeyMismatch taxonomy tag.
func HostKeyMismatch(e *HostKeyMismatchError) error {
	return tag(KindHostKeyMismatch, e)
}

// UpstreamUnavailable marks TCP refusal, TLS handshake failure, or upstream
// auth rejection. Not counted as a client-side failure.
func UpstreamUnavailable(format string, args ...interface{}) error {
	return tag(KindUpstreamUnavailable, trace.ConnectionProblem(nil, format, args...))
}

// Protocol marks an unparseable frame or unexpected message.
func Protocol(format string, args ...interface{}) error {
	return tag(KindProtocol, trace.BadParameter(format, args...))
}

// Storage marks a DB or filesystem failure.
func Storage(err error) error {
	return tag(KindStorage, trace.Wrap(err))
}

// Cancelled marks cooperative shutdown. Callers should log it at most at
// debug level.
func Cancelled(err error) error {
	return tag(KindCancelled, trace.Wrap(err))
}

// IsCancelled reports whether err unwraps to a Cancelled-tagged error.
func IsCancelled(err error) bool { return KindOf(err) == KindCancelled }
