package authz

import "github.com/warpgated/warpgate/internal/config"

// ResultKind discriminates the Result tagged union returned by Policy.Evaluate,
// matching spec §4.5's verify() contract exactly.
type ResultKind int

const (
	// Rejected means the policy can never be satisfied by adding more
	// credentials of the offered kinds.
	Rejected ResultKind = iota
	// Need means exactly one more specific credential kind would complete
	// the policy.
	Need
	// NeedMore means multiple alternative kinds remain and the caller
	// should keep prompting without narrowing to one.
	NeedMore
	// Accepted means the policy is satisfied.
	Accepted
)

// Result is the outcome of evaluating a Policy against a set of valid
// credentials.
type Result struct {
	Kind     ResultKind
	Username string         // set when Kind == Accepted
	NeedKind config.CredentialKind // set when Kind == Need
}

func rejected() Result  { return Result{Kind: Rejected} }
func accepted(u string) Result { return Result{Kind: Accepted, Username: u} }
func need(k config.CredentialKind) Result { return Result{Kind: Need, NeedKind: k} }
func needMore() Result { return Result{Kind: NeedMore} }

// Policy is the combinator object mapping a credential-kind set to an
// AuthResult (spec §4.5/glossary).
type Policy interface {
	// Evaluate returns the verdict given which kinds are currently valid for
	// username under protocol.
	Evaluate(username string, valid map[config.CredentialKind]bool, protocol config.Protocol) Result
}

// AnySingle accepts as soon as any one of the supported kinds is valid.
type AnySingle struct {
	Supported []config.CredentialKind
}

func (p AnySingle) Evaluate(username string, valid map[config.CredentialKind]bool, _ config.Protocol) Result {
	var remaining []config.CredentialKind
	for _, k := range p.Supported {
		if valid[k] {
			return accepted(username)
		}
		remaining = append(remaining, k)
	}
	switch len(remaining) {
	case 0:
		return rejected()
	case 1:
		return need(remaining[0])
	default:
		return needMore()
	}
}

// All accepts only once every listed kind is valid.
type All struct {
	Kinds []config.CredentialKind
}

func (p All) Evaluate(username string, valid map[config.CredentialKind]bool, _ config.Protocol) Result {
	var missing []config.CredentialKind
	for _, k := range p.Kinds {
		if !valid[k] {
			missing = append(missing, k)
		}
	}
	switch len(missing) {
	case 0:
		return accepted(username)
	case 1:
		return need(missing[0])
	default:
		return needMore()
	}
}

// PerProtocol dispatches to a sub-policy keyed by the current protocol,
// falling back to AnySingle when no override exists, per spec §4.5.
type PerProtocol struct {
	ByProtocol map[config.Protocol]Policy
	Fallback   Policy
}

func (p PerProtocol) Evaluate(username string, valid map[config.CredentialKind]bool, protocol config.Protocol) Result {
	if sub, ok := p.ByProtocol[protocol]; ok {
		return sub.Evaluate(username, valid, protocol)
	}
	fallback := p.Fallback
	if fallback == nil {
		fallback = AnySingle{Supported: []config.CredentialKind{
			config.CredentialPassword, config.CredentialPublicKey, config.CredentialOTP,
			config.CredentialSSO, config.CredentialCertificate, config.CredentialToken,
		}}
	}
	return fallback.Evaluate(username, valid, protocol)
}

// PolicyFromKinds builds an All-of policy from a CredentialPolicy's
// per-protocol kind list, or an AnySingle over supportedKinds if the user has
// no explicit policy for this protocol — the effective default described in
// spec §3's "credential_policy optionally narrows required credential
// kinds".
func PolicyFromKinds(required []config.CredentialKind, supportedKinds []config.CredentialKind) Policy {
	if len(required) == 0 {
		return AnySingle{Supported: supportedKinds}
	}
	return All{Kinds: required}
}
