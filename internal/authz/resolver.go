package authz

import (
	"context"

	"github.com/warpgated/warpgate/internal/config"
)

// ConfigResolver implements PolicyResolver against a config.Provider,
// matching warpgate-core/src/auth_state_store.rs's create() which calls
// config_provider.get_credential_policy(username, supported_credential_types).
type ConfigResolver struct {
	Provider config.Provider
}

// ResolvePolicy looks up username's effective policy for protocol. An empty
// username (the HTTP front-end's pre-login state, before the visitor has
// picked a credential path such as SSO) has no user row to consult yet, so
// it resolves to the permissive AnySingle-of-supportedKinds default rather
// than erroring; AuthState.SetUsername fills in the username later, and any
// future Verify against the real user's CredentialPolicy happens on
// re-resolution by the caller if it matters for their flow.
func (r ConfigResolver) ResolvePolicy(ctx context.Context, username string, protocol config.Protocol, supportedKinds []config.CredentialKind) (Policy, error) {
	if username == "" {
		return AnySingle{Supported: supportedKinds}, nil
	}
	policy, err := r.Provider.CredentialPolicyFor(ctx, username, protocol)
	if err != nil {
		return nil, err
	}
	required := policy.ForProtocol(protocol)
	return PolicyFromKinds(required, supportedKinds), nil
}
