package authz

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/warpgated/warpgate/internal/config"
)

// StateChangeEvent is published on AuthState's internal broadcast each time
// valid_credentials changes or the verdict is recomputed (spec §4.5).
type StateChangeEvent struct {
	Result Result
}

// AuthState is the transient in-memory record of credentials accumulated
// toward satisfying a Policy (spec §3 AuthState). Once Verify returns
// Accepted, the state is frozen: AddCredential becomes a no-op and Verify
// keeps returning the same Accepted{Username} (testable property 2).
type AuthState struct {
	mu sync.Mutex

	ID        uuid.UUID
	SessionID *uuid.UUID
	Username  string
	Protocol  config.Protocol
	StartedAt time.Time

	policy Policy
	valid  map[config.CredentialKind]bool
	frozen *Result

	changeSubs   []chan StateChangeEvent
	webApproval  []chan uuid.UUID // fired with ID when verdict becomes Need(WebUserApproval)
}

// NewAuthState constructs a fresh, unfrozen state.
func NewAuthState(id uuid.UUID, sessionID *uuid.UUID, username string, protocol config.Protocol, policy Policy) *AuthState {
	return &AuthState{
		ID:        id,
		SessionID: sessionID,
		Username:  username,
		Protocol:  protocol,
		StartedAt: time.Now(),
		policy:    policy,
		valid:     map[config.CredentialKind]bool{},
	}
}

// AddCredential records kind as valid (set union, monotonic). It is a no-op
// once the state is frozen by a prior Accepted verdict.
func (s *AuthState) AddCredential(kind config.CredentialKind) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.frozen != nil {
		return *s.frozen
	}
	s.valid[kind] = true
	return s.recompute()
}

// Verify re-evaluates the policy against the currently valid credentials
// without adding a new one.
func (s *AuthState) Verify() Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frozen != nil {
		return *s.frozen
	}
	return s.recompute()
}

// recompute must be called with mu held.
func (s *AuthState) recompute() Result {
	result := s.policy.Evaluate(s.Username, s.valid, s.Protocol)
	if result.Kind == Accepted {
		frozen := result
		s.frozen = &frozen
	}
	s.publishLocked(result)
	return result
}

// publishLocked fans the verdict out to subscribers without blocking; slow
// subscribers miss intermediate states, matching the broadcast-channel
// semantics documented in spec §5.
func (s *AuthState) publishLocked(result Result) {
	for _, ch := range s.changeSubs {
		select {
		case ch <- StateChangeEvent{Result: result}:
		default:
		}
	}
	if result.Kind == Need && result.NeedKind == config.CredentialWebUserApproval {
		for _, ch := range s.webApproval {
			select {
			case ch <- s.ID:
			default:
			}
		}
	}
}

// SubscribeChanges returns a channel receiving every state-change event.
// Mirrors the teacher's/original's broadcast::channel idiom, realized with a
// buffered Go channel per subscriber instead of a shared broadcast type.
func (s *AuthState) SubscribeChanges() <-chan StateChangeEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan StateChangeEvent, 4)
	s.changeSubs = append(s.changeSubs, ch)
	return ch
}

// SubscribeWebApproval returns a channel that receives this state's ID
// whenever the verdict becomes Need(WebUserApproval) — the
// web_auth_request_signal of spec §4.5.
func (s *AuthState) SubscribeWebApproval() <-chan uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan uuid.UUID, 1)
	s.webApproval = append(s.webApproval, ch)
	return ch
}

// SetUsername binds the state to a username discovered after creation —
// the HTTP front-end's SSO flow doesn't know which user is signing in until
// the identity provider's callback resolves an email to a stored
// SSOCredential (spec §4.10). A no-op once a username is already set, since
// AuthState identity is otherwise immutable after Create.
func (s *AuthState) SetUsername(username string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Username == "" {
		s.Username = username
	}
}

// IsFrozen reports whether a prior Accepted verdict has locked the state.
func (s *AuthState) IsFrozen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frozen != nil
}
