package authz

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gravitational/trace"

	"github.com/warpgated/warpgate/internal/config"
)

// DefaultTTL is the default auth state lifetime (spec §4.6/§5).
const DefaultTTL = 10 * time.Minute

// PolicyResolver fetches a user's effective policy plus the credential kinds
// actually supported by the client for this attempt, mirroring the config
// provider lookup inside warpgate-core/src/auth_state_store.rs's create().
type PolicyResolver interface {
	ResolvePolicy(ctx context.Context, username string, protocol config.Protocol, supportedKinds []config.CredentialKind) (Policy, error)
}

type storeEntry struct {
	state     *AuthState
	createdAt time.Time
}

type completionSignal struct {
	ch        chan Result
	createdAt time.Time
	fired     bool
}

// Store maps auth id -> (AuthState, created_at), matching
// warpgate-core/src/auth_state_store.rs op-for-op: Create, Get, Subscribe,
// Complete, Vacuum.
type Store struct {
	mu sync.Mutex

	resolver PolicyResolver
	entries  map[uuid.UUID]*storeEntry
	signals  map[uuid.UUID]*completionSignal

	webAuthRequest []chan uuid.UUID
	ttl            time.Duration
}

// NewStore builds an empty Store.
func NewStore(resolver PolicyResolver) *Store {
	return &Store{
		resolver: resolver,
		entries:  map[uuid.UUID]*storeEntry{},
		signals:  map[uuid.UUID]*completionSignal{},
		ttl:      DefaultTTL,
	}
}

// Create allocates a new AuthState for username/protocol, resolving its
// policy via the PolicyResolver, and wires a goroutine that forwards
// Need(WebUserApproval) transitions onto the store-wide web-auth-request
// signal (spec §4.5's web_auth_request_signal).
func (s *Store) Create(ctx context.Context, sessionID *uuid.UUID, username string, protocol config.Protocol, supportedKinds []config.CredentialKind) (uuid.UUID, *AuthState, error) {
	policy, err := s.resolver.ResolvePolicy(ctx, username, protocol, supportedKinds)
	if err != nil {
		return uuid.Nil, nil, trace.Wrap(err)
	}

	id := uuid.New()
	state := NewAuthState(id, sessionID, username, protocol, policy)

	s.mu.Lock()
	s.entries[id] = &storeEntry{state: state, createdAt: time.Now()}
	subs := append([]chan uuid.UUID(nil), s.webAuthRequest...)
	s.mu.Unlock()

	webApproval := state.SubscribeWebApproval()
	go func() {
		id, ok := <-webApproval
		if !ok {
			return
		}
		for _, ch := range subs {
			select {
			case ch <- id:
			default:
			}
		}
	}()

	return id, state, nil
}

// Get returns the state for id, if present and not yet vacuumed.
func (s *Store) Get(id uuid.UUID) (*AuthState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, false
	}
	return e.state, true
}

// SubscribeWebAuthRequest returns a channel that fires an auth id whenever
// any tracked state transitions to Need(WebUserApproval), so already
// logged-in admins can observe pending requests (spec §4.5).
func (s *Store) SubscribeWebAuthRequest() <-chan uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan uuid.UUID, 16)
	s.webAuthRequest = append(s.webAuthRequest, ch)
	return ch
}

// Subscribe returns a one-shot channel for the eventual AuthResult of id,
// matching spec §4.6.
func (s *Store) Subscribe(id uuid.UUID) <-chan Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	sig, ok := s.signals[id]
	if !ok {
		sig = &completionSignal{ch: make(chan Result, 1), createdAt: time.Now()}
		s.signals[id] = sig
	}
	return sig.ch
}

// Complete emits the current verdict for id to any subscriber exactly once,
// matching spec §4.5's "the completion signal is fired exactly once".
func (s *Store) Complete(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return
	}
	sig, ok := s.signals[id]
	if !ok || sig.fired {
		return
	}
	sig.fired = true
	sig.ch <- e.state.Verify()
	close(sig.ch)
}

// Vacuum drops entries and signals older than the store's TTL.
func (s *Store) Vacuum() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for id, e := range s.entries {
		if now.Sub(e.createdAt) > s.ttl {
			delete(s.entries, id)
		}
	}
	for id, sig := range s.signals {
		if now.Sub(sig.createdAt) > s.ttl {
			delete(s.signals, id)
		}
	}
}

// RunVacuum calls Vacuum on a 60s ticker until ctx is cancelled, matching
// spec §4.6's "a periodic task (per 60s) calls vacuum".
func (s *Store) RunVacuum(ctx context.Context) {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Vacuum()
		}
	}
}
