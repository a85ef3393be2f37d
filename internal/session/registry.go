package session

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"

	"github.com/warpgated/warpgate/internal/config"
	"github.com/warpgated/warpgate/internal/ratelimit"
)

// Store is the persistence slice the registry needs: append-only session
// rows plus the running mutations a recorder or admin UI wants to tail.
type Store interface {
	InsertSession(ctx context.Context, snap Snapshot) error
	UpdateSession(ctx context.Context, snap Snapshot) error
}

// Registry owns every live Handle and fans out Snapshot updates to
// subscribers (spec §4.8), mirroring the teacher's session tracker pattern
// of a central map guarded by one mutex plus a broadcast channel set.
type Registry struct {
	mu    sync.RWMutex
	live  map[uuid.UUID]*Handle
	subs  map[chan Snapshot]struct{}
	store Store
	clock clockwork.Clock
	log   *log.Entry
}

// NewRegistry builds a Registry. store may be nil to skip persistence
// (useful in tests); clock defaults to the real clock when nil.
func NewRegistry(store Store, clock clockwork.Clock) *Registry {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Registry{
		live:  map[uuid.UUID]*Handle{},
		subs:  map[chan Snapshot]struct{}{},
		store: store,
		clock: clock,
		log:   log.WithField(trace.Component, "session"),
	}
}

// Register allocates a SessionId and starts tracking a new connection.
func (r *Registry) Register(ctx context.Context, protocol config.Protocol, remote net.Addr) (*Handle, error) {
	state := &State{
		ID:            uuid.New(),
		Protocol:      protocol,
		RemoteAddress: remote,
		Started:       r.clock.Now(),
	}
	h := &Handle{state: state, registry: r}

	r.mu.Lock()
	r.live[state.ID] = h
	r.mu.Unlock()

	if r.store != nil {
		if err := r.store.InsertSession(ctx, state.snapshot()); err != nil {
			r.mu.Lock()
			delete(r.live, state.ID)
			r.mu.Unlock()
			return nil, trace.Wrap(err)
		}
	}

	r.log.WithField("session", state.ID).WithField("protocol", protocol).Info("session started")
	r.broadcast(state.snapshot())
	return h, nil
}

// Get returns the live handle for id, if still tracked.
func (r *Registry) Get(id uuid.UUID) (*Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.live[id]
	return h, ok
}

// Subscribe returns a channel of Snapshot updates. Sends are non-blocking:
// a slow subscriber misses updates rather than stalling the registry
// (spec §9's lossy-broadcast idiom, shared with internal/authz).
func (r *Registry) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 32)
	r.mu.Lock()
	r.subs[ch] = struct{}{}
	r.mu.Unlock()

	cancel := func() {
		r.mu.Lock()
		delete(r.subs, ch)
		r.mu.Unlock()
	}
	return ch, cancel
}

func (r *Registry) broadcast(snap Snapshot) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for ch := range r.subs {
		select {
		case ch <- snap:
		default:
		}
	}
}

func (r *Registry) persist(ctx context.Context, snap Snapshot) {
	if r.store == nil {
		return
	}
	if err := r.store.UpdateSession(ctx, snap); err != nil {
		r.log.WithError(err).WithField("session", snap.ID).Warn("failed to persist session update")
	}
}

func (r *Registry) forget(id uuid.UUID) {
	r.mu.Lock()
	delete(r.live, id)
	r.mu.Unlock()
}

// Handle is the per-connection API front-ends use to mutate session state
// and wrap the raw transport in rate limiting (spec §4.8).
type Handle struct {
	mu       sync.Mutex
	state    *State
	registry *Registry
}

// ID returns the session's identifier.
func (h *Handle) ID() uuid.UUID { return h.state.ID }

// SetUserInfo records the authenticated identity exactly once. A second
// call is a programming error: user_info transitions None->Some only.
func (h *Handle) SetUserInfo(ctx context.Context, info UserInfo) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.state.mu.Lock()
	if h.state.userInfo != nil {
		h.state.mu.Unlock()
		return trace.BadParameter("session %s: user_info already set", h.state.ID)
	}
	h.state.userInfo = &info
	h.state.mu.Unlock()

	h.registry.persist(ctx, h.state.snapshot())
	h.registry.broadcast(h.state.snapshot())
	return nil
}

// SetTarget records the selected target exactly once, after user_info.
func (h *Handle) SetTarget(ctx context.Context, target *config.Target) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.state.mu.Lock()
	if h.state.userInfo == nil {
		h.state.mu.Unlock()
		return trace.BadParameter("session %s: target set before user_info", h.state.ID)
	}
	if h.state.target != nil {
		h.state.mu.Unlock()
		return trace.BadParameter("session %s: target already set", h.state.ID)
	}
	h.state.target = target
	h.state.mu.Unlock()

	h.registry.persist(ctx, h.state.snapshot())
	h.registry.broadcast(h.state.snapshot())
	return nil
}

// State returns the underlying State for read access by recorders.
func (h *Handle) State() *State { return h.state }

// WrapStream interposes rate limiting on a raw connection using the
// supplied Stack, returning a net.Conn whose Read calls are metered.
func (h *Handle) WrapStream(raw net.Conn, stack *ratelimit.Stack) net.Conn {
	if stack == nil {
		return raw
	}
	return &limitedConn{Conn: raw, reader: ratelimit.NewLimitedReader(context.Background(), raw, stack)}
}

type limitedConn struct {
	net.Conn
	reader *ratelimit.LimitedReader
}

func (c *limitedConn) Read(p []byte) (int, error) { return c.reader.Read(p) }

// Close marks the session ended and stops tracking it.
func (h *Handle) Close(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.state.mu.Lock()
	if h.state.Ended == nil {
		now := time.Now()
		h.state.Ended = &now
	}
	h.state.mu.Unlock()

	h.registry.persist(ctx, h.state.snapshot())
	h.registry.broadcast(h.state.snapshot())
	h.registry.forget(h.state.ID)
	return nil
}
