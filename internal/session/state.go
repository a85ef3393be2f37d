// Package session implements the registry that assigns SessionIds, persists
// session rows, and exposes the per-session mutation broadcast the admin UI
// and recorders observe (spec §4.8).
package session

import (
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/warpgated/warpgate/internal/config"
)

// UserInfo is the subset of an authenticated user's identity a SessionState
// remembers once auth completes.
type UserInfo struct {
	Username string
	UserID   uuid.UUID
}

// State is the per-connection record described in spec §3. Its invariants
// are enforced by Handle, not by State directly: user_info and target each
// transition None->Some at most once, in that order.
type State struct {
	mu sync.RWMutex

	ID            uuid.UUID
	Protocol      config.Protocol
	RemoteAddress net.Addr
	Started       time.Time
	Ended         *time.Time

	userInfo *UserInfo
	target   *config.Target
}

// UserInfo returns the currently set user info, if any.
func (s *State) UserInfo() *UserInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userInfo
}

// Target returns the currently selected target, if any.
func (s *State) Target() *config.Target {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.target
}

// Snapshot is an immutable copy of State for broadcasting to subscribers
// without sharing the mutex.
type Snapshot struct {
	ID            uuid.UUID
	Protocol      config.Protocol
	RemoteAddress string
	Started       time.Time
	Ended         *time.Time
	Username      string
	TargetName    string
}

func (s *State) snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{
		ID:       s.ID,
		Protocol: s.Protocol,
		Started:  s.Started,
		Ended:    s.Ended,
	}
	if s.RemoteAddress != nil {
		snap.RemoteAddress = s.RemoteAddress.String()
	}
	if s.userInfo != nil {
		snap.Username = s.userInfo.Username
	}
	if s.target != nil {
		snap.TargetName = s.target.Name
	}
	return snap
}
