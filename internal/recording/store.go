package recording

import (
	"fmt"
	"net"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
)

// Kind discriminates which recorder a session needs, per spec §4.7: terminal
// for PTY-backed SSH sessions, traffic for raw TCP protocols (MySQL,
// Postgres, Kubernetes port-forward), kubernetes for exec/attach streams.
type Kind string

const (
	KindTerminal   Kind = "terminal"
	KindTraffic    Kind = "traffic"
	KindKubernetes Kind = "kubernetes"
)

func (k Kind) extension() string {
	if k == KindTraffic {
		return "pcap"
	}
	return "jsonl"
}

// Store resolves where a session's recordings live on disk and opens the
// right recorder kind for it, matching spec §4.7's "on-disk transcript
// root" layout: <root>/<session-id>/<name>.<ext>.
type Store struct {
	root    string
	enabled bool
	clock   clockwork.Clock
}

// NewStore builds a Store rooted at path. If enabled is false, every Start
// call returns a nil recorder and a nil error, matching the
// recordings.enable=false config switch (spec §6).
func NewStore(path string, enabled bool, clock clockwork.Clock) *Store {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Store{root: path, enabled: enabled, clock: clock}
}

func (s *Store) sessionDir(sessionID uuid.UUID) string {
	return filepath.Join(s.root, sessionID.String())
}

func (s *Store) open(sessionID uuid.UUID, kind Kind, name string) (*os.File, error) {
	dir := s.sessionDir(sessionID)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, trace.Wrap(err)
	}
	path := filepath.Join(dir, fmt.Sprintf("%s.%s", name, kind.extension()))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return f, nil
}

// StartTerminal opens a new terminal recorder for sessionID/name, or nil if
// recording is disabled.
func (s *Store) StartTerminal(sessionID uuid.UUID, name string) (*TerminalRecorder, error) {
	if !s.enabled {
		return nil, nil
	}
	f, err := s.open(sessionID, KindTerminal, name)
	if err != nil {
		return nil, err
	}
	return NewTerminalRecorder(NewWriter(sessionID, f, s.clock)), nil
}

// StartTraffic opens a new pcap traffic recorder for sessionID/name, or nil
// if recording is disabled.
func (s *Store) StartTraffic(sessionID uuid.UUID, name string, clientAddr, serverAddr net.Addr) (*TrafficRecorder, error) {
	if !s.enabled {
		return nil, nil
	}
	f, err := s.open(sessionID, KindTraffic, name)
	if err != nil {
		return nil, err
	}
	rec, err := NewTrafficRecorder(f, clientAddr, serverAddr, s.clock)
	if err != nil {
		f.Close()
		return nil, err
	}
	return rec, nil
}

// StartKubernetes opens a new exec/attach stream recorder for
// sessionID/name, or nil if recording is disabled.
func (s *Store) StartKubernetes(sessionID uuid.UUID, name string) (*KubernetesRecorder, error) {
	if !s.enabled {
		return nil, nil
	}
	f, err := s.open(sessionID, KindKubernetes, name)
	if err != nil {
		return nil, err
	}
	return NewKubernetesRecorder(NewWriter(sessionID, f, s.clock)), nil
}
