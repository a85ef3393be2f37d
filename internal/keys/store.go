// Package keys holds the host identity material every front-end needs:
// the SSH host key(s) presented to clients, the TLS certificate/key pairs
// selected by SNI for HTTPS/MySQL/Postgres/Kubernetes. Known-hosts
// persistence for upstream SSH dials lives in package knownhosts.
package keys

import (
	"crypto/tls"
	"sync"

	"github.com/gravitational/trace"
	"golang.org/x/crypto/ssh"
)

// Store holds the host key material loaded at startup (spec §6: `ssh.key`,
// per-protocol `certificate`/`key` pairs).
type Store struct {
	mu sync.RWMutex

	sshSigners []ssh.Signer
	certsByCN  map[string]*tls.Certificate
	defaultTLS *tls.Certificate
}

// NewStore builds an empty Store; callers populate it via AddSSHSigner and
// AddCertificate during startup (spec §6's listener configuration load).
func NewStore() *Store {
	return &Store{certsByCN: map[string]*tls.Certificate{}}
}

// AddSSHSigner registers a host key Warpgate presents to SSH clients.
func (s *Store) AddSSHSigner(signer ssh.Signer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sshSigners = append(s.sshSigners, signer)
}

// SSHSigners returns every registered SSH host key.
func (s *Store) SSHSigners() []ssh.Signer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]ssh.Signer(nil), s.sshSigners...)
}

// AddCertificate registers a TLS certificate under each of the given
// sniNames, and as the fallback default if none has been set yet.
func (s *Store) AddCertificate(cert *tls.Certificate, sniNames ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, name := range sniNames {
		s.certsByCN[name] = cert
	}
	if s.defaultTLS == nil {
		s.defaultTLS = cert
	}
}

// GetCertificate implements tls.Config.GetCertificate's SNI selection
// contract (spec §4.10), falling back to the first-registered certificate
// when the client sends no SNI name or an unrecognized one.
func (s *Store) GetCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if hello != nil {
		if cert, ok := s.certsByCN[hello.ServerName]; ok {
			return cert, nil
		}
	}
	if s.defaultTLS != nil {
		return s.defaultTLS, nil
	}
	return nil, trace.NotFound("no TLS certificate configured")
}
