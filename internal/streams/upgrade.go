// Package streams provides the transport-level helpers shared by every
// front-end: opportunistic TLS upgrade on an already-accepted connection and
// TCP keepalive tuning. Grounded on the teacher's lib/web/conn_upgrade.go
// hijack-and-replace pattern, generalized from HTTP Upgrade headers to the
// STARTTLS-style handshakes MySQL/Postgres/HTTP all use.
package streams

import (
	"crypto/tls"
	"net"
	"sync/atomic"

	"github.com/gravitational/trace"
)

// ErrAlreadyUpgraded is returned by UpgradeToTLS on a second call.
var ErrAlreadyUpgraded = trace.BadParameter("connection already upgraded to TLS")

// Upgradable wraps a net.Conn that may be swapped for a *tls.Conn exactly
// once, after the plaintext preamble of a protocol has negotiated TLS
// in-band (Postgres's SSLRequest, MySQL's client SSL capability flag, or
// HTTP's CONNECT/Upgrade). Reads and writes issued concurrently with the
// upgrade always see one consistent conn: before or after, never a mix.
type Upgradable struct {
	raw      net.Conn
	current  atomic.Pointer[net.Conn]
	upgraded atomic.Bool
}

// NewUpgradable wraps raw for later possible upgrade.
func NewUpgradable(raw net.Conn) *Upgradable {
	u := &Upgradable{raw: raw}
	u.current.Store(&raw)
	return u
}

// Conn returns the current underlying connection (plaintext until upgraded).
func (u *Upgradable) Conn() net.Conn {
	return *u.current.Load()
}

// UpgradeToTLS performs the TLS handshake over the current connection and
// swaps it in as the new Conn(). It is an error to call this twice.
func (u *Upgradable) UpgradeToTLS(cfg *tls.Config) (*tls.Conn, error) {
	if !u.upgraded.CompareAndSwap(false, true) {
		return nil, ErrAlreadyUpgraded
	}
	tlsConn := tls.Server(u.Conn(), cfg)
	if err := tlsConn.Handshake(); err != nil {
		return nil, trace.Wrap(err)
	}
	var asConn net.Conn = tlsConn
	u.current.Store(&asConn)
	return tlsConn, nil
}

// UpgradeClientToTLS is UpgradeToTLS's client-side counterpart, used when
// Warpgate is the one initiating TLS to an upstream target.
func (u *Upgradable) UpgradeClientToTLS(cfg *tls.Config) (*tls.Conn, error) {
	if !u.upgraded.CompareAndSwap(false, true) {
		return nil, ErrAlreadyUpgraded
	}
	tlsConn := tls.Client(u.Conn(), cfg)
	if err := tlsConn.Handshake(); err != nil {
		return nil, trace.Wrap(err)
	}
	var asConn net.Conn = tlsConn
	u.current.Store(&asConn)
	return tlsConn, nil
}

// IsUpgraded reports whether UpgradeToTLS/UpgradeClientToTLS has run.
func (u *Upgradable) IsUpgraded() bool { return u.upgraded.Load() }
