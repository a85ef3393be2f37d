package streams

import (
	"net"
	"time"

	"github.com/gravitational/trace"
)

// KeepaliveConfig mirrors the TCP keepalive knobs spec §4.1 asks for:
// an idle period before the first probe, an interval between probes, and a
// probe count before the connection is declared dead.
type KeepaliveConfig struct {
	Idle     time.Duration
	Interval time.Duration
	Count    int
}

// DefaultKeepalive matches spec §4.1's defaults (60s idle, 10s interval, 3
// probes), used for every relayed upstream/downstream TCP connection.
var DefaultKeepalive = KeepaliveConfig{
	Idle:     60 * time.Second,
	Interval: 10 * time.Second,
	Count:    3,
}

// WithKeepalive enables TCP keepalive on conn if it is a *net.TCPConn and
// sets the keepalive period to cfg.Interval (Go uses that period for both
// the idle time and the probe interval); cfg.Idle and cfg.Count are not
// applied. Any other net.Conn is returned unchanged (and no error) so
// callers can apply it unconditionally to pipe ends that might be in-memory.
func WithKeepalive(conn net.Conn, cfg KeepaliveConfig) (net.Conn, error) {
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return conn, nil
	}
	if err := tcpConn.SetKeepAlive(true); err != nil {
		return conn, trace.Wrap(err)
	}
	if err := tcpConn.SetKeepAlivePeriod(cfg.Interval); err != nil {
		return conn, trace.Wrap(err)
	}
	return conn, nil
}
