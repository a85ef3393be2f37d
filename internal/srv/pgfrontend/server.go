// Package pgfrontend implements Warpgate's Postgres wire-protocol front-end
// (spec §4.11), built on github.com/jackc/pgproto3/v2 exactly as the
// teacher's lib/srv/db/postgres/proxy.go drives the same library, but
// authenticating clients against authz.AuthState instead of mTLS and
// re-authenticating upstream with the target's own configured credentials.
package pgfrontend

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"

	"github.com/gravitational/trace"
	"github.com/jackc/pgproto3/v2"
	log "github.com/sirupsen/logrus"

	"github.com/warpgated/warpgate/internal/authz"
	"github.com/warpgated/warpgate/internal/config"
	"github.com/warpgated/warpgate/internal/keys"
	"github.com/warpgated/warpgate/internal/ratelimit"
	"github.com/warpgated/warpgate/internal/recording"
	"github.com/warpgated/warpgate/internal/session"
	"github.com/warpgated/warpgate/internal/streams"
)

// Config bundles everything NewServer needs.
type Config struct {
	ListenAddr string
	Keys       *keys.Store
	Provider   config.Provider
	AuthStore  *authz.Store
	Sessions   *session.Registry
	Recordings *recording.Store
	Limiters   func(username, target string) *ratelimit.Stack
}

// Server is the Postgres front-end.
type Server struct {
	listenAddr string
	keys       *keys.Store
	provider   config.Provider
	authStore  *authz.Store
	sessions   *session.Registry
	recordings *recording.Store
	limiters   func(username, target string) *ratelimit.Stack
	log        *log.Entry
}

// NewServer builds a Server.
func NewServer(cfg Config) *Server {
	return &Server{
		listenAddr: cfg.ListenAddr,
		keys:       cfg.Keys,
		provider:   cfg.Provider,
		authStore:  cfg.AuthStore,
		sessions:   cfg.Sessions,
		recordings: cfg.Recordings,
		limiters:   cfg.Limiters,
		log:        log.WithField(trace.Component, "postgres"),
	}
}

// Serve accepts connections until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.listenAddr)
	if err != nil {
		return trace.Wrap(err, "listening on %q", s.listenAddr)
	}
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	s.log.WithField("addr", s.listenAddr).Info("postgres front-end listening")
	for {
		raw, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return trace.Wrap(err)
			}
		}
		raw, _ = streams.WithKeepalive(raw, streams.DefaultKeepalive)
		go s.handleConn(ctx, raw)
	}
}

func (s *Server) handleConn(ctx context.Context, raw net.Conn) {
	defer raw.Close()
	connLog := s.log.WithField("remote", raw.RemoteAddr())

	upgradable := streams.NewUpgradable(raw)
	startup, backend, err := s.handleStartup(upgradable)
	if err != nil {
		connLog.WithError(err).Debug("postgres startup failed")
		return
	}

	username := startup.Parameters["user"]
	database := startup.Parameters["database"]
	user, targetName := splitUserTarget(username)
	if user == "" {
		backend.Send(&pgproto3.ErrorResponse{Message: "no username supplied"})
		return
	}

	if err := backend.Send(&pgproto3.AuthenticationCleartextPassword{}); err != nil {
		return
	}
	msg, err := backend.Receive()
	if err != nil {
		return
	}
	passwordMsg, ok := msg.(*pgproto3.PasswordMessage)
	if !ok {
		backend.Send(&pgproto3.ErrorResponse{Message: "expected password message"})
		return
	}

	sess, err := s.sessions.Register(ctx, config.ProtocolPostgres, raw.RemoteAddr())
	if err != nil {
		connLog.WithError(err).Warn("failed to register session")
		return
	}
	defer sess.Close(ctx)

	if err := s.authenticate(ctx, user, passwordMsg.Password); err != nil {
		connLog.WithError(err).Warn("postgres authentication failed")
		backend.Send(&pgproto3.ErrorResponse{Message: "authentication failed"})
		return
	}
	sess.SetUserInfo(ctx, session.UserInfo{Username: user})

	target, err := s.provider.GetTarget(ctx, targetName)
	if err != nil || target.Options.Kind != config.TargetKindPostgres || target.Options.Postgres == nil {
		backend.Send(&pgproto3.ErrorResponse{Message: fmt.Sprintf("unknown target %q", targetName)})
		return
	}
	authorized, err := s.provider.AuthorizeTarget(ctx, user, target.Name)
	if err != nil || !authorized {
		backend.Send(&pgproto3.ErrorResponse{Message: "not authorized for target"})
		return
	}
	sess.SetTarget(ctx, target)

	upstream, err := s.dialUpstream(ctx, target.Options.Postgres, database)
	if err != nil {
		connLog.WithError(err).Warn("failed to connect to postgres target")
		backend.Send(&pgproto3.ErrorResponse{Message: "could not connect to target"})
		return
	}
	defer upstream.Close()

	if err := backend.Send(&pgproto3.AuthenticationOk{}); err != nil {
		return
	}
	if err := backend.Send(&pgproto3.ReadyForQuery{}); err != nil {
		return
	}

	var limiters *ratelimit.Stack
	if s.limiters != nil {
		limiters = s.limiters(user, target.Name)
	}

	var rec *recording.TrafficRecorder
	if s.recordings != nil {
		rec, err = s.recordings.StartTraffic(sess.ID(), target.Name, raw.RemoteAddr(), upstream.RemoteAddr())
		if err != nil {
			connLog.WithError(err).Warn("failed to start traffic recorder")
		}
	}
	if rec != nil {
		defer rec.Close()
	}

	clientConn := sess.WrapStream(upgradable.Conn(), limiters)
	bridgeRaw(ctx, clientConn, upstream, rec)
}

// handleStartup loops over SSLRequest/GSSEncRequest/StartupMessage the way
// the teacher's handleStartup does, upgrading to TLS in place when the
// client requests it, and returns once a real StartupMessage arrives.
func (s *Server) handleStartup(upgradable *streams.Upgradable) (*pgproto3.StartupMessage, *pgproto3.Backend, error) {
	backend := pgproto3.NewBackend(pgproto3.NewChunkReader(upgradable.Conn()), upgradable.Conn())
	for {
		msg, err := backend.ReceiveStartupMessage()
		if err != nil {
			return nil, nil, trace.Wrap(err)
		}
		switch m := msg.(type) {
		case *pgproto3.SSLRequest:
			if _, err := upgradable.Conn().Write([]byte("S")); err != nil {
				return nil, nil, trace.Wrap(err)
			}
			if _, err := upgradable.UpgradeToTLS(&tls.Config{GetCertificate: s.keys.GetCertificate}); err != nil {
				return nil, nil, trace.Wrap(err)
			}
			backend = pgproto3.NewBackend(pgproto3.NewChunkReader(upgradable.Conn()), upgradable.Conn())
			continue
		case *pgproto3.GSSEncRequest:
			if _, err := upgradable.Conn().Write([]byte("N")); err != nil {
				return nil, nil, trace.Wrap(err)
			}
			continue
		case *pgproto3.StartupMessage:
			return m, backend, nil
		default:
			return nil, nil, trace.BadParameter("unsupported startup message %#v", msg)
		}
	}
}

func (s *Server) authenticate(ctx context.Context, username, password string) error {
	_, state, err := s.authStore.Create(ctx, nil, username, config.ProtocolPostgres, []config.CredentialKind{config.CredentialPassword})
	if err != nil {
		return trace.Wrap(err)
	}

	user, err := s.provider.GetUser(ctx, username)
	if err != nil {
		return trace.Wrap(err)
	}
	ok := false
	for _, cred := range user.Credential.Passwords {
		if authz.VerifyPassword(password, cred.Hash) {
			ok = true
			break
		}
	}
	if !ok {
		return trace.AccessDenied("invalid password")
	}
	if result := state.AddCredential(config.CredentialPassword); result.Kind != authz.Accepted {
		return trace.AccessDenied("credential policy not satisfied by a single password")
	}
	return nil
}

// dialUpstream opens a fresh Postgres connection to target and performs a
// full upstream handshake using target's own configured credentials (spec
// §4.11 step 5), returning the raw net.Conn ready for byte-level relay.
func (s *Server) dialUpstream(ctx context.Context, target *config.TargetPostgresOptions, database string) (net.Conn, error) {
	addr := fmt.Sprintf("%s:%d", target.Host, target.Port)
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	upgradable := streams.NewUpgradable(conn)
	if target.TLS.Mode != config.TLSDisabled {
		if err := requestUpstreamSSL(upgradable.Conn()); err != nil {
			conn.Close()
			return nil, trace.Wrap(err)
		}
		if _, err := upgradable.UpgradeClientToTLS(&tls.Config{InsecureSkipVerify: !target.TLS.Verify, ServerName: target.Host}); err != nil {
			conn.Close()
			return nil, trace.Wrap(err)
		}
	}

	frontend := pgproto3.NewFrontend(pgproto3.NewChunkReader(upgradable.Conn()), upgradable.Conn())
	if database == "" {
		database = target.Username
	}
	startup := &pgproto3.StartupMessage{
		ProtocolVersion: pgproto3.ProtocolVersionNumber,
		Parameters: map[string]string{
			"user":     target.Username,
			"database": database,
		},
	}
	if err := frontend.Send(startup); err != nil {
		conn.Close()
		return nil, trace.Wrap(err)
	}
	if err := authenticateUpstream(frontend, target.Username, target.Password); err != nil {
		conn.Close()
		return nil, trace.Wrap(err)
	}
	return upgradable.Conn(), nil
}

// requestUpstreamSSL sends Postgres's SSLRequest magic packet and expects
// a single 'S' byte back before the TLS handshake proceeds, mirroring the
// teacher's own client-side expectations in handleStartup's server half.
func requestUpstreamSSL(conn net.Conn) error {
	const sslRequestCode = 80877103
	buf := make([]byte, 8)
	buf[0], buf[1], buf[2], buf[3] = 0, 0, 0, 8
	buf[4] = byte(sslRequestCode >> 24)
	buf[5] = byte(sslRequestCode >> 16)
	buf[6] = byte(sslRequestCode >> 8)
	buf[7] = byte(sslRequestCode)
	if _, err := conn.Write(buf); err != nil {
		return trace.Wrap(err)
	}
	reply := make([]byte, 1)
	if _, err := io.ReadFull(conn, reply); err != nil {
		return trace.Wrap(err)
	}
	if reply[0] != 'S' {
		return trace.BadParameter("upstream refused TLS")
	}
	return nil
}

// bridgeRaw copies raw wire bytes bidirectionally once the upstream
// handshake has completed. When rec is non-nil, every chunk is also
// appended to the session's pcap traffic recording.
func bridgeRaw(ctx context.Context, a, b io.ReadWriteCloser, rec *recording.TrafficRecorder) {
	done := make(chan struct{}, 2)
	go func() { copyRecorded(a, b, rec, true); b.Close(); done <- struct{}{} }()
	go func() { copyRecorded(b, a, rec, false); a.Close(); done <- struct{}{} }()
	select {
	case <-done:
	case <-ctx.Done():
	}
	<-done
}

// copyRecorded copies src to dst one chunk at a time, feeding each chunk
// through rec's client-to-server or server-to-client recorder when rec is
// non-nil.
func copyRecorded(src io.Reader, dst io.Writer, rec *recording.TrafficRecorder, clientToServer bool) {
	buf := make([]byte, 32*1024)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			if rec != nil {
				if clientToServer {
					rec.WriteClientToServer(chunk)
				} else {
					rec.WriteServerToClient(chunk)
				}
			}
			if _, werr := dst.Write(chunk); werr != nil {
				return
			}
		}
		if err != nil {
			return
		}
	}
}
