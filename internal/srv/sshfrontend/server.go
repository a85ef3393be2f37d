package sshfrontend

import (
	"context"
	"net"

	"github.com/gravitational/trace"
	"golang.org/x/crypto/ssh"
	"golang.org/x/sync/errgroup"

	"github.com/warpgated/warpgate/internal/authz"
	"github.com/warpgated/warpgate/internal/config"
	"github.com/warpgated/warpgate/internal/keys"
	"github.com/warpgated/warpgate/internal/knownhosts"
	"github.com/warpgated/warpgate/internal/ratelimit"
	"github.com/warpgated/warpgate/internal/recording"
	"github.com/warpgated/warpgate/internal/session"
	"github.com/warpgated/warpgate/internal/streams"
	"github.com/warpgated/warpgate/internal/wglog"
)

// Server is the SSH bastion listener (spec §4.9): it terminates client
// connections, drives auth through AuthHandlers, and opens one upstream
// connection per accepted session, mirroring the teacher's lib/srv regular
// server's accept-loop-plus-per-conn-task shape.
type Server struct {
	listenAddr string
	keys       *keys.Store
	provider   config.Provider
	authStore  *authz.Store
	sessions   *session.Registry
	recordings *recording.Store
	knownHosts *knownhosts.Verifier
	limiters   func(username, target string) *ratelimit.Stack

	log *ssh.ServerConfig
	h   *AuthHandlers
}

// Config bundles Server's dependencies.
type Config struct {
	ListenAddr string
	Keys       *keys.Store
	Provider   config.Provider
	AuthStore  *authz.Store
	Sessions   *session.Registry
	Recordings *recording.Store
	KnownHosts *knownhosts.Verifier
	// Limiters resolves the rate limit stack for an accepted session; nil
	// means unlimited.
	Limiters func(username, target string) *ratelimit.Stack
}

// NewServer builds a Server and its AuthHandlers-backed ssh.ServerConfig.
func NewServer(cfg Config) *Server {
	h := NewAuthHandlers(cfg.AuthStore, cfg.Provider)

	s := &Server{
		listenAddr: cfg.ListenAddr,
		keys:       cfg.Keys,
		provider:   cfg.Provider,
		authStore:  cfg.AuthStore,
		sessions:   cfg.Sessions,
		recordings: cfg.Recordings,
		knownHosts: cfg.KnownHosts,
		limiters:   cfg.Limiters,
		h:          h,
	}

	serverCfg := &ssh.ServerConfig{
		PublicKeyCallback:         h.PublicKeyCallback,
		PasswordCallback:          h.PasswordCallback,
		KeyboardInteractiveCallback: h.KeyboardInteractiveCallback,
		ServerVersion:             "SSH-2.0-Warpgate",
	}
	for _, signer := range cfg.Keys.SSHSigners() {
		serverCfg.AddHostKey(signer)
	}
	s.log = serverCfg
	return s
}

// Serve accepts connections until ctx is cancelled, running each accepted
// connection's handshake and session dispatch on its own goroutine tree.
func (s *Server) Serve(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.listenAddr)
	if err != nil {
		return trace.Wrap(err)
	}
	defer listener.Close()

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	log := wglog.Component("sshfrontend")
	log.WithField("addr", s.listenAddr).Info("ssh listener started")

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return trace.Wrap(err)
			}
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, raw net.Conn) {
	defer raw.Close()
	log := wglog.Component("sshfrontend")

	raw, err := streams.WithKeepalive(raw, streams.DefaultKeepalive)
	if err != nil {
		log.WithError(err).Warn("failed to set keepalive")
	}

	sconn, chans, reqs, err := ssh.NewServerConn(raw, s.log)
	if err != nil {
		log.WithError(err).Debug("ssh handshake failed")
		return
	}
	defer sconn.Close()
	defer s.h.forget(sconn)

	target := DefaultTarget
	username := sconn.User()
	if sconn.Permissions != nil {
		if t, ok := sconn.Permissions.Extensions["warpgate-target"]; ok {
			target = t
		}
		if u, ok := sconn.Permissions.Extensions["warpgate-username"]; ok {
			username = u
		}
	}

	handle, err := s.sessions.Register(ctx, config.ProtocolSSH, sconn.RemoteAddr())
	if err != nil {
		log.WithError(err).Warn("failed to register session")
		return
	}
	defer handle.Close(ctx)

	if err := handle.SetUserInfo(ctx, session.UserInfo{Username: username}); err != nil {
		log.WithError(err).Warn("failed to set session user info")
	}

	targetRow, err := s.provider.GetTarget(ctx, target)
	if err != nil {
		log.WithError(err).WithField("target", target).Warn("unknown ssh target")
		return
	}
	if err := handle.SetTarget(ctx, targetRow); err != nil {
		log.WithError(err).Warn("failed to set session target")
	}

	ok, err := s.provider.AuthorizeTarget(ctx, username, target)
	if err != nil || !ok {
		log.WithField("user", username).WithField("target", target).Warn("target access denied")
		return
	}

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error { return ssh.DiscardRequests(reqs) })

	sess := &connSession{
		server:   s,
		sconn:    sconn,
		handle:   handle,
		target:   targetRow,
		username: username,
		log:      log.WithField("session", handle.ID()),
	}
	group.Go(func() error { return sess.dispatchChannels(gctx, chans) })

	if err := group.Wait(); err != nil {
		log.WithError(err).Debug("ssh connection closed")
	}
}
