// Package kubefrontend implements Warpgate's Kubernetes API front-end (spec
// §4.12): an HTTPS listener accepting either a client certificate or a
// Bearer token, first-path-segment target routing, a reverse proxy for
// plain API calls, and a WebSocket bridge for exec/attach streams.
package kubefrontend

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/gravitational/trace"
	log "github.com/sirupsen/logrus"

	"github.com/warpgated/warpgate/internal/authz"
	"github.com/warpgated/warpgate/internal/config"
	"github.com/warpgated/warpgate/internal/keys"
	"github.com/warpgated/warpgate/internal/ratelimit"
	"github.com/warpgated/warpgate/internal/recording"
	"github.com/warpgated/warpgate/internal/session"
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

// Server is the Kubernetes API front-end.
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
		log:        log.WithField(trace.Component, "kubernetes"),
	}
}

// Serve accepts TLS connections on ListenAddr until ctx is cancelled.
// ClientAuth is RequestClientCert rather than RequireAndVerifyClientCert:
// Warpgate accepts either a client certificate or a Bearer token, so the
// handshake must not fail just because the client offered neither.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.listenAddr)
	if err != nil {
		return trace.Wrap(err, "listening on %q", s.listenAddr)
	}
	tlsLn := tls.NewListener(ln, &tls.Config{
		GetCertificate: s.keys.GetCertificate,
		ClientAuth:     tls.RequestClientCert,
		MinVersion:     tls.VersionTLS12,
	})

	httpSrv := &http.Server{
		Handler:     http.HandlerFunc(s.handle),
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	go func() {
		<-ctx.Done()
		httpSrv.Close()
	}()

	s.log.WithField("addr", s.listenAddr).Info("kubernetes front-end listening")
	if err := httpSrv.Serve(tlsLn); err != nil && err != http.ErrServerClosed {
		return trace.Wrap(err)
	}
	return nil
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	connLog := s.log.WithField("remote", r.RemoteAddr)

	targetName, restPath := splitTargetPath(r.URL.Path)
	if targetName == "" {
		http.Error(w, "no target specified in path", http.StatusNotFound)
		return
	}

	username, err := s.authenticate(ctx, r)
	if err != nil {
		connLog.WithError(err).Debug("kubernetes authentication failed")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	target, err := s.provider.GetTarget(ctx, targetName)
	if err != nil || target.Options.Kind != config.TargetKindKubernetes || target.Options.Kubernetes == nil {
		http.Error(w, fmt.Sprintf("unknown target %q", targetName), http.StatusNotFound)
		return
	}
	authorized, err := s.provider.AuthorizeTarget(ctx, username, target.Name)
	if err != nil || !authorized {
		http.Error(w, "forbidden: not authorized for target", http.StatusForbidden)
		return
	}

	sess, err := s.sessions.Register(ctx, config.ProtocolKubernetes, stringAddr(r.RemoteAddr))
	if err != nil {
		connLog.WithError(err).Warn("failed to register session")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	defer sess.Close(ctx)
	sess.SetUserInfo(ctx, session.UserInfo{Username: username})
	sess.SetTarget(ctx, target)

	var limiters *ratelimit.Stack
	if s.limiters != nil {
		limiters = s.limiters(username, target.Name)
	}

	if isExecOrAttach(restPath) && isWebSocketUpgrade(r) {
		var rec *recording.KubernetesRecorder
		if s.recordings != nil {
			rec, err = s.recordings.StartKubernetes(sess.ID(), targetName)
			if err != nil {
				connLog.WithError(err).Warn("failed to start kubernetes recorder")
			}
		}
		if rec != nil {
			defer rec.Close()
		}
		s.bridgeExec(w, r, target.Options.Kubernetes, restPath, rec, limiters)
		return
	}

	client, err := upstreamClient(target.Options.Kubernetes)
	if err != nil {
		connLog.WithError(err).Warn("failed to build kubernetes upstream client")
		http.Error(w, "misconfigured target", http.StatusBadGateway)
		return
	}
	s.forwardREST(w, r, target.Options.Kubernetes.ClusterURL, restPath, client)
}

func isWebSocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Connection"), "upgrade") &&
		strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

// stringAddr adapts net/http's string RemoteAddr to the net.Addr the
// session registry expects; Kubernetes requests arrive over TCP, so
// Network always reports "tcp".
type stringAddr string

func (a stringAddr) Network() string { return "tcp" }
func (a stringAddr) String() string  { return string(a) }
