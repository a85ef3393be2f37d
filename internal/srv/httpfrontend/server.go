// Package httpfrontend implements Warpgate's HTTP(S) front-end (spec
// §4.10): a single TLS listener with SNI certificate selection, a
// `/@warpgate/**` management zone handling login/SSO/logout over a session
// cookie, and a reverse proxy to HTTP targets for everything else.
package httpfrontend

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/julienschmidt/httprouter"
	log "github.com/sirupsen/logrus"

	"github.com/warpgated/warpgate/internal/authz"
	"github.com/warpgated/warpgate/internal/config"
	"github.com/warpgated/warpgate/internal/keys"
	"github.com/warpgated/warpgate/internal/ratelimit"
	"github.com/warpgated/warpgate/internal/session"
	"github.com/warpgated/warpgate/internal/srv/httpfrontend/sso"
	"github.com/warpgated/warpgate/internal/streams"
)

// Config bundles everything NewServer needs to wire the HTTP front-end.
type Config struct {
	ListenAddr   string
	Keys         *keys.Store
	Provider     config.Provider
	AuthStore    *authz.Store
	Sessions     *session.Registry
	BaseDomain   string
	CookieMaxAge time.Duration
	SSOProviders []config.SSOProviderConfig
	// Limiters returns the rate-limit stack to apply to a proxied
	// connection for (username, target). Nil means unlimited.
	Limiters func(username, target string) *ratelimit.Stack
}

// Server is the HTTP(S) front-end.
type Server struct {
	listenAddr   string
	keys         *keys.Store
	provider     config.Provider
	authStore    *authz.Store
	sessions     *session.Registry
	baseDomain   string
	cookieMaxAge time.Duration
	limiters     func(username, target string) *ratelimit.Stack

	ssoMu        sync.Mutex
	ssoProviders map[string]*sso.Provider
	ssoConfigs   []config.SSOProviderConfig
	ssoPending   map[string]pendingSSO

	router *httprouter.Router
	log    *log.Entry
}

type pendingSSO struct {
	authID   uuid.UUID
	provider string
	attempt  sso.Attempt
}

// NewServer builds a Server and its route table. SSO providers are
// discovered lazily on first login attempt (ssoProvider), so a
// misconfigured/unreachable issuer doesn't block startup of the rest of the
// front-end.
func NewServer(cfg Config) *Server {
	if cfg.CookieMaxAge <= 0 {
		cfg.CookieMaxAge = 30 * time.Minute
	}
	s := &Server{
		listenAddr:   cfg.ListenAddr,
		keys:         cfg.Keys,
		provider:     cfg.Provider,
		authStore:    cfg.AuthStore,
		sessions:     cfg.Sessions,
		baseDomain:   cfg.BaseDomain,
		cookieMaxAge: cfg.CookieMaxAge,
		limiters:     cfg.Limiters,
		ssoProviders: map[string]*sso.Provider{},
		ssoConfigs:   cfg.SSOProviders,
		ssoPending:   map[string]pendingSSO{},
		log:          log.WithField(trace.Component, "http"),
	}

	router := httprouter.New()
	router.GET("/@warpgate/api/whoami", s.handleWhoami)
	router.POST("/@warpgate/api/login/password", s.handlePasswordLogin)
	router.POST("/@warpgate/api/login/otp", s.handleOTPLogin)
	router.GET("/@warpgate/api/login/sso/:provider", s.handleSSOBegin)
	router.GET("/@warpgate/api/login/sso/:provider/callback", s.handleSSOCallback)
	router.POST("/@warpgate/api/logout", s.handleLogout)
	router.NotFound = http.HandlerFunc(s.serveCatchAll)
	s.router = router

	return s
}

// Serve accepts TLS connections on ListenAddr until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.listenAddr)
	if err != nil {
		return trace.Wrap(err, "listening on %q", s.listenAddr)
	}

	tlsLn := tls.NewListener(&keepaliveListener{Listener: ln}, &tls.Config{
		GetCertificate: s.keys.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	})

	httpSrv := &http.Server{
		Handler:     s.router,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		httpSrv.Shutdown(shutdownCtx)
	}()

	s.log.WithField("addr", s.listenAddr).Info("http front-end listening")
	if err := httpSrv.Serve(tlsLn); err != nil && err != http.ErrServerClosed {
		return trace.Wrap(err)
	}
	return nil
}

// keepaliveListener applies streams.DefaultKeepalive to every accepted
// connection before TLS termination, matching spec §4.1's "TCP-level
// keepalive ... on all accepted sockets".
type keepaliveListener struct {
	net.Listener
}

func (l *keepaliveListener) Accept() (net.Conn, error) {
	conn, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	return streams.WithKeepalive(conn, streams.DefaultKeepalive)
}

func (s *Server) serveCatchAll(w http.ResponseWriter, r *http.Request) {
	if isManagementPath(r.URL.Path) {
		http.NotFound(w, r)
		return
	}
	s.serveTargetProxy(w, r)
}

func (s *Server) isSecure(r *http.Request) bool {
	return r.TLS != nil
}
