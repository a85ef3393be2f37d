package main

import (
	"context"
	"crypto/tls"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gravitational/trace"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/warpgated/warpgate/internal/authz"
	"github.com/warpgated/warpgate/internal/config"
	"github.com/warpgated/warpgate/internal/keys"
	"github.com/warpgated/warpgate/internal/knownhosts"
	"github.com/warpgated/warpgate/internal/ratelimit"
	"github.com/warpgated/warpgate/internal/recording"
	"github.com/warpgated/warpgate/internal/session"
	"github.com/warpgated/warpgate/internal/srv/httpfrontend"
	"github.com/warpgated/warpgate/internal/srv/kubefrontend"
	"github.com/warpgated/warpgate/internal/srv/mysqlfrontend"
	"github.com/warpgated/warpgate/internal/srv/pgfrontend"
	"github.com/warpgated/warpgate/internal/srv/sshfrontend"
	"github.com/warpgated/warpgate/internal/wglog"
)

// runRun loads the config and starts every enabled front-end, running them
// concurrently until SIGINT/SIGTERM, matching spec §5's single-process,
// shared-dependency server topology.
func runRun(configPath string, enableAdminToken bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return trace.Wrap(err)
	}
	if err := wglog.Init(cfg.Log); err != nil {
		return trace.Wrap(err)
	}
	logger := wglog.Component("main")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	keyStore, err := loadKeys(cfg)
	if err != nil {
		return trace.Wrap(err)
	}

	provider, err := config.LoadFixture(fixturePath(cfg))
	if err != nil {
		return trace.Wrap(err)
	}

	authStore := authz.NewStore(authz.ConfigResolver{Provider: provider})
	go authStore.RunVacuum(ctx)

	sessions := session.NewRegistry(nil, nil)
	recordings := recording.NewStore(cfg.Recordings.Path, cfg.Recordings.Enable, nil)

	hostStore, err := knownhosts.NewFileStore(knownHostsPath(cfg))
	if err != nil {
		return trace.Wrap(err)
	}
	hostVerifier := knownhosts.New(hostStore, knownhosts.AutoAccept, nil)

	limiters := func(username, targetName string) *ratelimit.Stack {
		target, err := provider.GetTarget(ctx, targetName)
		if err != nil {
			return ratelimit.NewStack(nil, nil, nil)
		}
		return ratelimit.NewStack(nil, nil, ratelimit.NewCell(target.RateLimitBPS))
	}

	if enableAdminToken {
		token, tokenErr := generatePassword()
		if tokenErr != nil {
			return trace.Wrap(tokenErr)
		}
		logger.WithField("token", token).Info("one-shot admin API token (not persisted)")
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.SSH.Enable {
		srv := sshfrontend.NewServer(sshfrontend.Config{
			ListenAddr: cfg.SSH.Listen,
			Keys:       keyStore,
			Provider:   provider,
			AuthStore:  authStore,
			Sessions:   sessions,
			Recordings: recordings,
			KnownHosts: hostVerifier,
			Limiters:   limiters,
		})
		g.Go(func() error { return runFrontend(gctx, logger, "ssh", srv.Serve) })
	}
	if cfg.HTTP.Enable {
		srv := httpfrontend.NewServer(httpfrontend.Config{
			ListenAddr:   cfg.HTTP.Listen,
			Keys:         keyStore,
			Provider:     provider,
			AuthStore:    authStore,
			Sessions:     sessions,
			BaseDomain:   cfg.BaseDomain,
			CookieMaxAge: cfg.CookieMaxAge,
			SSOProviders: cfg.SSOProviders,
			Limiters:     limiters,
		})
		g.Go(func() error { return runFrontend(gctx, logger, "http", srv.Serve) })
	}
	if cfg.MySQL.Enable {
		srv := mysqlfrontend.NewServer(mysqlfrontend.Config{
			ListenAddr: cfg.MySQL.Listen,
			Keys:       keyStore,
			Provider:   provider,
			AuthStore:  authStore,
			Sessions:   sessions,
			Recordings: recordings,
			Limiters:   limiters,
		})
		g.Go(func() error { return runFrontend(gctx, logger, "mysql", srv.Serve) })
	}
	if cfg.Postgres.Enable {
		srv := pgfrontend.NewServer(pgfrontend.Config{
			ListenAddr: cfg.Postgres.Listen,
			Keys:       keyStore,
			Provider:   provider,
			AuthStore:  authStore,
			Sessions:   sessions,
			Recordings: recordings,
			Limiters:   limiters,
		})
		g.Go(func() error { return runFrontend(gctx, logger, "postgres", srv.Serve) })
	}
	if cfg.Kubernetes.Enable {
		srv := kubefrontend.NewServer(kubefrontend.Config{
			ListenAddr: cfg.Kubernetes.Listen,
			Keys:       keyStore,
			Provider:   provider,
			AuthStore:  authStore,
			Sessions:   sessions,
			Recordings: recordings,
			Limiters:   limiters,
		})
		g.Go(func() error { return runFrontend(gctx, logger, "kubernetes", srv.Serve) })
	}

	return g.Wait()
}

// runFrontend logs a front-end's lifecycle and normalizes its shutdown:
// context cancellation is expected (errgroup cancels every sibling once one
// fails or the process receives a signal) and is not itself an error.
func runFrontend(ctx context.Context, logger *log.Entry, name string, serve func(context.Context) error) error {
	logger.WithField("frontend", name).Info("starting front-end")
	err := serve(ctx)
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return trace.Wrap(err)
}

// loadKeys builds a keys.Store from the certificate/key pair of every
// listener that sets both paths (enabled or not) plus the SSH host key, generating the host key on first run if it
// does not exist yet (`warpgate setup` already generates one, but `run`
// tolerates a hand-assembled data dir too).
func loadKeys(cfg *config.File) (*keys.Store, error) {
	store := keys.NewStore()

	for _, lc := range []config.ListenConfig{cfg.HTTP, cfg.MySQL, cfg.Postgres, cfg.Kubernetes} {
		if lc.Certificate == "" || lc.Key == "" {
			continue
		}
		cert, err := tls.LoadX509KeyPair(lc.Certificate, lc.Key)
		if err != nil {
			return nil, trace.Wrap(err, "loading certificate %q", lc.Certificate)
		}
		store.AddCertificate(&cert)
	}

	if cfg.SSH.Enable {
		hostKeyPath := filepath.Join(dataDir(cfg), "ssh_host_ed25519_key")
		if _, err := os.Stat(hostKeyPath); os.IsNotExist(err) {
			if err := generateSSHHostKey(hostKeyPath); err != nil {
				return nil, trace.Wrap(err)
			}
		}
		signer, err := loadSSHHostSigner(hostKeyPath)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		store.AddSSHSigner(signer)
	}

	return store, nil
}
