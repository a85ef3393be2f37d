package sshfrontend

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/gravitational/trace"
	"golang.org/x/crypto/ssh"

	"github.com/warpgated/warpgate/internal/config"
	"github.com/warpgated/warpgate/internal/keys"
	"github.com/warpgated/warpgate/internal/knownhosts"
)

// dialUpstream re-authenticates to target's SSH service using its own
// configured credentials (spec §4.9 step 4: "Warpgate re-authenticates to
// an SSH target once the client side has been accepted"), verifying the
// host key via the shared TOFU store instead of trusting blindly.
func dialUpstream(ctx context.Context, target *config.TargetSSHOptions, verifier *knownhosts.Verifier, hostKeys *keys.Store) (*ssh.Client, error) {
	authMethods, err := upstreamAuthMethods(target, hostKeys)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	clientCfg := &ssh.ClientConfig{
		User:            target.Username,
		Auth:            authMethods,
		Timeout:         10 * time.Second,
		HostKeyCallback: upstreamHostKeyCallback(ctx, verifier, target.Host, target.Port),
	}
	if target.AllowInsecureAlgos {
		clientCfg.Config.SetDefaults()
	}

	addr := net.JoinHostPort(target.Host, fmt.Sprintf("%d", target.Port))
	client, err := ssh.Dial("tcp", addr, clientCfg)
	if err != nil {
		return nil, trace.ConnectionProblem(err, "dialing ssh target %s", addr)
	}
	return client, nil
}

func upstreamAuthMethods(target *config.TargetSSHOptions, hostKeys *keys.Store) ([]ssh.AuthMethod, error) {
	switch target.Auth.Kind {
	case config.SSHTargetAuthPassword:
		return []ssh.AuthMethod{ssh.Password(target.Auth.Password)}, nil
	case config.SSHTargetAuthPublicKey:
		signers := hostKeys.SSHSigners()
		if len(signers) == 0 {
			return nil, trace.BadParameter("no host key configured for publickey target auth")
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signers...)}, nil
	default:
		return nil, trace.BadParameter("unknown ssh target auth kind %q", target.Auth.Kind)
	}
}

// upstreamHostKeyCallback adapts internal/knownhosts.Verifier to
// ssh.HostKeyCallback's synchronous single-key-per-dial shape.
func upstreamHostKeyCallback(ctx context.Context, verifier *knownhosts.Verifier, host string, port int) ssh.HostKeyCallback {
	return func(_ string, _ net.Addr, key ssh.PublicKey) error {
		return verifier.EnsureTrusted(ctx, host, port, key)
	}
}
