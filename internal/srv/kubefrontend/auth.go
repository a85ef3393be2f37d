package kubefrontend

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"strings"
	"time"

	"github.com/gravitational/trace"

	"github.com/warpgated/warpgate/internal/authz"
	"github.com/warpgated/warpgate/internal/config"
)

// authenticate implements spec §4.12's dual auth path: a client certificate
// is tried first since `tls.RequestClientCert` means one may or may not be
// present, falling back to an `Authorization: Bearer` header.
func (s *Server) authenticate(ctx context.Context, r *http.Request) (string, error) {
	if r.TLS != nil && len(r.TLS.PeerCertificates) > 0 {
		offered := certToPEM(r.TLS.PeerCertificates[0])
		if user, err := s.provider.FindUserByCertificate(ctx, offered); err == nil {
			if authz.VerifyCertificate(offered, user.Credential.Certificates) >= 0 {
				if err := s.admitCredential(ctx, user.Username, config.CredentialCertificate); err != nil {
					return "", err
				}
				return user.Username, nil
			}
		}
	}

	if token, ok := bearerToken(r); ok {
		if user, err := s.provider.FindUserByToken(ctx, token); err == nil {
			for _, cred := range user.Credential.Tokens {
				if authz.VerifyToken(token, cred, time.Now()) {
					if err := s.admitCredential(ctx, user.Username, config.CredentialToken); err != nil {
						return "", err
					}
					return user.Username, nil
				}
			}
		}
	}

	return "", trace.AccessDenied("no valid client certificate or bearer token offered")
}

// admitCredential drives a fresh AuthState to completion the way the
// database front-ends do: a single-shot request offers exactly one
// credential, so this always resolves to Accepted or a policy rejection.
func (s *Server) admitCredential(ctx context.Context, username string, kind config.CredentialKind) error {
	_, state, err := s.authStore.Create(ctx, nil, username, config.ProtocolKubernetes, []config.CredentialKind{kind})
	if err != nil {
		return trace.Wrap(err)
	}
	if result := state.AddCredential(kind); result.Kind != authz.Accepted {
		return trace.AccessDenied("credential policy not satisfied by a single %s", kind)
	}
	return nil
}

func bearerToken(r *http.Request) (string, bool) {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, prefix) {
		return "", false
	}
	return strings.TrimPrefix(h, prefix), true
}

func certToPEM(cert *x509.Certificate) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})
}
