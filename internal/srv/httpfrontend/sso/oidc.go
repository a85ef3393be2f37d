// Package sso implements the OIDC-based browser SSO flow described in spec
// §4.10: PKCE + nonce-protected authorization code exchange, ID-token
// verification, and a (provider, email) lookup back into the active
// AuthState. Grounded on golang.org/x/oauth2 + github.com/coreos/go-oidc/v3,
// the combination the rest of the example pack reaches for OIDC login flows
// rather than hand-rolling JWT verification.
package sso

import (
	"context"
	"crypto/rand"
	"encoding/base64"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/gravitational/trace"
	"golang.org/x/oauth2"

	"github.com/warpgated/warpgate/internal/config"
)

// Claims are the identity facts Warpgate cares about once an ID token has
// verified: issuer/audience/nonce/expiry are already checked by the time
// Claims is populated, so only the (provider, email) pair Warpgate matches
// credentials against is carried forward.
type Claims struct {
	Email string
}

// Attempt is the server-side state a single SSO round trip needs between
// BeginAuth and the callback: the PKCE verifier and nonce must survive the
// redirect to the provider and back, so callers persist Attempt however
// their session layer does (a cookie, or keyed off an in-flight AuthState).
type Attempt struct {
	State        string
	Nonce        string
	CodeVerifier string
}

// Provider wraps one configured identity provider (Google, Apple, Azure, or
// a generic OIDC issuer) with its discovered endpoints and ID-token
// verifier.
type Provider struct {
	Name         string
	oauthConfig  *oauth2.Config
	oidcProvider *oidc.Provider
	verifier     *oidc.IDTokenVerifier
}

// NewProvider discovers cfg.Issuer's OIDC metadata and builds a Provider
// ready to drive the authorization-code-with-PKCE flow.
func NewProvider(ctx context.Context, cfg config.SSOProviderConfig, redirectURL string) (*Provider, error) {
	oidcProvider, err := oidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return nil, trace.Wrap(err, "discovering OIDC issuer %q", cfg.Issuer)
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID, "email", "profile"}
	}

	return &Provider{
		Name: cfg.Name,
		oauthConfig: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     oidcProvider.Endpoint(),
			RedirectURL:  redirectURL,
			Scopes:       scopes,
		},
		oidcProvider: oidcProvider,
		verifier:     oidcProvider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
	}, nil
}

// BeginAuth starts a new authorization attempt, returning the provider
// redirect URL plus the Attempt the caller must persist until the callback.
func BeginAuth(p *Provider) (redirectURL string, attempt Attempt, err error) {
	state, err := randomToken()
	if err != nil {
		return "", Attempt{}, trace.Wrap(err)
	}
	nonce, err := randomToken()
	if err != nil {
		return "", Attempt{}, trace.Wrap(err)
	}
	verifier := oauth2.GenerateVerifier()

	attempt = Attempt{State: state, Nonce: nonce, CodeVerifier: verifier}
	url := p.oauthConfig.AuthCodeURL(state,
		oidc.Nonce(nonce),
		oauth2.S256ChallengeOption(verifier),
	)
	return url, attempt, nil
}

// HandleCallback exchanges code for tokens, verifies the ID token against
// attempt's nonce, and returns the verified claims.
func HandleCallback(ctx context.Context, p *Provider, attempt Attempt, gotState, code string) (*Claims, error) {
	if gotState != attempt.State {
		return nil, trace.AccessDenied("sso callback state mismatch")
	}

	token, err := p.oauthConfig.Exchange(ctx, code, oauth2.VerifierOption(attempt.CodeVerifier))
	if err != nil {
		return nil, trace.Wrap(err, "exchanging sso authorization code")
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		return nil, trace.BadParameter("sso token response missing id_token")
	}

	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, trace.Wrap(err, "verifying sso id_token")
	}
	if idToken.Nonce != attempt.Nonce {
		return nil, trace.AccessDenied("sso id_token nonce mismatch")
	}

	var claims struct {
		Email string `json:"email"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, trace.Wrap(err, "decoding sso id_token claims")
	}
	if claims.Email == "" {
		return nil, trace.BadParameter("sso id_token carries no email claim")
	}

	return &Claims{Email: claims.Email}, nil
}

func randomToken() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", trace.Wrap(err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
