package httpfrontend

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gravitational/trace"
	"github.com/julienschmidt/httprouter"

	"github.com/warpgated/warpgate/internal/config"
	"github.com/warpgated/warpgate/internal/srv/httpfrontend/sso"
)

// ssoProvider returns the discovered sso.Provider for name, discovering it
// (a network round trip to the issuer's well-known document) on first use
// and caching the result for the server's lifetime.
func (s *Server) ssoProvider(ctx context.Context, name string) (*sso.Provider, error) {
	s.ssoMu.Lock()
	defer s.ssoMu.Unlock()

	if p, ok := s.ssoProviders[name]; ok && p != nil {
		return p, nil
	}
	var cfg *config.SSOProviderConfig
	for i := range s.ssoConfigs {
		if s.ssoConfigs[i].Name == name {
			cfg = &s.ssoConfigs[i]
			break
		}
	}
	if cfg == nil {
		return nil, trace.NotFound("sso provider %q not configured", name)
	}

	redirectURL := fmt.Sprintf("https://%s/@warpgate/api/login/sso/%s/callback", s.baseDomain, name)
	provider, err := sso.NewProvider(ctx, *cfg, redirectURL)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	s.ssoProviders[name] = provider
	return provider, nil
}

func (s *Server) handleSSOBegin(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	name := p.ByName("provider")
	provider, err := s.ssoProvider(r.Context(), name)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	state, err := s.ensureAuthState(w, r)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	redirectURL, attempt, err := sso.BeginAuth(provider)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	s.ssoMu.Lock()
	s.ssoPending[attempt.State] = pendingSSO{authID: state.ID, provider: name, attempt: attempt}
	s.ssoMu.Unlock()

	http.Redirect(w, r, redirectURL, http.StatusFound)
}

func (s *Server) handleSSOCallback(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	name := p.ByName("provider")
	gotState := r.URL.Query().Get("state")
	code := r.URL.Query().Get("code")

	s.ssoMu.Lock()
	pending, ok := s.ssoPending[gotState]
	if ok {
		delete(s.ssoPending, gotState)
	}
	s.ssoMu.Unlock()
	if !ok || pending.provider != name {
		http.Error(w, "unknown or expired sso attempt", http.StatusBadRequest)
		return
	}

	provider, err := s.ssoProvider(r.Context(), name)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	claims, err := sso.HandleCallback(r.Context(), provider, pending.attempt, gotState, code)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	user, err := s.provider.FindUserBySSO(r.Context(), name, claims.Email)
	if err != nil {
		http.Error(w, "no matching user for sso identity", http.StatusForbidden)
		return
	}

	authState, ok := s.authStore.Get(pending.authID)
	if !ok {
		http.Error(w, "sso attempt's auth state has expired", http.StatusGone)
		return
	}
	authState.SetUsername(user.Username)
	authState.AddCredential(config.CredentialSSO)
	http.Redirect(w, r, "/@warpgate", http.StatusFound)
}
