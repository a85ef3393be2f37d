package httpfrontend

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gravitational/trace"
	"github.com/julienschmidt/httprouter"

	"github.com/warpgated/warpgate/internal/authz"
	"github.com/warpgated/warpgate/internal/config"
)

type whoamiResponse struct {
	Authenticated bool   `json:"authenticated"`
	Username      string `json:"username,omitempty"`
	Need          string `json:"need,omitempty"`
}

// authStateForRequest resolves the caller's in-flight AuthState: the
// session cookie carries an auth id (not yet necessarily Accepted), created
// either by a prior login POST or by ensureAuthState when an SSO login
// begins.
func (s *Server) authStateForRequest(r *http.Request) (*authz.AuthState, bool) {
	id, ok := readSessionCookie(r)
	if !ok {
		return nil, false
	}
	return s.authStore.Get(id)
}

// ensureAuthState returns the request's existing AuthState, or creates one
// against ProtocolHTTP if none exists yet, stamping the new id onto the
// response's session cookie.
func (s *Server) ensureAuthState(w http.ResponseWriter, r *http.Request) (*authz.AuthState, error) {
	if state, ok := s.authStateForRequest(r); ok {
		return state, nil
	}
	_, state, err := s.authStore.Create(r.Context(), nil, "", config.ProtocolHTTP, []config.CredentialKind{
		config.CredentialPassword, config.CredentialOTP, config.CredentialSSO,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	setSessionCookie(w, s.baseDomain, s.cookieMaxAge, s.isSecure(r), state.ID)
	return state, nil
}

func (s *Server) handleWhoami(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	state, ok := s.authStateForRequest(r)
	if !ok {
		writeJSON(w, http.StatusOK, whoamiResponse{Authenticated: false})
		return
	}
	result := state.Verify()
	resp := whoamiResponse{}
	switch result.Kind {
	case authz.Accepted:
		resp.Authenticated = true
		resp.Username = result.Username
	case authz.Need:
		resp.Need = string(result.NeedKind)
	}
	writeJSON(w, http.StatusOK, resp)
}

type passwordLoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handlePasswordLogin(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req passwordLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}

	user, err := s.provider.GetUser(r.Context(), req.Username)
	if err != nil {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	ok := false
	for _, cred := range user.Credential.Passwords {
		if authz.VerifyPassword(req.Password, cred.Hash) {
			ok = true
			break
		}
	}
	if !ok {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	state, err := s.startAuthStateFor(w, r, req.Username)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	result := state.AddCredential(config.CredentialPassword)
	s.respondAuthResult(w, result)
}

type otpLoginRequest struct {
	Code string `json:"code"`
}

func (s *Server) handleOTPLogin(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	state, ok := s.authStateForRequest(r)
	if !ok || state.Username == "" {
		http.Error(w, "no pending login", http.StatusBadRequest)
		return
	}

	var req otpLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}

	user, err := s.provider.GetUser(r.Context(), state.Username)
	if err != nil {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	ok = false
	for _, cred := range user.Credential.OTPs {
		if authz.VerifyOTP(req.Code, cred.Base64Secret, time.Now()) {
			ok = true
			break
		}
	}
	if !ok {
		http.Error(w, "invalid code", http.StatusUnauthorized)
		return
	}

	result := state.AddCredential(config.CredentialOTP)
	s.respondAuthResult(w, result)
}

// startAuthStateFor replaces the caller's anonymous AuthState (created by
// ensureAuthState against an empty username) with one scoped to username,
// since the username is only known once the first credential is offered.
func (s *Server) startAuthStateFor(w http.ResponseWriter, r *http.Request, username string) (*authz.AuthState, error) {
	kinds := []config.CredentialKind{config.CredentialPassword, config.CredentialOTP, config.CredentialSSO}
	_, state, err := s.authStore.Create(r.Context(), nil, username, config.ProtocolHTTP, kinds)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	setSessionCookie(w, s.baseDomain, s.cookieMaxAge, s.isSecure(r), state.ID)
	return state, nil
}

func (s *Server) respondAuthResult(w http.ResponseWriter, result authz.Result) {
	resp := whoamiResponse{}
	switch result.Kind {
	case authz.Accepted:
		resp.Authenticated = true
		resp.Username = result.Username
	case authz.Need:
		resp.Need = string(result.NeedKind)
	case authz.NeedMore:
		resp.Need = "more"
	case authz.Rejected:
		http.Error(w, "rejected", http.StatusForbidden)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	clearSessionCookie(w, s.baseDomain, s.isSecure(r))
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
