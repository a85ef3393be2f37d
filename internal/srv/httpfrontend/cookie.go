package httpfrontend

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// sessionCookieName is the `/@warpgate` management surface's session cookie,
// matching spec §4.10.
const sessionCookieName = "warpgate-session"

// domainForCookie returns the Domain= attribute to stamp on the session
// cookie: baseDomain when configured, or empty (no Domain= at all) when
// baseDomain is empty or "localhost", where subdomain sharing makes no
// sense; an IP address is used as given. Per spec
// §4.10's "on localhost the Domain= attribute is omitted".
func domainForCookie(baseDomain string) string {
	if baseDomain == "" || baseDomain == "localhost" {
		return ""
	}
	return baseDomain
}

// setSessionCookie stamps authID as the management-surface session cookie.
// secure is true whenever the listener terminates TLS (always, in practice,
// since internal/srv/httpfrontend only ever listens HTTPS) and is threaded
// through explicitly so tests can exercise the plaintext branch.
func setSessionCookie(w http.ResponseWriter, baseDomain string, maxAge time.Duration, secure bool, authID uuid.UUID) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    authID.String(),
		Path:     "/",
		Domain:   domainForCookie(baseDomain),
		MaxAge:   int(maxAge.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteNoneMode,
	})
}

// clearSessionCookie expires the session cookie immediately, used on logout.
func clearSessionCookie(w http.ResponseWriter, baseDomain string, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   domainForCookie(baseDomain),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteNoneMode,
	})
}

// readSessionCookie extracts the auth id from the request's session cookie,
// if present and well-formed.
func readSessionCookie(r *http.Request) (uuid.UUID, bool) {
	c, err := r.Cookie(sessionCookieName)
	if err != nil || c.Value == "" {
		return uuid.UUID{}, false
	}
	id, err := uuid.Parse(c.Value)
	if err != nil {
		return uuid.UUID{}, false
	}
	return id, true
}

// isManagementPath reports whether p falls under the `/@warpgate/**` zone
// (spec §4.10).
func isManagementPath(p string) bool {
	return p == "/@warpgate" || strings.HasPrefix(p, "/@warpgate/")
}
