package httpfrontend

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/warpgated/warpgate/internal/authz"
	"github.com/warpgated/warpgate/internal/config"
	"github.com/warpgated/warpgate/internal/ratelimit"
)

// resolveTarget implements spec §4.10's HTTP target routing: an exact
// `Host:` match against a target's configured external_host, or a
// `?warpgate-target=` query parameter fallback (matching spec's
// "`Host: <external_host>` exact match, or fallback
// `?warpgate-target=<name>`").
func (s *Server) resolveTarget(r *http.Request) (*config.Target, error) {
	host := r.Host
	if i := strings.IndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}

	targets, err := s.provider.ListTargets(r.Context())
	if err != nil {
		return nil, err
	}
	for _, t := range targets {
		if t.Options.Kind != config.TargetKindHTTP || t.Options.HTTP == nil {
			continue
		}
		if t.Options.HTTP.ExternalHost != nil && *t.Options.HTTP.ExternalHost == host {
			return t, nil
		}
	}

	if name := r.URL.Query().Get("warpgate-target"); name != "" {
		return s.provider.GetTarget(r.Context(), name)
	}

	return nil, errNoTargetMatch
}

var errNoTargetMatch = fmt.Errorf("no target matches this request")

// serveTargetProxy handles every request outside the `/@warpgate/**` zone:
// resolve the target, check the caller is authenticated and authorized,
// then forward the request upstream (or bridge it as a WebSocket).
func (s *Server) serveTargetProxy(w http.ResponseWriter, r *http.Request) {
	target, err := s.resolveTarget(r)
	if err != nil || target.Options.HTTP == nil {
		http.Error(w, "unknown target", http.StatusNotFound)
		return
	}

	state, ok := s.authStateForRequest(r)
	if !ok {
		s.redirectToLogin(w, r)
		return
	}
	result := state.Verify()
	if result.Kind != authz.Accepted {
		s.redirectToLogin(w, r)
		return
	}

	authorized, err := s.provider.AuthorizeTarget(r.Context(), result.Username, target.Name)
	if err != nil || !authorized {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	upstreamURL, err := url.Parse(target.Options.HTTP.URL)
	if err != nil {
		http.Error(w, "misconfigured target", http.StatusBadGateway)
		return
	}

	var limiters *ratelimit.Stack
	if s.limiters != nil {
		limiters = s.limiters(result.Username, target.Name)
	}

	if isWebSocketUpgrade(r) {
		s.bridgeWebSocket(w, r, upstreamURL, limiters)
		return
	}
	s.forwardHTTP(w, r, target, upstreamURL)
}

func (s *Server) redirectToLogin(w http.ResponseWriter, r *http.Request) {
	next := url.QueryEscape(r.URL.RequestURI())
	http.Redirect(w, r, "/@warpgate?next="+next, http.StatusFound)
}

// forwardHTTP relays a plain (non-WebSocket) request to upstreamURL,
// rewriting Host and adding X-Forwarded-* per spec §4.10, and streams the
// response back without buffering beyond one chunk so SSE/chunked bodies
// pass through live.
func (s *Server) forwardHTTP(w http.ResponseWriter, r *http.Request, target *config.Target, upstreamURL *url.URL) {
	outReq := r.Clone(r.Context())
	outReq.URL.Scheme = upstreamURL.Scheme
	outReq.URL.Host = upstreamURL.Host
	outReq.URL.Path = singleJoiningSlash(upstreamURL.Path, r.URL.Path)
	outReq.Host = upstreamURL.Host
	outReq.RequestURI = ""

	for k, v := range target.Options.HTTP.Headers {
		outReq.Header.Set(k, v)
	}
	appendForwardedHeaders(outReq, r)

	transport := http.DefaultTransport
	if target.Options.HTTP.TLS.Mode != config.TLSDisabled && !target.Options.HTTP.TLS.Verify {
		transport = insecureTransport()
	}

	resp, err := transport.RoundTrip(outReq)
	if err != nil {
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	for k, vs := range resp.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)

	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 32*1024)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			w.Write(buf[:n])
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err != nil {
			return
		}
	}
}

func appendForwardedHeaders(outReq, original *http.Request) {
	clientIP := original.RemoteAddr
	if host, _, err := net.SplitHostPort(original.RemoteAddr); err == nil {
		clientIP = host
	}
	if prior := original.Header.Get("X-Forwarded-For"); prior != "" {
		outReq.Header.Set("X-Forwarded-For", prior+", "+clientIP)
	} else {
		outReq.Header.Set("X-Forwarded-For", clientIP)
	}
	proto := "http"
	if original.TLS != nil {
		proto = "https"
	}
	outReq.Header.Set("X-Forwarded-Proto", proto)
	outReq.Header.Set("X-Forwarded-Host", original.Host)
}

func singleJoiningSlash(a, b string) string {
	aSlash := strings.HasSuffix(a, "/")
	bSlash := strings.HasPrefix(b, "/")
	switch {
	case aSlash && bSlash:
		return a + b[1:]
	case !aSlash && !bSlash:
		return a + "/" + b
	}
	return a + b
}

func isWebSocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Connection"), "upgrade") &&
		strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  32 * 1024,
	WriteBufferSize: 32 * 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// bridgeWebSocket hijacks the client connection, dials the same path
// upstream as a WebSocket client, and relays frames in both directions
// until either side closes, rate-limiting the client->upstream direction.
func (s *Server) bridgeWebSocket(w http.ResponseWriter, r *http.Request, upstreamURL *url.URL, limiters *ratelimit.Stack) {
	clientConn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer clientConn.Close()

	scheme := "ws"
	if upstreamURL.Scheme == "https" {
		scheme = "wss"
	}
	target := *upstreamURL
	target.Scheme = scheme
	target.Path = singleJoiningSlash(upstreamURL.Path, r.URL.Path)
	target.RawQuery = r.URL.RawQuery

	dialer := websocket.Dialer{}
	upstreamConn, _, err := dialer.DialContext(r.Context(), target.String(), nil)
	if err != nil {
		clientConn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "upstream unavailable"), nil)
		return
	}
	defer upstreamConn.Close()

	done := make(chan struct{}, 2)
	go func() {
		defer func() { done <- struct{}{} }()
		relayWS(r.Context(), clientConn, upstreamConn, limiters)
	}()
	go func() {
		defer func() { done <- struct{}{} }()
		relayWS(r.Context(), upstreamConn, clientConn, nil)
	}()
	<-done
}

func relayWS(ctx context.Context, from, to *websocket.Conn, limiters *ratelimit.Stack) {
	for {
		msgType, data, err := from.ReadMessage()
		if err != nil {
			return
		}
		if limiters != nil {
			if err := limiters.Sleep(ctx, len(data)); err != nil {
				return
			}
		}
		if err := to.WriteMessage(msgType, data); err != nil {
			return
		}
	}
}

// insecureTransport is used only when a target's tls.verify is explicitly
// false (spec §4.11's per-target TLS verify toggle, generalized here to
// HTTP targets); it is never the default.
func insecureTransport() http.RoundTripper {
	return &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}}
}
