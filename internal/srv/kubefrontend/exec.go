package kubefrontend

import (
	"context"
	"net/http"
	"net/url"

	"github.com/gorilla/websocket"

	"github.com/warpgated/warpgate/internal/config"
	"github.com/warpgated/warpgate/internal/ratelimit"
	"github.com/warpgated/warpgate/internal/recording"
)

// execChannelNames names the Kubernetes exec/attach WebSocket
// sub-protocol's channel-byte convention: the first byte of every frame
// selects the stream it carries. SPDY's equivalent framing is out of scope
// (spec §4.12 Non-goals); only the WebSocket sub-protocol is bridged.
var execChannelNames = map[byte]string{
	0: "stdin",
	1: "stdout",
	2: "stderr",
	3: "error",
	4: "resize",
}

var execUpgrader = websocket.Upgrader{
	ReadBufferSize:  32 * 1024,
	WriteBufferSize: 32 * 1024,
	Subprotocols:    []string{"v4.channel.k8s.io", "v3.channel.k8s.io", "channel.k8s.io"},
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// bridgeExec upgrades the client side to a WebSocket, dials the same
// exec/attach path upstream, and relays frames bidirectionally, recording
// the decoded stream content through rec (spec §4.12: "each frame is
// copied through a ... recorder").
func (s *Server) bridgeExec(w http.ResponseWriter, r *http.Request, target *config.TargetKubernetesOptions, restPath string, rec *recording.KubernetesRecorder, limiters *ratelimit.Stack) {
	clientConn, err := execUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer clientConn.Close()

	base, err := url.Parse(target.ClusterURL)
	if err != nil {
		return
	}
	scheme := "wss"
	if base.Scheme == "http" {
		scheme = "ws"
	}
	upstreamURL := *base
	upstreamURL.Scheme = scheme
	upstreamURL.Path = restPath
	upstreamURL.RawQuery = r.URL.RawQuery

	tlsCfg, err := upstreamTLSConfig(target)
	if err != nil {
		clientConn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "misconfigured target"), nil)
		return
	}

	header := http.Header{}
	if target.Auth == config.KubeAuthBearer {
		header.Set("Authorization", "Bearer "+target.BearerToken)
	}

	dialer := websocket.Dialer{TLSClientConfig: tlsCfg, Subprotocols: execUpgrader.Subprotocols}
	upstreamConn, _, err := dialer.DialContext(r.Context(), upstreamURL.String(), header)
	if err != nil {
		clientConn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "upstream unavailable"), nil)
		return
	}
	defer upstreamConn.Close()

	done := make(chan struct{}, 2)
	go func() {
		defer func() { done <- struct{}{} }()
		relayExec(r.Context(), clientConn, upstreamConn, rec, limiters)
	}()
	go func() {
		defer func() { done <- struct{}{} }()
		relayExec(r.Context(), upstreamConn, clientConn, rec, nil)
	}()
	<-done
}

// relayExec copies WebSocket frames from one connection to the other,
// decoding the leading channel byte to feed rec and rate-limiting only the
// client->upstream direction (limiters non-nil on that call only).
func relayExec(ctx context.Context, from, to *websocket.Conn, rec *recording.KubernetesRecorder, limiters *ratelimit.Stack) {
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
		if rec != nil && len(data) > 0 {
			if name, ok := execChannelNames[data[0]]; ok {
				rec.WriteStream(ctx, name, data[1:])
			}
		}
		if err := to.WriteMessage(msgType, data); err != nil {
			return
		}
	}
}
