package kubefrontend

import (
	"crypto/tls"
	"net/http"
	"net/url"

	"github.com/gravitational/trace"
	"k8s.io/client-go/rest"

	"github.com/warpgated/warpgate/internal/config"
)

// restConfigFor builds the k8s.io/client-go/rest.Config describing how
// Warpgate authenticates to target's cluster, per the target's own
// configured Auth kind (spec §4.12: "attaching either a Bearer token or a
// client-cert Identity per target config").
func restConfigFor(target *config.TargetKubernetesOptions) *rest.Config {
	cfg := &rest.Config{
		Host: target.ClusterURL,
		TLSClientConfig: rest.TLSClientConfig{
			Insecure: !target.TLS.Verify,
		},
	}
	switch target.Auth {
	case config.KubeAuthBearer:
		cfg.BearerToken = target.BearerToken
	case config.KubeAuthCert:
		cfg.TLSClientConfig.CertData = []byte(target.ClientCert)
		cfg.TLSClientConfig.KeyData = []byte(target.ClientKey)
	}
	return cfg
}

// upstreamClient builds an *http.Client whose transport already carries
// target's TLS/Bearer identity, reusing client-go's transport construction
// instead of hand-rolling it (spec §4.12).
func upstreamClient(target *config.TargetKubernetesOptions) (*http.Client, error) {
	client, err := rest.HTTPClientFor(restConfigFor(target))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return client, nil
}

// upstreamTLSConfig derives the *tls.Config a raw (non-rest.Client) dialer
// needs, for the WebSocket exec/attach path which can't go through
// rest.HTTPClientFor's http.RoundTripper.
func upstreamTLSConfig(target *config.TargetKubernetesOptions) (*tls.Config, error) {
	cfg, err := rest.TLSConfigFor(restConfigFor(target))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return cfg, nil
}

// forwardREST relays a plain (non-exec/attach) API request upstream,
// rewriting the path to drop the leading target segment (spec §4.12: "the
// proxy ... forwards the remainder of the request").
func (s *Server) forwardREST(w http.ResponseWriter, r *http.Request, clusterURL, restPath string, client *http.Client) {
	base, err := url.Parse(clusterURL)
	if err != nil {
		http.Error(w, "misconfigured target", http.StatusBadGateway)
		return
	}

	outReq := r.Clone(r.Context())
	outReq.URL.Scheme = base.Scheme
	outReq.URL.Host = base.Host
	outReq.URL.Path = restPath
	outReq.Host = base.Host
	outReq.RequestURI = ""

	resp, err := client.Do(outReq)
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
