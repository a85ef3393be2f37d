package kubefrontend

import "strings"

// splitTargetPath implements spec §4.12's routing rule: the URL path's
// first segment names the target, and the rest is forwarded upstream
// unchanged (with a leading slash restored).
func splitTargetPath(path string) (target, rest string) {
	trimmed := strings.TrimPrefix(path, "/")
	i := strings.IndexByte(trimmed, '/')
	if i < 0 {
		return trimmed, "/"
	}
	return trimmed[:i], trimmed[i:]
}

// isExecOrAttach reports whether rest names a pods exec or attach
// sub-resource, the only requests spec §4.12 upgrades to a WebSocket
// bridge rather than a plain reverse-proxy round trip.
func isExecOrAttach(rest string) bool {
	return strings.HasSuffix(rest, "/exec") || strings.HasSuffix(rest, "/attach")
}
