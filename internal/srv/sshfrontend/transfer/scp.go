package transfer

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/gravitational/trace"
)

// scpState walks the sink side (`scp -t`) protocol: a control line
// (`C<mode> <size> <name>\n`, `D...`, `E\n`) followed, for `C` lines, by
// exactly `size` bytes of file content and a trailing NUL ack byte. SCP has
// no wire-encoding library (unlike SFTP); this is grounded on
// warpgate-protocol-ssh/src/scp/parser.rs, reimplemented as a small
// line/byte-oriented state machine instead of a combinator parser.
type scpState int

const (
	scpAwaitingControl scpState = iota
	scpReadingFileBody
)

// SCPInspector observes the client-to-target byte stream of an scp
// session, tracking one Session per file per spec §4.9.1. Every file it
// sees is recorded as an upload; for `scp -f` (download) the file headers
// and content flow from the target and are not inspected, so downloads are
// not tracked.
type SCPInspector struct {
	state     scpState
	remaining int64
	current   *Session
	Deny      func(path string, dir Direction) bool

	// pending buffers a not-yet-newline-terminated control line across
	// ObserveChunk calls, since the SSH channel delivers arbitrary byte
	// boundaries rather than whole protocol lines.
	pending []byte
}

// NewSCPInspector builds an inspector for a single scp invocation.
func NewSCPInspector() *SCPInspector {
	return &SCPInspector{state: scpAwaitingControl}
}

// ObserveChunk processes a chunk of the data stream. ok=false means the
// inspector wants the caller to substitute an SSH_FX-style `\x02<message>\n`
// error reply instead of relaying the chunk, per spec §4.9.1's SCP denial
// path.
func (ins *SCPInspector) ObserveChunk(chunk []byte) (ok bool, denyLine string) {
	for len(chunk) > 0 {
		switch ins.state {
		case scpReadingFileBody:
			take := int64(len(chunk))
			if take > ins.remaining {
				take = ins.remaining
			}
			if ins.current != nil {
				ins.current.Observe(chunk[:take])
			}
			ins.remaining -= take
			chunk = chunk[take:]
			if ins.remaining == 0 {
				if ins.current != nil {
					ins.current.Close()
					ins.current = nil
				}
				ins.state = scpAwaitingControl
			}

		case scpAwaitingControl:
			line, rest, found := cutLine(chunk)
			if !found {
				ins.pending = append(ins.pending, chunk...)
				return true, ""
			}
			chunk = rest
			full := line
			if len(ins.pending) > 0 {
				full = append(ins.pending, line...)
				ins.pending = nil
			}
			if err := ins.handleControlLine(full); err != nil {
				return false, fmt.Sprintf("\x02%s\n", err.Error())
			}
		}
	}
	return true, ""
}

func (ins *SCPInspector) handleControlLine(line []byte) error {
	if len(line) == 0 {
		return nil
	}
	switch line[0] {
	case 'C':
		mode, size, name, err := parseCLine(line)
		if err != nil {
			return nil // malformed lines are passed through untouched
		}
		_ = mode
		if ins.Deny != nil && ins.Deny(name, DirectionUpload) {
			return trace.AccessDenied("transfer of %q denied by policy", name)
		}
		ins.current = NewSession(name, DirectionUpload)
		ins.remaining = size
		ins.state = scpReadingFileBody
	case 'D', 'E':
		// directory push/pop: no file content follows.
	case '\x00':
		// A NUL ack (such as the one after a file's content) carries no
		// newline of its own, so it arrives glued to the next control line.
		return ins.handleControlLine(line[1:])
	case '\x01', '\x02':
		// warning/error lines from the peer; nothing to track.
	}
	return nil
}

// cutLine splits b at its first newline. A missing newline means the
// control line hasn't fully arrived yet; the caller should wait for more
// data rather than treating the partial line as complete; ObserveChunk
// keeps it in pending until the rest arrives.
func cutLine(b []byte) (line, rest []byte, found bool) {
	idx := bytes.IndexByte(b, '\n')
	if idx < 0 {
		return nil, b, false
	}
	return b[:idx], b[idx+1:], true
}

// parseCLine parses "C<mode> <size> <name>", skipping the leading 'C'.
func parseCLine(line []byte) (mode string, size int64, name string, err error) {
	s := string(line[1:])
	parts := strings.SplitN(s, " ", 3)
	if len(parts) != 3 {
		return "", 0, "", trace.BadParameter("malformed scp control line %q", s)
	}
	size, err = strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return "", 0, "", trace.BadParameter("malformed scp size in %q", s)
	}
	return parts[0], size, parts[2], nil
}
