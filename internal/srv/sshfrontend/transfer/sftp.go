package transfer

import (
	"encoding/binary"
	"sync"

	"github.com/gravitational/trace"
)

// sshFxPermissionDenied is SSH_FX_PERMISSION_DENIED from
// draft-ietf-secsh-filexfer. pkg/sftp keeps the matching status code
// unexported behind its client/server implementation, so it's reproduced
// here rather than imported.
const sshFxPermissionDenied = 3

// SFTP packet type numbers from draft-ietf-secsh-filexfer. pkg/sftp keeps
// its own wire-encoding types private to its internal client/server
// implementation, so Warpgate reads just the handful of fields it needs to
// observe (not fully terminate) the protocol by hand, the way the teacher's
// own sftp helper treats pkg/sftp as a library for *running* an SFTP
// endpoint rather than for parsing arbitrary relayed packets.
const (
	fxpOpen   = 3
	fxpClose  = 4
	fxpRead   = 5
	fxpWrite  = 6
	fxpData   = 103
	fxpHandle = 102
	fxpStatus = 101
)

const (
	flagWrite = 0x00000002
	flagRead  = 0x00000001
)

type pendingOpen struct {
	path string
	dir  Direction
}

// SFTPInspector observes an SFTP byte stream passing between a client and
// an upstream server, tracking per-handle transfer Sessions (spec §4.9.1).
// It rewrites no packet itself; InspectClientPacket reports the OPEN
// requests that Deny refuses.
type SFTPInspector struct {
	mu  sync.Mutex
	// requestID -> pending OPEN, resolved once the matching HANDLE arrives.
	pendingOpens map[uint32]pendingOpen
	// requestID -> handle, for READ requests whose DATA replies don't carry
	// the handle themselves.
	pendingReads map[uint32]string
	sessions     map[string]*Session

	// Deny, if set, is consulted before a new transfer starts; returning
	// true makes InspectClientPacket return ok=false with a synthesized
	// SSH_FX_PERMISSION_DENIED status the caller should send back to the
	// client instead of relaying the OPEN request upstream.
	Deny func(path string, dir Direction) bool
}

// NewSFTPInspector builds an inspector with empty tracking tables.
func NewSFTPInspector() *SFTPInspector {
	return &SFTPInspector{
		pendingOpens: map[uint32]pendingOpen{},
		pendingReads: map[uint32]string{},
		sessions:     map[string]*Session{},
	}
}

// InspectClientPacket processes one SFTP packet (length-prefix already
// stripped, payload starting at the type byte) sent from client to server.
// It returns ok=false with a deny status payload when policy forbids the
// transfer, in which case the caller must not relay the original packet.
func (ins *SFTPInspector) InspectClientPacket(payload []byte) (ok bool, denyStatus []byte) {
	if len(payload) < 5 {
		return true, nil
	}
	typ := payload[0]
	reqID := binary.BigEndian.Uint32(payload[1:5])
	body := payload[5:]

	switch typ {
	case fxpOpen:
		path, rest, err := readString(body)
		if err != nil {
			return true, nil
		}
		var pflags uint32
		if len(rest) >= 4 {
			pflags = binary.BigEndian.Uint32(rest[:4])
		}
		dir := DirectionDownload
		if pflags&flagWrite != 0 {
			dir = DirectionUpload
		}
		if ins.Deny != nil && ins.Deny(path, dir) {
			return false, permissionDeniedStatus(reqID)
		}
		ins.mu.Lock()
		ins.pendingOpens[reqID] = pendingOpen{path: path, dir: dir}
		ins.mu.Unlock()

	case fxpRead:
		handle, _, err := readString(body)
		if err == nil {
			ins.mu.Lock()
			ins.pendingReads[reqID] = handle
			ins.mu.Unlock()
		}

	case fxpWrite:
		handle, rest, err := readString(body)
		if err != nil {
			return true, nil
		}
		if len(rest) < 8 {
			return true, nil
		}
		data, _, err := readString(rest[8:])
		if err != nil {
			return true, nil
		}
		ins.mu.Lock()
		if sess, ok := ins.sessions[handle]; ok {
			sess.Observe(data)
		}
		ins.mu.Unlock()

	case fxpClose:
		handle, _, err := readString(body)
		if err == nil {
			ins.mu.Lock()
			sess, ok := ins.sessions[handle]
			delete(ins.sessions, handle)
			ins.mu.Unlock()
			if ok {
				sess.Close()
			}
		}
	}
	return true, nil
}

// InspectServerPacket processes one SFTP packet sent from the upstream
// server back to the client, resolving pending HANDLE/DATA correlations.
func (ins *SFTPInspector) InspectServerPacket(payload []byte) {
	if len(payload) < 5 {
		return
	}
	typ := payload[0]
	reqID := binary.BigEndian.Uint32(payload[1:5])
	body := payload[5:]

	switch typ {
	case fxpHandle:
		handle, _, err := readString(body)
		if err != nil {
			return
		}
		ins.mu.Lock()
		if pending, ok := ins.pendingOpens[reqID]; ok {
			delete(ins.pendingOpens, reqID)
			ins.sessions[handle] = NewSession(pending.path, pending.dir)
		}
		ins.mu.Unlock()

	case fxpData:
		data, _, err := readString(body)
		if err != nil {
			return
		}
		ins.mu.Lock()
		handle, ok := ins.pendingReads[reqID]
		delete(ins.pendingReads, reqID)
		if ok {
			if sess, ok := ins.sessions[handle]; ok {
				sess.Observe(data)
			}
		}
		ins.mu.Unlock()
	}
}

func readString(b []byte) (string, []byte, error) {
	if len(b) < 4 {
		return "", nil, trace.BadParameter("short sftp string header")
	}
	n := binary.BigEndian.Uint32(b[:4])
	if uint32(len(b)-4) < n {
		return "", nil, trace.BadParameter("short sftp string body")
	}
	return string(b[4 : 4+n]), b[4+n:], nil
}

// permissionDeniedStatus builds a minimal SSH_FXP_STATUS packet (type byte
// plus request id plus SSH_FX_PERMISSION_DENIED code) to hand back to a
// denied client.
func permissionDeniedStatus(reqID uint32) []byte {
	buf := make([]byte, 0, 9)
	buf = append(buf, fxpStatus)
	reqBytes := make([]byte, 4)
	binary.BigEndian.PutUint32(reqBytes, reqID)
	buf = append(buf, reqBytes...)
	codeBytes := make([]byte, 4)
	binary.BigEndian.PutUint32(codeBytes, sshFxPermissionDenied)
	buf = append(buf, codeBytes...)
	return buf
}
