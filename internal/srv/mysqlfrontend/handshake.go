package mysqlfrontend

import (
	"crypto/rand"
	"encoding/binary"
	"strings"

	"github.com/go-mysql-org/go-mysql/packet"
	"github.com/gravitational/trace"
)

// MySQL capability flags this front-end cares about (protocol constants,
// not exported by go-mysql-org/go-mysql's packet-framing layer).
const (
	capClientSSL           uint32 = 0x00000800
	capClientPluginAuth    uint32 = 0x00080000
	capClientConnectWithDB uint32 = 0x00000008
	capClientSecureConn    uint32 = 0x00008000
	capClientProtocol41    uint32 = 0x00000200
)

const serverCapabilities = capClientProtocol41 | capClientSSL | capClientPluginAuth | capClientSecureConn | capClientConnectWithDB

// clearTextAuthPlugin is used instead of mysql_native_password: Warpgate
// stores Argon2id password hashes (spec §4.4), which are one-way, so the
// client must be asked to send the password in cleartext rather than a
// challenge-response scramble the server could only verify against a
// reversible or precomputed secret. Grounded on
// original_source/warpgate-database-protocols/src/mysql/protocol/connect/handshake.rs,
// which hand-parses this same handshake rather than going through a
// library's fixed-credential auth callback.
const clearTextAuthPlugin = "mysql_clear_password"

// initialHandshake holds the per-connection salt used to build the server's
// greeting packet. The salt is unused by clearTextAuthPlugin (no scrambling
// happens) but is still sent since every MySQL client expects one.
type initialHandshake struct {
	connectionID uint32
	salt         []byte
}

func newInitialHandshake(connID uint32) (*initialHandshake, error) {
	salt := make([]byte, 20)
	if _, err := rand.Read(salt); err != nil {
		return nil, trace.Wrap(err)
	}
	return &initialHandshake{connectionID: connID, salt: salt}, nil
}

// writeGreeting sends the protocol-10 initial handshake packet advertising
// clearTextAuthPlugin and TLS support.
func (h *initialHandshake) writeGreeting(conn *packet.Conn, serverVersion string) error {
	var b []byte
	b = append(b, 10) // protocol version
	b = append(b, []byte(serverVersion)...)
	b = append(b, 0)
	idBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(idBuf, h.connectionID)
	b = append(b, idBuf...)
	b = append(b, h.salt[:8]...)
	b = append(b, 0) // filler
	b = append(b, byte(serverCapabilities), byte(serverCapabilities>>8))
	b = append(b, 0xff)      // charset: utf8mb4 (approx; exact collation id not load-bearing here)
	b = append(b, 0x02, 0x00) // status flags: SERVER_STATUS_AUTOCOMMIT
	b = append(b, byte(serverCapabilities>>16), byte(serverCapabilities>>24))
	b = append(b, byte(len(h.salt)+1))
	b = append(b, make([]byte, 10)...) // reserved
	b = append(b, h.salt[8:]...)
	b = append(b, 0)
	b = append(b, []byte(clearTextAuthPlugin)...)
	b = append(b, 0)
	return conn.WritePacket(b)
}

// clientHandshake is the subset of the client's handshake response this
// front-end needs: the `user#target` convention (spec §4.9's username
// convention, reused verbatim for MySQL/Postgres per spec §4.11) and the
// cleartext password clearTextAuthPlugin solicited.
type clientHandshake struct {
	Username string
	Target   string
	Password string
	Database string
	wantsSSL bool
}

// parseClientHandshakeResponse hand-parses a protocol-41 handshake response
// packet. SSLRequest packets (capability flags + charset only, no
// username) are distinguished by their short, fixed length.
func parseClientHandshakeResponse(data []byte) (*clientHandshake, error) {
	if len(data) < 32 {
		return nil, trace.BadParameter("short mysql handshake response packet")
	}
	capabilities := binary.LittleEndian.Uint32(data[0:4])
	// SSLRequest: capability flags + max packet size + charset + 23 reserved
	// bytes, nothing else (client hasn't sent credentials yet).
	if len(data) == 32 {
		return &clientHandshake{wantsSSL: capabilities&capClientSSL != 0}, nil
	}

	pos := 32
	user, pos, err := readNullString(data, pos)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	var password string
	if capabilities&capClientSecureConn != 0 {
		if pos >= len(data) {
			return nil, trace.BadParameter("truncated mysql handshake response")
		}
		authLen := int(data[pos])
		pos++
		if pos+authLen > len(data) {
			return nil, trace.BadParameter("truncated mysql auth response")
		}
		password = string(data[pos : pos+authLen])
		pos += authLen
	}

	var database string
	if capabilities&capClientConnectWithDB != 0 && pos < len(data) {
		database, _, err = readNullString(data, pos)
		if err != nil {
			return nil, trace.Wrap(err)
		}
	}

	username, target := splitUserTarget(user)
	return &clientHandshake{
		Username: username,
		Target:   target,
		Password: password,
		Database: database,
		wantsSSL: capabilities&capClientSSL != 0,
	}, nil
}

func readNullString(b []byte, pos int) (string, int, error) {
	end := pos
	for end < len(b) && b[end] != 0 {
		end++
	}
	if end >= len(b) {
		return "", 0, trace.BadParameter("unterminated mysql null-terminated string")
	}
	return string(b[pos:end]), end + 1, nil
}

// splitUserTarget applies the `user#target` convention shared with the SSH
// front-end (spec §4.9), defaulting to "web_admin" when no '#' is present.
func splitUserTarget(raw string) (user, target string) {
	if i := strings.IndexByte(raw, '#'); i >= 0 {
		return raw[:i], raw[i+1:]
	}
	return raw, "web_admin"
}

func writeOKPacket(conn *packet.Conn) error {
	return conn.WritePacket([]byte{0x00, 0x00, 0x00, 0x02, 0x00, 0x00, 0x00})
}

func writeErrorPacket(conn *packet.Conn, code uint16, message string) error {
	b := []byte{0xff}
	codeBuf := make([]byte, 2)
	binary.LittleEndian.PutUint16(codeBuf, code)
	b = append(b, codeBuf...)
	b = append(b, '#')
	b = append(b, []byte("HY000")...)
	b = append(b, []byte(message)...)
	return conn.WritePacket(b)
}
