package pgfrontend

import (
	"crypto/md5"
	"encoding/hex"
	"strings"

	"github.com/gravitational/trace"
	"github.com/jackc/pgproto3/v2"
)

// splitUserTarget applies the `user#target` convention shared with the SSH
// and MySQL front-ends, defaulting to "web_admin" when no '#' is present.
func splitUserTarget(raw string) (user, target string) {
	if i := strings.IndexByte(raw, '#'); i >= 0 {
		return raw[:i], raw[i+1:]
	}
	return raw, "web_admin"
}

// md5Password implements Postgres's MD5 challenge response:
// "md5" + hex(md5(hex(md5(password+user)) + salt)).
func md5Password(user, password string, salt [4]byte) string {
	first := md5.Sum([]byte(password + user))
	firstHex := hex.EncodeToString(first[:])
	second := md5.Sum(append([]byte(firstHex), salt[:]...))
	return "md5" + hex.EncodeToString(second[:])
}

// authenticateUpstream drives the upstream handshake on frontend using
// target's configured credentials, replying to whichever authentication
// request the upstream issues. SCRAM-SHA-256 is explicitly out of scope
// (spec §4.11): an AuthenticationSASL request ends the handshake with a
// NotImplemented error.
func authenticateUpstream(frontend *pgproto3.Frontend, user, password string) error {
	for {
		msg, err := frontend.Receive()
		if err != nil {
			return trace.Wrap(err)
		}
		switch m := msg.(type) {
		case *pgproto3.AuthenticationOk:
			return nil
		case *pgproto3.AuthenticationCleartextPassword:
			if err := frontend.Send(&pgproto3.PasswordMessage{Password: password}); err != nil {
				return trace.Wrap(err)
			}
		case *pgproto3.AuthenticationMD5Password:
			resp := md5Password(user, password, m.Salt)
			if err := frontend.Send(&pgproto3.PasswordMessage{Password: resp}); err != nil {
				return trace.Wrap(err)
			}
		case *pgproto3.AuthenticationSASL:
			return trace.NotImplemented("SCRAM-SHA-256 upstream authentication is not supported")
		case *pgproto3.ErrorResponse:
			return trace.AccessDenied("upstream rejected authentication: %s", m.Message)
		case *pgproto3.ReadyForQuery:
			return nil
		default:
			// ParameterStatus, BackendKeyData, NoticeResponse, etc. carry no
			// auth-flow meaning here; skip and keep reading.
		}
	}
}
