package mysqlfrontend

import "testing"

func TestSplitUserTarget(t *testing.T) {
	cases := []struct {
		raw, user, target string
	}{
		{"alice#prod", "alice", "prod"},
		{"alice", "alice", "web_admin"},
		{"alice#prod#extra", "alice", "prod#extra"},
		{"", "", "web_admin"},
	}
	for _, c := range cases {
		user, target := splitUserTarget(c.raw)
		if user != c.user || target != c.target {
			t.Fatalf("splitUserTarget(%q) = (%q, %q), want (%q, %q)", c.raw, user, target, c.user, c.target)
		}
	}
}

func buildHandshakeResponse(t *testing.T, user, password, database string) []byte {
	t.Helper()
	caps := capClientProtocol41 | capClientSecureConn
	var b []byte
	capBuf := make([]byte, 4)
	capBuf[0] = byte(caps)
	capBuf[1] = byte(caps >> 8)
	capBuf[2] = byte(caps >> 16)
	capBuf[3] = byte(caps >> 24)
	b = append(b, capBuf...)
	b = append(b, 0, 0, 0, 0) // max packet size
	b = append(b, 0xff)       // charset
	b = append(b, make([]byte, 23)...)
	b = append(b, []byte(user)...)
	b = append(b, 0)
	b = append(b, byte(len(password)))
	b = append(b, []byte(password)...)
	if database != "" {
		caps |= capClientConnectWithDB
		capBuf[0] = byte(caps)
		capBuf[1] = byte(caps >> 8)
		capBuf[2] = byte(caps >> 16)
		capBuf[3] = byte(caps >> 24)
		copy(b[0:4], capBuf)
		b = append(b, []byte(database)...)
		b = append(b, 0)
	}
	return b
}

func TestParseClientHandshakeResponse(t *testing.T) {
	data := buildHandshakeResponse(t, "alice#prod", "hunter2", "orders")
	hs, err := parseClientHandshakeResponse(data)
	if err != nil {
		t.Fatalf("parseClientHandshakeResponse: %v", err)
	}
	if hs.Username != "alice" || hs.Target != "prod" {
		t.Fatalf("got username=%q target=%q", hs.Username, hs.Target)
	}
	if hs.Password != "hunter2" {
		t.Fatalf("got password=%q, want hunter2", hs.Password)
	}
	if hs.Database != "orders" {
		t.Fatalf("got database=%q, want orders", hs.Database)
	}
	if hs.wantsSSL {
		t.Fatalf("wantsSSL should be false when CLIENT_SSL isn't set")
	}
}

func TestParseClientHandshakeResponseSSLRequest(t *testing.T) {
	caps := capClientProtocol41 | capClientSSL
	b := make([]byte, 32)
	b[0] = byte(caps)
	b[1] = byte(caps >> 8)
	b[2] = byte(caps >> 16)
	b[3] = byte(caps >> 24)

	hs, err := parseClientHandshakeResponse(b)
	if err != nil {
		t.Fatalf("parseClientHandshakeResponse: %v", err)
	}
	if !hs.wantsSSL {
		t.Fatalf("wantsSSL should be true for a bare SSLRequest packet")
	}
	if hs.Username != "" {
		t.Fatalf("SSLRequest packet should carry no username, got %q", hs.Username)
	}
}

func TestNewInitialHandshakeSaltLength(t *testing.T) {
	h, err := newInitialHandshake(1)
	if err != nil {
		t.Fatalf("newInitialHandshake: %v", err)
	}
	if len(h.salt) != 20 {
		t.Fatalf("salt length = %d, want 20", len(h.salt))
	}
}
