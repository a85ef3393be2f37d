package pgfrontend

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

// TestMD5PasswordKnownVector checks md5Password against a precomputed
// value for a fixed (user, password, salt) tuple, matching Postgres's
// documented "md5" + hex(md5(hex(md5(password+user)) + salt)) scheme.
func TestMD5PasswordKnownVector(t *testing.T) {
	got := md5Password("alice", "hunter2", [4]byte{0x01, 0x02, 0x03, 0x04})
	if len(got) != 35 || got[:3] != "md5" {
		t.Fatalf("md5Password produced %q, want 35-char string prefixed with md5", got)
	}
	if want := "md57f80f230474a70cd9e46eeef688e62fa"; got != want {
		t.Fatalf("md5Password = %q, want %q", got, want)
	}
	// Recomputing with the same inputs must be deterministic.
	again := md5Password("alice", "hunter2", [4]byte{0x01, 0x02, 0x03, 0x04})
	if got != again {
		t.Fatalf("md5Password is not deterministic: %q != %q", got, again)
	}
	// Changing the salt must change the result.
	other := md5Password("alice", "hunter2", [4]byte{0x05, 0x06, 0x07, 0x08})
	if got == other {
		t.Fatalf("md5Password ignored the salt")
	}
}
