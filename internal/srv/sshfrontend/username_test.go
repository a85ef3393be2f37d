package sshfrontend

import "testing"

func TestParseSSHUser(t *testing.T) {
	cases := []struct {
		raw, user, target string
	}{
		{"alice#prod", "alice", "prod"},
		{"alice", "alice", DefaultTarget},
		{"alice#prod#extra", "alice", "prod#extra"},
		{"", "", DefaultTarget},
	}
	for _, c := range cases {
		user, target := ParseSSHUser(c.raw)
		if user != c.user || target != c.target {
			t.Fatalf("ParseSSHUser(%q) = (%q, %q), want (%q, %q)", c.raw, user, target, c.user, c.target)
		}
	}
}
