package kubefrontend

import "testing"

func TestSplitTargetPath(t *testing.T) {
	cases := []struct {
		path, target, rest string
	}{
		{"/prod/api/v1/namespaces", "prod", "/api/v1/namespaces"},
		{"/prod", "prod", "/"},
		{"prod/api", "prod", "/api"},
		{"/", "", "/"},
	}
	for _, c := range cases {
		target, rest := splitTargetPath(c.path)
		if target != c.target || rest != c.rest {
			t.Fatalf("splitTargetPath(%q) = (%q, %q), want (%q, %q)", c.path, target, rest, c.target, c.rest)
		}
	}
}

func TestIsExecOrAttach(t *testing.T) {
	cases := []struct {
		rest string
		want bool
	}{
		{"/api/v1/namespaces/default/pods/foo/exec", true},
		{"/api/v1/namespaces/default/pods/foo/attach", true},
		{"/api/v1/namespaces/default/pods/foo/log", false},
		{"/api/v1/namespaces", false},
	}
	for _, c := range cases {
		if got := isExecOrAttach(c.rest); got != c.want {
			t.Fatalf("isExecOrAttach(%q) = %v, want %v", c.rest, got, c.want)
		}
	}
}
