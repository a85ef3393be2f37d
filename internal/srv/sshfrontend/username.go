// Package sshfrontend implements the SSH bastion front-end (spec §4.9): it
// terminates the client's SSH connection, drives internal/authz's state
// machine off the library's userauth callbacks, and re-dials the selected
// target, replaying SSH or plain TCP as the target demands.
package sshfrontend

import "strings"

// DefaultTarget is used when an SSH username carries no explicit
// "user#target" suffix, matching spec §4.9's convention.
const DefaultTarget = "web_admin"

// ParseSSHUser splits an SSH username of the form "user#target" into its
// two parts, defaulting target to DefaultTarget when no "#" is present.
// Only the first "#" is treated as the separator, so a target name may
// itself contain "#" but a username cannot, matching the original
// `user#target` convention in original_source/warpgate-protocol-ssh.
func ParseSSHUser(raw string) (user, target string) {
	if idx := strings.IndexByte(raw, '#'); idx >= 0 {
		return raw[:idx], raw[idx+1:]
	}
	return raw, DefaultTarget
}
