package config

import (
	"time"

	"github.com/gravitational/trace"
)

func errUserNotFound(username string) error {
	return trace.NotFound("user %q not found", username)
}

func errTargetNotFound(name string) error {
	return trace.NotFound("target %q not found", name)
}

func errRoleNotFound(name string) error {
	return trace.NotFound("role %q not found", name)
}

// nowFunc supplies the current time for role-expiry checks.
var nowFunc = time.Now
