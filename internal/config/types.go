// Package config holds Warpgate's policy-facing data model: users, roles,
// targets, and credential policies. Entities here mirror the database rows a
// full config/policy store would serve (spec §3); the YAML file only ever
// carries listener and ambient settings (§6).
package config

import (
	"time"

	"github.com/google/uuid"
)

// Protocol identifies which front-end a session or credential policy applies
// to.
type Protocol string

const (
	ProtocolSSH        Protocol = "ssh"
	ProtocolHTTP       Protocol = "http"
	ProtocolMySQL      Protocol = "mysql"
	ProtocolPostgres   Protocol = "postgres"
	ProtocolKubernetes Protocol = "kubernetes"
)

// CredentialKind enumerates the kinds of proof a user can offer, per spec §1
// data model.
type CredentialKind string

const (
	CredentialPassword        CredentialKind = "password"
	CredentialPublicKey       CredentialKind = "publickey"
	CredentialOTP             CredentialKind = "otp"
	CredentialSSO             CredentialKind = "sso"
	CredentialCertificate     CredentialKind = "certificate"
	CredentialToken           CredentialKind = "token"
	CredentialWebUserApproval CredentialKind = "web_user_approval"
)

// CredentialPolicy narrows the required credential kinds per protocol for a
// user. A nil entry for a protocol means "use Default" per spec §3; Default
// nil means the global AnySingle fallback applies.
type CredentialPolicy struct {
	Default    []CredentialKind `yaml:"default,omitempty" json:"default,omitempty"`
	SSH        []CredentialKind `yaml:"ssh,omitempty" json:"ssh,omitempty"`
	HTTP       []CredentialKind `yaml:"http,omitempty" json:"http,omitempty"`
	MySQL      []CredentialKind `yaml:"mysql,omitempty" json:"mysql,omitempty"`
	Postgres   []CredentialKind `yaml:"postgres,omitempty" json:"postgres,omitempty"`
	Kubernetes []CredentialKind `yaml:"kubernetes,omitempty" json:"kubernetes,omitempty"`
}

// ForProtocol returns the configured kind list for protocol, falling back to
// Default, or nil if neither is set.
func (p *CredentialPolicy) ForProtocol(proto Protocol) []CredentialKind {
	if p == nil {
		return nil
	}
	switch proto {
	case ProtocolSSH:
		if len(p.SSH) > 0 {
			return p.SSH
		}
	case ProtocolHTTP:
		if len(p.HTTP) > 0 {
			return p.HTTP
		}
	case ProtocolMySQL:
		if len(p.MySQL) > 0 {
			return p.MySQL
		}
	case ProtocolPostgres:
		if len(p.Postgres) > 0 {
			return p.Postgres
		}
	case ProtocolKubernetes:
		if len(p.Kubernetes) > 0 {
			return p.Kubernetes
		}
	}
	return p.Default
}

// PasswordCredential is a stored Argon2id password hash.
type PasswordCredential struct {
	Hash string
}

// PublicKeyCredential is a stored "<algorithm> <base64>" public key blob.
type PublicKeyCredential struct {
	Key string
}

// OTPCredential is a base64-encoded RFC 6238 shared secret.
type OTPCredential struct {
	Base64Secret string
}

// SSOCredential matches a (provider, email) pair. Provider nil means "any
// provider" per spec §4.4.
type SSOCredential struct {
	Provider *string
	Email    string
}

// CertificateCredential is a normalized (base64 payload only, headers
// stripped) PEM certificate, used for Kubernetes mTLS.
type CertificateCredential struct {
	NormalizedBase64 string
	LastUsed         *time.Time
}

// TokenCredential is a bearer token with an optional expiry.
type TokenCredential struct {
	Secret string
	Expiry *time.Time
}

// UserCredentials groups all stored credential rows for a user.
type UserCredentials struct {
	Passwords    []PasswordCredential
	PublicKeys   []PublicKeyCredential
	OTPs         []OTPCredential
	SSOs         []SSOCredential
	Certificates []CertificateCredential
	Tokens       []TokenCredential
}

// User is a Warpgate principal.
type User struct {
	ID         uuid.UUID
	Username   string
	Roles      []string
	Credential UserCredentials
	Policy     *CredentialPolicy
}

// Role is a named grant referenced by both users and targets.
type Role struct {
	ID   uuid.UUID
	Name string
}

// RoleGrant records a user's membership in a role, with optional expiry or
// revocation (supplements spec §3's Role: "has not expired or been revoked").
type RoleGrant struct {
	UserID    uuid.UUID
	RoleName  string
	GrantedAt time.Time
	ExpiresAt *time.Time
	RevokedAt *time.Time
}

// Active reports whether the grant currently confers access.
func (g RoleGrant) Active(now time.Time) bool {
	if g.RevokedAt != nil && !g.RevokedAt.After(now) {
		return false
	}
	if g.ExpiresAt != nil && !g.ExpiresAt.After(now) {
		return false
	}
	return true
}
