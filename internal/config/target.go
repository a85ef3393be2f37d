package config

import "github.com/google/uuid"

// TLSMode mirrors warpgate-common/src/config/target.rs's Tls.mode: whether a
// target-facing TLS upgrade is attempted at all.
type TLSMode string

const (
	TLSDisabled  TLSMode = "disabled"
	TLSPreferred TLSMode = "preferred"
	TLSRequired  TLSMode = "required"
)

// TLSOptions is the TLS configuration shared by every target kind that can
// speak TLS upstream (HTTP, MySQL, Postgres, Kubernetes). Grounded verbatim on
// warpgate-common/src/config/target.rs's Tls struct.
type TLSOptions struct {
	Mode   TLSMode `yaml:"mode"`
	Verify bool    `yaml:"verify"`
}

// SSHTargetAuthKind discriminates the SSHTargetAuth tagged union.
type SSHTargetAuthKind string

const (
	SSHTargetAuthPassword  SSHTargetAuthKind = "password"
	SSHTargetAuthPublicKey SSHTargetAuthKind = "publickey"
)

// SSHTargetAuth is how Warpgate re-authenticates to an SSH target once the
// client side has been accepted (spec §4.9 step 4). PublicKey means "sign
// with Warpgate's own host key", matching
// warpgate-common/src/config/target.rs's SSHTargetAuth::PublicKey default.
type SSHTargetAuth struct {
	Kind     SSHTargetAuthKind `yaml:"kind"`
	Password string            `yaml:"password,omitempty"`
}

// TargetSSHOptions configures an SSH target.
type TargetSSHOptions struct {
	Host                string        `yaml:"host"`
	Port                int           `yaml:"port"`
	Username            string        `yaml:"username"`
	AllowInsecureAlgos  bool          `yaml:"allow_insecure_algos"`
	Auth                SSHTargetAuth `yaml:"auth"`
	AllowFileUpload     bool          `yaml:"allow_file_upload"`
	AllowFileDownload   bool          `yaml:"allow_file_download"`
	RecordShellSessions bool          `yaml:"record_shell_sessions"`
}

// TargetHTTPOptions configures an HTTP(S) target.
type TargetHTTPOptions struct {
	URL          string            `yaml:"url"`
	TLS          TLSOptions        `yaml:"tls"`
	Headers      map[string]string `yaml:"headers,omitempty"`
	ExternalHost *string           `yaml:"external_host,omitempty"`
}

// TargetMySQLOptions configures a MySQL target.
type TargetMySQLOptions struct {
	Host     string     `yaml:"host"`
	Port     int        `yaml:"port"`
	Username string     `yaml:"username"`
	Password string     `yaml:"password,omitempty"`
	TLS      TLSOptions `yaml:"tls"`
}

// TargetPostgresOptions configures a Postgres target.
type TargetPostgresOptions struct {
	Host     string     `yaml:"host"`
	Port     int        `yaml:"port"`
	Username string     `yaml:"username"`
	Password string     `yaml:"password,omitempty"`
	TLS      TLSOptions `yaml:"tls"`
}

// TargetKubernetesAuthKind discriminates how Warpgate authenticates upstream
// to a Kubernetes API server on the target's behalf.
type TargetKubernetesAuthKind string

const (
	KubeAuthBearer TargetKubernetesAuthKind = "bearer"
	KubeAuthCert   TargetKubernetesAuthKind = "certificate"
)

// TargetKubernetesOptions configures a Kubernetes API target.
type TargetKubernetesOptions struct {
	ClusterURL string                   `yaml:"cluster_url"`
	Auth       TargetKubernetesAuthKind `yaml:"auth"`
	BearerToken string                  `yaml:"bearer_token,omitempty"`
	ClientCert  string                  `yaml:"client_cert,omitempty"`
	ClientKey   string                  `yaml:"client_key,omitempty"`
	TLS         TLSOptions              `yaml:"tls"`
}

// TargetWebAdminOptions is the built-in admin surface target. It carries no
// configuration of its own; it exists only so "web_admin" is a routable
// target name, matching spec §4.9's SSH username default convention.
type TargetWebAdminOptions struct{}

// TargetOptionsKind discriminates the Target.Options tagged union.
type TargetOptionsKind string

const (
	TargetKindSSH        TargetOptionsKind = "ssh"
	TargetKindHTTP       TargetOptionsKind = "http"
	TargetKindMySQL      TargetOptionsKind = "mysql"
	TargetKindPostgres   TargetOptionsKind = "postgres"
	TargetKindKubernetes TargetOptionsKind = "kubernetes"
	TargetKindWebAdmin   TargetOptionsKind = "web_admin"
)

// TargetOptions is the tagged union over per-protocol target configuration.
// Exactly one of the pointer fields matching Kind is non-nil; this
// generalizes warpgate-common/src/config/target.rs's separate per-kind
// structs into a single Go struct with a discriminator, per spec §9's
// "tagged unions ... discriminator field" redesign note.
type TargetOptions struct {
	Kind       TargetOptionsKind
	SSH        *TargetSSHOptions
	HTTP       *TargetHTTPOptions
	MySQL      *TargetMySQLOptions
	Postgres   *TargetPostgresOptions
	Kubernetes *TargetKubernetesOptions
	WebAdmin   *TargetWebAdminOptions
}

// Protocol returns the Protocol this target option set is served over
// (ProtocolHTTP for WebAdmin, which is HTTP-routed), or empty for an
// unrecognized Kind.
func (o TargetOptions) Protocol() Protocol {
	switch o.Kind {
	case TargetKindSSH:
		return ProtocolSSH
	case TargetKindHTTP, TargetKindWebAdmin:
		return ProtocolHTTP
	case TargetKindMySQL:
		return ProtocolMySQL
	case TargetKindPostgres:
		return ProtocolPostgres
	case TargetKindKubernetes:
		return ProtocolKubernetes
	}
	return ""
}

// Target is a back-end resource Warpgate can proxy to.
type Target struct {
	ID          uuid.UUID
	Name        string
	Description string
	AllowRoles  []string
	Options     TargetOptions
	RateLimitBPS *int
}
