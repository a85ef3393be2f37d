package config

import (
	"os"
	"time"

	"github.com/gravitational/trace"
	"gopkg.in/yaml.v3"
)

// ListenConfig is the shared shape of each protocol's `{enable, listen,
// certificate, key}` block (spec §6).
type ListenConfig struct {
	Enable      bool   `yaml:"enable"`
	Listen      string `yaml:"listen"`
	Certificate string `yaml:"certificate,omitempty"`
	Key         string `yaml:"key,omitempty"`
}

// SSOProviderKind discriminates the sso_providers[] tagged union.
type SSOProviderKind string

const (
	SSOGoogle SSOProviderKind = "google"
	SSOApple  SSOProviderKind = "apple"
	SSOAzure  SSOProviderKind = "azure"
	SSOOIDC   SSOProviderKind = "custom"
)

// SSOProviderConfig configures one OIDC-compatible identity provider for the
// HTTP front-end's SSO flow (spec §4.10).
type SSOProviderConfig struct {
	Name         string          `yaml:"name"`
	Kind         SSOProviderKind `yaml:"kind"`
	Issuer       string          `yaml:"issuer"`
	ClientID     string          `yaml:"client_id"`
	ClientSecret string          `yaml:"client_secret"`
	Scopes       []string        `yaml:"scopes,omitempty"`
}

// RecordingsConfig configures the on-disk transcript root (spec §4.7).
type RecordingsConfig struct {
	Enable bool   `yaml:"enable"`
	Path   string `yaml:"path"`
}

// LogConfig configures the ambient logging sink.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
}

// File is the top-level YAML config shape (spec §6). Entities (users,
// targets, roles, credentials) are explicitly NOT modeled here: per spec §6
// they live in the database behind config.Provider, not the file.
type File struct {
	SSH          ListenConfig        `yaml:"ssh"`
	HTTP         ListenConfig        `yaml:"http"`
	MySQL        ListenConfig        `yaml:"mysql"`
	Postgres     ListenConfig        `yaml:"postgres"`
	Kubernetes   ListenConfig        `yaml:"kubernetes"`
	Recordings   RecordingsConfig    `yaml:"recordings"`
	Log          LogConfig           `yaml:"log"`
	DatabaseURL  string              `yaml:"database_url"`
	ExternalHost string              `yaml:"external_host"`
	SSOProviders []SSOProviderConfig `yaml:"sso_providers,omitempty"`

	// BaseDomain is the domain the `/@warpgate` session cookie's Domain=
	// attribute is rewritten to, so subdomains share the session (spec
	// §4.10). Empty (the "localhost" case) means the cookie carries no
	// Domain= attribute at all.
	BaseDomain string `yaml:"base_domain,omitempty"`
	// CookieMaxAge is how long the `/@warpgate` session cookie lives.
	CookieMaxAge time.Duration `yaml:"cookie_max_age,omitempty"`
}

// Defaults returns a File pre-populated with the listen addresses from spec
// §6.
func Defaults() *File {
	return &File{
		SSH:        ListenConfig{Enable: true, Listen: "0.0.0.0:2222"},
		HTTP:       ListenConfig{Enable: true, Listen: "0.0.0.0:8888"},
		MySQL:      ListenConfig{Enable: false, Listen: "0.0.0.0:33306"},
		Postgres:   ListenConfig{Enable: false, Listen: "0.0.0.0:55432"},
		Kubernetes: ListenConfig{Enable: false, Listen: "0.0.0.0:6443"},
		Recordings: RecordingsConfig{Enable: true, Path: "./data/recordings"},
		Log:          LogConfig{Level: "info", Format: "text"},
		DatabaseURL:  "sqlite://./data/db.sqlite3",
		CookieMaxAge: 30 * time.Minute,
	}
}

// Load reads and validates the YAML config at path (after original_source's
// warpgate/src/config.rs). Only the file is read: no environment-variable
// overlay, file watching or legacy-key migration is applied.
func Load(path string) (*File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, trace.Wrap(err, "reading config file %q", path)
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, trace.BadParameter("parsing %q: %v", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, trace.Wrap(err)
	}
	return cfg, nil
}

// Validate checks structural requirements Load cannot express via YAML tags
// alone: a TLS-serving protocol needs both certificate and key, and at least
// one front-end must be enabled.
func (f *File) Validate() error {
	anyEnabled := false
	for _, l := range []struct {
		name string
		lc   ListenConfig
		tls  bool
	}{
		{"ssh", f.SSH, false},
		{"http", f.HTTP, true},
		{"mysql", f.MySQL, false},
		{"postgres", f.Postgres, false},
		{"kubernetes", f.Kubernetes, true},
	} {
		if !l.lc.Enable {
			continue
		}
		anyEnabled = true
		if l.tls && (l.lc.Certificate == "" || l.lc.Key == "") {
			return trace.BadParameter("%s listener is enabled but missing certificate/key", l.name)
		}
	}
	if !anyEnabled {
		return trace.BadParameter("no protocol front-end is enabled")
	}
	if f.DatabaseURL == "" {
		return trace.BadParameter("database_url is required")
	}
	return nil
}
