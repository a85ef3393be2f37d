package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"golang.org/x/crypto/ssh"
	"gopkg.in/yaml.v3"

	"github.com/warpgated/warpgate/internal/authz"
	"github.com/warpgated/warpgate/internal/config"
)

// builtinAdminRoleName names the role `warpgate setup` grants its bootstrap
// admin user, matching the original's BUILTIN_ADMIN_ROLE_NAME convention.
const builtinAdminRoleName = "admin"

// runSetup bootstraps a config file, a self-signed TLS certificate, an SSH
// host key, and an admin role/user, then prints the generated password.
//
// The original `setup` command is an interactive dialoguer wizard
// (original_source's commands/setup.rs) prompting for every listener
// endpoint one at a time. This port trades that interactivity for a
// simpler flag-driven bootstrap suited to scripted deployment; operators
// who want different listeners edit the written YAML afterward.
func runSetup(configPath, dataDir string) error {
	if _, err := os.Stat(configPath); err == nil {
		return trace.AlreadyExists("config file already exists at %q; remove it first", configPath)
	}

	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return trace.Wrap(err)
	}

	cfg := config.Defaults()
	cfg.HTTP.Certificate = filepath.Join(dataDir, "tls.certificate.pem")
	cfg.HTTP.Key = filepath.Join(dataDir, "tls.key.pem")
	cfg.Recordings.Path = filepath.Join(dataDir, "recordings")

	certPath, keyPath := cfg.HTTP.Certificate, cfg.HTTP.Key
	if err := generateSelfSignedTLS(certPath, keyPath); err != nil {
		return trace.Wrap(err)
	}
	fmt.Printf("Generated a self-signed TLS certificate at %s\n", certPath)

	hostKeyPath := filepath.Join(dataDir, "ssh_host_ed25519_key")
	if err := generateSSHHostKey(hostKeyPath); err != nil {
		return trace.Wrap(err)
	}
	fmt.Printf("Generated an SSH host key at %s\n", hostKeyPath)

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return trace.Wrap(err)
	}
	if err := os.WriteFile(configPath, data, 0o640); err != nil {
		return trace.Wrap(err, "writing config file %q", configPath)
	}
	fmt.Printf("Wrote config file to %s\n", configPath)

	password, err := generatePassword()
	if err != nil {
		return trace.Wrap(err)
	}
	hash, err := authz.HashPassword(password)
	if err != nil {
		return trace.Wrap(err)
	}

	provider := config.NewInMemoryProvider()
	provider.PutRole(&config.Role{ID: uuid.New(), Name: builtinAdminRoleName})
	provider.PutUser(&config.User{
		ID:       uuid.New(),
		Username: "admin",
		Roles:    []string{builtinAdminRoleName},
		Credential: config.UserCredentials{
			Passwords: []config.PasswordCredential{{Hash: hash}},
		},
	})
	provider.PutTarget(&config.Target{
		ID:         uuid.New(),
		Name:       "web_admin",
		AllowRoles: []string{builtinAdminRoleName},
		Options:    config.TargetOptions{Kind: config.TargetKindWebAdmin, WebAdmin: &config.TargetWebAdminOptions{}},
	})
	if err := config.SaveFixture(fixturePath(cfg), provider); err != nil {
		return trace.Wrap(err)
	}

	fmt.Println()
	fmt.Println("Admin user credentials:")
	fmt.Println("  Username: admin")
	fmt.Printf("  Password: %s\n", password)
	fmt.Println()
	fmt.Printf("Start Warpgate with: warpgate --config %s run\n", configPath)
	return nil
}

func generateSelfSignedTLS(certPath, keyPath string) error {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return trace.Wrap(err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return trace.Wrap(err)
	}
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: "warpgate.local"},
		DNSNames:     []string{"warpgate.local", "localhost"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().AddDate(10, 0, 0),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		IsCA:         true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, pub, priv)
	if err != nil {
		return trace.Wrap(err)
	}

	certOut, err := os.OpenFile(certPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return trace.Wrap(err)
	}
	defer certOut.Close()
	if err := pem.Encode(certOut, &pem.Block{Type: "CERTIFICATE", Bytes: der}); err != nil {
		return trace.Wrap(err)
	}

	keyBytes, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return trace.Wrap(err)
	}
	keyOut, err := os.OpenFile(keyPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return trace.Wrap(err)
	}
	defer keyOut.Close()
	return pem.Encode(keyOut, &pem.Block{Type: "PRIVATE KEY", Bytes: keyBytes})
}

func generateSSHHostKey(path string) error {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return trace.Wrap(err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return trace.Wrap(err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return trace.Wrap(err)
	}
	defer f.Close()
	return pem.Encode(f, &pem.Block{Type: "PRIVATE KEY", Bytes: der})
}

// loadSSHHostSigner reads back a key written by generateSSHHostKey.
func loadSSHHostSigner(path string) (ssh.Signer, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	signer, err := ssh.ParsePrivateKey(raw)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return signer, nil
}

func generatePassword() (string, error) {
	b := make([]byte, 18)
	if _, err := rand.Read(b); err != nil {
		return "", trace.Wrap(err)
	}
	return fmt.Sprintf("%x", b), nil
}
