package authz

import (
	"encoding/base32"
	"encoding/base64"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/argon2"

	"github.com/warpgated/warpgate/internal/config"
)

func encodeArgon2id(t *testing.T, plain string) string {
	t.Helper()
	salt := []byte("0123456789abcdef")
	hash := argon2.IDKey([]byte(plain), salt, 3, 64*1024, 4, 32)
	return "$argon2id$v=19$m=65536,t=3,p=4$" +
		base64.RawStdEncoding.EncodeToString(salt) + "$" +
		base64.RawStdEncoding.EncodeToString(hash)
}

func TestVerifyPassword(t *testing.T) {
	encoded := encodeArgon2id(t, "hunter2")
	require.True(t, VerifyPassword("hunter2", encoded))
	require.False(t, VerifyPassword("wrong", encoded))
	require.False(t, VerifyPassword("hunter2", "not-a-hash"))
}

func TestVerifyPublicKey(t *testing.T) {
	stored := []config.PublicKeyCredential{{Key: "ssh-ed25519 AAAAabc"}}
	require.True(t, VerifyPublicKey(PublicKeyBlob{Algorithm: "ssh-ed25519", Base64: "AAAAabc"}, stored))
	require.False(t, VerifyPublicKey(PublicKeyBlob{Algorithm: "ssh-ed25519", Base64: "AAAAxyz"}, stored))
}

func TestVerifyOTP(t *testing.T) {
	rawSecret := []byte("supersecretkeyforotp!!!")
	b32 := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(rawSecret)
	storedBase64 := base64.StdEncoding.EncodeToString(rawSecret)

	now := time.Unix(1_700_000_000, 0)
	code, err := totp.GenerateCodeCustom(b32, now, totp.ValidateOpts{Period: 30, Digits: 6})
	require.NoError(t, err)

	require.True(t, VerifyOTP(code, storedBase64, now))
	require.True(t, VerifyOTP(code, storedBase64, now.Add(20*time.Second))) // within ±1 step
	require.False(t, VerifyOTP(code, storedBase64, now.Add(5*time.Minute)))
	require.False(t, VerifyOTP("000000", storedBase64, now))
}

func TestVerifySSOAnyProvider(t *testing.T) {
	stored := config.SSOCredential{Provider: nil, Email: "Bob@Example.com"}
	require.True(t, VerifySSO("okta", "bob@example.com", stored))
	require.False(t, VerifySSO("okta", "mallory@example.com", stored))

	provider := "okta"
	scoped := config.SSOCredential{Provider: &provider, Email: "bob@example.com"}
	require.True(t, VerifySSO("okta", "bob@example.com", scoped))
	require.False(t, VerifySSO("google", "bob@example.com", scoped))
}

func TestVerifyCertificateNormalizesPEM(t *testing.T) {
	pem := []byte("-----BEGIN CERTIFICATE-----\nABCD\nEFGH\n-----END CERTIFICATE-----\n")
	stored := []config.CertificateCredential{{NormalizedBase64: "ABCDEFGH"}}
	require.Equal(t, 0, VerifyCertificate(pem, stored))
	require.Equal(t, -1, VerifyCertificate([]byte("-----BEGIN CERTIFICATE-----\nZZZZ\n-----END CERTIFICATE-----\n"), stored))
}

func TestVerifyTokenExpiry(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	require.True(t, VerifyToken("sekret", config.TokenCredential{Secret: "sekret", Expiry: &future}, now))
	require.False(t, VerifyToken("sekret", config.TokenCredential{Secret: "sekret", Expiry: &past}, now))
	require.False(t, VerifyToken("wrong", config.TokenCredential{Secret: "sekret"}, now))
}
