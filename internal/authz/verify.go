// Package authz implements the credential verifier primitives and the
// pluggable auth state machine described in spec §4.4–§4.6.
package authz

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base32"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/argon2"

	"github.com/warpgated/warpgate/internal/config"
)

// argon2idMemory/Time/Threads are the parameters new hashes are minted with;
// VerifyPassword reads them back out of each hash's own header instead of
// assuming these, so they may change release to release without breaking
// older stored hashes.
const (
	argon2idMemory  = 64 * 1024
	argon2idTime    = 3
	argon2idThreads = 4
	argon2idKeyLen  = 32
	argon2idSaltLen = 16
)

// HashPassword mints a new Argon2id-encoded hash string in the same format
// VerifyPassword/parseArgon2idHash read, for `warpgate setup` to use when
// bootstrapping the initial admin credential.
func HashPassword(plain string) (string, error) {
	salt := make([]byte, argon2idSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	hash := argon2.IDKey([]byte(plain), salt, argon2idTime, argon2idMemory, argon2idThreads, argon2idKeyLen)
	return fmt.Sprintf("$argon2id$v=19$m=%d,t=%d,p=%d$%s$%s",
		argon2idMemory, argon2idTime, argon2idThreads,
		base64RawStd.EncodeToString(salt), base64RawStd.EncodeToString(hash)), nil
}

// VerifyPassword compares plain against an Argon2id-encoded hash string of
// the form `$argon2id$v=19$m=...,t=...,p=...$<salt-b64>$<hash-b64>` in
// constant time.
func VerifyPassword(plain, encodedHash string) bool {
	params, salt, want, err := parseArgon2idHash(encodedHash)
	if err != nil {
		return false
	}
	got := argon2.IDKey([]byte(plain), salt, params.time, params.memory, params.threads, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1
}

type argon2Params struct {
	time, threads uint32
	memory        uint32
}

var argon2HashPattern = regexp.MustCompile(`^\$argon2id\$v=(\d+)\$m=(\d+),t=(\d+),p=(\d+)\$([^$]+)\$([^$]+)$`)

func parseArgon2idHash(encoded string) (argon2Params, []byte, []byte, error) {
	m := argon2HashPattern.FindStringSubmatch(encoded)
	if m == nil {
		return argon2Params{}, nil, nil, errBadHash
	}
	memory, err1 := parseUint32(m[2])
	time_, err2 := parseUint32(m[3])
	threads, err3 := parseUint32(m[4])
	if err1 != nil || err2 != nil || err3 != nil {
		return argon2Params{}, nil, nil, errBadHash
	}
	salt, err := base64RawStd.DecodeString(m[5])
	if err != nil {
		return argon2Params{}, nil, nil, errBadHash
	}
	hash, err := base64RawStd.DecodeString(m[6])
	if err != nil {
		return argon2Params{}, nil, nil, errBadHash
	}
	return argon2Params{memory: memory, time: time_, threads: threads}, salt, hash, nil
}

// PublicKeyBlob is the wire-agnostic representation of an SSH public key
// Warpgate compares: algorithm name plus the base64 of its marshaled form.
type PublicKeyBlob struct {
	Algorithm string
	Base64    string
}

// VerifyPublicKey reports whether offered matches any of stored, comparing
// the (algorithm, base64) tuple per spec §4.4.
func VerifyPublicKey(offered PublicKeyBlob, stored []config.PublicKeyCredential) bool {
	want := offered.Algorithm + " " + offered.Base64
	for _, cred := range stored {
		if subtle.ConstantTimeCompare([]byte(cred.Key), []byte(want)) == 1 {
			return true
		}
	}
	return false
}

// VerifyOTP validates code against an RFC 6238 TOTP secret with a ±1 step
// window, matching spec §4.4.
func VerifyOTP(code string, base64Secret string, now time.Time) bool {
	secret, err := base32FromPacked(base64Secret)
	if err != nil {
		return false
	}
	ok, err := totp.ValidateCustom(code, secret, now, totp.ValidateOpts{
		Period:    30,
		Skew:      1,
		Digits:    6,
		Algorithm: 0, // SHA1, matches otp package's zero value
	})
	return err == nil && ok
}

// base32FromPacked re-encodes a base64-encoded shared secret into the base32
// form pquerna/otp expects, since Warpgate stores secrets base64-encoded
// (spec §4.4) while the TOTP RFC speaks base32.
func base32FromPacked(b64 string) (string, error) {
	raw, err := base64Std.DecodeString(b64)
	if err != nil {
		return "", err
	}
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(raw), nil
}

// VerifySSO matches a (provider, email) tuple. A nil Provider in the stored
// credential means "any provider" (spec §4.4).
func VerifySSO(offeredProvider, offeredEmail string, stored config.SSOCredential) bool {
	if stored.Provider != nil && *stored.Provider != offeredProvider {
		return false
	}
	return strings.EqualFold(stored.Email, offeredEmail)
}

// NormalizeCertificatePEM strips PEM headers/footers and whitespace, leaving
// only the base64 payload, per spec §4.4's certificate comparison rule.
func NormalizeCertificatePEM(pemBytes []byte) string {
	var b strings.Builder
	for _, line := range strings.Split(string(pemBytes), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "-----") {
			continue
		}
		b.WriteString(line)
	}
	return b.String()
}

// VerifyCertificate compares the normalized form of offeredPEM against each
// stored credential, returning the matching credential's index or -1.
func VerifyCertificate(offeredPEM []byte, stored []config.CertificateCredential) int {
	normalized := NormalizeCertificatePEM(offeredPEM)
	for i, cred := range stored {
		if subtle.ConstantTimeCompare([]byte(cred.NormalizedBase64), []byte(normalized)) == 1 {
			return i
		}
	}
	return -1
}

// VerifyToken constant-time-compares token against stored.Secret, rejecting
// tokens past their expiry (spec §4.4).
func VerifyToken(token string, stored config.TokenCredential, now time.Time) bool {
	if stored.Expiry != nil && !stored.Expiry.After(now) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(stored.Secret)) == 1
}

// HashBytes is used by the SFTP/SCP transfer inspector (spec §4.9.1) to
// fingerprint transferred file contents.
func HashBytes(b []byte) [32]byte {
	return sha256.Sum256(b)
}
