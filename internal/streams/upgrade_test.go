package streams

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func selfSignedCert(t *testing.T) tls.Certificate {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "localhost"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	require.NoError(t, err)

	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}
}

func TestUpgradeToTLSExactlyOnce(t *testing.T) {
	cert := selfSignedCert(t)
	serverCfg := &tls.Config{Certificates: []tls.Certificate{cert}}

	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()

	done := make(chan error, 1)
	go func() {
		clientTLS := tls.Client(clientConn, &tls.Config{InsecureSkipVerify: true})
		done <- clientTLS.Handshake()
	}()

	up := NewUpgradable(serverConn)
	_, err := up.UpgradeToTLS(serverCfg)
	require.NoError(t, err)
	require.NoError(t, <-done)

	_, err = up.UpgradeToTLS(serverCfg)
	require.ErrorIs(t, err, ErrAlreadyUpgraded)
}
