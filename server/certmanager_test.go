package server

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestCert(t *testing.T, dir, name string) (certPath, keyPath string) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      pkix.Name{CommonName: name},
		DNSNames:     []string{name},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	keyDer, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	certPath = filepath.Join(dir, "cert.pem")
	keyPath = filepath.Join(dir, "key.pem")

	certOut := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyOut := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDer})

	require.NoError(t, os.WriteFile(certPath, certOut, 0600))
	require.NoError(t, os.WriteFile(keyPath, keyOut, 0600))

	return certPath, keyPath
}

func Test_CertManager(t *testing.T) {
	dir := t.TempDir()
	certPath, keyPath := writeTestCert(t, dir, "dot.example.com")

	cm, err := NewCertManager(certPath, keyPath)
	require.NoError(t, err)
	defer cm.Stop()

	cert, err := cm.GetCertificate(nil)
	require.NoError(t, err)
	require.NotNil(t, cert)

	cfg := cm.TLSConfig()
	assert.NotNil(t, cfg.GetCertificate)

	// rotate the files, reload must pick the new pair up
	writeTestCert(t, dir, "rotated.example.com")
	require.NoError(t, cm.loadCertificate())

	rotated, err := cm.GetCertificate(nil)
	require.NoError(t, err)
	assert.NotEqual(t, cert.Certificate[0], rotated.Certificate[0])
}

func Test_CertManagerMissingFiles(t *testing.T) {
	_, err := NewCertManager("/nonexistent/cert.pem", "/nonexistent/key.pem")
	assert.Error(t, err)
}
