package saml_test

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// newTestSigningCert generates a throwaway RSA key pair and self-signed
// certificate, in both the tls.Certificate form the signers accept and the
// parsed x509 form the verifiers accept.
func newTestSigningCert(t *testing.T) (tls.Certificate, *x509.Certificate, *rsa.PrivateKey) {
	t.Helper()
	r := require.New(t)

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	r.NoError(err)

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "sp.example.org"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	r.NoError(err)

	parsed, err := x509.ParseCertificate(der)
	r.NoError(err)

	return tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  key,
	}, parsed, key
}
