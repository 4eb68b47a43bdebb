package saml_test

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"net/url"
	"strings"
	"testing"

	dsig "github.com/russellhaering/goxmldsig"
	"github.com/stretchr/testify/require"

	"github.com/samlkit/samlsp"
)

func Test_RedirectSigner_SignAndVerify(t *testing.T) {
	for _, sigAlg := range []string{
		dsig.RSASHA1SignatureMethod,
		dsig.RSASHA256SignatureMethod,
	} {
		t.Run(sigAlg, func(t *testing.T) {
			r := require.New(t)

			_, cert, key := newTestSigningCert(t)
			signer := saml.NewRedirectSigner(key, sigAlg)

			redirect, err := url.Parse("https://idp.example.org/slo")
			r.NoError(err)

			err = signer.Sign(redirect, saml.RedirectParamSAMLRequest, "ZGVmbGF0ZWQ+cGF5bG9hZA==", "https://sp.example.org/home")
			r.NoError(err)

			r.Contains(redirect.RawQuery, "SAMLRequest=")
			r.Contains(redirect.RawQuery, "RelayState=")
			r.Contains(redirect.RawQuery, "SigAlg=")
			r.Contains(redirect.RawQuery, "Signature=")

			r.NoError(saml.VerifyRawQuery(redirect.RawQuery, cert))
		})
	}
}

func Test_RedirectSigner_FixedParameterOrder(t *testing.T) {
	r := require.New(t)

	_, _, key := newTestSigningCert(t)
	signer := saml.NewRedirectSigner(key, dsig.RSASHA256SignatureMethod)

	redirect, err := url.Parse("https://idp.example.org/slo")
	r.NoError(err)

	r.NoError(signer.Sign(redirect, saml.RedirectParamSAMLResponse, "cGF5bG9hZA==", "state"))

	iMsg := strings.Index(redirect.RawQuery, "SAMLResponse=")
	iRelay := strings.Index(redirect.RawQuery, "RelayState=")
	iAlg := strings.Index(redirect.RawQuery, "SigAlg=")
	iSig := strings.Index(redirect.RawQuery, "Signature=")

	r.True(iMsg < iRelay && iRelay < iAlg && iAlg < iSig,
		"binding requires SAMLResponse|RelayState|SigAlg|Signature order, got: %s", redirect.RawQuery)
}

func Test_VerifyRawQuery_Tamper(t *testing.T) {
	r := require.New(t)

	_, cert, key := newTestSigningCert(t)
	signer := saml.NewRedirectSigner(key, dsig.RSASHA256SignatureMethod)

	redirect, err := url.Parse("https://idp.example.org/slo")
	r.NoError(err)
	r.NoError(signer.Sign(redirect, saml.RedirectParamSAMLRequest, "cGF5bG9hZA==", "state"))

	tampered := strings.Replace(redirect.RawQuery, "cGF5bG9hZA", "cGF5bG9hZB", 1)
	r.NotEqual(redirect.RawQuery, tampered)

	err = saml.VerifyRawQuery(tampered, cert)
	r.Error(err)
	r.ErrorIs(err, saml.ErrSignatureInvalid)
}

func Test_VerifyRawQuery_MissingSignature(t *testing.T) {
	r := require.New(t)

	_, cert, _ := newTestSigningCert(t)

	err := saml.VerifyRawQuery("SAMLRequest=cGF5bG9hZA%3D%3D&RelayState=state", cert)
	r.Error(err)
	r.ErrorIs(err, saml.ErrSignatureMissing)
}

// Test_VerifyRawQuery_PreservesPeerEncoding pins the byte-preservation
// contract: the verifier must reconstruct the signed string from the raw
// query exactly as the peer encoded it, even when that encoding differs
// from what this package's own encoder would produce (lowercase hex
// escapes here).
func Test_VerifyRawQuery_PreservesPeerEncoding(t *testing.T) {
	r := require.New(t)

	_, cert, key := newTestSigningCert(t)

	// A peer that escapes with lowercase hex digits. url.QueryEscape would
	// emit %2F and %2B, so re-encoding on our side could not reproduce
	// these bytes.
	msgSegment := "SAMLResponse=abc%2fdef%2bghi"
	relaySegment := "RelayState=https%3a%2f%2fsp.example.org%2fhome"
	sigAlgSegment := "SigAlg=" + url.QueryEscape(dsig.RSASHA256SignatureMethod)

	input := msgSegment + "&" + relaySegment + "&" + sigAlgSegment

	sum := sha256.Sum256([]byte(input))
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, sum[:])
	r.NoError(err)

	rawQuery := input + "&Signature=" + url.QueryEscape(base64.StdEncoding.EncodeToString(sig))

	r.NoError(saml.VerifyRawQuery(rawQuery, cert))
}
