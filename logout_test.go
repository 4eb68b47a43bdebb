package saml_test

import (
	"bytes"
	"compress/flate"
	"context"
	"encoding/base64"
	"encoding/xml"
	"io"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/samlkit/samlsp"
	"github.com/samlkit/samlsp/models/core"
	testprovider "github.com/samlkit/samlsp/test"
)

// inflateParam reverses the redirect binding's base64 + raw-DEFLATE
// encoding of a query parameter.
func inflateParam(t *testing.T, deflatedB64 string) []byte {
	t.Helper()
	r := require.New(t)

	raw, err := base64.StdEncoding.DecodeString(deflatedB64)
	r.NoError(err)

	fr := flate.NewReader(bytes.NewReader(raw))
	defer fr.Close()

	out, err := io.ReadAll(fr)
	r.NoError(err)
	return out
}

func Test_CreateLogoutRequest(t *testing.T) {
	tp := testprovider.StartTestProvider(t)
	defer tp.Close()

	sp := newTestSPWithStore(t, tp)

	t.Run("success", func(t *testing.T) {
		lr, err := sp.CreateLogoutRequest(
			"_logout-1", "http://test.idp", "testuser@example.com",
			core.NameIDFormatEmail, core.ServiceBindingHTTPPost,
			saml.WithSessionIndex("_session-1"),
		)
		require.NoError(t, err)

		require.Equal(t, "_logout-1", lr.ID)
		require.Equal(t, core.SAMLVersion2, lr.Version)
		require.Equal(t, tp.ServerURL()+"/saml/slo/post", lr.Destination)
		require.Equal(t, "http://test.me/entity", lr.Issuer.Value)
		require.Equal(t, "testuser@example.com", lr.NameID.Value)
		require.Equal(t, core.NameIDFormatEmail, lr.NameID.Format)
		require.Equal(t, []string{"_session-1"}, lr.SessionIndex)
	})

	t.Run("missing ID", func(t *testing.T) {
		_, err := sp.CreateLogoutRequest(
			"", "http://test.idp", "testuser@example.com",
			core.NameIDFormatEmail, core.ServiceBindingHTTPPost,
			saml.WithSessionIndex("_session-1"),
		)
		require.ErrorContains(t, err, "no ID provided")
	})

	t.Run("missing NameID", func(t *testing.T) {
		_, err := sp.CreateLogoutRequest(
			"_logout-1", "http://test.idp", "",
			core.NameIDFormatEmail, core.ServiceBindingHTTPPost,
			saml.WithSessionIndex("_session-1"),
		)
		require.ErrorContains(t, err, "no NameID provided")
	})

	t.Run("missing SessionIndex", func(t *testing.T) {
		_, err := sp.CreateLogoutRequest(
			"_logout-1", "http://test.idp", "testuser@example.com",
			core.NameIDFormatEmail, core.ServiceBindingHTTPPost,
		)
		require.ErrorContains(t, err, "no SessionIndex provided")
	})
}

func Test_SendLogoutRequest_Redirect(t *testing.T) {
	r := require.New(t)

	tp := testprovider.StartTestProvider(t)
	defer tp.Close()

	sp := newTestSPWithStore(t, tp)

	_, redirectURL, _, err := sp.SendLogoutRequest(context.Background(),
		"http://test.idp", "testuser@example.com",
		saml.LogoutParams{
			Binding:      core.ServiceBindingHTTPRedirect,
			NameIDFormat: core.NameIDFormatEmail,
			SessionIndex: []string{"_session-1"},
			UserBucket:   "user-1",
		},
	)
	r.NoError(err)
	r.NotNil(redirectURL)
	r.NotEmpty(redirectURL.Query().Get("SAMLRequest"))

	// The issued request ID must be tracked for the eventual LogoutResponse.
	lrID := issuedLogoutRequestID(t, redirectURL.Query().Get("SAMLRequest"))
	r.True(sp.CorrelationCache().Contains("user-1", lrID))
}

func Test_SendLogoutRequest_RedirectSigned(t *testing.T) {
	r := require.New(t)

	tp := testprovider.StartTestProvider(t)
	defer tp.Close()

	sp := newTestSPWithStore(t, tp)

	_, cert, key := newTestSigningCert(t)
	signer := saml.NewRedirectSigner(key, "")

	_, redirectURL, _, err := sp.SendLogoutRequest(context.Background(),
		"http://test.idp", "testuser@example.com",
		saml.LogoutParams{
			Binding:        core.ServiceBindingHTTPRedirect,
			NameIDFormat:   core.NameIDFormatEmail,
			SessionIndex:   []string{"_session-1"},
			RedirectSigner: signer,
		},
	)
	r.NoError(err)
	r.Contains(redirectURL.RawQuery, "Signature=")

	r.NoError(saml.VerifyRawQuery(redirectURL.RawQuery, cert))
}

func Test_SendLogoutRequest_Post(t *testing.T) {
	r := require.New(t)

	tp := testprovider.StartTestProvider(t)
	defer tp.Close()

	sp := newTestSPWithStore(t, tp)

	body, redirectURL, _, err := sp.SendLogoutRequest(context.Background(),
		"http://test.idp", "testuser@example.com",
		saml.LogoutParams{
			Binding:      core.ServiceBindingHTTPPost,
			NameIDFormat: core.NameIDFormatEmail,
			SessionIndex: []string{"_session-1"},
			UserBucket:   "user-1",
		},
	)
	r.NoError(err)
	r.Nil(redirectURL)
	r.Contains(string(body), `name="SAMLRequest"`)
	r.Contains(string(body), tp.ServerURL()+"/saml/slo/post")
	r.Contains(string(body), "SAMLRequestForm")
	r.NotContains(string(body), `name="SAMLResponse"`)
}

var samlRequestFieldRe = regexp.MustCompile(`name="SAMLRequest" value="([^"]*)"`)

// Test_SendLogoutRequest_PostSignedViaAlias exercises the signing path
// that resolves the SP's SigningCertificateAlias through the wired
// CertificateStore when no explicit signer is supplied.
func Test_SendLogoutRequest_PostSignedViaAlias(t *testing.T) {
	r := require.New(t)

	tp := testprovider.StartTestProvider(t)
	defer tp.Close()

	sp := newTestSPWithStore(t, tp)

	tlsCert, cert, _ := newTestSigningCert(t)

	ext := saml.ExtendedConfigDefault()
	ext.SigningCertificateAlias = "sp-signing"
	sp.Config().Extended = ext

	certStore := saml.NewCertificateStore()
	certStore.Add("sp-signing", tlsCert)
	sp.UseCertificateStore(certStore)

	body, _, _, err := sp.SendLogoutRequest(context.Background(),
		"http://test.idp", "testuser@example.com",
		saml.LogoutParams{
			Binding:      core.ServiceBindingHTTPPost,
			NameIDFormat: core.NameIDFormatEmail,
			SessionIndex: []string{"_session-1"},
		},
	)
	r.NoError(err)

	m := samlRequestFieldRe.FindSubmatch(body)
	r.Len(m, 2)

	raw, err := base64.StdEncoding.DecodeString(string(m[1]))
	r.NoError(err)
	r.Contains(string(raw), "SignatureValue")

	r.NoError(saml.NewXMLVerifier(cert).VerifyEnvelopedSignature(raw))
}

// Test_SendLogoutRequest_AliasMisconfigured covers an alias that names a
// certificate the wired store doesn't hold.
func Test_SendLogoutRequest_AliasMisconfigured(t *testing.T) {
	r := require.New(t)

	tp := testprovider.StartTestProvider(t)
	defer tp.Close()

	sp := newTestSPWithStore(t, tp)

	ext := saml.ExtendedConfigDefault()
	ext.SigningCertificateAlias = "missing-alias"
	sp.Config().Extended = ext
	sp.UseCertificateStore(saml.NewCertificateStore())

	_, _, _, err := sp.SendLogoutRequest(context.Background(),
		"http://test.idp", "testuser@example.com",
		saml.LogoutParams{
			Binding:      core.ServiceBindingHTTPPost,
			NameIDFormat: core.NameIDFormatEmail,
			SessionIndex: []string{"_session-1"},
		},
	)
	r.Error(err)

	kind, ok := saml.KindOf(err)
	r.True(ok)
	r.Equal(saml.KindConfiguration, kind)
}

func Test_SendLogoutRequest_SOAP(t *testing.T) {
	r := require.New(t)

	tp := testprovider.StartTestProvider(t)
	defer tp.Close()

	sp := newTestSPWithStore(t, tp)

	_, _, logoutResp, err := sp.SendLogoutRequest(context.Background(),
		"http://test.idp", "testuser@example.com",
		saml.LogoutParams{
			Binding:      core.ServiceBindingSOAP,
			NameIDFormat: core.NameIDFormatEmail,
			SessionIndex: []string{"_session-1"},
		},
		saml.InsecureSkipSignatureValidation(),
	)
	r.NoError(err)
	r.NotNil(logoutResp)
	r.Equal(core.StatusCodeSuccess, logoutResp.Status.StatusCode.Value)
	r.Equal("http://test.idp", logoutResp.Issuer.Value)
}

func Test_SendLogoutRequest_RelayStateRejected(t *testing.T) {
	r := require.New(t)

	tp := testprovider.StartTestProvider(t)
	defer tp.Close()

	sp := newTestSPWithStore(t, tp)

	_, _, _, err := sp.SendLogoutRequest(context.Background(),
		"http://test.idp", "testuser@example.com",
		saml.LogoutParams{
			Binding:      core.ServiceBindingHTTPRedirect,
			NameIDFormat: core.NameIDFormatEmail,
			SessionIndex: []string{"_session-1"},
			RelayState:   "https://not.whitelisted.example.org/",
		},
	)
	r.Error(err)

	kind, ok := saml.KindOf(err)
	r.True(ok)
	r.Equal(saml.KindRelayStateRejected, kind)
}

func Test_SendLogoutRequest_RelayStateWhitelisted(t *testing.T) {
	r := require.New(t)

	tp := testprovider.StartTestProvider(t)
	defer tp.Close()

	sp := newTestSPWithStore(t, tp)
	sp.Config().Extended = saml.ExtendedConfigDefault()
	sp.Config().Extended.RelayStateUrlList = []string{"https://sp.example.org/home"}

	_, redirectURL, _, err := sp.SendLogoutRequest(context.Background(),
		"http://test.idp", "testuser@example.com",
		saml.LogoutParams{
			Binding:      core.ServiceBindingHTTPRedirect,
			NameIDFormat: core.NameIDFormatEmail,
			SessionIndex: []string{"_session-1"},
			RelayState:   "https://sp.example.org/home",
		},
	)
	r.NoError(err)
	r.Equal("https://sp.example.org/home", redirectURL.Query().Get("RelayState"))
}

func Test_GetLogoutRequest(t *testing.T) {
	r := require.New(t)

	tp := testprovider.StartTestProvider(t)
	defer tp.Close()

	sp := newTestSPWithStore(t, tp)

	lr := &core.LogoutRequest{
		NameID:       &core.NameID{Value: "testuser@example.com"},
		SessionIndex: []string{"_session-1"},
	}
	lr.ID = "_idp-logout-1"
	lr.Version = core.SAMLVersion2
	lr.IssueInstant = time.Now().UTC()
	lr.Issuer = &core.Issuer{NameIDType: core.NameIDType{Value: "http://test.idp"}}

	raw, err := xml.Marshal(lr)
	r.NoError(err)

	got, err := sp.GetLogoutRequest(
		"http://test.idp", core.ServiceBindingHTTPPost,
		base64.StdEncoding.EncodeToString(raw), "",
		saml.InsecureSkipSignatureValidation(),
	)
	r.NoError(err)
	r.Equal("_idp-logout-1", got.ID)
	r.Equal("testuser@example.com", got.NameID.Value)
}

func Test_GetLogoutRequest_UnknownIssuer(t *testing.T) {
	r := require.New(t)

	tp := testprovider.StartTestProvider(t)
	defer tp.Close()

	sp := newTestSPWithStore(t, tp)

	lr := &core.LogoutRequest{
		NameID: &core.NameID{Value: "testuser@example.com"},
	}
	lr.ID = "_idp-logout-1"
	lr.Version = core.SAMLVersion2
	lr.Issuer = &core.Issuer{NameIDType: core.NameIDType{Value: "http://rogue.idp"}}

	raw, err := xml.Marshal(lr)
	r.NoError(err)

	_, err = sp.GetLogoutRequest(
		"http://test.idp", core.ServiceBindingHTTPPost,
		base64.StdEncoding.EncodeToString(raw), "",
		saml.InsecureSkipSignatureValidation(),
	)
	r.Error(err)

	kind, _ := saml.KindOf(err)
	r.Equal(saml.KindUnknownIssuer, kind)
}

func Test_GetLogoutResponse(t *testing.T) {
	r := require.New(t)

	tp := testprovider.StartTestProvider(t)
	defer tp.Close()

	sp := newTestSPWithStore(t, tp)
	sp.CorrelationCache().Track("user-1", "_sp-logout-1")

	lresp := &core.LogoutResponse{
		StatusResponseType: core.StatusResponseType{InResponseTo: "_sp-logout-1"},
		Status: core.Status{
			StatusCode: core.StatusCode{Value: core.StatusCodeSuccess},
		},
	}
	lresp.ID = "_idp-logoutresp-1"
	lresp.Version = core.SAMLVersion2
	lresp.IssueInstant = time.Now().UTC()
	lresp.Issuer = &core.Issuer{NameIDType: core.NameIDType{Value: "http://test.idp"}}

	raw, err := xml.Marshal(lresp)
	r.NoError(err)
	encoded := base64.StdEncoding.EncodeToString(raw)

	got, err := sp.GetLogoutResponse(
		"http://test.idp", core.ServiceBindingHTTPPost,
		encoded, "", "user-1",
		saml.InsecureSkipSignatureValidation(),
	)
	r.NoError(err)
	r.Equal("_sp-logout-1", got.InResponseTo)

	r.False(sp.CorrelationCache().Contains("user-1", "_sp-logout-1"))

	// Replaying the same LogoutResponse must fail correlation.
	_, err = sp.GetLogoutResponse(
		"http://test.idp", core.ServiceBindingHTTPPost,
		encoded, "", "user-1",
		saml.InsecureSkipSignatureValidation(),
	)
	r.Error(err)

	kind, _ := saml.KindOf(err)
	r.Equal(saml.KindCorrelationMismatch, kind)
}

func Test_SendLogoutResponse(t *testing.T) {
	tp := testprovider.StartTestProvider(t)
	defer tp.Close()

	sp := newTestSPWithStore(t, tp)

	t.Run("redirect", func(t *testing.T) {
		body, redirectURL, err := sp.SendLogoutResponse(
			"http://test.idp", "_idp-logout-1", core.StatusCodeSuccess,
			saml.LogoutParams{Binding: core.ServiceBindingHTTPRedirect},
		)
		require.NoError(t, err)
		require.Nil(t, body)
		require.NotEmpty(t, redirectURL.Query().Get("SAMLResponse"))
	})

	t.Run("post", func(t *testing.T) {
		body, redirectURL, err := sp.SendLogoutResponse(
			"http://test.idp", "_idp-logout-1", core.StatusCodeSuccess,
			saml.LogoutParams{Binding: core.ServiceBindingHTTPPost},
		)
		require.NoError(t, err)
		require.Nil(t, redirectURL)
		require.Contains(t, string(body), `name="SAMLResponse"`)
	})

	t.Run("soap is synchronous only", func(t *testing.T) {
		_, _, err := sp.SendLogoutResponse(
			"http://test.idp", "_idp-logout-1", core.StatusCodeSuccess,
			saml.LogoutParams{Binding: core.ServiceBindingSOAP},
		)
		require.ErrorIs(t, err, saml.ErrBindingUnsupported)
	})
}

func Test_SendSoapLogoutResponse(t *testing.T) {
	r := require.New(t)

	tp := testprovider.StartTestProvider(t)
	defer tp.Close()

	sp := newTestSPWithStore(t, tp)

	envelope, lresp, err := sp.SendSoapLogoutResponse(
		"http://test.idp", "_idp-logout-1", core.StatusCodeSuccess, nil,
	)
	r.NoError(err)
	r.NotNil(lresp)
	r.Equal("_idp-logout-1", lresp.InResponseTo)
	r.Contains(string(envelope), "http://schemas.xmlsoap.org/soap/envelope/")
	r.Contains(string(envelope), "LogoutResponse")
}

// issuedLogoutRequestID decodes a redirect-binding SAMLRequest parameter
// and returns the embedded LogoutRequest's ID.
func issuedLogoutRequestID(t *testing.T, deflatedB64 string) string {
	t.Helper()
	r := require.New(t)

	raw := inflateParam(t, deflatedB64)

	var lr core.LogoutRequest
	r.NoError(xml.Unmarshal(raw, &lr))
	return lr.ID
}
