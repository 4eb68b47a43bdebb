package saml_test

import (
	"encoding/xml"
	"net/url"
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/samlkit/samlsp"
	"github.com/samlkit/samlsp/models/metadata"
)

func newExportSP(t *testing.T, ext *saml.ExtendedConfig) *saml.ServiceProvider {
	t.Helper()
	r := require.New(t)

	entityID, err := url.Parse("http://test.me/entity")
	r.NoError(err)
	acs, err := url.Parse("http://test.me/saml/acs")
	r.NoError(err)
	issuer, err := url.Parse("http://test.me/entity")
	r.NoError(err)
	metadataURL, err := url.Parse("http://test.idp/metadata")
	r.NoError(err)

	cfg, err := saml.NewConfig(entityID, acs, issuer, metadataURL)
	r.NoError(err)
	cfg.Extended = ext

	sp, err := saml.NewServiceProvider(cfg)
	r.NoError(err)

	return sp
}

func Test_GetExportableMetadata_Unsigned(t *testing.T) {
	r := require.New(t)

	sp := newExportSP(t, nil)

	raw, err := sp.GetExportableMetadata(false)
	r.NoError(err)

	var parsed metadata.EntityDescriptorSPSSO
	r.NoError(xml.Unmarshal(raw, &parsed))
	r.Equal("http://test.me/entity", parsed.EntityID)
	r.Empty(parsed.ID, "an unsigned export carries no document ID")
	r.NotContains(string(raw), "SignatureValue")

	r.Len(parsed.SPSSODescriptor, 1)
	r.Equal(
		"http://test.me/saml/acs",
		parsed.SPSSODescriptor[0].AssertionConsumerService[0].Location,
	)
}

var metadataIDRe = regexp.MustCompile(`ID="([^"]+)"`)

func Test_GetExportableMetadata_Signed(t *testing.T) {
	r := require.New(t)

	tlsCert, cert, _ := newTestSigningCert(t)

	ext := saml.ExtendedConfigDefault()
	ext.SigningCertificateAlias = "sp-signing"

	sp := newExportSP(t, ext)

	certStore := saml.NewCertificateStore()
	certStore.Add("sp-signing", tlsCert)
	sp.UseCertificateStore(certStore)

	raw, err := sp.GetExportableMetadata(true)
	r.NoError(err)
	r.Contains(string(raw), "SignatureValue")

	m := metadataIDRe.FindStringSubmatch(string(raw))
	r.Len(m, 2, "a signed export must carry a document ID for the signature reference")

	_, err = saml.NewXMLVerifier(cert).VerifyDocument(raw)
	r.NoError(err)

	// A second export gets its own fresh ID.
	raw2, err := sp.GetExportableMetadata(true)
	r.NoError(err)
	m2 := metadataIDRe.FindStringSubmatch(string(raw2))
	r.Len(m2, 2)
	r.NotEqual(m[1], m2[1])
}

func Test_GetExportableMetadata_SigningMisconfigured(t *testing.T) {
	r := require.New(t)

	// Signing requested with no alias configured at all.
	sp := newExportSP(t, nil)
	_, err := sp.GetExportableMetadata(true)
	r.Error(err)
	kind, ok := saml.KindOf(err)
	r.True(ok)
	r.Equal(saml.KindConfiguration, kind)

	// Alias configured but no certificate store wired.
	ext := saml.ExtendedConfigDefault()
	ext.SigningCertificateAlias = "sp-signing"
	sp = newExportSP(t, ext)
	_, err = sp.GetExportableMetadata(true)
	r.Error(err)
	kind, _ = saml.KindOf(err)
	r.Equal(saml.KindConfiguration, kind)

	// Store wired but the alias isn't in it.
	sp.UseCertificateStore(saml.NewCertificateStore())
	_, err = sp.GetExportableMetadata(true)
	r.Error(err)
	kind, _ = saml.KindOf(err)
	r.Equal(saml.KindConfiguration, kind)
	r.ErrorContains(err, `"sp-signing" not found`)
}
