package saml_test

import (
	"fmt"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/samlkit/samlsp"
	"github.com/samlkit/samlsp/models/core"
	"github.com/samlkit/samlsp/models/metadata"
	testprovider "github.com/samlkit/samlsp/test"
)

func Test_CreateAuthnRequest_Options(t *testing.T) {
	r := require.New(t)

	tp := testprovider.StartTestProvider(t)
	defer tp.Close()

	entityID, err := url.Parse("http://test.me/entity")
	r.NoError(err)
	acs, err := url.Parse("http://test.me/saml/acs")
	r.NoError(err)
	issuer, err := url.Parse("http://test.idp")
	r.NoError(err)
	metadataURL, err := url.Parse(fmt.Sprintf("%s/saml/metadata", tp.ServerURL()))
	r.NoError(err)

	cfg, err := saml.NewConfig(entityID, acs, issuer, metadataURL)
	r.NoError(err)

	provider, err := saml.NewServiceProvider(cfg)
	r.NoError(err)

	t.Run("When option AllowCreate is set", func(_ *testing.T) {
		got, err := provider.CreateAuthnRequest(
			"abc123",
			core.ServiceBindingHTTPPost,
			saml.AllowCreate(),
		)

		r.NoError(err)

		r.NotNil(got.NameIDPolicy)
		r.True(got.NameIDPolicy.AllowCreate)
	})

	t.Run("When option WithNameIDFormat is set", func(_ *testing.T) {
		got, err := provider.CreateAuthnRequest(
			"abc123",
			core.ServiceBindingHTTPPost,
			saml.WithNameIDFormat(core.NameIDFormatEmail),
		)

		r.NoError(err)

		r.NotNil(got.NameIDPolicy)
		r.True(got.NameIDPolicy.AllowCreate)
		r.Equal(core.NameIDFormatEmail, got.NameIDPolicy.Format)
	})

	t.Run("When option ForceAuthn is set", func(_ *testing.T) {
		got, err := provider.CreateAuthnRequest(
			"abc123",
			core.ServiceBindingHTTPPost,
			saml.ForceAuthn(),
		)

		r.NoError(err)
		r.True(got.ForceAuthn)
	})

	t.Run("When option WithProtocolBinding is set", func(_ *testing.T) {
		got, err := provider.CreateAuthnRequest(
			"abc123",
			core.ServiceBindingHTTPPost,
			saml.WithProtocolBinding(core.ServiceBindingHTTPRedirect),
		)

		r.NoError(err)
		r.Equal(core.ServiceBindingHTTPRedirect, got.ProtocolBinding)
	})

	t.Run("When option WithAuthnContextRefs is set", func(_ *testing.T) {
		got, err := provider.CreateAuthnRequest(
			"abc123",
			core.ServiceBindingHTTPPost,
			saml.WithAuthContextClassRefs([]string{
				"urn:oasis:names:tc:SAML:2.0:ac:classes:PasswordProtectedTransport",
			}),
		)

		r.NoError(err)
		r.Contains(
			got.RequestedAuthContext.AuthnContextClassRef,
			"urn:oasis:names:tc:SAML:2.0:ac:classes:PasswordProtectedTransport",
		)
		r.Equal(core.ComparisonExact, got.RequestedAuthContext.Comparison)
	})

	t.Run("When option IsPassive is set", func(_ *testing.T) {
		got, err := provider.CreateAuthnRequest(
			"abc123",
			core.ServiceBindingHTTPPost,
			saml.IsPassive(),
		)

		r.NoError(err)
		r.True(got.IsPassive)
	})

	t.Run("When option WithAuthLevel is set", func(_ *testing.T) {
		got, err := provider.CreateAuthnRequest(
			"abc123",
			core.ServiceBindingHTTPPost,
			saml.WithAuthLevel(42),
		)

		r.NoError(err)
		r.NotNil(got.RequestedAuthContext)
		r.Equal(
			[]string{"urn:oasis:names:tc:SAML:2.0:ac:classes:PasswordProtectedTransport"},
			got.RequestedAuthContext.AuthnContextClassRef,
			"an unmapped level falls back to PasswordProtectedTransport",
		)
	})

	t.Run("When option WithIdPEntityID is set", func(t *testing.T) {
		idp, err := provider.FetchMetadata()
		require.NoError(t, err)

		store, err := saml.NewMetadataStore(
			"http://test.me/entity",
			[]*metadata.EntityDescriptorIDPSSO{idp},
			[]saml.CircleOfTrust{
				*saml.NewCircleOfTrust("cot1", "http://test.me/entity", "http://test.idp"),
			},
		)
		require.NoError(t, err)
		provider.UseMetadataStore(store)

		got, err := provider.CreateAuthnRequest(
			"abc123",
			core.ServiceBindingHTTPPost,
			saml.WithIdPEntityID("http://test.idp"),
		)
		require.NoError(t, err)
		require.Equal(t, tp.ServerURL()+"/saml/login/post", got.Destination)

		_, err = provider.CreateAuthnRequest(
			"abc123",
			core.ServiceBindingHTTPPost,
			saml.WithIdPEntityID("http://unknown.idp"),
		)
		require.Error(t, err)
	})

	t.Run("When more than one option is set", func(_ *testing.T) {
		got, err := provider.CreateAuthnRequest(
			"abc123",
			core.ServiceBindingHTTPPost,
			saml.ForceAuthn(),
			saml.WithProtocolBinding(core.ServiceBindingHTTPRedirect),
		)

		r.NoError(err)
		r.True(got.ForceAuthn)
		r.Equal(core.ServiceBindingHTTPRedirect, got.ProtocolBinding)
	})
}
