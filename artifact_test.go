package saml_test

import (
	"context"
	"crypto/sha1"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/samlkit/samlsp"
	"github.com/samlkit/samlsp/models/core"
	"github.com/samlkit/samlsp/models/metadata"
	testprovider "github.com/samlkit/samlsp/test"
)

func Test_Artifact_EncodeDecodeRoundTrip(t *testing.T) {
	r := require.New(t)

	art, err := saml.NewArtifact("http://test.idp", 7)
	r.NoError(err)

	encoded := art.Encode()

	raw, err := base64.StdEncoding.DecodeString(encoded)
	r.NoError(err)
	r.Len(raw, 44, "TypeCode(2) || EndpointIndex(2) || SourceID(20) || MessageHandle(20)")
	r.Equal(byte(0x00), raw[0])
	r.Equal(byte(0x04), raw[1])

	decoded, err := saml.DecodeArtifact(encoded)
	r.NoError(err)
	r.Equal(art.EndpointIndex, decoded.EndpointIndex)
	r.Equal(art.SourceID, decoded.SourceID)
	r.Equal(art.MessageHandle, decoded.MessageHandle)
}

func Test_Artifact_SourceID(t *testing.T) {
	r := require.New(t)

	want := sha1.Sum([]byte("http://test.idp"))
	r.Equal(want, saml.SourceIDForEntityID("http://test.idp"))

	art, err := saml.NewArtifact("http://test.idp", 0)
	r.NoError(err)
	r.True(art.MatchesIdP("http://test.idp"))
	r.False(art.MatchesIdP("http://other.idp"))
}

func Test_DecodeArtifact_Errors(t *testing.T) {
	r := require.New(t)

	_, err := saml.DecodeArtifact("!!not base64!!")
	r.Error(err)

	// Right length, wrong type code.
	raw := make([]byte, 44)
	raw[0], raw[1] = 0x00, 0x05
	_, err = saml.DecodeArtifact(base64.StdEncoding.EncodeToString(raw))
	r.Error(err)
	r.ErrorContains(err, "unsupported artifact type code")

	// Wrong length.
	_, err = saml.DecodeArtifact(base64.StdEncoding.EncodeToString(make([]byte, 20)))
	r.Error(err)
	r.ErrorContains(err, "expected 44 raw bytes")
}

func Test_ArtifactResolver_Resolve(t *testing.T) {
	r := require.New(t)

	tp := testprovider.StartTestProvider(t)
	defer tp.Close()

	sp := newTestSPWithStore(t, tp)

	art, err := saml.NewArtifact("http://test.idp", 0)
	r.NoError(err)

	stored := &core.Response{}
	stored.ID = "_stored-response"
	stored.Status = core.Status{StatusCode: core.StatusCode{Value: core.StatusCodeSuccess}}
	tp.StoreArtifactResponse(art.Encode(), stored)

	resolver := saml.NewArtifactResolver(sp)

	ar, err := resolver.Resolve(context.Background(), "http://test.idp", art.Encode(), "_resolve-1")
	r.NoError(err)
	r.Equal("_resolve-1", ar.InResponseTo)
	r.NotNil(ar.Response)
	r.Equal("_stored-response", ar.Response.ID)
}

func Test_ArtifactResolver_IdPLookup(t *testing.T) {
	r := require.New(t)

	tp := testprovider.StartTestProvider(t)
	defer tp.Close()

	sp := newTestSPWithStore(t, tp)
	resolver := saml.NewArtifactResolver(sp)

	art, err := saml.NewArtifact("http://test.idp", 0)
	r.NoError(err)

	entityID, err := resolver.IdPEntityIDForArtifact(art.Encode())
	r.NoError(err)
	r.Equal("http://test.idp", entityID)

	unknown, err := saml.NewArtifact("http://unknown.idp", 0)
	r.NoError(err)

	_, err = resolver.IdPEntityIDForArtifact(unknown.Encode())
	r.Error(err)
	kind, _ := saml.KindOf(err)
	r.Equal(saml.KindUnknownIssuer, kind)

	_, err = resolver.IdPEntityIDForArtifact("not-an-artifact")
	r.Error(err)
	kind, _ = saml.KindOf(err)
	r.Equal(saml.KindMalformedMessage, kind)
}

// Test_ArtifactResolver_CorrelationMismatch points the resolver at an IdP
// that answers with somebody else's InResponseTo.
func Test_ArtifactResolver_CorrelationMismatch(t *testing.T) {
	r := require.New(t)

	misbehaving := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		artResp := &core.ArtifactResponse{
			Status: core.Status{StatusCode: core.StatusCode{Value: core.StatusCodeSuccess}},
		}
		artResp.ID = "_artresp-1"
		artResp.Version = core.SAMLVersion2
		artResp.InResponseTo = "_some-other-request"

		payload, err := xml.Marshal(artResp)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/xml")
		fmt.Fprintf(w,
			`<soap11:Envelope xmlns:soap11="http://schemas.xmlsoap.org/soap/envelope/"><soap11:Body>%s</soap11:Body></soap11:Envelope>`,
			payload,
		)
	}))
	defer misbehaving.Close()

	idpMeta := fmt.Sprintf(`
<md:EntityDescriptor xmlns:md="urn:oasis:names:tc:SAML:2.0:metadata" entityID="http://mis.idp">
  <md:IDPSSODescriptor protocolSupportEnumeration="urn:oasis:names:tc:SAML:2.0:protocol">
    <md:ArtifactResolutionService isDefault="true" index="0" Binding="urn:oasis:names:tc:SAML:2.0:bindings:SOAP" Location="%s/resolve"/>
  </md:IDPSSODescriptor>
</md:EntityDescriptor>`, misbehaving.URL)

	idp, err := saml.ParseIdPMetadata([]byte(idpMeta))
	r.NoError(err)

	entityID, err := url.Parse("http://test.me/entity")
	r.NoError(err)
	metadataURL, err := url.Parse("http://unused.example.org/metadata")
	r.NoError(err)

	cfg, err := saml.NewConfig(entityID, entityID, entityID, metadataURL)
	r.NoError(err)

	sp, err := saml.NewServiceProvider(cfg)
	r.NoError(err)

	store, err := saml.NewMetadataStore(
		"http://test.me/entity",
		[]*metadata.EntityDescriptorIDPSSO{idp},
		nil,
	)
	r.NoError(err)
	sp.UseMetadataStore(store)

	art, err := saml.NewArtifact("http://mis.idp", 0)
	r.NoError(err)

	_, err = saml.NewArtifactResolver(sp).Resolve(context.Background(), "http://mis.idp", art.Encode(), "_resolve-1")
	r.Error(err)

	kind, _ := saml.KindOf(err)
	r.Equal(saml.KindCorrelationMismatch, kind)
}

func Test_ArtifactResolver_Cancelled(t *testing.T) {
	r := require.New(t)

	tp := testprovider.StartTestProvider(t)
	defer tp.Close()

	sp := newTestSPWithStore(t, tp)

	art, err := saml.NewArtifact("http://test.idp", 0)
	r.NoError(err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = saml.NewArtifactResolver(sp).Resolve(ctx, "http://test.idp", art.Encode(), "_resolve-1")
	r.Error(err)

	kind, _ := saml.KindOf(err)
	r.Equal(saml.KindCancelled, kind)
}
