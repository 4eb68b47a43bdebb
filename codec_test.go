package saml

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/samlkit/samlsp/models/core"
)

func Test_DeflateInflateRoundTrip(t *testing.T) {
	r := require.New(t)

	ar := &core.AuthnRequest{}
	ar.ID = "_abc123"
	ar.Version = core.SAMLVersion2
	ar.Destination = "https://idp.example.org/sso"

	deflated, err := deflateMessage(ar, 0)
	r.NoError(err)
	r.NotEmpty(deflated)

	inflated, err := inflateMessage(base64.StdEncoding.EncodeToString(deflated))
	r.NoError(err)

	r.Contains(string(inflated), `ID="_abc123"`)
	r.Contains(string(inflated), `Destination="https://idp.example.org/sso"`)

	// A second encode/decode of the same message must yield the same XML.
	deflated2, err := deflateMessage(ar, 0)
	r.NoError(err)
	inflated2, err := inflateMessage(base64.StdEncoding.EncodeToString(deflated2))
	r.NoError(err)
	r.Equal(inflated, inflated2)
}

func Test_InflateMessage_Errors(t *testing.T) {
	r := require.New(t)

	_, err := inflateMessage("%%%not-base64%%%")
	r.Error(err)
	r.ErrorContains(err, "invalid base64")

	// Valid base64 that is not a DEFLATE stream.
	_, err = inflateMessage(base64.StdEncoding.EncodeToString([]byte("plain text, no deflate framing")))
	r.Error(err)
	r.ErrorContains(err, "failed to inflate")
}

func Test_SOAPEnvelope_WrapAndExtract(t *testing.T) {
	r := require.New(t)

	body := []byte(`<samlp:ArtifactResolve xmlns:samlp="urn:oasis:names:tc:SAML:2.0:protocol" ID="_r1"><samlp:Artifact>handle</samlp:Artifact></samlp:ArtifactResolve>`)

	envelope, err := wrapSOAPEnvelope(body)
	r.NoError(err)
	r.Contains(string(envelope), "http://schemas.xmlsoap.org/soap/envelope/")

	child, err := extractSOAPBodyChild(envelope)
	r.NoError(err)
	r.Equal("ArtifactResolve", child.Tag)
	r.Equal("_r1", child.SelectAttrValue("ID", ""))
}

func Test_ExtractSOAPBodyChild_Errors(t *testing.T) {
	r := require.New(t)

	_, err := extractSOAPBodyChild([]byte("not xml at all <"))
	r.Error(err)

	_, err = extractSOAPBodyChild([]byte(`<soap11:Envelope xmlns:soap11="http://schemas.xmlsoap.org/soap/envelope/"></soap11:Envelope>`))
	r.Error(err)
	r.ErrorContains(err, "no SOAP Body")

	_, err = extractSOAPBodyChild([]byte(`<soap11:Envelope xmlns:soap11="http://schemas.xmlsoap.org/soap/envelope/"><soap11:Body></soap11:Body></soap11:Envelope>`))
	r.Error(err)
	r.ErrorContains(err, "no children")
}
