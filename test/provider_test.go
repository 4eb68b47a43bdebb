package testprovider_test

import (
	"bytes"
	"compress/flate"
	"encoding/base64"
	"encoding/xml"
	"html"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"testing"

	"github.com/beevik/etree"
	"github.com/stretchr/testify/require"

	"github.com/samlkit/samlsp/models/core"
	testprovider "github.com/samlkit/samlsp/test"
)

var samlResponseValueRe = regexp.MustCompile(`name="SAMLResponse" value="([^"]*)"`)

// unwrapSOAPBody strips the SOAP envelope off a back-channel reply and
// returns the serialized first Body child, mirroring the SP's own
// envelope handling.
func unwrapSOAPBody(t *testing.T, envelope []byte) []byte {
	t.Helper()
	r := require.New(t)

	doc := etree.NewDocument()
	r.NoError(doc.ReadFromBytes(envelope))

	var body *etree.Element
	for _, child := range doc.Root().ChildElements() {
		if child.Tag == "Body" {
			body = child
			break
		}
	}
	r.NotNil(body)
	r.NotEmpty(body.ChildElements())

	childDoc := etree.NewDocument()
	childDoc.SetRoot(body.ChildElements()[0].Copy())

	out, err := childDoc.WriteToBytes()
	r.NoError(err)
	return out
}

func samlResponseFromForm(t *testing.T, body []byte) *core.Response {
	t.Helper()
	r := require.New(t)

	m := samlResponseValueRe.FindSubmatch(body)
	r.Len(m, 2, "expected an embedded SAMLResponse form field, got: %s", body)

	raw, err := base64.StdEncoding.DecodeString(html.UnescapeString(string(m[1])))
	r.NoError(err)

	var resp core.Response
	r.NoError(xml.Unmarshal(raw, &resp))

	return &resp
}

func TestTestProvider_MetadataHandler(t *testing.T) {
	r := require.New(t)

	tp := testprovider.StartTestProvider(t)
	defer tp.Close()

	res, err := http.Get(tp.ServerURL() + "/saml/metadata")
	r.NoError(err)
	defer res.Body.Close()

	r.Equal(http.StatusOK, res.StatusCode)

	body, err := io.ReadAll(res.Body)
	r.NoError(err)
	r.Contains(string(body), tp.ServerURL()+"/saml/login/post")
	r.Contains(string(body), tp.ServerURL()+"/saml/login/redirect")
	r.Contains(string(body), tp.ServerURL()+"/saml/slo/post")
	r.Contains(string(body), tp.ServerURL()+"/saml/artifact/resolve")
}

func TestTestProvider_LoginHandlerPost(t *testing.T) {
	r := require.New(t)

	tp := testprovider.StartTestProvider(t)
	defer tp.Close()

	authnReq := &core.AuthnRequest{
		AssertionConsumerServiceURL: "http://sp.example/saml/acs",
	}
	authnReq.ID = "req-123"

	payload, err := authnReq.CreateXMLDocument(0)
	r.NoError(err)

	res, err := http.PostForm(tp.ServerURL()+"/saml/login/post", url.Values{
		"SAMLRequest": {base64.StdEncoding.EncodeToString(payload)},
		"RelayState":  {"relay-abc"},
	})
	r.NoError(err)
	defer res.Body.Close()

	r.Equal(http.StatusOK, res.StatusCode)

	body, err := io.ReadAll(res.Body)
	r.NoError(err)
	r.Contains(string(body), "relay-abc")

	resp := samlResponseFromForm(t, body)
	r.Equal("req-123", resp.InResponseTo)
	r.Equal(core.StatusCodeSuccess, resp.Status.StatusCode.Value)
	r.Len(resp.Assertion, 1)
	r.Equal("testuser@example.com", resp.Assertion[0].GetSubject())
}

func TestTestProvider_LoginHandlerRedirect(t *testing.T) {
	r := require.New(t)

	tp := testprovider.StartTestProvider(t)
	defer tp.Close()

	tp.SetSubject("other@example.com", map[string][]string{"role": {"admin"}})

	authnReq := &core.AuthnRequest{
		AssertionConsumerServiceURL: "http://sp.example/saml/acs",
	}
	authnReq.ID = "req-456"

	xmlBytes, err := authnReq.CreateXMLDocument(0)
	r.NoError(err)

	buf := bytes.Buffer{}
	fw, err := flate.NewWriter(&buf, flate.DefaultCompression)
	r.NoError(err)
	_, err = fw.Write(xmlBytes)
	r.NoError(err)
	r.NoError(fw.Close())

	qs := url.Values{}
	qs.Set("SAMLRequest", base64.StdEncoding.EncodeToString(buf.Bytes()))

	res, err := http.Get(tp.ServerURL() + "/saml/login/redirect?" + qs.Encode())
	r.NoError(err)
	defer res.Body.Close()

	r.Equal(http.StatusOK, res.StatusCode)

	body, err := io.ReadAll(res.Body)
	r.NoError(err)

	resp := samlResponseFromForm(t, body)
	r.Equal("req-456", resp.InResponseTo)
	r.Equal("other@example.com", resp.Assertion[0].GetSubject())
	r.Equal([]string{"admin"}, resp.Assertion[0].AttributeStatement[0].Attribute[0].AttributeValue)
}

func TestTestProvider_LogoutHandlerPost(t *testing.T) {
	r := require.New(t)

	tp := testprovider.StartTestProvider(t)
	defer tp.Close()

	logoutReq := &core.LogoutRequest{
		NameID: &core.NameID{Value: "testuser@example.com"},
	}
	logoutReq.ID = "logout-1"
	logoutReq.Destination = tp.ServerURL() + "/saml/slo/post"

	payload, err := logoutReq.CreateXMLDocument(0)
	r.NoError(err)

	res, err := http.PostForm(tp.ServerURL()+"/saml/slo/post", url.Values{
		"SAMLRequest": {base64.StdEncoding.EncodeToString(payload)},
	})
	r.NoError(err)
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	r.NoError(err)

	m := samlResponseValueRe.FindSubmatch(body)
	r.Len(m, 2)

	raw, err := base64.StdEncoding.DecodeString(html.UnescapeString(string(m[1])))
	r.NoError(err)

	var logoutResp core.LogoutResponse
	r.NoError(xml.Unmarshal(raw, &logoutResp))
	r.Equal("logout-1", logoutResp.InResponseTo)
	r.Equal(core.StatusCodeSuccess, logoutResp.Status.StatusCode.Value)
}

func TestTestProvider_ArtifactResolveHandler(t *testing.T) {
	r := require.New(t)

	tp := testprovider.StartTestProvider(t)
	defer tp.Close()

	stored := &core.Response{}
	stored.ID = "_response-stored"
	stored.Status = core.Status{StatusCode: core.StatusCode{Value: core.StatusCodeSuccess}}
	tp.StoreArtifactResponse("handle-1", stored)

	resolve := &core.ArtifactResolve{Artifact: "handle-1"}
	resolve.ID = "resolve-1"

	body, err := resolve.CreateXMLDocument(0)
	r.NoError(err)

	envelope := `<soap11:Envelope xmlns:soap11="http://schemas.xmlsoap.org/soap/envelope/"><soap11:Body>` +
		string(body) + `</soap11:Body></soap11:Envelope>`

	res, err := http.Post(tp.ServerURL()+"/saml/artifact/resolve", "text/xml", bytes.NewReader([]byte(envelope)))
	r.NoError(err)
	defer res.Body.Close()

	respBody, err := io.ReadAll(res.Body)
	r.NoError(err)

	var ar core.ArtifactResponse
	r.NoError(xml.Unmarshal(unwrapSOAPBody(t, respBody), &ar))
	r.Equal("resolve-1", ar.InResponseTo)
	r.Equal(core.StatusCodeSuccess, ar.Status.StatusCode.Value)
	r.NotNil(ar.Response)
	r.Equal("_response-stored", ar.Response.ID)
}

func TestTestProvider_ArtifactResolveHandler_Unknown(t *testing.T) {
	r := require.New(t)

	tp := testprovider.StartTestProvider(t)
	defer tp.Close()

	resolve := &core.ArtifactResolve{Artifact: "does-not-exist"}
	resolve.ID = "resolve-2"

	body, err := resolve.CreateXMLDocument(0)
	r.NoError(err)

	envelope := `<soap11:Envelope xmlns:soap11="http://schemas.xmlsoap.org/soap/envelope/"><soap11:Body>` +
		string(body) + `</soap11:Body></soap11:Envelope>`

	res, err := http.Post(tp.ServerURL()+"/saml/artifact/resolve", "text/xml", bytes.NewReader([]byte(envelope)))
	r.NoError(err)
	defer res.Body.Close()

	respBody, err := io.ReadAll(res.Body)
	r.NoError(err)

	var ar core.ArtifactResponse
	r.NoError(xml.Unmarshal(unwrapSOAPBody(t, respBody), &ar))
	r.Equal(core.StatusCodeResponder, ar.Status.StatusCode.Value)
	r.Nil(ar.Response)
}
