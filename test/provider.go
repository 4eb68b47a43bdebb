package testprovider

import (
	"bytes"
	"compress/flate"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/beevik/etree"
	"github.com/stretchr/testify/require"

	"github.com/samlkit/samlsp/models/core"
	"github.com/samlkit/samlsp/models/metadata"
)

const meta = `
<md:EntityDescriptor xmlns:md="urn:oasis:names:tc:SAML:2.0:metadata" entityID="http://test.idp">
  <md:IDPSSODescriptor WantAuthnRequestsSigned="false" protocolSupportEnumeration="urn:oasis:names:tc:SAML:2.0:protocol">
    <md:KeyDescriptor use="signing">
      <ds:KeyInfo xmlns:ds="http://www.w3.org/2000/09/xmldsig#">
        <ds:X509Data>
          <ds:X509Certificate>MIIDEjCCAfqgAwIBAgIVAMECQ1tjghafm5OxWDh9hwZfxthWMA0GCSqGSIb3DQEBCwUAMBYxFDASBgNVBAMMC3NhbWx0ZXN0LmlkMB4XDTE4MDgyNDIxMTQwOVoXDTM4MDgyNDIxMTQwOVowFjEUMBIGA1UEAwwLc2FtbHRlc3QuaWQwggEiMA0GCSqGSIb3DQEBAQUAA4IBDwAwggEKAoIBAQC0Z4QX1NFKs71ufbQwoQoW7qkNAJRIANGA4iM0ThYghul3pC+FwrGv37aTxWXfA1UG9njKbbDreiDAZKngCgyjxj0uJ4lArgkr4AOEjj5zXA81uGHARfUBctvQcsZpBIxDOvUUImAl+3NqLgMGF2fktxMG7kX3GEVNc1klbN3dfYsaw5dUrw25DheL9np7G/+28GwHPvLb4aptOiONbCaVvh9UMHEA9F7c0zfF/cL5fOpdVa54wTI0u12CsFKt78h6lEGG5jUs/qX9clZncJM7EFkN3imPPy+0HC8nspXiH/MZW8o2cqWRkrw3MzBZW3Ojk5nQj40V6NUbjb7kfejzAgMBAAGjVzBVMB0GA1UdDgQWBBQT6Y9J3Tw/hOGc8PNV7JEE4k2ZNTA0BgNVHREELTArggtzYW1sdGVzdC5pZIYcaHR0cHM6Ly9zYW1sdGVzdC5pZC9zYW1sL2lkcDANBgkqhkiG9w0BAQsFAAOCAQEASk3guKfTkVhEaIVvxEPNR2w3vWt3fwmwJCccW98XXLWgNbu3YaMb2RSn7Th4p3h+mfyk2don6au7Uyzc1Jd39RNv80TG5iQoxfCgphy1FYmmdaSfO8wvDtHTTNiLArAxOYtzfYbzb5QrNNH/gQEN8RJaEf/g/1GTw9x/103dSMK0RXtl+fRs2nblD1JJKSQ3AdhxK/weP3aUPtLxVVJ9wMOQOfcy02l+hHMb6uAjsPOpOVKqi3M8XmcUZOpx4swtgGdeoSpeRyrtMvRwdcciNBp9UZome44qZAYH1iqrpmmjsfI9pJItsgWu3kXPjhSfj1AJGR1l9JGvJrHki1iHTA==</ds:X509Certificate>
        </ds:X509Data>
      </ds:KeyInfo>
    </md:KeyDescriptor>
    <md:NameIDFormat>urn:oasis:names:tc:SAML:1.1:nameid-format:emailAddress</md:NameIDFormat>
    <md:SingleSignOnService Binding="urn:oasis:names:tc:SAML:2.0:bindings:HTTP-POST" Location="http://test.idp/saml/post"/>
    <md:SingleSignOnService Binding="urn:oasis:names:tc:SAML:2.0:bindings:HTTP-Redirect" Location="https://test.idp/saml/redirect"/>
    <md:SingleLogoutService Binding="urn:oasis:names:tc:SAML:2.0:bindings:HTTP-Redirect" Location="https://test.idp/saml/slo/redirect"/>
    <md:SingleLogoutService Binding="urn:oasis:names:tc:SAML:2.0:bindings:HTTP-POST" Location="https://test.idp/saml/slo/post"/>
    <md:SingleLogoutService Binding="urn:oasis:names:tc:SAML:2.0:bindings:SOAP" Location="https://test.idp/saml/slo/soap"/>
    <md:ArtifactResolutionService isDefault="true" index="0" Binding="urn:oasis:names:tc:SAML:2.0:bindings:SOAP" Location="https://test.idp/saml/artifact/resolve"/>
  </md:IDPSSODescriptor>
</md:EntityDescriptor>
`

// postAutoSubmitTempl is a minimal stand-in for the SP's own post-binding
// template, used here to play the IdP side of HTTP-POST responses.
const postAutoSubmitTempl = `<html><body onload="document.forms[0].submit()">
<form method="post" action="{{.Destination}}">
<input type="hidden" name="SAMLResponse" value="{{.SAMLResponse}}" />
{{if .RelayState}}<input type="hidden" name="RelayState" value="{{.RelayState}}" />{{end}}
</form>
</body></html>`

// TestProvider is a fake IdP, backed by an httptest.Server, used to drive
// service-provider flows end to end in tests without a real identity
// provider.
type TestProvider struct {
	t      *testing.T
	server *httptest.Server

	metadata *metadata.EntityDescriptorIDPSSO

	subjectNameID string
	attributes    map[string][]string

	artifactResponses    map[string]*core.Response
	rawArtifactResponses map[string][]byte
}

// StartTestProvider starts a fake IdP exposing metadata, SSO (POST and
// Redirect), SLO (POST and Redirect), and artifact resolution (SOAP)
// endpoints, all rooted at a freshly allocated httptest server.
func StartTestProvider(t *testing.T) *TestProvider {
	t.Helper()
	r := require.New(t)

	var m metadata.EntityDescriptorIDPSSO
	err := xml.Unmarshal([]byte(meta), &m)
	r.NoError(err)

	provider := &TestProvider{
		t:                    t,
		metadata:             &m,
		subjectNameID:        "testuser@example.com",
		attributes:           map[string][]string{"email": {"testuser@example.com"}},
		artifactResponses:    map[string]*core.Response{},
		rawArtifactResponses: map[string][]byte{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/saml/metadata", provider.MetadataHandler)
	mux.HandleFunc("/saml/login/post", provider.LoginHandlerPost)
	mux.HandleFunc("/saml/login/redirect", provider.LoginHandlerRedirect)
	mux.HandleFunc("/saml/slo/redirect", provider.LogoutHandlerRedirect)
	mux.HandleFunc("/saml/slo/post", provider.LogoutHandlerPost)
	mux.HandleFunc("/saml/slo/soap", provider.LogoutHandlerSOAP)
	mux.HandleFunc("/saml/artifact/resolve", provider.ArtifactResolveHandler)

	server := httptest.NewUnstartedServer(mux)
	provider.server = server

	server.Start()

	overrideEndpointLocations(server.URL, &m)

	return provider
}

func overrideEndpointLocations(serverURL string, md *metadata.EntityDescriptorIDPSSO) {
	idp := md.IDPSSODescriptor[0]

	for i, sso := range idp.SingleSignOnService {
		switch sso.Binding {
		case core.ServiceBindingHTTPPost:
			sso.Location = fmt.Sprintf("%s/saml/login/post", serverURL)
		case core.ServiceBindingHTTPRedirect:
			sso.Location = fmt.Sprintf("%s/saml/login/redirect", serverURL)
		}
		idp.SingleSignOnService[i] = sso
	}

	for i, slo := range idp.SingleLogoutService {
		switch slo.Binding {
		case core.ServiceBindingHTTPPost:
			slo.Location = fmt.Sprintf("%s/saml/slo/post", serverURL)
		case core.ServiceBindingHTTPRedirect:
			slo.Location = fmt.Sprintf("%s/saml/slo/redirect", serverURL)
		case core.ServiceBindingSOAP:
			slo.Location = fmt.Sprintf("%s/saml/slo/soap", serverURL)
		}
		idp.SingleLogoutService[i] = slo
	}

	for i, ars := range idp.ArtifactResolutionService {
		ars.Location = fmt.Sprintf("%s/saml/artifact/resolve", serverURL)
		idp.ArtifactResolutionService[i] = ars
	}
}

func (p *TestProvider) Close() {
	p.server.Close()
}

func (p *TestProvider) ServerURL() string {
	return p.server.URL
}

// SetSubject overrides the NameID and attributes asserted by future
// responses to AuthnRequests.
func (p *TestProvider) SetSubject(nameID string, attributes map[string][]string) {
	p.subjectNameID = nameID
	p.attributes = attributes
}

// StoreArtifactResponse preloads the Response that ArtifactResolveHandler
// should hand back for the given artifact's message handle.
func (p *TestProvider) StoreArtifactResponse(messageHandle string, resp *core.Response) {
	p.artifactResponses[messageHandle] = resp
}

// StoreArtifactResponseXML preloads a raw, already-serialized Response for
// the given artifact. The handler embeds these bytes as parsed, without a
// marshal round trip, so a pre-signed document keeps its signature intact.
func (p *TestProvider) StoreArtifactResponseXML(messageHandle string, raw []byte) {
	p.rawArtifactResponses[messageHandle] = raw
}

func (p *TestProvider) MetadataHandler(w http.ResponseWriter, _ *http.Request) {
	p.t.Helper()
	r := require.New(p.t)

	err := xml.NewEncoder(w).Encode(p.metadata)
	r.NoError(err)
}

// LoginHandlerPost answers an HTTP-POST AuthnRequest with an auto-submitting
// HTTP-POST Response form, addressed to the request's ACS URL.
func (p *TestProvider) LoginHandlerPost(w http.ResponseWriter, r *http.Request) {
	p.t.Helper()
	r.ParseForm()

	raw, err := base64.StdEncoding.DecodeString(r.FormValue("SAMLRequest"))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid SAMLRequest: %s", err), http.StatusBadRequest)
		return
	}

	p.respondPost(w, raw, r.FormValue("RelayState"))
}

// LoginHandlerRedirect answers an HTTP-Redirect AuthnRequest with an
// HTTP-POST Response (the two bindings need not match for the response leg).
func (p *TestProvider) LoginHandlerRedirect(w http.ResponseWriter, r *http.Request) {
	p.t.Helper()

	raw, err := inflateQueryParam(r.URL.Query().Get("SAMLRequest"))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid SAMLRequest: %s", err), http.StatusBadRequest)
		return
	}

	p.respondPost(w, raw, r.URL.Query().Get("RelayState"))
}

func (p *TestProvider) respondPost(w http.ResponseWriter, rawRequest []byte, relayState string) {
	p.t.Helper()
	r := require.New(p.t)

	var authnReq core.AuthnRequest
	r.NoError(xml.Unmarshal(rawRequest, &authnReq))

	resp := p.buildResponse(authnReq.ID, authnReq.AssertionConsumerServiceURL)

	payload, err := xml.Marshal(resp)
	r.NoError(err)

	tmpl := template.Must(template.New("post-binding").Parse(postAutoSubmitTempl))

	w.Header().Set("Content-Type", "text/html")
	err = tmpl.Execute(w, map[string]string{
		"Destination": authnReq.AssertionConsumerServiceURL,
		"SAMLResponse": base64.StdEncoding.EncodeToString(payload),
		"RelayState":   relayState,
	})
	r.NoError(err)
}

// buildResponse constructs an unsigned Response/Assertion pair answering
// inResponseTo and addressed to acsURL.
func (p *TestProvider) buildResponse(inResponseTo, acsURL string) *core.Response {
	now := time.Now().UTC()

	assertion := &core.Assertion{
		Version:      core.SAMLVersion2,
		ID:           "_assertion-" + inResponseTo,
		IssueInstant: now,
		Issuer:       &core.Issuer{NameIDType: core.NameIDType{Value: "http://test.idp"}},
		Subject: &core.Subject{
			NameID: &core.NameID{
				Format: core.NameIDFormatEmail,
				Value:  p.subjectNameID,
			},
			SubjectConfirmation: []*core.SubjectConfirmation{
				{
					Method: core.ConfirmationMethodBearer,
					SubjectConfirmationData: &core.SubjectConfirmationData{
						NotOnOrAfter: now.Add(5 * time.Minute),
						Recipient:    acsURL,
						InResponseTo: inResponseTo,
					},
				},
			},
		},
		Conditions: &core.Conditions{
			NotBefore:    now.Add(-time.Minute),
			NotOnOrAfter: now.Add(5 * time.Minute),
		},
		AuthnStatement: []*core.AuthnStatement{
			{
				AuthnInstant: now,
				SessionIndex: "_session-" + inResponseTo,
				AuthnContext: &core.AuthnContext{
					AuthnContextClassRef: "urn:oasis:names:tc:SAML:2.0:ac:classes:PasswordProtectedTransport",
				},
			},
		},
	}

	if len(p.attributes) > 0 {
		stmt := &core.AttributeStatement{}
		for name, values := range p.attributes {
			stmt.Attribute = append(stmt.Attribute, &core.Attribute{
				Name:           name,
				AttributeValue: values,
			})
		}
		assertion.AttributeStatement = []*core.AttributeStatement{stmt}
	}

	resp := &core.Response{
		StatusResponseType: core.StatusResponseType{
			InResponseTo: inResponseTo,
		},
		Status: core.Status{
			StatusCode: core.StatusCode{Value: core.StatusCodeSuccess},
		},
		Assertion: []*core.Assertion{assertion},
	}
	resp.ID = "_response-" + inResponseTo
	resp.Version = core.SAMLVersion2
	resp.IssueInstant = now
	resp.Destination = acsURL
	resp.Issuer = &core.Issuer{NameIDType: core.NameIDType{Value: "http://test.idp"}}

	return resp
}

// LogoutHandlerPost consumes an HTTP-POST LogoutRequest and answers with a
// LogoutResponse reporting success, also over HTTP-POST.
func (p *TestProvider) LogoutHandlerPost(w http.ResponseWriter, r *http.Request) {
	p.t.Helper()
	r.ParseForm()

	raw, err := base64.StdEncoding.DecodeString(r.FormValue("SAMLRequest"))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid SAMLRequest: %s", err), http.StatusBadRequest)
		return
	}

	p.respondLogout(w, raw, r.FormValue("RelayState"))
}

// LogoutHandlerRedirect consumes an HTTP-Redirect LogoutRequest and answers
// with an HTTP-POST LogoutResponse.
func (p *TestProvider) LogoutHandlerRedirect(w http.ResponseWriter, r *http.Request) {
	p.t.Helper()

	raw, err := inflateQueryParam(r.URL.Query().Get("SAMLRequest"))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid SAMLRequest: %s", err), http.StatusBadRequest)
		return
	}

	p.respondLogout(w, raw, r.URL.Query().Get("RelayState"))
}

func (p *TestProvider) respondLogout(w http.ResponseWriter, rawRequest []byte, relayState string) {
	p.t.Helper()
	r := require.New(p.t)

	var logoutReq core.LogoutRequest
	r.NoError(xml.Unmarshal(rawRequest, &logoutReq))

	now := time.Now().UTC()
	resp := &core.LogoutResponse{
		StatusResponseType: core.StatusResponseType{
			InResponseTo: logoutReq.ID,
		},
		Status: core.Status{
			StatusCode: core.StatusCode{Value: core.StatusCodeSuccess},
		},
	}
	resp.ID = "_logoutresp-" + logoutReq.ID
	resp.Version = core.SAMLVersion2
	resp.IssueInstant = now
	resp.Issuer = &core.Issuer{NameIDType: core.NameIDType{Value: "http://test.idp"}}

	payload, err := xml.Marshal(resp)
	r.NoError(err)

	tmpl := template.Must(template.New("post-binding").Parse(postAutoSubmitTempl))

	w.Header().Set("Content-Type", "text/html")
	err = tmpl.Execute(w, map[string]string{
		"Destination":  logoutReq.Destination,
		"SAMLResponse": base64.StdEncoding.EncodeToString(payload),
		"RelayState":   relayState,
	})
	r.NoError(err)
}

// LogoutHandlerSOAP consumes a SOAP-enveloped LogoutRequest on the back
// channel and answers synchronously with a SOAP-enveloped LogoutResponse
// reporting success.
func (p *TestProvider) LogoutHandlerSOAP(w http.ResponseWriter, r *http.Request) {
	p.t.Helper()
	re := require.New(p.t)

	child, err := soapBodyChild(r.Body)
	re.NoError(err)

	childDoc := etree.NewDocument()
	childDoc.SetRoot(child.Copy())
	childBytes, err := childDoc.WriteToBytes()
	re.NoError(err)

	var logoutReq core.LogoutRequest
	re.NoError(xml.Unmarshal(childBytes, &logoutReq))

	now := time.Now().UTC()
	resp := &core.LogoutResponse{
		StatusResponseType: core.StatusResponseType{
			InResponseTo: logoutReq.ID,
		},
		Status: core.Status{
			StatusCode: core.StatusCode{Value: core.StatusCodeSuccess},
		},
	}
	resp.ID = "_logoutresp-" + logoutReq.ID
	resp.Version = core.SAMLVersion2
	resp.IssueInstant = now
	resp.Issuer = &core.Issuer{NameIDType: core.NameIDType{Value: "http://test.idp"}}

	payload, err := xml.Marshal(resp)
	re.NoError(err)

	out, err := wrapInSOAPEnvelope(payload)
	re.NoError(err)

	w.Header().Set("Content-Type", "text/xml")
	_, err = w.Write(out)
	re.NoError(err)
}

// soapBodyChild reads a SOAP envelope and returns the first element child
// of its Body, namespace-prefix agnostic.
func soapBodyChild(body io.Reader) (*etree.Element, error) {
	doc := etree.NewDocument()
	if _, err := doc.ReadFrom(body); err != nil {
		return nil, err
	}

	var soapBody *etree.Element
	for _, child := range doc.Root().ChildElements() {
		if child.Tag == "Body" {
			soapBody = child
			break
		}
	}
	if soapBody == nil {
		return nil, fmt.Errorf("no SOAP Body element found")
	}
	if len(soapBody.ChildElements()) == 0 {
		return nil, fmt.Errorf("SOAP Body has no children")
	}

	return soapBody.ChildElements()[0], nil
}

// wrapInSOAPEnvelope wraps a serialized SAML message in the SOAP 1.1
// envelope back-channel replies use.
func wrapInSOAPEnvelope(payload []byte) ([]byte, error) {
	envelopeDoc := etree.NewDocument()
	envelope := envelopeDoc.CreateElement("soap11:Envelope")
	envelope.CreateAttr("xmlns:soap11", "http://schemas.xmlsoap.org/soap/envelope/")
	envBody := envelope.CreateElement("soap11:Body")

	payloadDoc := etree.NewDocument()
	if err := payloadDoc.ReadFromBytes(payload); err != nil {
		return nil, err
	}
	envBody.AddChild(payloadDoc.Root().Copy())

	return envelopeDoc.WriteToBytes()
}

// ArtifactResolveHandler answers a SOAP ArtifactResolve request, returning
// whichever Response was registered via StoreArtifactResponse for the
// artifact's message handle, or a Responder-status ArtifactResponse if none
// was registered.
func (p *TestProvider) ArtifactResolveHandler(w http.ResponseWriter, r *http.Request) {
	p.t.Helper()
	re := require.New(p.t)

	child, err := soapBodyChild(r.Body)
	re.NoError(err)

	var resolve core.ArtifactResolve
	childDoc := etree.NewDocument()
	childDoc.SetRoot(child.Copy())
	childBytes, err := childDoc.WriteToBytes()
	re.NoError(err)
	re.NoError(xml.Unmarshal(childBytes, &resolve))

	now := time.Now().UTC()
	artResp := &core.ArtifactResponse{
		Status: core.Status{StatusCode: core.StatusCode{Value: core.StatusCodeSuccess}},
	}
	artResp.ID = "_artresp-" + resolve.ID
	artResp.Version = core.SAMLVersion2
	artResp.IssueInstant = now
	artResp.InResponseTo = resolve.ID
	artResp.Issuer = &core.Issuer{NameIDType: core.NameIDType{Value: "http://test.idp"}}

	rawResp, haveRaw := p.rawArtifactResponses[resolve.Artifact]

	if stored, ok := p.artifactResponses[resolve.Artifact]; ok {
		artResp.Response = stored
	} else if !haveRaw {
		artResp.Status = core.Status{StatusCode: core.StatusCode{Value: core.StatusCodeResponder}}
	}

	respXML, err := xml.Marshal(artResp)
	re.NoError(err)

	// A raw (possibly signed) Response is grafted in at the DOM level so
	// its bytes never pass back through xml.Marshal.
	if haveRaw {
		artDoc := etree.NewDocument()
		re.NoError(artDoc.ReadFromBytes(respXML))

		rawDoc := etree.NewDocument()
		re.NoError(rawDoc.ReadFromBytes(rawResp))
		artDoc.Root().AddChild(rawDoc.Root().Copy())

		respXML, err = artDoc.WriteToBytes()
		re.NoError(err)
	}

	out, err := wrapInSOAPEnvelope(respXML)
	re.NoError(err)

	w.Header().Set("Content-Type", "text/xml")
	_, err = w.Write(out)
	re.NoError(err)
}

// inflateQueryParam decodes a base64 + raw-DEFLATE encoded HTTP-Redirect
// query parameter, mirroring how the service provider deflates outgoing
// messages for that binding.
func inflateQueryParam(b64 string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("invalid base64: %w", err)
	}

	fr := flate.NewReader(bytes.NewReader(raw))
	defer fr.Close()

	return io.ReadAll(fr)
}
