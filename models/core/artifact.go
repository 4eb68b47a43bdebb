package core

import (
	"encoding/xml"
	"strings"
)

// ArtifactResolve asks an IdP's artifact resolution service to dereference an
// artifact handle received over the front channel.
// See 3.5.1 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
type ArtifactResolve struct {
	XMLName xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:protocol ArtifactResolve"`

	StatusRequestType

	Artifact string
}

// CreateXMLDocument marshals the ArtifactResolve into its wire XML form.
func (a *ArtifactResolve) CreateXMLDocument(indent int) ([]byte, error) {
	if indent <= 0 {
		return xml.Marshal(a)
	}
	return xml.MarshalIndent(a, "", strings.Repeat(" ", indent))
}

// ArtifactResponse wraps whatever SAML message the artifact referred to,
// most commonly a Response.
// See 3.5.2 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
type ArtifactResponse struct {
	XMLName xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:protocol ArtifactResponse"`

	StatusResponseType

	Status   Status
	Response *Response
}
