package core

import (
	"encoding/xml"
	"strings"
)

// LogoutRequest asks a session participant or authority to terminate some or
// all of the sessions it has associated with a principal.
// See 3.7.1 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
type LogoutRequest struct {
	XMLName xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:protocol LogoutRequest"`

	StatusRequestType

	Reason       string `xml:",attr,omitempty"`
	NotOnOrAfter string `xml:",attr,omitempty"`

	BaseID       *BaseID
	NameID       *NameID
	SessionIndex []string
}

// CreateXMLDocument marshals the LogoutRequest into its wire XML form.
func (l *LogoutRequest) CreateXMLDocument(indent int) ([]byte, error) {
	if indent <= 0 {
		return xml.Marshal(l)
	}
	return xml.MarshalIndent(l, "", strings.Repeat(" ", indent))
}

// LogoutResponse conveys the result of a LogoutRequest.
// See 3.7.3 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
type LogoutResponse struct {
	XMLName xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:protocol LogoutResponse"`

	StatusResponseType

	Status Status
}

// CreateXMLDocument marshals the LogoutResponse into its wire XML form.
func (l *LogoutResponse) CreateXMLDocument(indent int) ([]byte, error) {
	if indent <= 0 {
		return xml.Marshal(l)
	}
	return xml.MarshalIndent(l, "", strings.Repeat(" ", indent))
}
