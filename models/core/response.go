package core

import (
	"encoding/xml"
	"time"

	dsigtypes "github.com/russellhaering/goxmldsig/types"
)

type Response struct {
	XMLName xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:protocol Response"`

	StatusResponseType

	Status             Status
	Signature          *dsigtypes.Signature
	Assertion          []*Assertion
	EncryptedAssertion []*TBD
}

// See 3.2.2 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
type StatusResponseType struct {
	RequestResponseCommon

	InResponseTo string `xml:",attr,omitempty"` // optional
}

// See 3.2.2.1 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
type Status struct {
	XMLName xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:protocol Status"`

	StatusCode    StatusCode   // required
	StatusMessage string       // optional
	StatusDetail  StatusDetail // optional
}

// See 3.2.2.2 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
type StatusCode struct {
	XMLName xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:protocol StatusCode"`

	// StatusCode StatusCodeType `xml:",attr,omitempty"` // optional TODO: Required?
	Value StatusCodeType `xml:",attr"` // required
}

// TODO
// See 3.2.2.3 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
type StatusMessage struct {
}

// TODO
// See 3.2.2.4 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
type StatusDetail struct {
}

// See 2.3.3 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
type Assertion struct {
	XMLName xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:assertion Assertion"`

	// attributes
	Version      string    `xml:",attr"` // required
	ID           string    `xml:",attr"` // required
	IssueInstant time.Time `xml:",attr"` // required

	Issuer *Issuer // required

	Signature  *dsigtypes.Signature // optional
	Subject    *Subject             // optional
	Conditions *Conditions          // optional
	// Advice     *TBD     // optional

	AuthnStatement     []*AuthnStatement
	AttributeStatement []*AttributeStatement
	// AuthzStatement     *TBD
}

// AuthnStatement describes a statement by the issuer that the assertion
// subject was authenticated by a particular means at a particular time.
// See 2.7.2 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
type AuthnStatement struct {
	AuthnInstant        time.Time `xml:",attr"`
	SessionIndex        string    `xml:",attr,omitempty"`
	SessionNotOnOrAfter time.Time `xml:",attr,omitempty"`

	SubjectLocality *SubjectLocality
	AuthnContext    *AuthnContext
}

// SubjectLocality records the network address of the system entity that
// issued the authentication request on the subject's behalf.
type SubjectLocality struct {
	Address string `xml:",attr,omitempty"`
	DNSName string `xml:",attr,omitempty"`
}

// AuthnContext holds the AuthnContextClassRef describing how the subject
// was authenticated.
// See 2.7.2.2 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
type AuthnContext struct {
	AuthnContextClassRef string
}

// AttributeStatement carries a set of Attribute elements asserted about
// the subject.
// See 2.7.3 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
type AttributeStatement struct {
	Attribute []*Attribute
}

// Attribute names a piece of information associated with the subject.
// See 2.7.3.1 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
type Attribute struct {
	Name           string `xml:",attr"`
	NameFormat     string `xml:",attr,omitempty"`
	FriendlyName   string `xml:",attr,omitempty"`
	AttributeValue []string
}

func (r *Response) GetAssertion() *Assertion {
	if len(r.Assertion) == 0 {
		return nil
	}

	return r.Assertion[0]
}

func (r *Response) GetAssertionForIndex(index int) *Assertion {
	if (len(r.Assertion) - 1) < index {
		return nil
	}

	return r.Assertion[index]
}

// GetIssuer will return the issuer value from the Assertion.Issuer complext type.
func (a *Assertion) GetIssuer() string {
	return a.Issuer.Value
}

func (a *Assertion) GetIssuerFormat() string {
	return string(a.Issuer.Format)
}

// GetSubject will return the subject value from the Assertion.Subject complex type.
func (a *Assertion) GetSubject() string {
	return a.Subject.NameID.Value
}

// GetSubjectFormat will return the subject format value.
func (a *Assertion) GetSubjectFormat() string {
	return string(a.Subject.NameID.Format)
}

// Audiences flattens every AudienceRestriction's Audience values into a
// single slice, in document order.
func (c *Conditions) Audiences() []string {
	if c == nil {
		return nil
	}
	var out []string
	for _, r := range c.AudienceRestriction {
		out = append(out, r.Audience...)
	}
	return out
}

// SessionIndexValue returns the SessionIndex of the assertion's first
// AuthnStatement, if any.
func (a *Assertion) SessionIndexValue() (string, bool) {
	if len(a.AuthnStatement) == 0 {
		return "", false
	}
	return a.AuthnStatement[0].SessionIndex, a.AuthnStatement[0].SessionIndex != ""
}

// AuthnContextClassRefValue returns the AuthnContextClassRef of the
// assertion's first AuthnStatement, if any.
func (a *Assertion) AuthnContextClassRefValue() (string, bool) {
	if len(a.AuthnStatement) == 0 || a.AuthnStatement[0].AuthnContext == nil {
		return "", false
	}
	ref := a.AuthnStatement[0].AuthnContext.AuthnContextClassRef
	return ref, ref != ""
}
