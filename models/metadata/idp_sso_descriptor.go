package metadata

import (
	"encoding/xml"

	"github.com/samlkit/samlsp/models/core"
)

// IDPSSODescriptor contains profiles specific to identity providers supporting SSO.
// It extends the SSODescriptor type.
// See 2.4.3 http://docs.oasis-open.org/security/saml/v2.0/saml-metadata-2.0-os.pdf
type IDPSSODescriptor struct {
	XMLName xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:metadata IDPSSODescriptor"`

	SSODescriptor

	WantAuthnRequestsSigned   bool `xml:",attr"`
	SingleSignOnService       []Endpoint
	NameIDMappingService      []Endpoint // TODO test missing!
	AssertionIDRequestService []Endpoint // TODO test missing!
	AttributeProfile          []string   // TODO test missing!
	Attribute                 []Attribute
}

// EntityDescriptorIDPSSO is an EntityDescriptor that accommodates the IDPSSODescriptor
// as descriptor field only.
type EntityDescriptorIDPSSO struct {
	EntityDescriptor

	IDPSSODescriptor []*IDPSSODescriptor
}

func (e *EntityDescriptorIDPSSO) GetLocationForBinding(b core.ServiceBinding) (string, bool) {
	for _, isd := range e.IDPSSODescriptor {
		for _, ssos := range isd.SingleSignOnService {
			if ssos.Binding == b {
				return ssos.Location, true
			}
		}
	}

	return "", false
}

// GetSingleLogoutLocationForBinding returns the IdP's SLO endpoint for the
// requested binding, if one is advertised.
func (e *EntityDescriptorIDPSSO) GetSingleLogoutLocationForBinding(b core.ServiceBinding) (string, bool) {
	for _, isd := range e.IDPSSODescriptor {
		for _, slo := range isd.SingleLogoutService {
			if slo.Binding == b {
				return slo.Location, true
			}
		}
	}

	return "", false
}

// GetArtifactResolutionServiceByIndex returns the ArtifactResolutionService
// endpoint location advertised with the given index, used to dereference
// artifacts received over the HTTP-Artifact binding.
func (e *EntityDescriptorIDPSSO) GetArtifactResolutionServiceByIndex(index int) (string, bool) {
	for _, isd := range e.IDPSSODescriptor {
		for _, ars := range isd.ArtifactResolutionService {
			if ars.Index == index {
				return ars.Location, true
			}
		}
	}

	return "", false
}

// GetDefaultArtifactResolutionService returns the first ArtifactResolutionService
// endpoint marked as default, falling back to the first endpoint advertised
// when none is marked.
func (e *EntityDescriptorIDPSSO) GetDefaultArtifactResolutionService() (string, bool) {
	var fallback string
	haveFallback := false

	for _, isd := range e.IDPSSODescriptor {
		for _, ars := range isd.ArtifactResolutionService {
			if ars.IsDefault {
				return ars.Location, true
			}
			if !haveFallback {
				fallback = ars.Location
				haveFallback = true
			}
		}
	}

	return fallback, haveFallback
}
