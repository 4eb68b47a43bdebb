package saml

import (
	"crypto/x509"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"regexp"

	"github.com/jonboulle/clockwork"
	saml2 "github.com/russellhaering/gosaml2"
	dsig "github.com/russellhaering/goxmldsig"

	"github.com/samlkit/samlsp/models/core"
)

type parseResponseOptions struct {
	skipRequestIDValidation          bool
	skipAssertionConditionValidation bool
	skipSignatureValidation          bool
	clock                            clockwork.Clock
	assertionConsumerServiceURL      string
}

func parseReponseOptionsDefault() parseResponseOptions {
	return parseResponseOptions{
		skipRequestIDValidation:          false,
		skipAssertionConditionValidation: false,
		skipSignatureValidation:          false,
	}
}

func getParseResponseOptions(opt ...Option) parseResponseOptions {
	opts := parseReponseOptionsDefault()
	ApplyOpts(&opts, opt...)
	return opts
}

// InsecureSkipRequestIDValidation disables/skips if the given requestID matches
// the InResponseTo parameter in the SAML response. This options should only
// be used for testing purposes.
func InsecureSkipRequestIDValidation() Option {
	return func(o interface{}) {
		if o, ok := o.(*parseResponseOptions); ok {
			o.skipRequestIDValidation = true
		}
	}
}

// InsecureSkipAssertionConditionValidation disables/skips validation of the assertion
// conditions within the SAML response. This options should only be used for
// testing purposes.
func InsecureSkipAssertionConditionValidation() Option {
	return func(o interface{}) {
		if o, ok := o.(*parseResponseOptions); ok {
			o.skipAssertionConditionValidation = true
		}
	}
}

// InsecureSkipSignatureValidation disables/skips validation of the SAML Response and its assertions.
// This options should only be used for testing purposes.
func InsecureSkipSignatureValidation() Option {
	return func(o interface{}) {
		if o, ok := o.(*parseResponseOptions); ok {
			o.skipSignatureValidation = true
		}
	}
}

// ParseResponse parses and validates a SAML Reponse.
//
// Options:
// - InsecureSkipRequestIDValidation
// - InsecureSkipAssertionConditionValidation
// - InsecureSkipSignatureValidation
func (sp *ServiceProvider) ParseResponse(
	samlResp string,
	requestID string,
	opt ...Option,
) (*core.Response, error) {
	const op = "saml.ServiceProvider.ParseResponse"

	if sp == nil {
		return nil, fmt.Errorf("%s: missing service provider: %w", op, ErrInternal)
	}
	if samlResp == "" {
		return nil, fmt.Errorf("%s: missing saml response: %w", op, ErrInvalidParameter)
	}
	if requestID == "" {
		return nil, fmt.Errorf("%s: missing request ID: %w", op, ErrInvalidParameter)
	}

	opts := getParseResponseOptions(opt...)

	// We use github.com/russellhaering/gosaml2 for SAMLResponse signiture and condition validation.
	ip, err := sp.internalParser(opts.skipSignatureValidation, opts.clock, opts.assertionConsumerServiceURL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	// This will validate the response and all assertions.
	response, err := ip.ValidateEncodedResponse(samlResp)
	if err != nil {
		return nil, E(op, KindSignatureInvalid, "response failed signature/condition validation", WithCause(err))
	}

	if !opts.skipRequestIDValidation {
		if response.InResponseTo != requestID {
			return nil, E(op, KindCorrelationMismatch, fmt.Sprintf(
				"InResponseTo (%s) doesn't match the expected requestID (%s)",
				response.InResponseTo, requestID,
			))
		}
	}

	if len(response.Assertions) == 0 {
		return nil, E(op, KindMalformedMessage, "missing assertions", WithCause(ErrMissingAssertions))
	}

	// Verify conditions for all assertions
	if !opts.skipAssertionConditionValidation {
		for i := range response.Assertions {
			assert := &response.Assertions[i]
			warnings, err := ip.VerifyAssertionConditions(assert)
			if err != nil {
				return nil, E(op, KindAssertionExpiredOrNotYetValid, "failed to verify assertion conditions", WithCause(err))
			}

			if warnings.InvalidTime {
				return nil, E(op, KindAssertionExpiredOrNotYetValid, "assertion time window invalid", WithCause(ErrInvalidTime))
			}

			if warnings.NotInAudience {
				return nil, E(op, KindAudienceMismatch, "assertion audience mismatch", WithCause(ErrInvalidAudience))
			}

			if assert.Subject == nil || assert.Subject.NameID == nil {
				return nil, E(op, KindMalformedMessage, "assertion subject missing", WithCause(ErrMissingSubject))
			}

			if assert.AttributeStatement == nil {
				return nil, E(op, KindMalformedMessage, "assertion attribute statement missing", WithCause(ErrMissingAttributeStmt))
			}
		}
	}

	raw, err := base64.StdEncoding.DecodeString(samlResp)
	if err != nil {
		return nil, E(op, KindMalformedMessage, "failed to decode response", WithCause(err))
	}

	var result core.Response
	if err := xml.Unmarshal(raw, &result); err != nil {
		return nil, E(op, KindMalformedMessage, "failed to parse response XML", WithCause(err), WithRawXML(raw))
	}

	return &result, nil
}

func (sp *ServiceProvider) internalParser(
	skipSignatureValidation bool,
	clock clockwork.Clock,
	assertionConsumerServiceURL string,
) (*saml2.SAMLServiceProvider, error) {
	meta, err := sp.FetchMetadata()
	if err != nil {
		return nil, err
	}

	certStore := dsig.MemoryX509CertificateStore{
		Roots: []*x509.Certificate{},
	}

	for _, kd := range meta.IDPSSODescriptor[0].KeyDescriptor {
		switch kd.Use {
		case "", "signing":
			for _, xcert := range kd.KeyInfo.X509Data.X509Certificates {
				parsed, err := parseCert(xcert.Data)
				if err != nil {
					return nil, err
				}

				certStore.Roots = append(certStore.Roots, parsed)
			}
		}
	}

	acsURL := sp.cfg.AssertionConsumerServiceURL.String()
	if assertionConsumerServiceURL != "" {
		acsURL = assertionConsumerServiceURL
	}

	ip := &saml2.SAMLServiceProvider{
		IdentityProviderIssuer:      meta.EntityID,
		ServiceProviderIssuer:       sp.cfg.Issuer.String(),
		AssertionConsumerServiceURL: acsURL,
		AudienceURI:                 sp.cfg.EntityID.String(),
		IDPCertificateStore:         &certStore,
		SkipSignatureValidation:     skipSignatureValidation,
	}

	if clock != nil {
		ip.Clock = dsig.NewFakeClock(clock)
	}

	return ip, nil
}

func parseCert(cert string) (*x509.Certificate, error) {
	regex := regexp.MustCompile(`\s+`)
	cert = regex.ReplaceAllString(cert, "")
	certBytes, err := base64.StdEncoding.DecodeString(cert)
	if err != nil {
		return nil, fmt.Errorf("cannot parse certificate: %s", err)
	}

	parsedCert, err := x509.ParseCertificate(certBytes)
	if err != nil {
		return nil, err
	}

	return parsedCert, nil
}
