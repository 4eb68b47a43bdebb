package saml

import (
	"context"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"time"

	"github.com/samlkit/samlsp/models/core"
)

// GetAuthnResponseParams carries the raw inbound fields GetAuthnResponse
// dispatches on. Exactly one of SAMLResponse (HTTP-POST) or SAMLart
// (HTTP-Artifact) must be present. IdPEntityID may be left empty on the
// artifact path when a MetadataStore is wired: the artifact's SourceID then
// identifies the IdP.
type GetAuthnResponseParams struct {
	SAMLResponse string
	SAMLart      string
	RelayState   string
	IdPEntityID  string
}

// GetAuthnResponse implements the inbound half of a browser SSO exchange.
// It dispatches on whichever of params.SAMLResponse or params.SAMLart is
// present, resolving the assertion via the ArtifactResolver in the latter
// case, then runs the Validator's fixed step order - including
// correlation-cache consumption of the issued AuthnRequest ID tracked under
// userBucket - before handing back the validated Response.
//
// Options:
// - WithClock
// - InsecureSkipRequestIDValidation
// - InsecureSkipSignatureValidation
func (sp *ServiceProvider) GetAuthnResponse(
	ctx context.Context,
	userBucket string,
	params GetAuthnResponseParams,
	opt ...Option,
) (*core.Response, error) {
	const op = "saml.ServiceProvider.GetAuthnResponse"

	if sp == nil {
		return nil, fmt.Errorf("%s: missing service provider: %w", op, ErrInternal)
	}

	hasResponse := params.SAMLResponse != ""
	hasArtifact := params.SAMLart != ""
	if hasResponse == hasArtifact {
		return nil, fmt.Errorf(
			"%s: exactly one of SAMLResponse or SAMLart must be present: %w",
			op, ErrInvalidParameter,
		)
	}

	opts := getParseResponseOptions(opt...)

	var (
		rawXML   []byte
		response core.Response
		verify   func() error
	)

	switch {
	case hasResponse:
		raw, err := base64.StdEncoding.DecodeString(params.SAMLResponse)
		if err != nil {
			return nil, fmt.Errorf("%s: failed to decode SAMLResponse: %w", op, err)
		}
		rawXML = raw

		if err := xml.Unmarshal(rawXML, &response); err != nil {
			return nil, E(op, KindMalformedMessage, "failed to parse response XML", WithCause(err), WithRawXML(rawXML))
		}

		if !opts.skipSignatureValidation {
			v, err := sp.xmlVerifierFor(issuerValue(response.Issuer))
			if err != nil {
				return nil, fmt.Errorf("%s: %w", op, err)
			}
			verify = verifyFunc(v, rawXML)
		}

	case hasArtifact:
		resolver := NewArtifactResolver(sp)

		if params.IdPEntityID == "" {
			idpEntityID, err := resolver.IdPEntityIDForArtifact(params.SAMLart)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", op, err)
			}
			params.IdPEntityID = idpEntityID
		}

		ar, raw, err := resolver.resolveWithRaw(ctx, params.IdPEntityID, params.SAMLart, "")
		if err != nil {
			return nil, fmt.Errorf("%s: failed to resolve artifact: %w", op, err)
		}
		rawXML = raw

		if ar.Response == nil {
			return nil, E(op, KindMalformedMessage, "artifact response carried no SAML response", WithRawXML(rawXML))
		}
		response = *ar.Response

		if !opts.skipSignatureValidation {
			v, err := sp.xmlVerifierFor(params.IdPEntityID)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", op, err)
			}
			verify = verifyFunc(v, rawXML)
		}
	}

	if len(response.Assertion) == 0 {
		return nil, E(op, KindMalformedMessage, "missing assertions", WithCause(ErrMissingAssertions), WithRawXML(rawXML))
	}
	assertion := response.Assertion[0]

	var notBefore, notOnOrAfter time.Time
	var audiences []string
	if assertion.Conditions != nil {
		notBefore = assertion.Conditions.NotBefore
		notOnOrAfter = assertion.Conditions.NotOnOrAfter
		audiences = assertion.Conditions.Audiences()
	}

	now := time.Now().UTC()
	if opts.clock != nil {
		now = opts.clock.Now().UTC()
	}

	ext := sp.cfg.extendedOrDefault()
	requireSignature := ext.WantPOSTResponseSigned || ext.WantAssertionsSigned || ext.WantArtifactResponseSigned

	issuer := issuerValue(response.Issuer)

	vctx := &ValidationContext{
		RawXML:            rawXML,
		Verify:            verify,
		RequireSignature:  requireSignature,
		IssuerEntityID:    issuer,
		KnownIssuer:       sp.isKnownIssuer,
		StatusCode:        response.Status.StatusCode.Value,
		NotBefore:         notBefore,
		NotOnOrAfter:      notOnOrAfter,
		Now:               now,
		Skew:              ext.AssertionTimeSkew,
		Audience:          sp.cfg.EntityID.String(),
		AudienceAllowed:   audiences,
		SPEntityID:        sp.cfg.EntityID.String(),
		IdPEntityID:       issuer,
		Circles:           sp.circles(),
		InResponseTo:      response.InResponseTo,
		ExpectedBucketKey: userBucket,
		CorrelationCache:  sp.correlationCache,
	}

	if opts.skipRequestIDValidation {
		vctx.InResponseTo = ""
	}

	if err := NewValidator().Validate(vctx); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &response, nil
}

// xmlVerifierFor builds an XMLVerifier from idpEntityID's signing
// certificates. It returns a nil verifier (not an error) when the IdP
// carries no signing certificates, leaving the Validator's RequireSignature
// policy to decide whether that's acceptable.
func (sp *ServiceProvider) xmlVerifierFor(idpEntityID string) (*XMLVerifier, error) {
	idp, err := sp.idpMetadata(idpEntityID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve idp metadata: %w", err)
	}

	certs, err := idpSigningCertificates(idp)
	if err != nil {
		return nil, fmt.Errorf("failed to parse idp signing certificates: %w", err)
	}
	if len(certs) == 0 {
		return nil, nil
	}

	return NewXMLVerifier(certs...), nil
}

// verifyFunc adapts an XMLVerifier into the closure form ValidationContext
// expects, returning nil (no verify function at all) when verifier is nil.
// The closure selects the strongest enveloped signature in rawXML
// (ArtifactResponse, then Response, then Assertion) and verifies that
// element against its own reference ID.
func verifyFunc(verifier *XMLVerifier, rawXML []byte) func() error {
	if verifier == nil {
		return nil
	}
	return func() error {
		return verifier.VerifyEnvelopedSignature(rawXML)
	}
}
