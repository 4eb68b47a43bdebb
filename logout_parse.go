package saml

import (
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"time"

	"github.com/samlkit/samlsp/models/core"
	"github.com/samlkit/samlsp/models/metadata"
)

// decodeLogoutMessage reverses whichever encoding the named binding applies
// to an inbound SAMLRequest/SAMLResponse parameter: raw-DEFLATE+base64 for
// HTTP-Redirect, plain base64 otherwise (HTTP-POST, HTTP-SOAP bodies are
// decoded before this is called).
func decodeLogoutMessage(binding core.ServiceBinding, encodedMessage string) ([]byte, error) {
	if binding == core.ServiceBindingHTTPRedirect {
		return inflateMessage(encodedMessage)
	}
	return base64.StdEncoding.DecodeString(encodedMessage)
}

// verifierForLogoutBinding builds the Verify closure a ValidationContext
// needs for an inbound logout message on binding. For HTTP-Redirect it
// verifies the query string signature (the transport envelope); otherwise
// it verifies the enveloped XML-DSig signature on raw. rawQuery is the
// untouched query string as received - required for Redirect, ignored
// otherwise. Returns a nil closure (not an error) when the IdP carries no
// signing certificates.
func (sp *ServiceProvider) verifierForLogoutBinding(
	binding core.ServiceBinding,
	idp *metadata.EntityDescriptorIDPSSO,
	raw []byte,
	rawQuery string,
) (func() error, error) {
	certs, err := idpSigningCertificates(idp)
	if err != nil {
		return nil, fmt.Errorf("failed to parse idp signing certificates: %w", err)
	}
	if len(certs) == 0 {
		return nil, nil
	}

	if binding == core.ServiceBindingHTTPRedirect {
		if rawQuery == "" {
			return nil, nil
		}
		return func() error {
			var lastErr error
			for _, cert := range certs {
				if err := VerifyRawQuery(rawQuery, cert); err == nil {
					return nil
				} else {
					lastErr = err
				}
			}
			return lastErr
		}, nil
	}

	verifier := NewXMLVerifier(certs...)
	return verifyFunc(verifier, raw), nil
}

// GetLogoutRequest parses and validates an inbound LogoutRequest carried
// over binding, running the Validator's fixed step order against it.
//
// Options:
// - WithClock
// - InsecureSkipSignatureValidation
func (sp *ServiceProvider) GetLogoutRequest(
	idpEntityID string,
	binding core.ServiceBinding,
	encodedMessage, rawQuery string,
	opt ...Option,
) (*core.LogoutRequest, error) {
	const op = "saml.ServiceProvider.GetLogoutRequest"

	if sp == nil {
		return nil, fmt.Errorf("%s: missing service provider: %w", op, ErrInternal)
	}
	if encodedMessage == "" {
		return nil, fmt.Errorf("%s: missing logout request message: %w", op, ErrInvalidParameter)
	}

	opts := getParseResponseOptions(opt...)

	raw, err := decodeLogoutMessage(binding, encodedMessage)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to decode message: %w", op, err)
	}

	var lr core.LogoutRequest
	if err := xml.Unmarshal(raw, &lr); err != nil {
		return nil, E(op, KindMalformedMessage, "failed to parse LogoutRequest XML", WithCause(err), WithRawXML(raw))
	}

	var verify func() error
	if !opts.skipSignatureValidation {
		idp, err := sp.idpMetadata(idpEntityID)
		if err != nil {
			return nil, fmt.Errorf("%s: failed to resolve idp metadata: %w", op, err)
		}
		verify, err = sp.verifierForLogoutBinding(binding, idp, raw, rawQuery)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	now := time.Now().UTC()
	if opts.clock != nil {
		now = opts.clock.Now().UTC()
	}

	ext := sp.cfg.extendedOrDefault()
	issuer := issuerValue(lr.Issuer)

	ctx := &ValidationContext{
		RawXML:           raw,
		Verify:           verify,
		RequireSignature: ext.WantLogoutRequestSigned,
		IssuerEntityID:   issuer,
		KnownIssuer:      sp.isKnownIssuer,
		Now:              now,
		SPEntityID:       sp.cfg.EntityID.String(),
		IdPEntityID:      issuer,
		Circles:          sp.circles(),
	}

	if err := NewValidator().Validate(ctx); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &lr, nil
}

// GetLogoutResponse parses and validates an inbound LogoutResponse carried
// over binding, matching it against the correlation cache entry tracked
// under userBucket and running the Validator's fixed step order.
//
// Options:
// - WithClock
// - InsecureSkipRequestIDValidation
// - InsecureSkipSignatureValidation
func (sp *ServiceProvider) GetLogoutResponse(
	idpEntityID string,
	binding core.ServiceBinding,
	encodedMessage, rawQuery, userBucket string,
	opt ...Option,
) (*core.LogoutResponse, error) {
	const op = "saml.ServiceProvider.GetLogoutResponse"

	if sp == nil {
		return nil, fmt.Errorf("%s: missing service provider: %w", op, ErrInternal)
	}
	if encodedMessage == "" {
		return nil, fmt.Errorf("%s: missing logout response message: %w", op, ErrInvalidParameter)
	}

	opts := getParseResponseOptions(opt...)

	raw, err := decodeLogoutMessage(binding, encodedMessage)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to decode message: %w", op, err)
	}

	var lr core.LogoutResponse
	if err := xml.Unmarshal(raw, &lr); err != nil {
		return nil, E(op, KindMalformedMessage, "failed to parse LogoutResponse XML", WithCause(err), WithRawXML(raw))
	}

	var verify func() error
	if !opts.skipSignatureValidation {
		idp, err := sp.idpMetadata(idpEntityID)
		if err != nil {
			return nil, fmt.Errorf("%s: failed to resolve idp metadata: %w", op, err)
		}
		verify, err = sp.verifierForLogoutBinding(binding, idp, raw, rawQuery)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	now := time.Now().UTC()
	if opts.clock != nil {
		now = opts.clock.Now().UTC()
	}

	ext := sp.cfg.extendedOrDefault()
	issuer := issuerValue(lr.Issuer)

	ctx := &ValidationContext{
		RawXML:            raw,
		Verify:            verify,
		RequireSignature:  ext.WantLogoutResponseSigned,
		IssuerEntityID:    issuer,
		KnownIssuer:       sp.isKnownIssuer,
		StatusCode:        lr.Status.StatusCode.Value,
		Now:               now,
		SPEntityID:        sp.cfg.EntityID.String(),
		IdPEntityID:       issuer,
		Circles:           sp.circles(),
		InResponseTo:      lr.InResponseTo,
		ExpectedBucketKey: userBucket,
		CorrelationCache:  sp.correlationCache,
	}

	if opts.skipRequestIDValidation {
		ctx.InResponseTo = ""
	}

	if err := NewValidator().Validate(ctx); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &lr, nil
}
