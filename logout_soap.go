package saml

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/url"

	"github.com/beevik/etree"

	"github.com/samlkit/samlsp/models/core"
)

// LogoutParams carries the binding-specific wiring a logout send needs:
// which binding to use, which signer (if any) applies, and which
// correlation-cache bucket an issued LogoutRequest ID should be tracked
// under.
type LogoutParams struct {
	Binding        core.ServiceBinding
	RelayState     string
	NameIDFormat   core.NameIDFormat
	SessionIndex   []string
	UserBucket     string
	RedirectSigner *RedirectSigner
	XMLSigner      *XMLSigner
}

// SendLogoutRequest initiates single logout with idpEntityID for nameID,
// dispatching on params.Binding. HTTP-POST/HTTP-Redirect return the
// encoded message for the caller to deliver to the browser and track the
// issued request ID in the correlation cache; HTTP-SOAP performs the whole
// round trip synchronously and returns the IdP's LogoutResponse, already
// validated.
func (sp *ServiceProvider) SendLogoutRequest(
	ctx context.Context,
	idpEntityID, nameID string,
	params LogoutParams,
	opt ...Option,
) ([]byte, *url.URL, *core.LogoutResponse, error) {
	const op = "saml.ServiceProvider.SendLogoutRequest"

	if err := sp.checkRelayState(op, params.RelayState); err != nil {
		return nil, nil, nil, err
	}

	opts := opt
	if len(params.SessionIndex) > 0 {
		opts = append([]Option{WithSessionIndex(params.SessionIndex...)}, opt...)
	}

	switch params.Binding {
	case core.ServiceBindingHTTPRedirect:
		signer := params.RedirectSigner
		if signer == nil {
			signer = sp.redirectSigner
		}

		redirectURL, lr, err := sp.LogoutRequestRedirect(idpEntityID, nameID, params.NameIDFormat, params.RelayState, signer, opts...)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("%s: %w", op, err)
		}

		if sp.correlationCache != nil && params.UserBucket != "" {
			sp.correlationCache.Track(params.UserBucket, lr.ID)
		}

		return nil, redirectURL, nil, nil

	case core.ServiceBindingHTTPPost:
		body, lr, err := sp.LogoutRequestPost(idpEntityID, nameID, params.NameIDFormat, params.RelayState, params.XMLSigner, opts...)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("%s: %w", op, err)
		}

		if sp.correlationCache != nil && params.UserBucket != "" {
			sp.correlationCache.Track(params.UserBucket, lr.ID)
		}

		return body, nil, nil, nil

	case core.ServiceBindingSOAP:
		resp, err := sp.logoutRequestSoap(ctx, idpEntityID, nameID, params, opts...)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("%s: %w", op, err)
		}
		return nil, nil, resp, nil

	default:
		return nil, nil, nil, fmt.Errorf("%s: unsupported binding %q: %w", op, params.Binding, ErrBindingUnsupported)
	}
}

// logoutRequestSoap performs a synchronous HTTP-SOAP LogoutRequest/
// LogoutResponse round trip: build and sign the request, POST it, unwrap
// and validate the reply.
func (sp *ServiceProvider) logoutRequestSoap(
	ctx context.Context,
	idpEntityID, nameID string,
	params LogoutParams,
	opt ...Option,
) (*core.LogoutResponse, error) {
	const op = "saml.ServiceProvider.SendLogoutRequest"

	requestID, err := sp.cfg.GenerateAuthRequestID()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	lr, err := sp.CreateLogoutRequest(requestID, idpEntityID, nameID, params.NameIDFormat, core.ServiceBindingSOAP, opt...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	signer := params.XMLSigner
	if signer == nil {
		signer, err = sp.defaultXMLSigner(op)
		if err != nil {
			return nil, err
		}
	}

	var payload []byte
	if signer != nil {
		payload, err = signer.SignMessage(lr)
	} else {
		payload, err = lr.CreateXMLDocument(0)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	envelope, err := wrapSOAPEnvelope(payload)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	raw, err := sp.soapPost(ctx, op, lr.Destination, envelope)
	if err != nil {
		return nil, err
	}

	respElem, err := extractSOAPBodyChild(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	respDoc := etree.NewDocument()
	respDoc.SetRoot(respElem.Copy())
	respXML, err := respDoc.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("%s: failed to serialize LogoutResponse: %w", op, err)
	}

	var logoutResp core.LogoutResponse
	if err := xml.Unmarshal(respXML, &logoutResp); err != nil {
		return nil, E(op, KindMalformedMessage, "failed to parse LogoutResponse", WithCause(err), WithRawXML(respXML))
	}

	var verify func() error
	if parseOpts := getParseResponseOptions(opt...); !parseOpts.skipSignatureValidation {
		idp, err := sp.idpMetadata(idpEntityID)
		if err != nil {
			return nil, fmt.Errorf("%s: failed to resolve idp metadata: %w", op, err)
		}

		verify, err = sp.verifierForLogoutBinding(core.ServiceBindingSOAP, idp, respXML, "")
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	ext := sp.cfg.extendedOrDefault()
	issuer := issuerValue(logoutResp.Issuer)

	vctx := &ValidationContext{
		RawXML:           respXML,
		Verify:           verify,
		RequireSignature: ext.WantLogoutResponseSigned,
		IssuerEntityID:   issuer,
		KnownIssuer:      sp.isKnownIssuer,
		StatusCode:       logoutResp.Status.StatusCode.Value,
		Now:              sp.cfg.clockOrDefault().Now().UTC(),
		SPEntityID:       sp.cfg.EntityID.String(),
		IdPEntityID:      issuer,
		Circles:          sp.circles(),
	}

	if err := NewValidator().Validate(vctx); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	// The SOAP round trip is synchronous, so correlation is a direct
	// comparison against the ID just issued rather than a tracked cache
	// entry - there's no window in which a third party could replay it.
	if logoutResp.InResponseTo != requestID {
		return nil, E(op, KindCorrelationMismatch, "InResponseTo does not match the issued LogoutRequest ID", WithRawXML(respXML))
	}

	return &logoutResp, nil
}

// SendLogoutResponse answers an inbound LogoutRequest over HTTP-POST or
// HTTP-Redirect. HTTP-SOAP logout requests are answered synchronously
// within the same HTTP exchange instead; use SendSoapLogoutResponse for
// that case.
func (sp *ServiceProvider) SendLogoutResponse(
	idpEntityID, inResponseTo string,
	statusCode core.StatusCodeType,
	params LogoutParams,
	opt ...Option,
) ([]byte, *url.URL, error) {
	const op = "saml.ServiceProvider.SendLogoutResponse"

	if err := sp.checkRelayState(op, params.RelayState); err != nil {
		return nil, nil, err
	}

	switch params.Binding {
	case core.ServiceBindingHTTPRedirect:
		signer := params.RedirectSigner
		if signer == nil {
			signer = sp.redirectSigner
		}

		redirectURL, _, err := sp.LogoutResponseRedirect(idpEntityID, inResponseTo, statusCode, params.RelayState, signer, opt...)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", op, err)
		}
		return nil, redirectURL, nil

	case core.ServiceBindingHTTPPost:
		body, _, err := sp.LogoutResponsePost(idpEntityID, inResponseTo, statusCode, params.RelayState, params.XMLSigner, opt...)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", op, err)
		}
		return body, nil, nil

	default:
		return nil, nil, fmt.Errorf(
			"%s: binding %q is not sent asynchronously, use SendSoapLogoutResponse: %w",
			op, params.Binding, ErrBindingUnsupported,
		)
	}
}

// SendSoapLogoutResponse builds and signs a LogoutResponse for
// inResponseTo, wrapped in a SOAP envelope ready to write back as the
// synchronous HTTP reply to an inbound HTTP-SOAP LogoutRequest. A nil
// signer falls back to the signer resolved from the SP's
// SigningCertificateAlias, if one is configured.
func (sp *ServiceProvider) SendSoapLogoutResponse(
	idpEntityID, inResponseTo string,
	statusCode core.StatusCodeType,
	signer *XMLSigner,
) ([]byte, *core.LogoutResponse, error) {
	const op = "saml.ServiceProvider.SendSoapLogoutResponse"

	if signer == nil {
		var err error
		signer, err = sp.defaultXMLSigner(op)
		if err != nil {
			return nil, nil, err
		}
	}

	id, err := sp.cfg.GenerateAuthRequestID()
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	lr, err := sp.CreateLogoutResponse(id, idpEntityID, inResponseTo, statusCode, core.ServiceBindingSOAP)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	var payload []byte
	if signer != nil {
		payload, err = signer.SignMessage(lr)
	} else {
		payload, err = lr.CreateXMLDocument(0)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	envelope, err := wrapSOAPEnvelope(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	return envelope, lr, nil
}
