package saml

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"net/url"
	"text/template"

	"github.com/samlkit/samlsp/models/core"
)

// CreateLogoutResponse builds a LogoutResponse answering the LogoutRequest
// identified by inResponseTo, reporting statusCode as the outcome.
func (sp *ServiceProvider) CreateLogoutResponse(
	id string,
	idpEntityID string,
	inResponseTo string,
	statusCode core.StatusCodeType,
	binding core.ServiceBinding,
) (*core.LogoutResponse, error) {
	const op = "saml.ServiceProvider.CreateLogoutResponse"

	if id == "" {
		return nil, fmt.Errorf("%s: no ID provided: %w", op, ErrInvalidParameter)
	}

	destination, err := sp.sloDestinationForIdP(idpEntityID, binding)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	lr := &core.LogoutResponse{}
	lr.ID = id
	lr.Version = core.SAMLVersion2
	lr.IssueInstant = sp.cfg.clockOrDefault().Now().UTC()
	lr.Destination = destination
	lr.InResponseTo = inResponseTo
	lr.Status = core.Status{StatusCode: core.StatusCode{Value: statusCode}}

	lr.Issuer = &core.Issuer{}
	lr.Issuer.Value = sp.cfg.Issuer.String()

	return lr, nil
}

// LogoutResponseRedirect builds a LogoutResponse and returns it embedded
// in a redirect URL per the HTTP-Redirect binding.
func (sp *ServiceProvider) LogoutResponseRedirect(
	idpEntityID, inResponseTo string,
	statusCode core.StatusCodeType,
	relayState string,
	signer *RedirectSigner,
	opt ...Option,
) (*url.URL, *core.LogoutResponse, error) {
	const op = "saml.ServiceProvider.LogoutResponseRedirect"

	id, err := sp.cfg.GenerateAuthRequestID()
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	lr, err := sp.CreateLogoutResponse(id, idpEntityID, inResponseTo, statusCode, core.ServiceBindingHTTPRedirect)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	opts := getAuthnRequestOptions(opt...)
	payload, err := deflateMessage(lr, opts.indent)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	b64Payload := base64.StdEncoding.EncodeToString(payload)

	redirect, err := url.Parse(lr.Destination)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	if signer != nil {
		if err := signer.Sign(redirect, RedirectParamSAMLResponse, b64Payload, relayState); err != nil {
			return nil, nil, fmt.Errorf("%s: %w", op, err)
		}
		return redirect, lr, nil
	}

	vals := redirect.Query()
	vals.Set(RedirectParamSAMLResponse, b64Payload)
	if relayState != "" {
		vals.Set(RedirectParamRelayState, relayState)
	}
	redirect.RawQuery = vals.Encode()

	return redirect, lr, nil
}

// LogoutResponsePost renders the auto-submitting HTML form used by the
// HTTP-POST binding to carry a LogoutResponse. A nil signer falls back to
// the signer resolved from the SP's SigningCertificateAlias, if one is
// configured.
func (sp *ServiceProvider) LogoutResponsePost(
	idpEntityID, inResponseTo string,
	statusCode core.StatusCodeType,
	relayState string,
	signer *XMLSigner,
	opt ...Option,
) ([]byte, *core.LogoutResponse, error) {
	const op = "saml.ServiceProvider.LogoutResponsePost"

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

	lr, err := sp.CreateLogoutResponse(id, idpEntityID, inResponseTo, statusCode, core.ServiceBindingHTTPPost)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	opts := getAuthnRequestOptions(opt...)

	var payload []byte
	if signer != nil {
		payload, err = signer.SignMessage(lr)
	} else {
		payload, err = lr.CreateXMLDocument(opts.indent)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	b64Payload := base64.StdEncoding.EncodeToString(payload)

	tmpl := template.Must(template.New("post-binding").Parse(PostBindingTempl))

	buf := bytes.Buffer{}
	if err := tmpl.Execute(&buf, map[string]string{
		"Destination": lr.Destination,
		"SAMLResponse": b64Payload,
		"RelayState":   relayState,
	}); err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	return buf.Bytes(), lr, nil
}
