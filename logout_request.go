package saml

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"net/url"
	"text/template"

	"github.com/samlkit/samlsp/models/core"
)

type logoutRequestOptions struct {
	indent       int
	nameIDFormat core.NameIDFormat
	sessionIndex []string
	reason       string
}

func logoutRequestOptionsDefault() logoutRequestOptions {
	return logoutRequestOptions{}
}

func getLogoutRequestOptions(opt ...Option) logoutRequestOptions {
	opts := logoutRequestOptionsDefault()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithSessionIndex names the session(s) the LogoutRequest should end.
// A LogoutRequest cannot be built without at least one.
func WithSessionIndex(sessionIndex ...string) Option {
	return func(o interface{}) {
		if o, ok := o.(*logoutRequestOptions); ok {
			o.sessionIndex = sessionIndex
		}
	}
}

// WithLogoutReason sets the Reason attribute on a LogoutRequest.
func WithLogoutReason(reason string) Option {
	return func(o interface{}) {
		if o, ok := o.(*logoutRequestOptions); ok {
			o.reason = reason
		}
	}
}

// CreateLogoutRequest creates a LogoutRequest naming nameID as the
// principal whose session(s) should be terminated.
//
// Options:
// - WithSessionIndex
// - WithLogoutReason
// - WithClock
// - WithIndent
func (sp *ServiceProvider) CreateLogoutRequest(
	id string,
	idpEntityID string,
	nameID string,
	nameIDFormat core.NameIDFormat,
	binding core.ServiceBinding,
	opt ...Option,
) (*core.LogoutRequest, error) {
	const op = "saml.ServiceProvider.CreateLogoutRequest"

	if id == "" {
		return nil, fmt.Errorf("%s: no ID provided: %w", op, ErrInvalidParameter)
	}
	if nameID == "" {
		return nil, fmt.Errorf("%s: no NameID provided: %w", op, ErrInvalidParameter)
	}

	opts := getLogoutRequestOptions(opt...)
	authnOpts := getAuthnRequestOptions(opt...) // reuse the clock wiring (WithClock)

	// Without a session index the IdP cannot tell which session to end; a
	// LogoutRequest that omits it is a caller bug, not an IdP decision.
	if len(opts.sessionIndex) == 0 {
		return nil, fmt.Errorf("%s: no SessionIndex provided: %w", op, ErrInvalidParameter)
	}

	destination, err := sp.sloDestinationForIdP(idpEntityID, binding)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	lr := &core.LogoutRequest{}
	lr.ID = id
	lr.Version = core.SAMLVersion2
	lr.IssueInstant = authnOpts.clock.Now().UTC()
	lr.Destination = destination
	lr.Reason = opts.reason
	lr.SessionIndex = opts.sessionIndex

	lr.Issuer = &core.Issuer{}
	lr.Issuer.Value = sp.cfg.Issuer.String()

	lr.NameID = &core.NameID{
		Value:  nameID,
		Format: nameIDFormat,
	}

	return lr, nil
}

// LogoutRequestRedirect builds a LogoutRequest and returns it deflated,
// base64-encoded, and embedded in a redirect URL per the HTTP-Redirect
// binding. When signer is non-nil the query string is signed.
func (sp *ServiceProvider) LogoutRequestRedirect(
	idpEntityID, nameID string,
	nameIDFormat core.NameIDFormat,
	relayState string,
	signer *RedirectSigner,
	opt ...Option,
) (*url.URL, *core.LogoutRequest, error) {
	const op = "saml.ServiceProvider.LogoutRequestRedirect"

	requestID, err := sp.cfg.GenerateAuthRequestID()
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	lr, err := sp.CreateLogoutRequest(
		requestID, idpEntityID, nameID, nameIDFormat, core.ServiceBindingHTTPRedirect, opt...,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	opts := getAuthnRequestOptions(opt...)
	payload, err := deflateMessage(lr, opts.indent)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: failed to deflate/compress request: %w", op, err)
	}

	b64Payload := base64.StdEncoding.EncodeToString(payload)

	redirect, err := url.Parse(lr.Destination)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: failed to parse destination URL: %w", op, err)
	}

	if signer != nil {
		if err := signer.Sign(redirect, RedirectParamSAMLRequest, b64Payload, relayState); err != nil {
			return nil, nil, fmt.Errorf("%s: %w", op, err)
		}
		return redirect, lr, nil
	}

	vals := redirect.Query()
	vals.Set(RedirectParamSAMLRequest, b64Payload)
	if relayState != "" {
		vals.Set(RedirectParamRelayState, relayState)
	}
	redirect.RawQuery = vals.Encode()

	return redirect, lr, nil
}

// LogoutRequestPost builds a LogoutRequest and renders the auto-submitting
// HTML form used by the HTTP-POST binding. A nil signer falls back to the
// signer resolved from the SP's SigningCertificateAlias, if one is
// configured.
func (sp *ServiceProvider) LogoutRequestPost(
	idpEntityID, nameID string,
	nameIDFormat core.NameIDFormat,
	relayState string,
	signer *XMLSigner,
	opt ...Option,
) ([]byte, *core.LogoutRequest, error) {
	const op = "saml.ServiceProvider.LogoutRequestPost"

	if signer == nil {
		var err error
		signer, err = sp.defaultXMLSigner(op)
		if err != nil {
			return nil, nil, err
		}
	}

	requestID, err := sp.cfg.GenerateAuthRequestID()
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	lr, err := sp.CreateLogoutRequest(
		requestID, idpEntityID, nameID, nameIDFormat, core.ServiceBindingHTTPPost, opt...,
	)
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
		"SAMLRequest": b64Payload,
		"RelayState":  relayState,
	}); err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	return buf.Bytes(), lr, nil
}
