package saml

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"text/template"

	"github.com/jonboulle/clockwork"

	"github.com/samlkit/samlsp/models/core"
)

const (
	postBindingScriptSha256 = "D8xB+y+rJ90RmLdP72xBqEEc0NUatn7yuCND0orkrgk="
)

type authnRequestOptions struct {
	clock                       clockwork.Clock
	allowCreate                 bool
	nameIDFormat                core.NameIDFormat
	forceAuthn                  bool
	isPassive                   bool
	protocolBinding             core.ServiceBinding
	authnContextClassRefs       []string
	authLevel                   *int
	idpEntityID                 string
	indent                      int
	assertionConsumerServiceURL string
}

func authnRequestOptionsDefault() authnRequestOptions {
	return authnRequestOptions{
		allowCreate:     false,
		clock:           clockwork.NewRealClock(),
		nameIDFormat:    core.NameIDFormat(""),
		forceAuthn:      false,
		protocolBinding: core.ServiceBindingHTTPPost,
	}
}

func getAuthnRequestOptions(opt ...Option) authnRequestOptions {
	opts := authnRequestOptionsDefault()
	ApplyOpts(&opts, opt...)
	return opts
}

// AllowCreate is a Boolean value used to indicate whether the identity provider is allowed, in the course
// of fulfilling the request, to create a new identifier to represent the principal.
func AllowCreate() Option {
	return func(o interface{}) {
		if o, ok := o.(*authnRequestOptions); ok {
			o.allowCreate = true
		}
	}
}

// WithNameIDFormat will set an NameIDPolicy object with the
// given NameIDFormat. It implies AllowCreate=true.
func WithNameIDFormat(f core.NameIDFormat) Option {
	return func(o interface{}) {
		if o, ok := o.(*authnRequestOptions); ok {
			o.nameIDFormat = f
			o.allowCreate = true
		}
	}
}

// ForceAuthn sets a boolean value that tells the identity provider it MUST authenticate the presenter
// directly rather than rely on a previous security context.
func ForceAuthn() Option {
	return func(o interface{}) {
		if o, ok := o.(*authnRequestOptions); ok {
			o.forceAuthn = true
		}
	}
}

// WithIdPEntityID addresses the request to the named IdP from the wired
// MetadataStore instead of the single IdP at Config.MetadataURL. Required
// for multi-IdP deployments, where the store holds more than one
// candidate.
func WithIdPEntityID(idpEntityID string) Option {
	return func(o interface{}) {
		if o, ok := o.(*authnRequestOptions); ok {
			o.idpEntityID = idpEntityID
		}
	}
}

// IsPassive tells the identity provider it MUST NOT visibly take control
// of the user interface: authenticate silently from an existing security
// context or fail.
func IsPassive() Option {
	return func(o interface{}) {
		if o, ok := o.(*authnRequestOptions); ok {
			o.isPassive = true
		}
	}
}

// WithAuthLevel requests the authentication context class mapped to the
// given level in the SP's AuthnContextClassRef configuration; unmapped
// levels fall back to PasswordProtectedTransport.
func WithAuthLevel(level int) Option {
	return func(o interface{}) {
		if o, ok := o.(*authnRequestOptions); ok {
			o.authLevel = &level
		}
	}
}

// WithProtocolBinding defines the ProtocolBinding to be used. It defaults to HTTP-Post.
// The ProtocolBinding is a URI reference that identifies a SAML protocol binding to be used
// when returning the <Response> message.
func WithProtocolBinding(binding core.ServiceBinding) Option {
	return func(o interface{}) {
		if o, ok := o.(*authnRequestOptions); ok {
			o.protocolBinding = binding
		}
	}
}

// WithAuthContextClassRefs defines AuthnContextClassRefs.
// An AuthContextClassRef Specifies the requirements, if any, that the requester places on the
// authentication context that applies to the responding provider's authentication of the presenter.
func WithAuthContextClassRefs(cfs []string) Option {
	return func(o interface{}) {
		if o, ok := o.(*authnRequestOptions); ok {
			o.authnContextClassRefs = cfs
		}
	}
}

// WithIndent indent the XML document when marshalling it.
func WithIndent(indent int) Option {
	return func(o interface{}) {
		if o, ok := o.(*authnRequestOptions); ok {
			o.indent = indent
		}
	}
}

// WithClock changes the clock used when generating requests.
func WithClock(clock clockwork.Clock) Option {
	return func(o interface{}) {
		switch opts := o.(type) {
		case *authnRequestOptions:
			opts.clock = clock
		case *parseResponseOptions:
			opts.clock = clock
		}
	}
}

// WithAssertionConsumerServiceURL changes the Assertion Consumer Service URL
// to use in the Auth Request or during the response validation
func WithAssertionConsumerServiceURL(url string) Option {
	return func(o interface{}) {
		switch opts := o.(type) {
		case *authnRequestOptions:
			opts.assertionConsumerServiceURL = url
		case *parseResponseOptions:
			opts.assertionConsumerServiceURL = url
		}
	}
}

// CreateAuthnRequest creates an Authentication Request object.
// The defaults follow the deployment profile for federation interoperability.
// See: 3.1.1 https://kantarainitiative.github.io/SAMLprofiles/saml2int.html#_service_provider_requirements [INT_SAML]
//
// Options:
// - WithClock
// - ForceAuthn
// - IsPassive
// - AllowCreate
// - WithNameIDFormat
// - WithProtocolBinding
// - WithAuthContextClassRefs
// - WithAuthLevel
// - WithIdPEntityID
// - WithAssertionConsumerServiceURL
func (sp *ServiceProvider) CreateAuthnRequest(
	id string,
	binding core.ServiceBinding,
	opt ...Option,
) (*core.AuthnRequest, error) {
	const op = "saml.ServiceProvider.CreateAuthnRequest"

	if id == "" {
		return nil, fmt.Errorf("%s: no ID provided: %w", op, ErrInvalidParameter)
	}

	if binding == "" {
		return nil, fmt.Errorf("%s: no binding provided: %w", op, ErrInvalidParameter)
	}

	opts := getAuthnRequestOptions(opt...)

	var destination string
	var err error
	if opts.idpEntityID != "" {
		destination, err = sp.destinationForIdP(opts.idpEntityID, binding)
	} else {
		destination, err = sp.destination(binding)
	}
	if err != nil {
		return nil, fmt.Errorf(
			"%s: failed to get destination for given service binding (%s): %w",
			op,
			binding,
			err,
		)
	}

	ar := &core.AuthnRequest{}

	ar.ID = id
	ar.Version = core.SAMLVersion2
	ar.ProtocolBinding = opts.protocolBinding

	// [INT_SAML][SDP-SP05][SDP-SP06]
	// "The message SHOULD contain an AssertionConsumerServiceURL attribute and MUST NOT contain an
	// AssertionConsumerServiceIndex attribute (i.e., the desired endpoint MUST be the default,
	// or identified via the AssertionConsumerServiceURL attribute)."
	ar.AssertionConsumerServiceURL = sp.cfg.AssertionConsumerServiceURL.String()
	if opts.assertionConsumerServiceURL != "" {
		ar.AssertionConsumerServiceURL = opts.assertionConsumerServiceURL
	}

	ar.IssueInstant = opts.clock.Now().UTC()
	ar.Destination = destination

	ar.Issuer = &core.Issuer{}
	ar.Issuer.Value = sp.cfg.EntityID.String()

	// [INT_SAML][SDP-SP04]
	// "The <samlp:AuthnRequest> message MUST either omit the <samlp:NameIDPolicy> element (RECOMMENDED),
	// or the element MUST contain an AllowCreate attribute of "true" and MUST NOT contain a Format attribute."
	if opts.allowCreate || opts.nameIDFormat != "" {
		ar.NameIDPolicy = &core.NameIDPolicy{
			AllowCreate: opts.allowCreate,
		}

		// This will only be set if the option WithNameIDFormat is set.
		if opts.nameIDFormat != "" {
			ar.NameIDPolicy.Format = opts.nameIDFormat
		}
	}

	// [INT_SAML][SDP-SP07]
	// "An SP that does not require a specific <saml:AuthnContextClassRef> value MUST NOT include a
	// <samlp:RequestedAuthnContext> element in its requests.
	// An SP that requires specific <saml:AuthnContextClassRef> values MUST specify the allowable values
	// in a <samlp:RequestedAuthnContext> element in its requests, with the Comparison attribute set to exact."
	switch {
	case len(opts.authnContextClassRefs) > 0:
		ar.RequestedAuthContext = &core.RequestedAuthContext{
			AuthnContextClassRef: opts.authnContextClassRefs,
			Comparison:           core.ComparisonExact,
		}
	case opts.authLevel != nil:
		ar.RequestedAuthContext = &core.RequestedAuthContext{
			AuthnContextClassRef: []string{
				sp.cfg.extendedOrDefault().ClassRefForLevel(*opts.authLevel),
			},
			Comparison: core.ComparisonExact,
		}
	}

	ar.ForceAuthn = opts.forceAuthn
	ar.IsPassive = opts.isPassive

	return ar, nil
}

// AuthnRequestPost creates an AuthRequest with HTTP-Post binding. userBucket
// identifies the caller (session, user) the issued request ID is tracked
// under in the correlation cache, so the eventual response can be matched
// back to this exact request.
func (sp *ServiceProvider) AuthnRequestPost(
	userBucket, relayState string, opt ...Option,
) ([]byte, *core.AuthnRequest, error) {
	const op = "saml.ServiceProvider.AuthnRequestPost"

	if err := sp.checkRelayState(op, relayState); err != nil {
		return nil, nil, err
	}

	requestID, err := sp.cfg.GenerateAuthRequestID()
	if err != nil {
		return nil, nil, err
	}

	authN, err := sp.CreateAuthnRequest(requestID, core.ServiceBindingHTTPPost, opt...)
	if err != nil {
		return nil, nil, err
	}

	opts := getAuthnRequestOptions(opt...)
	payload, err := authN.CreateXMLDocument(opts.indent)
	if err != nil {
		return nil, nil, err
	}

	b64Payload := base64.StdEncoding.EncodeToString(payload)

	tmpl := template.Must(
		template.New("post-binding").Parse(PostBindingTempl),
	)

	buf := bytes.Buffer{}

	if err := tmpl.Execute(&buf, map[string]string{
		"Destination": authN.Destination,
		"SAMLRequest": b64Payload,
		"RelayState":  relayState,
	}); err != nil {
		return nil, nil, err
	}

	if sp.correlationCache != nil {
		sp.correlationCache.Track(userBucket, requestID)
	}

	return buf.Bytes(), authN, nil
}

func WritePostBindingRequestHeader(w http.ResponseWriter) {
	w.Header().
		Add("Content-Security-Policy", fmt.Sprintf("script-src '%s'", postBindingScriptSha256))
	w.Header().Add("Content-type", "text/html")
}

// AuthnRequestRedirect creates an AuthnRequest with the HTTP-Redirect
// binding. userBucket identifies the caller the issued request ID is
// tracked under in the correlation cache. If a RedirectSigner is wired via
// UseRedirectSigner, the query string is signed per the binding's
// canonical signing order.
func (sp *ServiceProvider) AuthnRequestRedirect(
	userBucket, relayState string, opts ...Option,
) (*url.URL, *core.AuthnRequest, error) {
	const op = "saml.ServiceProvider.AuthnRequestRedirect"

	if err := sp.checkRelayState(op, relayState); err != nil {
		return nil, nil, err
	}

	requestID, err := sp.cfg.GenerateAuthRequestID()
	if err != nil {
		return nil, nil, err
	}

	authN, err := sp.CreateAuthnRequest(requestID, core.ServiceBindingHTTPRedirect, opts...)
	if err != nil {
		return nil, nil, err
	}

	payload, err := Deflate(authN, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: failed to deflate/compress request: %w", op, err)
	}

	b64Payload := base64.StdEncoding.EncodeToString(payload)

	redirect, err := url.Parse(authN.Destination)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: failed to parse destination URL: %w", op, err)
	}

	if sp.redirectSigner != nil {
		if err := sp.redirectSigner.Sign(redirect, RedirectParamSAMLRequest, b64Payload, relayState); err != nil {
			return nil, nil, fmt.Errorf("%s: failed to sign redirect query: %w", op, err)
		}
	} else {
		vals := redirect.Query()
		vals.Set("SAMLRequest", b64Payload)

		if relayState != "" {
			vals.Set("RelayState", relayState)
		}

		redirect.RawQuery = vals.Encode()
	}

	if sp.correlationCache != nil {
		sp.correlationCache.Track(userBucket, requestID)
	}

	return redirect, authN, nil
}

// Deflate returns an AuthnRequest in the Deflate file format, applying default
// compression.
func Deflate(authn *core.AuthnRequest, opt ...Option) ([]byte, error) {
	opts := getAuthnRequestOptions(opt...)
	return deflateMessage(authn, opts.indent)
}
