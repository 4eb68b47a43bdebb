package saml

import (
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	_ "embed"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/samlkit/samlsp/models/core"
	"github.com/samlkit/samlsp/models/metadata"
)

//go:embed authn_request.gohtml
var PostBindingTempl string

type metadataOptions struct {
	wantAssertionsSigned bool
	nameIDFormats        []core.NameIDFormat
	acsServiceBinding    core.ServiceBinding
	addtionalACSs        []metadata.Endpoint
}

func metadataOptionsDefault() metadataOptions {
	return metadataOptions{
		wantAssertionsSigned: true,
		nameIDFormats: []core.NameIDFormat{
			core.NameIDFormatEmail,
		},
		acsServiceBinding: core.ServiceBindingHTTPPost,
	}
}

func getMetadataOptions(opt ...Option) metadataOptions {
	opts := metadataOptionsDefault()
	ApplyOpts(&opts, opt...)
	return opts
}

func InsecureWantAssertionsUnsigned() Option {
	return func(o interface{}) {
		if o, ok := o.(*metadataOptions); ok {
			o.wantAssertionsSigned = false
		}
	}
}

func WithAdditionalNameIDFormat(format core.NameIDFormat) Option {
	return func(o interface{}) {
		if o, ok := o.(*metadataOptions); ok {
			o.nameIDFormats = append(o.nameIDFormats, format)
		}
	}
}

func WithNameIDFormats(formats []core.NameIDFormat) Option {
	return func(o interface{}) {
		if o, ok := o.(*metadataOptions); ok {
			o.nameIDFormats = formats
		}
	}
}

func WithACSServiceBinding(b core.ServiceBinding) Option {
	return func(o interface{}) {
		if o, ok := o.(*metadataOptions); ok {
			o.acsServiceBinding = b
		}
	}
}

func WithAdditionalACSEndpoint(b core.ServiceBinding, location *url.URL) Option {
	return func(o interface{}) {
		if o, ok := o.(*metadataOptions); ok {
			o.addtionalACSs = append(o.addtionalACSs, metadata.Endpoint{
				Binding:  b,
				Location: location.String(),
			})
		}
	}
}

// ServiceProvider is the SP-side half of a SAML2 web-browser SSO and
// single-logout exchange. It holds its own configuration plus, once
// loaded, the set of IdPs it trusts.
type ServiceProvider struct {
	cfg              *Config
	store            *MetadataStore
	certStore        *CertificateStore
	correlationCache *RequestCorrelationCache
	redirectSigner   *RedirectSigner
}

// NewServiceProvider creates a new ServiceProvider.
func NewServiceProvider(cfg *Config) (*ServiceProvider, error) {
	const op = "saml.NewServiceProvider"

	if cfg == nil {
		return nil, fmt.Errorf("%s: no provider config provided", op)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: insufficient provider config: %w", op, err)
	}

	return &ServiceProvider{
		cfg:              cfg,
		correlationCache: NewRequestCorrelationCache().WithClock(cfg.clockOrDefault()),
	}, nil
}

// Config returns the service provider config.
func (sp *ServiceProvider) Config() *Config {
	return sp.cfg
}

// UseMetadataStore wires a pre-built MetadataStore into the service
// provider, replacing per-call FetchMetadata lookups with fast, trusted
// in-memory lookups gated by circle-of-trust membership.
func (sp *ServiceProvider) UseMetadataStore(store *MetadataStore) {
	sp.store = store
}

// MetadataStore returns the store wired via UseMetadataStore, or nil if
// none has been set.
func (sp *ServiceProvider) MetadataStore() *MetadataStore {
	return sp.store
}

// UseCertificateStore wires the store that resolves the certificate
// aliases named in ExtendedConfig to actual key pairs. Required whenever
// SigningCertificateAlias is configured.
func (sp *ServiceProvider) UseCertificateStore(store *CertificateStore) {
	sp.certStore = store
}

// CertificateStore returns the store wired via UseCertificateStore, or nil
// if none has been set.
func (sp *ServiceProvider) CertificateStore() *CertificateStore {
	return sp.certStore
}

// signingCertificate resolves ExtendedConfig.SigningCertificateAlias
// through the wired CertificateStore. Every failure mode here is a
// deployment mistake, not a protocol condition, so all are tagged
// KindConfiguration.
func (sp *ServiceProvider) signingCertificate(op string) (*tls.Certificate, error) {
	alias := sp.cfg.extendedOrDefault().SigningCertificateAlias
	if alias == "" {
		return nil, E(op, KindConfiguration, "no signing certificate alias configured")
	}
	if sp.certStore == nil {
		return nil, E(op, KindConfiguration, "signing certificate alias configured but no certificate store wired")
	}
	cert, ok := sp.certStore.Get(alias)
	if !ok {
		return nil, E(op, KindConfiguration, fmt.Sprintf("signing certificate alias %q not found in certificate store", alias))
	}
	return &cert, nil
}

// defaultXMLSigner builds an XMLSigner from the configured signing alias,
// using the ExtendedConfig's digest and signature methods. It returns a
// nil signer (not an error) when no alias is configured, i.e. the
// deployment signs nothing.
func (sp *ServiceProvider) defaultXMLSigner(op string) (*XMLSigner, error) {
	ext := sp.cfg.extendedOrDefault()
	if ext.SigningCertificateAlias == "" {
		return nil, nil
	}

	cert, err := sp.signingCertificate(op)
	if err != nil {
		return nil, err
	}

	return NewXMLSigner(*cert, ext.DigestMethodOrDefault(), ext.SignatureMethodOrDefault())
}

// UseCorrelationCache replaces the default RequestCorrelationCache used to
// track outstanding AuthnRequest/LogoutRequest IDs between their issuance
// and the matching inbound response.
func (sp *ServiceProvider) UseCorrelationCache(cache *RequestCorrelationCache) {
	sp.correlationCache = cache
}

// CorrelationCache returns the cache used to track outstanding request IDs.
func (sp *ServiceProvider) CorrelationCache() *RequestCorrelationCache {
	return sp.correlationCache
}

// UseRedirectSigner wires a RedirectSigner into the service provider, used
// to sign outgoing HTTP-Redirect bound requests/responses and verify
// incoming ones.
func (sp *ServiceProvider) UseRedirectSigner(signer *RedirectSigner) {
	sp.redirectSigner = signer
}

// RedirectSigner returns the signer wired via UseRedirectSigner, or nil if
// none has been set.
func (sp *ServiceProvider) RedirectSigner() *RedirectSigner {
	return sp.redirectSigner
}

// NewRedirectSignerFromTLSCert builds a RedirectSigner from the private key
// half of a TLS certificate, the same certificate form NewXMLSigner already
// accepts for POST-binding signing.
func NewRedirectSignerFromTLSCert(cert tls.Certificate, sigAlg string) (*RedirectSigner, error) {
	const op = "saml.NewRedirectSignerFromTLSCert"

	key, ok := cert.PrivateKey.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%s: certificate private key is not RSA: %w", op, ErrInvalidParameter)
	}

	return NewRedirectSigner(key, sigAlg), nil
}

// CreateMetadata creates the metadata XML for the service provider.
//
// Options:
// - InsecureWantAssertionsUnsigned
// - WithNameIDFormats
// - WithACSServiceBinding
// - WithAdditionalACSEndpoint
func (sp *ServiceProvider) CreateMetadata(opt ...Option) *metadata.EntityDescriptorSPSSO {
	validUntil := sp.cfg.ValidUntil()

	opts := getMetadataOptions(opt...)

	spsso := metadata.EntityDescriptorSPSSO{}
	spsso.EntityID = sp.cfg.EntityID.String()
	spsso.ValidUntil = validUntil

	spssoDescriptor := &metadata.SPSSODescriptor{}
	spssoDescriptor.ValidUntil = validUntil
	spssoDescriptor.ProtocolSupportEnumeration = metadata.ProtocolSupportEnumerationProtocol
	spssoDescriptor.NameIDFormat = opts.nameIDFormats
	spssoDescriptor.AuthnRequestsSigned = sp.cfg.extendedOrDefault().SigningCertificateAlias != ""
	spssoDescriptor.WantAssertionsSigned = opts.wantAssertionsSigned
	spssoDescriptor.AssertionConsumerService = []metadata.IndexedEndpoint{
		{
			Endpoint: metadata.Endpoint{
				Binding:  opts.acsServiceBinding,
				Location: sp.cfg.AssertionConsumerServiceURL.String(),
			},
			Index: 1,
		},
	}

	for i, a := range opts.addtionalACSs {
		spssoDescriptor.AssertionConsumerService = append(
			spssoDescriptor.AssertionConsumerService,
			metadata.IndexedEndpoint{
				Endpoint: a,
				Index:    i + 2, // The first index is already taken.
			},
		)
	}

	spsso.SPSSODescriptor = []*metadata.SPSSODescriptor{spssoDescriptor}

	return &spsso
}

// FetchMetadata fetches the metadata XML document from the IDP provider
// configured at Config.MetadataURL. Deployments managing more than one IdP
// should build a MetadataStore instead and call UseMetadataStore.
func (sp *ServiceProvider) FetchMetadata() (*metadata.EntityDescriptorIDPSSO, error) {
	const op = "saml.ServiceProvider.FetchMetdata"

	if sp.cfg.MetadataURL == nil {
		return nil, fmt.Errorf("%s: no metadata URL set: %w", op, ErrInvalidParameter)
	}

	res, err := http.Get(sp.cfg.MetadataURL.String())
	if err != nil {
		return nil, fmt.Errorf("%s: failed to fetch metadata: %w", op, err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to read http body: %w", op, err)
	}

	var ed metadata.EntityDescriptorIDPSSO
	if err := xml.Unmarshal(raw, &ed); err != nil {
		return nil, fmt.Errorf("%s: failed to parse metadata XML: %w", op, err)
	}

	// [SDP-MD03] https://kantarainitiative.github.io/SAMLprofiles/saml2int.html#_metadata_and_trust_management
	// Metadata without a validUntil attribute on its root element MUST be rejected. Metadata whose root element’s validUntil
	// attribute extends beyond a deployer- or community-imposed threshold MUST be rejected.
	// TODO: VALIDATE

	return &ed, nil
}

// idpMetadata resolves the IdP metadata to use for idpEntityID, preferring
// the wired MetadataStore when present and falling back to the
// single-IdP FetchMetadata path otherwise.
func (sp *ServiceProvider) idpMetadata(idpEntityID string) (*metadata.EntityDescriptorIDPSSO, error) {
	const op = "saml.ServiceProvider.idpMetadata"

	if sp.store != nil {
		idp, ok := sp.store.IdPByEntityID(idpEntityID)
		if !ok {
			return nil, fmt.Errorf("%s: idp %q not found: %w", op, idpEntityID, ErrBindingUnsupported)
		}
		return idp, nil
	}

	return sp.FetchMetadata()
}

func (sp *ServiceProvider) destination(binding core.ServiceBinding) (string, error) {
	const op = "saml.ServiceProvider.destination"

	meta, err := sp.FetchMetadata()
	if err != nil {
		return "", fmt.Errorf("%s: failed to fetch metadata: %w", op, err)
	}

	destination, ok := meta.GetLocationForBinding(binding)
	if !ok {
		return "", fmt.Errorf(
			"%s: no location for provided binding (%s) found: %w",
			op, binding, ErrBindingUnsupported,
		)
	}

	return destination, nil
}

// destinationForIdP resolves the SSO endpoint for binding on the named IdP,
// using the wired MetadataStore when available.
func (sp *ServiceProvider) destinationForIdP(idpEntityID string, binding core.ServiceBinding) (string, error) {
	const op = "saml.ServiceProvider.destinationForIdP"

	meta, err := sp.idpMetadata(idpEntityID)
	if err != nil {
		return "", fmt.Errorf("%s: failed to resolve idp metadata: %w", op, err)
	}

	destination, ok := meta.GetLocationForBinding(binding)
	if !ok {
		return "", fmt.Errorf(
			"%s: no location for provided binding (%s) found: %w",
			op, binding, ErrBindingUnsupported,
		)
	}

	return destination, nil
}

// sloDestinationForIdP resolves the single-logout endpoint for binding on
// the named IdP.
func (sp *ServiceProvider) sloDestinationForIdP(idpEntityID string, binding core.ServiceBinding) (string, error) {
	const op = "saml.ServiceProvider.sloDestinationForIdP"

	meta, err := sp.idpMetadata(idpEntityID)
	if err != nil {
		return "", fmt.Errorf("%s: failed to resolve idp metadata: %w", op, err)
	}

	destination, ok := meta.GetSingleLogoutLocationForBinding(binding)
	if !ok {
		return "", fmt.Errorf(
			"%s: no single-logout location for provided binding (%s) found: %w",
			op, binding, ErrBindingUnsupported,
		)
	}

	return destination, nil
}

// isKnownIssuer reports whether entityID is a trusted IdP, preferring the
// wired MetadataStore's circle-of-trust membership check and falling back
// to a direct comparison against the single configured IdP's EntityID.
func (sp *ServiceProvider) isKnownIssuer(entityID string) bool {
	if entityID == "" {
		return false
	}
	if sp.store != nil {
		return sp.store.IsTrusted(entityID)
	}
	meta, err := sp.FetchMetadata()
	if err != nil {
		return false
	}
	return meta.EntityID == entityID
}

// circles returns the circles of trust known to the wired MetadataStore, or
// nil when no store is wired, in which case the Validator's circle-of-trust
// check is skipped entirely (single-IdP deployments have nothing to check).
func (sp *ServiceProvider) circles() []CircleOfTrust {
	if sp.store == nil {
		return nil
	}
	return sp.store.current().circles
}

// checkRelayState rejects any non-empty RelayState that is not an exact
// entry of the configured whitelist. RelayState is round-tripped through
// the IdP and later used as a redirect target, so an unlisted value is an
// open-redirect vector, not a soft preference.
func (sp *ServiceProvider) checkRelayState(op, relayState string) error {
	if sp.cfg.extendedOrDefault().IsRelayStateAllowed(relayState) {
		return nil
	}
	return E(op, KindRelayStateRejected, fmt.Sprintf("RelayState %q is not whitelisted", relayState))
}

// issuerValue returns the NameID value carried by iss, or "" if iss is nil.
func issuerValue(iss *core.Issuer) string {
	if iss == nil {
		return ""
	}
	return iss.Value
}

// idpSigningCertificates extracts the signing certificates advertised by an
// IdP's metadata, the same way internalParser builds its certificate store.
func idpSigningCertificates(idp *metadata.EntityDescriptorIDPSSO) ([]*x509.Certificate, error) {
	if idp == nil || len(idp.IDPSSODescriptor) == 0 {
		return nil, nil
	}

	var raw []string
	for _, kd := range idp.IDPSSODescriptor[0].KeyDescriptor {
		switch kd.Use {
		case "", "signing":
			for _, xcert := range kd.KeyInfo.X509Data.X509Certificates {
				raw = append(raw, xcert.Data)
			}
		}
	}

	return CertificatesFromKeyDescriptors(raw)
}
