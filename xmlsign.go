package saml

import (
	"crypto"
	"crypto/tls"
	"crypto/x509"
	"encoding/xml"
	"fmt"

	"github.com/beevik/etree"
	dsig "github.com/russellhaering/goxmldsig"
)

// Digest method URIs accepted by NewXMLSigner and ExtendedConfig.
const (
	DigestSHA1   = "http://www.w3.org/2000/09/xmldsig#sha1"
	DigestSHA256 = "http://www.w3.org/2001/04/xmlenc#sha256"
)

var digestHashes = map[string]crypto.Hash{
	DigestSHA1:   crypto.SHA1,
	DigestSHA256: crypto.SHA256,
}

// XMLSigner produces enveloped XML-DSig signatures over SAML protocol
// messages that gosaml2 doesn't already sign/verify for us: LogoutRequest,
// LogoutResponse, and ArtifactResolve. AuthnRequest/AuthnResponse keep
// using gosaml2's own signature handling.
type XMLSigner struct {
	ctx *dsig.SigningContext
}

// NewXMLSigner builds a signer from a TLS certificate/key pair (the same
// shape used to hold a service's own signing credential). digestAlgorithm
// is DigestSHA1/DigestSHA256 and signatureAlgorithm is
// dsig.RSASHA1SignatureMethod/dsig.RSASHA256SignatureMethod.
//
// goxmldsig derives the Reference digest and the SignedInfo hash from the
// same knob, so a digest override also moves the signature hash: request
// SHA-1 here only when a legacy peer requires it end to end.
func NewXMLSigner(cert tls.Certificate, digestAlgorithm, signatureAlgorithm string) (*XMLSigner, error) {
	const op = "saml.NewXMLSigner"

	keyStore := dsig.TLSCertKeyStore(cert)

	ctx := dsig.NewDefaultSigningContext(keyStore)
	ctx.Canonicalizer = dsig.MakeC14N10ExclusiveCanonicalizerWithPrefixList("")

	var digestHash crypto.Hash
	if digestAlgorithm != "" {
		h, ok := digestHashes[digestAlgorithm]
		if !ok {
			return nil, fmt.Errorf("%s: invalid digest algorithm %q: %w", op, digestAlgorithm, ErrInvalidParameter)
		}
		digestHash = h
	}
	if signatureAlgorithm != "" {
		if err := ctx.SetSignatureMethod(signatureAlgorithm); err != nil {
			return nil, fmt.Errorf("%s: invalid signature method: %w", op, err)
		}
	}
	if digestHash != 0 {
		ctx.Hash = digestHash
	}

	return &XMLSigner{ctx: ctx}, nil
}

// SignMessage marshals msg to XML, wraps an enveloped XML-DSig Signature
// element into it, and returns the signed document bytes.
func (s *XMLSigner) SignMessage(msg interface{}) ([]byte, error) {
	const op = "saml.XMLSigner.SignMessage"

	raw, err := xml.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to marshal message: %w", op, err)
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(raw); err != nil {
		return nil, fmt.Errorf("%s: failed to parse marshalled message: %w", op, err)
	}

	signed, err := s.ctx.SignEnveloped(doc.Root())
	if err != nil {
		return nil, fmt.Errorf("%s: failed to sign document: %w", op, err)
	}

	doc.SetRoot(signed)

	out, err := doc.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("%s: failed to serialize signed document: %w", op, err)
	}

	return out, nil
}

// XMLVerifier validates enveloped XML-DSig signatures against a fixed set
// of trusted certificates.
type XMLVerifier struct {
	ctx *dsig.ValidationContext
}

// NewXMLVerifier builds a verifier trusting exactly the given certificates
// (typically the signing certs published in an IdP's metadata).
func NewXMLVerifier(roots ...*x509.Certificate) *XMLVerifier {
	store := &dsig.MemoryX509CertificateStore{Roots: roots}
	return &XMLVerifier{ctx: dsig.NewDefaultValidationContext(store)}
}

const xmldsigNS = "http://www.w3.org/2000/09/xmldsig#"

// VerifyEnvelopedSignature validates the strongest enveloped signature
// present in raw. Candidates are searched in precedence order: the
// document root, a Response nested directly inside an ArtifactResponse
// root, then each Assertion directly inside that Response. The first
// candidate carrying a direct ds:Signature child is the one verified,
// against its own reference ID; a response whose only signature sits on
// the assertion is therefore accepted at the assertion level. For
// messages with no nested structure (LogoutRequest, LogoutResponse) only
// the root applies. When no candidate is signed the returned error wraps
// ErrSignatureMissing, so callers can distinguish absent from invalid.
func (v *XMLVerifier) VerifyEnvelopedSignature(raw []byte) error {
	const op = "saml.XMLVerifier.VerifyEnvelopedSignature"

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(raw); err != nil {
		return fmt.Errorf("%s: failed to parse document: %w", op, err)
	}

	root := doc.Root()

	candidates := []*etree.Element{root}
	inner := root
	if root.Tag == "ArtifactResponse" {
		if resp := firstChildElement(root, "Response"); resp != nil {
			candidates = append(candidates, resp)
			inner = resp
		}
	}
	for _, child := range inner.ChildElements() {
		if child.Tag == "Assertion" {
			candidates = append(candidates, child)
		}
	}

	for _, el := range candidates {
		if !hasEnvelopedSignature(el) {
			continue
		}
		if _, err := v.ctx.Validate(el); err != nil {
			return fmt.Errorf("%s: signature validation failed on %s: %w", op, el.Tag, ErrSignatureInvalid)
		}
		return nil
	}

	return fmt.Errorf("%s: no enveloped signature found: %w", op, ErrSignatureMissing)
}

func firstChildElement(el *etree.Element, tag string) *etree.Element {
	for _, child := range el.ChildElements() {
		if child.Tag == tag {
			return child
		}
	}
	return nil
}

// hasEnvelopedSignature reports whether el carries a ds:Signature as a
// direct child, i.e. an enveloped signature over el itself rather than one
// belonging to a nested element.
func hasEnvelopedSignature(el *etree.Element) bool {
	for _, child := range el.ChildElements() {
		if child.Tag == "Signature" && child.NamespaceURI() == xmldsigNS {
			return true
		}
	}
	return false
}

// VerifyDocument validates the enveloped signature in raw and returns the
// validated (designated) element's canonicalized form, stripped of the
// signature. Callers should parse the returned bytes rather than the
// original raw input, so that post-validation parsing can't be fooled by
// content the signature doesn't cover.
func (v *XMLVerifier) VerifyDocument(raw []byte) ([]byte, error) {
	const op = "saml.XMLVerifier.VerifyDocument"

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(raw); err != nil {
		return nil, fmt.Errorf("%s: failed to parse document: %w", op, err)
	}

	validated, err := v.ctx.Validate(doc.Root())
	if err != nil {
		return nil, fmt.Errorf("%s: signature validation failed: %w", op, ErrSignatureInvalid)
	}

	out := etree.NewDocument()
	out.SetRoot(validated)

	result, err := out.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("%s: failed to serialize validated document: %w", op, err)
	}

	return result, nil
}
