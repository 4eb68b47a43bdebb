package saml

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha1" //nolint:gosec // SourceID is a SAML-mandated SHA-1 digest, not a security boundary.
	"encoding/base64"
	"encoding/binary"
	"encoding/xml"
	"fmt"
	"io"

	"github.com/beevik/etree"

	"github.com/samlkit/samlsp/models/core"
)

// artifactTypeCode is the only TypeCode value defined by SAML2 for the
// HTTP-Artifact binding (SAML_artifact type 0x0004).
// See 3.5.3 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
var artifactTypeCode = [2]byte{0x00, 0x04}

const (
	artifactSourceIDLen      = 20
	artifactMessageHandleLen = 20
	artifactRawLen           = 2 + 2 + artifactSourceIDLen + artifactMessageHandleLen
)

// Artifact is the decoded form of a SAML_artifact: a 44-byte value naming
// the IdP endpoint that issued it (via a SHA-1 SourceID of its entity ID)
// and an opaque handle the IdP uses to locate the real message.
type Artifact struct {
	EndpointIndex uint16
	SourceID      [artifactSourceIDLen]byte
	MessageHandle [artifactMessageHandleLen]byte
}

// SourceIDForEntityID computes the SourceID an IdP uses in artifacts it
// issues, per 3.5.3: the SHA-1 hash of the entity ID as a string.
func SourceIDForEntityID(entityID string) [artifactSourceIDLen]byte {
	return sha1.Sum([]byte(entityID)) //nolint:gosec
}

// NewArtifact builds an artifact for the given IdP entity ID and endpoint
// index, with a freshly generated random message handle.
func NewArtifact(idpEntityID string, endpointIndex uint16) (*Artifact, error) {
	const op = "saml.NewArtifact"

	var handle [artifactMessageHandleLen]byte
	if _, err := io.ReadFull(rand.Reader, handle[:]); err != nil {
		return nil, fmt.Errorf("%s: failed to generate message handle: %w", op, err)
	}

	return &Artifact{
		EndpointIndex: endpointIndex,
		SourceID:      SourceIDForEntityID(idpEntityID),
		MessageHandle: handle,
	}, nil
}

// Encode returns the base64 wire representation of the artifact.
func (a *Artifact) Encode() string {
	buf := make([]byte, 0, artifactRawLen)
	buf = append(buf, artifactTypeCode[:]...)

	var idx [2]byte
	binary.BigEndian.PutUint16(idx[:], a.EndpointIndex)
	buf = append(buf, idx[:]...)

	buf = append(buf, a.SourceID[:]...)
	buf = append(buf, a.MessageHandle[:]...)

	return base64.StdEncoding.EncodeToString(buf)
}

// DecodeArtifact parses the base64 wire representation of a SAML artifact.
func DecodeArtifact(encoded string) (*Artifact, error) {
	const op = "saml.DecodeArtifact"

	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%s: invalid base64: %w", op, err)
	}

	if len(raw) != artifactRawLen {
		return nil, fmt.Errorf("%s: expected %d raw bytes, got %d", op, artifactRawLen, len(raw))
	}

	if !bytes.Equal(raw[0:2], artifactTypeCode[:]) {
		return nil, fmt.Errorf("%s: unsupported artifact type code", op)
	}

	a := &Artifact{
		EndpointIndex: binary.BigEndian.Uint16(raw[2:4]),
	}
	copy(a.SourceID[:], raw[4:4+artifactSourceIDLen])
	copy(a.MessageHandle[:], raw[4+artifactSourceIDLen:])

	return a, nil
}

// MatchesIdP reports whether the artifact's SourceID matches idpEntityID,
// i.e. whether this artifact was plausibly issued by that IdP.
func (a *Artifact) MatchesIdP(idpEntityID string) bool {
	want := SourceIDForEntityID(idpEntityID)
	return bytes.Equal(a.SourceID[:], want[:])
}

// ArtifactResolver dereferences SAML artifacts received over a front
// channel into their real protocol messages via the IdP's SOAP artifact
// resolution service.
type ArtifactResolver struct {
	sp *ServiceProvider
}

// NewArtifactResolver builds a resolver bound to sp's configuration and
// (if wired) MetadataStore.
func NewArtifactResolver(sp *ServiceProvider) *ArtifactResolver {
	return &ArtifactResolver{sp: sp}
}

// IdPEntityIDForArtifact identifies which trusted IdP issued the encoded
// artifact by comparing its SourceID against the SHA-1 of every entity ID
// the wired MetadataStore knows.
func (r *ArtifactResolver) IdPEntityIDForArtifact(encoded string) (string, error) {
	const op = "saml.ArtifactResolver.IdPEntityIDForArtifact"

	a, err := DecodeArtifact(encoded)
	if err != nil {
		return "", E(op, KindMalformedMessage, "failed to decode artifact", WithCause(err))
	}

	store := r.sp.store
	if store == nil {
		return "", E(op, KindConfiguration, "artifact source lookup requires a MetadataStore")
	}

	for _, entityID := range store.EntityIDs() {
		if a.MatchesIdP(entityID) {
			return entityID, nil
		}
	}

	return "", E(op, KindUnknownIssuer, "artifact SourceID matches no trusted IdP")
}

// Resolve sends an ArtifactResolve SOAP request to idpEntityID's artifact
// resolution service and returns the parsed ArtifactResponse. requestID is
// the fresh ID to issue the ArtifactResolve under; the returned
// ArtifactResponse's InResponseTo must name it.
func (r *ArtifactResolver) Resolve(ctx context.Context, idpEntityID, artifact, requestID string) (*core.ArtifactResponse, error) {
	ar, _, err := r.resolveWithRaw(ctx, idpEntityID, artifact, requestID)
	return ar, err
}

// resolveWithRaw is Resolve, additionally returning the raw XML bytes of
// the unwrapped ArtifactResponse so callers can verify its XML signature -
// core.ArtifactResponse carries no dedicated Signature field of its own.
func (r *ArtifactResolver) resolveWithRaw(ctx context.Context, idpEntityID, artifact, requestID string) (*core.ArtifactResponse, []byte, error) {
	const op = "saml.ArtifactResolver.Resolve"

	a, err := DecodeArtifact(artifact)
	if err != nil {
		return nil, nil, E(op, KindMalformedMessage, "failed to decode artifact", WithCause(err))
	}

	idp, err := r.sp.idpMetadata(idpEntityID)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: failed to resolve idp metadata: %w", op, err)
	}

	// The artifact names the resolution endpoint by index; fall back to the
	// IdP's default service when that index isn't advertised.
	destination, ok := idp.GetArtifactResolutionServiceByIndex(int(a.EndpointIndex))
	if !ok {
		destination, ok = idp.GetDefaultArtifactResolutionService()
	}
	if !ok {
		return nil, nil, fmt.Errorf(
			"%s: idp %q advertises no artifact resolution service: %w",
			op, idpEntityID, ErrBindingUnsupported,
		)
	}

	if requestID == "" {
		requestID, err = r.sp.cfg.GenerateAuthRequestID()
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	resolve := &core.ArtifactResolve{Artifact: artifact}
	resolve.ID = requestID
	resolve.Version = core.SAMLVersion2
	resolve.IssueInstant = r.sp.cfg.clockOrDefault().Now().UTC()
	resolve.Destination = destination
	resolve.Issuer = &core.Issuer{}
	resolve.Issuer.Value = r.sp.cfg.EntityID.String()

	body, err := resolve.CreateXMLDocument(0)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: failed to marshal ArtifactResolve: %w", op, err)
	}

	envelope, err := wrapSOAPEnvelope(body)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	raw, err := r.sp.soapPost(ctx, op, destination, envelope)
	if err != nil {
		return nil, nil, err
	}

	respElem, err := extractSOAPBodyChild(raw)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	respDoc := etree.NewDocument()
	respDoc.SetRoot(respElem.Copy())
	respXML, err := respDoc.WriteToBytes()
	if err != nil {
		return nil, nil, fmt.Errorf("%s: failed to serialize ArtifactResponse: %w", op, err)
	}

	var ar core.ArtifactResponse
	if err := xml.Unmarshal(respXML, &ar); err != nil {
		return nil, nil, E(op, KindMalformedMessage, "failed to parse ArtifactResponse", WithCause(err), WithRawXML(respXML))
	}

	// The resolve/response exchange is synchronous on one connection, but
	// the IdP still has to prove it answered this request and not another.
	if ar.InResponseTo != requestID {
		return nil, nil, E(op, KindCorrelationMismatch,
			"ArtifactResponse InResponseTo does not match the ArtifactResolve ID", WithRawXML(respXML))
	}

	return &ar, respXML, nil
}
