package saml

import (
	"crypto/x509"
	"errors"
	"time"

	"github.com/samlkit/samlsp/models/core"
)

// ValidationContext carries everything the Validator's fixed step order
// needs to check a single inbound message (a LogoutResponse, LogoutRequest,
// or ArtifactResponse). Steps that don't apply to a given message are
// skipped rather than failed: a LogoutRequest has no audience restriction
// to check, for instance.
type ValidationContext struct {
	// RawXML is the signed document bytes, used only for error reporting.
	RawXML []byte

	// Verify, if non-nil, is called to check the message's signature. An
	// error wrapping ErrSignatureMissing means the message carried no
	// signature at all, which is only fatal when RequireSignature is set;
	// any other error is a present-but-invalid signature. A nil Verify
	// means no verifier could be built (e.g. the IdP advertises no signing
	// certificates), acceptable only when RequireSignature is false.
	Verify func() error

	// RequireSignature makes a nil Verify a hard failure instead of a
	// silent pass, tagged KindSignatureMissing. Set this whenever neither
	// the document nor the transport carries a verified signature, so an
	// unsigned message can never be mistaken for a validated one.
	RequireSignature bool

	IssuerEntityID string
	KnownIssuer    func(entityID string) bool

	StatusCode core.StatusCodeType

	NotBefore    time.Time
	NotOnOrAfter time.Time
	Now          time.Time

	// Skew widens the validity window on both ends, absorbing clock drift
	// between the SP and the IdP: the message is accepted when
	// now >= NotBefore-Skew and now < NotOnOrAfter+Skew.
	Skew time.Duration

	Audience        string
	AudienceAllowed []string

	SPEntityID  string
	IdPEntityID string
	Circles     []CircleOfTrust

	InResponseTo      string
	ExpectedBucketKey string
	CorrelationCache  *RequestCorrelationCache
}

// Validator runs the SP's fixed, short-circuiting validation sequence
// against a ValidationContext: signature, issuer, status, time window,
// audience, circle of trust, then InResponseTo correlation. Whatever
// happens, it always attempts to consume the correlation cache entry so a
// given request ID can never be presented twice.
type Validator struct{}

// NewValidator returns a Validator. It carries no state of its own; all
// per-message state lives in the ValidationContext passed to Validate.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate runs the fixed step order against ctx, returning the first
// failure encountered (if any) as a tagged *Error.
func (v *Validator) Validate(ctx *ValidationContext) error {
	const op = "saml.Validator.Validate"

	var err error
	defer func() {
		if ctx.CorrelationCache != nil && ctx.InResponseTo != "" {
			ctx.CorrelationCache.Consume(ctx.ExpectedBucketKey, ctx.InResponseTo)
		}
	}()

	if err = v.checkSignature(op, ctx); err != nil {
		return err
	}
	if err = v.checkIssuer(op, ctx); err != nil {
		return err
	}
	if err = v.checkStatus(op, ctx); err != nil {
		return err
	}
	if err = v.checkTimeWindow(op, ctx); err != nil {
		return err
	}
	if err = v.checkAudience(op, ctx); err != nil {
		return err
	}
	if err = v.checkCircleOfTrust(op, ctx); err != nil {
		return err
	}
	if err = v.checkInResponseTo(op, ctx); err != nil {
		return err
	}

	return nil
}

func (v *Validator) checkSignature(op string, ctx *ValidationContext) error {
	if ctx.Verify == nil {
		if ctx.RequireSignature {
			return E(op, KindSignatureMissing, "policy requires a signature but none was presented", WithRawXML(ctx.RawXML))
		}
		return nil
	}
	if err := ctx.Verify(); err != nil {
		// An unsigned message is only a failure when policy demands a
		// signature; a present-but-bad signature always is.
		if errors.Is(err, ErrSignatureMissing) {
			if ctx.RequireSignature {
				return E(op, KindSignatureMissing, "policy requires a signature but none was presented", WithCause(err), WithRawXML(ctx.RawXML))
			}
			return nil
		}
		return E(op, KindSignatureInvalid, "signature verification failed", WithCause(err), WithRawXML(ctx.RawXML))
	}
	return nil
}

func (v *Validator) checkIssuer(op string, ctx *ValidationContext) error {
	if ctx.KnownIssuer == nil {
		return nil
	}
	if ctx.IssuerEntityID == "" || !ctx.KnownIssuer(ctx.IssuerEntityID) {
		return E(op, KindUnknownIssuer, "issuer is not a known IdP", WithRawXML(ctx.RawXML))
	}
	return nil
}

func (v *Validator) checkStatus(op string, ctx *ValidationContext) error {
	if ctx.StatusCode == "" {
		return nil
	}
	if ctx.StatusCode != core.StatusCodeSuccess {
		return E(op, KindResponderFailure, "idp reported a non-success status",
			WithStatusCode(string(ctx.StatusCode)), WithRawXML(ctx.RawXML))
	}
	return nil
}

func (v *Validator) checkTimeWindow(op string, ctx *ValidationContext) error {
	if ctx.NotBefore.IsZero() && ctx.NotOnOrAfter.IsZero() {
		return nil
	}
	now := ctx.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	if !ctx.NotBefore.IsZero() && now.Before(ctx.NotBefore.Add(-ctx.Skew)) {
		return E(op, KindAssertionExpiredOrNotYetValid, "message is not yet valid", WithRawXML(ctx.RawXML))
	}
	if !ctx.NotOnOrAfter.IsZero() && !now.Before(ctx.NotOnOrAfter.Add(ctx.Skew)) {
		return E(op, KindAssertionExpiredOrNotYetValid, "message has expired", WithRawXML(ctx.RawXML))
	}
	return nil
}

func (v *Validator) checkAudience(op string, ctx *ValidationContext) error {
	if ctx.Audience == "" || len(ctx.AudienceAllowed) == 0 {
		return nil
	}
	for _, a := range ctx.AudienceAllowed {
		if a == ctx.Audience {
			return nil
		}
	}
	return E(op, KindAudienceMismatch, "audience restriction does not include this SP", WithRawXML(ctx.RawXML))
}

func (v *Validator) checkCircleOfTrust(op string, ctx *ValidationContext) error {
	if ctx.SPEntityID == "" || ctx.IdPEntityID == "" || ctx.Circles == nil {
		return nil
	}
	if !AnyContains(ctx.Circles, ctx.SPEntityID, ctx.IdPEntityID) {
		return E(op, KindNotInCircleOfTrust, "idp and sp do not share a circle of trust", WithRawXML(ctx.RawXML))
	}
	return nil
}

func (v *Validator) checkInResponseTo(op string, ctx *ValidationContext) error {
	if ctx.InResponseTo == "" || ctx.CorrelationCache == nil {
		return nil
	}
	if !ctx.CorrelationCache.Contains(ctx.ExpectedBucketKey, ctx.InResponseTo) {
		return E(op, KindCorrelationMismatch, "InResponseTo does not match an outstanding request", WithRawXML(ctx.RawXML))
	}
	return nil
}

// CertificatesFromKeyDescriptors extracts the signing certificates from a
// list of key descriptors whose Use is "" or "signing".
func CertificatesFromKeyDescriptors(certs []string) ([]*x509.Certificate, error) {
	out := make([]*x509.Certificate, 0, len(certs))
	for _, c := range certs {
		parsed, err := parseCert(c)
		if err != nil {
			return nil, err
		}
		out = append(out, parsed)
	}
	return out, nil
}
