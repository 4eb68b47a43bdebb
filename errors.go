package saml

import (
	"errors"
	"fmt"
)

// Kind tags every failure the SP surfaces to the host, so the host can map
// it to an HTTP status without string-matching error text.
type Kind string

const (
	KindConfiguration                 Kind = "configuration_error"
	KindMalformedMessage              Kind = "malformed_message"
	KindSignatureMissing              Kind = "signature_missing"
	KindSignatureInvalid              Kind = "signature_invalid"
	KindUnknownIssuer                 Kind = "unknown_issuer"
	KindNotInCircleOfTrust            Kind = "not_in_circle_of_trust"
	KindAssertionExpiredOrNotYetValid Kind = "assertion_expired_or_not_yet_valid"
	KindAudienceMismatch              Kind = "audience_mismatch"
	KindResponderFailure              Kind = "responder_failure"
	KindCorrelationMismatch           Kind = "correlation_mismatch"
	KindRelayStateRejected            Kind = "relay_state_rejected"
	KindBackChannelError              Kind = "back_channel_error"
	KindCancelled                     Kind = "cancelled"
	KindInternal                      Kind = "internal_error"
)

var (
	ErrInternal         = errors.New("internal error")
	ErrInvalidParameter = errors.New("invalid parameter")
)

// Error is the single tagged failure type returned by every validation and
// orchestration path in this package. It replaces exception-as-control-flow
// with one switchable type: hosts branch on Kind, log sinks read RawXML.
type Error struct {
	Op     string
	Kind   Kind
	Msg    string
	Err    error
	RawXML []byte

	// StatusCode carries the IdP-reported status for KindResponderFailure.
	StatusCode string
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same Kind as e, so
// errors.Is(err, &saml.Error{Kind: saml.KindUnknownIssuer}) matches any
// wrapped *Error of that Kind. KindOf is the direct way to read the Kind.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return other.Kind == e.Kind
	}
	return false
}

// E builds an *Error. opts may set RawXML/StatusCode/cause via the With*
// helpers below.
func E(op string, kind Kind, msg string, opts ...ErrOption) *Error {
	e := &Error{Op: op, Kind: kind, Msg: msg}
	for _, o := range opts {
		o(e)
	}
	return e
}

type ErrOption func(*Error)

func WithCause(err error) ErrOption {
	return func(e *Error) { e.Err = err }
}

func WithRawXML(raw []byte) ErrOption {
	return func(e *Error) { e.RawXML = raw }
}

func WithStatusCode(code string) ErrOption {
	return func(e *Error) { e.StatusCode = code }
}

// KindOf extracts the Kind of err if it is (or wraps) a *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
