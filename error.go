package saml

import "errors"

// Sentinel causes wrapped by *Error via WithCause; kept as distinct values
// so callers that pre-date the Kind taxonomy can still errors.Is against
// them directly.
var (
	ErrBindingUnsupported   = errors.New("configured binding unsupported by the IDP")
	ErrInvalidTLSCert       = errors.New("invalid tls certificate")
	ErrMissingAssertions    = errors.New("missing assertions")
	ErrInvalidTime          = errors.New("invalid time")
	ErrInvalidAudience      = errors.New("invalid audience")
	ErrMissingSubject       = errors.New("subject missing")
	ErrMissingAttributeStmt = errors.New("attribute statement missing")
)
