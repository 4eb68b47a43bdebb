package saml

import (
	"fmt"
	"net/url"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-uuid"
	"github.com/jonboulle/clockwork"
)

// Back-channel (SOAP) calls block the inbound request that triggered them,
// so they carry a default timeout and a hard ceiling a caller-supplied
// value is clamped to.
const (
	DefaultBackChannelTimeout = 30 * time.Second
	MaxBackChannelTimeout     = 120 * time.Second
)

type ValidUntilFunc func() time.Time

type GenerateAuthRequestIDFunc func() (string, error)

// Config is the service provider's required wiring: its own identity, the
// endpoint it expects authentication responses at, and where to find its
// circle of trust's IdP metadata.
type Config struct {
	// AssertionConsumerServiceURL defines the endpoint at the SP where the IDP
	// will redirect to with its authentication response. (required)
	AssertionConsumerServiceURL *url.URL

	// EntityID is a globally unique identifier of the service provider. (required)
	EntityID *url.URL

	// Issuer is a globally unique identifier the SP uses as Issuer on
	// outbound requests. (required)
	Issuer *url.URL

	// MetadataURL is the endpoint an IDP serves its metadata XML document. (required)
	MetadataURL *url.URL

	// ValidUntil is a function that defines until the generated service provider metadata
	// document is valid.
	ValidUntil ValidUntilFunc

	// GenerateAuthRequestID generates a XSD:ID conform ID.
	GenerateAuthRequestID GenerateAuthRequestIDFunc

	// Extended carries the ExtendedConfig knobs (signing aliases, time skew,
	// RelayState whitelist, AuthnContextClassRef map). May be nil, in which
	// case ExtendedConfigDefault() applies.
	Extended *ExtendedConfig

	// Clock is used for IssueInstant and time-window validation. Defaults to
	// the real clock; tests inject a clockwork.FakeClock.
	Clock clockwork.Clock

	// BackChannelTimeout bounds outbound SOAP calls (artifact resolution,
	// SOAP logout). Zero means DefaultBackChannelTimeout; values above
	// MaxBackChannelTimeout are clamped to it.
	BackChannelTimeout time.Duration

	// Logger receives debug/error records for back-channel exchanges. Nil
	// means a null logger; the package writes nothing anywhere else.
	Logger hclog.Logger
}

// NewConfig creates a new SAML Config.
func NewConfig(entityID, acs, issuer, metadataURL *url.URL) (*Config, error) {
	const op = "saml.NewConfig"

	cfg := &Config{
		EntityID:                    entityID,
		Issuer:                      issuer,
		AssertionConsumerServiceURL: acs,
		MetadataURL:                 metadataURL,

		ValidUntil:            DefaultValidUntil,
		GenerateAuthRequestID: GenerateAuthRequestID,
		Clock:                 clockwork.NewRealClock(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: invalid provider config: %w", op, err)
	}

	return cfg, nil
}

// GenerateAuthRequestID generates an auth XSD:ID conform ID.
// A UUID prefixed with an underscore.
func GenerateAuthRequestID() (string, error) {
	newID, err := uuid.GenerateUUID()
	if err != nil {
		return "", err
	}

	// Request IDs have to be xsd:ID, which means they need to start with an underscore or letter,
	// which is not always given for UUIDs.
	return fmt.Sprintf("_%s", newID), nil
}

// Validate validates the provided configuration.
func (c *Config) Validate() error {
	const op = "saml.Config.Validate"

	if c.AssertionConsumerServiceURL == nil {
		return fmt.Errorf("%s: ACS URL not set: %w", op, ErrInvalidParameter)
	}

	if c.EntityID == nil {
		return fmt.Errorf("%s: EntityID not set: %w", op, ErrInvalidParameter)
	}

	if c.Issuer == nil {
		return fmt.Errorf("%s: Issuer not set: %w", op, ErrInvalidParameter)
	}

	if c.MetadataURL == nil {
		return fmt.Errorf("%s: Metadata URL not set: %w", op, ErrInvalidParameter)
	}

	if c.ValidUntil == nil {
		return fmt.Errorf("%s: ValidUntil func not provided: %w", op, ErrInvalidParameter)
	}

	if c.GenerateAuthRequestID == nil {
		return fmt.Errorf(
			"%s: GenerateAuthRequestID func not provided: %w",
			op,
			ErrInvalidParameter,
		)
	}

	if c.Extended != nil {
		if err := c.Extended.Validate(); err != nil {
			return fmt.Errorf("%s: invalid extended config: %w", op, err)
		}
	}

	return nil
}

// extendedOrDefault returns c.Extended, or a default ExtendedConfig when unset.
func (c *Config) extendedOrDefault() *ExtendedConfig {
	if c.Extended != nil {
		return c.Extended
	}
	return ExtendedConfigDefault()
}

// clockOrDefault returns c.Clock, or a real clock when unset.
func (c *Config) clockOrDefault() clockwork.Clock {
	if c.Clock != nil {
		return c.Clock
	}
	return clockwork.NewRealClock()
}

// backChannelTimeout returns the configured back-channel timeout, defaulted
// and clamped to the package ceiling.
func (c *Config) backChannelTimeout() time.Duration {
	switch {
	case c.BackChannelTimeout <= 0:
		return DefaultBackChannelTimeout
	case c.BackChannelTimeout > MaxBackChannelTimeout:
		return MaxBackChannelTimeout
	default:
		return c.BackChannelTimeout
	}
}

// loggerOrDefault returns c.Logger, or a null logger when unset.
func (c *Config) loggerOrDefault() hclog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return hclog.NewNullLogger()
}

// DefaultValidUntil
func DefaultValidUntil() time.Time {
	return time.Now().Add(time.Hour * 24 * 365)
}
