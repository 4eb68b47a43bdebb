package saml

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	dsig "github.com/russellhaering/goxmldsig"
)

// DefaultSignatureMethod and DefaultDigestMethod are used whenever an
// ExtendedConfig or a signing call omits them. Both default to SHA-256;
// legacy IdPs that only accept SHA-1 digests get it via an explicit
// DigestMethod = DigestSHA1, which moves the whole signature to SHA-1.
const (
	DefaultSignatureMethod   = dsig.RSASHA256SignatureMethod
	DefaultDigestMethod      = DigestSHA256
	DefaultAssertionTimeSkew = 15 * time.Second
	defaultAuthLevelLabel    = "default"
)

// AuthnContextClassRefMapping ties a SAML AuthnContextClassRef URI to a
// numeric AuthLevel and a human label, e.g. parsed from the wire form
// "classRef|level|label".
type AuthnContextClassRefMapping struct {
	ClassRef string
	Level    int
	Label    string
}

// ExtendedConfig carries the optional SP-side knobs: signing aliases,
// algorithm selection, assertion time skew, the RelayState whitelist and
// the AuthnContextClassRef/AuthLevel mapping.
type ExtendedConfig struct {
	SigningCertificateAlias    string
	EncryptionCertificateAlias string
	SignatureMethod            string
	DigestMethod               string
	MetaAlias                  string
	AssertionTimeSkew          time.Duration
	RelayStateUrlList          []string

	AuthnContextClassRefMap []AuthnContextClassRefMapping
	DefaultAuthLevelLabel   string

	WantArtifactResponseSigned bool
	WantPOSTResponseSigned     bool
	WantAssertionsSigned       bool
	WantLogoutRequestSigned    bool
	WantLogoutResponseSigned   bool
}

// ExtendedConfigDefault returns the zero-value-safe defaults: RSA-SHA256
// signatures and digests, 15s assertion time skew, and no RelayState
// whitelist entries, meaning every non-empty RelayState is rejected until
// the deployment opts URLs in explicitly.
func ExtendedConfigDefault() *ExtendedConfig {
	return &ExtendedConfig{
		SignatureMethod:   DefaultSignatureMethod,
		DigestMethod:      DefaultDigestMethod,
		AssertionTimeSkew: DefaultAssertionTimeSkew,
	}
}

// Validate checks internal consistency of the extended config.
func (c *ExtendedConfig) Validate() error {
	const op = "saml.ExtendedConfig.Validate"

	if c.AssertionTimeSkew < 0 {
		return fmt.Errorf("%s: assertion time skew must not be negative: %w", op, ErrInvalidParameter)
	}

	seenLabels := map[string]bool{}
	for _, m := range c.AuthnContextClassRefMap {
		if m.ClassRef == "" {
			return fmt.Errorf("%s: authn context class ref mapping missing classRef: %w", op, ErrInvalidParameter)
		}
		seenLabels[m.Label] = true
	}

	if c.DefaultAuthLevelLabel != "" && !seenLabels[c.DefaultAuthLevelLabel] {
		return fmt.Errorf(
			"%s: default auth level label %q not present in AuthnContextClassRefMap: %w",
			op, c.DefaultAuthLevelLabel, ErrInvalidParameter,
		)
	}

	return nil
}

// ParseAuthnContextClassRefMapping parses the wire form "classRef|level|label"
// used by the SP's extended configuration document.
func ParseAuthnContextClassRefMapping(s string) (AuthnContextClassRefMapping, error) {
	const op = "saml.ParseAuthnContextClassRefMapping"

	parts := strings.Split(s, "|")
	if len(parts) != 3 {
		return AuthnContextClassRefMapping{}, fmt.Errorf(
			"%s: expected classRef|level|label, got %q: %w", op, s, ErrInvalidParameter,
		)
	}

	level, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return AuthnContextClassRefMapping{}, fmt.Errorf(
			"%s: invalid auth level %q: %w", op, parts[1], err,
		)
	}

	return AuthnContextClassRefMapping{
		ClassRef: strings.TrimSpace(parts[0]),
		Level:    level,
		Label:    strings.TrimSpace(parts[2]),
	}, nil
}

// ClassRefForLevel returns the AuthnContextClassRef configured for the given
// AuthLevel, falling back to PasswordProtectedTransport when no mapping
// matches.
func (c *ExtendedConfig) ClassRefForLevel(level int) string {
	for _, m := range c.AuthnContextClassRefMap {
		if m.Level == level {
			return m.ClassRef
		}
	}
	return "urn:oasis:names:tc:SAML:2.0:ac:classes:PasswordProtectedTransport"
}

// ClassRefForDefault returns the AuthnContextClassRef for the configured
// default label, or the PasswordProtectedTransport fallback when no default
// is configured.
func (c *ExtendedConfig) ClassRefForDefault() string {
	for _, m := range c.AuthnContextClassRefMap {
		if m.Label == c.DefaultAuthLevelLabel {
			return m.ClassRef
		}
	}
	return "urn:oasis:names:tc:SAML:2.0:ac:classes:PasswordProtectedTransport"
}

// IsRelayStateAllowed reports whether relayState matches an entry of
// RelayStateUrlList by exact string equality.
func (c *ExtendedConfig) IsRelayStateAllowed(relayState string) bool {
	if relayState == "" {
		return true
	}
	for _, allowed := range c.RelayStateUrlList {
		if allowed == relayState {
			return true
		}
	}
	return false
}

// SignatureMethodOrDefault returns m.SignatureMethod, or the package default
// when unset.
func (c *ExtendedConfig) SignatureMethodOrDefault() string {
	if c.SignatureMethod != "" {
		return c.SignatureMethod
	}
	return DefaultSignatureMethod
}

// DigestMethodOrDefault returns m.DigestMethod, or the package default
// when unset.
func (c *ExtendedConfig) DigestMethodOrDefault() string {
	if c.DigestMethod != "" {
		return c.DigestMethod
	}
	return DefaultDigestMethod
}
