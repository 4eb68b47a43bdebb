package saml

import (
	"encoding/xml"
	"fmt"

	"github.com/samlkit/samlsp/models/metadata"
)

// GetExportableMetadata renders the service provider's metadata document.
// When signMetadata is true the document gets a freshly generated ID and
// is signed with the certificate resolved from the SP's
// SigningCertificateAlias; a missing alias or certificate store is a
// configuration error. Options accepted are the same as CreateMetadata
// (InsecureWantAssertionsUnsigned, WithNameIDFormats,
// WithACSServiceBinding, WithAdditionalACSEndpoint).
func (sp *ServiceProvider) GetExportableMetadata(signMetadata bool, opt ...Option) ([]byte, error) {
	const op = "saml.ServiceProvider.GetExportableMetadata"

	spsso := sp.CreateMetadata(opt...)

	if !signMetadata {
		raw, err := xml.MarshalIndent(spsso, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("%s: failed to marshal metadata: %w", op, err)
		}
		return raw, nil
	}

	signingCert, err := sp.signingCertificate(op)
	if err != nil {
		return nil, err
	}

	// A signed export carries a fresh document ID every time, so a captured
	// signature can never be replayed onto a different export.
	id, err := sp.cfg.GenerateAuthRequestID()
	if err != nil {
		return nil, fmt.Errorf("%s: failed to generate document ID: %w", op, err)
	}
	spsso.ID = id

	ext := sp.cfg.extendedOrDefault()
	signer, err := NewXMLSigner(*signingCert, ext.DigestMethodOrDefault(), ext.SignatureMethodOrDefault())
	if err != nil {
		return nil, fmt.Errorf("%s: failed to build signer: %w", op, err)
	}

	signed, err := signer.SignMessage(spsso)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to sign metadata: %w", op, err)
	}

	return signed, nil
}

// ParseIdPMetadata parses a raw IdP metadata document, the same shape
// FetchMetadata produces from an HTTP fetch, for callers building a
// MetadataStore from documents obtained out of band (files, a config
// management system, etc).
func ParseIdPMetadata(raw []byte) (*metadata.EntityDescriptorIDPSSO, error) {
	const op = "saml.ParseIdPMetadata"

	var ed metadata.EntityDescriptorIDPSSO
	if err := xml.Unmarshal(raw, &ed); err != nil {
		return nil, fmt.Errorf("%s: failed to parse metadata XML: %w", op, err)
	}

	return &ed, nil
}
