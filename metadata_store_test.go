package saml_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/samlkit/samlsp"
	"github.com/samlkit/samlsp/models/metadata"
)

func idpDescriptor(entityID string) *metadata.EntityDescriptorIDPSSO {
	idp := &metadata.EntityDescriptorIDPSSO{}
	idp.EntityID = entityID
	return idp
}

func Test_MetadataStore_Lookup(t *testing.T) {
	r := require.New(t)

	store, err := saml.NewMetadataStore(
		"sp.example.org",
		[]*metadata.EntityDescriptorIDPSSO{
			idpDescriptor("idp-a.example.org"),
			idpDescriptor("idp-b.example.org"),
		},
		[]saml.CircleOfTrust{
			*saml.NewCircleOfTrust("cot1", "sp.example.org", "idp-a.example.org"),
		},
	)
	r.NoError(err)

	got, ok := store.IdPByEntityID("idp-a.example.org")
	r.True(ok)
	r.Equal("idp-a.example.org", got.EntityID)

	_, ok = store.IdPByEntityID("unknown.example.org")
	r.False(ok)

	r.ElementsMatch([]string{"idp-a.example.org", "idp-b.example.org"}, store.EntityIDs())
}

func Test_MetadataStore_IsTrusted(t *testing.T) {
	r := require.New(t)

	store, err := saml.NewMetadataStore(
		"sp.example.org",
		[]*metadata.EntityDescriptorIDPSSO{
			idpDescriptor("idp-a.example.org"),
			idpDescriptor("idp-b.example.org"),
		},
		[]saml.CircleOfTrust{
			*saml.NewCircleOfTrust("cot1", "sp.example.org", "idp-a.example.org"),
		},
	)
	r.NoError(err)

	r.True(store.IsTrusted("idp-a.example.org"))

	// Known but outside every circle that contains the SP.
	r.False(store.IsTrusted("idp-b.example.org"))

	// Entirely unknown.
	r.False(store.IsTrusted("idp-c.example.org"))
}

func Test_MetadataStore_RefreshSwapsSnapshot(t *testing.T) {
	r := require.New(t)

	store, err := saml.NewMetadataStore(
		"sp.example.org",
		[]*metadata.EntityDescriptorIDPSSO{idpDescriptor("idp-a.example.org")},
		nil,
	)
	r.NoError(err)

	_, ok := store.IdPByEntityID("idp-a.example.org")
	r.True(ok)

	r.NoError(store.Refresh(
		[]*metadata.EntityDescriptorIDPSSO{idpDescriptor("idp-b.example.org")},
		nil,
	))

	_, ok = store.IdPByEntityID("idp-a.example.org")
	r.False(ok, "a refresh must fully replace the previous snapshot")
	_, ok = store.IdPByEntityID("idp-b.example.org")
	r.True(ok)
}

func Test_MetadataStore_AggregatesLoadErrors(t *testing.T) {
	r := require.New(t)

	_, err := saml.NewMetadataStore(
		"sp.example.org",
		[]*metadata.EntityDescriptorIDPSSO{
			nil,
			idpDescriptor(""),
			idpDescriptor("idp-a.example.org"),
		},
		nil,
	)
	r.Error(err)
	r.ErrorContains(err, "idp at index 0 is nil")
	r.ErrorContains(err, "idp at index 1 has no EntityID")
}
