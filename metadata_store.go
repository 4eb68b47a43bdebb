package saml

import (
	"fmt"
	"sync/atomic"

	"github.com/hashicorp/go-multierror"

	"github.com/samlkit/samlsp/models/metadata"
)

// metadataSnapshot is the immutable data a MetadataStore hands out. Readers
// always see a fully-constructed snapshot; Refresh swaps it atomically so
// in-flight validations never observe a half-updated IdP set.
type metadataSnapshot struct {
	idps    map[string]*metadata.EntityDescriptorIDPSSO
	circles []CircleOfTrust
}

// MetadataStore holds the IdP metadata this SP trusts, keyed by entity ID,
// along with the circles of trust that gate which IdP/SP pairs may
// exchange assertions. It is safe for concurrent use; Refresh replaces the
// whole snapshot rather than mutating it in place.
type MetadataStore struct {
	spEntityID string
	snapshot   atomic.Value // holds *metadataSnapshot
}

// NewMetadataStore builds a MetadataStore from a set of IdP metadata
// documents and circles of trust. Every descriptor that fails to carry an
// EntityID is collected into the returned error via go-multierror rather
// than aborting on the first bad entry.
func NewMetadataStore(
	spEntityID string,
	idps []*metadata.EntityDescriptorIDPSSO,
	circles []CircleOfTrust,
) (*MetadataStore, error) {
	const op = "saml.NewMetadataStore"

	s := &MetadataStore{spEntityID: spEntityID}
	if err := s.Refresh(idps, circles); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return s, nil
}

// Refresh atomically replaces the set of trusted IdP metadata and circles
// of trust. Existing validations in flight keep using the snapshot they
// started with.
func (s *MetadataStore) Refresh(idps []*metadata.EntityDescriptorIDPSSO, circles []CircleOfTrust) error {
	const op = "saml.MetadataStore.Refresh"

	var result *multierror.Error

	idx := make(map[string]*metadata.EntityDescriptorIDPSSO, len(idps))
	for i, idp := range idps {
		if idp == nil {
			result = multierror.Append(result, fmt.Errorf("idp at index %d is nil", i))
			continue
		}
		if idp.EntityID == "" {
			result = multierror.Append(result, fmt.Errorf("idp at index %d has no EntityID", i))
			continue
		}
		idx[idp.EntityID] = idp
	}

	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	snap := &metadataSnapshot{idps: idx, circles: circles}
	s.snapshot.Store(snap)
	return nil
}

func (s *MetadataStore) current() *metadataSnapshot {
	v, _ := s.snapshot.Load().(*metadataSnapshot)
	if v == nil {
		return &metadataSnapshot{idps: map[string]*metadata.EntityDescriptorIDPSSO{}}
	}
	return v
}

// IdPByEntityID returns the trusted IdP metadata for the given entity ID.
func (s *MetadataStore) IdPByEntityID(entityID string) (*metadata.EntityDescriptorIDPSSO, bool) {
	idp, ok := s.current().idps[entityID]
	return idp, ok
}

// IsTrusted reports whether idpEntityID is known to this store and shares a
// circle of trust with the SP's own entity ID.
func (s *MetadataStore) IsTrusted(idpEntityID string) bool {
	snap := s.current()
	if _, ok := snap.idps[idpEntityID]; !ok {
		return false
	}
	return AnyContains(snap.circles, s.spEntityID, idpEntityID)
}

// EntityIDs returns every IdP entity ID currently trusted by this store,
// irrespective of circle-of-trust membership.
func (s *MetadataStore) EntityIDs() []string {
	snap := s.current()
	ids := make([]string, 0, len(snap.idps))
	for id := range snap.idps {
		ids = append(ids, id)
	}
	return ids
}
