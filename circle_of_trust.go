package saml

// CircleOfTrust names a set of entity IDs that have agreed to trust each
// other's assertions. An SP entity ID and an IdP entity ID must appear
// together in at least one circle before the SP will accept that IdP's
// responses.
type CircleOfTrust struct {
	Name      string
	EntityIDs map[string]bool
}

// NewCircleOfTrust builds a CircleOfTrust from a name and its member
// entity IDs.
func NewCircleOfTrust(name string, entityIDs ...string) *CircleOfTrust {
	c := &CircleOfTrust{
		Name:      name,
		EntityIDs: make(map[string]bool, len(entityIDs)),
	}
	for _, id := range entityIDs {
		c.EntityIDs[id] = true
	}
	return c
}

// Contains reports whether both entity IDs are members of this circle.
func (c *CircleOfTrust) Contains(spEntityID, idpEntityID string) bool {
	if c == nil {
		return false
	}
	return c.EntityIDs[spEntityID] && c.EntityIDs[idpEntityID]
}

// AnyContains reports whether spEntityID and idpEntityID are both members
// of at least one of the given circles.
func AnyContains(circles []CircleOfTrust, spEntityID, idpEntityID string) bool {
	for i := range circles {
		if circles[i].Contains(spEntityID, idpEntityID) {
			return true
		}
	}
	return false
}
