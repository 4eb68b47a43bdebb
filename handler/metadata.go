package handler

import (
	"encoding/xml"
	"net/http"

	"github.com/samlkit/samlsp"
)

// MetadataHandlerFunc serves the service provider's own metadata document.
func MetadataHandlerFunc(sp *saml.ServiceProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		meta := sp.CreateMetadata()
		w.Header().Set("Content-Type", "application/samlmetadata+xml")
		if err := xml.NewEncoder(w).Encode(meta); err != nil {
			http.Error(w, "failed to encode metadata", http.StatusInternalServerError)
		}
	}
}
