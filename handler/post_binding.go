package handler

import (
	"net/http"

	"github.com/samlkit/samlsp"
)

// PostBindingHandlerFunc creates a handler function that initiates SSO via
// the HTTP-POST binding, rendering the auto-submitting form. userBucketOf
// derives the correlation-cache bucket key (typically a session or user ID)
// the issued request ID is tracked under.
func PostBindingHandlerFunc(sp *saml.ServiceProvider, userBucketOf func(*http.Request) string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		relayState := r.URL.Query().Get("RelayState")

		body, _, err := sp.AuthnRequestPost(userBucketOf(r), relayState)
		if err != nil {
			http.Error(w, "Failed to do SAML POST authentication request", http.StatusInternalServerError)
			return
		}

		saml.WritePostBindingRequestHeader(w)

		if _, err := w.Write(body); err != nil {
			http.Error(w, "failed to serve post binding request", http.StatusInternalServerError)
			return
		}
	}
}
