package handler

import (
	"fmt"
	"net/http"

	"github.com/samlkit/samlsp"
)

// RedirectBindingHandlerFunc creates a handler function that initiates SSO
// via the HTTP-Redirect binding. userBucketOf derives the correlation-cache
// bucket key the issued request ID is tracked under.
func RedirectBindingHandlerFunc(sp *saml.ServiceProvider, userBucketOf func(*http.Request) string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		relayState := r.URL.Query().Get("RelayState")

		redirectURL, _, err := sp.AuthnRequestRedirect(userBucketOf(r), relayState)
		if err != nil {
			http.Error(
				w,
				fmt.Sprintf("failed to create SAML Authn Request: %s", err.Error()),
				http.StatusInternalServerError,
			)
			return
		}

		http.Redirect(w, r, redirectURL.String(), http.StatusFound)
	}
}
