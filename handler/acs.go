package handler

import (
	"fmt"
	"net/http"

	"github.com/samlkit/samlsp"
)

// ACSHandlerFunc consumes an HTTP-POST binding AuthnResponse at the
// service provider's AssertionConsumerServiceURL. userBucketOf derives the
// correlation-cache bucket key the issued AuthnRequest ID was tracked
// under. onSuccess, if non-nil, is called with the raw response so the
// caller can run its own validation and establish a session; its return
// value (if non-nil) is written back to the client as an error. A nil
// onSuccess validates the response via GetAuthnResponse directly.
func ACSHandlerFunc(
	sp *saml.ServiceProvider,
	userBucketOf func(*http.Request) string,
	onSuccess func(http.ResponseWriter, *http.Request, *saml.ServiceProvider, string) error,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "failed to parse form", http.StatusBadRequest)
			return
		}

		samlResp := r.PostForm.Get("SAMLResponse")
		if samlResp == "" {
			http.Error(w, "missing SAMLResponse", http.StatusBadRequest)
			return
		}

		if onSuccess == nil {
			params := saml.GetAuthnResponseParams{
				SAMLResponse: samlResp,
				RelayState:   r.PostForm.Get("RelayState"),
			}
			if _, err := sp.GetAuthnResponse(r.Context(), userBucketOf(r), params); err != nil {
				http.Error(w, fmt.Sprintf("failed to handle SAML response: %s", err), http.StatusUnauthorized)
				return
			}
			fmt.Fprint(w, "Authenticated!")
			return
		}

		if err := onSuccess(w, r, sp, samlResp); err != nil {
			http.Error(w, fmt.Sprintf("failed to handle SAML response: %s", err), http.StatusUnauthorized)
		}
	}
}
