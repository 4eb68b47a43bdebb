package handler

import (
	"net/http"

	"github.com/samlkit/samlsp"
	"github.com/samlkit/samlsp/models/core"
)

// SSOHandlerFunc dispatches to the POST- or Redirect-binding initiator
// handler based on binding. userBucketOf derives the correlation-cache
// bucket key the issued request ID is tracked under.
func SSOHandlerFunc(sp *saml.ServiceProvider, binding core.ServiceBinding, userBucketOf func(*http.Request) string) http.HandlerFunc {
	switch binding {
	case core.ServiceBindingHTTPRedirect:
		return RedirectBindingHandlerFunc(sp, userBucketOf)
	case core.ServiceBindingHTTPPost:
		fallthrough
	default:
		return PostBindingHandlerFunc(sp, userBucketOf)
	}
}
