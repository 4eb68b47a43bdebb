package handler

import (
	"fmt"
	"net/http"

	"github.com/samlkit/samlsp"
	"github.com/samlkit/samlsp/models/core"
)

// LogoutInitiateHandlerFunc starts a single-logout exchange with idpEntityID
// for the session named by nameID/sessionIndex, via the HTTP-Redirect
// binding. userBucketOf derives the correlation-cache bucket key the issued
// LogoutRequest ID is tracked under.
func LogoutInitiateHandlerFunc(
	sp *saml.ServiceProvider,
	idpEntityID string,
	nameIDFormat core.NameIDFormat,
	sessionOf func(*http.Request) (nameID, sessionIndex string),
	userBucketOf func(*http.Request) string,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		nameID, sessionIndex := sessionOf(r)
		if nameID == "" || sessionIndex == "" {
			http.Error(w, "no active session", http.StatusBadRequest)
			return
		}

		params := saml.LogoutParams{
			Binding:        core.ServiceBindingHTTPRedirect,
			NameIDFormat:   nameIDFormat,
			RedirectSigner: sp.RedirectSigner(),
			UserBucket:     userBucketOf(r),
			SessionIndex:   []string{sessionIndex},
		}

		_, redirectURL, _, err := sp.SendLogoutRequest(r.Context(), idpEntityID, nameID, params)
		if err != nil {
			http.Error(w, fmt.Sprintf("failed to create SAML LogoutRequest: %s", err), http.StatusInternalServerError)
			return
		}

		http.Redirect(w, r, redirectURL.String(), http.StatusFound)
	}
}

// SLOHandlerFunc consumes a LogoutRequest or LogoutResponse delivered over
// HTTP-Redirect at the service provider's single-logout endpoint. Exactly
// one of onLogoutRequest/onLogoutResponse fires, matching whichever message
// arrived. A LogoutRequest is answered with a LogoutResponse carrying the
// status code onLogoutRequest returns; userBucketOf derives the
// correlation-cache bucket key an inbound LogoutResponse is matched against.
func SLOHandlerFunc(
	sp *saml.ServiceProvider,
	idpEntityID string,
	userBucketOf func(*http.Request) string,
	onLogoutRequest func(*http.Request, *core.LogoutRequest) core.StatusCodeType,
	onLogoutResponse func(*http.Request, *core.LogoutResponse) error,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		rawQuery := r.URL.RawQuery

		switch {
		case query.Get("SAMLRequest") != "":
			lr, err := sp.GetLogoutRequest(idpEntityID, core.ServiceBindingHTTPRedirect, query.Get("SAMLRequest"), rawQuery)
			if err != nil {
				http.Error(w, fmt.Sprintf("failed to parse SAML LogoutRequest: %s", err), http.StatusUnauthorized)
				return
			}

			statusCode := onLogoutRequest(r, lr)

			params := saml.LogoutParams{
				Binding:        core.ServiceBindingHTTPRedirect,
				RelayState:     query.Get("RelayState"),
				RedirectSigner: sp.RedirectSigner(),
			}
			_, redirectURL, err := sp.SendLogoutResponse(idpEntityID, lr.ID, statusCode, params)
			if err != nil {
				http.Error(w, fmt.Sprintf("failed to create SAML LogoutResponse: %s", err), http.StatusInternalServerError)
				return
			}

			http.Redirect(w, r, redirectURL.String(), http.StatusFound)

		case query.Get("SAMLResponse") != "":
			resp, err := sp.GetLogoutResponse(idpEntityID, core.ServiceBindingHTTPRedirect, query.Get("SAMLResponse"), rawQuery, userBucketOf(r))
			if err != nil {
				http.Error(w, fmt.Sprintf("failed to parse SAML LogoutResponse: %s", err), http.StatusUnauthorized)
				return
			}

			if err := onLogoutResponse(r, resp); err != nil {
				http.Error(w, fmt.Sprintf("failed to handle logout response: %s", err), http.StatusInternalServerError)
				return
			}

			w.WriteHeader(http.StatusOK)

		default:
			http.Error(w, "missing SAMLRequest or SAMLResponse", http.StatusBadRequest)
		}
	}
}
