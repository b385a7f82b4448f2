package middleware

import "net/http"

// RequireToken returns middleware that accepts any unexpired, unrevoked
// token without reading the credential store.
func RequireToken(v Verifier) func(http.Handler) http.Handler {
	return Guard(v, ModeToken)
}
