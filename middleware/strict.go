package middleware

import "net/http"

// RequireActive returns middleware that also rejects tokens of suspended or
// banned identities.
func RequireActive(v Verifier) func(http.Handler) http.Handler {
	return Guard(v, ModeActive)
}
