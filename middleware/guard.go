package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/MrEthical07/hostauth"
)

// Mode selects how much a guard verifies.
type Mode int

const (
	// ModeToken verifies the token and the revocation set.
	ModeToken Mode = iota
	// ModeActive also loads the identity and checks its status.
	ModeActive
)

// Verifier is the slice of *hostauth.Engine the guards need.
type Verifier interface {
	VerifySession(ctx context.Context, token string) (*hostauth.Principal, error)
	Authenticate(ctx context.Context, token string) (*hostauth.Principal, error)
}

type principalContextKey struct{}
type tokenContextKey struct{}

// PrincipalFromContext returns the principal stored by a guard.
func PrincipalFromContext(ctx context.Context) (*hostauth.Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(*hostauth.Principal)
	return p, ok
}

// TokenFromContext returns the raw bearer token accepted by a guard.
func TokenFromContext(ctx context.Context) (string, bool) {
	tok, ok := ctx.Value(tokenContextKey{}).(string)
	return tok, ok
}

// WithPrincipal stores p in ctx. Handlers under test use it to skip the
// guard.
func WithPrincipal(ctx context.Context, p *hostauth.Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// Guard returns middleware that admits requests carrying a bearer token v
// accepts under mode. The principal and token are stored in the request
// context for handlers. A missing or rejected token gets 401, an account
// state error 403 and an infrastructure failure 503.
func Guard(v Verifier, mode Mode) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if v == nil {
				unauthorized(w)
				return
			}

			token, ok := BearerToken(r.Header.Get("Authorization"))
			if !ok {
				unauthorized(w)
				return
			}

			var (
				principal *hostauth.Principal
				err       error
			)
			if mode == ModeActive {
				principal, err = v.Authenticate(r.Context(), token)
			} else {
				principal, err = v.VerifySession(r.Context(), token)
			}
			if err != nil {
				reject(w, err)
				return
			}

			ctx := WithPrincipal(r.Context(), principal)
			ctx = context.WithValue(ctx, tokenContextKey{}, token)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func reject(w http.ResponseWriter, err error) {
	switch hostauth.Kind(err) {
	case hostauth.KindAccountState:
		http.Error(w, "forbidden", http.StatusForbidden)
	case hostauth.KindInfrastructure:
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
	default:
		unauthorized(w)
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="hostauth"`)
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}

// BearerToken extracts the token from an Authorization header value. The
// scheme is matched case-insensitively.
func BearerToken(value string) (string, bool) {
	const bearer = "bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}
