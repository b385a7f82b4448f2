package middleware

import (
	"net"
	"net/http"

	"github.com/MrEthical07/hostauth"
)

// ClientInfo attaches the request's remote address and User-Agent to the
// context. Mount it after chi's RealIP when running behind a proxy.
func ClientInfo(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := hostauth.WithClientIP(r.Context(), remoteIP(r.RemoteAddr))
		ctx = hostauth.WithUserAgent(ctx, r.UserAgent())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func remoteIP(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
