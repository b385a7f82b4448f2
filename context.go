package hostauth

import "context"

// requestOrigin is where a call came from. The Engine stamps it onto
// security events, session records and the last-login fields.
type requestOrigin struct {
	ip        string
	userAgent string
}

type originKey struct{}

func originFrom(ctx context.Context) requestOrigin {
	if ctx == nil {
		return requestOrigin{}
	}
	o, _ := ctx.Value(originKey{}).(requestOrigin)
	return o
}

// WithClientIP returns ctx carrying the caller's IP address.
func WithClientIP(ctx context.Context, ip string) context.Context {
	o := originFrom(ctx)
	o.ip = ip
	return context.WithValue(ctx, originKey{}, o)
}

// WithUserAgent returns ctx carrying the caller's User-Agent.
func WithUserAgent(ctx context.Context, userAgent string) context.Context {
	o := originFrom(ctx)
	o.userAgent = userAgent
	return context.WithValue(ctx, originKey{}, o)
}

func ClientIPFromContext(ctx context.Context) string { return originFrom(ctx).ip }

func UserAgentFromContext(ctx context.Context) string { return originFrom(ctx).userAgent }
