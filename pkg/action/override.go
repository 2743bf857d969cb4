package action

import (
	"context"

	"github.com/0x1a0b/mockserver-sub001/pkg/model"
)

// Override returns a copy of req with every field set on override replacing
// the inbound value. Headers and query parameters are replaced per name;
// cookies are replaced as a whole.
func Override(req, override *model.HTTPRequest) *model.HTTPRequest {
	out := req.Clone()
	if override == nil {
		return out
	}
	if !override.Method.IsBlank() {
		out.Method = model.NottableString{Value: override.Method.Value}
	}
	if !override.Path.IsBlank() {
		out.Path = model.NottableString{Value: override.Path.Value}
	}
	for _, e := range override.QueryStringParameters {
		out.QueryStringParameters = out.QueryStringParameters.With(e.Name.Value, false, values(e)...)
	}
	for _, e := range override.Headers {
		out.Headers = out.Headers.With(e.Name.Value, true, values(e)...)
	}
	if len(override.Cookies) > 0 {
		out.Cookies = override.Cookies.Clone()
	}
	if override.Body != nil {
		out.Body = override.Body.Clone()
	}
	if override.Secure != nil {
		secure := *override.Secure
		out.Secure = &secure
	}
	if override.KeepAlive != nil {
		keepAlive := *override.KeepAlive
		out.KeepAlive = &keepAlive
	}
	if sa := override.SocketAddress; sa != nil {
		c := *sa
		out.SocketAddress = &c
		if sa.Host != "" && len(override.Headers.Get("Host", true)) == 0 {
			out.Headers = out.Headers.Without("Host", true)
		}
	}
	return out
}

func values(e model.KeyToMultiValue) []string {
	out := make([]string, 0, len(e.Values))
	for _, v := range e.Values {
		out = append(out, v.Value)
	}
	return out
}

type proxiedKey struct{}

// WithProxied marks ctx as carrying a request that arrived as proxy traffic:
// through CONNECT or SOCKS, in absolute form, or for a host other than this
// server.
func WithProxied(ctx context.Context) context.Context {
	return context.WithValue(ctx, proxiedKey{}, true)
}

// Proxied reports whether ctx was marked by WithProxied.
func Proxied(ctx context.Context) bool {
	v, _ := ctx.Value(proxiedKey{}).(bool)
	return v
}
