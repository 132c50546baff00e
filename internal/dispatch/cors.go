package dispatch

import (
	"net/http"
	"strings"
)

// Default header values applied when a CORS config leaves the
// corresponding list empty.
var (
	defaultAllowMethods = []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"}
	defaultAllowHeaders = []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"}
)

// CORSConfig describes the cross-origin policy the server decorates
// every response with. A nil config disables CORS handling entirely:
// responses pass through unmodified and OPTIONS requests are routed
// like any other method.
type CORSConfig struct {
	// Origins is the allow list. Empty means "*". A single entry is
	// always echoed as-is regardless of the request origin. With
	// multiple entries the request origin is echoed when it is in the
	// list, otherwise the first entry is used as the fallback.
	Origins []string

	// Methods and Headers populate the Allow-Methods/Allow-Headers
	// responses; defaults apply when empty.
	Methods []string
	Headers []string

	// Credentials sets Access-Control-Allow-Credentials when true.
	Credentials bool
}

// ResolveOrigin maps the request's Origin header value to the
// Allow-Origin value under this policy.
func (c *CORSConfig) ResolveOrigin(requestOrigin string) string {
	switch len(c.Origins) {
	case 0:
		return "*"
	case 1:
		return c.Origins[0]
	}
	for _, o := range c.Origins {
		if o == requestOrigin {
			return o
		}
	}
	return c.Origins[0]
}

// Apply decorates h with the CORS headers for a request carrying the
// given Origin value. The server calls this on every outgoing
// response, error responses included.
func (c *CORSConfig) Apply(h http.Header, requestOrigin string) {
	h.Set("Access-Control-Allow-Origin", c.ResolveOrigin(requestOrigin))

	methods := c.Methods
	if len(methods) == 0 {
		methods = defaultAllowMethods
	}
	h.Set("Access-Control-Allow-Methods", strings.Join(methods, ", "))

	headers := c.Headers
	if len(headers) == 0 {
		headers = defaultAllowHeaders
	}
	h.Set("Access-Control-Allow-Headers", strings.Join(headers, ", "))

	if c.Credentials {
		h.Set("Access-Control-Allow-Credentials", "true")
	}
}
