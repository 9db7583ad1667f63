package middleware

// contextKey is the type for context keys used by this package's
// middleware, kept unexported to avoid collisions with other packages'
// context keys.
type contextKey string

const (
	// RequestIDContextKey is the context key for the per-request ID.
	RequestIDContextKey contextKey = "request_id"
)

// RequestIDHeader is the header name carrying the request ID, both inbound
// (if the client supplies one) and outbound (always set on the response).
const RequestIDHeader = "X-Request-ID"
