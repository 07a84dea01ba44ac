// Package identity authenticates callers of the control surface.
package identity

import (
	"context"
	"crypto/subtle"
	"net"
	"net/http"
	"regexp"
	"strings"
)

const (
	OperatorHeaderName     = "X-Backroom-Operator"
	DefaultOperatorValue   = "operator"
	AnonymousOperatorValue = "anonymous"
)

type contextKey int

const (
	operatorKey contextKey = iota
)

var (
	operatorPattern  = regexp.MustCompile(`^[A-Za-z0-9._@-]{1,64}$`)
	sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)
)

// OperatorFromContext extracts the operator name from the request context.
func OperatorFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(operatorKey).(string); ok {
		return v
	}
	return AnonymousOperatorValue
}

// ValidSessionID reports whether id is safe to use as a session identifier.
func ValidSessionID(id string) bool {
	return sessionIDPattern.MatchString(id)
}

func sanitizeOperator(name string) string {
	name = strings.TrimSpace(name)
	if name == "" || !operatorPattern.MatchString(name) {
		return DefaultOperatorValue
	}
	return name
}

// TokenFromRequest returns the bearer token from the Authorization header,
// falling back to the token query parameter.
func TokenFromRequest(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if scheme, token, ok := strings.Cut(auth, " "); ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(token)
	}
	return r.URL.Query().Get("token")
}

// Middleware guards control endpoints with a shared bearer token. An empty
// token disables the check and marks callers as anonymous.
func Middleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			operator := AnonymousOperatorValue
			if token != "" {
				got := TokenFromRequest(r)
				if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
					w.Header().Set("Content-Type", "application/json")
					w.Header().Set("WWW-Authenticate", `Bearer realm="backroom"`)
					http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
					return
				}
				operator = sanitizeOperator(r.Header.Get(OperatorHeaderName))
			}

			ctx := context.WithValue(r.Context(), operatorKey, operator)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IPFromRequest returns a normalized remote IP for optional request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
