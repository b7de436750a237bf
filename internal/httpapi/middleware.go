package httpapi

import (
	"context"
	"crypto/subtle"
	"net/http"

	"github.com/google/uuid"
)

type ctxKey int

const requestIDKey ctxKey = 0

// withRequestID stamps ctx with a fresh request id, used for log correlation
// and as the trace id propagated to downstream spans.
func withRequestID(ctx context.Context) context.Context {
	return context.WithValue(ctx, requestIDKey, uuid.NewString())
}

// RequestID extracts the request id stamped by withRequestID, or "" if none.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// protect wraps h with the bearer-token check: gated by SecureMode,
// comparing in constant time so response latency never leaks how much of
// the token matched.
func (s *Server) protect(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.secureMode {
			h(w, r)
			return
		}
		supplied := bearerFromHeader(r.Header.Get("Authorization"))
		if !constantTimeEqual(supplied, s.bearerToken) {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized", Detail: "missing or invalid bearer token"})
			return
		}
		h(w, r)
	}
}

func bearerFromHeader(authHeader string) string {
	const prefix = "Bearer "
	if len(authHeader) <= len(prefix) || authHeader[:len(prefix)] != prefix {
		return ""
	}
	return authHeader[len(prefix):]
}

// constantTimeEqual reports whether a and b are equal without leaking
// timing information proportional to the length of the matching prefix.
func constantTimeEqual(a, b string) bool {
	if b == "" {
		return false
	}
	if len(a) != len(b) {
		// Still perform a comparison of equal-length buffers so a
		// length-mismatch short-circuit alone can't be timed either.
		subtle.ConstantTimeCompare([]byte(b), []byte(b))
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
