package errors

import (
	"fmt"
	"net/http"
	"runtime/debug"
)

// statusByKind is consulted in order; the first category found in the
// chain decides the status.
var statusByKind = []struct {
	kind   Kind
	status int
}{
	{KindNotFound, http.StatusNotFound},
	{KindInvalidInput, http.StatusBadRequest},
	{KindUnauthorized, http.StatusUnauthorized},
	{KindTemporary, http.StatusServiceUnavailable},
}

// HTTPStatusCode maps err to a response status. An expired deadline that is
// not otherwise categorized is 504; anything else is 500.
func HTTPStatusCode(err error) int {
	if err == nil {
		return http.StatusOK
	}
	for _, s := range statusByKind {
		if Is(err, kindMarker(s.kind)) {
			return s.status
		}
	}
	if IsTimeout(err) {
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// WriteHTTPError writes a plain-text error response with the mapped status.
// Server errors are reported with their status text only, so SQL text or
// connection details never reach the client.
func WriteHTTPError(w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	status := HTTPStatusCode(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		msg = http.StatusText(status)
	}
	http.Error(w, msg, status)
}

// RecoveryFunc turns a recovered panic value into the error to report.
type RecoveryFunc func(p any) error

// DefaultRecoveryFunc reports a panic as a Permanent error carrying the stack.
func DefaultRecoveryFunc(p any) error {
	return NewPermanent(fmt.Sprintf("panic: %v", p), fmt.Errorf("stack:\n%s", debug.Stack()))
}

// RecoveryMiddleware answers a panicking handler with the mapped status
// instead of dropping the connection. http.ErrAbortHandler is re-raised.
// A nil fn means DefaultRecoveryFunc.
func RecoveryMiddleware(fn RecoveryFunc) func(http.Handler) http.Handler {
	if fn == nil {
		fn = DefaultRecoveryFunc
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				p := recover()
				if p == nil {
					return
				}
				if p == http.ErrAbortHandler {
					panic(p)
				}
				WriteHTTPError(w, fn(p))
			}()
			next.ServeHTTP(w, r)
		})
	}
}
