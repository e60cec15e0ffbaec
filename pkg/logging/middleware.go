package logging

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// RequestIDHeader is read from incoming requests and echoed on responses.
const RequestIDHeader = "X-Request-ID"

// HTTPMiddleware assigns each request an ID, stores it and logger in the
// request context, and logs the start and completion of the request.
// Completion of a 5xx logs at error. Paths under a quiet prefix, such as
// static assets, log at debug.
func HTTPMiddleware(logger *Logger, quietPrefixes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			id := r.Header.Get(RequestIDHeader)
			if id == "" {
				id = uuid.NewString()
			}
			w.Header().Set(RequestIDHeader, id)
			r = r.WithContext(WithLogger(WithRequestID(r.Context(), id), logger))

			quiet := quietPath(r.URL.Path, quietPrefixes)
			reqLog := logger.zlog.With().
				Str(RequestID, id).
				Str(Method, r.Method).
				Str(Path, r.URL.Path).
				Logger()

			reqLog.WithLevel(levelFor(0, quiet)).
				Str("remote_addr", r.RemoteAddr).
				Msg("request started")

			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rw, r)

			reqLog.WithLevel(levelFor(rw.statusCode, quiet)).
				Int(StatusCode, rw.statusCode).
				Int64(Duration, time.Since(start).Milliseconds()).
				Msg("request completed")
		})
	}
}

func levelFor(status int, quiet bool) zerolog.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return zerolog.ErrorLevel
	case quiet:
		return zerolog.DebugLevel
	default:
		return zerolog.InfoLevel
	}
}

func quietPath(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if p != "" && strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if rw.written {
		return
	}
	rw.statusCode = code
	rw.written = true
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.WriteHeader(http.StatusOK)
	return rw.ResponseWriter.Write(b)
}

func (rw *responseWriter) Unwrap() http.ResponseWriter { return rw.ResponseWriter }
