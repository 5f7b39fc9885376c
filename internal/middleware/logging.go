// Package middleware holds the HTTP middleware that wraps every route:
// request logging and Prometheus instrumentation. Access control lives in
// package gate.
//
// Each middleware has the usual shape:
//
//	func(next http.Handler) http.Handler
//
// and does its work around the call to next.ServeHTTP.
package middleware

import (
	"log/slog"
	"net/http"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// statusRecorder remembers the status code and body size a handler wrote.
// http.ResponseWriter exposes neither once they are sent.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += int64(n)
	return n, err
}

// record wraps w unless an outer middleware already did, so Logger and
// Metrics share one recorder.
func record(w http.ResponseWriter) *statusRecorder {
	if sr, ok := w.(*statusRecorder); ok {
		return sr
	}
	return &statusRecorder{ResponseWriter: w, status: http.StatusOK}
}

// quietPaths are polled by probes and scrapers; their requests log at Debug.
var quietPaths = map[string]bool{
	"/healthz": true,
	"/metrics": true,
}

// levelFor picks the log level of a finished request.
//
//	5xx       → Error
//	4xx       → Warn
//	probes    → Debug
//	otherwise → Info
func levelFor(path string, status int) slog.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return slog.LevelError
	case status >= http.StatusBadRequest:
		return slog.LevelWarn
	case quietPaths[path]:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

// Logger logs one line per request once the handler returns.
//
// Request headers are never logged: Authorization carries bearer tokens.
// Gate redirects show up as 302s against the requested path.
func Logger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sr := record(w)

			next.ServeHTTP(sr, r)

			logger.LogAttrs(r.Context(), levelFor(r.URL.Path, sr.status), "request completed",
				slog.String("requestID", chimiddleware.GetReqID(r.Context())),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("remote", r.RemoteAddr),
				slog.Int("status", sr.status),
				slog.Duration("duration", time.Since(start)),
				slog.Int64("bytes", sr.bytes),
			)
		})
	}
}
