// Package middleware provides HTTP middleware for the upload server.
package middleware

import (
	"net/http"
	"time"

	"github.com/docker/go-units"

	"github.com/JonMunkholm/filedrop/internal/core"
	"github.com/JonMunkholm/filedrop/internal/logging"
)

// Logger logs one line per request with the chi request id, the client
// address, the response status and the request body size. Chunked uploads
// also carry the session id from the X-Upload-Session response header.
func Logger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		args := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
			"ip", core.ClientIPFromContext(r.Context()),
		}
		if r.ContentLength > 0 {
			args = append(args, "request_size", units.HumanSize(float64(r.ContentLength)))
		}
		if id := rec.Header().Get("X-Upload-Session"); id != "" {
			args = append(args, "session_id", id)
		}

		logger := logging.FromContext(r.Context())
		if rec.status >= http.StatusInternalServerError {
			logger.Warn("request", args...)
			return
		}
		logger.Info("request", args...)
	})
}

// statusRecorder captures the status code written by the handler.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusRecorder) WriteHeader(status int) {
	if w.wroteHeader {
		return
	}
	w.status = status
	w.wroteHeader = true
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusRecorder) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

func (w *statusRecorder) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
