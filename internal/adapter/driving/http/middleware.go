package httphandler

import (
	"log/slog"
	"net/http"
	"time"
)

// statusRecorder notes the status code a handler writes so the access log
// can report it.
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

// withAccessLog emits one log line per request with its outcome and elapsed
// time.
func withAccessLog(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}

		next.ServeHTTP(rec, r)

		logger.Info("api request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.code,
			"took", time.Since(started).Round(time.Microsecond),
		)
	})
}

// withRecovery turns a handler panic into a logged 500 response instead of
// tearing down the connection.
func withRecovery(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				logger.Error("handler panic",
					"panic", v,
					"method", r.Method,
					"path", r.URL.Path,
				)
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()

		next.ServeHTTP(w, r)
	})
}
