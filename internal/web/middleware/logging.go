package middleware

import (
	"net/http"
	"time"

	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

// AccessLog logs one line per request, at a level chosen by the response status.
func AccessLog(log logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			requestID := chiMiddleware.GetReqID(r.Context())
			if requestID == "" {
				requestID = "unknown"
			}

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}

			entry := log.WithFields(logrus.Fields{
				"request_id":    requestID,
				"method":        r.Method,
				"path":          r.URL.Path,
				"status":        status,
				"latency_ms":    time.Since(start).Milliseconds(),
				"ip":            r.RemoteAddr,
				"user_agent":    r.UserAgent(),
				"response_size": ww.BytesWritten(),
			})

			switch {
			case status >= 500:
				entry.Error("Server error")
			case status >= 400:
				entry.Warn("Client error")
			default:
				entry.Info("Success")
			}
		})
	}
}
