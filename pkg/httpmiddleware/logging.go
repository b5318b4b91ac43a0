package httpmiddleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/lewisedginton/chat_memory/pkg/logger"
)

// HTTPLogger logs one line per completed request.
type HTTPLogger struct {
	logger logger.Logger
}

func NewHTTPLogger(log logger.Logger) *HTTPLogger {
	return &HTTPLogger{logger: log}
}

// Middleware returns the HTTP logging middleware. /ping is not logged.
func (h *HTTPLogger) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ping" {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		wrapped := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(wrapped, r)

		status := wrapped.Status()
		if status == 0 {
			status = http.StatusOK
		}
		log := h.RequestLogger(r).WithFields(
			logger.HTTPStatusField(status),
			logger.IntField("response_bytes", wrapped.BytesWritten()),
			logger.DurationField("duration", time.Since(start)),
		)
		switch {
		case status >= 500:
			log.Error("HTTP request failed")
		case status >= 400:
			log.Warn("HTTP request rejected")
		default:
			log.Info("HTTP request served")
		}
	})
}

// RequestLogger returns the base logger tagged with the request's fields.
func (h *HTTPLogger) RequestLogger(r *http.Request) logger.Logger {
	return logger.GetLoggerFromContext(r.Context(), h.logger).WithFields(
		logger.ClientIPField(r.RemoteAddr),
		logger.HTTPMethodField(r.Method),
		logger.HTTPPathField(r.URL.Path),
	)
}
