package httpmiddleware

import (
	"net/http"

	"github.com/lewisedginton/chat_memory/pkg/logger"
)

// CorrelationID tags every request with an X-Correlation-ID. A well-formed
// incoming UUID is kept so callers can trace a request across services;
// anything else is replaced. The id is echoed on the response and stored on
// the request context for logger.GetLoggerFromContext.
func CorrelationID() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r, correlationID := logger.EnsureHTTPCorrelationID(r)
			w.Header().Set(logger.CorrelationIDHeader, correlationID)
			next.ServeHTTP(w, r)
		})
	}
}
