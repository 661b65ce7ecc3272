package api

import (
	"encoding/json"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/KayKostadinov/Go-Flashcards/internal/logging"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// errorResponse is the body of every non-2xx response.
type errorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func writeErrorResponse(w http.ResponseWriter, r *http.Request, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	resp := errorResponse{
		Error:     code,
		Message:   message,
		RequestID: logging.RequestID(r.Context()),
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger := logging.FromContext(r.Context())
		logger.Error().Err(err).Msg("Failed to encode error response")
	}
}

// requestContext tags each request with an ID, recovers panics, records
// metrics and logs failed requests.
func requestContext(logger zerolog.Logger, metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			incomingID := strings.TrimSpace(r.Header.Get("X-Request-ID"))
			ctxWithID, requestID := logging.WithRequestID(r.Context(), incomingID)
			r = r.WithContext(ctxWithID)

			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			rw.Header().Set("X-Request-ID", requestID)

			start := time.Now()
			defer func() {
				route := "unmatched"
				if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
					route = rctx.RoutePattern()
				}
				metrics.recordRequest(r.Method, route, rw.StatusCode(), time.Since(start))
			}()

			defer func() {
				if err := recover(); err != nil {
					logger.Error().
						Interface("error", err).
						Str("path", r.URL.Path).
						Str("method", r.Method).
						Str("request_id", requestID).
						Bytes("stack", debug.Stack()).
						Msg("Panic recovered in API handler")

					writeErrorResponse(rw, r, http.StatusInternalServerError, "internal_error", "An unexpected error occurred")
				}
			}()

			next.ServeHTTP(rw, r)

			if rw.statusCode >= 400 {
				logger.Warn().
					Str("path", r.URL.Path).
					Str("method", r.Method).
					Int("status", rw.statusCode).
					Str("request_id", requestID).
					Msg("Request failed")
			}
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture status codes
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.written {
		rw.statusCode = code
		rw.ResponseWriter.WriteHeader(code)
		rw.written = true
	}
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.written {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}

func (rw *responseWriter) StatusCode() int {
	if rw == nil {
		return http.StatusInternalServerError
	}
	return rw.statusCode
}
