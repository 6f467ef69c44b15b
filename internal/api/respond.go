package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"doorkeeper/internal/faults"
	"doorkeeper/internal/logging"
)

type requestIDKey struct{}

const requestIDHeader = "X-Request-ID"

// requestID tags every request with a UUID, reusing a caller-supplied one.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

// RequestID returns the request ID stored by the server, if any.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			logging.String(logging.FieldRequestID, RequestID(r.Context())),
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
			logging.Int("status", ww.Status()),
			logging.Duration("duration", time.Since(started)),
		)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// writeFailure maps err onto an HTTP status and logs server-side failures.
func (s *Server) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logging.ErrorWithContext(s.logger, "request failed", "api_request_failed",
			logging.String(logging.FieldRequestID, RequestID(r.Context())),
			logging.String("path", r.URL.Path),
			logging.String(logging.FieldErrorKind, faults.Kind(err)),
			logging.Error(err),
		)
	}
	s.writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, faults.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, faults.ErrValidation):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxImageBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		s.logger.Debug("rejecting request body",
			logging.String(logging.FieldRequestID, RequestID(r.Context())),
			logging.Error(err),
		)
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}
