package server

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/google/uuid"
)

// RequestLogger tags every request with an ID and logs method, path, status,
// size, and elapsed time. The ID is echoed in the X-Request-ID header so
// clients can quote it when reporting problems.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.NewString()
		w.Header().Set("X-Request-ID", requestID)

		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		slog.Info("request started",
			slog.String("request_id", requestID),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("remote", r.RemoteAddr),
		)

		next.ServeHTTP(ww, r)

		slog.Info("request finished",
			slog.String("request_id", requestID),
			slog.Int("status", ww.Status()),
			slog.Int("bytes", ww.BytesWritten()),
			slog.Duration("elapsed", time.Since(start)),
		)
	})
}

// BasicAuthToken guards a route group with a pre-shared Basic credential.
// The expected value is the raw base64 token, compared in constant time.
// An empty expected token fails closed.
func BasicAuthToken(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				slog.Warn("request missing authorization header",
					slog.String("remote", r.RemoteAddr),
					slog.String("path", r.URL.Path),
				)
				unauthorized(w, r, "Authorization header is missing")
				return
			}

			token, ok := strings.CutPrefix(header, "Basic ")
			if !ok || expected == "" ||
				subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
				slog.Warn("invalid authorization",
					slog.String("remote", r.RemoteAddr),
					slog.String("path", r.URL.Path),
				)
				unauthorized(w, r, "Invalid authorization")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func unauthorized(w http.ResponseWriter, r *http.Request, message string) {
	render.Status(r, http.StatusUnauthorized)
	render.JSON(w, r, map[string]string{
		"message": message,
		"error":   "Unauthorized",
	})
}
