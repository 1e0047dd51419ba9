package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/dmaksimov/structex/internal/session"
)

// SessionHeader carries the session id on every session-scoped request.
const SessionHeader = "X-Session-ID"

type contextKey string

const sessionKey contextKey = "session"

// SessionMiddleware resolves the caller's session and stores it in the
// request context. Unknown or missing ids are rejected; all registry
// access below this point goes through the resolved session.
func SessionMiddleware(store *session.Store) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(SessionHeader)
			if id == "" {
				jsonError(w, "missing "+SessionHeader+" header", http.StatusBadRequest)
				return
			}
			sess := store.Get(id)
			if sess == nil {
				jsonError(w, "unknown or expired session", http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), sessionKey, sess)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func sessionFrom(r *http.Request) *session.Session {
	sess, _ := r.Context().Value(sessionKey).(*session.Session)
	return sess
}

// RequestLogger logs incoming requests.
func RequestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: 200}
			next.ServeHTTP(sw, r)
			log.Info("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", sw.status,
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
