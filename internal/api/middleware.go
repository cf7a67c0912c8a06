package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"alumnet/internal/apperror"
	"alumnet/internal/auth"
	"alumnet/internal/logging"
)

func (h *Handlers) WithCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Skip CORS for WebSocket connections
		if r.Header.Get("Upgrade") == "websocket" {
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("Access-Control-Allow-Origin", h.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Credentials", "true")
		w.Header().Set("Access-Control-Expose-Headers", headerNextCursor)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// WithAuth rejects requests without a valid bearer credential and stores
// the resolved principal in the request context.
func (h *Handlers) WithAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, err := h.resolver.ResolveRequest(r, false)
		if err != nil {
			writeError(w, r, err)
			return
		}

		logger := logging.Ctx(r.Context()).With().Int64(logging.FieldUserID, principal.UserID).Logger()
		ctx := logging.WithLogger(auth.WithPrincipal(r.Context(), principal), logger)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// instrument records request latency by route template.
func (h *Handlers) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Upgrade") == "websocket" {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		rec := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if current := mux.CurrentRoute(r); current != nil {
			if tmpl, err := current.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}
		h.metrics.ObserveRequest(route, rec.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func principalID(r *http.Request) (int64, error) {
	p, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		return 0, apperror.AuthMissing()
	}
	return p.UserID, nil
}
