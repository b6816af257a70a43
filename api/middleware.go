package api

import (
	"net/http"
	"runtime/debug"
)

// recoveryMiddleware turns a handler panic into a 500 so one bad request
// cannot take the process down.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				LogWithRequestID(r.Context(), s.logger).Errorw("Panic in HTTP handler",
					"panic", rec,
					"method", r.Method,
					"path", r.URL.Path,
					"stack", string(debug.Stack()))
				writeError(w, http.StatusInternalServerError, "Internal server error", nil, nil)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
