package server

import (
	"net/http"
	"time"
)

const defaultHandlerTimeout = 30 * time.Second

// withTimeout wraps h with http.TimeoutHandler while keeping the
// JSON content type on the timeout response.
func withTimeout(h http.Handler, d time.Duration) http.Handler {
	if d <= 0 {
		d = defaultHandlerTimeout
	}
	inner := http.TimeoutHandler(h, d, `{"error":"request timed out"}`)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inner.ServeHTTP(&contentTypeWrapper{ResponseWriter: w}, r)
	})
}

// contentTypeWrapper forces application/json on the 503 body that
// http.TimeoutHandler writes as text/html.
type contentTypeWrapper struct {
	http.ResponseWriter
	wrote bool
}

func (w *contentTypeWrapper) WriteHeader(status int) {
	if !w.wrote {
		w.wrote = true
		if status == http.StatusServiceUnavailable {
			w.Header().Set("Content-Type", "application/json")
		}
	}
	w.ResponseWriter.WriteHeader(status)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.WithFields(map[string]any{
			"method":   r.Method,
			"path":     r.URL.Path,
			"duration": time.Since(start).String(),
		}).Debug("request")
	})
}
