// Package renderer holds the HTTP plumbing shared by every route: the
// middleware chain (request logging, CORS, panic recovery, auth) and JSON
// response helpers.
package renderer

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/stevecastle/dicomalbum/metrics"
)

// AuthRole defines the required access level for a route.
type AuthRole int

const (
	RolePublic AuthRole = iota
	RoleUser
)

// Chain builds the middleware stack for routes. Auth is optional; when nil
// protected routes are served without checks.
type Chain struct {
	Log     zerolog.Logger
	Metrics *metrics.Metrics
	Auth    func(http.Handler, AuthRole) http.Handler
}

// Apply wraps handler with recovery, auth (for non-public roles), CORS and
// request logging. route labels the request in logs and metrics.
func (c Chain) Apply(route string, handler http.HandlerFunc, role AuthRole) http.Handler {
	var h http.Handler = c.Recover(handler)
	if role != RolePublic && c.Auth != nil {
		h = c.Auth(h, role)
	}
	return c.Logger(route, CORS(h))
}

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}

// Flush lets streaming handlers push through the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) code() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}

// Logger logs one line per request and records request metrics.
func (c Chain) Logger(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		elapsed := time.Since(start)

		status := rec.code()
		ev := c.Log.Info()
		if status >= 500 {
			ev = c.Log.Error()
		}
		ev.Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("route", route).
			Int("status", status).
			Int("bytes", rec.bytes).
			Dur("duration", elapsed).
			Msg("request")

		if c.Metrics != nil {
			c.Metrics.HTTPRequestsTotal.WithLabelValues(route, r.Method, http.StatusText(status)).Inc()
			c.Metrics.HTTPRequestDuration.WithLabelValues(route).Observe(elapsed.Seconds())
		}
	})
}

// Recover turns a handler panic into a 500 response.
func (c Chain) Recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if p := recover(); p != nil {
				c.Log.Error().Interface("panic", p).Str("path", r.URL.Path).Msg("handler panicked")
				WriteError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		enableCors(&w)
		if r.Method == http.MethodOptions {
			return
		}
		next.ServeHTTP(w, r)
	})
}

func enableCors(w *http.ResponseWriter) {
	h := (*w).Header()
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
	h.Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization")
	h.Set("Access-Control-Allow-Credentials", "true")
	h.Set("Access-Control-Expose-Headers", "Content-Length")
}

// WriteJSON encodes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// WriteError writes {"error": msg}.
func WriteError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, map[string]string{"error": msg})
}
