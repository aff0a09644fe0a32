package api

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"fieldroute/internal/metrics"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack lets the websocket upgrader take over the connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijack not supported")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

// Instrument records request counts and latencies.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		path := routeLabel(r.URL.Path)
		status := strconv.Itoa(rec.status)
		metrics.HTTPRequests.WithLabelValues(r.Method, path, status).Inc()
		metrics.HTTPDuration.WithLabelValues(r.Method, path, status).Observe(time.Since(start).Seconds())
	})
}

// routeLabel collapses route ids so the path label stays bounded.
func routeLabel(p string) string {
	rest, ok := strings.CutPrefix(p, "/v1/routes/")
	if !ok || rest == "" {
		return p
	}
	if _, sub, found := strings.Cut(rest, "/"); found {
		return "/v1/routes/{id}/" + sub
	}
	return "/v1/routes/{id}"
}

// RateLimit rejects /v1 requests beyond the configured rate with 429.
// Streams, health and metrics are exempt.
func (s *Server) RateLimit(next http.Handler) http.Handler {
	if s.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := r.URL.Path
		exempt := !strings.HasPrefix(p, "/v1/") || strings.HasSuffix(p, "/events/stream") || strings.HasSuffix(p, "/ws")
		if !exempt && !s.limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			writeProblem(w, http.StatusTooManyRequests, "Too Many Requests", "rate limit exceeded", p)
			return
		}
		next.ServeHTTP(w, r)
	})
}
