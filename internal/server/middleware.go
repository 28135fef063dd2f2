package server

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/HerbHall/apwatch/internal/version"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Prometheus HTTP metrics.
var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apwatch_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "apwatch_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	rateLimited = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apwatch_http_rate_limited_total",
			Help: "Requests rejected by the per-client rate limiter.",
		},
		[]string{"budget"},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(httpRequestDuration)
	prometheus.MustRegister(rateLimited)
}

// Middleware is a function that wraps an http.Handler.
type Middleware func(http.Handler) http.Handler

// Chain applies middleware in order (first argument is outermost).
func Chain(handler http.Handler, mw ...Middleware) http.Handler {
	for i := len(mw) - 1; i >= 0; i-- {
		handler = mw[i](handler)
	}
	return handler
}

// requestIDKey is a context key for the request ID.
type requestIDKey struct{}

// RequestID returns the request ID from the context.
func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}

// RequestIDMiddleware generates or propagates X-Request-ID headers.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := context.WithValue(r.Context(), requestIDKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// unmatchedRoute labels requests that no mux pattern matched.
const unmatchedRoute = "unmatched"

type routeKey struct{}

// routeHolder carries the matched mux pattern back out to the logging
// middleware, past handlers that replace the request with WithContext.
type routeHolder struct {
	pattern string
}

// recordRoute must wrap the mux directly: ServeMux sets Pattern on the
// request it dispatches.
func recordRoute(mux http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mux.ServeHTTP(w, r)
		if h, ok := r.Context().Value(routeKey{}).(*routeHolder); ok {
			h.pattern = r.Pattern
		}
	})
}

// LoggingMiddleware logs each HTTP request with duration and status, and
// records Prometheus metrics (request count and duration histogram).
// Metrics are labelled by route pattern so path parameters such as MACs do
// not create series. Paths in skipPaths are excluded from logging but still
// recorded in metrics.
func LoggingMiddleware(logger *zap.Logger, skipPaths []string) Middleware {
	skip := make(map[string]bool, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			route := &routeHolder{}
			r = r.WithContext(context.WithValue(r.Context(), routeKey{}, route))

			next.ServeHTTP(sw, r)

			duration := time.Since(start)
			label := route.pattern
			if label == "" {
				label = unmatchedRoute
			}

			if !skip[r.URL.Path] {
				logger.Info("http request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.String("route", label),
					zap.Int("status", sw.status),
					zap.Duration("duration", duration),
					zap.String("remote", r.RemoteAddr),
					zap.String("request_id", RequestID(r.Context())),
				)
			}

			httpRequestsTotal.WithLabelValues(
				r.Method, label, strconv.Itoa(sw.status),
			).Inc()
			httpRequestDuration.WithLabelValues(
				r.Method, label,
			).Observe(duration.Seconds())
		})
	}
}

// SecurityHeadersMiddleware adds security headers to all responses. API
// responses carry live presence data and are never cached.
func SecurityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		// JSON API only: nothing may be loaded or framed. The Swagger UI
		// relaxes this for its own route.
		h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		h.Set("Referrer-Policy", "no-referrer")
		if strings.HasPrefix(r.URL.Path, "/api/") {
			h.Set("Cache-Control", "no-store")
		}
		next.ServeHTTP(w, r)
	})
}

// VersionHeaderMiddleware adds X-Apwatch-Version to all responses.
func VersionHeaderMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Apwatch-Version", version.Short())
		next.ServeHTTP(w, r)
	})
}

// RecoveryMiddleware catches panics and returns a 500 problem response.
func RecoveryMiddleware(logger *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered",
						zap.Any("panic", rec),
						zap.String("path", r.URL.Path),
						zap.String("request_id", RequestID(r.Context())),
					)
					InternalError(w, "an unexpected error occurred", r.URL.Path)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimitConfig sets the per-client request budget.
type RateLimitConfig struct {
	RPS   float64
	Burst int
	// RefreshInterval spaces out POST /api/v1/tracker/refresh per client.
	// Each refresh polls every source, so it gets its own, tighter budget.
	RefreshInterval time.Duration
	// TrustForwarded keys clients by X-Forwarded-For. Enable only behind a
	// reverse proxy that sets it.
	TrustForwarded bool
}

// DefaultRateLimit is used for zero fields of a RateLimitConfig.
var DefaultRateLimit = RateLimitConfig{
	RPS:             20,
	Burst:           40,
	RefreshInterval: 5 * time.Second,
}

func (c RateLimitConfig) withDefaults() RateLimitConfig {
	if c.RPS <= 0 {
		c.RPS = DefaultRateLimit.RPS
	}
	if c.Burst <= 0 {
		c.Burst = DefaultRateLimit.Burst
	}
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = DefaultRateLimit.RefreshInterval
	}
	return c
}

const refreshRoute = "/api/v1/tracker/refresh"

// RateLimitMiddleware enforces per-client rate limits. Requests to paths in
// skipPaths are not limited.
func RateLimitMiddleware(cfg RateLimitConfig, skipPaths []string) Middleware {
	cfg = cfg.withDefaults()
	general := &ipRateLimiter{rateVal: rate.Limit(cfg.RPS), burst: cfg.Burst}
	refresh := &ipRateLimiter{rateVal: rate.Every(cfg.RefreshInterval), burst: 1}
	skip := make(map[string]bool, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skip[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			ip := clientIP(r, cfg.TrustForwarded)
			if !general.allow(ip) {
				rateLimited.WithLabelValues("api").Inc()
				RateLimited(w, "rate limit exceeded", r.URL.Path)
				return
			}
			if r.Method == http.MethodPost && r.URL.Path == refreshRoute && !refresh.allow(ip) {
				rateLimited.WithLabelValues("refresh").Inc()
				w.Header().Set("Retry-After", strconv.Itoa(int(cfg.RefreshInterval.Seconds()+0.5)))
				RateLimited(w, "a refresh was requested less than "+cfg.RefreshInterval.String()+" ago", r.URL.Path)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ipRateLimiter tracks per-client token buckets.
type ipRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rateLimitEntry
	rateVal  rate.Limit
	burst    int
}

type rateLimitEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// maxTrackedClients bounds the limiter map; idle entries are evicted once
// it is reached.
const maxTrackedClients = 4096

func (l *ipRateLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.limiters == nil {
		l.limiters = make(map[string]*rateLimitEntry)
	}

	e, ok := l.limiters[ip]
	if !ok {
		if len(l.limiters) >= maxTrackedClients {
			l.evictIdle(time.Now().Add(-10 * time.Minute))
		}
		e = &rateLimitEntry{limiter: rate.NewLimiter(l.rateVal, l.burst)}
		l.limiters[ip] = e
	}
	e.lastSeen = time.Now()

	return e.limiter.Allow()
}

// evictIdle drops entries not seen since cutoff. The caller holds l.mu.
func (l *ipRateLimiter) evictIdle(cutoff time.Time) {
	for ip, e := range l.limiters {
		if e.lastSeen.Before(cutoff) {
			delete(l.limiters, ip)
		}
	}
}

// clientIP keys a request by its peer address, or by the first
// X-Forwarded-For hop when trustForwarded is set.
func clientIP(r *http.Request, trustForwarded bool) string {
	if trustForwarded {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// statusWriter wraps ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

// Hijack lets WebSocket upgrades pass through the middleware chain.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return hj.Hijack()
}

// Unwrap exposes the wrapped writer to http.ResponseController.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.wroteHeader = true
	}
	return w.ResponseWriter.Write(b)
}
