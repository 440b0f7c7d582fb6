package httpapi

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"github.com/cuemby/burrow/pkg/apierr"
	"github.com/cuemby/burrow/pkg/auth"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
)

// requestIDHeader is echoed back to the caller so a client can quote
// it when reporting an issue, matching it to the request_id field on
// the structured log line below.
const requestIDHeader = "X-Request-Id"

// requestLoggingMiddleware assigns each request a request id, chains
// it onto the component logger, and logs one line per request with
// method, path, status, and duration. Handlers themselves stay quiet
// on the happy path and rely on this line plus metricsMiddleware's
// counters.
func (d *Deps) requestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get(requestIDHeader)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, reqID)
		reqLog := log.WithRequestID(d.logger, reqID)

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		reqLog.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("handled request")
	})
}

// metricsMiddleware records every request's method/status/route in the
// shared Prometheus instruments.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		timer := metrics.NewTimer()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(rec.status)).Inc()
		timer.ObserveDurationVec(metrics.HTTPRequestDuration, r.Method, r.URL.Path)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// authenticationMiddleware resolves the Authorization header (if any)
// into a Principal and records it on the request context for handlers
// to consume (/). A missing header falls back to the
// configured anonymous principal when allow_anonymous is set;
// otherwise the absence itself is not an error here — individual
// handlers decide whether their route requires a credential.
func (d *Deps) authenticationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			if d.Config.AllowAnonymous {
				anon := auth.AnonymousPrincipal()
				r = r.WithContext(withPrincipal(r.Context(), anon, nil, nil))
			} else {
				r = r.WithContext(withPrincipal(r.Context(), nil, nil, nil))
			}
			next.ServeHTTP(w, r)
			return
		}

		kind, credential, ok := splitAuthHeader(header)
		if !ok {
			r = r.WithContext(withPrincipal(r.Context(), nil, nil, nil))
			next.ServeHTTP(w, r)
			return
		}

		principal, scopes, err := d.Auth.AuthenticatedPrincipal(r.Context(), kind, credential)
		r = r.WithContext(withPrincipal(r.Context(), principal, scopes, err))
		next.ServeHTTP(w, r)
	})
}

// splitAuthHeader parses "Bearer <token>" or "Apikey <secret>" into
// its scheme and credential.
func splitAuthHeader(header string) (kind, credential string, ok bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	switch strings.ToLower(parts[0]) {
	case "bearer":
		return "Bearer", parts[1], true
	case "apikey":
		return "Apikey", parts[1], true
	default:
		return "", "", false
	}
}

// csrfMiddleware implements /: a CSRF cookie is set on any
// request lacking one; a non-safe method carrying that cookie must
// also present the same value via header or query param.
func (d *Deps) csrfMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(auth.CSRFCookieName)
		if err != nil || cookie.Value == "" {
			token, genErr := auth.GenerateCSRFToken()
			if genErr == nil {
				http.SetCookie(w, &http.Cookie{
					Name:     auth.CSRFCookieName,
					Value:    token,
					Path:     "/",
					HttpOnly: false,
					SameSite: http.SameSiteLaxMode,
				})
			}
			next.ServeHTTP(w, r)
			return
		}

		if auth.CSRFSafeMethod(r.Method) {
			next.ServeHTTP(w, r)
			return
		}

		presented := r.Header.Get(auth.CSRFHeaderName)
		if presented == "" {
			presented = r.URL.Query().Get(auth.CSRFQueryParam)
		}
		if !auth.CSRFMatch(cookie.Value, presented) {
			writeError(w, apierr.Forbidden("httpapi: missing or mismatched CSRF token"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// authLimiter lazily builds the per-client rate limiter store used by
// the /auth/* route group.
func (d *Deps) authLimiter() *ipRateLimiter {
	d.authLimiterOnce.Do(func() {
		d.authLimiterStore = newIPRateLimiter(authLimiterRate, authLimiterBurst, authLimiterTTL)
	})
	return d.authLimiterStore
}

// ipRateLimiter hands out one golang.org/x/time/rate.Limiter per
// client IP, evicting entries that have been idle past ttl so the map
// does not grow unbounded under a churn of distinct clients.
type ipRateLimiter struct {
	mu    sync.Mutex
	rate  rate.Limit
	burst int
	ttl   time.Duration
	seen  map[string]*limiterEntry
}

type limiterEntry struct {
	limiter *rate.Limiter
	lastUse time.Time
}

func newIPRateLimiter(r float64, burst int, ttl time.Duration) *ipRateLimiter {
	return &ipRateLimiter{
		rate:  rate.Limit(r),
		burst: burst,
		ttl:   ttl,
		seen:  make(map[string]*limiterEntry),
	}
}

func (l *ipRateLimiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	for k, e := range l.seen {
		if now.Sub(e.lastUse) > l.ttl {
			delete(l.seen, k)
		}
	}

	e, ok := l.seen[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.seen[key] = e
	}
	e.lastUse = now
	return e.limiter.Allow()
}

// rateLimitMiddleware rejects requests from a client IP exceeding
// limiter's configured rate with 429.
func rateLimitMiddleware(limiter *ipRateLimiter) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			host, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				host = r.RemoteAddr
			}
			if !limiter.allow(host) {
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
