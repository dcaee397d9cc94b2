package middleware

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

// RateLimit caps each caller at perMinute requests, with the full minute
// allowance available as burst. Authenticated callers are keyed by their
// bearer credential, anonymous ones by client IP. Limiter state is
// process-local, like the credit reservations.
func RateLimit(perMinute int) func(http.Handler) http.Handler {
	var (
		mu       sync.Mutex
		limiters = make(map[string]*rate.Limiter)
	)
	limiterFor := func(key string) *rate.Limiter {
		mu.Lock()
		defer mu.Unlock()
		l, ok := limiters[key]
		if !ok {
			l = rate.NewLimiter(rate.Limit(perMinute)/60, perMinute)
			limiters[key] = l
		}
		return l
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiterFor(callerKey(r)).Allow() {
				w.Header().Set("Retry-After", strconv.Itoa(60))
				http.Error(w, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// callerKey identifies the caller before authentication has run. The raw
// bearer header is enough to bucket a caller; Auth still validates it
// downstream.
func callerKey(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return auth
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "anon:" + host
}
