package api

import (
	"net/http"

	"golang.org/x/time/rate"
)

// rateLimiter gates requests before they reach the requirement store. Writes
// are individually cheap but each one fsyncs a document and the index; the
// limiter keeps a misbehaving client from turning the directory into an
// fsync loop.
type rateLimiter interface {
	Allow() bool
}

// tokenBucket adapts x/time/rate to the rateLimiter interface.
type tokenBucket struct {
	bucket *rate.Limiter
}

func newTokenBucketLimiter(perSecond float64, burst int) rateLimiter {
	if perSecond <= 0 {
		perSecond = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &tokenBucket{bucket: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (l *tokenBucket) Allow() bool {
	if l == nil || l.bucket == nil {
		return true
	}
	return l.bucket.Allow()
}

func rateLimitMiddleware(limiter rateLimiter, next http.Handler) http.Handler {
	if limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			writeError(w, http.StatusTooManyRequests, "Too many requests",
				"rate limit exceeded, please retry shortly",
				"Retry after a short pause, or raise rate_limit in requiem.yaml")
			return
		}
		next.ServeHTTP(w, r)
	})
}
