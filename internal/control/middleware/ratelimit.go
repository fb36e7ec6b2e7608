// SPDX-License-Identifier: MIT

package middleware

import (
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/ManuGH/vidlint/internal/control/http/problem"
	"github.com/go-chi/httprate"
)

// RateLimitConfig holds configuration for rate limiting middleware.
type RateLimitConfig struct {
	// RequestLimit is the maximum number of requests allowed in the window.
	RequestLimit int
	// WindowSize is the time window for rate limiting.
	WindowSize time.Duration
	// KeyFunc extracts the rate limit key from the request. Defaults to the client IP.
	KeyFunc func(r *http.Request) (string, error)
	// Whitelist holds networks that are never limited.
	Whitelist []*net.IPNet
}

// RateLimit creates a sliding-window rate limiting middleware using httprate.
func RateLimit(cfg RateLimitConfig) func(http.Handler) http.Handler {
	keyFunc := cfg.KeyFunc
	if keyFunc == nil {
		keyFunc = httprate.KeyByIP
	}
	retryAfter := strconv.Itoa(int(cfg.WindowSize.Seconds()))

	limiter := httprate.Limit(
		cfg.RequestLimit,
		cfg.WindowSize,
		httprate.WithKeyFuncs(keyFunc),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", retryAfter)
			problem.Write(w, r, http.StatusTooManyRequests, "request/rate_limited", "Too Many Requests",
				problem.CodeRateLimited, "Too many requests. Please try again later.", nil)
		}),
	)

	return func(next http.Handler) http.Handler {
		limited := limiter(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(cfg.Whitelist) > 0 {
				if ip := remoteIP(r); ip != nil && IsIPAllowed(ip, cfg.Whitelist) {
					next.ServeHTTP(w, r)
					return
				}
			}
			limited.ServeHTTP(w, r)
		})
	}
}

// APIRateLimit returns the global per-IP limiter for all API endpoints.
func APIRateLimit(perMinute int, whitelist []*net.IPNet) func(http.Handler) http.Handler {
	return RateLimit(RateLimitConfig{
		RequestLimit: perMinute,
		WindowSize:   time.Minute,
		Whitelist:    whitelist,
	})
}

// UploadRateLimit returns the per-IP limiter for job submissions, which are
// far more expensive than reads.
func UploadRateLimit(perMinute int, whitelist []*net.IPNet) func(http.Handler) http.Handler {
	return RateLimit(RateLimitConfig{
		RequestLimit: perMinute,
		WindowSize:   time.Minute,
		Whitelist:    whitelist,
	})
}
