package web

import (
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/yasserelgammal/rate-limiter/limiter"
	"github.com/yasserelgammal/rate-limiter/store"
)

// RateLimitConfig limits mutating requests (POST, DELETE) per client
// address with a token bucket. Reads are never limited.
type RateLimitConfig struct {
	// RequestsPerSecond is the refill rate; 0 disables limiting.
	RequestsPerSecond int64 `yaml:"requests_per_second"`

	// Burst is the bucket size (default: RequestsPerSecond).
	Burst int64 `yaml:"burst"`
}

func (c RateLimitConfig) enabled() bool {
	return c.RequestsPerSecond > 0
}

func newRateLimiter(cfg RateLimitConfig) (*limiter.TokenBucket, error) {
	burst := cfg.Burst
	if burst <= 0 {
		burst = cfg.RequestsPerSecond
	}
	tb, err := limiter.NewTokenBucket(
		limiter.Config{
			Rate:     cfg.RequestsPerSecond,
			Duration: time.Second,
			Burst:    burst,
		},
		store.NewMemoryStore(time.Minute),
	)
	if err != nil {
		return nil, fmt.Errorf("create rate limiter: %w", err)
	}
	return tb, nil
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// withRateLimit answers 429 once a client address exhausts its bucket.
func (s *Server) withRateLimit(next http.Handler) http.Handler {
	if s.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			next.ServeHTTP(w, r)
			return
		}
		key := clientKey(r)
		if !s.limiter.Allow(key) {
			s.logger.Warn().Str("client", key).Str("path", r.URL.Path).Msg("request rate limited")
			s.writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "rate limit exceeded"})
			return
		}
		next.ServeHTTP(w, r)
	})
}
