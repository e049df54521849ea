package middleware

import (
	"net/http"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/habitaq/lead-analytics/internal/config"
)

// RateLimitMiddleware implements token bucket rate limiting with separate
// buckets for the high-volume ingestion path and the query/report paths.
type RateLimitMiddleware struct {
	cfg           config.RateLimitConfig
	logger        *zap.Logger
	ingestLimiter *rate.Limiter
	queryLimiter  *rate.Limiter
}

// NewRateLimitMiddleware creates a new rate limiting middleware.
func NewRateLimitMiddleware(cfg config.RateLimitConfig, logger *zap.Logger) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		cfg:           cfg,
		logger:        logger,
		ingestLimiter: rate.NewLimiter(rate.Limit(cfg.IngestRPS), cfg.IngestBurst),
		queryLimiter:  rate.NewLimiter(rate.Limit(cfg.QueryRPS), cfg.QueryBurst),
	}
}

// Handler wraps an http.Handler with rate limiting.
func (rl *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.cfg.Enabled {
			next.ServeHTTP(w, r)
			return
		}

		limiter := rl.queryLimiter
		if rl.isIngestEndpoint(r.URL.Path) {
			limiter = rl.ingestLimiter
		}

		if !limiter.Allow() {
			rl.logger.Warn("rate limit exceeded",
				zap.String("path", r.URL.Path),
				zap.String("remote_addr", r.RemoteAddr),
			)
			rl.tooManyRequests(w)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// isIngestEndpoint returns true if the path is the event ingestion endpoint.
func (rl *RateLimitMiddleware) isIngestEndpoint(path string) bool {
	return strings.HasPrefix(path, "/ingest/")
}

// tooManyRequests sends a 429 response.
func (rl *RateLimitMiddleware) tooManyRequests(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", "1")
	w.WriteHeader(http.StatusTooManyRequests)
	w.Write([]byte(`{"error":"rate limit exceeded"}`))
}
