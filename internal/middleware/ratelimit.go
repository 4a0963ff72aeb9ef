package middleware

import (
	"log/slog"
	"math"
	"net/http"

	"github.com/go-chi/render"
	"golang.org/x/time/rate"

	apperrors "lpvault/internal/errors"
)

// RateLimiter throttles a route with a token bucket. It sits in front of
// the unlock endpoint; the vault's own attempt counter and persisted
// lockout deadline are layered behind it.
type RateLimiter struct {
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewRateLimiter creates a rate limiter allowing rps requests per second
// with the given burst.
func NewRateLimiter(rps float64, burst int, logger *slog.Logger) *RateLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		logger:  logger,
	}
}

// Handler rejects requests above the configured rate with the lockout
// error envelope and a Retry-After hint.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res := rl.limiter.Reserve()
		if !res.OK() || res.Delay() > 0 {
			if res.OK() {
				res.Cancel()
			}
			retryAfter := int(math.Ceil(res.Delay().Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			rl.logger.WarnContext(r.Context(), "request rate limited",
				slog.String("path", r.URL.Path),
				slog.Int("retry_after_seconds", retryAfter),
			)
			render.Render(w, r, apperrors.Renderer(apperrors.Lockout(retryAfter)))
			return
		}
		next.ServeHTTP(w, r)
	})
}
