package httpserver

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pscheid92/commhub/internal/adapter/metrics"
	apperrors "github.com/pscheid92/commhub/internal/platform/errors"
	"golang.org/x/time/rate"
)

const rateLimiterExpiry = 5 * time.Minute

// rateLimitPolicy is a token bucket per client IP.
type rateLimitPolicy struct {
	name      string
	perSecond float64
	burst     int
}

var (
	// OAuth starts and callbacks are human-driven.
	authPolicy = rateLimitPolicy{name: "auth", perSecond: 1, burst: 10}
	// Meta batches webhook deliveries from a small set of addresses.
	webhookPolicy = rateLimitPolicy{name: "webhook", perSecond: 50, burst: 200}
)

// newRateLimiter rejects over-limit requests with RATE_LIMITED through the
// error middleware. m may be nil.
func newRateLimiter(p rateLimitPolicy, m *metrics.HTTPMetrics) echo.MiddlewareFunc {
	store := middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
		Rate:      rate.Limit(p.perSecond),
		Burst:     p.burst,
		ExpiresIn: rateLimiterExpiry,
	})
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: store,
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		DenyHandler: func(c echo.Context, identifier string, _ error) error {
			m.ObserveRateLimited(p.name)
			return apperrors.RateLimitedError("too many requests").
				WithField("client_ip", identifier).
				WithField("policy", p.name)
		},
	})
}
