package router // package router defines how HTTP routes are registered for the API

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/stay-reservation/internal/config"
	"github.com/iliyamo/stay-reservation/internal/handler"
	"github.com/iliyamo/stay-reservation/internal/middleware"
)

// RegisterRoutes registers routes that need no authentication and no
// rate limiting.  Currently it exposes only the health check.
func RegisterRoutes(e *echo.Echo, db handler.Pinger) {
	e.GET("/healthz", handler.Health(db))
}

// RegisterAuth registers the operator login endpoint.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, rl config.RateLimitConfig, rdb *redis.Client) {
	g := e.Group("/v1/auth")
	g.POST("/login", a.Login, middleware.NewTokenBucket(rl, rdb))
}

// RegisterGuest registers the guest-facing reservation endpoints.  Writes
// go through the guest token bucket; quotes are served from the response
// cache because they depend only on the rate card and the dates.
// Availability is never cached since it changes with every booking.
func RegisterGuest(e *echo.Echo, h *handler.ReservationHandler, rl config.RateLimitConfig, cache config.CacheConfig, rdb *redis.Client) {
	limit := middleware.NewTokenBucket(rl, rdb)
	g := e.Group("/v1")

	g.POST("/reservations", h.Create, limit)
	g.GET("/reservations/:code", h.Get)
	g.POST("/reservations/:code/confirm", h.Confirm, limit)

	g.GET("/units/:id/quote", h.Quote, middleware.NewRedisCache(cache, rdb))
	g.GET("/units/:id/availability", h.Availability)
}

// RegisterWebhooks registers the payment provider endpoint.  Providers
// authenticate with the body signature, not a JWT.
func RegisterWebhooks(e *echo.Echo, w *handler.WebhookHandler, rl config.RateLimitConfig, rdb *redis.Client) {
	e.POST("/v1/webhooks/payments", w.Payment, middleware.NewTokenBucket(rl, rdb))
}

// RegisterAdmin registers OPERATOR-scoped endpoints under /v1/admin.  All
// routes require a valid JWT and the OPERATOR role.  now is the clock
// token expiry is checked against; nil means the wall clock.
func RegisterAdmin(e *echo.Echo, a *handler.AdminHandler, jwtSecret string, now func() time.Time) {
	g := e.Group(
		"/v1/admin",
		middleware.JWTAuth(jwtSecret, now),
		middleware.RequireRole("OPERATOR"),
	)

	// ---- Reservations ----
	g.POST("/reservations/:code/cancel", a.Cancel)
	g.GET("/units/:id/reservations", a.UnitReservations)

	// ---- Payments ----
	g.GET("/payments/:reference", a.Payment)

	// ---- Rate cards ----
	g.GET("/units/:id/rates", a.GetRates)
	g.PUT("/units/:id/rates", a.PutRates)

	// ---- Maintenance ----
	g.POST("/sweep", a.Sweep)
	g.GET("/metrics", a.Metrics)
}
