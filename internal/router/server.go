package router

import (
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/stay-reservation/internal/config"
	"github.com/iliyamo/stay-reservation/internal/handler"
)

// Deps is everything the HTTP server needs.  Redis may be nil: the rate
// limiters and the cache then pass every request through.
type Deps struct {
	DB        handler.Pinger
	Redis     *redis.Client
	JWTSecret string
	// Now is the clock shared with the handlers for token expiry; nil
	// means the wall clock.
	Now func() time.Time

	GuestLimit   config.RateLimitConfig
	WebhookLimit config.RateLimitConfig
	Cache        config.CacheConfig

	Auth         *handler.AuthHandler
	Reservations *handler.ReservationHandler
	Webhooks     *handler.WebhookHandler
	Admin        *handler.AdminHandler
}

// New builds the Echo instance with the shared middleware and every route
// group registered.
func New(d Deps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())
	e.Use(echomw.RequestIDWithConfig(echomw.RequestIDConfig{Generator: uuid.NewString}))

	RegisterRoutes(e, d.DB)
	if d.Auth != nil {
		RegisterAuth(e, d.Auth, d.GuestLimit, d.Redis)
	}
	RegisterGuest(e, d.Reservations, d.GuestLimit, d.Cache, d.Redis)
	RegisterWebhooks(e, d.Webhooks, d.WebhookLimit, d.Redis)
	if d.Admin != nil {
		RegisterAdmin(e, d.Admin, d.JWTSecret, d.Now)
	}
	return e
}
