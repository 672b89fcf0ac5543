package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/lastmin-booking/internal/config"
	"github.com/iliyamo/lastmin-booking/internal/handler"
	"github.com/iliyamo/lastmin-booking/internal/middleware"
)

// AuthenticatedRole is the role claim carried by signed-in users' tokens.
const AuthenticatedRole = "authenticated"

// Handlers bundles everything RegisterRoutes mounts.
type Handlers struct {
	Health   echo.HandlerFunc
	Webhook  *handler.WebhookHandler
	Bookings *handler.BookingHandler
	Catalog  *handler.CatalogHandler
	Provider *handler.ProviderHandler
}

// RegisterRoutes mounts the public, webhook, customer and provider routes.
// rdb may be nil, in which case caching and rate limiting pass through.
func RegisterRoutes(e *echo.Echo, cfg config.Config, rdb *redis.Client, h Handlers, log logrus.FieldLogger) {
	e.GET("/healthz", h.Health)

	// Webhooks authenticate by signature, never by JWT.
	e.POST("/webhooks/stripe", h.Webhook.Stripe)

	cache := middleware.NewRedisCache(cfg.Cache, rdb, log)
	e.GET("/v1/activities/:id", h.Catalog.GetActivity, cache)

	auth := e.Group("/v1", middleware.JWTAuth(cfg.JWTSecret), middleware.RequireRole(AuthenticatedRole))
	registerCustomer(auth, cfg, rdb, h, log)
	registerProvider(auth, h.Provider)
}

func registerCustomer(g *echo.Group, cfg config.Config, rdb *redis.Client, h Handlers, log logrus.FieldLogger) {
	limit := middleware.NewTokenBucket(cfg.RateLimit, rdb, log)

	g.POST("/checkout", h.Catalog.StartCheckout)
	g.POST("/payments/intent", h.Catalog.StartIntent)

	g.POST("/bookings/sync-session", h.Bookings.SyncSession, limit)
	g.POST("/bookings/sync", h.Bookings.SyncIntent, limit)
	g.POST("/bookings/test-email", h.Bookings.TestEmail, middleware.RequireAdmin(middleware.NewAdmins(cfg.AdminEmails)))

	g.GET("/bookings", h.Bookings.List)
	g.GET("/bookings/stream", h.Bookings.Stream)
	g.GET("/bookings/:id", h.Bookings.Get)
}

// Provider ownership is checked per request by the provider desk.
func registerProvider(g *echo.Group, p *handler.ProviderHandler) {
	g.GET("/provider/bookings", p.ListBookings)
	g.POST("/provider/check-in", p.CheckIn)
}
