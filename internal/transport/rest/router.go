package rest

import (
	"log/slog"

	"github.com/go-chi/chi"
	chiMiddleware "github.com/go-chi/chi/middleware"

	"github.com/cardvault/storefront/internal/auth"
	"github.com/cardvault/storefront/internal/inventory"
	"github.com/cardvault/storefront/internal/observability"
	"github.com/cardvault/storefront/internal/pricing"
	"github.com/cardvault/storefront/internal/ratelimit"
	"github.com/cardvault/storefront/internal/reconciliation"
	"github.com/cardvault/storefront/internal/transport/middleware"
	"github.com/cardvault/storefront/internal/transport/swagger"
	"github.com/cardvault/storefront/internal/webhook"
)

// Routes carries everything the router mounts. Nil handlers are skipped;
// a nil TokenValidator disables the whole admin surface.
type Routes struct {
	Health          *HealthHandler
	Webhook         *webhook.Handler
	WebhookLimiter  ratelimit.Limiter
	Inventory       *inventory.Handler
	Pricing         *pricing.Handler
	Reconciliations *reconciliation.Handler
	Tokens          auth.TokenValidator
	RBAC            *auth.RBACAuthorization
	OpenAPISpec     []byte
	MetricsPath     string
	AllowedOrigins  string
}

func RegisterAllRoutes(router *chi.Mux, routes Routes, logger *slog.Logger) {
	// Apply global middleware
	router.Use(chiMiddleware.RealIP)
	router.Use(chiMiddleware.RequestID)
	router.Use(middleware.RequestID)
	router.Use(middleware.CORS(routes.AllowedOrigins))
	router.Use(middleware.RecoveryMiddleware(logger))
	router.Use(middleware.LoggingMiddleware(logger))
	router.Use(observability.MetricsMiddleware)

	if routes.MetricsPath != "" {
		router.Handle(routes.MetricsPath, observability.Handler())
	}

	if len(routes.OpenAPISpec) > 0 {
		router.Get(swagger.SpecPath, swagger.SpecHandler(routes.OpenAPISpec))
		router.Handle("/swagger/*", swagger.Handler())
	}

	router.Route("/api/v1", func(r chi.Router) {
		if routes.Health != nil {
			r.Get("/health", routes.Health.healthCheckHandler)
			r.Get("/ping", routes.Health.pingHandler)
		}

		if routes.Webhook != nil {
			r.Group(func(wr chi.Router) {
				if routes.WebhookLimiter != nil {
					wr.Use(ratelimit.Middleware(routes.WebhookLimiter, logger))
				}
				wr.Post("/webhooks/payments", routes.Webhook.HandlePaymentNotification)
			})
		}

		if routes.Tokens == nil || routes.RBAC == nil {
			logger.Warn("operator token verification not configured, admin endpoints disabled")
			return
		}

		r.Route("/admin", func(ar chi.Router) {
			ar.Use(middleware.Authenticate(routes.Tokens, logger))

			if routes.Inventory != nil {
				ar.Group(func(ir chi.Router) {
					ir.Use(routes.RBAC.Middleware(auth.PermissionManageInventory))
					ir.Get("/inventory/{cardID}/{variant}", routes.Inventory.GetUnit)
					ir.Post("/inventory/{cardID}/{variant}/restock", routes.Inventory.Restock)
				})
			}

			if routes.Pricing != nil {
				ar.With(routes.RBAC.Middleware(auth.PermissionViewPricing)).
					Post("/pricing/quote", routes.Pricing.Quote)
			}

			if routes.Reconciliations != nil {
				ar.Group(func(rr chi.Router) {
					rr.Use(routes.RBAC.Middleware(auth.PermissionViewReconciliations))
					rr.Get("/reconciliations", routes.Reconciliations.List)
					rr.Get("/reconciliations/{paymentID}/audit", routes.Reconciliations.GetAudit)
				})
			}
		})
	})
}
