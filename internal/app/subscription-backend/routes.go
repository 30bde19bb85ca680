// Package subscriptionbackend предоставляет маршруты для основного приложения.
package subscriptionbackend

import (
	"log/slog"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	httpSwagger "github.com/swaggo/http-swagger"

	_ "github.com/tradervault/subscription-backend/docs"
	"github.com/tradervault/subscription-backend/internal/http/handlers/admingrant"
	"github.com/tradervault/subscription-backend/internal/http/handlers/affiliatecommissions"
	"github.com/tradervault/subscription-backend/internal/http/handlers/health"
	"github.com/tradervault/subscription-backend/internal/http/handlers/subscriptionstatus"
	"github.com/tradervault/subscription-backend/internal/http/handlers/webhook"
	"github.com/tradervault/subscription-backend/internal/http/middlewarectx"
	"github.com/tradervault/subscription-backend/internal/lib/jwt"
	"github.com/tradervault/subscription-backend/internal/providers"
	"github.com/tradervault/subscription-backend/internal/services/commission"
	"github.com/tradervault/subscription-backend/internal/services/entitlement"
	"github.com/tradervault/subscription-backend/internal/storage/repository"
)

// RegisterRoutes регистрирует все маршруты приложения.
func RegisterRoutes(r chi.Router, logger *slog.Logger, core *entitlement.Service,
	commissions *commission.Engine, registry providers.Registry,
	db *repository.Storage, jwtMaker jwt.Maker) {
	// Глобальные middleware
	r.Use(
		middleware.RequestID,
		middleware.Logger,
		middleware.Recoverer,
		middleware.URLFormat,
	)

	r.Route("/api/v1", func(r chi.Router) {
		// Открытые конечные точки: webhook'и аутентифицируются подписью
		// провайдера, а не JWT.
		r.Post("/webhooks/{provider}", webhook.New(logger, core, registry).ServeHTTP)
		r.Get("/health", health.New(logger, db).ServeHTTP)

		// Группа с JWT аутентификацией
		r.Group(func(r chi.Router) {
			r.Use(middlewarectx.JWTMiddleware(jwtMaker, logger))
			r.Use(middlewarectx.RateLimitMiddleware(logger))
			r.Get("/subscription/status", subscriptionstatus.New(logger, core).ServeHTTP)
			r.Get("/affiliate/commissions", affiliatecommissions.New(logger, commissions).ServeHTTP)
		})

		// Административные конечные точки
		r.Group(func(r chi.Router) {
			r.Use(middlewarectx.JWTMiddleware(jwtMaker, logger))
			r.Use(middlewarectx.AdminOnlyMiddleware(logger))
			r.Post("/admin/subscriptions/grant", admingrant.New(logger, core).ServeHTTP)
		})
	})

	r.Handle("/metrics", promhttp.Handler())
	// Swagger docs endpoint
	r.Get("/docs/*", httpSwagger.WrapHandler)
}
