// Package devserver собирает HTTP-сервер локального бэкенда.
package devserver

import (
	"log/slog"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"
	"golang.org/x/time/rate"

	"github.com/magabrotheeeer/entitlement/internal/devbackend"
	"github.com/magabrotheeeer/entitlement/internal/http/handlers/auth/exchange"
	"github.com/magabrotheeeer/entitlement/internal/http/handlers/auth/logout"
	"github.com/magabrotheeeer/entitlement/internal/http/handlers/auth/refresh"
	"github.com/magabrotheeeer/entitlement/internal/http/handlers/auth/validate"
	"github.com/magabrotheeeer/entitlement/internal/http/handlers/health"
	"github.com/magabrotheeeer/entitlement/internal/http/handlers/subscription/products"
	"github.com/magabrotheeeer/entitlement/internal/http/handlers/subscription/status"
	"github.com/magabrotheeeer/entitlement/internal/http/handlers/subscription/synchronize"
	"github.com/magabrotheeeer/entitlement/internal/http/handlers/subscription/verify"
	"github.com/magabrotheeeer/entitlement/internal/http/middlewarectx"
	"github.com/magabrotheeeer/entitlement/internal/metrics"
)

// RegisterRoutes регистрирует все маршруты локального бэкенда.
func RegisterRoutes(r chi.Router, logger *slog.Logger, svc *devbackend.Service, m *metrics.Metrics, gatherer prometheus.Gatherer, limiter *rate.Limiter) {
	// Глобальные middleware
	r.Use(
		middleware.RequestID,
		middleware.Logger,
		middleware.Recoverer,
		middleware.URLFormat,
		middlewarectx.MetricsMiddleware(m),
	)

	r.Get("/health", health.New().ServeHTTP)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middlewarectx.RateLimitMiddleware(limiter, logger))

		// Открытые конечные точки
		r.Post("/auth/oauth/exchange", exchange.New(logger, svc).ServeHTTP)
		r.Post("/auth/token/refresh", refresh.New(logger, svc).ServeHTTP)
		r.Get("/subscription/products", products.New(svc).ServeHTTP)

		// Группа с JWT аутентификацией
		r.Group(func(r chi.Router) {
			r.Use(middlewarectx.JWTMiddleware(svc, logger))
			r.Post("/auth/token/validate", validate.New(logger).ServeHTTP)
			r.Post("/auth/logout", logout.New(logger, svc).ServeHTTP)
			r.Get("/subscription/status", status.New(logger, svc).ServeHTTP)
			r.Post("/subscription/verify", verify.New(logger, svc).ServeHTTP)
			r.Post("/subscription/sync", synchronize.New(logger, svc).ServeHTTP)
		})
	})

	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	// Swagger docs endpoint
	r.Get("/docs/*", httpSwagger.WrapHandler)
}
