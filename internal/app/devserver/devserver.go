package devserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/magabrotheeeer/entitlement/internal/clients/payment"
	"github.com/magabrotheeeer/entitlement/internal/config"
	"github.com/magabrotheeeer/entitlement/internal/devbackend"
	"github.com/magabrotheeeer/entitlement/internal/lib/clock"
	"github.com/magabrotheeeer/entitlement/internal/lib/jwt"
	"github.com/magabrotheeeer/entitlement/internal/metrics"
	"github.com/magabrotheeeer/entitlement/internal/models"
)

// App — локальный бэкенд подписок.
type App struct {
	server *http.Server
	logger *slog.Logger
}

// New собирает сервис и маршруты по конфигу.
func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	const op = "devserver.New"

	svc, err := NewService(cfg, clock.Real{}, logger)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	router := chi.NewRouter()
	RegisterRoutes(router, logger, svc, m, reg, rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst))

	srv := &http.Server{
		Addr:         cfg.AddressHTTP,
		Handler:      router,
		ReadTimeout:  cfg.TimeoutHTTP,
		WriteTimeout: cfg.TimeoutHTTP,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return &App{
		server: srv,
		logger: logger,
	}, nil
}

// NewService создаёт сервис локального бэкенда. Секреты JWT и чеков обязательны.
func NewService(cfg *config.Config, clk clock.Clock, logger *slog.Logger) (*devbackend.Service, error) {
	if cfg.JWTSecretKey == "" {
		return nil, errors.New("jwttoken.jwt_secret_key is required")
	}
	receipts, err := payment.NewReceiptCodec(cfg.Payment.ReceiptSecret)
	if err != nil {
		return nil, err
	}

	codes := make(map[models.Provider]string, len(cfg.Identity.Codes))
	for name, code := range cfg.Identity.Codes {
		p, err := models.ParseProvider(name)
		if err != nil {
			return nil, err
		}
		codes[p] = code
	}

	return devbackend.New(
		jwt.NewJWTMaker(cfg.JWTSecretKey, cfg.TokenTTL, cfg.RefreshTokenTTL),
		receipts,
		models.StaticCatalog(cfg.Payment.ProductPrefix),
		codes,
		clk,
		logger,
	), nil
}

// Run обслуживает запросы до отмены ctx, затем мягко останавливает сервер.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP server starting on", slog.String("address", a.server.Addr))
		err := a.server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
		} else {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		timeoutCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		a.logger.Info("shutting down HTTP server gracefully")
		return a.server.Shutdown(timeoutCtx)
	}
}
