// Package entitlement собирает клиентскую часть: сессию, координатор подписки,
// монитор сети и фоновые проверки истечения.
package entitlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/magabrotheeeer/entitlement/internal/clients/backend"
	"github.com/magabrotheeeer/entitlement/internal/clients/identity"
	"github.com/magabrotheeeer/entitlement/internal/clients/payment"
	"github.com/magabrotheeeer/entitlement/internal/config"
	"github.com/magabrotheeeer/entitlement/internal/lib/clock"
	"github.com/magabrotheeeer/entitlement/internal/lib/sealer"
	"github.com/magabrotheeeer/entitlement/internal/lib/sl"
	"github.com/magabrotheeeer/entitlement/internal/metrics"
	"github.com/magabrotheeeer/entitlement/internal/models"
	"github.com/magabrotheeeer/entitlement/internal/services/auth"
	"github.com/magabrotheeeer/entitlement/internal/services/connectivity"
	"github.com/magabrotheeeer/entitlement/internal/services/scheduler"
	subservice "github.com/magabrotheeeer/entitlement/internal/services/subscription"
	subcache "github.com/magabrotheeeer/entitlement/internal/subscription"
)

// Без настроенных кодов каждый провайдер выдаёт код "dev", который принимает локальный бэкенд.
var defaultCodes = map[string]string{
	string(models.ProviderApple):  "dev",
	string(models.ProviderWeChat): "dev",
	string(models.ProviderAlipay): "dev",
}

// App — собранный клиент подписок.
type App struct {
	Session     *auth.Session
	Coordinator *subservice.Coordinator
	Monitor     *connectivity.Monitor
	Payment     *payment.Sandbox

	scheduler *scheduler.SchedulerService
	registry  *prometheus.Registry
	cfg       *config.Config
	logger    *slog.Logger
	closers   []closer
}

// New подключает хранилища и собирает сервисы по конфигу.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	const op = "entitlement.New"

	a := &App{
		registry: prometheus.NewRegistry(),
		cfg:      cfg,
		logger:   logger,
	}
	if err := a.build(ctx); err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg := a.cfg
	clk := clock.Real{}

	if cfg.CredentialStore.SealKey == "" {
		return errors.New("credential_store.seal_key is required")
	}
	seal, err := sealer.New(cfg.CredentialStore.SealKey)
	if err != nil {
		return err
	}

	creds, closeCreds, err := newCredentialStore(ctx, cfg.CredentialStore, seal)
	if err != nil {
		return err
	}
	a.addCloser(closeCreds)

	slot, closeSlot, err := newSlotStore(ctx, cfg)
	if err != nil {
		return err
	}
	a.addCloser(closeSlot)

	reporter, closeReporter, err := newReporter(ctx, cfg.RabbitMQ, a.logger)
	if err != nil {
		return err
	}
	a.addCloser(closeReporter)

	m, err := metrics.New(a.registry)
	if err != nil {
		return err
	}

	client, err := backend.NewClient(cfg.Backend.BaseURL, cfg.Backend.Timeout, a.logger)
	if err != nil {
		return err
	}

	receipts, err := payment.NewReceiptCodec(cfg.Payment.ReceiptSecret)
	if err != nil {
		return err
	}
	method, err := models.ParsePaymentMethod(cfg.Payment.Method)
	if err != nil {
		return err
	}
	a.Payment, err = payment.NewSandbox(receipts, clk, a.logger, payment.SandboxOptions{
		Products:   models.StaticCatalog(cfg.Payment.ProductPrefix),
		Method:     method,
		LedgerPath: cfg.Payment.LedgerPath,
	})
	if err != nil {
		return err
	}

	a.Session = auth.NewSession(creds, client, clk, m, a.logger)
	codes := cfg.Identity.Codes
	if len(codes) == 0 {
		codes = defaultCodes
	}
	providers, err := identity.FromCodes(codes)
	if err != nil {
		return err
	}
	for _, p := range providers {
		a.Session.RegisterProvider(p.Provider(), p)
	}

	a.Monitor = connectivity.NewMonitor(
		client,
		cfg.Connectivity.ProbeInterval,
		connectivity.NewLimiter(cfg.Connectivity.RestoreEvery, cfg.Connectivity.RestoreBurst),
		a.logger,
	)

	a.Coordinator = subservice.NewCoordinator(subservice.Deps{
		Cache:         subcache.NewCache(slot, clk, a.logger),
		Payment:       a.Payment,
		Backend:       client,
		Session:       a.Session,
		Reach:         a.Monitor,
		Reporter:      reporter,
		Clock:         clk,
		Metrics:       m,
		ProductPrefix: cfg.Payment.ProductPrefix,
		Log:           a.logger,
	})

	a.Session.OnSignedOut(a.Coordinator.Reset)
	a.Monitor.OnRestore(a.Coordinator.SyncSubscriptionOnNetworkRestore)

	a.scheduler = scheduler.NewSchedulerService(a.Coordinator, cfg.Agent.ExpirationCheckInterval, a.logger)
	return nil
}

func (a *App) addCloser(c closer) {
	if c != nil {
		a.closers = append(a.closers, c)
	}
}

// Start определяет доступность бэкенда и восстанавливает сессию из хранилища.
func (a *App) Start(ctx context.Context) auth.State {
	a.Monitor.Prime(ctx)
	return a.Session.Restore(ctx)
}

// RunAgent крутит монитор сети, проверку истечения и сервер метрик до отмены ctx.
func (a *App) RunAgent(ctx context.Context) error {
	const op = "entitlement.RunAgent"

	a.Session.Restore(ctx)

	router := chi.NewRouter()
	router.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              a.cfg.Agent.MetricsAddress,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := a.Monitor.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		a.scheduler.CheckExpiration(gctx)
		return nil
	})
	g.Go(func() error {
		a.logger.Info("metrics server starting on", slog.String("address", srv.Addr))
		err := srv.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		timeoutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(timeoutCtx)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Close освобождает подключения к хранилищам и брокеру.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Error("failed to close resource", sl.Err(err))
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
