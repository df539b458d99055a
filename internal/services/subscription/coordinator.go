// Package subscription согласует платёжного провайдера, бэкенд и локальный кэш:
// каталог, покупка, восстановление, текущая подписка с офлайн-режимом, истечение и повышение уровня.
package subscription

import (
	"context"
	"errors"
	"log/slog"
	"sort"

	"golang.org/x/sync/singleflight"

	"github.com/magabrotheeeer/entitlement/internal/apperr"
	"github.com/magabrotheeeer/entitlement/internal/clients/payment"
	"github.com/magabrotheeeer/entitlement/internal/lib/clock"
	"github.com/magabrotheeeer/entitlement/internal/lib/sl"
	"github.com/magabrotheeeer/entitlement/internal/metrics"
	"github.com/magabrotheeeer/entitlement/internal/models"
	"github.com/magabrotheeeer/entitlement/internal/reconcile"
	subcache "github.com/magabrotheeeer/entitlement/internal/subscription"
)

// PaymentProvider — платёжный провайдер (App Store, WeChat Pay, Alipay).
type PaymentProvider interface {
	FetchProducts(ctx context.Context, ids []string) ([]models.Product, error)
	Purchase(ctx context.Context, product models.Product) (*models.Transaction, error)
	RestorePurchases(ctx context.Context) ([]models.Transaction, error)
	Finish(ctx context.Context, tx models.Transaction) error
}

// Backend — операции подписки на бэкенде.
type Backend interface {
	GetProducts(ctx context.Context) ([]models.Product, error)
	VerifyReceipt(ctx context.Context, tx models.Transaction, token string) (*models.VerificationResult, error)
	GetStatus(ctx context.Context, token string) (*models.SubscriptionDTO, error)
	SyncSubscription(ctx context.Context, sub models.Subscription, token string) error
}

// Session даёт токен доступа и текущего пользователя.
type Session interface {
	AccessToken(ctx context.Context) (string, bool)
	CurrentUser() *models.User
}

// Reachability сообщает, доступен ли бэкенд.
type Reachability interface {
	Reachable() bool
}

// Reporter принимает транзакции, требующие ручной сверки.
type Reporter interface {
	Report(ctx context.Context, ev reconcile.Event) error
}

// Deps — зависимости координатора. Reach, Reporter и Metrics необязательны.
type Deps struct {
	Cache         *subcache.Cache
	Payment       PaymentProvider
	Backend       Backend
	Session       Session
	Reach         Reachability
	Reporter      Reporter
	Clock         clock.Clock
	Metrics       *metrics.Metrics
	ProductPrefix string
	Log           *slog.Logger
}

// Coordinator — единая точка доступа к подписке пользователя.
type Coordinator struct {
	cache    *subcache.Cache
	payment  PaymentProvider
	backend  Backend
	session  Session
	reach    Reachability
	reporter Reporter
	clock    clock.Clock
	metrics  *metrics.Metrics
	prefix   string
	log      *slog.Logger

	current singleflight.Group
}

// NewCoordinator создаёт координатор.
func NewCoordinator(d Deps) *Coordinator {
	c := &Coordinator{
		cache:    d.Cache,
		payment:  d.Payment,
		backend:  d.Backend,
		session:  d.Session,
		reach:    d.Reach,
		reporter: d.Reporter,
		clock:    d.Clock,
		metrics:  d.Metrics,
		prefix:   d.ProductPrefix,
		log:      d.Log,
	}
	if c.clock == nil {
		c.clock = clock.Real{}
	}
	if c.reporter == nil {
		c.reporter = reconcile.NewLogReporter(d.Log)
	}
	if c.prefix == "" {
		c.prefix = models.DefaultProductPrefix
	}
	return c
}

// FetchAvailableProducts возвращает каталог бэкенда, а при ошибке или пустом ответе встроенный каталог.
// Цены дополняются локализованными строками платёжного провайдера. Каталог не кэшируется.
func (c *Coordinator) FetchAvailableProducts(ctx context.Context) ([]models.Product, error) {
	const op = "subscription.Coordinator.FetchAvailableProducts"
	log := c.log.With(slog.String("op", op))

	products, err := c.backend.GetProducts(ctx)
	if err != nil || len(products) == 0 {
		if err != nil {
			log.Warn("backend catalog unavailable, using built-in catalog", sl.Err(err))
		}
		products = models.StaticCatalog(c.prefix)
	}
	if err = ctx.Err(); err != nil {
		return nil, apperr.Subscription(apperr.SubNetwork, err)
	}

	ids := make([]string, 0, len(products))
	for _, p := range products {
		ids = append(ids, p.ID)
	}
	store, err := c.payment.FetchProducts(ctx, ids)
	if err != nil {
		log.Warn("payment provider catalog unavailable", sl.Err(err))
		return products, nil
	}
	localized := make(map[string]string, len(store))
	for _, p := range store {
		if p.LocalizedPrice != "" {
			localized[p.ID] = p.LocalizedPrice
		}
	}
	for i := range products {
		if lp, ok := localized[products[i].ID]; ok {
			products[i].LocalizedPrice = lp
		}
	}
	return products, nil
}

// Purchase покупает продукт. Транзакция подтверждается у провайдера в любом случае;
// если бэкенд её не принял, она уходит на сверку, а подписка не кэшируется.
func (c *Coordinator) Purchase(ctx context.Context, product models.Product) (*models.PurchaseResult, error) {
	const op = "subscription.Coordinator.Purchase"
	log := c.log.With(slog.String("op", op), slog.String("product_id", product.ID))

	token, ok := c.session.AccessToken(ctx)
	if !ok {
		c.metrics.Purchased("unauthorized")
		return nil, &apperr.SubscriptionError{Kind: apperr.SubInsufficientPermissions, Reason: "sign-in required"}
	}

	tx, err := c.payment.Purchase(ctx, product)
	if err != nil {
		switch {
		case errors.Is(err, payment.ErrUserCancelled), errors.Is(err, context.Canceled):
			c.metrics.Purchased("cancelled")
			log.Info("purchase cancelled")
			return nil, apperr.Subscription(apperr.SubUserCancelled, err)
		case errors.Is(err, payment.ErrUnknownProduct):
			c.metrics.Purchased("failed")
			return nil, apperr.Subscription(apperr.SubProductNotFound, err)
		default:
			c.metrics.Purchased("failed")
			log.Error("payment failed", sl.Err(err))
			return nil, apperr.PurchaseFailed("payment provider rejected purchase", err)
		}
	}
	log = log.With(slog.String("transaction_id", tx.ID))

	result, verr := c.backend.VerifyReceipt(ctx, *tx, token)
	if err = c.payment.Finish(ctx, *tx); err != nil {
		log.Error("failed to finish transaction", sl.Err(err))
	}

	if verr != nil || result == nil || !result.Success {
		reason := "receipt rejected"
		switch {
		case verr != nil:
			reason = verr.Error()
		case result != nil && result.Message != "":
			reason = result.Message
		}
		c.metrics.VerificationFailed()
		c.metrics.Purchased("unverified")
		log.Error("transaction finished but not verified", slog.String("reason", reason))
		c.reportUnverified(ctx, *tx, reason)
		return nil, &apperr.SubscriptionError{Kind: apperr.SubVerificationFailed, Reason: reason, Err: verr}
	}

	var sub models.Subscription
	if result.Subscription != nil {
		sub, err = result.Subscription.ToSubscription(c.clock.Now())
		if err != nil {
			log.Warn("backend returned malformed subscription, using transaction", sl.Err(err))
		}
	}
	if result.Subscription == nil || err != nil {
		sub, err = c.fromTransaction(*tx)
		if err != nil {
			sub = c.fromProduct(*tx, product)
		}
	}

	_ = c.cache.Cache(ctx, sub)
	c.syncBestEffort(ctx, sub)
	c.metrics.Purchased("success")
	log.Info("purchase completed", slog.String("tier", string(sub.Tier)))
	return &models.PurchaseResult{Subscription: sub, Transaction: *tx}, nil
}

// RestorePurchases восстанавливает подписки по транзакциям провайдера, от новых к старым,
// и кэширует самую свежую активную.
func (c *Coordinator) RestorePurchases(ctx context.Context) ([]models.Subscription, error) {
	const op = "subscription.Coordinator.RestorePurchases"
	log := c.log.With(slog.String("op", op))

	txs, err := c.payment.RestorePurchases(ctx)
	if err != nil {
		log.Warn("restore failed", sl.Err(err))
		return nil, apperr.Subscription(apperr.SubNetwork, err)
	}

	subs := make([]models.Subscription, 0, len(txs))
	for _, tx := range txs {
		sub, err := c.fromTransaction(tx)
		if err != nil {
			log.Warn("skipping transaction with unknown product", slog.String("transaction_id", tx.ID), sl.Err(err))
			continue
		}
		subs = append(subs, sub)
	}
	sort.SliceStable(subs, func(i, j int) bool {
		return subs[i].StartDate.After(subs[j].StartDate)
	})

	if active := c.firstActive(subs); active != nil {
		_ = c.cache.Cache(ctx, *active)
	}
	log.Debug("purchases restored", slog.Int("count", len(subs)))
	return subs, nil
}

// GetCurrentSubscription возвращает текущую подписку: из действительного кэша, со статуса бэкенда,
// через восстановление покупок и, если сеть подвела, снова из действительного кэша.
// nil без ошибки означает бесплатный уровень.
func (c *Coordinator) GetCurrentSubscription(ctx context.Context) (*models.Subscription, error) {
	const op = "subscription.Coordinator.GetCurrentSubscription"

	if sub := c.cache.GetValid(ctx); sub != nil {
		c.metrics.CacheLookup(true)
		return sub, nil
	}
	c.metrics.CacheLookup(false)

	// общий запрос не должен прерываться отменой ctx одного из ожидающих
	ch := c.current.DoChan("current", func() (any, error) {
		return c.fetchCurrent(context.WithoutCancel(ctx))
	})
	var (
		v   any
		err error
	)
	select {
	case <-ctx.Done():
		err = ctx.Err()
	case res := <-ch:
		v, err = res.Val, res.Err
	}
	if err == nil {
		sub, _ := v.(*models.Subscription)
		if sub == nil {
			return nil, nil
		}
		out := *sub
		return &out, nil
	}

	if sub := c.cache.GetValid(ctx); sub != nil {
		return sub, nil
	}
	c.log.Warn("subscription unavailable", slog.String("op", op), sl.Err(err))
	return nil, apperr.Subscription(apperr.SubNetwork, err)
}

func (c *Coordinator) fetchCurrent(ctx context.Context) (*models.Subscription, error) {
	const op = "subscription.Coordinator.fetchCurrent"
	log := c.log.With(slog.String("op", op))

	if c.reachable() {
		if token, ok := c.session.AccessToken(ctx); ok {
			dto, err := c.backend.GetStatus(ctx, token)
			switch {
			case err != nil:
				log.Warn("backend status unavailable", sl.Err(err))
			case dto == nil:
				_ = c.cache.Clear(ctx)
				return nil, nil
			default:
				sub, err := dto.ToSubscription(c.clock.Now())
				if err != nil {
					log.Warn("backend returned malformed subscription", sl.Err(err))
					break
				}
				if sub.IsFree() {
					_ = c.cache.Clear(ctx)
					return nil, nil
				}
				_ = c.cache.Cache(ctx, sub)
				return &sub, nil
			}
		}
	}

	subs, err := c.RestorePurchases(ctx)
	if err != nil {
		return nil, err
	}
	return c.firstActive(subs), nil
}

// GetCurrentSubscriptionOffline никогда не возвращает ошибку. Устаревший кэш означает
// отсутствие доступа; без кэша делается одна попытка получить подписку по сети.
func (c *Coordinator) GetCurrentSubscriptionOffline(ctx context.Context) *models.Subscription {
	if sub := c.cache.GetValid(ctx); sub != nil {
		c.metrics.CacheLookup(true)
		return sub
	}
	if c.cache.Has(ctx) {
		c.metrics.OfflineDenied()
		c.log.Info("cached subscription is stale, premium access restricted",
			slog.String("op", "subscription.Coordinator.GetCurrentSubscriptionOffline"))
		return nil
	}
	sub, err := c.GetCurrentSubscription(ctx)
	if err != nil {
		return nil
	}
	return sub
}

// ValidateSubscription сообщает, даёт ли текущая подписка доступ.
// Отменённая подписка даёт доступ до конца оплаченного периода.
func (c *Coordinator) ValidateSubscription(ctx context.Context) (bool, error) {
	sub, err := c.GetCurrentSubscription(ctx)
	if err != nil {
		return false, err
	}
	if sub == nil {
		return false, nil
	}
	return sub.IsActive(c.clock.Now()) || c.CancelledSubscriptionHasAccess(*sub), nil
}

// CheckAndHandleExpiration помечает истёкшую подписку как expired, перезаписывает кэш
// и сообщает бэкенду. Возвращает true, если подписка истекла.
func (c *Coordinator) CheckAndHandleExpiration(ctx context.Context) (bool, error) {
	const op = "subscription.Coordinator.CheckAndHandleExpiration"

	sub, err := c.GetCurrentSubscription(ctx)
	if err != nil {
		return false, err
	}
	if sub == nil || !sub.IsExpired(c.clock.Now()) {
		return false, nil
	}

	expired := *sub
	if expired.Status != models.StatusExpired {
		expired.Status = models.StatusExpired
		c.metrics.ExpirationCorrected()
		c.log.Info("subscription expired",
			slog.String("op", op),
			slog.String("subscription_id", expired.ID),
			slog.Time("expiry_date", expired.ExpiryDate),
		)
	}
	_ = c.cache.Cache(ctx, expired)
	c.syncBestEffort(ctx, expired)
	return true, nil
}

// SyncSubscriptionOnNetworkRestore сверяет подписку после восстановления сети:
// нет активной — кэш очищается, есть — кэшируется и отправляется на бэкенд, если пользователь вошёл.
func (c *Coordinator) SyncSubscriptionOnNetworkRestore(ctx context.Context) error {
	const op = "subscription.Coordinator.SyncSubscriptionOnNetworkRestore"
	log := c.log.With(slog.String("op", op))

	subs, err := c.RestorePurchases(ctx)
	if err != nil {
		c.metrics.Synced("failed")
		return err
	}

	active := c.firstActive(subs)
	if active == nil {
		if err = c.cache.Clear(ctx); err != nil {
			c.metrics.Synced("failed")
			return apperr.Subscription(apperr.SubNetwork, err)
		}
		c.metrics.Synced("cleared")
		log.Info("no active subscription, cache cleared")
		return nil
	}

	token, ok := c.session.AccessToken(ctx)
	if !ok {
		c.metrics.Synced("local")
		return nil
	}
	if err = c.backend.SyncSubscription(ctx, *active, token); err != nil {
		c.metrics.Synced("failed")
		log.Warn("failed to push subscription to backend", sl.Err(err))
		return apperr.Subscription(apperr.SubNetwork, err)
	}
	c.metrics.Synced("pushed")
	log.Info("subscription synced", slog.String("subscription_id", active.ID))
	return nil
}

// QuoteUpgrade рассчитывает доплату за повышение уровня без покупки.
func (c *Coordinator) QuoteUpgrade(ctx context.Context, target models.Tier) (*models.UpgradeQuote, error) {
	current, err := c.GetCurrentSubscription(ctx)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, &apperr.SubscriptionError{Kind: apperr.SubProductNotFound, Reason: "no current subscription"}
	}
	if !current.Tier.Less(target) {
		return nil, apperr.PurchaseFailed("can only upgrade to a higher tier", nil)
	}

	products, err := c.FetchAvailableProducts(ctx)
	if err != nil {
		return nil, err
	}
	upgrade, ok := models.FindProduct(products, target, current.BillingPeriod)
	if !ok {
		return nil, &apperr.SubscriptionError{Kind: apperr.SubProductNotFound, Reason: "no upgrade product for " + string(target)}
	}

	days := current.DaysRemaining(c.clock.Now())
	total := current.BillingPeriod.TotalDays()
	return &models.UpgradeQuote{
		From:           current.Tier,
		To:             target,
		BillingPeriod:  current.BillingPeriod,
		Product:        upgrade,
		DaysRemaining:  days,
		ProratedAmount: Prorate(c.priceOf(products, *current), upgrade.Price, days, total),
	}, nil
}

// UpgradeSubscription повышает уровень: покупка продукта целевого уровня с тем же периодом.
// Понижение или тот же уровень отклоняются до обращения к провайдеру.
func (c *Coordinator) UpgradeSubscription(ctx context.Context, target models.Tier) (*models.PurchaseResult, *models.UpgradeQuote, error) {
	const op = "subscription.Coordinator.UpgradeSubscription"

	quote, err := c.QuoteUpgrade(ctx, target)
	if err != nil {
		return nil, nil, err
	}
	c.log.Info("upgrading subscription",
		slog.String("op", op),
		slog.String("from", string(quote.From)),
		slog.String("to", string(quote.To)),
		slog.Int("days_remaining", quote.DaysRemaining),
		slog.String("prorated_amount", quote.ProratedAmount.StringFixed(2)),
	)

	result, err := c.Purchase(ctx, quote.Product)
	if err != nil {
		return nil, quote, err
	}
	return result, quote, nil
}

// HandleCancelledSubscription отмечает подписку отменённой без автопродления.
// Доступ сохраняется до даты окончания.
func (c *Coordinator) HandleCancelledSubscription(ctx context.Context, sub models.Subscription) error {
	sub.Status = models.StatusCancelled
	sub.AutoRenew = false
	if err := c.cache.Cache(ctx, sub); err != nil {
		return apperr.Subscription(apperr.SubNetwork, err)
	}
	c.syncBestEffort(ctx, sub)
	return nil
}

// CancelledSubscriptionHasAccess — отменённая подписка ещё не истекла.
func (c *Coordinator) CancelledSubscriptionHasAccess(sub models.Subscription) bool {
	return sub.Status == models.StatusCancelled && !sub.IsExpired(c.clock.Now())
}

// Reset очищает кэш подписки. Вызывается при выходе пользователя.
func (c *Coordinator) Reset(ctx context.Context) {
	if err := c.cache.Clear(ctx); err != nil {
		c.log.Error("failed to reset subscription cache", slog.String("op", "subscription.Coordinator.Reset"), sl.Err(err))
	}
}

func (c *Coordinator) reachable() bool {
	return c.reach == nil || c.reach.Reachable()
}

func (c *Coordinator) firstActive(subs []models.Subscription) *models.Subscription {
	now := c.clock.Now()
	for i := range subs {
		if subs[i].IsActive(now) {
			sub := subs[i]
			return &sub
		}
	}
	return nil
}

func (c *Coordinator) syncBestEffort(ctx context.Context, sub models.Subscription) {
	token, ok := c.session.AccessToken(ctx)
	if !ok {
		return
	}
	if err := c.backend.SyncSubscription(ctx, sub, token); err != nil {
		c.log.Warn("best-effort sync failed",
			slog.String("op", "subscription.Coordinator.syncBestEffort"),
			slog.String("subscription_id", sub.ID),
			sl.Err(err),
		)
	}
}

func (c *Coordinator) reportUnverified(ctx context.Context, tx models.Transaction, reason string) {
	ev := reconcile.Event{
		TransactionID: tx.ID,
		OriginalID:    tx.OriginalID,
		ProductID:     tx.ProductID,
		UserID:        c.userID(),
		Reason:        reason,
		OccurredAt:    c.clock.Now(),
	}
	if err := c.reporter.Report(ctx, ev); err != nil {
		c.log.Error("failed to report transaction for reconciliation",
			slog.String("op", "subscription.Coordinator.reportUnverified"),
			slog.String("transaction_id", tx.ID),
			sl.Err(err),
		)
	}
}

func (c *Coordinator) userID() string {
	if u := c.session.CurrentUser(); u != nil {
		return u.ID
	}
	return ""
}

func (c *Coordinator) fromTransaction(tx models.Transaction) (models.Subscription, error) {
	tier, period, err := models.ParseProductID(tx.ProductID)
	if err != nil {
		return models.Subscription{}, err
	}
	return c.newSubscription(tx, tier, period), nil
}

func (c *Coordinator) fromProduct(tx models.Transaction, product models.Product) models.Subscription {
	return c.newSubscription(tx, product.Tier, product.BillingPeriod)
}

func (c *Coordinator) newSubscription(tx models.Transaction, tier models.Tier, period models.BillingPeriod) models.Subscription {
	expiry := period.After(tx.PurchaseDate)
	if tx.ExpirationDate != nil {
		expiry = *tx.ExpirationDate
	}
	method := tx.Method
	if method == "" {
		method = models.PaymentAppleIAP
	}
	return models.Subscription{
		ID:            tx.ID,
		UserID:        c.userID(),
		Tier:          tier,
		BillingPeriod: period,
		Status:        models.StatusActive,
		StartDate:     tx.PurchaseDate,
		ExpiryDate:    expiry,
		AutoRenew:     true,
		PaymentMethod: method,
		LastSyncedAt:  c.clock.Now(),
	}
}
