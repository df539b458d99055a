package subscription

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/entitlement/internal/apperr"
	"github.com/magabrotheeeer/entitlement/internal/clients/backend"
	"github.com/magabrotheeeer/entitlement/internal/clients/payment"
	"github.com/magabrotheeeer/entitlement/internal/lib/clock"
	"github.com/magabrotheeeer/entitlement/internal/lib/sl"
	"github.com/magabrotheeeer/entitlement/internal/models"
	"github.com/magabrotheeeer/entitlement/internal/reconcile"
	subcache "github.com/magabrotheeeer/entitlement/internal/subscription"
)

type BackendMock struct {
	mock.Mock
}

func (m *BackendMock) GetProducts(ctx context.Context) ([]models.Product, error) {
	args := m.Called(ctx)
	products, _ := args.Get(0).([]models.Product)
	return products, args.Error(1)
}

func (m *BackendMock) VerifyReceipt(ctx context.Context, tx models.Transaction, token string) (*models.VerificationResult, error) {
	args := m.Called(ctx, tx, token)
	res, _ := args.Get(0).(*models.VerificationResult)
	return res, args.Error(1)
}

func (m *BackendMock) GetStatus(ctx context.Context, token string) (*models.SubscriptionDTO, error) {
	args := m.Called(ctx, token)
	dto, _ := args.Get(0).(*models.SubscriptionDTO)
	return dto, args.Error(1)
}

func (m *BackendMock) SyncSubscription(ctx context.Context, sub models.Subscription, token string) error {
	args := m.Called(ctx, sub, token)
	return args.Error(0)
}

type fakeSession struct {
	token string
}

func (s fakeSession) AccessToken(context.Context) (string, bool) { return s.token, s.token != "" }

func (s fakeSession) CurrentUser() *models.User {
	if s.token == "" {
		return nil
	}
	return &models.User{ID: "user-1"}
}

type fakeReach struct{ online bool }

func (r *fakeReach) Reachable() bool { return r.online }

type recordingReporter struct {
	mu     sync.Mutex
	events []reconcile.Event
}

func (r *recordingReporter) Report(_ context.Context, ev reconcile.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

type brokenRestore struct {
	*payment.Sandbox
}

func (brokenRestore) RestorePurchases(context.Context) ([]models.Transaction, error) {
	return nil, errors.New("store unreachable")
}

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	coord    *Coordinator
	cache    *subcache.Cache
	sandbox  *payment.Sandbox
	backend  *BackendMock
	reach    *fakeReach
	reporter *recordingReporter
	clock    *clock.Manual
}

type fixtureOption func(*Deps, *fixture)

func withoutToken() fixtureOption {
	return func(d *Deps, _ *fixture) { d.Session = fakeSession{} }
}

func withBrokenRestore() fixtureOption {
	return func(d *Deps, f *fixture) { d.Payment = brokenRestore{f.sandbox} }
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	clk := clock.NewManual(epoch)
	codec, err := payment.NewReceiptCodec("receipt-secret")
	require.NoError(t, err)
	sandbox, err := payment.NewSandbox(codec, clk, sl.Discard(), payment.SandboxOptions{
		Products: models.StaticCatalog(models.DefaultProductPrefix),
	})
	require.NoError(t, err)

	f := &fixture{
		cache:    subcache.NewCache(subcache.NewMemoryStore(), clk, sl.Discard()),
		sandbox:  sandbox,
		backend:  &BackendMock{},
		reach:    &fakeReach{online: true},
		reporter: &recordingReporter{},
		clock:    clk,
	}
	d := Deps{
		Cache:    f.cache,
		Payment:  sandbox,
		Backend:  f.backend,
		Session:  fakeSession{token: "access-1"},
		Reach:    f.reach,
		Reporter: f.reporter,
		Clock:    clk,
		Log:      sl.Discard(),
	}
	for _, opt := range opts {
		opt(&d, f)
	}
	f.coord = NewCoordinator(d)
	return f
}

func product(t *testing.T, tier models.Tier, period models.BillingPeriod) models.Product {
	t.Helper()
	p, ok := models.FindProduct(models.StaticCatalog(models.DefaultProductPrefix), tier, period)
	require.True(t, ok)
	return p
}

func subscriptionUntil(tier models.Tier, expiry time.Time) models.Subscription {
	return models.Subscription{
		ID:            "sub-1",
		UserID:        "user-1",
		Tier:          tier,
		BillingPeriod: models.Monthly,
		Status:        models.StatusActive,
		StartDate:     expiry.AddDate(0, -1, 0),
		ExpiryDate:    expiry,
		AutoRenew:     true,
		PaymentMethod: models.PaymentAppleIAP,
	}
}

func TestProrate(t *testing.T) {
	tests := []struct {
		name    string
		current int64
		target  int64
		days    int
		total   int
		want    string
	}{
		{"pro to max monthly half period", 10, 20, 15, 30, "5"},
		{"pro to max yearly", 100, 200, 182, 365, "49.86"},
		{"rounds half up", 0, 1, 1, 8, "0.13"},
		{"no days left", 10, 20, 0, 30, "0"},
		{"cheaper target clamps to zero", 20, 10, 15, 30, "0"},
		{"days capped by period", 10, 20, 31, 30, "10"},
		{"zero period", 10, 20, 15, 0, "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Prorate(decimal.NewFromInt(tt.current), decimal.NewFromInt(tt.target), tt.days, tt.total)
			assert.True(t, decimal.RequireFromString(tt.want).Equal(got), "got %s", got)
		})
	}
}

func TestFetchAvailableProducts(t *testing.T) {
	t.Run("backend catalog", func(t *testing.T) {
		f := newFixture(t)
		remote := []models.Product{product(t, models.TierPro, models.Monthly)}
		remote[0].LocalizedPrice = ""
		f.backend.On("GetProducts", mock.Anything).Return(remote, nil).Once()

		got, err := f.coord.FetchAvailableProducts(context.Background())
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "¥10/月", got[0].LocalizedPrice)
	})

	t.Run("falls back to built-in catalog", func(t *testing.T) {
		f := newFixture(t)
		f.backend.On("GetProducts", mock.Anything).Return(nil, backend.ErrUnavailable).Once()

		got, err := f.coord.FetchAvailableProducts(context.Background())
		require.NoError(t, err)
		assert.Len(t, got, 4)
	})

	t.Run("empty backend catalog", func(t *testing.T) {
		f := newFixture(t)
		f.backend.On("GetProducts", mock.Anything).Return([]models.Product{}, nil).Once()

		got, err := f.coord.FetchAvailableProducts(context.Background())
		require.NoError(t, err)
		assert.Len(t, got, 4)
	})
}

func TestPurchase_RequiresSignIn(t *testing.T) {
	f := newFixture(t, withoutToken())

	res, err := f.coord.Purchase(context.Background(), product(t, models.TierPro, models.Monthly))
	assert.Nil(t, res)
	assert.ErrorIs(t, err, apperr.ErrInsufficientPermissions)

	txs, err := f.sandbox.RestorePurchases(context.Background())
	require.NoError(t, err)
	assert.Empty(t, txs)
	f.backend.AssertNotCalled(t, "VerifyReceipt", mock.Anything, mock.Anything, mock.Anything)
}

func TestPurchase_Success(t *testing.T) {
	f := newFixture(t)
	f.backend.On("VerifyReceipt", mock.Anything, mock.Anything, "access-1").
		Return(&models.VerificationResult{Success: true}, nil).Once()
	f.backend.On("SyncSubscription", mock.Anything, mock.Anything, "access-1").Return(nil).Once()

	res, err := f.coord.Purchase(context.Background(), product(t, models.TierPro, models.Monthly))
	require.NoError(t, err)
	assert.Equal(t, models.TierPro, res.Subscription.Tier)
	assert.Equal(t, models.StatusActive, res.Subscription.Status)
	assert.Equal(t, "user-1", res.Subscription.UserID)
	assert.Equal(t, epoch.AddDate(0, 1, 0), res.Subscription.ExpiryDate)

	cached := f.cache.GetValid(context.Background())
	require.NotNil(t, cached)
	assert.Equal(t, res.Transaction.ID, cached.ID)
	assert.Empty(t, f.sandbox.Unfinished())
	f.backend.AssertExpectations(t)
}

func TestPurchase_UsesBackendSubscription(t *testing.T) {
	f := newFixture(t)
	dto := models.NewSubscriptionDTO(subscriptionUntil(models.TierPro, epoch.Add(40*24*time.Hour)))
	dto.ID = "backend-sub"
	f.backend.On("VerifyReceipt", mock.Anything, mock.Anything, "access-1").
		Return(&models.VerificationResult{Success: true, Subscription: &dto}, nil).Once()
	f.backend.On("SyncSubscription", mock.Anything, mock.Anything, "access-1").Return(nil).Maybe()

	res, err := f.coord.Purchase(context.Background(), product(t, models.TierPro, models.Monthly))
	require.NoError(t, err)
	assert.Equal(t, "backend-sub", res.Subscription.ID)
	assert.Equal(t, epoch, res.Subscription.LastSyncedAt)
}

func TestPurchase_VerificationFailure(t *testing.T) {
	tests := []struct {
		name   string
		result *models.VerificationResult
		err    error
	}{
		{name: "receipt rejected", result: &models.VerificationResult{Success: false, Message: "bad receipt"}},
		{name: "backend unreachable", err: backend.ErrUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.backend.On("VerifyReceipt", mock.Anything, mock.Anything, "access-1").Return(tt.result, tt.err).Once()

			res, err := f.coord.Purchase(context.Background(), product(t, models.TierMax, models.Yearly))
			assert.Nil(t, res)
			assert.ErrorIs(t, err, apperr.ErrVerificationFailed)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
			}

			assert.Empty(t, f.sandbox.Unfinished(), "transaction must be finished")
			require.Len(t, f.reporter.events, 1)
			assert.Equal(t, "user-1", f.reporter.events[0].UserID)
			assert.Equal(t, product(t, models.TierMax, models.Yearly).ID, f.reporter.events[0].ProductID)
			assert.False(t, f.cache.Has(context.Background()))
		})
	}
}

func TestPurchase_PaymentErrors(t *testing.T) {
	tests := []struct {
		name    string
		outcome payment.Outcome
		want    error
	}{
		{"cancelled", payment.OutcomeCancel, apperr.ErrPurchaseCancelled},
		{"declined", payment.OutcomeDecline, apperr.ErrPurchaseFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.sandbox.SetNextOutcome(tt.outcome)

			_, err := f.coord.Purchase(context.Background(), product(t, models.TierPro, models.Monthly))
			assert.ErrorIs(t, err, tt.want)
			assert.False(t, f.cache.Has(context.Background()))
		})
	}

	t.Run("unknown product", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.coord.Purchase(context.Background(), models.Product{ID: "x.pro.weekly"})
		assert.ErrorIs(t, err, apperr.ErrProductNotFound)
	})
}

func TestRestorePurchases_CachesMostRecentActive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.sandbox.Purchase(ctx, product(t, models.TierPro, models.Monthly))
	require.NoError(t, err)
	f.clock.Advance(time.Hour)
	latest, err := f.sandbox.Purchase(ctx, product(t, models.TierMax, models.Monthly))
	require.NoError(t, err)

	subs, err := f.coord.RestorePurchases(ctx)
	require.NoError(t, err)
	require.Len(t, subs, 2)
	assert.Equal(t, latest.ID, subs[0].ID)

	cached := f.cache.GetValid(ctx)
	require.NotNil(t, cached)
	assert.Equal(t, models.TierMax, cached.Tier)
}

func TestGetCurrentSubscription(t *testing.T) {
	t.Run("valid cache is used without network", func(t *testing.T) {
		f := newFixture(t)
		sub := subscriptionUntil(models.TierPro, epoch.Add(10*24*time.Hour))
		require.NoError(t, f.cache.Cache(context.Background(), sub))

		got, err := f.coord.GetCurrentSubscription(context.Background())
		require.NoError(t, err)
		assert.Equal(t, sub, *got)
		f.backend.AssertNotCalled(t, "GetStatus", mock.Anything, mock.Anything)
	})

	t.Run("backend status is cached", func(t *testing.T) {
		f := newFixture(t)
		dto := models.NewSubscriptionDTO(subscriptionUntil(models.TierMax, epoch.Add(10*24*time.Hour)))
		f.backend.On("GetStatus", mock.Anything, "access-1").Return(&dto, nil).Once()

		got, err := f.coord.GetCurrentSubscription(context.Background())
		require.NoError(t, err)
		assert.Equal(t, models.TierMax, got.Tier)
		assert.True(t, f.cache.IsValid(context.Background()))
	})

	t.Run("free tier clears cache", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.cache.Cache(context.Background(), subscriptionUntil(models.TierPro, epoch.Add(time.Hour))))
		f.clock.Advance(25 * time.Hour)
		f.backend.On("GetStatus", mock.Anything, "access-1").Return(nil, nil).Once()

		got, err := f.coord.GetCurrentSubscription(context.Background())
		require.NoError(t, err)
		assert.Nil(t, got)
		assert.False(t, f.cache.Has(context.Background()))
	})

	t.Run("offline falls back to restore", func(t *testing.T) {
		f := newFixture(t)
		f.reach.online = false
		tx, err := f.sandbox.Purchase(context.Background(), product(t, models.TierPro, models.Yearly))
		require.NoError(t, err)

		got, err := f.coord.GetCurrentSubscription(context.Background())
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, tx.ID, got.ID)
		f.backend.AssertNotCalled(t, "GetStatus", mock.Anything, mock.Anything)
	})

	t.Run("stale cache and no network", func(t *testing.T) {
		f := newFixture(t, withBrokenRestore())
		f.reach.online = false
		require.NoError(t, f.cache.Cache(context.Background(), subscriptionUntil(models.TierPro, epoch.Add(10*24*time.Hour))))
		f.clock.Advance(25 * time.Hour)

		got, err := f.coord.GetCurrentSubscription(context.Background())
		assert.Nil(t, got)
		assert.ErrorIs(t, err, apperr.ErrSubscriptionNetwork)
	})
}

func TestGetCurrentSubscription_CoalescesRemoteFetch(t *testing.T) {
	f := newFixture(t)
	dto := models.NewSubscriptionDTO(subscriptionUntil(models.TierPro, epoch.Add(10*24*time.Hour)))
	f.backend.On("GetStatus", mock.Anything, "access-1").
		WaitUntil(time.After(100*time.Millisecond)).
		Return(&dto, nil).Once()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := f.coord.GetCurrentSubscription(context.Background())
			assert.NoError(t, err)
			assert.NotNil(t, got)
		}()
	}
	wg.Wait()
	f.backend.AssertNumberOfCalls(t, "GetStatus", 1)
}

func TestGetCurrentSubscription_CancelledCallerDoesNotFailOthers(t *testing.T) {
	f := newFixture(t)
	dto := models.NewSubscriptionDTO(subscriptionUntil(models.TierPro, epoch.Add(10*24*time.Hour)))
	release := make(chan time.Time)
	var fetchErr error
	f.backend.On("GetStatus", mock.Anything, "access-1").
		WaitUntil(release).
		Run(func(args mock.Arguments) {
			fetchErr = args.Get(0).(context.Context).Err()
		}).
		Return(&dto, nil).Once()

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := f.coord.GetCurrentSubscription(ctx)
		firstErr <- err
	}()

	second := make(chan *models.Subscription, 1)
	go func() {
		got, err := f.coord.GetCurrentSubscription(context.Background())
		assert.NoError(t, err)
		second <- got
	}()
	time.Sleep(50 * time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(release)
	got := <-second
	require.NotNil(t, got)
	assert.Equal(t, models.TierPro, got.Tier)
	assert.NoError(t, fetchErr)
	assert.True(t, f.cache.IsValid(context.Background()))
}

func TestGetCurrentSubscriptionOffline(t *testing.T) {
	f := newFixture(t, withBrokenRestore())
	f.reach.online = false
	ctx := context.Background()
	sub := subscriptionUntil(models.TierPro, epoch.Add(30*24*time.Hour))
	require.NoError(t, f.cache.Cache(ctx, sub))

	f.clock.Advance(23*time.Hour + 59*time.Minute)
	got := f.coord.GetCurrentSubscriptionOffline(ctx)
	require.NotNil(t, got)
	assert.Equal(t, sub.ID, got.ID)

	f.clock.Advance(time.Hour + time.Minute)
	assert.Nil(t, f.coord.GetCurrentSubscriptionOffline(ctx))
}

func TestGetCurrentSubscriptionOffline_NoCache(t *testing.T) {
	f := newFixture(t, withBrokenRestore())
	f.reach.online = false

	assert.Nil(t, f.coord.GetCurrentSubscriptionOffline(context.Background()))
}

func TestValidateSubscription(t *testing.T) {
	tests := []struct {
		name   string
		status models.Status
		want   bool
	}{
		{"active", models.StatusActive, true},
		{"cancelled keeps access", models.StatusCancelled, true},
		{"pending", models.StatusPending, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			sub := subscriptionUntil(models.TierPro, epoch.Add(24*time.Hour))
			sub.Status = tt.status
			require.NoError(t, f.cache.Cache(context.Background(), sub))

			ok, err := f.coord.ValidateSubscription(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestCheckAndHandleExpiration(t *testing.T) {
	t.Run("expired subscription flips to expired", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		require.NoError(t, f.cache.Cache(ctx, subscriptionUntil(models.TierPro, epoch.Add(time.Hour))))
		f.clock.Advance(2 * time.Hour)
		f.backend.On("SyncSubscription", mock.Anything, mock.MatchedBy(func(s models.Subscription) bool {
			return s.Status == models.StatusExpired
		}), "access-1").Return(backend.ErrUnavailable).Once()

		expired, err := f.coord.CheckAndHandleExpiration(ctx)
		require.NoError(t, err)
		assert.True(t, expired)

		cached := f.cache.Get(ctx)
		require.NotNil(t, cached)
		assert.Equal(t, models.StatusExpired, cached.Status)
		f.backend.AssertExpectations(t)
	})

	t.Run("active subscription unchanged", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		sub := subscriptionUntil(models.TierPro, epoch.Add(48*time.Hour))
		require.NoError(t, f.cache.Cache(ctx, sub))

		expired, err := f.coord.CheckAndHandleExpiration(ctx)
		require.NoError(t, err)
		assert.False(t, expired)
		assert.Equal(t, sub, *f.cache.Get(ctx))
	})

	t.Run("no subscription", func(t *testing.T) {
		f := newFixture(t)
		f.backend.On("GetStatus", mock.Anything, "access-1").Return(nil, nil).Once()

		expired, err := f.coord.CheckAndHandleExpiration(context.Background())
		require.NoError(t, err)
		assert.False(t, expired)
	})
}

func TestSyncSubscriptionOnNetworkRestore(t *testing.T) {
	t.Run("no active purchase clears cache", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		require.NoError(t, f.cache.Cache(ctx, subscriptionUntil(models.TierPro, epoch.Add(time.Hour))))

		require.NoError(t, f.coord.SyncSubscriptionOnNetworkRestore(ctx))
		assert.False(t, f.cache.Has(ctx))
	})

	t.Run("active purchase is cached and pushed", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		tx, err := f.sandbox.Purchase(ctx, product(t, models.TierMax, models.Monthly))
		require.NoError(t, err)
		f.backend.On("SyncSubscription", mock.Anything, mock.MatchedBy(func(s models.Subscription) bool {
			return s.ID == tx.ID && s.Tier == models.TierMax
		}), "access-1").Return(nil).Once()

		require.NoError(t, f.coord.SyncSubscriptionOnNetworkRestore(ctx))
		cached := f.cache.GetValid(ctx)
		require.NotNil(t, cached)
		assert.Equal(t, tx.ID, cached.ID)
		f.backend.AssertExpectations(t)
	})

	t.Run("signed out caches without pushing", func(t *testing.T) {
		f := newFixture(t, withoutToken())
		ctx := context.Background()
		_, err := f.sandbox.Purchase(ctx, product(t, models.TierPro, models.Monthly))
		require.NoError(t, err)

		require.NoError(t, f.coord.SyncSubscriptionOnNetworkRestore(ctx))
		assert.True(t, f.cache.IsValid(ctx))
		f.backend.AssertNotCalled(t, "SyncSubscription", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("push failure is a network error", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		_, err := f.sandbox.Purchase(ctx, product(t, models.TierPro, models.Monthly))
		require.NoError(t, err)
		f.backend.On("SyncSubscription", mock.Anything, mock.Anything, "access-1").Return(backend.ErrUnavailable).Once()

		err = f.coord.SyncSubscriptionOnNetworkRestore(ctx)
		assert.ErrorIs(t, err, apperr.ErrSubscriptionNetwork)
		assert.True(t, f.cache.IsValid(ctx))
	})
}

func TestUpgradeSubscription_RejectsSameOrLowerTier(t *testing.T) {
	for _, target := range []models.Tier{models.TierPro, models.TierMax, models.TierFree} {
		t.Run(string(target), func(t *testing.T) {
			f := newFixture(t)
			require.NoError(t, f.cache.Cache(context.Background(), subscriptionUntil(models.TierMax, epoch.Add(15*24*time.Hour))))

			res, quote, err := f.coord.UpgradeSubscription(context.Background(), target)
			assert.Nil(t, res)
			assert.Nil(t, quote)
			assert.ErrorIs(t, err, apperr.ErrPurchaseFailed)
			assert.Empty(t, f.sandbox.Unfinished())
			f.backend.AssertNotCalled(t, "VerifyReceipt", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestUpgradeSubscription_ProToMax(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.cache.Cache(ctx, subscriptionUntil(models.TierPro, epoch.Add(15*24*time.Hour))))
	f.backend.On("GetProducts", mock.Anything).Return(nil, backend.ErrUnavailable)
	f.backend.On("VerifyReceipt", mock.Anything, mock.Anything, "access-1").
		Return(&models.VerificationResult{Success: true}, nil).Once()
	f.backend.On("SyncSubscription", mock.Anything, mock.Anything, "access-1").Return(nil).Once()

	res, quote, err := f.coord.UpgradeSubscription(ctx, models.TierMax)
	require.NoError(t, err)
	assert.Equal(t, 15, quote.DaysRemaining)
	assert.Equal(t, "5.00", quote.ProratedAmount.StringFixed(2))
	assert.Equal(t, models.Monthly, quote.Product.BillingPeriod)
	assert.Equal(t, models.TierMax, res.Subscription.Tier)
	assert.Equal(t, models.TierMax, f.cache.GetValid(ctx).Tier)
}

func TestQuoteUpgrade_NoSubscription(t *testing.T) {
	f := newFixture(t)
	f.backend.On("GetStatus", mock.Anything, "access-1").Return(nil, nil).Once()

	quote, err := f.coord.QuoteUpgrade(context.Background(), models.TierMax)
	assert.Nil(t, quote)
	assert.ErrorIs(t, err, apperr.ErrProductNotFound)
}

func TestHandleCancelledSubscription(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sub := subscriptionUntil(models.TierPro, epoch.Add(5*24*time.Hour))
	f.backend.On("SyncSubscription", mock.Anything, mock.Anything, "access-1").Return(nil).Once()

	require.NoError(t, f.coord.HandleCancelledSubscription(ctx, sub))
	cached := f.cache.Get(ctx)
	require.NotNil(t, cached)
	assert.Equal(t, models.StatusCancelled, cached.Status)
	assert.False(t, cached.AutoRenew)
	assert.True(t, f.coord.CancelledSubscriptionHasAccess(*cached))

	f.clock.Advance(6 * 24 * time.Hour)
	assert.False(t, f.coord.CancelledSubscriptionHasAccess(*cached))
	assert.False(t, f.coord.CancelledSubscriptionHasAccess(sub))
}

func TestReset(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.cache.Cache(ctx, subscriptionUntil(models.TierPro, epoch.Add(time.Hour))))

	f.coord.Reset(ctx)
	assert.False(t, f.cache.Has(ctx))
}
