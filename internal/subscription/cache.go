// Package subscription хранит последнюю известную подписку вместе с моментом кэширования
// и решает, можно ли ещё доверять этой записи.
package subscription

import (
	"context"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/entitlement/internal/lib/clock"
	"github.com/magabrotheeeer/entitlement/internal/lib/sl"
	"github.com/magabrotheeeer/entitlement/internal/models"
)

// ValidityWindow — сколько времени запись в кэше считается действительной.
const ValidityWindow = 24 * time.Hour

// Entry — содержимое слота. Подписка и время записи хранятся одной записью.
type Entry struct {
	Subscription models.Subscription `json:"subscription"`
	CachedAt     time.Time           `json:"cached_at"`
}

// SlotStore — хранилище единственного слота кэша.
// Load возвращает nil, nil для пустого слота.
type SlotStore interface {
	Load(ctx context.Context) (*Entry, error)
	Store(ctx context.Context, entry Entry) error
	Clear(ctx context.Context) error
}

// Cache — кэш подписки с окном действительности 24 часа.
type Cache struct {
	store SlotStore
	clock clock.Clock
	log   *slog.Logger
}

// NewCache создаёт кэш поверх store.
func NewCache(store SlotStore, clk clock.Clock, log *slog.Logger) *Cache {
	return &Cache{
		store: store,
		clock: clk,
		log:   log,
	}
}

// Cache записывает подписку с текущим временем, перезаписывая прежнюю запись.
func (c *Cache) Cache(ctx context.Context, sub models.Subscription) error {
	const op = "subscription.Cache.Cache"

	entry := Entry{Subscription: sub, CachedAt: c.clock.Now()}
	if err := c.store.Store(ctx, entry); err != nil {
		c.log.Error("failed to write subscription cache", slog.String("op", op), sl.Err(err))
		return err
	}
	c.log.Debug("subscription cached",
		slog.String("op", op),
		slog.String("tier", string(sub.Tier)),
		slog.String("status", string(sub.Status)),
	)
	return nil
}

// Get возвращает закэшированную подписку независимо от её свежести.
func (c *Cache) Get(ctx context.Context) *models.Subscription {
	entry := c.load(ctx)
	if entry == nil {
		return nil
	}
	sub := entry.Subscription
	return &sub
}

// GetValid возвращает подписку только если запись ещё действительна.
// Подписка и время читаются одной операцией.
func (c *Cache) GetValid(ctx context.Context) *models.Subscription {
	entry := c.load(ctx)
	if entry == nil || !c.valid(entry) {
		return nil
	}
	sub := entry.Subscription
	return &sub
}

// IsValid сообщает, что запись есть и с момента кэширования прошло строго меньше 24 часов.
func (c *Cache) IsValid(ctx context.Context) bool {
	entry := c.load(ctx)
	return entry != nil && c.valid(entry)
}

// Age возвращает возраст записи; false, если слот пуст.
func (c *Cache) Age(ctx context.Context) (time.Duration, bool) {
	entry := c.load(ctx)
	if entry == nil {
		return 0, false
	}
	return c.clock.Now().Sub(entry.CachedAt), true
}

// Has сообщает, есть ли запись в слоте.
func (c *Cache) Has(ctx context.Context) bool {
	return c.load(ctx) != nil
}

// Clear очищает слот.
func (c *Cache) Clear(ctx context.Context) error {
	const op = "subscription.Cache.Clear"

	if err := c.store.Clear(ctx); err != nil {
		c.log.Error("failed to clear subscription cache", slog.String("op", op), sl.Err(err))
		return err
	}
	return nil
}

func (c *Cache) valid(entry *Entry) bool {
	return c.clock.Now().Sub(entry.CachedAt) < ValidityWindow
}

// ошибка чтения равносильна пустому слоту
func (c *Cache) load(ctx context.Context) *Entry {
	const op = "subscription.Cache.load"

	entry, err := c.store.Load(ctx)
	if err != nil {
		c.log.Warn("subscription cache unreadable, treating as empty", slog.String("op", op), sl.Err(err))
		return nil
	}
	return entry
}
