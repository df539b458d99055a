// Package connectivity следит за доступностью бэкенда и запускает обработчики
// при переходе из офлайна в онлайн.
package connectivity

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/magabrotheeeer/entitlement/internal/lib/sl"
)

// Prober проверяет доступность бэкенда.
type Prober interface {
	Ping(ctx context.Context) error
}

// RestoreHandler вызывается после восстановления сети.
type RestoreHandler func(ctx context.Context) error

// Monitor опрашивает бэкенд по таймеру. До первой проверки бэкенд считается недоступным.
type Monitor struct {
	prober   Prober
	interval time.Duration
	limiter  *rate.Limiter
	log      *slog.Logger

	online  atomic.Bool
	pending atomic.Bool

	mu       sync.Mutex
	handlers []RestoreHandler
}

// NewMonitor создаёт монитор. limiter ограничивает частоту запуска обработчиков при частых
// переключениях сети, nil снимает ограничение.
func NewMonitor(p Prober, interval time.Duration, limiter *rate.Limiter, log *slog.Logger) *Monitor {
	return &Monitor{
		prober:   p,
		interval: interval,
		limiter:  limiter,
		log:      log,
	}
}

// NewLimiter — не более burst восстановлений подряд, затем одно за every.
func NewLimiter(every time.Duration, burst int) *rate.Limiter {
	if every <= 0 {
		return rate.NewLimiter(rate.Inf, burst)
	}
	return rate.NewLimiter(rate.Every(every), burst)
}

// OnRestore добавляет обработчик восстановления сети.
func (m *Monitor) OnRestore(h RestoreHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, h)
}

// Reachable — результат последней проверки.
func (m *Monitor) Reachable() bool {
	return m.online.Load()
}

// Check выполняет одну проверку и, если сеть только что появилась, запускает обработчики.
func (m *Monitor) Check(ctx context.Context) bool {
	const op = "connectivity.Monitor.Check"

	err := m.prober.Ping(ctx)
	now := err == nil
	prev := m.online.Swap(now)

	switch {
	case now && !prev:
		m.log.Info("backend reachable", slog.String("op", op))
		m.pending.Store(true)
	case !now && prev:
		m.log.Warn("backend unreachable", slog.String("op", op), sl.Err(err))
	}

	if now && m.pending.Load() {
		m.restore(ctx)
	}
	return now
}

// Prime выставляет начальное состояние одной проверкой, не запуская обработчики.
// Нужен короткоживущим командам, которым важна только текущая доступность.
func (m *Monitor) Prime(ctx context.Context) bool {
	now := m.prober.Ping(ctx) == nil
	m.online.Store(now)
	return now
}

// Run проверяет доступность сразу и затем с интервалом до отмены ctx.
func (m *Monitor) Run(ctx context.Context) error {
	m.Check(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

func (m *Monitor) restore(ctx context.Context) {
	const op = "connectivity.Monitor.restore"

	if m.limiter != nil && !m.limiter.Allow() {
		m.log.Debug("restore throttled", slog.String("op", op))
		return
	}
	m.pending.Store(false)

	m.mu.Lock()
	handlers := append([]RestoreHandler{}, m.handlers...)
	m.mu.Unlock()

	for _, h := range handlers {
		if err := h(ctx); err != nil {
			m.log.Warn("restore handler failed", slog.String("op", op), sl.Err(err))
		}
	}
}
