// Package scheduler периодически проверяет, не истекла ли подписка.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/entitlement/internal/lib/sl"
)

type ExpirationChecker interface {
	CheckAndHandleExpiration(ctx context.Context) (bool, error)
}

type SchedulerService struct {
	checker  ExpirationChecker
	interval time.Duration
	log      *slog.Logger
}

// NewSchedulerService создает новый экземпляр SchedulerService.
func NewSchedulerService(checker ExpirationChecker, interval time.Duration, log *slog.Logger) *SchedulerService {
	return &SchedulerService{
		checker:  checker,
		interval: interval,
		log:      log,
	}
}

// CheckExpiration выполняет проверку сразу и затем по таймеру до отмены ctx.
func (s *SchedulerService) CheckExpiration(ctx context.Context) {
	s.runCheckExpiration(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runCheckExpiration(ctx)
		}
	}
}

func (s *SchedulerService) runCheckExpiration(ctx context.Context) {
	s.log.Debug("checking subscription expiration")
	expired, err := s.checker.CheckAndHandleExpiration(ctx)
	if err != nil {
		s.log.Warn("failed to check subscription expiration", sl.Err(err))
		return
	}
	if expired {
		s.log.Info("subscription is expired, premium access revoked")
	}
}
