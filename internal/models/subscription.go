package models

import (
	"fmt"
	"time"
)

// Tier — уровень подписки. Порядок: free < pro < max.
type Tier string

const (
	TierFree Tier = "free"
	TierPro  Tier = "pro"
	TierMax  Tier = "max"
)

// Rank возвращает позицию уровня в порядке free < pro < max, -1 для неизвестного.
func (t Tier) Rank() int {
	switch t {
	case TierFree:
		return 0
	case TierPro:
		return 1
	case TierMax:
		return 2
	default:
		return -1
	}
}

// Less сообщает, что t строго ниже other.
func (t Tier) Less(other Tier) bool {
	return t.Rank() < other.Rank()
}

// ParseTier разбирает строковое имя уровня.
func ParseTier(s string) (Tier, error) {
	if t := Tier(s); t.Rank() >= 0 {
		return t, nil
	}
	return "", fmt.Errorf("unknown tier %q", s)
}

// BillingPeriod — период оплаты.
type BillingPeriod string

const (
	Monthly BillingPeriod = "monthly"
	Yearly  BillingPeriod = "yearly"
)

// ParseBillingPeriod разбирает строковое имя периода.
func ParseBillingPeriod(s string) (BillingPeriod, error) {
	switch p := BillingPeriod(s); p {
	case Monthly, Yearly:
		return p, nil
	default:
		return "", fmt.Errorf("unknown billing period %q", s)
	}
}

// TotalDays — фиксированная длина периода для пропорционального расчёта: 30 или 365 дней.
func (p BillingPeriod) TotalDays() int {
	if p == Yearly {
		return 365
	}
	return 30
}

// After возвращает конец периода, начавшегося в start (календарный месяц или год).
func (p BillingPeriod) After(start time.Time) time.Time {
	if p == Yearly {
		return start.AddDate(1, 0, 0)
	}
	return start.AddDate(0, 1, 0)
}

// Status — состояние подписки.
type Status string

const (
	StatusActive    Status = "active"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
	StatusPending   Status = "pending"
)

// ParseStatus разбирает строковое имя состояния.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusActive, StatusExpired, StatusCancelled, StatusPending:
		return st, nil
	default:
		return "", fmt.Errorf("unknown status %q", s)
	}
}

// PaymentMethod — способ оплаты.
type PaymentMethod string

const (
	PaymentAppleIAP  PaymentMethod = "apple_iap"
	PaymentWeChatPay PaymentMethod = "wechat_pay"
	PaymentAlipay    PaymentMethod = "alipay"
)

// ParsePaymentMethod разбирает строковое имя способа оплаты.
func ParsePaymentMethod(s string) (PaymentMethod, error) {
	switch m := PaymentMethod(s); m {
	case PaymentAppleIAP, PaymentWeChatPay, PaymentAlipay:
		return m, nil
	default:
		return "", fmt.Errorf("unknown payment method %q", s)
	}
}

// Subscription — последняя известная подписка пользователя.
type Subscription struct {
	ID            string        `json:"id"`
	UserID        string        `json:"user_id"`
	Tier          Tier          `json:"tier"`
	BillingPeriod BillingPeriod `json:"billing_period"`
	Status        Status        `json:"status"`
	StartDate     time.Time     `json:"start_date"`
	ExpiryDate    time.Time     `json:"expiry_date"`
	AutoRenew     bool          `json:"auto_renew"`
	PaymentMethod PaymentMethod `json:"payment_method"`
	LastSyncedAt  time.Time     `json:"last_synced_at"`
}

// IsActive — подписка активна и ещё не истекла.
func (s Subscription) IsActive(now time.Time) bool {
	return s.Status == StatusActive && now.Before(s.ExpiryDate)
}

// IsExpired — дата окончания наступила.
func (s Subscription) IsExpired(now time.Time) bool {
	return !now.Before(s.ExpiryDate)
}

// DaysRemaining — полные дни до окончания, не меньше нуля.
func (s Subscription) DaysRemaining(now time.Time) int {
	if !now.Before(s.ExpiryDate) {
		return 0
	}
	return int(s.ExpiryDate.Sub(now) / (24 * time.Hour))
}

// IsFree — бесплатный уровень эквивалентен отсутствию подписки.
func (s Subscription) IsFree() bool {
	return s.Tier == TierFree
}
