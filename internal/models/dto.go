package models

import (
	"fmt"
	"time"
)

// SubscriptionDTO — подписка в формате API бэкенда.
type SubscriptionDTO struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	Tier          string    `json:"tier"`
	BillingPeriod string    `json:"billing_period"`
	Status        string    `json:"status"`
	PaymentMethod string    `json:"payment_method"`
	StartDate     time.Time `json:"start_date"`
	ExpiryDate    time.Time `json:"expiry_date"`
	AutoRenew     bool      `json:"auto_renew"`
}

// ToSubscription проверяет перечисления и собирает Subscription, отмечая время синхронизации syncedAt.
func (d SubscriptionDTO) ToSubscription(syncedAt time.Time) (Subscription, error) {
	const op = "models.SubscriptionDTO.ToSubscription"
	tier, err := ParseTier(d.Tier)
	if err != nil {
		return Subscription{}, fmt.Errorf("%s: %w", op, err)
	}
	period, err := ParseBillingPeriod(d.BillingPeriod)
	if err != nil {
		return Subscription{}, fmt.Errorf("%s: %w", op, err)
	}
	status, err := ParseStatus(d.Status)
	if err != nil {
		return Subscription{}, fmt.Errorf("%s: %w", op, err)
	}
	method, err := ParsePaymentMethod(d.PaymentMethod)
	if err != nil {
		return Subscription{}, fmt.Errorf("%s: %w", op, err)
	}
	if !d.ExpiryDate.After(d.StartDate) {
		return Subscription{}, fmt.Errorf("%s: expiry date must be after start date", op)
	}
	return Subscription{
		ID:            d.ID,
		UserID:        d.UserID,
		Tier:          tier,
		BillingPeriod: period,
		Status:        status,
		StartDate:     d.StartDate,
		ExpiryDate:    d.ExpiryDate,
		AutoRenew:     d.AutoRenew,
		PaymentMethod: method,
		LastSyncedAt:  syncedAt,
	}, nil
}

// NewSubscriptionDTO переводит Subscription в формат API.
func NewSubscriptionDTO(s Subscription) SubscriptionDTO {
	return SubscriptionDTO{
		ID:            s.ID,
		UserID:        s.UserID,
		Tier:          string(s.Tier),
		BillingPeriod: string(s.BillingPeriod),
		Status:        string(s.Status),
		PaymentMethod: string(s.PaymentMethod),
		StartDate:     s.StartDate,
		ExpiryDate:    s.ExpiryDate,
		AutoRenew:     s.AutoRenew,
	}
}
