package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Product — позиция каталога. Не сохраняется локально.
type Product struct {
	ID             string          `json:"product_id"`
	Tier           Tier            `json:"tier"`
	BillingPeriod  BillingPeriod   `json:"billing_period"`
	Price          decimal.Decimal `json:"price"`
	Currency       string          `json:"currency"`
	LocalizedPrice string          `json:"localized_price,omitempty"`
	Description    string          `json:"description,omitempty"`
}

// ProductID собирает идентификатор вида <prefix>.<tier>.<period>.
func ProductID(prefix string, tier Tier, period BillingPeriod) string {
	return prefix + "." + string(tier) + "." + string(period)
}

// ParseProductID извлекает уровень и период из двух последних сегментов идентификатора.
func ParseProductID(id string) (Tier, BillingPeriod, error) {
	parts := strings.Split(id, ".")
	if len(parts) < 3 {
		return "", "", fmt.Errorf("malformed product id %q", id)
	}
	tier, err := ParseTier(parts[len(parts)-2])
	if err != nil {
		return "", "", err
	}
	period, err := ParseBillingPeriod(parts[len(parts)-1])
	if err != nil {
		return "", "", err
	}
	return tier, period, nil
}

// Transaction — транзакция платёжного провайдера с чеком для проверки на бэкенде.
type Transaction struct {
	ID             string        `json:"id"`
	OriginalID     string        `json:"original_id,omitempty"`
	ProductID      string        `json:"product_id"`
	PurchaseDate   time.Time     `json:"purchase_date"`
	ExpirationDate *time.Time    `json:"expiration_date,omitempty"`
	Receipt        string        `json:"receipt"`
	Method         PaymentMethod `json:"payment_method"`
}

// VerificationResult — ответ бэкенда на проверку чека.
type VerificationResult struct {
	Success      bool             `json:"success"`
	Subscription *SubscriptionDTO `json:"subscription,omitempty"`
	Message      string           `json:"message,omitempty"`
}

// PurchaseResult — итог успешной покупки.
type PurchaseResult struct {
	Subscription Subscription `json:"subscription"`
	Transaction  Transaction  `json:"transaction"`
}

// UpgradeQuote — предварительный расчёт доплаты за повышение уровня.
type UpgradeQuote struct {
	From           Tier            `json:"from"`
	To             Tier            `json:"to"`
	BillingPeriod  BillingPeriod   `json:"billing_period"`
	Product        Product         `json:"product"`
	DaysRemaining  int             `json:"days_remaining"`
	ProratedAmount decimal.Decimal `json:"prorated_amount"`
}
