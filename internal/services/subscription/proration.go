package subscription

import (
	"github.com/shopspring/decimal"

	"github.com/magabrotheeeer/entitlement/internal/models"
)

// Prorate — доплата за оставшиеся дни периода:
// (target - current) * daysRemaining / totalDays с округлением до копеек (половина вверх), не меньше нуля.
// Оставшиеся дни ограничены длиной периода.
func Prorate(current, target decimal.Decimal, daysRemaining, totalDays int) decimal.Decimal {
	if totalDays <= 0 || daysRemaining <= 0 {
		return decimal.Zero
	}
	days := min(daysRemaining, totalDays)
	amount := target.Sub(current).
		Mul(decimal.NewFromInt(int64(days))).
		Div(decimal.NewFromInt(int64(totalDays))).
		Round(2)
	if amount.IsNegative() {
		return decimal.Zero
	}
	return amount
}

// priceOf возвращает цену текущего уровня в том же периоде: из каталога, иначе из встроенного.
func (c *Coordinator) priceOf(products []models.Product, sub models.Subscription) decimal.Decimal {
	if sub.IsFree() {
		return decimal.Zero
	}
	if p, ok := models.FindProduct(products, sub.Tier, sub.BillingPeriod); ok {
		return p.Price
	}
	if p, ok := models.FindProduct(models.StaticCatalog(c.prefix), sub.Tier, sub.BillingPeriod); ok {
		return p.Price
	}
	return decimal.Zero
}
