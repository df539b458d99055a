package models

import "github.com/shopspring/decimal"

// DefaultProductPrefix — префикс идентификаторов продуктов по умолчанию.
const DefaultProductPrefix = "joyhisn.LightGallery"

// StaticCatalog — встроенный каталог, которым пользуются при недоступности бэкенда.
func StaticCatalog(prefix string) []Product {
	item := func(tier Tier, period BillingPeriod, price int64, localized, description string) Product {
		return Product{
			ID:             ProductID(prefix, tier, period),
			Tier:           tier,
			BillingPeriod:  period,
			Price:          decimal.NewFromInt(price),
			Currency:       "CNY",
			LocalizedPrice: localized,
			Description:    description,
		}
	}
	return []Product{
		item(TierPro, Monthly, 10, "¥10/月", "专业版月付订阅"),
		item(TierPro, Yearly, 100, "¥100/年", "专业版年付订阅"),
		item(TierMax, Monthly, 20, "¥20/月", "旗舰版月付订阅"),
		item(TierMax, Yearly, 200, "¥200/年", "旗舰版年付订阅"),
	}
}

// FindProduct ищет продукт по уровню и периоду.
func FindProduct(products []Product, tier Tier, period BillingPeriod) (Product, bool) {
	for _, p := range products {
		if p.Tier == tier && p.BillingPeriod == period {
			return p, true
		}
	}
	return Product{}, false
}
