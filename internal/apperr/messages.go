package apperr

import (
	"errors"
	"sync"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"

	"github.com/magabrotheeeer/entitlement/internal/models"
)

type translation struct {
	zh string
	en string
}

const keyUnknown = "error.unknown"

var translations = map[string]translation{
	"auth.oauth_failed":    {zh: "登录失败：%s - %s", en: "Sign-in failed: %s - %s"},
	"auth.user_cancelled":  {zh: "用户取消登录", en: "Sign-in was cancelled"},
	"auth.network_error":   {zh: "网络连接失败，请检查网络设置", en: "Network connection failed, check your network settings"},
	"auth.token_expired":   {zh: "登录已过期，请重新登录", en: "Your session has expired, please sign in again"},
	"auth.token_invalid":   {zh: "登录信息无效，请重新登录", en: "Your session is invalid, please sign in again"},
	"auth.not_implemented": {zh: "功能尚未实现", en: "This feature is not implemented yet"},

	"subscription.product_not_found":        {zh: "未找到订阅产品，请稍后重试", en: "Subscription product not found, please try again later"},
	"subscription.purchase_failed":          {zh: "购买失败，请稍后重试", en: "Purchase failed, please try again later"},
	"subscription.verification_failed":      {zh: "支付验证失败，请联系客服", en: "Payment verification failed, please contact support"},
	"subscription.network_error":            {zh: "网络连接失败，请检查网络设置后重试", en: "Network connection failed, check your network settings and retry"},
	"subscription.user_cancelled":           {zh: "已取消购买", en: "Purchase was cancelled"},
	"subscription.insufficient_permissions": {zh: "权限不足，无法完成购买", en: "Insufficient permissions to complete the purchase"},

	"provider.apple":  {zh: "Apple", en: "Apple"},
	"provider.wechat": {zh: "微信", en: "WeChat"},
	"provider.alipay": {zh: "支付宝", en: "Alipay"},

	keyUnknown: {zh: "操作失败，请稍后重试或联系客服", en: "Something went wrong, please retry or contact support"},
}

var supported = []language.Tag{language.Chinese, language.English}

var matcher = language.NewMatcher(supported)

var messages = sync.OnceValue(func() catalog.Catalog {
	b := catalog.NewBuilder(catalog.Fallback(language.Chinese))
	for key, t := range translations {
		_ = b.SetString(language.Chinese, key, t.zh)
		_ = b.SetString(language.English, key, t.en)
	}
	return b
})

// Message возвращает текст ошибки для пользователя на языке tag.
// Неподдерживаемые языки получают китайский текст.
func Message(err error, tag language.Tag) string {
	_, idx, _ := matcher.Match(tag)
	p := message.NewPrinter(supported[idx], message.Catalog(messages()))

	var authErr *AuthError
	if errors.As(err, &authErr) {
		key := "auth." + authErr.Kind.String()
		if _, ok := translations[key]; !ok {
			return p.Sprintf(keyUnknown)
		}
		if authErr.Kind == AuthOAuthFailed {
			return p.Sprintf(key, providerName(p, authErr.Provider), authErr.Reason)
		}
		return p.Sprintf(key)
	}

	var subErr *SubscriptionError
	if errors.As(err, &subErr) {
		key := "subscription." + subErr.Kind.String()
		if _, ok := translations[key]; !ok {
			return p.Sprintf(keyUnknown)
		}
		return p.Sprintf(key)
	}

	return p.Sprintf(keyUnknown)
}

func providerName(p *message.Printer, provider models.Provider) string {
	key := "provider." + string(provider)
	if _, ok := translations[key]; !ok {
		return string(provider)
	}
	return p.Sprintf(key)
}
