// Package metrics экспортирует счётчики сессии и подписки в Prometheus.
// Методы безопасны для nil-получателя: сервисы без метрик передают nil.
package metrics

import (
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "entitlement"

// Metrics — набор счётчиков.
type Metrics struct {
	cacheLookups        *prometheus.CounterVec
	offlineDenials      prometheus.Counter
	verificationFailure prometheus.Counter
	expirations         prometheus.Counter
	validations         *prometheus.CounterVec
	syncs               *prometheus.CounterVec
	purchases           *prometheus.CounterVec
	httpRequests        *prometheus.CounterVec
	httpDuration        *prometheus.HistogramVec
}

// New регистрирует счётчики в reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscription_cache_lookups_total",
			Help:      "Subscription cache lookups by result.",
		}, []string{"result"}),
		offlineDenials: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "offline_denials_total",
			Help:      "Offline access checks denied because the cache was stale or empty.",
		}),
		verificationFailure: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verification_failures_total",
			Help:      "Acknowledged transactions whose receipt verification failed.",
		}),
		expirations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "expiration_corrections_total",
			Help:      "Cached subscriptions flipped to expired locally.",
		}),
		validations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_validations_total",
			Help:      "Session validations by result.",
		}, []string{"result"}),
		syncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscription_syncs_total",
			Help:      "Network restore synchronizations by outcome.",
		}, []string{"outcome"}),
		purchases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "purchases_total",
			Help:      "Purchases by outcome.",
		}, []string{"outcome"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Dev backend HTTP requests by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Dev backend HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}

	for _, c := range []prometheus.Collector{
		m.cacheLookups, m.offlineDenials, m.verificationFailure, m.expirations,
		m.validations, m.syncs, m.purchases, m.httpRequests, m.httpDuration,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("metrics.New: %w", err)
		}
	}
	return m, nil
}

// CacheLookup учитывает обращение к кэшу: hit — запись действительна.
func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) OfflineDenied() {
	if m == nil {
		return
	}
	m.offlineDenials.Inc()
}

func (m *Metrics) VerificationFailed() {
	if m == nil {
		return
	}
	m.verificationFailure.Inc()
}

func (m *Metrics) ExpirationCorrected() {
	if m == nil {
		return
	}
	m.expirations.Inc()
}

// SessionValidated учитывает результат проверки сессии: valid, invalid, expired, refreshed, network, error, absent.
func (m *Metrics) SessionValidated(result string) {
	if m == nil {
		return
	}
	m.validations.WithLabelValues(result).Inc()
}

// Synced учитывает исход синхронизации после восстановления сети.
func (m *Metrics) Synced(outcome string) {
	if m == nil {
		return
	}
	m.syncs.WithLabelValues(outcome).Inc()
}

// Purchased учитывает исход покупки.
func (m *Metrics) Purchased(outcome string) {
	if m == nil {
		return
	}
	m.purchases.WithLabelValues(outcome).Inc()
}

// ObserveHTTP учитывает HTTP-запрос dev-бэкенда.
func (m *Metrics) ObserveHTTP(route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}
