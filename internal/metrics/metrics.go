// Package metrics регистрирует счётчики Prometheus для обработки webhook'ов.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Результаты обработки webhook-события для метки result.
const (
	ResultApplied   = "applied"
	ResultDuplicate = "duplicate"
	ResultIgnored   = "ignored"
	ResultRejected  = "rejected"
	ResultError     = "error"
)

// WebhookEvents — счётчик обработанных webhook-событий по провайдеру,
// виду события и результату.
var WebhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "subscription_backend",
	Name:      "webhook_events_total",
	Help:      "Processed payment provider webhook events.",
}, []string{"provider", "event", "result"})

// CommissionsCreated — счётчик начисленных партнёрских комиссий.
var CommissionsCreated = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "subscription_backend",
	Name:      "affiliate_commissions_created_total",
	Help:      "Affiliate commissions recorded by the commission engine.",
})
