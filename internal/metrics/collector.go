// internal/metrics/collector.go
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "presale_transfer"

// Collector хранит метрики пайплайна перевода.
// Все методы безопасны для nil-получателя: компоненты могут работать без метрик.
type Collector struct {
	probes        *prometheus.CounterVec
	probeLatency  *prometheus.HistogramVec
	broadcasts    *prometheus.CounterVec
	submissions   *prometheus.CounterVec
	feeTier       prometheus.Histogram
	confirmations *prometheus.CounterVec
	rewards       *prometheus.CounterVec
	transfers     *prometheus.CounterVec
	duration      *prometheus.HistogramVec
}

// NewCollector создает и регистрирует метрики в reg.
// Если reg == nil, используется prometheus.DefaultRegisterer.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := &Collector{
		probes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "endpoint_probes_total",
			Help:      "Endpoint liveness probes by result",
		}, []string{"endpoint", "result"}),
		probeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "endpoint_probe_latency_seconds",
			Help:      "Endpoint probe latency in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		}, []string{"endpoint"}),
		broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcasts_total",
			Help:      "Raw transaction broadcasts by endpoint and result",
		}, []string{"endpoint", "result"}),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Fee ladder submissions by result",
		}, []string{"result"}),
		feeTier: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "accepted_fee_tier",
			Help:      "Index of the fee tier whose attempt was accepted",
			Buckets:   prometheus.LinearBuckets(0, 1, 8),
		}),
		confirmations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "confirmations_total",
			Help:      "Confirmation poll outcomes",
		}, []string{"state"}),
		rewards: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reward_credits_total",
			Help:      "Referral reward credit outcomes",
		}, []string{"result"}),
		transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfers_total",
			Help:      "Transfer requests by final outcome",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transfer_duration_seconds",
			Help:      "End-to-end transfer duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		c.probes, c.probeLatency, c.broadcasts, c.submissions, c.feeTier,
		c.confirmations, c.rewards, c.transfers, c.duration,
	)
	return c
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

// RecordProbe записывает результат проверки эндпоинта
func (c *Collector) RecordProbe(endpoint string, ok bool, latency time.Duration) {
	if c == nil {
		return
	}
	c.probes.WithLabelValues(endpoint, result(ok)).Inc()
	c.probeLatency.WithLabelValues(endpoint).Observe(latency.Seconds())
}

// RecordBroadcast записывает результат отправки на один эндпоинт
func (c *Collector) RecordBroadcast(endpoint string, ok bool) {
	if c == nil {
		return
	}
	c.broadcasts.WithLabelValues(endpoint, result(ok)).Inc()
}

// RecordSubmission записывает итог прохода по лестнице комиссий.
// tier учитывается только для успешных отправок.
func (c *Collector) RecordSubmission(ok bool, tier int) {
	if c == nil {
		return
	}
	c.submissions.WithLabelValues(result(ok)).Inc()
	if ok {
		c.feeTier.Observe(float64(tier))
	}
}

// RecordConfirmation записывает итоговое состояние опроса подтверждения
func (c *Collector) RecordConfirmation(state string) {
	if c == nil {
		return
	}
	c.confirmations.WithLabelValues(state).Inc()
}

// RecordRewardCredit записывает результат начисления вознаграждения
// (credited, no_referrer, duplicate, failed)
func (c *Collector) RecordRewardCredit(outcome string) {
	if c == nil {
		return
	}
	c.rewards.WithLabelValues(outcome).Inc()
}

// RecordTransfer записывает итог заявки и ее длительность
func (c *Collector) RecordTransfer(outcome string, duration time.Duration) {
	if c == nil {
		return
	}
	c.transfers.WithLabelValues(outcome).Inc()
	c.duration.WithLabelValues(outcome).Observe(duration.Seconds())
}
