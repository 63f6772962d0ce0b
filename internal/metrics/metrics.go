package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "outreach"

// Metrics exposes the Prometheus collectors shared by the outreach services.
// All methods are safe on a nil receiver so services can run without metrics.
type Metrics struct {
	ledgerOps      *prometheus.CounterVec
	sends          *prometheus.CounterVec
	sendDuration   *prometheus.HistogramVec
	phoneLookups   *prometheus.CounterVec
	billingEvents  *prometheus.CounterVec
	campaignPauses *prometheus.CounterVec
	jobsActive     prometheus.Gauge
}

// MustNew constructs Metrics and registers them with reg (the default registerer
// when nil). Collectors already registered under the same name are reused.
func MustNew(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		ledgerOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "wallet", Name: "operations_total",
			Help: "Wallet ledger operations by operation and result.",
		}, []string{"op", "result"}),
		sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "dispatch", Name: "sends_total",
			Help: "Send attempts by channel and outcome.",
		}, []string{"channel", "outcome"}),
		sendDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "dispatch", Name: "send_duration_seconds",
			Help: "Latency of provider send calls.", Buckets: prometheus.DefBuckets,
		}, []string{"channel"}),
		phoneLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "phoneintel", Name: "lookups_total",
			Help: "Phone classifications by source (lru, store, provider, degraded).",
		}, []string{"source"}),
		billingEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "billing", Name: "events_total",
			Help: "Billing provider events by type and result.",
		}, []string{"type", "result"}),
		campaignPauses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "compliance", Name: "campaign_transitions_total",
			Help: "Campaign pause/resume transitions by direction and reason.",
		}, []string{"direction", "reason"}),
		jobsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "dispatch", Name: "jobs_active",
			Help: "Dispatch jobs currently running in this process.",
		}),
	}

	m.ledgerOps = register(reg, m.ledgerOps)
	m.sends = register(reg, m.sends)
	m.sendDuration = register(reg, m.sendDuration)
	m.phoneLookups = register(reg, m.phoneLookups)
	m.billingEvents = register(reg, m.billingEvents)
	m.campaignPauses = register(reg, m.campaignPauses)
	m.jobsActive = register(reg, m.jobsActive)
	return m
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

func (m *Metrics) LedgerOp(op, result string) {
	if m == nil {
		return
	}
	m.ledgerOps.WithLabelValues(op, result).Inc()
}

func (m *Metrics) Send(channel, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.sends.WithLabelValues(channel, outcome).Inc()
	m.sendDuration.WithLabelValues(channel).Observe(d.Seconds())
}

func (m *Metrics) PhoneLookups(source string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.phoneLookups.WithLabelValues(source).Add(float64(n))
}

func (m *Metrics) BillingEvent(eventType, result string) {
	if m == nil {
		return
	}
	m.billingEvents.WithLabelValues(eventType, result).Inc()
}

func (m *Metrics) CampaignTransition(direction, reason string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.campaignPauses.WithLabelValues(direction, reason).Add(float64(n))
}

func (m *Metrics) JobStarted() {
	if m == nil {
		return
	}
	m.jobsActive.Inc()
}

func (m *Metrics) JobFinished() {
	if m == nil {
		return
	}
	m.jobsActive.Dec()
}
