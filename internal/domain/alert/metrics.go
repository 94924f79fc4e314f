package alert

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	passResultOK      = "ok"
	passResultFailed  = "failed"
	skipReasonBusy    = "busy"
	skipReasonRemote  = "locked_elsewhere"
	skipReasonLockErr = "lock_error"
)

// Metrics captures alert engine health signals. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	passes        *prometheus.CounterVec
	passDuration  prometheus.Histogram
	passesSkipped *prometheus.CounterVec
	created       *prometheus.CounterVec
	merged        *prometheus.CounterVec
	trialsExpired prometheus.Counter
	clinicErrors  prometheus.Counter
	lifecycle     *prometheus.CounterVec
}

// NewMetrics creates the alert collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		passes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "console",
			Name:      "alert_passes_total",
			Help:      "Alert evaluation passes by result.",
		}, []string{"result"}),
		passDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "console",
			Name:      "alert_pass_duration_seconds",
			Help:      "Wall time of one alert evaluation pass over all active clinics.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		passesSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "console",
			Name:      "alert_passes_skipped_total",
			Help:      "Scheduler ticks skipped because a pass was already running.",
		}, []string{"reason"}),
		created: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "console",
			Name:      "alerts_created_total",
			Help:      "Alerts created by type and category.",
		}, []string{"type", "category"}),
		merged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "console",
			Name:      "alerts_merged_total",
			Help:      "Repeated alerts folded into an existing active alert.",
		}, []string{"type", "category"}),
		trialsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "console",
			Name:      "clinic_trials_expired_total",
			Help:      "Clinics moved to expired by the alert engine.",
		}),
		clinicErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "console",
			Name:      "alert_clinic_errors_total",
			Help:      "Per-clinic evaluation failures during a pass.",
		}),
		lifecycle: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "console",
			Name:      "alert_lifecycle_total",
			Help:      "Alert acknowledgements and dismissals.",
		}, []string{"action"}),
	}
	reg.MustRegister(
		m.passes, m.passDuration, m.passesSkipped, m.created, m.merged,
		m.trialsExpired, m.clinicErrors, m.lifecycle,
	)
	return m
}

func (m *Metrics) observePass(d time.Duration, err error) {
	if m == nil {
		return
	}
	result := passResultOK
	if err != nil {
		result = passResultFailed
	}
	m.passes.WithLabelValues(result).Inc()
	m.passDuration.Observe(d.Seconds())
}

func (m *Metrics) skipped(reason string) {
	if m == nil {
		return
	}
	m.passesSkipped.WithLabelValues(reason).Inc()
}

func (m *Metrics) reconciled(a *Alert, created bool) {
	if m == nil {
		return
	}
	if created {
		m.created.WithLabelValues(string(a.Type), string(a.Category)).Inc()
		return
	}
	m.merged.WithLabelValues(string(a.Type), string(a.Category)).Inc()
}

func (m *Metrics) trialExpired() {
	if m == nil {
		return
	}
	m.trialsExpired.Inc()
}

func (m *Metrics) clinicFailed() {
	if m == nil {
		return
	}
	m.clinicErrors.Inc()
}

func (m *Metrics) lifecycleAction(action EventAction) {
	if m == nil {
		return
	}
	m.lifecycle.WithLabelValues(string(action)).Inc()
}
