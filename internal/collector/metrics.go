package collector

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/xkilldash9x/invisinsights/internal/signal"
)

// Outcomes recorded by the request counter.
const (
	outcomeAccepted     = "accepted"
	outcomeUnauthorized = "unauthorized"
	outcomeForbidden    = "forbidden"
	outcomeInvalid      = "invalid"
	outcomeTooLarge     = "too_large"
	outcomeRateLimited  = "rate_limited"
	outcomeSinkError    = "sink_error"
)

type metrics struct {
	registry   *prometheus.Registry
	requests   *prometheus.CounterVec
	signals    *prometheus.CounterVec
	timeOnPage prometheus.Histogram
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "invis",
			Subsystem: "collector",
			Name:      "requests_total",
			Help:      "Collect requests by outcome.",
		}, []string{"outcome"}),
		signals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "invis",
			Subsystem: "collector",
			Name:      "signals_total",
			Help:      "Behavioral signals reported in accepted payloads.",
		}, []string{"signal"}),
		timeOnPage: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "invis",
			Subsystem: "collector",
			Name:      "time_on_page_seconds",
			Help:      "Time on page of accepted sessions.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 900, 1800},
		}),
	}
	m.registry.MustRegister(
		m.requests, m.signals, m.timeOnPage,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *metrics) observe(p signal.Payload) {
	counts := map[string]int{
		"rage_click":           p.RageClickCount,
		"idle_hesitation":      p.IdleHesitationCount,
		"scroll_reversal":      p.ScrollReversalCount,
		"reread_section":       p.RereadSectionCount,
		"long_hover":           p.LongHoverCount,
		"disabled_click":       p.DisabledClickCount,
		"noninteractive_click": p.NonInteractiveClickCount,
		"navigation_loop":      p.NavigationLoopCount,
		"cta_hesitation":       p.CTAHesitation,
		"confidence_click":     p.ConfidenceClickCount,
	}
	for name, n := range counts {
		if n > 0 {
			m.signals.WithLabelValues(name).Add(float64(n))
		}
	}
	if p.GoalCompleted {
		m.signals.WithLabelValues("goal_completed").Inc()
	}
	m.timeOnPage.Observe(float64(p.TimeOnPageMs) / 1000)
}
