package scraper

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the scraper.
type Metrics struct {
	Registry          *prometheus.Registry
	AttemptsTotal     prometheus.Counter
	PagesTotal        *prometheus.CounterVec
	CaptchasTotal     prometheus.Counter
	FallbacksTotal    prometheus.Counter
	ItemsTotal        prometheus.Counter
	ErrorsTotal       *prometheus.CounterVec
	CookieResetsTotal prometheus.Counter
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	attempts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dealskyr_attempts_total",
		Help: "Total acquisition attempts, retries included.",
	})
	pages := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dealskyr_snapshots_total",
			Help: "Total page snapshots taken by acquisition mode.",
		},
		[]string{"mode"},
	)
	captchas := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dealskyr_captchas_total",
		Help: "Total block pages encountered.",
	})
	fallbacks := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dealskyr_fallbacks_total",
		Help: "Total switches from pagination to scrolling.",
	})
	items := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dealskyr_items_total",
		Help: "Total deal records returned.",
	})
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dealskyr_errors_total",
			Help: "Total failed attempts by type.",
		},
		[]string{"error_type"},
	)
	resets := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dealskyr_cookie_resets_total",
		Help: "Total cookie jar resets.",
	})

	registry.MustRegister(attempts, pages, captchas, fallbacks, items, errorsTotal, resets)

	return &Metrics{
		Registry:          registry,
		AttemptsTotal:     attempts,
		PagesTotal:        pages,
		CaptchasTotal:     captchas,
		FallbacksTotal:    fallbacks,
		ItemsTotal:        items,
		ErrorsTotal:       errorsTotal,
		CookieResetsTotal: resets,
	}
}

func (m *Metrics) IncAttempt() {
	if m == nil {
		return
	}
	m.AttemptsTotal.Inc()
}

func (m *Metrics) IncPage(mode string) {
	if m == nil {
		return
	}
	m.PagesTotal.WithLabelValues(mode).Inc()
}

func (m *Metrics) IncCaptcha() {
	if m == nil {
		return
	}
	m.CaptchasTotal.Inc()
}

func (m *Metrics) IncFallback() {
	if m == nil {
		return
	}
	m.FallbacksTotal.Inc()
}

func (m *Metrics) AddItems(n int) {
	if m == nil {
		return
	}
	m.ItemsTotal.Add(float64(n))
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}

func (m *Metrics) IncCookieReset() {
	if m == nil {
		return
	}
	m.CookieResetsTotal.Inc()
}

// WriteToTextfile dumps all metrics in the text exposition format, for
// node_exporter's textfile collector.
func (m *Metrics) WriteToTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.Registry)
}
