package matcher

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exports engine counters. A nil *Metrics records nothing.
type Metrics struct {
	events        *prometheus.CounterVec
	consumeErrors prometheus.Counter
	alerts        *prometheus.CounterVec
	duration      prometheus.Histogram
}

func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pricealert",
			Subsystem: "matcher",
			Name:      "events_total",
			Help:      "Price events taken off the queue, by outcome.",
		}, []string{"result"}),
		consumeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pricealert",
			Subsystem: "matcher",
			Name:      "consume_errors_total",
			Help:      "Failed attempts to read from the queue.",
		}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pricealert",
			Subsystem: "matcher",
			Name:      "alerts_total",
			Help:      "Alerts handed to the delivery gateway, by outcome.",
		}, []string{"result"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "pricealert",
			Subsystem: "matcher",
			Name:      "event_processing_seconds",
			Help:      "Time spent matching and delivering one event.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	var err error
	if m.events, err = register(reg, m.events); err != nil {
		return nil, err
	}
	if m.consumeErrors, err = register(reg, m.consumeErrors); err != nil {
		return nil, err
	}
	if m.alerts, err = register(reg, m.alerts); err != nil {
		return nil, err
	}
	if m.duration, err = register(reg, m.duration); err != nil {
		return nil, err
	}
	return m, nil
}

// register returns the already registered collector when an identical one
// exists.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	err := reg.Register(c)
	if err == nil {
		return c, nil
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(C); ok {
			return existing, nil
		}
	}
	return c, fmt.Errorf("register matcher metrics: %w", err)
}

func (m *Metrics) eventProcessed(d time.Duration, err error) {
	if m == nil {
		return
	}
	m.duration.Observe(d.Seconds())
	if err != nil {
		m.events.WithLabelValues("failed").Inc()
		return
	}
	m.events.WithLabelValues("processed").Inc()
}

func (m *Metrics) eventMalformed() {
	if m == nil {
		return
	}
	m.events.WithLabelValues("malformed").Inc()
}

func (m *Metrics) consumeFailed() {
	if m == nil {
		return
	}
	m.consumeErrors.Inc()
}

func (m *Metrics) alert(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.alerts.WithLabelValues("failed").Inc()
		return
	}
	m.alerts.WithLabelValues("sent").Inc()
}
