package obs

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/telic-run/telic/internal/ir"
	"github.com/telic-run/telic/internal/runtime"
)

// Exporter turns domain observer streams into prometheus metrics. It holds
// its own registry so two exporters in one process never collide.
type Exporter struct {
	registry *prometheus.Registry

	events     *prometheus.CounterVec
	commits    *prometheus.CounterVec
	nullifiers *prometheus.CounterVec
	minted     *prometheus.CounterVec
	gasUsed    *prometheus.CounterVec
	lastStep   *prometheus.GaugeVec
}

// NewExporter creates an exporter with all collectors registered.
func NewExporter() *Exporter {
	e := &Exporter{
		registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "telic",
			Name:      "observer_events_total",
			Help:      "Observer stream events by domain and kind.",
		}, []string{"domain", "kind"}),
		commits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "telic",
			Name:      "commits_total",
			Help:      "Committed SMT batches by domain.",
		}, []string{"domain"}),
		nullifiers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "telic",
			Name:      "nullifiers_total",
			Help:      "Nullifiers emitted by domain.",
		}, []string{"domain"}),
		minted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "telic",
			Name:      "resources_minted_total",
			Help:      "Resources minted by committed effects, by domain.",
		}, []string{"domain"}),
		gasUsed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "telic",
			Name:      "gas_used_total",
			Help:      "Gas consumed by settled intents, by domain.",
		}, []string{"domain"}),
		lastStep: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "telic",
			Name:      "logical_step",
			Help:      "Latest observed logical clock step, by domain.",
		}, []string{"domain"}),
	}
	e.registry.MustRegister(e.events, e.commits, e.nullifiers, e.minted, e.gasUsed, e.lastStep)
	return e
}

// Registry returns the exporter's prometheus registry.
func (e *Exporter) Registry() *prometheus.Registry { return e.registry }

// Handler returns an HTTP handler serving the metrics.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// Watch consumes a domain's observer stream until the context is cancelled
// or the stream closes. Call once per domain, typically in its own
// goroutine.
func (e *Exporter) Watch(ctx context.Context, domain string, events <-chan runtime.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			e.record(domain, ev)
		}
	}
}

func (e *Exporter) record(domain string, ev runtime.Event) {
	e.events.WithLabelValues(domain, ev.Kind).Inc()
	e.lastStep.WithLabelValues(domain).Set(float64(ev.Step))

	payload, _ := ev.Payload.(ir.Obj)
	switch ev.Kind {
	case runtime.EventCommit:
		e.commits.WithLabelValues(domain).Inc()
		if n, ok := payload["nullifiers"].(ir.Int); ok {
			e.nullifiers.WithLabelValues(domain).Add(float64(n))
		}
		if n, ok := payload["minted"].(ir.Int); ok {
			e.minted.WithLabelValues(domain).Add(float64(n))
		}
	case runtime.EventIntentSettled:
		if n, ok := payload["gas_used"].(ir.Int); ok {
			e.gasUsed.WithLabelValues(domain).Add(float64(n))
		}
	}
}
