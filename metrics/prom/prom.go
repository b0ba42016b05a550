// Package prom exports cache and aggregator signals as Prometheus metrics.
package prom

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/IvanBrykalov/tierbus/aggregator"
	"github.com/IvanBrykalov/tierbus/cache"
)

// Adapter implements cache.Metrics and aggregator.Metrics and exports
// Prometheus counters/gauges.
// Safe for concurrent use; all Prometheus metric types are goroutine-safe.
type Adapter struct {
	hits       *prometheus.CounterVec
	misses     prometheus.Counter
	promotions prometheus.Counter
	demotions  prometheus.Counter
	target     prometheus.Gauge
	size       *prometheus.GaugeVec

	published   prometheus.Counter
	delivered   prometheus.Counter
	faulted     prometheus.Counter
	subscribers prometheus.Gauge
}

// New constructs a Prometheus metrics adapter.
//   - reg:          registry to register metrics with (nil => prometheus.DefaultRegisterer)
//   - ns, sub:      Prometheus namespace and subsystem
//   - constLabels:  static labels applied to all metrics (may be nil)
//
// Use distinct const labels (or subsystems) when several caches or
// aggregators share one registry.
func New(reg prometheus.Registerer, ns, sub string, constLabels prometheus.Labels) *Adapter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: name, Help: help, ConstLabels: constLabels,
		})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: sub, Name: name, Help: help, ConstLabels: constLabels,
		})
	}

	a := &Adapter{
		hits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "hits_total",
			Help:        "Cache hits by tier",
			ConstLabels: constLabels,
		}, []string{"tier"}),
		misses:     counter("misses_total", "Cache misses"),
		promotions: counter("promotions_total", "Entries moved from the overflow tier to the fast tier"),
		demotions:  counter("demotions_total", "Entries moved from the fast tier to the overflow tier"),
		target:     gauge("fast_target_entries", "Current fast-tier target capacity"),
		size: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "size_entries",
			Help:        "Number of resident entries by tier",
			ConstLabels: constLabels,
		}, []string{"tier"}),

		published:   counter("published_total", "Entries published to the aggregator"),
		delivered:   counter("delivered_total", "Completed deliveries across all subscribers"),
		faulted:     counter("subscriber_faults_total", "Subscribers unregistered after a fault"),
		subscribers: gauge("subscribers", "Live subscriptions"),
	}
	reg.MustRegister(
		a.hits, a.misses, a.promotions, a.demotions, a.target, a.size,
		a.published, a.delivered, a.faulted, a.subscribers,
	)
	return a
}

// Hit increments the hit counter for tier t.
func (a *Adapter) Hit(t cache.Tier) { a.hits.WithLabelValues(t.String()).Inc() }

// Miss increments the miss counter.
func (a *Adapter) Miss() { a.misses.Inc() }

func (a *Adapter) Promote() { a.promotions.Inc() }
func (a *Adapter) Demote()  { a.demotions.Inc() }

// Target records the fast-tier target capacity.
func (a *Adapter) Target(n int) { a.target.Set(float64(n)) }

// Size updates the per-tier entry gauges.
func (a *Adapter) Size(fast, overflow int) {
	a.size.WithLabelValues(cache.TierFast.String()).Set(float64(fast))
	a.size.WithLabelValues(cache.TierOverflow.String()).Set(float64(overflow))
}

func (a *Adapter) Published()        { a.published.Inc() }
func (a *Adapter) Delivered()        { a.delivered.Inc() }
func (a *Adapter) Faulted()          { a.faulted.Inc() }
func (a *Adapter) Subscribers(n int) { a.subscribers.Set(float64(n)) }

// Compile-time checks.
var (
	_ cache.Metrics      = (*Adapter)(nil)
	_ aggregator.Metrics = (*Adapter)(nil)
)
