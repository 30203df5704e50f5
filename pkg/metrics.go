package concache

// metrics.go is a thin abstraction over Prometheus so that concache can be
// used with or without metrics. When the caller passes a *prometheus.Registry
// via WithMetrics, labeled per-shard metrics are created and registered;
// otherwise a no-op sink is used and the hot path pays nothing for it.
//
// © 2025 concache authors. MIT License.

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// metricsSink is the internal interface abstracting the concrete backend
// (Prometheus vs noop). Not exposed outside the package.
type metricsSink interface {
	incHit(shard int)
	incMiss(shard int)
	incInsert(shard int)
	incRemove(shard int)
	incEvict(shard int)
	setSize(total int64)
}

type noopMetrics struct{}

func (noopMetrics) incHit(int)      {}
func (noopMetrics) incMiss(int)     {}
func (noopMetrics) incInsert(int)   {}
func (noopMetrics) incRemove(int)   {}
func (noopMetrics) incEvict(int)    {}
func (noopMetrics) setSize(int64)   {}

type promMetrics struct {
	hits    *prometheus.CounterVec
	misses  *prometheus.CounterVec
	inserts *prometheus.CounterVec
	removes *prometheus.CounterVec
	evicts  *prometheus.CounterVec
	size    prometheus.Gauge
}

func newPromMetrics(namespace string, reg *prometheus.Registry) *promMetrics {
	label := []string{"shard"}

	pm := &promMetrics{
		hits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "hits_total", Help: "Number of cache hits.",
		}, label),
		misses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "misses_total", Help: "Number of cache misses.",
		}, label),
		inserts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "inserts_total", Help: "Number of key insertions.",
		}, label),
		removes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "removes_total", Help: "Number of explicit key removals.",
		}, label),
		evicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "evictions_total", Help: "Number of entries evicted by the sampler.",
		}, label),
		size: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "size", Help: "Current number of resident entries.",
		}),
	}

	reg.MustRegister(pm.hits, pm.misses, pm.inserts, pm.removes, pm.evicts, pm.size)
	return pm
}

func (m *promMetrics) incHit(shard int)    { m.hits.WithLabelValues(strconv.Itoa(shard)).Inc() }
func (m *promMetrics) incMiss(shard int)   { m.misses.WithLabelValues(strconv.Itoa(shard)).Inc() }
func (m *promMetrics) incInsert(shard int) { m.inserts.WithLabelValues(strconv.Itoa(shard)).Inc() }
func (m *promMetrics) incRemove(shard int) { m.removes.WithLabelValues(strconv.Itoa(shard)).Inc() }
func (m *promMetrics) incEvict(shard int)  { m.evicts.WithLabelValues(strconv.Itoa(shard)).Inc() }
func (m *promMetrics) setSize(total int64) { m.size.Set(float64(total)) }

// newMetricsSink decides which implementation to use based on whether the
// caller opted in via WithMetrics.
func newMetricsSink(namespace string, reg *prometheus.Registry) metricsSink {
	if reg == nil {
		return noopMetrics{}
	}
	return newPromMetrics(namespace, reg)
}
