package buffer

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/telemetryd/metric"
)

// bufferMetrics mirrors buffer activity into Prometheus instruments.
// Statistics stay authoritative; this is an optional export path.
type bufferMetrics struct {
	writes      prometheus.Counter
	reads       prometheus.Counter
	drops       prometheus.Counter
	size        prometheus.Gauge
	utilization prometheus.Gauge
}

func newBufferMetrics(reg *metric.MetricsRegistry, prefix string) (*bufferMetrics, error) {
	labels := prometheus.Labels{"component": prefix}

	bm := &bufferMetrics{
		writes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "telemetryd",
			Subsystem:   "buffer",
			Name:        "writes_total",
			Help:        "Total items written to the buffer",
			ConstLabels: labels,
		}),
		reads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "telemetryd",
			Subsystem:   "buffer",
			Name:        "reads_total",
			Help:        "Total items read from the buffer",
			ConstLabels: labels,
		}),
		drops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "telemetryd",
			Subsystem:   "buffer",
			Name:        "drops_total",
			Help:        "Total items dropped due to overflow",
			ConstLabels: labels,
		}),
		size: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "telemetryd",
			Subsystem:   "buffer",
			Name:        "size",
			Help:        "Current number of items in the buffer",
			ConstLabels: labels,
		}),
		utilization: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "telemetryd",
			Subsystem:   "buffer",
			Name:        "utilization",
			Help:        "Buffer fill ratio, 0 to 1",
			ConstLabels: labels,
		}),
	}

	if err := reg.RegisterCounter(prefix, "buffer_writes_total", bm.writes); err != nil {
		return nil, err
	}
	if err := reg.RegisterCounter(prefix, "buffer_reads_total", bm.reads); err != nil {
		return nil, err
	}
	if err := reg.RegisterCounter(prefix, "buffer_drops_total", bm.drops); err != nil {
		return nil, err
	}
	if err := reg.RegisterGauge(prefix, "buffer_size", bm.size); err != nil {
		return nil, err
	}
	if err := reg.RegisterGauge(prefix, "buffer_utilization", bm.utilization); err != nil {
		return nil, err
	}

	return bm, nil
}

func (bm *bufferMetrics) recordWrite(size, capacity int) {
	bm.writes.Inc()
	bm.updateSize(size, capacity)
}

func (bm *bufferMetrics) recordRead(size, capacity int) {
	bm.reads.Inc()
	bm.updateSize(size, capacity)
}

func (bm *bufferMetrics) recordDrop() {
	bm.drops.Inc()
}

func (bm *bufferMetrics) updateSize(size, capacity int) {
	bm.size.Set(float64(size))
	if capacity > 0 {
		bm.utilization.Set(float64(size) / float64(capacity))
	}
}
