/*
Copyright 2025 The KCP Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names follow Prometheus conventions with the qvm_ prefix.
const (
	MetricNamespace = "qvm"

	// Subsystem names for different components
	SchedulerSubsystem = "scheduler"
	CombinerSubsystem  = "combiner"
	RankingSubsystem   = "ranking"
)

// Common label names.
const (
	// LabelPass is the scheduling pass that placed a workload.
	LabelPass = "pass"

	// LabelStatus is the outcome of an operation.
	LabelStatus = "status"
)

// Values of LabelPass.
const (
	PassSpace = "space"
	PassIntra = "intra"
	PassTime  = "time"
)

// PrometheusMetrics provides convenience methods for creating metrics with
// consistent naming.
type PrometheusMetrics struct {
	registry *MetricsRegistry
}

// NewPrometheusMetrics creates a new PrometheusMetrics helper.
func NewPrometheusMetrics(registry *MetricsRegistry) *PrometheusMetrics {
	return &PrometheusMetrics{
		registry: registry,
	}
}

// NewCounterVec creates a CounterVec in the qvm namespace.
func (p *PrometheusMetrics) NewCounterVec(subsystem, name, help string, labelNames []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricNamespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, labelNames)
}

// NewCounter creates a Counter in the qvm namespace.
func (p *PrometheusMetrics) NewCounter(subsystem, name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: MetricNamespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	})
}

// NewGauge creates a Gauge in the qvm namespace.
func (p *PrometheusMetrics) NewGauge(subsystem, name, help string) prometheus.Gauge {
	return prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: MetricNamespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	})
}

// NewHistogram creates a Histogram in the qvm namespace.
func (p *PrometheusMetrics) NewHistogram(subsystem, name, help string, buckets []float64) prometheus.Histogram {
	return prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: MetricNamespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
		Buckets:   buckets,
	})
}

// LatencyBuckets for measuring operation latencies (in seconds)
var LatencyBuckets = []float64{
	0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0,
}

// Register registers collectors with the underlying registry, stopping at
// the first failure.
func (p *PrometheusMetrics) Register(collectors ...prometheus.Collector) error {
	for _, c := range collectors {
		if err := p.registry.Register(c); err != nil {
			return err
		}
	}
	return nil
}
