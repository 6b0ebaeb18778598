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

package collectors

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/qvm-dev/hypervisor/pkg/metrics"
)

// SchedulerCollector records scheduling and combining outcomes. A nil
// *SchedulerCollector is valid and records nothing.
type SchedulerCollector struct {
	mu sync.RWMutex

	schedules      prometheus.Counter
	placements     *prometheus.CounterVec
	unscheduled    prometheus.Gauge
	duration       prometheus.Histogram
	utilization    prometheus.Gauge
	resets         prometheus.Counter
	combinedQubits prometheus.Gauge
	rankings       *prometheus.CounterVec
}

// NewSchedulerCollector creates a collector; call Init or register it
// before use.
func NewSchedulerCollector() *SchedulerCollector {
	return &SchedulerCollector{}
}

// Name returns the collector name for registration.
func (c *SchedulerCollector) Name() string {
	return "scheduler"
}

// Init creates the metrics and registers them with registry.
func (c *SchedulerCollector) Init(registry *metrics.MetricsRegistry) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	prom := metrics.NewPrometheusMetrics(registry)

	c.schedules = prom.NewCounter(
		metrics.SchedulerSubsystem,
		"schedules_total",
		"Total number of scheduling calls",
	)

	c.placements = prom.NewCounterVec(
		metrics.SchedulerSubsystem,
		"placed_workloads_total",
		"Total number of workloads placed, by scheduling pass",
		[]string{metrics.LabelPass},
	)

	c.unscheduled = prom.NewGauge(
		metrics.SchedulerSubsystem,
		"unscheduled_workloads",
		"Pending workloads left out of the last schedule",
	)

	c.duration = prom.NewHistogram(
		metrics.SchedulerSubsystem,
		"schedule_duration_seconds",
		"Time taken to compute a schedule",
		metrics.LatencyBuckets,
	)

	c.utilization = prom.NewGauge(
		metrics.SchedulerSubsystem,
		"utilization_ratio",
		"Occupied share of the grid's region-depth volume in the last schedule",
	)

	c.resets = prom.NewCounter(
		metrics.CombinerSubsystem,
		"resets_total",
		"Total number of reset operations inserted for qubit reuse",
	)

	c.combinedQubits = prom.NewGauge(
		metrics.CombinerSubsystem,
		"used_qubits",
		"Physical qubits touched by the last combined circuit",
	)

	c.rankings = prom.NewCounterVec(
		metrics.RankingSubsystem,
		"computations_total",
		"Total number of region ranking requests",
		[]string{metrics.LabelStatus},
	)

	return prom.Register(
		c.schedules,
		c.placements,
		c.unscheduled,
		c.duration,
		c.utilization,
		c.resets,
		c.combinedQubits,
		c.rankings,
	)
}

func (c *SchedulerCollector) ready() bool {
	if c == nil {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.schedules != nil
}

// ObserveSchedule records one scheduling call. placed maps a pass name to
// the number of workloads it placed.
func (c *SchedulerCollector) ObserveSchedule(d time.Duration, placed map[string]int, unscheduled int, utilization float64) {
	if !c.ready() {
		return
	}
	c.schedules.Inc()
	c.duration.Observe(d.Seconds())
	for pass, n := range placed {
		c.placements.WithLabelValues(pass).Add(float64(n))
	}
	c.unscheduled.Set(float64(unscheduled))
	c.utilization.Set(utilization)
}

// ObserveCombine records one combined circuit.
func (c *SchedulerCollector) ObserveCombine(resets, usedQubits int) {
	if !c.ready() {
		return
	}
	c.resets.Add(float64(resets))
	c.combinedQubits.Set(float64(usedQubits))
}

// ObserveRanking records one ranking request.
func (c *SchedulerCollector) ObserveRanking(err error) {
	if !c.ready() {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	c.rankings.WithLabelValues(status).Inc()
}
