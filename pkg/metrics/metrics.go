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
	"fmt"
	"io"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"k8s.io/klog/v2"
)

// MetricsRegistry owns the Prometheus registry and the collectors
// registered against it.
type MetricsRegistry struct {
	mu sync.RWMutex

	promRegistry *prometheus.Registry

	// collectors store all registered metric collectors by name
	collectors map[string]MetricCollector
}

// MetricCollector defines the interface for all metric collectors.
type MetricCollector interface {
	// Name returns the unique name of the collector
	Name() string

	// Init creates and registers the collector's metrics
	Init(registry *MetricsRegistry) error
}

// NewMetricsRegistry creates an empty registry.
func NewMetricsRegistry() *MetricsRegistry {
	return &MetricsRegistry{
		promRegistry: prometheus.NewRegistry(),
		collectors:   make(map[string]MetricCollector),
	}
}

// RegisterCollector initializes collector and records it. Registering a
// second collector with the same name is a no-op.
func (r *MetricsRegistry) RegisterCollector(collector MetricCollector) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := collector.Name()
	if _, exists := r.collectors[name]; exists {
		klog.Warningf("Collector %s already registered, skipping", name)
		return nil
	}

	if err := collector.Init(r); err != nil {
		return fmt.Errorf("failed to initialize collector %s: %w", name, err)
	}

	r.collectors[name] = collector
	klog.V(2).Infof("Registered metric collector: %s", name)
	return nil
}

var _ prometheus.Gatherer = &MetricsRegistry{}

// Gather implements prometheus.Gatherer.
func (r *MetricsRegistry) Gather() ([]*dto.MetricFamily, error) {
	return r.promRegistry.Gather()
}

// Register provides safe registration of Prometheus collectors.
func (r *MetricsRegistry) Register(collector prometheus.Collector) error {
	return r.promRegistry.Register(collector)
}

// WriteText gathers every metric and writes the Prometheus text exposition
// format to w.
func (r *MetricsRegistry) WriteText(w io.Writer) error {
	families, err := r.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("failed to write metric family %s: %w", mf.GetName(), err)
		}
	}
	return nil
}
