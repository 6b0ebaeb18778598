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

package main

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/multierr"
	"k8s.io/klog/v2"

	"github.com/qvm-dev/hypervisor/pkg/metrics"
	"github.com/qvm-dev/hypervisor/pkg/metrics/collectors"
)

// MetricsSink owns the metrics of one command invocation and writes them
// out when the command is done.
type MetricsSink struct {
	registry  *metrics.MetricsRegistry
	collector *collectors.SchedulerCollector
	path      string
}

// NewMetricsSink creates a registry with the scheduler collector. An empty
// path disables writing.
func NewMetricsSink(path string) (*MetricsSink, error) {
	registry := metrics.NewMetricsRegistry()
	collector := collectors.NewSchedulerCollector()
	if err := registry.RegisterCollector(collector); err != nil {
		return nil, err
	}
	return &MetricsSink{registry: registry, collector: collector, path: path}, nil
}

// Collector returns the scheduler collector to wire into components.
func (m *MetricsSink) Collector() *collectors.SchedulerCollector {
	return m.collector
}

// Flush writes the text exposition to the configured path, or to stderr
// for "-".
func (m *MetricsSink) Flush(stderr io.Writer) (err error) {
	switch m.path {
	case "":
		return nil
	case "-":
		return m.registry.WriteText(stderr)
	}

	f, err := os.Create(m.path)
	if err != nil {
		return fmt.Errorf("failed to create metrics file %q: %w", m.path, err)
	}
	defer multierr.AppendInvoke(&err, multierr.Close(f))
	if err = m.registry.WriteText(f); err != nil {
		return err
	}
	klog.V(2).Infof("Wrote metrics to %s", m.path)
	return nil
}
