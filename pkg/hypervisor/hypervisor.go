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

// Package hypervisor runs many workloads as one job on a partitioned
// device: it schedules them onto regions, combines the placed circuits,
// corrects gate directions and submits the result.
package hypervisor

import (
	"context"
	"fmt"

	"k8s.io/klog/v2"

	"github.com/qvm-dev/hypervisor/pkg/backend"
	"github.com/qvm-dev/hypervisor/pkg/circuit"
	"github.com/qvm-dev/hypervisor/pkg/combiner"
	"github.com/qvm-dev/hypervisor/pkg/grid"
	"github.com/qvm-dev/hypervisor/pkg/metrics/collectors"
	"github.com/qvm-dev/hypervisor/pkg/scheduler"
	"github.com/qvm-dev/hypervisor/pkg/workload"
)

// RegisterPrefix names the classical registers of the combined circuit.
const RegisterPrefix = "vm"

// Hypervisor owns one device.
type Hypervisor struct {
	grid      *grid.Grid
	numQubits int
	scheduler *scheduler.Scheduler
	direction *circuit.DirectionPass
	sampler   backend.Sampler
	metrics   *collectors.SchedulerCollector
}

// Option customises a Hypervisor.
type Option func(*Hypervisor)

// WithDirectionCorrection flips native gates that point against the
// device's calibrated links after combining.
func WithDirectionCorrection(gate string, gates circuit.GateChecker) Option {
	return func(h *Hypervisor) {
		h.direction = circuit.NewDirectionPass(gate, gates)
	}
}

// WithSampler sets the backend Run submits to.
func WithSampler(s backend.Sampler) Option {
	return func(h *Hypervisor) {
		h.sampler = s
	}
}

// WithMetrics records combine outcomes in c.
func WithMetrics(c *collectors.SchedulerCollector) Option {
	return func(h *Hypervisor) {
		h.metrics = c
	}
}

// New returns a hypervisor for a numQubits wide device cut into g.
func New(g *grid.Grid, numQubits int, s *scheduler.Scheduler, opts ...Option) (*Hypervisor, error) {
	if g == nil || s == nil {
		return nil, fmt.Errorf("grid and scheduler are required")
	}
	if g.NumQubits() > numQubits {
		return nil, fmt.Errorf("grid uses %d qubits, device has %d", g.NumQubits(), numQubits)
	}
	h := &Hypervisor{
		grid:      g,
		numQubits: numQubits,
		scheduler: s,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Plan is a combined circuit ready for submission.
type Plan struct {
	Circuit   *circuit.Circuit
	Selection scheduler.Selection

	// Mappings are the physical qubits of every selection entry.
	Mappings [][]int

	// Names and ClbitCounts list the scheduled workloads in the order their
	// classical bits were allocated.
	Names       []string
	ClbitCounts []int

	// Resets counts reuse resets, including those inside shared regions.
	Resets int

	// UsedQubits is the number of distinct physical qubits touched.
	UsedQubits int
}

// Schedule computes a selection without committing it.
func (h *Hypervisor) Schedule(ctx context.Context, pending []*workload.Executable, opts scheduler.Options) (scheduler.Selection, error) {
	return h.scheduler.Schedule(ctx, pending, opts)
}

// Commit removes the workloads of selection from pending.
func (h *Hypervisor) Commit(pending []*workload.Executable, selection scheduler.Selection) []*workload.Executable {
	return scheduler.Commit(pending, selection)
}

// Build combines the circuits selection places into one device-wide circuit.
// Entries holding several workloads are first merged into the partitions of
// their region from the workloads' half variants.
func (h *Hypervisor) Build(ctx context.Context, pending []*workload.Executable, selection scheduler.Selection) (*Plan, error) {
	logger := klog.FromContext(ctx)

	if len(selection) == 0 {
		return nil, fmt.Errorf("selection is empty")
	}
	if err := selection.Validate(h.grid.Rows(), h.grid.Cols(), len(pending)); err != nil {
		return nil, fmt.Errorf("invalid selection: %w", err)
	}

	plan := &Plan{Selection: selection}
	subs := make([]*circuit.Circuit, 0, len(selection))
	for i, e := range selection {
		mapping := h.grid.MapRegion(e.Row, e.Col, e.Height, e.Width)

		var sub *circuit.Circuit
		if len(e.Workloads) > 1 {
			halves := make([]*circuit.Circuit, 0, len(e.Workloads))
			for _, w := range e.Workloads {
				exe := pending[w]
				if exe.Half == nil {
					return nil, fmt.Errorf("entry %d: workload %q shares a region but has no half variant", i, exe.Name)
				}
				halves = append(halves, exe.Half)
				plan.Names = append(plan.Names, exe.Name)
				plan.ClbitCounts = append(plan.ClbitCounts, exe.Half.NumClbits())
			}
			internal, err := combiner.CombineInternal(halves, combiner.DefaultPartitions, len(mapping))
			if err != nil {
				return nil, fmt.Errorf("entry %d: %w", i, err)
			}
			sub = internal.Circuit
			plan.Resets += internal.Resets
		} else {
			exe := pending[e.Workloads[0]]
			if e.Variant < 0 || e.Variant >= len(exe.Variants) {
				return nil, fmt.Errorf("entry %d: workload %q has no variant %d", i, exe.Name, e.Variant)
			}
			sub = exe.Variants[e.Variant].Circuit
			plan.Names = append(plan.Names, exe.Name)
			plan.ClbitCounts = append(plan.ClbitCounts, sub.NumClbits())
		}

		subs = append(subs, sub)
		plan.Mappings = append(plan.Mappings, mapping)
	}

	res, err := combiner.Combine(subs, plan.Mappings, h.numQubits, RegisterPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to combine circuits: %w", err)
	}
	plan.Circuit = res.Circuit
	plan.Resets += res.Resets
	plan.UsedQubits = res.UsedQubits

	if h.direction != nil {
		fixed, err := h.direction.Run(plan.Circuit)
		if err != nil {
			return nil, fmt.Errorf("failed to correct gate directions: %w", err)
		}
		plan.Circuit = fixed
	}

	h.metrics.ObserveCombine(plan.Resets, plan.UsedQubits)
	logger.V(2).Info("Built combined circuit", "entries", len(selection), "workloads", len(plan.Names), "resets", plan.Resets, "usedQubits", plan.UsedQubits, "depth", plan.Circuit.Depth())
	return plan, nil
}

// DryRun schedules and builds without submitting or committing.
func (h *Hypervisor) DryRun(ctx context.Context, pending []*workload.Executable, opts scheduler.Options) (*Plan, error) {
	selection, err := h.Schedule(ctx, pending, opts)
	if err != nil {
		return nil, err
	}
	if len(selection) == 0 {
		return nil, fmt.Errorf("none of %d workloads could be scheduled", len(pending))
	}
	return h.Build(ctx, pending, selection)
}

// Run schedules, builds and submits one combined job. It returns the job and
// pending without the workloads the job carries; pending itself is not
// modified.
func (h *Hypervisor) Run(ctx context.Context, pending []*workload.Executable, opts scheduler.Options, shots int) (*backend.CombinedJob, []*workload.Executable, error) {
	if h.sampler == nil {
		return nil, pending, fmt.Errorf("no sampler configured")
	}
	plan, err := h.DryRun(ctx, pending, opts)
	if err != nil {
		return nil, pending, err
	}
	job, err := h.sampler.Run(ctx, plan.Circuit, shots)
	if err != nil {
		return nil, pending, fmt.Errorf("failed to submit combined circuit: %w", err)
	}

	remaining := h.Commit(pending, plan.Selection)
	klog.FromContext(ctx).Info("Submitted combined job", "job", job.ID(), "workloads", plan.Names, "remaining", len(remaining), "shots", shots)
	return backend.NewCombinedJob(job, plan.Names, plan.ClbitCounts, plan.Mappings), remaining, nil
}
