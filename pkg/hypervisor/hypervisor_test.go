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

package hypervisor

import (
	"bytes"
	"context"
	"testing"

	"github.com/go-logr/logr"
	"github.com/go-logr/logr/testr"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/qvm-dev/hypervisor/pkg/backend"
	"github.com/qvm-dev/hypervisor/pkg/backend/fake"
	"github.com/qvm-dev/hypervisor/pkg/circuit"
	"github.com/qvm-dev/hypervisor/pkg/combiner"
	"github.com/qvm-dev/hypervisor/pkg/grid"
	"github.com/qvm-dev/hypervisor/pkg/grid/gridtest"
	"github.com/qvm-dev/hypervisor/pkg/metrics"
	"github.com/qvm-dev/hypervisor/pkg/metrics/collectors"
	"github.com/qvm-dev/hypervisor/pkg/scheduler"
	"github.com/qvm-dev/hypervisor/pkg/workload"
	"github.com/qvm-dev/hypervisor/pkg/workload/workloadtest"
)

var oneByOne = grid.Shape{Rows: 1, Cols: 1}

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("k8s.io/klog/v2.(*flushDaemon).run.func1"))
}

func newHypervisor(t *testing.T, opts ...Option) *Hypervisor {
	t.Helper()
	g := gridtest.ThreeByThree(t)
	s, err := scheduler.New(g, nil, nil)
	require.NoError(t, err)
	h, err := New(g, gridtest.NumQubits, s, opts...)
	require.NoError(t, err)
	return h
}

func measuredQubits(c *circuit.Circuit) []int {
	var ret []int
	for _, op := range c.Ops {
		if op.Name == circuit.OpMeasure {
			ret = append(ret, op.Qubits...)
		}
	}
	return ret
}

func TestDryRun(t *testing.T) {
	h := newHypervisor(t)
	pending := []*workload.Executable{
		workloadtest.Executable("a", 10, oneByOne),
		workloadtest.Executable("b", 10, oneByOne),
		workloadtest.Executable("c", 10, oneByOne),
	}

	plan, err := h.DryRun(context.Background(), pending, scheduler.Options{})
	require.NoError(t, err)

	assert.Equal(t, gridtest.NumQubits, plan.Circuit.NumQubits)
	assert.Equal(t, []string{"a", "b", "c"}, plan.Names)
	assert.Equal(t, []int{1, 1, 1}, plan.ClbitCounts)
	assert.Equal(t, []circuit.Register{
		{Name: "vm0_c", Size: 1},
		{Name: "vm1_c", Size: 1},
		{Name: "vm2_c", Size: 1},
	}, plan.Circuit.CRegs)
	assert.Equal(t, []int{0, 7, 14}, measuredQubits(plan.Circuit))
	assert.Zero(t, plan.Resets)
	assert.Equal(t, 21, plan.UsedQubits)
	assert.Len(t, plan.Mappings, 3)
	assert.Len(t, pending, 3)
}

func TestBuildSharedRegion(t *testing.T) {
	h := newHypervisor(t)
	pending := []*workload.Executable{
		workloadtest.Small("host", 10, 5),
		workloadtest.Small("guest", 10, 4),
	}
	selection := scheduler.Selection{{Workloads: []int{0, 1}, Row: 1, Col: 1, Height: 1, Width: 1}}

	plan, err := h.Build(context.Background(), pending, selection)
	require.NoError(t, err)

	// region (1, 1) starts at qubit 28, partitions are its qubits 0..2 and 4..6
	assert.Equal(t, []int{28, 32}, measuredQubits(plan.Circuit))
	assert.Equal(t, []string{"host", "guest"}, plan.Names)
	assert.Equal(t, []int{1, 1}, plan.ClbitCounts)
	assert.Equal(t, []circuit.Register{
		{Name: "vm0_circ0_c", Size: 1},
		{Name: "vm0_circ1_c", Size: 1},
	}, plan.Circuit.CRegs)
	if diff := cmp.Diff([][]int{{28, 29, 30, 31, 32, 33, 34}}, plan.Mappings); diff != "" {
		t.Errorf("unexpected mappings (-want +got):\n%s", diff)
	}
}

func TestSharedRegionsRunSideBySide(t *testing.T) {
	cfg := scheduler.NewDefaultConfig()
	cfg.IntraMaxPartitions = len(combiner.DefaultPartitions) + 1
	_, err := scheduler.New(gridtest.ThreeByThree(t), nil, cfg)
	require.ErrorContains(t, err, "intraMaxPartitions")

	// nine workloads fill the grid, the last three share regions
	h := newHypervisor(t)
	var pending []*workload.Executable
	for i := 0; i < 12; i++ {
		pending = append(pending, workloadtest.Small(string(rune('a'+i)), 100, 100))
	}
	plan, err := h.DryRun(context.Background(), pending, scheduler.Options{IntraVMSched: true})
	require.NoError(t, err)

	assert.Len(t, plan.Names, 12)
	for i, e := range plan.Selection {
		assert.LessOrEqual(t, len(e.Workloads), len(combiner.DefaultPartitions), "entry %d", i)
	}
	assert.Zero(t, plan.Resets)
	assert.Equal(t, 100, plan.Circuit.Depth())
}

func TestBuildErrors(t *testing.T) {
	h := newHypervisor(t)
	pending := []*workload.Executable{
		workloadtest.Executable("plain", 10, oneByOne),
		workloadtest.Small("small", 10, 5),
	}

	tests := map[string]scheduler.Selection{
		"empty selection":     nil,
		"outside the grid":    {{Workloads: []int{0}, Row: 2, Col: 2, Height: 2, Width: 1}},
		"unknown workload":    {{Workloads: []int{5}, Row: 0, Col: 0, Height: 1, Width: 1}},
		"unknown variant":     {{Workloads: []int{0}, Row: 0, Col: 0, Height: 1, Width: 1, Variant: 3}},
		"shared without half": {{Workloads: []int{1, 0}, Row: 0, Col: 0, Height: 1, Width: 1}},
	}
	for name, sel := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := h.Build(context.Background(), pending, sel)
			assert.Error(t, err)
		})
	}
}

// calibrated maps a directed pair to the gate calibrated on it.
type calibrated map[[2]int]string

func (c calibrated) HasGate(gate string, q1, q2 int) bool { return c[[2]int{q1, q2}] == gate }

func TestBuildCorrectsGateDirection(t *testing.T) {
	h := newHypervisor(t, WithDirectionCorrection("ecr", calibrated{{0, 1}: "ecr"}))

	c := circuit.New(7, circuit.Register{Name: "c", Size: 1})
	require.NoError(t, c.Gate("ecr", nil, 1, 0))
	require.NoError(t, c.Measure(0, 0))
	pending := []*workload.Executable{{
		Name:     "reversed",
		Variants: []workload.Variant{{Rows: 1, Cols: 1, Circuit: c}},
		Clbits:   1,
	}}

	plan, err := h.DryRun(context.Background(), pending, scheduler.Options{})
	require.NoError(t, err)

	var ecr []circuit.Instruction
	for _, op := range plan.Circuit.Ops {
		if op.Name == "ecr" {
			ecr = append(ecr, op)
		}
	}
	require.Len(t, ecr, 1)
	assert.Equal(t, []int{0, 1}, ecr[0].Qubits)
	assert.Zero(t, plan.Circuit.CountOps()["h"])
}

func TestRun(t *testing.T) {
	sampler := fake.NewSampler()
	h := newHypervisor(t, WithSampler(sampler))

	pending := []*workload.Executable{
		workloadtest.Executable("flip", 2, oneByOne),
		workloadtest.Executable("idle", 1, oneByOne),
		workloadtest.Executable("whole-device", 10, grid.Shape{Rows: 3, Cols: 3}),
	}

	ctx := logr.NewContext(context.Background(), testr.NewWithOptions(t, testr.Options{Verbosity: 4}))
	job, remaining, err := h.Run(ctx, pending, scheduler.Options{}, 100)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "whole-device", remaining[0].Name)
	assert.Len(t, pending, 3)

	require.Len(t, sampler.Jobs(), 1)
	assert.Equal(t, sampler.Jobs()[0].ID(), job.ID())
	assert.Equal(t, []string{"flip", "idle"}, job.Names)

	results, err := job.Results(ctx)
	require.NoError(t, err)
	assert.Equal(t, []backend.Counts{{"1": 100}, {"0": 100}}, results)

	// the leftover workload runs alone on the next call
	job, remaining, err = h.Run(ctx, remaining, scheduler.Options{}, 10)
	require.NoError(t, err)
	assert.Empty(t, remaining)
	assert.Equal(t, []string{"whole-device"}, job.Names)
}

func TestRunErrors(t *testing.T) {
	pending := []*workload.Executable{workloadtest.Executable("too-big", 10, grid.Shape{Rows: 4, Cols: 4})}

	_, remaining, err := newHypervisor(t).Run(context.Background(), pending, scheduler.Options{}, 10)
	assert.ErrorContains(t, err, "sampler")
	assert.Equal(t, pending, remaining)

	_, remaining, err = newHypervisor(t, WithSampler(fake.NewSampler())).Run(context.Background(), pending, scheduler.Options{}, 10)
	assert.ErrorContains(t, err, "could be scheduled")
	assert.Equal(t, pending, remaining)

	ok := []*workload.Executable{workloadtest.Executable("w", 10, oneByOne)}
	_, _, err = newHypervisor(t, WithSampler(fake.NewSampler())).Run(context.Background(), ok, scheduler.Options{}, 0)
	assert.ErrorContains(t, err, "submit")
}

func TestBuildRecordsMetrics(t *testing.T) {
	registry := metrics.NewMetricsRegistry()
	collector := collectors.NewSchedulerCollector()
	require.NoError(t, registry.RegisterCollector(collector))

	h := newHypervisor(t, WithMetrics(collector))
	pending := []*workload.Executable{
		workloadtest.Executable("a", 10, oneByOne),
		workloadtest.Executable("b", 10, oneByOne),
	}
	_, err := h.DryRun(context.Background(), pending, scheduler.Options{})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, registry.WriteText(&buf))
	assert.Contains(t, buf.String(), "qvm_combiner_used_qubits 14")
}

func TestNewRejectsNarrowDevice(t *testing.T) {
	g := gridtest.ThreeByThree(t)
	s, err := scheduler.New(g, nil, nil)
	require.NoError(t, err)

	_, err = New(g, 20, s)
	assert.Error(t, err)
	_, err = New(nil, 20, s)
	assert.Error(t, err)
}
