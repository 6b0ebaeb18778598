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

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qvm-dev/hypervisor/pkg/grid"
	"github.com/qvm-dev/hypervisor/pkg/grid/gridtest"
	"github.com/qvm-dev/hypervisor/pkg/metrics"
	"github.com/qvm-dev/hypervisor/pkg/metrics/collectors"
	"github.com/qvm-dev/hypervisor/pkg/quality"
	"github.com/qvm-dev/hypervisor/pkg/workload"
	"github.com/qvm-dev/hypervisor/pkg/workload/workloadtest"
)

var (
	oneByOne   = grid.Shape{Rows: 1, Cols: 1}
	oneByTwo   = grid.Shape{Rows: 1, Cols: 2}
	oneByThree = grid.Shape{Rows: 1, Cols: 3}
)

type fixedRanker struct {
	ranking *quality.Ranking
	err     error
}

func (f fixedRanker) Ranking(context.Context) (*quality.Ranking, error) {
	return f.ranking, f.err
}

// worstLast ranks a 3x3 grid with the given cells at the bottom, the last
// one worst.
func worstLast(worst ...int) fixedRanker {
	r := &quality.Ranking{Rows: 3, Cols: 3}
	isWorst := map[int]bool{}
	for _, w := range worst {
		isWorst[w] = true
	}
	for cell := 0; cell < 9; cell++ {
		if !isWorst[cell] {
			r.Order = append(r.Order, cell)
		}
	}
	r.Order = append(r.Order, worst...)
	return fixedRanker{ranking: r}
}

func newScheduler(t *testing.T, ranker Ranker, mutate func(*Config), opts ...Option) *Scheduler {
	t.Helper()
	cfg := NewDefaultConfig()
	if mutate != nil {
		mutate(cfg)
	}
	s, err := New(gridtest.ThreeByThree(t), ranker, cfg, opts...)
	require.NoError(t, err)
	return s
}

func entry(row, col, height, width int, workloads ...int) Entry {
	return Entry{Workloads: workloads, Row: row, Col: col, Height: height, Width: width}
}

func TestSpaceFillsRows(t *testing.T) {
	s := newScheduler(t, nil, nil)
	pending := []*workload.Executable{
		workloadtest.Executable("row-0", 10, oneByThree),
		workloadtest.Executable("row-1", 10, oneByThree),
		workloadtest.Executable("row-2", 10, oneByThree),
		workloadtest.Executable("row-3", 10, oneByThree),
	}

	sel, err := s.Schedule(context.Background(), pending, Options{})
	require.NoError(t, err)

	want := Selection{
		entry(0, 0, 1, 3, 0),
		entry(1, 0, 1, 3, 1),
		entry(2, 0, 1, 3, 2),
	}
	if diff := cmp.Diff(want, sel); diff != "" {
		t.Errorf("unexpected selection (-want +got):\n%s", diff)
	}

	remaining := Commit(pending, sel)
	require.Len(t, remaining, 1)
	assert.Same(t, pending[3], remaining[0])
	assert.Len(t, pending, 4, "commit must not modify its input")
}

func TestSpaceSkipsWorkloadsLargerThanFreeArea(t *testing.T) {
	s := newScheduler(t, nil, nil)
	pending := []*workload.Executable{
		workloadtest.Executable("two-rows", 10, grid.Shape{Rows: 2, Cols: 3}),
		workloadtest.Executable("square", 10, grid.Shape{Rows: 2, Cols: 2}),
		workloadtest.Executable("pair", 10, oneByTwo),
		workloadtest.Executable("single", 10, oneByOne),
	}

	sel, err := s.Schedule(context.Background(), pending, Options{})
	require.NoError(t, err)

	want := Selection{
		entry(0, 0, 2, 3, 0),
		entry(2, 0, 1, 2, 2),
		entry(2, 2, 1, 1, 3),
	}
	if diff := cmp.Diff(want, sel); diff != "" {
		t.Errorf("unexpected selection (-want +got):\n%s", diff)
	}
}

func TestSpaceTriesVariantsInOrder(t *testing.T) {
	s := newScheduler(t, nil, nil)
	pending := []*workload.Executable{
		workloadtest.Executable("column-0", 10, grid.Shape{Rows: 3, Cols: 1}),
		workloadtest.Executable("column-1", 10, grid.Shape{Rows: 3, Cols: 1}),
		// 1x2 no longer fits, the transpose does
		workloadtest.Executable("pair", 10, oneByTwo, grid.Shape{Rows: 2, Cols: 1}),
	}

	sel, err := s.Schedule(context.Background(), pending, Options{})
	require.NoError(t, err)
	require.Len(t, sel, 3)
	assert.Equal(t, Entry{Workloads: []int{2}, Row: 0, Col: 2, Height: 2, Width: 1, Variant: 1}, sel[2])
}

func TestNoiseAwarePlacement(t *testing.T) {
	oneBad := func(c *Config) { c.BadRegions = 1 }

	tests := []struct {
		name       string
		depth      int
		noiseAware bool
		want       Entry
	}{
		{
			name:       "sensitive avoids the bad cell",
			depth:      10,
			noiseAware: true,
			want:       entry(0, 1, 1, 1, 0),
		},
		{
			name:       "insensitive prefers the bad cell",
			depth:      400,
			noiseAware: true,
			want:       entry(0, 0, 1, 1, 0),
		},
		{
			name:       "everything is sensitive without noise awareness",
			depth:      400,
			noiseAware: false,
			want:       entry(0, 0, 1, 1, 0),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newScheduler(t, worstLast(0), oneBad)
			pending := []*workload.Executable{workloadtest.Executable("w", tt.depth, oneByOne)}

			sel, err := s.Schedule(context.Background(), pending, Options{NoiseAware: tt.noiseAware})
			require.NoError(t, err)
			if diff := cmp.Diff(Selection{tt.want}, sel); diff != "" {
				t.Errorf("unexpected selection (-want +got):\n%s", diff)
			}
		})
	}
}

func TestNoiseAwareNeverUsesBadCellForSensitiveWork(t *testing.T) {
	s := newScheduler(t, worstLast(4), func(c *Config) { c.BadRegions = 1 })

	var pending []*workload.Executable
	for i := 0; i < 9; i++ {
		pending = append(pending, workloadtest.Executable(fmt.Sprintf("w%d", i), 10, oneByOne))
	}

	sel, err := s.Schedule(context.Background(), pending, Options{NoiseAware: true})
	require.NoError(t, err)
	require.Len(t, sel, 8)
	for _, e := range sel {
		assert.False(t, e.Row == 1 && e.Col == 1, "workload %v placed on the bad cell", e.Workloads)
	}
	assert.NotContains(t, sel.Workloads(), 8)
}

func TestNoiseAwareInsensitivePicksMostBadCells(t *testing.T) {
	// bad cells: (0,2), (1,1), (1,2)
	s := newScheduler(t, worstLast(2, 4, 5), nil)
	pending := []*workload.Executable{
		workloadtest.Executable("long", 400, oneByTwo, grid.Shape{Rows: 2, Cols: 1}),
	}

	sel, err := s.Schedule(context.Background(), pending, Options{NoiseAware: true})
	require.NoError(t, err)

	// (0,1)-(0,2) has one bad cell, (1,1)-(1,2) is the first rectangle that
	// is bad throughout
	want := Selection{entry(1, 1, 1, 2, 0)}
	if diff := cmp.Diff(want, sel); diff != "" {
		t.Errorf("unexpected selection (-want +got):\n%s", diff)
	}
}

func TestNoiseAwareRankerErrors(t *testing.T) {
	pending := []*workload.Executable{workloadtest.Executable("w", 10, oneByOne)}

	s := newScheduler(t, nil, nil)
	_, err := s.Schedule(context.Background(), pending, Options{NoiseAware: true})
	assert.Error(t, err)

	s = newScheduler(t, fixedRanker{err: errors.New("calibration unavailable")}, nil)
	_, err = s.Schedule(context.Background(), pending, Options{NoiseAware: true})
	assert.ErrorContains(t, err, "calibration unavailable")

	s = newScheduler(t, fixedRanker{ranking: &quality.Ranking{Rows: 2, Cols: 2, Order: []int{0, 1, 2, 3}}}, nil)
	_, err = s.Schedule(context.Background(), pending, Options{NoiseAware: true})
	assert.ErrorContains(t, err, "2x2")
}

// imbalanced fills row 0 with a deep workload and the other rows with
// shallow ones, followed by candidates for time multiplexing.
func imbalanced() []*workload.Executable {
	return []*workload.Executable{
		workloadtest.Executable("deep", 500, oneByThree),
		workloadtest.Executable("shallow-1", 100, oneByThree),
		workloadtest.Executable("shallow-2", 100, oneByThree),
		workloadtest.Executable("short", 100, oneByOne),
		workloadtest.Executable("short-row", 100, oneByThree),
		workloadtest.Executable("too-deep", 400, oneByOne),
	}
}

func TestTimeScheduling(t *testing.T) {
	s := newScheduler(t, nil, nil)
	pending := imbalanced()

	sel, err := s.Schedule(context.Background(), pending, Options{TimeSched: true})
	require.NoError(t, err)

	want := Selection{
		entry(0, 0, 1, 3, 0),
		entry(1, 0, 1, 3, 1),
		entry(2, 0, 1, 3, 2),
		entry(1, 0, 1, 1, 3),
		entry(2, 0, 1, 3, 4),
	}
	if diff := cmp.Diff(want, sel); diff != "" {
		t.Errorf("unexpected selection (-want +got):\n%s", diff)
	}

	// no cell is used more than MaxReuse times
	uses := NewRegionStatus(3, 3)
	for _, e := range sel {
		uses.Inc(e.Row, e.Col, e.Height, e.Width)
	}
	assert.True(t, uses.Below(0, 0, 3, 3, NewDefaultConfig().MaxReuse+1))
}

func TestTimeSchedulingDisabled(t *testing.T) {
	ctx := context.Background()
	spaceOnly := Selection{
		entry(0, 0, 1, 3, 0),
		entry(1, 0, 1, 3, 1),
		entry(2, 0, 1, 3, 2),
	}

	tests := []struct {
		name   string
		ranker Ranker
		mutate func(*Config)
		opts   Options
	}{
		{name: "time scheduling off", opts: Options{}},
		{name: "reuse limit of one", mutate: func(c *Config) { c.MaxReuse = 1 }, opts: Options{TimeSched: true}},
		{name: "imbalance below threshold", mutate: func(c *Config) { c.ImbalanceThreshold = 401 }, opts: Options{TimeSched: true}},
		{name: "noise aware overrides", ranker: worstLast(0, 1, 2), opts: Options{TimeSched: true, NoiseAware: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newScheduler(t, tt.ranker, tt.mutate)
			sel, err := s.Schedule(ctx, imbalanced(), tt.opts)
			require.NoError(t, err)
			if diff := cmp.Diff(spaceOnly, sel); diff != "" {
				t.Errorf("unexpected selection (-want +got):\n%s", diff)
			}
		})
	}
}

func TestTimeSchedulingSkippedWhenBalanced(t *testing.T) {
	s := newScheduler(t, nil, nil)
	var pending []*workload.Executable
	for i := 0; i < 12; i++ {
		pending = append(pending, workloadtest.Executable(fmt.Sprintf("w%d", i), 100, oneByOne))
	}

	withTime, err := s.Schedule(context.Background(), pending, Options{TimeSched: true})
	require.NoError(t, err)
	withoutTime, err := s.Schedule(context.Background(), pending, Options{})
	require.NoError(t, err)

	if diff := cmp.Diff(withoutTime, withTime); diff != "" {
		t.Errorf("time scheduling changed a balanced schedule (-want +got):\n%s", diff)
	}
	assert.Len(t, withTime, 9)
}

func TestScheduleIsIdempotent(t *testing.T) {
	s := newScheduler(t, nil, func(c *Config) { c.IntraTimeScheduling = true })
	pending := append(imbalanced(), workloadtest.Small("small", 20, 10))
	opts := Options{TimeSched: true, IntraVMSched: true}

	first, err := s.Schedule(context.Background(), pending, opts)
	require.NoError(t, err)
	second, err := s.Schedule(context.Background(), pending, opts)
	require.NoError(t, err)

	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("second schedule differs (-first +second):\n%s", diff)
	}
	assert.Len(t, pending, 7)
}

// shareable puts one shareable workload at (0,0) and fills the rest of the
// grid, followed by the given small workloads.
func shareable(occupantHalfDepth int, small ...*workload.Executable) []*workload.Executable {
	return append([]*workload.Executable{
		workloadtest.Small("occupant", 120, occupantHalfDepth),
		workloadtest.Executable("row-1", 10, oneByThree),
		workloadtest.Executable("row-2", 10, oneByThree),
		workloadtest.Executable("rest", 10, oneByTwo),
	}, small...)
}

func TestIntraSpacePhase(t *testing.T) {
	pending := shareable(100,
		workloadtest.Small("s4", 20, 12),
		workloadtest.Executable("no-half", 20, oneByOne),
		workloadtest.Small("s6", 20, 8),
	)

	s := newScheduler(t, nil, nil)
	sel, err := s.Schedule(context.Background(), pending, Options{IntraVMSched: true})
	require.NoError(t, err)

	want := Selection{
		entry(0, 0, 1, 1, 0, 4),
		entry(1, 0, 1, 3, 1),
		entry(2, 0, 1, 3, 2),
		entry(0, 1, 1, 2, 3),
	}
	if diff := cmp.Diff(want, sel); diff != "" {
		t.Errorf("unexpected selection (-want +got):\n%s", diff)
	}

	s = newScheduler(t, nil, func(c *Config) { c.IntraMaxPartitions = 1 })
	sel, err = s.Schedule(context.Background(), pending, Options{IntraVMSched: true})
	require.NoError(t, err)
	assert.Equal(t, []int{0}, sel[0].Workloads, "one partition per region disables sharing")
	s = newScheduler(t, nil, nil)

	sel, err = s.Schedule(context.Background(), pending, Options{})
	require.NoError(t, err)
	assert.Equal(t, []int{0}, sel[0].Workloads, "intra scheduling is opt-in")
}

func TestIntraSpacePhaseNeedsShareableOccupant(t *testing.T) {
	pending := []*workload.Executable{
		workloadtest.Executable("occupant", 120, oneByOne),
		workloadtest.Executable("row-1", 10, oneByThree),
		workloadtest.Executable("row-2", 10, oneByThree),
		workloadtest.Executable("rest", 10, oneByTwo),
		workloadtest.Small("small", 20, 12),
	}

	s := newScheduler(t, nil, nil)
	sel, err := s.Schedule(context.Background(), pending, Options{IntraVMSched: true})
	require.NoError(t, err)
	assert.NotContains(t, sel.Workloads(), 4)
}

func TestIntraTimePhase(t *testing.T) {
	pending := shareable(100,
		workloadtest.Small("s4", 20, 10),
		workloadtest.Small("s5", 20, 30),
		workloadtest.Small("s6", 20, 20),
	)

	s := newScheduler(t, nil, func(c *Config) { c.IntraTimeScheduling = true })
	sel, err := s.Schedule(context.Background(), pending, Options{IntraVMSched: true})
	require.NoError(t, err)

	// s5 runs after s4 in the shallow partition; that partition is then
	// used up so s6 stays pending
	assert.Equal(t, []int{0, 4, 5}, sel[0].Workloads)
	assert.NotContains(t, sel.Workloads(), 6)

	s = newScheduler(t, nil, nil)
	sel, err = s.Schedule(context.Background(), pending, Options{IntraVMSched: true})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 4}, sel[0].Workloads, "intra time scheduling is off by default")
}

func TestIntraTimePhaseNeedsImbalance(t *testing.T) {
	pending := shareable(30,
		workloadtest.Small("s4", 20, 10),
		workloadtest.Small("s5", 20, 5),
	)

	s := newScheduler(t, nil, func(c *Config) { c.IntraTimeScheduling = true })
	sel, err := s.Schedule(context.Background(), pending, Options{IntraVMSched: true})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 4}, sel[0].Workloads)
}

func TestScheduleMetrics(t *testing.T) {
	registry := metrics.NewMetricsRegistry()
	c := collectors.NewSchedulerCollector()
	require.NoError(t, registry.RegisterCollector(c))

	s := newScheduler(t, nil, nil, WithMetrics(c))
	_, err := s.Schedule(context.Background(), imbalanced(), Options{TimeSched: true})
	require.NoError(t, err)

	count, err := testutil.GatherAndCount(registry, "qvm_scheduler_placed_workloads_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count, "space and time series")
}

func TestCommit(t *testing.T) {
	pending := []*workload.Executable{
		workloadtest.Executable("a", 1, oneByOne),
		workloadtest.Executable("b", 1, oneByOne),
		workloadtest.Executable("c", 1, oneByOne),
		workloadtest.Executable("d", 1, oneByOne),
	}
	sel := Selection{entry(0, 0, 1, 1, 2, 0)}

	remaining := Commit(pending, sel)
	require.Len(t, remaining, 2)
	assert.Same(t, pending[1], remaining[0])
	assert.Same(t, pending[3], remaining[1])
	assert.Len(t, Commit(pending, nil), 4)
}

func TestSelectionValidate(t *testing.T) {
	tests := []struct {
		name    string
		sel     Selection
		wantErr string
	}{
		{name: "valid", sel: Selection{entry(0, 0, 1, 3, 0), entry(1, 1, 2, 2, 1, 2)}},
		{name: "outside the grid", sel: Selection{entry(2, 2, 1, 2, 0)}, wantErr: "outside"},
		{name: "empty rectangle", sel: Selection{entry(0, 0, 0, 1, 0)}, wantErr: "outside"},
		{name: "no workloads", sel: Selection{entry(0, 0, 1, 1)}, wantErr: "no workloads"},
		{name: "bad index", sel: Selection{entry(0, 0, 1, 1, 7)}, wantErr: "out of range"},
		{name: "duplicate", sel: Selection{entry(0, 0, 1, 1, 1), entry(0, 1, 1, 1, 1)}, wantErr: "twice"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.sel.Validate(3, 3, 3)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, NewDefaultConfig().Validate())

	cfg := NewDefaultConfig()
	cfg.MaxReuse = 0
	cfg.TimeSafetyMargin = -1
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "maxReuse")
	assert.Contains(t, err.Error(), "timeSafetyMargin")

	_, err = New(gridtest.ThreeByThree(t), nil, cfg)
	assert.Error(t, err)

	// a region only has two partitions to run shared workloads in
	cfg = NewDefaultConfig()
	cfg.IntraMaxPartitions = 3
	assert.ErrorContains(t, cfg.Validate(), "intraMaxPartitions must be at most 2")
}

func TestRegionHeight(t *testing.T) {
	h := NewRegionHeight(3, 3)
	h.Add(0, 0, 2, 2, 10)
	h.Fill(2, 0, 1, 3, 4)
	h.Raise(0, 1, 1, 2, 25)

	assert.Equal(t, RegionHeight{{10, 25, 25}, {10, 10, 0}, {4, 4, 4}}, h)
	assert.Equal(t, 25, h.Max())
	assert.Equal(t, 0, h.Min())
	assert.Equal(t, 10, h.MaxPool(1, 0, 2, 2))
	assert.Equal(t, 92, h.Sum())
}
