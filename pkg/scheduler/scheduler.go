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

// Package scheduler packs pending workloads onto a grid of regions.
//
// A schedule is built in up to four passes over the pending list, always in
// list order and always first fit:
//
//  1. space: each workload takes a free rectangle, optionally steering
//     noise-sensitive work away from the worst regions;
//  2. intra: small workloads join a region already holding one workload;
//  3. time: short workloads reuse cells whose depth is well below the
//     tallest cell, after a reset;
//  4. intra again over the placements of the time pass.
//
// Schedule is pure: it never modifies the pending list. Commit removes the
// scheduled workloads as a separate step.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"k8s.io/apimachinery/pkg/util/sets"
	"k8s.io/klog/v2"

	"github.com/qvm-dev/hypervisor/pkg/grid"
	"github.com/qvm-dev/hypervisor/pkg/metrics"
	"github.com/qvm-dev/hypervisor/pkg/metrics/collectors"
	"github.com/qvm-dev/hypervisor/pkg/quality"
	"github.com/qvm-dev/hypervisor/pkg/workload"
)

// Ranker supplies the region ranking for noise-aware placement.
type Ranker interface {
	Ranking(ctx context.Context) (*quality.Ranking, error)
}

// Scheduler places workloads on one grid. It keeps no state between calls.
type Scheduler struct {
	grid    *grid.Grid
	ranker  Ranker
	config  Config
	metrics *collectors.SchedulerCollector
}

// Option customises a Scheduler.
type Option func(*Scheduler)

// WithMetrics records every schedule in c.
func WithMetrics(c *collectors.SchedulerCollector) Option {
	return func(s *Scheduler) {
		s.metrics = c
	}
}

// New returns a scheduler for g. ranker may be nil when noise-aware
// scheduling is never requested.
func New(g *grid.Grid, ranker Ranker, config *Config, opts ...Option) (*Scheduler, error) {
	if config == nil {
		config = NewDefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scheduler config: %w", err)
	}
	s := &Scheduler{
		grid:   g,
		ranker: ranker,
		config: *config,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// state is the mutable bookkeeping of one Schedule call.
type state struct {
	status   RegionStatus
	height   RegionHeight
	bad      BadMarks
	free     int
	selected sets.Set[int]
}

func (s *Scheduler) newState() *state {
	rows, cols := s.grid.Rows(), s.grid.Cols()
	return &state{
		status:   NewRegionStatus(rows, cols),
		height:   NewRegionHeight(rows, cols),
		bad:      newMatrix[bool](rows, cols),
		free:     rows * cols,
		selected: sets.New[int](),
	}
}

// Schedule returns the placements for pending. Workloads that fit nowhere
// are simply absent from the result. pending is not modified.
func (s *Scheduler) Schedule(ctx context.Context, pending []*workload.Executable, opts Options) (Selection, error) {
	logger := klog.FromContext(ctx).WithValues("pending", len(pending), "timeSched", opts.TimeSched, "intraVMSched", opts.IntraVMSched, "noiseAware", opts.NoiseAware)
	ctx = klog.NewContext(ctx, logger)
	start := time.Now()

	st := s.newState()
	if opts.NoiseAware {
		if s.ranker == nil {
			return nil, fmt.Errorf("noise-aware scheduling requires a region ranker")
		}
		ranking, err := s.ranker.Ranking(ctx)
		s.metrics.ObserveRanking(err)
		if err != nil {
			return nil, fmt.Errorf("failed to rank regions: %w", err)
		}
		if ranking.Rows != s.grid.Rows() || ranking.Cols != s.grid.Cols() {
			return nil, fmt.Errorf("ranking covers a %dx%d grid, scheduler grid is %dx%d", ranking.Rows, ranking.Cols, s.grid.Rows(), s.grid.Cols())
		}
		st.bad = ranking.MarkBad(s.config.BadRegions)
		logger.V(4).Info("Marked bad regions", "marks", st.bad)
	}

	placed := map[string]int{}
	selection := s.space(ctx, st, pending, opts.NoiseAware)
	placed[metrics.PassSpace] = len(selection)

	intraTime := s.config.IntraTimeScheduling && !opts.NoiseAware
	if opts.IntraVMSched {
		placed[metrics.PassIntra] += s.intra(ctx, st, pending, selection, intraTime)
	}

	if !opts.NoiseAware && opts.TimeSched {
		if spread := st.height.Max() - st.height.Min(); spread < s.config.ImbalanceThreshold {
			logger.V(4).Info("Skipping time scheduling, heights are balanced", "spread", spread)
		} else {
			second := s.timeMultiplex(ctx, st, pending)
			placed[metrics.PassTime] = len(second)
			if opts.IntraVMSched {
				placed[metrics.PassIntra] += s.intra(ctx, st, pending, second, intraTime)
			}
			selection = append(selection, second...)
		}
	}

	utilization := 0.0
	if hi := st.height.Max(); hi > 0 {
		utilization = float64(st.height.Sum()) / float64(hi*s.grid.Cells())
	}
	s.metrics.ObserveSchedule(time.Since(start), placed, len(pending)-st.selected.Len(), utilization)
	logger.V(2).Info("Computed schedule", "entries", len(selection), "scheduled", st.selected.Len(), "placed", placed, "utilization", utilization)
	return selection, nil
}

// Commit returns pending without the workloads selection consumed. The
// input slice is left untouched.
func Commit(pending []*workload.Executable, selection Selection) []*workload.Executable {
	consumed := sets.New(selection.Workloads()...)
	remaining := make([]*workload.Executable, 0, len(pending))
	for i, exe := range pending {
		if !consumed.Has(i) {
			remaining = append(remaining, exe)
		}
	}
	return remaining
}
