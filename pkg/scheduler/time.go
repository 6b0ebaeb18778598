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
	"fmt"

	"k8s.io/klog/v2"

	"github.com/qvm-dev/hypervisor/pkg/workload"
)

// timeMultiplex stacks still-pending workloads on top of placed ones without
// raising the tallest cell. Cells already at the tallest height are locked.
// Every cell under one placement ends at the same height: a multi-cell
// workload occupies the same time window across its footprint.
func (s *Scheduler) timeMultiplex(ctx context.Context, st *state, pending []*workload.Executable) Selection {
	logger := klog.FromContext(ctx)
	limit := s.config.MaxReuse
	maxHeight := st.height.Max()

	budget := 0
	for i, row := range st.height {
		for j, h := range row {
			if h < maxHeight {
				budget += limit - st.status[i][j]
			} else {
				st.status[i][j] = limit
			}
		}
	}
	logger.V(4).Info("Starting time scheduling", "maxHeight", maxHeight, "budget", budget)

	var selection Selection
	for i, exe := range pending {
		if budget <= 0 {
			break
		}
		if st.selected.Has(i) {
			continue
		}
		for v, variant := range exe.Variants {
			n, m := variant.Rows, variant.Cols
			depth := variant.Circuit.Depth() + s.config.TimeSafetyMargin
			r, c, ok := s.timeFit(st, n, m, depth, maxHeight)
			if !ok {
				continue
			}

			height := st.height.MaxPool(r, c, n, m) + depth
			if height > maxHeight {
				panic(fmt.Sprintf("time scheduling raised cell height to %d above the grid maximum %d", height, maxHeight))
			}
			st.height.Fill(r, c, n, m, height)
			st.status.Inc(r, c, n, m)
			st.selected.Insert(i)
			budget -= n * m
			selection = append(selection, Entry{
				Workloads: []int{i},
				Row:       r,
				Col:       c,
				Height:    n,
				Width:     m,
				Variant:   v,
			})
			logger.V(4).Info("Time-multiplexed workload", "workload", exe.Name, "row", r, "col", c, "height", height)
			break
		}
	}
	return selection
}

// timeFit finds the first n×m rectangle in row-major order whose cells are
// all below the reuse limit and where depth fits under maxHeight.
func (s *Scheduler) timeFit(st *state, n, m, depth, maxHeight int) (int, int, bool) {
	for r := 0; r+n <= s.grid.Rows(); r++ {
		for c := 0; c+m <= s.grid.Cols(); c++ {
			if !st.status.Below(r, c, n, m, s.config.MaxReuse) {
				continue
			}
			if st.height.MaxPool(r, c, n, m)+depth < maxHeight {
				return r, c, true
			}
		}
	}
	return 0, 0, false
}
