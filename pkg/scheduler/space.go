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

	"k8s.io/klog/v2"

	"github.com/qvm-dev/hypervisor/pkg/workload"
)

type placement struct {
	row, col, variant int
}

// space places each pending workload on free cells, in list order.
func (s *Scheduler) space(ctx context.Context, st *state, pending []*workload.Executable, noiseAware bool) Selection {
	logger := klog.FromContext(ctx)

	var selection Selection
	for i, exe := range pending {
		if st.free == 0 {
			break
		}
		// free area only shrinks, so a workload that is too large now never
		// fits later in this pass
		if len(exe.Variants) == 0 || st.free < exe.MinArea() {
			continue
		}

		sensitive := !noiseAware || exe.Sensitive(s.config.SensitivityThreshold)
		p, ok := s.fit(st, exe, sensitive)
		if !ok {
			logger.V(4).Info("No free rectangle for workload", "workload", exe.Name, "sensitive", sensitive)
			continue
		}

		v := exe.Variants[p.variant]
		selection = append(selection, Entry{
			Workloads: []int{i},
			Row:       p.row,
			Col:       p.col,
			Height:    v.Rows,
			Width:     v.Cols,
			Variant:   p.variant,
		})
		st.selected.Insert(i)
		st.status.Set(p.row, p.col, v.Rows, v.Cols, 1)
		st.height.Add(p.row, p.col, v.Rows, v.Cols, v.Circuit.Depth())
		st.free -= v.Rows * v.Cols
		logger.V(4).Info("Placed workload", "workload", exe.Name, "row", p.row, "col", p.col, "shape", v.Shape())
	}
	return selection
}

// fit finds a free rectangle for exe. Sensitive workloads take the first
// rectangle with no bad cell in variant, then row-major order. Others take
// the rectangle with the most bad cells, the first one on ties.
func (s *Scheduler) fit(st *state, exe *workload.Executable, sensitive bool) (placement, bool) {
	rows, cols := s.grid.Rows(), s.grid.Cols()

	best, found := placement{}, false
	mostBad := -1
	for v, variant := range exe.Variants {
		n, m := variant.Rows, variant.Cols
		for r := 0; r+n <= rows; r++ {
			for c := 0; c+m <= cols; c++ {
				if !st.status.Free(r, c, n, m) {
					continue
				}
				bad := st.bad.Count(r, c, n, m)
				if sensitive {
					if bad == 0 {
						return placement{row: r, col: c, variant: v}, true
					}
					continue
				}
				if bad > mostBad {
					mostBad = bad
					best, found = placement{row: r, col: c, variant: v}, true
					if bad == n*m {
						return best, true
					}
				}
			}
		}
	}
	return best, found
}
