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

// partition is one half-region slot inside a shared region.
type partition struct {
	depth int
	reuse int
}

func spread(parts []partition) (hi, lo int) {
	hi, lo = parts[0].depth, parts[0].depth
	for _, p := range parts[1:] {
		hi = max(hi, p.depth)
		lo = min(lo, p.depth)
	}
	return hi, lo
}

func usedUp(parts []partition, limit int) bool {
	for _, p := range parts {
		if p.reuse < limit {
			return false
		}
	}
	return true
}

// intra appends small pending workloads to entries of selection in place
// and returns how many it added.
//
// Only a single-cell entry holding exactly one workload with a half variant
// can be shared: its occupant then runs in a half partition too. In the
// time phase a shared region whose partitions differ in depth by more than
// IntraImbalanceThreshold takes further workloads in sequence, as long as
// the region's deepest partition does not grow.
func (s *Scheduler) intra(ctx context.Context, st *state, pending []*workload.Executable, selection Selection, timePhase bool) int {
	logger := klog.FromContext(ctx)
	added := 0

	slots := make([]int, len(selection))
	parts := make([][]partition, len(selection))
	open := 0
	for j, e := range selection {
		occupant := pending[e.Workloads[0]]
		if len(e.Workloads) == 1 && e.Height*e.Width == 1 && occupant.Half != nil {
			slots[j] = s.config.IntraMaxPartitions - 1
			parts[j] = []partition{{depth: occupant.Half.Depth(), reuse: 1}}
			open += slots[j]
		}
	}

	for i, exe := range pending {
		if open == 0 {
			break
		}
		if st.selected.Has(i) || exe.Half == nil {
			continue
		}
		for j := range selection {
			if slots[j] == 0 {
				continue
			}
			e := &selection[j]
			depth := exe.Half.Depth()
			e.Workloads = append(e.Workloads, i)
			st.selected.Insert(i)
			st.height.Raise(e.Row, e.Col, e.Height, e.Width, depth)
			parts[j] = append(parts[j], partition{depth: depth, reuse: 1})
			slots[j]--
			open--
			added++
			logger.V(4).Info("Shared region with workload", "workload", exe.Name, "row", e.Row, "col", e.Col)
			break
		}
	}

	if !timePhase {
		return added
	}

	limit := s.config.IntraPartitionMaxReuse
	reusable := make([]bool, len(selection))
	remaining := 0
	for j := range selection {
		if len(parts[j]) < 2 {
			continue
		}
		hi, lo := spread(parts[j])
		if hi-lo > s.config.IntraImbalanceThreshold {
			reusable[j] = true
			remaining++
		}
		// the deepest partition sets the region depth and takes no more work
		for k := range parts[j] {
			if parts[j][k].depth == hi {
				parts[j][k].reuse = limit
			}
		}
	}
	if remaining == 0 {
		return added
	}

	for i, exe := range pending {
		if st.selected.Has(i) || exe.Half == nil {
			continue
		}
		depth := exe.Half.Depth()
		j, k, ok := intraTimeFit(parts, reusable, depth, limit)
		if !ok {
			continue
		}
		parts[j][k].depth += depth
		parts[j][k].reuse++
		selection[j].Workloads = append(selection[j].Workloads, i)
		st.selected.Insert(i)
		added++
		logger.V(4).Info("Time-shared partition with workload", "workload", exe.Name, "row", selection[j].Row, "col", selection[j].Col, "partition", k)

		hi, lo := spread(parts[j])
		if hi-lo <= s.config.IntraImbalanceThreshold || usedUp(parts[j], limit) {
			reusable[j] = false
			remaining--
		}
		if remaining == 0 {
			break
		}
	}
	return added
}

// intraTimeFit finds the first partition, in entry then partition order,
// that can run depth more layers without exceeding its region's deepest
// partition.
func intraTimeFit(parts [][]partition, reusable []bool, depth, limit int) (int, int, bool) {
	for j, region := range parts {
		if !reusable[j] {
			continue
		}
		hi, _ := spread(region)
		for k, p := range region {
			if p.depth+depth <= hi && p.reuse < limit {
				return j, k, true
			}
		}
	}
	return 0, 0, false
}
