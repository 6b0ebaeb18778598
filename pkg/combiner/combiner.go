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

// Package combiner merges scheduled sub-circuits into one device-wide
// circuit.
package combiner

import (
	"fmt"

	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/qvm-dev/hypervisor/pkg/circuit"
)

const (
	// InternalPrefix names the registers of circuits sharing one region.
	InternalPrefix = "circ"

	// RegionQubits is the width of the single region CombineInternal
	// targets.
	RegionQubits = 7
)

// DefaultPartitions are the two 3-qubit lines of a 7-qubit heavy-hex region.
var DefaultPartitions = [][]int{{0, 1, 2}, {4, 5, 6}}

// Result is a combined circuit and how it was put together.
type Result struct {
	Circuit *circuit.Circuit

	// Resets is the number of reset operations inserted for reuse.
	Resets int

	// UsedQubits is the number of distinct physical qubits touched.
	UsedQubits int
}

// Combine places subs[i] on the physical qubits mappings[i] of a numQubits
// wide circuit, in order. Each input classical register becomes its own
// register named prefix + i + "_" + name. Before a sub-circuit lands on
// qubits an earlier one used, a barrier over its whole mapping is followed
// by one reset per reused qubit.
func Combine(subs []*circuit.Circuit, mappings [][]int, numQubits int, prefix string) (*Result, error) {
	var cregs []circuit.Register
	for i, sub := range subs {
		for _, r := range sub.CRegs {
			cregs = append(cregs, circuit.Register{Name: fmt.Sprintf("%s%d_%s", prefix, i, r.Name), Size: r.Size})
		}
	}
	return combine(subs, mappings, circuit.New(numQubits, cregs...))
}

// Combine1 is Combine with a single classical register "c" holding every
// sub-circuit's bits.
func Combine1(subs []*circuit.Circuit, mappings [][]int, numQubits int) (*Result, error) {
	total := 0
	for _, sub := range subs {
		total += sub.NumClbits()
	}
	return combine(subs, mappings, circuit.New(numQubits, circuit.Register{Name: "c", Size: total}))
}

func combine(subs []*circuit.Circuit, mappings [][]int, res *circuit.Circuit) (*Result, error) {
	if len(subs) != len(mappings) {
		return nil, fmt.Errorf("got %d circuits but %d mappings", len(subs), len(mappings))
	}

	used := sets.New[int]()
	resets := 0
	offset := 0
	for i, sub := range subs {
		mapping := mappings[i]
		var reused []int
		for _, q := range mapping {
			if used.Has(q) {
				reused = append(reused, q)
			}
		}
		if len(reused) > 0 {
			if err := res.Barrier(mapping...); err != nil {
				return nil, fmt.Errorf("circuit %d: %w", i, err)
			}
			for _, q := range reused {
				if err := res.Reset(q); err != nil {
					return nil, fmt.Errorf("circuit %d: %w", i, err)
				}
			}
			resets += len(reused)
		}

		clbits := make([]int, sub.NumClbits())
		for b := range clbits {
			clbits[b] = offset + b
		}
		if err := res.Compose(sub, mapping, clbits); err != nil {
			return nil, fmt.Errorf("circuit %d: %w", i, err)
		}
		used.Insert(mapping...)
		offset += len(clbits)
	}

	return &Result{Circuit: res, Resets: resets, UsedQubits: used.Len()}, nil
}

// CombineInternal packs half-region circuits into the partitions of one
// region. The first len(partitions) circuits each open a partition; every
// later one is appended to the currently shallowest partition, the first on
// ties. The result is regionQubits wide with registers prefixed "circ".
func CombineInternal(halves []*circuit.Circuit, partitions [][]int, regionQubits int) (*Result, error) {
	if len(partitions) == 0 {
		return nil, fmt.Errorf("no partitions to combine into")
	}

	type slot struct {
		partition int
		depth     int
	}
	var table []slot
	mappings := make([][]int, len(halves))
	for i, h := range halves {
		depth := h.Depth()
		if len(table) < len(partitions) {
			table = append(table, slot{partition: len(table), depth: depth})
			mappings[i] = partitions[len(table)-1]
			continue
		}
		// Placement here ignores which partition the scheduler's time fit chose.
		target := 0
		for j := range table {
			if table[j].depth < table[target].depth {
				target = j
			}
		}
		table[target].depth += depth
		mappings[i] = partitions[table[target].partition]
	}

	return Combine(halves, mappings, regionQubits, InternalPrefix)
}
