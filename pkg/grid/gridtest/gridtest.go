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

// Package gridtest builds small, fully specified grids for tests.
package gridtest

import (
	"testing"

	"github.com/qvm-dev/hypervisor/pkg/grid"
)

const (
	// RegionQubits is the size of one region in ThreeByThree.
	RegionQubits = 7
	// NumQubits is the device width of ThreeByThree.
	NumQubits = 75
)

// Matrices returns the region, horizontal and vertical matrices of a 3×3
// grid of 7-qubit regions. Region (i, j) owns qubits 7*(3i+j) .. 7*(3i+j)+6.
// Horizontal link (i, j) is the single qubit 63+2i+j. Vertical link (i, j) is
// qubit 69+3i+j, plus the horizontal bridge qubit to its upper left for
// j > 0, so sub-grids spanning both links must deduplicate it.
func Matrices() (regions, horizontal, vertical [][][]int) {
	regions = make([][][]int, 3)
	for i := 0; i < 3; i++ {
		regions[i] = make([][]int, 3)
		for j := 0; j < 3; j++ {
			base := (i*3 + j) * RegionQubits
			for k := 0; k < RegionQubits; k++ {
				regions[i][j] = append(regions[i][j], base+k)
			}
		}
	}

	horizontal = make([][][]int, 3)
	for i := 0; i < 3; i++ {
		horizontal[i] = make([][]int, 2)
		for j := 0; j < 2; j++ {
			horizontal[i][j] = []int{63 + i*2 + j}
		}
	}

	vertical = make([][][]int, 2)
	for i := 0; i < 2; i++ {
		vertical[i] = make([][]int, 3)
		for j := 0; j < 3; j++ {
			vertical[i][j] = []int{69 + i*3 + j}
			if j > 0 {
				vertical[i][j] = append(vertical[i][j], horizontal[i][j-1][0])
			}
		}
	}
	return regions, horizontal, vertical
}

// ThreeByThree returns the grid described by Matrices.
func ThreeByThree(t testing.TB) *grid.Grid {
	t.Helper()
	g, err := grid.New(Matrices())
	if err != nil {
		t.Fatalf("failed to build test grid: %v", err)
	}
	return g
}
