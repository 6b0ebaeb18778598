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

// Package grid models the device as a rectangular grid of qVM regions joined
// by bridge qubits, and maps rectangular sub-grids onto physical qubits.
package grid

import (
	"fmt"
	"sort"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"k8s.io/apimachinery/pkg/util/sets"
)

// Shape is the footprint of a (possibly scaled) region in grid cells.
type Shape struct {
	Rows int `json:"rows"`
	Cols int `json:"cols"`
}

// Area is the number of cells covered.
func (s Shape) Area() int {
	return s.Rows * s.Cols
}

func (s Shape) String() string {
	return fmt.Sprintf("%dx%d", s.Rows, s.Cols)
}

// Grid is an immutable rows×cols matrix of regions. Horizontal[i][j] holds the
// bridge qubits between region (i, j) and (i, j+1); Vertical[i][j] those
// between (i, j) and (i+1, j). A bridge qubit may sit on both a horizontal and
// a vertical link.
type Grid struct {
	rows, cols int

	regions    [][][]int
	horizontal [][][]int
	vertical   [][][]int
}

// New validates the matrices and returns a Grid holding private copies.
func New(regions, horizontal, vertical [][][]int) (*Grid, error) {
	if err := validate(regions, horizontal, vertical); err != nil {
		return nil, err
	}
	return &Grid{
		rows:       len(regions),
		cols:       len(regions[0]),
		regions:    copyMatrix(regions),
		horizontal: copyMatrix(horizontal),
		vertical:   copyMatrix(vertical),
	}, nil
}

func validate(regions, horizontal, vertical [][][]int) error {
	if len(regions) == 0 || len(regions[0]) == 0 {
		return fmt.Errorf("grid must have at least one region")
	}
	rows, cols := len(regions), len(regions[0])

	var errs []error
	checkShape := func(name string, m [][][]int, wantRows, wantCols int) {
		if wantRows == 0 || wantCols == 0 {
			for _, row := range m {
				if len(row) != 0 {
					errs = append(errs, fmt.Errorf("%s links must be empty for a %dx%d grid", name, rows, cols))
					return
				}
			}
			return
		}
		if len(m) != wantRows {
			errs = append(errs, fmt.Errorf("%s links have %d rows, expected %d", name, len(m), wantRows))
			return
		}
		for i, row := range m {
			if len(row) != wantCols {
				errs = append(errs, fmt.Errorf("%s links row %d has %d entries, expected %d", name, i, len(row), wantCols))
			}
		}
	}
	checkShape("regions", regions, rows, cols)
	checkShape("horizontal", horizontal, rows, cols-1)
	checkShape("vertical", vertical, rows-1, cols)
	if len(errs) > 0 {
		return utilerrors.NewAggregate(errs)
	}

	owned := sets.New[int]()
	for i, row := range regions {
		for j, qubits := range row {
			if len(qubits) == 0 {
				errs = append(errs, fmt.Errorf("region (%d, %d) has no qubits", i, j))
			}
			for _, q := range qubits {
				switch {
				case q < 0:
					errs = append(errs, fmt.Errorf("region (%d, %d) has negative qubit %d", i, j, q))
				case owned.Has(q):
					errs = append(errs, fmt.Errorf("qubit %d belongs to more than one region", q))
				default:
					owned.Insert(q)
				}
			}
		}
	}

	checkLinks := func(name string, m [][][]int) {
		seen := sets.New[int]()
		for i, row := range m {
			for j, qubits := range row {
				for _, q := range qubits {
					switch {
					case q < 0:
						errs = append(errs, fmt.Errorf("%s link (%d, %d) has negative qubit %d", name, i, j, q))
					case owned.Has(q):
						errs = append(errs, fmt.Errorf("%s link (%d, %d) reuses region qubit %d", name, i, j, q))
					case seen.Has(q):
						errs = append(errs, fmt.Errorf("%s bridge qubit %d appears on more than one link", name, q))
					default:
						seen.Insert(q)
					}
				}
			}
		}
	}
	checkLinks("horizontal", horizontal)
	checkLinks("vertical", vertical)

	return utilerrors.NewAggregate(errs)
}

func copyMatrix(m [][][]int) [][][]int {
	out := make([][][]int, len(m))
	for i, row := range m {
		out[i] = make([][]int, len(row))
		for j, qubits := range row {
			out[i][j] = append([]int(nil), qubits...)
		}
	}
	return out
}

// Rows is the number of region rows.
func (g *Grid) Rows() int { return g.rows }

// Cols is the number of region columns.
func (g *Grid) Cols() int { return g.cols }

// Cells is the number of single regions.
func (g *Grid) Cells() int { return g.rows * g.cols }

// Region returns the physical qubits of the single region at (r, c).
func (g *Grid) Region(r, c int) []int {
	return append([]int(nil), g.regions[r][c]...)
}

// Contains reports whether the n×m sub-grid at (r, c) lies inside the grid.
func (g *Grid) Contains(r, c, n, m int) bool {
	return r >= 0 && c >= 0 && n > 0 && m > 0 && r+n <= g.rows && c+m <= g.cols
}

// MapRegion returns the physical qubits of the n×m sub-grid at (r, c): local
// qubit k of a circuit compiled for that shape runs on physical qubit ret[k].
// Order is region qubits row-major, then horizontal bridges, then vertical
// bridges not already listed by a horizontal bridge. Callers check bounds.
func (g *Grid) MapRegion(r, c, n, m int) []int {
	var ret []int
	for i := r; i < r+n; i++ {
		for j := c; j < c+m; j++ {
			ret = append(ret, g.regions[i][j]...)
		}
	}

	fromHorizontal := sets.New[int]()
	for i := r; i < r+n; i++ {
		for j := c; j < c+m-1; j++ {
			ret = append(ret, g.horizontal[i][j]...)
			fromHorizontal.Insert(g.horizontal[i][j]...)
		}
	}

	for i := r; i < r+n-1; i++ {
		for j := c; j < c+m; j++ {
			for _, q := range g.vertical[i][j] {
				if !fromHorizontal.Has(q) {
					ret = append(ret, q)
				}
			}
		}
	}
	return ret
}

// RegionSize is the qubit count of an n×m scaled region.
func (g *Grid) RegionSize(s Shape) int {
	return len(g.MapRegion(0, 0, s.Rows, s.Cols))
}

// NumQubits is one past the highest physical qubit referenced by the grid.
func (g *Grid) NumQubits() int {
	highest := -1
	for _, m := range [][][][]int{g.regions, g.horizontal, g.vertical} {
		for _, row := range m {
			for _, qubits := range row {
				for _, q := range qubits {
					if q > highest {
						highest = q
					}
				}
			}
		}
	}
	return highest + 1
}

// Shapes picks the scaled-region shapes a circuit of numQubits should be
// compiled for: the allowed shape with the fewest cells that holds the
// circuit, plus its transpose when that is allowed and also fits. An empty
// result means the circuit cannot run on this grid.
func (g *Grid) Shapes(numQubits int, allowed []Shape) []Shape {
	candidates := append([]Shape(nil), allowed...)
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Area() < candidates[j].Area()
	})

	isAllowed := func(s Shape) bool {
		for _, a := range allowed {
			if a == s {
				return true
			}
		}
		return false
	}

	for _, s := range candidates {
		if !g.Contains(0, 0, s.Rows, s.Cols) || g.RegionSize(s) < numQubits {
			continue
		}
		ret := []Shape{s}
		t := Shape{Rows: s.Cols, Cols: s.Rows}
		if t != s && isAllowed(t) && g.Contains(0, 0, t.Rows, t.Cols) && g.RegionSize(t) >= numQubits {
			ret = append(ret, t)
		}
		return ret
	}
	return nil
}

// LinkChecker reports whether a directed physical link exists.
type LinkChecker interface {
	HasLink(q1, q2 int) bool
}

// CouplingMap restricts the device links to the n×m sub-grid at (r, c) and
// relabels them to local indices, in MapRegion order. This is the target a
// circuit is compiled against.
func (g *Grid) CouplingMap(r, c, n, m int, links LinkChecker) [][2]int {
	qubits := g.MapRegion(r, c, n, m)
	var ret [][2]int
	for a, qa := range qubits {
		for b, qb := range qubits {
			if a != b && links.HasLink(qa, qb) {
				ret = append(ret, [2]int{a, b})
			}
		}
	}
	return ret
}
