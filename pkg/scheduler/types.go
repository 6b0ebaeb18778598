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
	"fmt"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/qvm-dev/hypervisor/pkg/combiner"
)

// Config holds the scheduling thresholds. All depths are in circuit layers.
type Config struct {
	// BadRegions is how many of the worst single regions noise-aware
	// placement avoids for sensitive workloads.
	BadRegions int `json:"badRegions"`

	// SensitivityThreshold is the operation count below which a variant
	// makes its workload noise sensitive.
	SensitivityThreshold int `json:"sensitivityThreshold"`

	// ImbalanceThreshold is the minimum spread between the tallest and
	// shortest cell for time multiplexing to run.
	ImbalanceThreshold int `json:"imbalanceThreshold"`

	// TimeSafetyMargin is added to the depth of every time-multiplexed
	// workload to cover the reset and barrier.
	TimeSafetyMargin int `json:"timeSafetyMargin"`

	// MaxReuse is how many placements a cell may hold. 1 disables time
	// multiplexing.
	MaxReuse int `json:"maxReuse"`

	// IntraMaxPartitions is how many workloads may share one region,
	// including the original occupant. Shared workloads run side by side in
	// combiner.DefaultPartitions, so it is at most their number.
	IntraMaxPartitions int `json:"intraMaxPartitions"`

	// IntraPartitionMaxReuse is how many workloads one partition may run
	// in sequence.
	IntraPartitionMaxReuse int `json:"intraPartitionMaxReuse"`

	// IntraImbalanceThreshold is the partition depth spread above which a
	// shared region accepts more workloads in sequence.
	IntraImbalanceThreshold int `json:"intraImbalanceThreshold"`

	// IntraTimeScheduling enables sequential reuse of partitions inside a
	// shared region. It never runs for noise-aware schedules.
	IntraTimeScheduling bool `json:"intraTimeScheduling"`
}

// NewDefaultConfig returns the thresholds tuned for a 3x3 grid of 7-qubit
// heavy-hex regions.
func NewDefaultConfig() *Config {
	return &Config{
		BadRegions:              3,
		SensitivityThreshold:    340,
		ImbalanceThreshold:      50,
		TimeSafetyMargin:        50,
		MaxReuse:                2,
		IntraMaxPartitions:      2,
		IntraPartitionMaxReuse:  2,
		IntraImbalanceThreshold: 50,
	}
}

// Validate checks the configuration on its own.
func (c *Config) Validate() error {
	var errs []error
	for name, v := range map[string]int{
		"badRegions":              c.BadRegions,
		"sensitivityThreshold":    c.SensitivityThreshold,
		"imbalanceThreshold":      c.ImbalanceThreshold,
		"timeSafetyMargin":        c.TimeSafetyMargin,
		"intraImbalanceThreshold": c.IntraImbalanceThreshold,
	} {
		if v < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative, got %d", name, v))
		}
	}
	for name, v := range map[string]int{
		"maxReuse":               c.MaxReuse,
		"intraMaxPartitions":     c.IntraMaxPartitions,
		"intraPartitionMaxReuse": c.IntraPartitionMaxReuse,
	} {
		if v < 1 {
			errs = append(errs, fmt.Errorf("%s must be at least 1, got %d", name, v))
		}
	}
	if n := len(combiner.DefaultPartitions); c.IntraMaxPartitions > n {
		errs = append(errs, fmt.Errorf("intraMaxPartitions must be at most %d, the partitions of a region, got %d", n, c.IntraMaxPartitions))
	}
	return utilerrors.NewAggregate(errs)
}

// Options select the passes of one Schedule call.
type Options struct {
	// TimeSched enables time multiplexing. Ignored when NoiseAware is set.
	TimeSched bool `json:"timeSched,omitempty"`

	// IntraVMSched lets small workloads share an already placed region.
	IntraVMSched bool `json:"intraVMSched,omitempty"`

	// NoiseAware keeps sensitive workloads off the worst regions.
	NoiseAware bool `json:"noiseAware,omitempty"`
}

// Entry is one placement: the workloads (indices into the pending list) that
// share the Height×Width rectangle whose top-left cell is (Row, Col), and
// the variant of the first workload that was placed there.
type Entry struct {
	Workloads []int `json:"workloads"`
	Row       int   `json:"row"`
	Col       int   `json:"col"`
	Height    int   `json:"height"`
	Width     int   `json:"width"`
	Variant   int   `json:"variant"`
}

// Selection is the result of Schedule, in placement order.
type Selection []Entry

// Workloads returns every scheduled workload index in selection order.
func (s Selection) Workloads() []int {
	var ret []int
	for _, e := range s {
		ret = append(ret, e.Workloads...)
	}
	return ret
}

// Validate checks a selection against a rows×cols grid and a pending list
// of numPending workloads. Every entry must be in bounds and every workload
// may appear only once.
func (s Selection) Validate(rows, cols, numPending int) error {
	var errs []error
	seen := sets.New[int]()
	for i, e := range s {
		if e.Height < 1 || e.Width < 1 || e.Row < 0 || e.Col < 0 || e.Row+e.Height > rows || e.Col+e.Width > cols {
			errs = append(errs, fmt.Errorf("entry %d: rectangle %dx%d at (%d, %d) is outside the %dx%d grid", i, e.Height, e.Width, e.Row, e.Col, rows, cols))
		}
		if len(e.Workloads) == 0 {
			errs = append(errs, fmt.Errorf("entry %d: no workloads", i))
		}
		for _, w := range e.Workloads {
			switch {
			case w < 0 || w >= numPending:
				errs = append(errs, fmt.Errorf("entry %d: workload index %d out of range [0, %d)", i, w, numPending))
			case seen.Has(w):
				errs = append(errs, fmt.Errorf("entry %d: workload %d is scheduled twice", i, w))
			default:
				seen.Insert(w)
			}
		}
	}
	return utilerrors.NewAggregate(errs)
}

// RegionStatus counts placements per cell.
type RegionStatus [][]int

// RegionHeight is the accumulated circuit depth per cell.
type RegionHeight [][]int

// BadMarks flags the cells noise-aware placement considers low quality.
type BadMarks [][]bool

func newMatrix[T any](rows, cols int) [][]T {
	m := make([][]T, rows)
	for i := range m {
		m[i] = make([]T, cols)
	}
	return m
}

// NewRegionStatus returns a zeroed rows×cols status.
func NewRegionStatus(rows, cols int) RegionStatus {
	return newMatrix[int](rows, cols)
}

// Free reports whether no cell of the n×m rectangle at (r, c) is used.
func (s RegionStatus) Free(r, c, n, m int) bool {
	return s.Below(r, c, n, m, 1)
}

// Below reports whether every cell of the rectangle is used fewer than
// limit times.
func (s RegionStatus) Below(r, c, n, m, limit int) bool {
	for i := r; i < r+n; i++ {
		for j := c; j < c+m; j++ {
			if s[i][j] >= limit {
				return false
			}
		}
	}
	return true
}

// Set assigns v to every cell of the rectangle.
func (s RegionStatus) Set(r, c, n, m, v int) {
	for i := r; i < r+n; i++ {
		for j := c; j < c+m; j++ {
			s[i][j] = v
		}
	}
}

// Inc increments every cell of the rectangle.
func (s RegionStatus) Inc(r, c, n, m int) {
	for i := r; i < r+n; i++ {
		for j := c; j < c+m; j++ {
			s[i][j]++
		}
	}
}

// NewRegionHeight returns a zeroed rows×cols height map.
func NewRegionHeight(rows, cols int) RegionHeight {
	return newMatrix[int](rows, cols)
}

// Add adds depth to every cell of the rectangle.
func (h RegionHeight) Add(r, c, n, m, depth int) {
	for i := r; i < r+n; i++ {
		for j := c; j < c+m; j++ {
			h[i][j] += depth
		}
	}
}

// Fill assigns v to every cell of the rectangle.
func (h RegionHeight) Fill(r, c, n, m, v int) {
	for i := r; i < r+n; i++ {
		for j := c; j < c+m; j++ {
			h[i][j] = v
		}
	}
}

// Raise lifts every cell of the rectangle to at least v.
func (h RegionHeight) Raise(r, c, n, m, v int) {
	for i := r; i < r+n; i++ {
		for j := c; j < c+m; j++ {
			h[i][j] = max(h[i][j], v)
		}
	}
}

// MaxPool is the tallest cell in the rectangle.
func (h RegionHeight) MaxPool(r, c, n, m int) int {
	ret := h[r][c]
	for i := r; i < r+n; i++ {
		for j := c; j < c+m; j++ {
			ret = max(ret, h[i][j])
		}
	}
	return ret
}

// Max is the tallest cell of the grid.
func (h RegionHeight) Max() int {
	return h.MaxPool(0, 0, len(h), len(h[0]))
}

// Min is the shortest cell of the grid.
func (h RegionHeight) Min() int {
	ret := h[0][0]
	for _, row := range h {
		for _, v := range row {
			ret = min(ret, v)
		}
	}
	return ret
}

// Sum is the total depth over all cells.
func (h RegionHeight) Sum() int {
	ret := 0
	for _, row := range h {
		for _, v := range row {
			ret += v
		}
	}
	return ret
}

// Count is the number of bad cells in the rectangle.
func (b BadMarks) Count(r, c, n, m int) int {
	ret := 0
	for i := r; i < r+n; i++ {
		for j := c; j < c+m; j++ {
			if b[i][j] {
				ret++
			}
		}
	}
	return ret
}
