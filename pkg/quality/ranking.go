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

// Package quality ranks single regions by calibrated two-qubit error so the
// scheduler can keep noise-sensitive workloads off the worst regions.
package quality

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/klog/v2"
	"k8s.io/utils/clock"

	"github.com/qvm-dev/hypervisor/pkg/calibration"
	"github.com/qvm-dev/hypervisor/pkg/grid"
)

// RefreshPolicy controls when calibration data is re-read.
type RefreshPolicy string

const (
	// RefreshAlways recomputes the ranking on every request.
	RefreshAlways RefreshPolicy = "Always"
	// RefreshInterval reuses a ranking until it is older than the interval.
	RefreshInterval RefreshPolicy = "Interval"
)

// DefaultPattern is the internal coupling of a 7-qubit heavy-hex region in
// local qubit indices.
var DefaultPattern = [][2]int{
	{1, 0}, {0, 1}, {1, 2}, {2, 1}, {1, 3}, {3, 1},
	{3, 5}, {5, 3}, {4, 5}, {5, 4}, {5, 6}, {6, 5},
}

// Config configures region scoring.
type Config struct {
	// Gate is the two-qubit gate whose error is averaged.
	Gate string `json:"gate"`

	// Pattern lists directed local edges inside one region. Edges that are
	// not calibrated on the device are skipped.
	Pattern [][2]int `json:"pattern,omitempty"`

	// Refresh selects the caching policy.
	Refresh RefreshPolicy `json:"refresh,omitempty"`

	// RefreshInterval is the cache lifetime under RefreshInterval.
	RefreshInterval metav1.Duration `json:"refreshInterval,omitempty"`
}

// NewDefaultConfig returns an always-fresh ECR heavy-hex configuration.
func NewDefaultConfig() Config {
	return Config{
		Gate:            "ecr",
		Pattern:         append([][2]int(nil), DefaultPattern...),
		Refresh:         RefreshAlways,
		RefreshInterval: metav1.Duration{Duration: 15 * time.Minute},
	}
}

// Validate checks the configuration on its own.
func (c *Config) Validate() error {
	var errs []error
	if c.Gate == "" {
		errs = append(errs, fmt.Errorf("gate must not be empty"))
	}
	if len(c.Pattern) == 0 {
		errs = append(errs, fmt.Errorf("pattern must contain at least one edge"))
	}
	for _, e := range c.Pattern {
		if e[0] < 0 || e[1] < 0 || e[0] == e[1] {
			errs = append(errs, fmt.Errorf("pattern edge %v is not a pair of distinct local qubits", e))
		}
	}
	switch c.Refresh {
	case RefreshAlways:
	case RefreshInterval:
		if c.RefreshInterval.Duration <= 0 {
			errs = append(errs, fmt.Errorf("refreshInterval must be positive, got %v", c.RefreshInterval.Duration))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown refresh policy %q", c.Refresh))
	}
	return utilerrors.NewAggregate(errs)
}

// Score is the calibration summary of one single region.
type Score struct {
	// Cell is the region index r*cols+c.
	Cell int

	// LinkError is the mean gate error over the calibrated pattern edges,
	// or +Inf when no edge is calibrated.
	LinkError float64

	// ReadoutError is the mean readout error over the region qubits that
	// have readout data. It does not affect the order.
	ReadoutError float64

	// Samples is the number of pattern edges averaged into LinkError.
	Samples int

	// Skipped is the number of pattern edges with no calibrated link.
	Skipped int
}

// Ranking orders single regions from best to worst.
type Ranking struct {
	Rows, Cols int

	// Order lists cell indices, lowest LinkError first.
	Order []int

	// Scores is indexed by cell.
	Scores []Score
}

// MarkBad returns a rows×cols matrix with the worst k regions set.
func (r *Ranking) MarkBad(k int) [][]bool {
	marks := make([][]bool, r.Rows)
	for i := range marks {
		marks[i] = make([]bool, r.Cols)
	}
	if k > len(r.Order) {
		k = len(r.Order)
	}
	for i := 1; i <= k; i++ {
		cell := r.Order[len(r.Order)-i]
		marks[cell/r.Cols][cell%r.Cols] = true
	}
	return marks
}

// Ranker computes Rankings from a calibration source.
type Ranker struct {
	grid   *grid.Grid
	source calibration.Source
	config Config
	clock  clock.PassiveClock

	mu         sync.Mutex
	cached     *Ranking
	computedAt time.Time
}

// Option customises a Ranker.
type Option func(*Ranker)

// WithClock replaces the wall clock used for the refresh interval.
func WithClock(c clock.PassiveClock) Option {
	return func(r *Ranker) {
		r.clock = c
	}
}

// NewRanker validates the pattern against every region of g.
func NewRanker(g *grid.Grid, source calibration.Source, config Config, opts ...Option) (*Ranker, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid quality config: %w", err)
	}
	highest := 0
	for _, e := range config.Pattern {
		highest = max(highest, e[0], e[1])
	}
	for i := 0; i < g.Rows(); i++ {
		for j := 0; j < g.Cols(); j++ {
			if n := len(g.Region(i, j)); highest >= n {
				return nil, fmt.Errorf("pattern uses local qubit %d but region (%d, %d) has %d qubits", highest, i, j, n)
			}
		}
	}

	r := &Ranker{
		grid:   g,
		source: source,
		config: config,
		clock:  clock.RealClock{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Ranking returns the current ranking, recomputing it according to the
// refresh policy.
func (r *Ranker) Ranking(ctx context.Context) (*Ranking, error) {
	logger := klog.FromContext(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.config.Refresh == RefreshInterval && r.cached != nil &&
		r.clock.Since(r.computedAt) < r.config.RefreshInterval.Duration {
		logger.V(4).Info("Reusing cached region ranking", "age", r.clock.Since(r.computedAt))
		return r.cached, nil
	}

	ranking, err := r.compute()
	if err != nil {
		return nil, err
	}
	r.cached = ranking
	r.computedAt = r.clock.Now()
	logger.V(2).Info("Computed region ranking", "order", ranking.Order)
	return ranking, nil
}

func (r *Ranker) compute() (*Ranking, error) {
	rows, cols := r.grid.Rows(), r.grid.Cols()
	scores := make([]Score, 0, rows*cols)

	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			s, err := r.score(i, j)
			if err != nil {
				return nil, err
			}
			scores = append(scores, s)
		}
	}

	order := make([]Score, len(scores))
	copy(order, scores)
	sort.SliceStable(order, func(a, b int) bool {
		return order[a].LinkError < order[b].LinkError
	})

	ranking := &Ranking{Rows: rows, Cols: cols, Scores: scores}
	for _, s := range order {
		ranking.Order = append(ranking.Order, s.Cell)
	}
	return ranking, nil
}

func (r *Ranker) score(i, j int) (Score, error) {
	qubits := r.grid.MapRegion(i, j, 1, 1)
	s := Score{Cell: i*r.grid.Cols() + j}

	var linkSum float64
	for _, e := range r.config.Pattern {
		q1, q2 := qubits[e[0]], qubits[e[1]]
		if !r.source.HasGate(r.config.Gate, q1, q2) {
			s.Skipped++
			continue
		}
		e, err := r.source.GateError(r.config.Gate, q1, q2)
		if err != nil {
			return Score{}, fmt.Errorf("region (%d, %d): %w", i, j, err)
		}
		linkSum += e
		s.Samples++
	}
	if s.Samples == 0 {
		s.LinkError = math.Inf(1)
	} else {
		s.LinkError = linkSum / float64(s.Samples)
	}

	var readoutSum float64
	var readouts int
	for _, q := range qubits {
		if e, err := r.source.ReadoutError(q); err == nil {
			readoutSum += e
			readouts++
		}
	}
	if readouts > 0 {
		s.ReadoutError = readoutSum / float64(readouts)
	}
	return s, nil
}
