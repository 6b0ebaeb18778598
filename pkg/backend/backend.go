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

// Package backend is the job submission contract and the splitting of a
// combined job's counts back into per-workload results.
package backend

import (
	"context"
	"fmt"
	"strings"

	"k8s.io/apimachinery/pkg/util/sets"
	"k8s.io/klog/v2"

	"github.com/qvm-dev/hypervisor/pkg/circuit"
)

// Counts maps a measured bit string to how often it was observed. Classical
// bit 0 is the rightmost character; spaces between registers are allowed.
type Counts map[string]int

// Shots is the total number of observations.
func (c Counts) Shots() int {
	n := 0
	for _, v := range c {
		n += v
	}
	return n
}

// Keys returns the bit strings in lexical order.
func (c Counts) Keys() []string {
	return sets.List(sets.KeySet(c))
}

// Job is a submitted circuit.
type Job interface {
	// ID identifies the job on the backend.
	ID() string

	// Result blocks until the job finishes or ctx is done.
	Result(ctx context.Context) (Counts, error)
}

// Sampler submits circuits for execution.
type Sampler interface {
	Run(ctx context.Context, c *circuit.Circuit, shots int) (Job, error)
}

// CombinedJob is a job running several workloads at once.
type CombinedJob struct {
	job Job

	// Names are the workload names in classical bit order.
	Names []string

	// ClbitCounts are the classical bit counts per workload, in the order
	// their bits were allocated.
	ClbitCounts []int

	// Mappings are the physical qubits of every combined sub-circuit.
	Mappings [][]int
}

// NewCombinedJob wraps job. names and clbitCounts must be parallel.
func NewCombinedJob(job Job, names []string, clbitCounts []int, mappings [][]int) *CombinedJob {
	return &CombinedJob{
		job:         job,
		Names:       names,
		ClbitCounts: clbitCounts,
		Mappings:    mappings,
	}
}

// ID returns the backend job id.
func (j *CombinedJob) ID() string {
	return j.job.ID()
}

// Results waits for the job and returns one Counts per workload.
func (j *CombinedJob) Results(ctx context.Context) ([]Counts, error) {
	counts, err := j.job.Result(ctx)
	if err != nil {
		return nil, fmt.Errorf("job %s failed: %w", j.job.ID(), err)
	}
	split, err := Split(counts, j.ClbitCounts)
	if err != nil {
		return nil, fmt.Errorf("job %s: %w", j.job.ID(), err)
	}
	klog.FromContext(ctx).V(2).Info("Split combined job results", "job", j.job.ID(), "workloads", len(split), "shots", counts.Shots())
	return split, nil
}

// Split cuts every bit string of counts into consecutive classical bit
// ranges of the given sizes, starting at bit 0, and sums the counts of each
// range separately.
func Split(counts Counts, clbitCounts []int) ([]Counts, error) {
	total := 0
	for _, n := range clbitCounts {
		total += n
	}

	ret := make([]Counts, len(clbitCounts))
	for i := range ret {
		ret[i] = Counts{}
	}
	for key, n := range counts {
		bits := strings.ReplaceAll(key, " ", "")
		if len(bits) != total {
			return nil, fmt.Errorf("bit string %q has %d bits, expected %d", key, len(bits), total)
		}
		offset := 0
		for i, size := range clbitCounts {
			// bit b sits at position total-1-b
			ret[i][bits[total-offset-size:total-offset]] += n
			offset += size
		}
	}
	return ret, nil
}
