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

// Package fake is a local Sampler. It runs circuits as classical bit-flip
// programs: x and cx flip bits, reset clears, measure copies. Every other
// gate is ignored, so every shot yields the same bit string.
package fake

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"k8s.io/klog/v2"

	"github.com/qvm-dev/hypervisor/pkg/backend"
	"github.com/qvm-dev/hypervisor/pkg/circuit"
)

// Sampler records submitted circuits and answers immediately.
type Sampler struct {
	mu   sync.Mutex
	jobs []*Job
}

var _ backend.Sampler = &Sampler{}

// NewSampler returns an empty sampler.
func NewSampler() *Sampler {
	return &Sampler{}
}

// Run implements backend.Sampler.
func (s *Sampler) Run(ctx context.Context, c *circuit.Circuit, shots int) (backend.Job, error) {
	if shots < 1 {
		return nil, fmt.Errorf("shots must be positive, got %d", shots)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid circuit: %w", err)
	}

	job := &Job{
		id:      uuid.NewString(),
		Circuit: c.Copy(),
		counts:  backend.Counts{simulate(c): shots},
	}

	s.mu.Lock()
	s.jobs = append(s.jobs, job)
	s.mu.Unlock()

	klog.FromContext(ctx).V(2).Info("Accepted job", "job", job.id, "qubits", c.NumQubits, "clbits", c.NumClbits(), "shots", shots)
	return job, nil
}

// Jobs returns every job submitted so far.
func (s *Sampler) Jobs() []*Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Job(nil), s.jobs...)
}

// Job is a finished fake job.
type Job struct {
	id string

	// Circuit is a copy of what was submitted.
	Circuit *circuit.Circuit

	counts backend.Counts
}

var _ backend.Job = &Job{}

// ID implements backend.Job.
func (j *Job) ID() string {
	return j.id
}

// Result implements backend.Job.
func (j *Job) Result(ctx context.Context) (backend.Counts, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make(backend.Counts, len(j.counts))
	for k, v := range j.counts {
		out[k] = v
	}
	return out, nil
}

func simulate(c *circuit.Circuit) string {
	qubits := make([]bool, c.NumQubits)
	clbits := make([]bool, c.NumClbits())
	for _, op := range c.Ops {
		switch op.Name {
		case "x":
			for _, q := range op.Qubits {
				qubits[q] = !qubits[q]
			}
		case "cx":
			if len(op.Qubits) == 2 && qubits[op.Qubits[0]] {
				qubits[op.Qubits[1]] = !qubits[op.Qubits[1]]
			}
		case circuit.OpReset:
			for _, q := range op.Qubits {
				qubits[q] = false
			}
		case circuit.OpMeasure:
			for k, b := range op.Clbits {
				if k < len(op.Qubits) {
					clbits[b] = qubits[op.Qubits[k]]
				}
			}
		}
	}

	var b strings.Builder
	for i := len(clbits) - 1; i >= 0; i-- {
		if clbits[i] {
			b.WriteByte('1')
		} else {
			b.WriteByte('0')
		}
	}
	return b.String()
}
