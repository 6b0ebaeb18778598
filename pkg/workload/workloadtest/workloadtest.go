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

// Package workloadtest builds executables with exact depths for tests.
package workloadtest

import (
	"github.com/qvm-dev/hypervisor/pkg/circuit"
	"github.com/qvm-dev/hypervisor/pkg/grid"
	"github.com/qvm-dev/hypervisor/pkg/workload"
)

// Chain returns a single-qubit circuit of the given depth: depth-1 x gates
// followed by a measurement into the only classical bit. Its size equals its
// depth.
func Chain(depth int) *circuit.Circuit {
	c := circuit.New(1, circuit.Register{Name: "c", Size: 1})
	for i := 0; i < depth-1; i++ {
		_ = c.Gate("x", nil, 0)
	}
	_ = c.Measure(0, 0)
	return c
}

// Executable returns a workload with one Chain(depth) variant per shape.
func Executable(name string, depth int, shapes ...grid.Shape) *workload.Executable {
	exe := &workload.Executable{Name: name, Clbits: 1}
	for _, s := range shapes {
		exe.Variants = append(exe.Variants, workload.Variant{Rows: s.Rows, Cols: s.Cols, Circuit: Chain(depth)})
	}
	return exe
}

// Small returns a 1x1 workload that may share a region, with a half variant
// of the given depth.
func Small(name string, depth, halfDepth int) *workload.Executable {
	exe := Executable(name, depth, grid.Shape{Rows: 1, Cols: 1})
	exe.Half = Chain(halfDepth)
	return exe
}
