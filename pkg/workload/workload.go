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

// Package workload holds the pending unit of work handed to the scheduler:
// a source circuit compiled once per candidate region shape.
package workload

import (
	"context"
	"fmt"

	"k8s.io/klog/v2"

	"github.com/qvm-dev/hypervisor/pkg/circuit"
	"github.com/qvm-dev/hypervisor/pkg/grid"
)

const (
	// HalfSize is the qubit count of a half-region partition.
	HalfSize = 3
)

// HalfCouplingMap is the 3-qubit line a half variant is compiled for.
var HalfCouplingMap = [][2]int{{0, 1}, {1, 0}, {1, 2}, {2, 1}}

// Variant is the source circuit compiled for a rows×cols scaled region.
type Variant struct {
	Rows    int
	Cols    int
	Circuit *circuit.Circuit
}

// Shape returns the variant footprint.
func (v Variant) Shape() grid.Shape {
	return grid.Shape{Rows: v.Rows, Cols: v.Cols}
}

// Executable is an immutable pending workload.
type Executable struct {
	// Name identifies the workload in logs and results.
	Name string

	// Variants are ordered smallest footprint first.
	Variants []Variant

	// Half is the circuit compiled for a half-region partition. It is nil
	// unless intra-region sharing was allowed and the source fits.
	Half *circuit.Circuit

	// Clbits is the classical bit count of the source circuit.
	Clbits int
}

// MinArea is the footprint of the smallest variant.
func (e *Executable) MinArea() int {
	area := 0
	for i, v := range e.Variants {
		if a := v.Rows * v.Cols; i == 0 || a < area {
			area = a
		}
	}
	return area
}

// Sensitive reports whether any variant has fewer than threshold
// operations. Long circuits are noisy anyway and are not worth protecting.
func (e *Executable) Sensitive(threshold int) bool {
	for _, v := range e.Variants {
		if v.Circuit.Size() < threshold {
			return true
		}
	}
	return false
}

// Target describes what a circuit is compiled for.
type Target struct {
	// Shape is the region footprint, zero for a half partition.
	Shape grid.Shape

	// NumQubits is the width of the target.
	NumQubits int

	// CouplingMap lists directed local links.
	CouplingMap [][2]int

	// BasisGates is the native gate set; empty means anything goes.
	BasisGates []string
}

// Compiler turns a source circuit into one that runs on a target. The
// result must have exactly target.NumQubits qubits.
type Compiler interface {
	Compile(ctx context.Context, src *circuit.Circuit, target Target) (*circuit.Circuit, error)
}

// PassthroughCompiler widens the source to the target without routing. It
// is correct only for circuits already expressed on the target's local
// qubits.
type PassthroughCompiler struct{}

var _ Compiler = PassthroughCompiler{}

// Compile implements Compiler.
func (PassthroughCompiler) Compile(_ context.Context, src *circuit.Circuit, target Target) (*circuit.Circuit, error) {
	if src.NumQubits > target.NumQubits {
		return nil, fmt.Errorf("circuit needs %d qubits, target has %d", src.NumQubits, target.NumQubits)
	}
	out := src.Copy()
	out.NumQubits = target.NumQubits
	return out, nil
}

// Builder compiles source circuits into Executables for one device.
type Builder struct {
	Compiler      Compiler
	Grid          *grid.Grid
	Links         grid.LinkChecker
	AllowedShapes []grid.Shape
	BasisGates    []string
}

// Build compiles src for every shape the grid offers for its size, plus a
// half variant when allowIntra is set and the source is small enough.
func (b *Builder) Build(ctx context.Context, name string, src *circuit.Circuit, allowIntra bool) (*Executable, error) {
	logger := klog.FromContext(ctx).WithValues("workload", name)

	if err := src.Validate(); err != nil {
		return nil, fmt.Errorf("workload %q: invalid circuit: %w", name, err)
	}
	shapes := b.Grid.Shapes(src.NumQubits, b.AllowedShapes)
	if len(shapes) == 0 {
		return nil, fmt.Errorf("workload %q: no allowed region shape holds %d qubits", name, src.NumQubits)
	}

	exe := &Executable{Name: name, Clbits: src.NumClbits()}
	for _, s := range shapes {
		target := Target{
			Shape:       s,
			NumQubits:   b.Grid.RegionSize(s),
			CouplingMap: b.Grid.CouplingMap(0, 0, s.Rows, s.Cols, b.Links),
			BasisGates:  b.BasisGates,
		}
		compiled, err := b.Compiler.Compile(ctx, src, target)
		if err != nil {
			return nil, fmt.Errorf("workload %q: failed to compile for %s: %w", name, s, err)
		}
		exe.Variants = append(exe.Variants, Variant{Rows: s.Rows, Cols: s.Cols, Circuit: compiled})
	}

	if allowIntra && src.NumQubits <= HalfSize {
		target := Target{
			NumQubits:   HalfSize,
			CouplingMap: HalfCouplingMap,
			BasisGates:  b.BasisGates,
		}
		half, err := b.Compiler.Compile(ctx, src, target)
		if err != nil {
			return nil, fmt.Errorf("workload %q: failed to compile half variant: %w", name, err)
		}
		exe.Half = half
	}

	logger.V(4).Info("Built workload", "shapes", shapes, "half", exe.Half != nil)
	return exe, nil
}
