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

// Package circuit is a minimal in-memory quantum circuit: a flat list of
// instructions over indexed qubits and classical bits. It is the contract
// between the compiler, the combiner and the job backend.
package circuit

import (
	"fmt"
)

const (
	// OpBarrier is a directive: it orders operations but does not add depth.
	OpBarrier = "barrier"
	// OpReset returns a qubit to |0>.
	OpReset = "reset"
	// OpMeasure writes a qubit into a classical bit.
	OpMeasure = "measure"
)

// Instruction is one operation applied to qubits and classical bits.
type Instruction struct {
	Name   string    `json:"name"`
	Qubits []int     `json:"qubits,omitempty"`
	Clbits []int     `json:"clbits,omitempty"`
	Params []float64 `json:"params,omitempty"`
}

// IsDirective reports whether the instruction only constrains ordering.
func (i Instruction) IsDirective() bool {
	return i.Name == OpBarrier
}

// Register is a named classical register.
type Register struct {
	Name string `json:"name"`
	Size int    `json:"size"`
}

// Circuit is an ordered list of instructions over NumQubits qubits and the
// classical bits declared by CRegs. Classical bits are numbered globally in
// register order.
type Circuit struct {
	NumQubits int           `json:"numQubits"`
	CRegs     []Register    `json:"cregs,omitempty"`
	Ops       []Instruction `json:"ops,omitempty"`
}

// New returns an empty circuit.
func New(numQubits int, cregs ...Register) *Circuit {
	return &Circuit{
		NumQubits: numQubits,
		CRegs:     append([]Register(nil), cregs...),
	}
}

// NumClbits is the total size of all classical registers.
func (c *Circuit) NumClbits() int {
	n := 0
	for _, r := range c.CRegs {
		n += r.Size
	}
	return n
}

// Append adds an instruction after checking its operands are in range.
func (c *Circuit) Append(inst Instruction) error {
	clbits := c.NumClbits()
	for _, q := range inst.Qubits {
		if q < 0 || q >= c.NumQubits {
			return fmt.Errorf("%s: qubit %d out of range [0, %d)", inst.Name, q, c.NumQubits)
		}
	}
	for _, b := range inst.Clbits {
		if b < 0 || b >= clbits {
			return fmt.Errorf("%s: clbit %d out of range [0, %d)", inst.Name, b, clbits)
		}
	}
	c.Ops = append(c.Ops, Instruction{
		Name:   inst.Name,
		Qubits: append([]int(nil), inst.Qubits...),
		Clbits: append([]int(nil), inst.Clbits...),
		Params: append([]float64(nil), inst.Params...),
	})
	return nil
}

// Gate appends a gate without classical operands.
func (c *Circuit) Gate(name string, params []float64, qubits ...int) error {
	return c.Append(Instruction{Name: name, Qubits: qubits, Params: params})
}

// Measure appends a measurement of q into clbit.
func (c *Circuit) Measure(q, clbit int) error {
	return c.Append(Instruction{Name: OpMeasure, Qubits: []int{q}, Clbits: []int{clbit}})
}

// Reset appends a reset on q.
func (c *Circuit) Reset(q int) error {
	return c.Append(Instruction{Name: OpReset, Qubits: []int{q}})
}

// Barrier appends a barrier across qubits.
func (c *Circuit) Barrier(qubits ...int) error {
	return c.Append(Instruction{Name: OpBarrier, Qubits: qubits})
}

// Compose appends other onto c, sending other's qubit k to qubits[k] and its
// classical bit k to clbits[k].
func (c *Circuit) Compose(other *Circuit, qubits, clbits []int) error {
	if len(qubits) < other.NumQubits {
		return fmt.Errorf("compose needs %d target qubits, got %d", other.NumQubits, len(qubits))
	}
	if len(clbits) < other.NumClbits() {
		return fmt.Errorf("compose needs %d target clbits, got %d", other.NumClbits(), len(clbits))
	}
	for _, op := range other.Ops {
		mapped := Instruction{Name: op.Name, Params: op.Params}
		for _, q := range op.Qubits {
			mapped.Qubits = append(mapped.Qubits, qubits[q])
		}
		for _, b := range op.Clbits {
			mapped.Clbits = append(mapped.Clbits, clbits[b])
		}
		if err := c.Append(mapped); err != nil {
			return fmt.Errorf("compose: %w", err)
		}
	}
	return nil
}

// Depth is the length of the critical path. Barriers synchronise the wires
// they touch without adding a layer.
func (c *Circuit) Depth() int {
	stack := make([]int, c.NumQubits+c.NumClbits())
	depth := 0
	for _, op := range c.Ops {
		wires := make([]int, 0, len(op.Qubits)+len(op.Clbits))
		wires = append(wires, op.Qubits...)
		for _, b := range op.Clbits {
			wires = append(wires, c.NumQubits+b)
		}
		level := 0
		for _, w := range wires {
			if stack[w] > level {
				level = stack[w]
			}
		}
		if !op.IsDirective() {
			level++
		}
		for _, w := range wires {
			stack[w] = level
		}
		if level > depth {
			depth = level
		}
	}
	return depth
}

// CountOps returns the number of instructions per name.
func (c *Circuit) CountOps() map[string]int {
	counts := make(map[string]int)
	for _, op := range c.Ops {
		counts[op.Name]++
	}
	return counts
}

// Size is the total number of instructions, directives included.
func (c *Circuit) Size() int {
	return len(c.Ops)
}

// Copy returns a deep copy.
func (c *Circuit) Copy() *Circuit {
	out := New(c.NumQubits, c.CRegs...)
	for _, op := range c.Ops {
		out.Ops = append(out.Ops, Instruction{
			Name:   op.Name,
			Qubits: append([]int(nil), op.Qubits...),
			Clbits: append([]int(nil), op.Clbits...),
			Params: append([]float64(nil), op.Params...),
		})
	}
	return out
}

// Validate checks every instruction operand against the declared sizes.
func (c *Circuit) Validate() error {
	if c.NumQubits < 0 {
		return fmt.Errorf("negative qubit count %d", c.NumQubits)
	}
	for _, r := range c.CRegs {
		if r.Size < 0 {
			return fmt.Errorf("classical register %q has negative size", r.Name)
		}
	}
	check := New(c.NumQubits, c.CRegs...)
	for i, op := range c.Ops {
		if err := check.Append(op); err != nil {
			return fmt.Errorf("instruction %d: %w", i, err)
		}
	}
	return nil
}
