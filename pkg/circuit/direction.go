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

package circuit

import (
	"fmt"
	"math"
)

// GateChecker reports whether a gate is calibrated on a directed qubit pair.
type GateChecker interface {
	HasGate(gate string, q1, q2 int) bool
}

// DirectionPass flips native two-qubit gates that were emitted against the
// direction the device supports. Sub-circuits are compiled for an isolated
// region, so a gate that is legal locally may point the wrong way once the
// region is remapped onto physical qubits.
type DirectionPass struct {
	// Gate is the native two-qubit gate name, e.g. "ecr".
	Gate string
	// Gates is the calibrated gate relation of the device. Only pairs
	// calibrated for Gate count as supported directions.
	Gates GateChecker
}

// NewDirectionPass returns a pass for the given native gate.
func NewDirectionPass(gate string, gates GateChecker) *DirectionPass {
	return &DirectionPass{Gate: gate, Gates: gates}
}

// Run returns a corrected copy of c. Gates whose direction exists, or whose
// reverse does not exist either, are left untouched.
func (p *DirectionPass) Run(c *Circuit) (*Circuit, error) {
	out := New(c.NumQubits, c.CRegs...)
	for _, op := range c.Ops {
		if op.Name != p.Gate || len(op.Qubits) != 2 {
			if err := out.Append(op); err != nil {
				return nil, err
			}
			continue
		}
		a, b := op.Qubits[0], op.Qubits[1]
		if p.Gates.HasGate(p.Gate, a, b) || !p.Gates.HasGate(p.Gate, b, a) {
			if err := out.Append(op); err != nil {
				return nil, err
			}
			continue
		}
		for _, inst := range p.reversed(op) {
			for _, basis := range translate(inst) {
				if err := out.Append(basis); err != nil {
					return nil, fmt.Errorf("direction: %w", err)
				}
			}
		}
	}
	return out, nil
}

// reversed expresses gate(a, b) through gate(b, a).
func (p *DirectionPass) reversed(op Instruction) []Instruction {
	a, b := op.Qubits[0], op.Qubits[1]
	one := func(name string, q int) Instruction {
		return Instruction{Name: name, Qubits: []int{q}}
	}
	return []Instruction{
		one("s", a), one("sx", a), one("sdg", a),
		one("sdg", b), one("sx", b), one("s", b),
		{Name: op.Name, Qubits: []int{b, a}, Params: op.Params},
		one("h", a), one("h", b),
	}
}

// translate rewrites s, sdg and h into the rz/sx basis.
func translate(op Instruction) []Instruction {
	rz := func(theta float64, q int) Instruction {
		return Instruction{Name: "rz", Qubits: []int{q}, Params: []float64{theta}}
	}
	switch op.Name {
	case "s":
		return []Instruction{rz(math.Pi/2, op.Qubits[0])}
	case "sdg":
		return []Instruction{rz(-math.Pi/2, op.Qubits[0])}
	case "h":
		q := op.Qubits[0]
		return []Instruction{rz(math.Pi/2, q), {Name: "sx", Qubits: []int{q}}, rz(math.Pi/2, q)}
	default:
		return []Instruction{op}
	}
}
