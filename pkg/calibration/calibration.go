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

// Package calibration provides per-qubit and per-link error rates.
package calibration

import (
	"fmt"
	"os"
	"time"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"sigs.k8s.io/yaml"
)

// Source is the calibration data contract. Links are directed: a device may
// calibrate (a, b) without calibrating (b, a).
type Source interface {
	// ReadoutError returns the measurement error of qubit q.
	ReadoutError(q int) (float64, error)

	// GateError returns the error of two-qubit gate applied on (q1, q2).
	GateError(gate string, q1, q2 int) (float64, error)

	// HasLink reports whether any two-qubit gate is calibrated on (q1, q2).
	HasLink(q1, q2 int) bool

	// HasGate reports whether gate itself is calibrated on (q1, q2).
	HasGate(gate string, q1, q2 int) bool
}

// Document is the on-disk calibration snapshot.
type Document struct {
	// Device names the processor the snapshot belongs to.
	Device string `json:"device,omitempty"`

	// Timestamp is when the backend produced the calibration.
	Timestamp time.Time `json:"timestamp,omitempty"`

	Qubits []QubitProperties `json:"qubits"`
	Links  []LinkProperties  `json:"links"`
}

// QubitProperties holds single-qubit calibration.
type QubitProperties struct {
	Index        int     `json:"index"`
	ReadoutError float64 `json:"readoutError"`
}

// LinkProperties holds the error of one gate on one directed qubit pair.
type LinkProperties struct {
	Gate   string  `json:"gate"`
	Qubits [2]int  `json:"qubits"`
	Error  float64 `json:"error"`
}

type linkKey struct {
	gate   string
	q1, q2 int
}

// Static serves a fixed calibration snapshot.
type Static struct {
	timestamp time.Time
	readout   map[int]float64
	gates     map[linkKey]float64
	links     map[[2]int]bool
}

var _ Source = &Static{}

// NewStatic indexes a calibration document.
func NewStatic(doc *Document) (*Static, error) {
	s := &Static{
		timestamp: doc.Timestamp,
		readout:   make(map[int]float64, len(doc.Qubits)),
		gates:     make(map[linkKey]float64, len(doc.Links)),
		links:     make(map[[2]int]bool, len(doc.Links)),
	}

	var errs []error
	for _, q := range doc.Qubits {
		if q.Index < 0 {
			errs = append(errs, fmt.Errorf("qubit index %d is negative", q.Index))
			continue
		}
		if q.ReadoutError < 0 || q.ReadoutError > 1 {
			errs = append(errs, fmt.Errorf("qubit %d readout error %v outside [0, 1]", q.Index, q.ReadoutError))
		}
		s.readout[q.Index] = q.ReadoutError
	}
	for _, l := range doc.Links {
		if l.Gate == "" {
			errs = append(errs, fmt.Errorf("link %v has no gate name", l.Qubits))
		}
		if l.Qubits[0] < 0 || l.Qubits[1] < 0 || l.Qubits[0] == l.Qubits[1] {
			errs = append(errs, fmt.Errorf("link %v is not a pair of distinct qubits", l.Qubits))
			continue
		}
		if l.Error < 0 || l.Error > 1 {
			errs = append(errs, fmt.Errorf("link %v error %v outside [0, 1]", l.Qubits, l.Error))
		}
		s.gates[linkKey{gate: l.Gate, q1: l.Qubits[0], q2: l.Qubits[1]}] = l.Error
		s.links[l.Qubits] = true
	}
	if err := utilerrors.NewAggregate(errs); err != nil {
		return nil, err
	}
	return s, nil
}

// Load reads a YAML or JSON calibration document.
func Load(path string) (*Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read calibration file %q: %w", path, err)
	}
	doc := &Document{}
	if err := yaml.UnmarshalStrict(data, doc); err != nil {
		return nil, fmt.Errorf("failed to parse calibration file %q: %w", path, err)
	}
	s, err := NewStatic(doc)
	if err != nil {
		return nil, fmt.Errorf("invalid calibration file %q: %w", path, err)
	}
	return s, nil
}

// ReadoutError implements Source.
func (s *Static) ReadoutError(q int) (float64, error) {
	e, ok := s.readout[q]
	if !ok {
		return 0, fmt.Errorf("no readout calibration for qubit %d", q)
	}
	return e, nil
}

// GateError implements Source.
func (s *Static) GateError(gate string, q1, q2 int) (float64, error) {
	e, ok := s.gates[linkKey{gate: gate, q1: q1, q2: q2}]
	if !ok {
		return 0, fmt.Errorf("no %s calibration for link (%d, %d)", gate, q1, q2)
	}
	return e, nil
}

// HasLink implements Source.
func (s *Static) HasLink(q1, q2 int) bool {
	return s.links[[2]int{q1, q2}]
}

// HasGate implements Source.
func (s *Static) HasGate(gate string, q1, q2 int) bool {
	_, ok := s.gates[linkKey{gate: gate, q1: q1, q2: q2}]
	return ok
}

// Timestamp returns when the snapshot was taken, or the zero time if the
// document did not say.
func (s *Static) Timestamp() time.Time {
	return s.timestamp
}
