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

package grid

import (
	"fmt"
	"os"

	"sigs.k8s.io/yaml"
)

// Device describes the physical processor and how it is cut into regions.
type Device struct {
	// Name identifies the device, e.g. "ibm_brisbane".
	Name string `json:"name,omitempty"`

	// NumQubits is the physical qubit count. Combined circuits are this wide.
	NumQubits int `json:"numQubits"`

	// NativeGate is the two-qubit gate whose direction is corrected after
	// combining. Defaults to "ecr".
	NativeGate string `json:"nativeGate,omitempty"`

	Regions    [][][]int `json:"regions"`
	Horizontal [][][]int `json:"horizontal,omitempty"`
	Vertical   [][][]int `json:"vertical,omitempty"`

	// AllowedShapes lists the scaled-region footprints workloads may be
	// compiled for, e.g. 1x1, 1x2, 2x1, 2x2.
	AllowedShapes []Shape `json:"allowedShapes,omitempty"`
}

// DefaultNativeGate is used when a device does not name one.
const DefaultNativeGate = "ecr"

// DefaultShapes are the footprints used when a device lists none.
var DefaultShapes = []Shape{
	{Rows: 1, Cols: 1}, {Rows: 1, Cols: 2}, {Rows: 2, Cols: 1}, {Rows: 2, Cols: 2},
	{Rows: 2, Cols: 3}, {Rows: 3, Cols: 2}, {Rows: 3, Cols: 3},
}

// LoadDevice reads a YAML or JSON device description.
func LoadDevice(path string) (*Device, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read device file %q: %w", path, err)
	}
	d := &Device{}
	if err := yaml.UnmarshalStrict(data, d); err != nil {
		return nil, fmt.Errorf("failed to parse device file %q: %w", path, err)
	}
	if d.NativeGate == "" {
		d.NativeGate = DefaultNativeGate
	}
	if len(d.AllowedShapes) == 0 {
		d.AllowedShapes = append([]Shape(nil), DefaultShapes...)
	}
	return d, nil
}

// Grid builds the region grid and checks it fits in NumQubits.
func (d *Device) Grid() (*Grid, error) {
	g, err := New(d.Regions, d.Horizontal, d.Vertical)
	if err != nil {
		return nil, fmt.Errorf("invalid region grid for device %q: %w", d.Name, err)
	}
	if g.NumQubits() > d.NumQubits {
		return nil, fmt.Errorf("device %q declares %d qubits but the grid uses qubit %d", d.Name, d.NumQubits, g.NumQubits()-1)
	}
	return g, nil
}
