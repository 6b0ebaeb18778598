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

package calibration

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatic(t *testing.T) {
	s, err := NewStatic(&Document{
		Qubits: []QubitProperties{{Index: 0, ReadoutError: 0.02}, {Index: 1, ReadoutError: 0.03}},
		Links:  []LinkProperties{{Gate: "ecr", Qubits: [2]int{1, 0}, Error: 0.007}},
	})
	require.NoError(t, err)

	e, err := s.ReadoutError(1)
	require.NoError(t, err)
	assert.Equal(t, 0.03, e)

	_, err = s.ReadoutError(5)
	assert.Error(t, err)

	e, err = s.GateError("ecr", 1, 0)
	require.NoError(t, err)
	assert.Equal(t, 0.007, e)

	_, err = s.GateError("ecr", 0, 1)
	assert.Error(t, err, "links are directed")
	_, err = s.GateError("cz", 1, 0)
	assert.Error(t, err)

	assert.True(t, s.HasLink(1, 0))
	assert.False(t, s.HasLink(0, 1))
	assert.True(t, s.HasGate("ecr", 1, 0))
	assert.False(t, s.HasGate("cz", 1, 0), "a link calibrated for ecr says nothing about cz")
	assert.False(t, s.HasGate("ecr", 0, 1))
}

func TestNewStaticValidation(t *testing.T) {
	_, err := NewStatic(&Document{
		Qubits: []QubitProperties{{Index: -1}, {Index: 2, ReadoutError: 2}},
		Links: []LinkProperties{
			{Gate: "", Qubits: [2]int{0, 1}},
			{Gate: "ecr", Qubits: [2]int{3, 3}},
			{Gate: "ecr", Qubits: [2]int{0, 1}, Error: -0.1},
		},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "negative")
	assert.Contains(t, err.Error(), "distinct")
	assert.Contains(t, err.Error(), "no gate name")
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calibration.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
device: tiny
timestamp: "2025-03-01T08:00:00Z"
qubits:
- index: 0
  readoutError: 0.01
links:
- gate: ecr
  qubits: [0, 1]
  error: 0.005
`), 0o644))

	s, err := Load(path)
	require.NoError(t, err)
	assert.True(t, s.HasLink(0, 1))
	assert.Equal(t, time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC), s.Timestamp().UTC())

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
