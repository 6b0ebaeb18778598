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

package workload

import (
	"context"
	"fmt"
	"os"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"sigs.k8s.io/yaml"

	"github.com/qvm-dev/hypervisor/pkg/circuit"
)

// Spec is the on-disk form of one source workload.
type Spec struct {
	Name string `json:"name"`

	// AllowIntra opts the workload in to sharing a region.
	AllowIntra bool `json:"allowIntra,omitempty"`

	Circuit circuit.Circuit `json:"circuit"`
}

// SpecList is a batch of workloads.
type SpecList struct {
	Workloads []Spec `json:"workloads"`
}

// LoadSpecs reads a YAML or JSON batch.
func LoadSpecs(path string) ([]Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workload file %q: %w", path, err)
	}
	list := &SpecList{}
	if err := yaml.UnmarshalStrict(data, list); err != nil {
		return nil, fmt.Errorf("failed to parse workload file %q: %w", path, err)
	}
	return list.Workloads, nil
}

// BuildAll builds every spec in order, collecting all failures.
func (b *Builder) BuildAll(ctx context.Context, specs []Spec) ([]*Executable, error) {
	var errs []error
	exes := make([]*Executable, 0, len(specs))
	for i := range specs {
		s := &specs[i]
		name := s.Name
		if name == "" {
			name = fmt.Sprintf("workload-%d", i)
		}
		exe, err := b.Build(ctx, name, &s.Circuit, s.AllowIntra)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		exes = append(exes, exe)
	}
	if err := utilerrors.NewAggregate(errs); err != nil {
		return nil, err
	}
	return exes, nil
}
