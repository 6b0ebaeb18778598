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

package health

import (
	"context"
	"fmt"
	"math"
	"time"

	"k8s.io/apimachinery/pkg/util/sets"
	"k8s.io/utils/clock"

	"github.com/qvm-dev/hypervisor/pkg/calibration"
	"github.com/qvm-dev/hypervisor/pkg/grid"
	"github.com/qvm-dev/hypervisor/pkg/quality"
)

// Ranker is the part of quality.Ranker the region check needs.
type Ranker interface {
	Ranking(ctx context.Context) (*quality.Ranking, error)
}

// RegionCoverage fails when some region has no calibrated link in the
// ranking pattern. Such regions always rank last.
func RegionCoverage(ranker Ranker) Checker {
	return NewChecker("region-coverage", func(ctx context.Context) Status {
		ranking, err := ranker.Ranking(ctx)
		if err != nil {
			return Status{Message: fmt.Sprintf("failed to rank regions: %v", err)}
		}

		var missing []string
		for _, s := range ranking.Scores {
			if math.IsInf(s.LinkError, 1) {
				missing = append(missing, fmt.Sprintf("(%d, %d)", s.Cell/ranking.Cols, s.Cell%ranking.Cols))
			}
		}
		if len(missing) > 0 {
			return Status{
				Message: fmt.Sprintf("%d of %d regions have no calibrated link", len(missing), len(ranking.Scores)),
				Details: map[string]interface{}{"regions": missing},
			}
		}
		return Status{Healthy: true, Message: fmt.Sprintf("All %d regions have calibrated links", len(ranking.Scores))}
	})
}

// ReadoutCoverage fails when a qubit of the grid has no readout calibration.
func ReadoutCoverage(g *grid.Grid, source calibration.Source) Checker {
	return NewChecker("readout-coverage", func(ctx context.Context) Status {
		qubits := g.MapRegion(0, 0, g.Rows(), g.Cols())
		missing := sets.New[int]()
		for _, q := range qubits {
			if _, err := source.ReadoutError(q); err != nil {
				missing.Insert(q)
			}
		}
		if missing.Len() > 0 {
			return Status{
				Message: fmt.Sprintf("%d of %d qubits have no readout calibration", missing.Len(), len(qubits)),
				Details: map[string]interface{}{"qubits": sets.List(missing)},
			}
		}
		return Status{Healthy: true, Message: fmt.Sprintf("All %d qubits have readout calibration", len(qubits))}
	})
}

// CalibrationAge fails when the snapshot taken at timestamp is older than
// maxAge, or carries no timestamp.
func CalibrationAge(timestamp time.Time, maxAge time.Duration, c clock.PassiveClock) Checker {
	return NewChecker("calibration-age", func(ctx context.Context) Status {
		if timestamp.IsZero() {
			return Status{Message: "Calibration has no timestamp"}
		}
		age := c.Since(timestamp)
		details := map[string]interface{}{"age": age.String(), "maxAge": maxAge.String()}
		if age > maxAge {
			return Status{Message: fmt.Sprintf("Calibration is %s old, limit is %s", age, maxAge), Details: details}
		}
		return Status{Healthy: true, Message: fmt.Sprintf("Calibration is %s old", age), Details: details}
	})
}
