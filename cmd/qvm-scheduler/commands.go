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

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"
	"k8s.io/utils/clock"
	"sigs.k8s.io/yaml"

	"github.com/qvm-dev/hypervisor/cmd/qvm-scheduler/options"
	"github.com/qvm-dev/hypervisor/pkg/backend"
	"github.com/qvm-dev/hypervisor/pkg/backend/fake"
	"github.com/qvm-dev/hypervisor/pkg/calibration"
	"github.com/qvm-dev/hypervisor/pkg/circuit"
	"github.com/qvm-dev/hypervisor/pkg/grid"
	"github.com/qvm-dev/hypervisor/pkg/health"
	"github.com/qvm-dev/hypervisor/pkg/hypervisor"
	"github.com/qvm-dev/hypervisor/pkg/quality"
	"github.com/qvm-dev/hypervisor/pkg/scheduler"
	"github.com/qvm-dev/hypervisor/pkg/workload"
)

// environment is everything a command needs, loaded from the option files.
type environment struct {
	device      *grid.Device
	grid        *grid.Grid
	calibration *calibration.Static
	ranker      *quality.Ranker
	hypervisor  *hypervisor.Hypervisor
	metrics     *MetricsSink
}

func newEnvironment(ctx context.Context, opts *options.Options) (*environment, error) {
	logger := klog.FromContext(ctx)

	device, err := grid.LoadDevice(opts.DeviceFile)
	if err != nil {
		return nil, err
	}
	g, err := device.Grid()
	if err != nil {
		return nil, err
	}
	cal, err := calibration.Load(opts.CalibrationFile)
	if err != nil {
		return nil, err
	}
	sink, err := NewMetricsSink(opts.MetricsOutput)
	if err != nil {
		return nil, err
	}

	ranker, err := quality.NewRanker(g, cal, *opts.Config.Quality)
	if err != nil {
		return nil, err
	}
	sched, err := scheduler.New(g, ranker, opts.Config.Scheduler, scheduler.WithMetrics(sink.Collector()))
	if err != nil {
		return nil, err
	}
	hv, err := hypervisor.New(g, device.NumQubits, sched,
		hypervisor.WithDirectionCorrection(device.NativeGate, cal),
		hypervisor.WithSampler(fake.NewSampler()),
		hypervisor.WithMetrics(sink.Collector()),
	)
	if err != nil {
		return nil, err
	}

	logger.V(2).Info("Loaded device", "device", device.Name, "qubits", device.NumQubits, "rows", g.Rows(), "cols", g.Cols())
	return &environment{
		device:      device,
		grid:        g,
		calibration: cal,
		ranker:      ranker,
		hypervisor:  hv,
		metrics:     sink,
	}, nil
}

func (e *environment) loadWorkloads(ctx context.Context, opts *options.Options) ([]*workload.Executable, error) {
	specs, err := workload.LoadSpecs(opts.WorkloadsFile)
	if err != nil {
		return nil, err
	}
	builder := &workload.Builder{
		Compiler:      workload.PassthroughCompiler{},
		Grid:          e.grid,
		Links:         e.calibration,
		AllowedShapes: e.device.AllowedShapes,
	}
	return builder.BuildAll(ctx, specs)
}

// runE wraps a command body with environment setup and metrics output. A
// body may return output together with an error; the output is printed
// first.
func runE(opts *options.Options, needsWorkloads bool, body func(ctx context.Context, cmd *cobra.Command, env *environment) (interface{}, error)) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if needsWorkloads {
			if err := opts.ValidateWorkloads(); err != nil {
				return err
			}
		}
		ctx := cmd.Context()
		env, err := newEnvironment(ctx, opts)
		if err != nil {
			return err
		}
		out, err := body(ctx, cmd, env)
		if out != nil {
			if err := printObject(cmd.OutOrStdout(), opts.Output, out); err != nil {
				return err
			}
		}
		if err != nil {
			return err
		}
		return env.metrics.Flush(cmd.ErrOrStderr())
	}
}

// tablePrinter is implemented by outputs with a table form.
type tablePrinter interface {
	printTable(w io.Writer) error
}

func printObject(w io.Writer, format string, obj interface{}) error {
	if t, ok := obj.(tablePrinter); ok && format == options.OutputTable {
		return t.printTable(w)
	}

	var data []byte
	var err error
	switch format {
	case options.OutputJSON:
		data, err = json.MarshalIndent(obj, "", "  ")
		data = append(data, '\n')
	default:
		data, err = yaml.Marshal(obj)
	}
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	_, err = w.Write(data)
	return err
}

// ScheduleOutput is printed by the schedule command.
type ScheduleOutput struct {
	Selection   scheduler.Selection `json:"selection"`
	Scheduled   []string            `json:"scheduled"`
	Unscheduled []string            `json:"unscheduled,omitempty"`
}

func newScheduleCommand(opts *options.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "schedule",
		Short: "Place workloads on regions and print the selection",
		RunE: runE(opts, true, func(ctx context.Context, cmd *cobra.Command, env *environment) (interface{}, error) {
			pending, err := env.loadWorkloads(ctx, opts)
			if err != nil {
				return nil, err
			}
			selection, err := env.hypervisor.Schedule(ctx, pending, opts.SchedulerOptions())
			if err != nil {
				return nil, err
			}

			out := &ScheduleOutput{Selection: selection}
			for _, w := range selection.Workloads() {
				out.Scheduled = append(out.Scheduled, pending[w].Name)
			}
			for _, exe := range env.hypervisor.Commit(pending, selection) {
				out.Unscheduled = append(out.Unscheduled, exe.Name)
			}
			return out, nil
		}),
	}
}

// CombineOutput is printed by the combine command.
type CombineOutput struct {
	Names       []string         `json:"names"`
	ClbitCounts []int            `json:"clbitCounts"`
	Mappings    [][]int          `json:"mappings"`
	Resets      int              `json:"resets"`
	UsedQubits  int              `json:"usedQubits"`
	Depth       int              `json:"depth"`
	Circuit     *circuit.Circuit `json:"circuit"`
}

func newCombineCommand(opts *options.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "combine",
		Short: "Schedule workloads and print the combined circuit without submitting it",
		RunE: runE(opts, true, func(ctx context.Context, cmd *cobra.Command, env *environment) (interface{}, error) {
			pending, err := env.loadWorkloads(ctx, opts)
			if err != nil {
				return nil, err
			}
			plan, err := env.hypervisor.DryRun(ctx, pending, opts.SchedulerOptions())
			if err != nil {
				return nil, err
			}
			return &CombineOutput{
				Names:       plan.Names,
				ClbitCounts: plan.ClbitCounts,
				Mappings:    plan.Mappings,
				Resets:      plan.Resets,
				UsedQubits:  plan.UsedQubits,
				Depth:       plan.Circuit.Depth(),
				Circuit:     plan.Circuit,
			}, nil
		}),
	}
}

// RegionScore is one line of the rank command output. LinkError is absent
// when the region has no calibrated link.
type RegionScore struct {
	Row          int      `json:"row"`
	Col          int      `json:"col"`
	LinkError    *float64 `json:"linkError,omitempty"`
	ReadoutError float64  `json:"readoutError"`
	Samples      int      `json:"samples"`
	Skipped      int      `json:"skipped,omitempty"`
	Bad          bool     `json:"bad,omitempty"`
}

// RankOutput is printed by the rank command, best region first.
type RankOutput []RegionScore

func newRankCommand(opts *options.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "rank",
		Short: "Order regions from best to worst by calibrated two-qubit error",
		RunE: runE(opts, false, func(ctx context.Context, cmd *cobra.Command, env *environment) (interface{}, error) {
			ranking, err := env.ranker.Ranking(ctx)
			env.metrics.Collector().ObserveRanking(err)
			if err != nil {
				return nil, err
			}

			bad := ranking.MarkBad(opts.Config.Scheduler.BadRegions)
			out := make(RankOutput, 0, len(ranking.Order))
			for _, cell := range ranking.Order {
				s := ranking.Scores[cell]
				r := RegionScore{
					Row:          cell / ranking.Cols,
					Col:          cell % ranking.Cols,
					ReadoutError: s.ReadoutError,
					Samples:      s.Samples,
					Skipped:      s.Skipped,
				}
				r.Bad = bad[r.Row][r.Col]
				if !math.IsInf(s.LinkError, 1) {
					e := s.LinkError
					r.LinkError = &e
				}
				out = append(out, r)
			}
			return out, nil
		}),
	}
}

// JobOutput is the result of one submitted combined job.
type JobOutput struct {
	ID      string                    `json:"id"`
	Results map[string]backend.Counts `json:"results"`
}

func newRunCommand(opts *options.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Submit combined jobs to the local sampler until every workload ran",
		RunE: runE(opts, true, func(ctx context.Context, cmd *cobra.Command, env *environment) (interface{}, error) {
			logger := klog.FromContext(ctx)

			pending, err := env.loadWorkloads(ctx, opts)
			if err != nil {
				return nil, err
			}

			var out []JobOutput
			for len(pending) > 0 {
				job, remaining, err := env.hypervisor.Run(ctx, pending, opts.SchedulerOptions(), opts.Shots)
				if err != nil {
					return nil, err
				}
				results, err := job.Results(ctx)
				if err != nil {
					return nil, err
				}

				jo := JobOutput{ID: job.ID(), Results: map[string]backend.Counts{}}
				for i, name := range job.Names {
					jo.Results[name] = results[i]
				}
				out = append(out, jo)
				logger.V(2).Info("Finished combined job", "job", job.ID(), "remaining", len(remaining))
				pending = remaining
			}
			return out, nil
		}),
	}
}

// errNotReady is returned by the check command after a failing report.
var errNotReady = errors.New("device failed preflight checks")

// CheckOutput is printed by the check command.
type CheckOutput health.Report

func newCheckCommand(opts *options.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify the calibration covers the device before scheduling on it",
		RunE: runE(opts, false, func(ctx context.Context, cmd *cobra.Command, env *environment) (interface{}, error) {
			logger := klog.FromContext(ctx)

			checks := []health.Checker{
				health.RegionCoverage(env.ranker),
				health.ReadoutCoverage(env.grid, env.calibration),
			}
			if opts.MaxCalibrationAge > 0 {
				checks = append(checks, health.CalibrationAge(env.calibration.Timestamp(), opts.MaxCalibrationAge, clock.RealClock{}))
			}
			agg := health.NewAggregator(opts.CheckTimeout)
			for _, c := range checks {
				if err := agg.Add(c); err != nil {
					return nil, err
				}
			}

			report := agg.CheckAll(ctx)
			logger.V(2).Info("Ran preflight checks", "healthy", report.Healthy, "passed", report.HealthyCount, "total", report.TotalCount)
			out := CheckOutput(report)
			if !report.Healthy {
				return &out, errNotReady
			}
			return &out, nil
		}),
	}
}
