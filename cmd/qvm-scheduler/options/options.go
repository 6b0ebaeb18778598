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

package options

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	jsonpatch "github.com/evanphx/json-patch"
	"github.com/spf13/pflag"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"sigs.k8s.io/yaml"

	"github.com/qvm-dev/hypervisor/pkg/quality"
	"github.com/qvm-dev/hypervisor/pkg/scheduler"
)

// Output formats.
const (
	OutputYAML = "yaml"
	OutputJSON = "json"
	// OutputTable is a human readable table where a command supports it,
	// YAML otherwise.
	OutputTable = "table"
)

// Options contains configuration for the qvm-scheduler command.
type Options struct {
	// DeviceFile describes the processor and its region grid.
	DeviceFile string

	// CalibrationFile holds the calibration snapshot of the device.
	CalibrationFile string

	// WorkloadsFile lists the source workloads to schedule.
	WorkloadsFile string

	// ConfigFile optionally overrides scheduler and ranking thresholds.
	ConfigFile string

	// Output selects the result encoding.
	Output string

	// MetricsOutput is where the metrics text exposition is written after
	// the command finishes. Empty disables it, "-" means stderr.
	MetricsOutput string

	TimeSched    bool
	IntraVMSched bool
	NoiseAware   bool

	// Shots per submitted job.
	Shots int

	// MaxCalibrationAge fails the calibration age check of the check
	// command when exceeded. Zero skips that check.
	MaxCalibrationAge time.Duration

	// CheckTimeout bounds each preflight check.
	CheckTimeout time.Duration

	// Config is the loaded configuration (populated during Complete()).
	Config *Config `json:"-"`
}

// Config is the on-disk tuning file.
type Config struct {
	Scheduler *scheduler.Config `json:"scheduler,omitempty"`
	Quality   *quality.Config   `json:"quality,omitempty"`
}

// NewOptions creates Options with default values.
func NewOptions() *Options {
	return &Options{
		Output:       OutputYAML,
		Shots:        1024,
		CheckTimeout: 30 * time.Second,
	}
}

// AddFlags adds command line flags for all Options fields.
func (o *Options) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.DeviceFile, "device", o.DeviceFile,
		"Path to the device description (regions, bridge links, qubit count)")

	fs.StringVar(&o.CalibrationFile, "calibration", o.CalibrationFile,
		"Path to the device calibration snapshot")

	fs.StringVar(&o.WorkloadsFile, "workloads", o.WorkloadsFile,
		"Path to the list of workloads to schedule")

	fs.StringVar(&o.ConfigFile, "config", o.ConfigFile,
		"Path to a scheduler and ranking configuration file")

	fs.StringVarP(&o.Output, "output", "o", o.Output,
		"Output format, one of: yaml, json, table")

	fs.StringVar(&o.MetricsOutput, "metrics-output", o.MetricsOutput,
		"Write Prometheus metrics to this file when done, - for stderr")

	fs.BoolVar(&o.TimeSched, "time-sched", o.TimeSched,
		"Reuse shallow regions in sequence after a reset")

	fs.BoolVar(&o.IntraVMSched, "intra-vm-sched", o.IntraVMSched,
		"Let small workloads share a region")

	fs.BoolVar(&o.NoiseAware, "noise-aware", o.NoiseAware,
		"Keep noise-sensitive workloads off the worst regions")

	fs.IntVar(&o.Shots, "shots", o.Shots,
		"Shots per submitted job")

	fs.DurationVar(&o.MaxCalibrationAge, "max-calibration-age", o.MaxCalibrationAge,
		"Oldest calibration snapshot the check command accepts, 0 to skip the age check")

	fs.DurationVar(&o.CheckTimeout, "check-timeout", o.CheckTimeout,
		"Timeout of each preflight check")
}

// Complete loads the configuration file as a JSON merge patch over the
// defaults. Fields the file leaves out keep their default values.
func (o *Options) Complete() error {
	qual := quality.NewDefaultConfig()
	cfg := &Config{
		Scheduler: scheduler.NewDefaultConfig(),
		Quality:   &qual,
	}
	if o.ConfigFile != "" {
		data, err := os.ReadFile(o.ConfigFile)
		if err != nil {
			return fmt.Errorf("failed to read config file %q: %w", o.ConfigFile, err)
		}
		patch, err := yaml.YAMLToJSON(data)
		if err != nil {
			return fmt.Errorf("failed to parse config file %q: %w", o.ConfigFile, err)
		}
		defaults, err := json.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("failed to encode default config: %w", err)
		}
		merged, err := jsonpatch.MergePatch(defaults, patch)
		if err != nil {
			return fmt.Errorf("failed to apply config file %q: %w", o.ConfigFile, err)
		}
		cfg = &Config{}
		if err := yaml.UnmarshalStrict(merged, cfg); err != nil {
			return fmt.Errorf("failed to parse config file %q: %w", o.ConfigFile, err)
		}
	}
	if cfg.Scheduler == nil {
		cfg.Scheduler = scheduler.NewDefaultConfig()
	}
	if cfg.Quality == nil {
		cfg.Quality = &qual
	}

	o.Config = cfg
	return nil
}

// Validate validates all option values.
func (o *Options) Validate() error {
	var errs []error

	if o.DeviceFile == "" {
		errs = append(errs, fmt.Errorf("--device is required"))
	}
	if o.CalibrationFile == "" {
		errs = append(errs, fmt.Errorf("--calibration is required"))
	}
	switch o.Output {
	case OutputYAML, OutputJSON, OutputTable:
	default:
		errs = append(errs, fmt.Errorf("output must be one of yaml, json, table, got %q", o.Output))
	}
	if o.Shots < 1 {
		errs = append(errs, fmt.Errorf("shots must be positive, got %d", o.Shots))
	}
	if o.MaxCalibrationAge < 0 {
		errs = append(errs, fmt.Errorf("max-calibration-age must not be negative, got %s", o.MaxCalibrationAge))
	}
	if o.CheckTimeout <= 0 {
		errs = append(errs, fmt.Errorf("check-timeout must be positive, got %s", o.CheckTimeout))
	}
	if o.Config != nil {
		if err := o.Config.Scheduler.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("invalid scheduler config: %w", err))
		}
		if err := o.Config.Quality.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("invalid quality config: %w", err))
		}
	}

	return utilerrors.NewAggregate(errs)
}

// ValidateWorkloads checks the options needed by commands that schedule.
func (o *Options) ValidateWorkloads() error {
	if o.WorkloadsFile == "" {
		return fmt.Errorf("--workloads is required")
	}
	return nil
}

// SchedulerOptions returns the scheduling flags.
func (o *Options) SchedulerOptions() scheduler.Options {
	return scheduler.Options{
		TimeSched:    o.TimeSched,
		IntraVMSched: o.IntraVMSched,
		NoiseAware:   o.NoiseAware,
	}
}
