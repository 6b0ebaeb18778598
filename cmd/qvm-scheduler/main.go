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
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"github.com/qvm-dev/hypervisor/cmd/qvm-scheduler/options"
)

func main() {
	cmd := NewCommand()

	// Set up signal handling for graceful shutdown
	ctx := setupSignalHandler()
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// NewCommand returns the qvm-scheduler root command.
func NewCommand() *cobra.Command {
	opts := options.NewOptions()

	cmd := &cobra.Command{
		Use:   "qvm-scheduler",
		Short: "qvm-scheduler packs quantum workloads onto regions of one processor",
		Long: `qvm-scheduler partitions a quantum processor into a grid of regions and
runs many small workloads as one combined job:
- schedule places workloads on regions, optionally reusing shallow regions
  in sequence and sharing regions between small workloads
- combine builds the combined circuit without submitting it
- rank orders the regions by calibrated two-qubit error
- run submits combined jobs until every workload has run
- check verifies the calibration covers the device`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.Complete(); err != nil {
				return err
			}
			return opts.Validate()
		},
	}

	fs := cmd.PersistentFlags()
	opts.AddFlags(fs)
	klogFlags := flag.NewFlagSet("klog", flag.ContinueOnError)
	klog.InitFlags(klogFlags)
	fs.AddGoFlagSet(klogFlags)

	cmd.AddCommand(
		newScheduleCommand(opts),
		newCombineCommand(opts),
		newRankCommand(opts),
		newRunCommand(opts),
		newCheckCommand(opts),
	)
	return cmd
}

// setupSignalHandler registers signal handlers and returns a context that is cancelled on signal
func setupSignalHandler() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	c := make(chan os.Signal, 2)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		cancel()
		<-c
		os.Exit(1) // second signal. Exit directly.
	}()
	return ctx
}
