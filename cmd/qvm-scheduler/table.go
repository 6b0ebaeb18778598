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
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"k8s.io/apimachinery/pkg/util/sets"
)

var (
	warn = color.New(color.FgRed, color.Bold).SprintFunc()
	note = color.New(color.FgYellow).SprintFunc()
	good = color.New(color.FgGreen).SprintFunc()
)

// newTable returns a borderless, left-aligned table.
func newTable(w io.Writer, header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)
	return table
}

func (r RankOutput) printTable(w io.Writer) error {
	table := newTable(w, "Rank", "Region", "Link Error", "Readout Error", "Samples", "Skipped", "Note")
	for i, s := range r {
		link := "n/a"
		if s.LinkError != nil {
			link = fmt.Sprintf("%.5f", *s.LinkError)
		}
		mark := ""
		if s.Bad {
			mark = warn("bad")
		}
		table.Append([]string{
			fmt.Sprintf("%d", i+1),
			fmt.Sprintf("(%d, %d)", s.Row, s.Col),
			link,
			fmt.Sprintf("%.5f", s.ReadoutError),
			fmt.Sprintf("%d", s.Samples),
			fmt.Sprintf("%d", s.Skipped),
			mark,
		})
	}
	table.Render()
	return nil
}

func (o *ScheduleOutput) printTable(w io.Writer) error {
	table := newTable(w, "Entry", "Region", "Shape", "Variant", "Workloads")
	next := 0
	for i, e := range o.Selection {
		names := o.Scheduled[next : next+len(e.Workloads)]
		next += len(e.Workloads)
		table.Append([]string{
			fmt.Sprintf("%d", i),
			fmt.Sprintf("(%d, %d)", e.Row, e.Col),
			fmt.Sprintf("%dx%d", e.Height, e.Width),
			fmt.Sprintf("%d", e.Variant),
			strings.Join(names, ","),
		})
	}
	table.Render()

	if len(o.Unscheduled) > 0 {
		_, err := fmt.Fprintf(w, "%s %s\n", note("unscheduled:"), strings.Join(o.Unscheduled, ", "))
		return err
	}
	return nil
}

func (o *CheckOutput) printTable(w io.Writer) error {
	table := newTable(w, "Check", "Status", "Message")
	for _, name := range sets.List(sets.KeySet(o.Components)) {
		s := o.Components[name]
		status := good("ok")
		if !s.Healthy {
			status = warn("failed")
		}
		table.Append([]string{name, status, s.Message})
	}
	table.Render()

	_, err := fmt.Fprintln(w, o.Message)
	return err
}
