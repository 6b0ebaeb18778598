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
	"time"
)

// Checker inspects one aspect of the device.
type Checker interface {
	// Name returns the unique name of the check.
	Name() string

	// Check runs the check. The context carries the aggregator timeout.
	Check(ctx context.Context) Status
}

// Status is the outcome of a single check.
type Status struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message"`

	// Details carries structured findings, e.g. the offending regions.
	Details map[string]interface{} `json:"details,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// String returns a human-readable representation of the status.
func (s Status) String() string {
	return fmt.Sprintf("[%s] %s (checked at %s)", state(s.Healthy), s.Message, s.Timestamp.Format(time.RFC3339))
}

// Report is the aggregated outcome of all checks.
type Report struct {
	Healthy    bool              `json:"healthy"`
	Message    string            `json:"message"`
	Components map[string]Status `json:"components"`

	HealthyCount int `json:"healthyCount"`
	TotalCount   int `json:"totalCount"`

	Timestamp time.Time `json:"timestamp"`
}

// String returns a human-readable representation of the report.
func (r Report) String() string {
	return fmt.Sprintf("[%s] %s (%d/%d checks passed, checked at %s)",
		state(r.Healthy), r.Message, r.HealthyCount, r.TotalCount, r.Timestamp.Format(time.RFC3339))
}

func state(healthy bool) string {
	if healthy {
		return "HEALTHY"
	}
	return "UNHEALTHY"
}

type funcChecker struct {
	name string
	fn   func(ctx context.Context) Status
}

// NewChecker wraps fn as a Checker.
func NewChecker(name string, fn func(ctx context.Context) Status) Checker {
	return &funcChecker{name: name, fn: fn}
}

func (f *funcChecker) Name() string { return f.name }

func (f *funcChecker) Check(ctx context.Context) Status { return f.fn(ctx) }
