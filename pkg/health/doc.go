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

// Package health runs preflight checks against a device and its calibration
// before workloads are scheduled on it.
//
// Checks run in parallel under a shared timeout and are folded into one
// Report:
//
//	agg := health.NewAggregator(10 * time.Second)
//	_ = agg.Add(health.RegionCoverage(ranker))
//	report := agg.CheckAll(ctx)
package health
