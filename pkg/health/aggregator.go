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
	"strings"
	"sync"
	"time"

	"k8s.io/apimachinery/pkg/util/sets"
	"k8s.io/utils/clock"
)

// Aggregator runs registered checks and folds them into a Report.
type Aggregator struct {
	mutex    sync.RWMutex
	checkers map[string]Checker
	timeout  time.Duration
	clock    clock.PassiveClock
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithClock sets the clock used to stamp statuses.
func WithClock(c clock.PassiveClock) Option {
	return func(a *Aggregator) {
		a.clock = c
	}
}

// NewAggregator creates an aggregator that gives every check at most
// timeout to finish.
func NewAggregator(timeout time.Duration, opts ...Option) *Aggregator {
	a := &Aggregator{
		checkers: map[string]Checker{},
		timeout:  timeout,
		clock:    clock.RealClock{},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Add registers a check. Names must be unique.
func (a *Aggregator) Add(c Checker) error {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	if _, ok := a.checkers[c.Name()]; ok {
		return fmt.Errorf("health check %q is already registered", c.Name())
	}
	a.checkers[c.Name()] = c
	return nil
}

// CheckAll runs every registered check in parallel. A check still running
// when ctx is done is reported unhealthy.
func (a *Aggregator) CheckAll(ctx context.Context) Report {
	a.mutex.RLock()
	checkers := make(map[string]Checker, len(a.checkers))
	for name, c := range a.checkers {
		checkers[name] = c
	}
	a.mutex.RUnlock()

	type result struct {
		name   string
		status Status
	}
	results := make(chan result, len(checkers))
	for name, c := range checkers {
		go func(name string, c Checker) {
			checkCtx, cancel := context.WithTimeout(ctx, a.timeout)
			defer cancel()
			results <- result{name: name, status: c.Check(checkCtx)}
		}(name, c)
	}

	components := make(map[string]Status, len(checkers))
	pending := sets.KeySet(checkers)
	for pending.Len() > 0 {
		select {
		case r := <-results:
			if r.status.Timestamp.IsZero() {
				r.status.Timestamp = a.clock.Now()
			}
			components[r.name] = r.status
			pending.Delete(r.name)
		case <-ctx.Done():
			for _, name := range sets.List(pending) {
				components[name] = Status{Message: "check did not finish: " + ctx.Err().Error(), Timestamp: a.clock.Now()}
			}
			pending = sets.New[string]()
		}
	}

	healthy := 0
	for _, s := range components {
		if s.Healthy {
			healthy++
		}
	}
	return Report{
		Healthy:      healthy == len(components),
		Message:      message(components, healthy),
		Components:   components,
		HealthyCount: healthy,
		TotalCount:   len(components),
		Timestamp:    a.clock.Now(),
	}
}

func message(components map[string]Status, healthy int) string {
	total := len(components)
	switch {
	case total == 0:
		return "No checks registered"
	case healthy == total:
		return fmt.Sprintf("All %d checks passed", total)
	}

	failed := sets.New[string]()
	for name, s := range components {
		if !s.Healthy {
			failed.Insert(name)
		}
	}
	names := sets.List(failed)
	if len(names) > 3 {
		return fmt.Sprintf("%d/%d checks passed (failed: %s and %d more)", healthy, total, strings.Join(names[:3], ", "), len(names)-3)
	}
	return fmt.Sprintf("%d/%d checks passed (failed: %s)", healthy, total, strings.Join(names, ", "))
}
