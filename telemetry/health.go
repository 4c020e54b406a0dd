// Copyright (C) 2025, Indra Network Contributors. All rights reserved.
// See the file LICENSE for licensing terms.

package telemetry

import (
	"context"
	"time"
)

// Checker reports whether some part of the node is healthy.
type Checker interface {
	HealthCheck(context.Context) (interface{}, error)
}

// Report aggregates the result of every registered Checker.
type Report struct {
	Healthy  bool                   `json:"healthy"`
	Checks   map[string]CheckResult `json:"checks,omitempty"`
	Duration time.Duration          `json:"duration"`
}

// CheckResult is one named checker's outcome.
type CheckResult struct {
	Healthy  bool          `json:"healthy"`
	Error    string        `json:"error,omitempty"`
	Details  interface{}   `json:"details,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Registry runs a named set of Checkers on demand, the pattern a
// node's HTTP /healthz endpoint and its supervising process both use.
type Registry struct {
	checkers map[string]Checker
}

// NewRegistry returns an empty health registry.
func NewRegistry() *Registry {
	return &Registry{checkers: make(map[string]Checker)}
}

// Register adds a named checker. A duplicate name overwrites the
// previous one.
func (r *Registry) Register(name string, c Checker) {
	r.checkers[name] = c
}

// Check runs every registered checker and aggregates the results.
// cmd/indranode registers a "blobstore" and a "pending" checker, both
// of which always report healthy.
func (r *Registry) Check(ctx context.Context) Report {
	start := time.Now()
	report := Report{Healthy: true, Checks: make(map[string]CheckResult, len(r.checkers))}

	for name, checker := range r.checkers {
		checkStart := time.Now()
		details, err := checker.HealthCheck(ctx)
		result := CheckResult{Healthy: err == nil, Details: details, Duration: time.Since(checkStart)}
		if err != nil {
			result.Error = err.Error()
			report.Healthy = false
		}
		report.Checks[name] = result
	}

	report.Duration = time.Since(start)
	return report
}
