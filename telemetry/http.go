// Copyright (C) 2025, Indra Network Contributors. All rights reserved.
// See the file LICENSE for licensing terms.

package telemetry

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/trumanellis/indranet/version"
)

// Response is the envelope every JSON endpoint on the node's
// diagnostic HTTP server returns.
type Response struct {
	Success bool        `json:"success"`
	Result  interface{} `json:"result,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// NewMux returns the node's diagnostic HTTP server: /healthz reports
// the aggregated health.Registry result, /metrics serves the
// Prometheus registry. Neither requires authentication; operators
// bind it to a loopback or internal-only address.
func NewMux(health *Registry, reg *prometheus.Registry) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		report := health.Check(r.Context())
		status := http.StatusOK
		if !report.Healthy {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, Response{Success: report.Healthy, Result: report})
	})

	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	mux.HandleFunc("/version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, Response{Success: true, Result: version.Current.String()})
	})

	return mux
}

// ReadyCheck adapts a plain boolean-returning probe into a Checker,
// for simple "is the listener bound" style health signals.
type ReadyCheck func(context.Context) (interface{}, error)

// HealthCheck implements Checker.
func (f ReadyCheck) HealthCheck(ctx context.Context) (interface{}, error) { return f(ctx) }
