// Package telemetry provides logging setup and Prometheus metrics for the
// provisioner.
//
// # Metrics
//
// The provisioner is a short-lived job, so nothing scrapes it. Metrics are
// registered against a dedicated Registry (not the default one) and pushed
// once to a Prometheus Pushgateway at the end of a run when
// METRICS_PUSHGATEWAY_URL is set:
//
//	PUT <pushgateway>/metrics/job/<METRICS_JOB>
//
// # Metric Groups
//
//   - Provisioning step counters and durations, labelled by step and outcome
//   - REST gateway request counters, labelled by method, endpoint and status
//
// The endpoint label holds the gateway route (/rest/v1/sql, /rest/v1/rpc,
// /rest/v1/information_schema/tables, /rest/v1/<table>) and never carries
// query strings, so cardinality stays bounded.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Registry holds every provisioner metric.
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

// Step metrics, recorded by the provisioner once per step.
//
// ProvisionStepsTotal is a CounterVec with labels {step, outcome}; outcome is
// "success" or "failure".
//
// Example PromQL queries:
//   - Failed steps in the last day:  sum by (step) (increase(provision_steps_total{outcome="failure"}[1d]))
//
// ProvisionStepDuration is a HistogramVec with label {step}.
var (
	ProvisionStepsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provision_steps_total",
			Help: "Total number of provisioning steps executed, by step and outcome.",
		},
		[]string{"step", "outcome"},
	)

	ProvisionStepDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "provision_step_duration_seconds",
			Help:    "Duration of a single provisioning step.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"step"},
	)
)

// GatewayRequestsTotal is a CounterVec with labels {method, endpoint, status}.
// status is the HTTP status code, or "error" when no response arrived.
var GatewayRequestsTotal = factory.NewCounterVec(
	prometheus.CounterOpts{
		Name: "gateway_requests_total",
		Help: "Total number of REST gateway requests, by method, endpoint, and status code.",
	},
	[]string{"method", "endpoint", "status"},
)

// RecordStep records one finished step.
func RecordStep(step string, success bool, seconds float64) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	ProvisionStepsTotal.WithLabelValues(step, outcome).Inc()
	ProvisionStepDuration.WithLabelValues(step).Observe(seconds)
}

// RecordGatewayRequest records one REST gateway round trip. A status of 0
// means the request failed before a response was read.
func RecordGatewayRequest(method, endpoint string, status int) {
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	GatewayRequestsTotal.WithLabelValues(method, endpoint, label).Inc()
}

// PushMetrics pushes Registry to the Pushgateway at url under job. The
// grouping replaces any previous push for the same job.
func PushMetrics(ctx context.Context, url, job string) error {
	if err := push.New(url, job).Gatherer(Registry).PushContext(ctx); err != nil {
		return fmt.Errorf("failed to push metrics: %w", err)
	}
	slog.Debug("metrics pushed", "pushgateway", url, "job", job)
	return nil
}
