// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/metislabs/metis/pkg/core"
)

// EngineMetrics holds the engine's metric instruments.
type EngineMetrics struct {
	// requestCounter tracks processed requests by status
	requestCounter metric.Int64Counter

	// requestDuration tracks end-to-end request latency
	requestDuration metric.Float64Histogram

	// callCounter tracks outbound calls by operation, status, and error code
	callCounter metric.Int64Counter

	// callDuration tracks outbound call latency by operation
	callDuration metric.Float64Histogram

	// skillCounter tracks skill executions by skill and outcome
	skillCounter metric.Int64Counter

	// breakerStateGauge tracks circuit breaker state per operation
	// (0=open, 1=half-open, 2=closed)
	breakerStateGauge metric.Int64Gauge
}

// NewEngineMetrics creates the engine metric instruments on the global meter.
func NewEngineMetrics() (*EngineMetrics, error) {
	meter := otel.Meter("metis/engine")

	requestCounter, err := meter.Int64Counter(
		"metis.requests.total",
		metric.WithDescription("Processed requests by status"),
	)
	if err != nil {
		return nil, err
	}

	requestDuration, err := meter.Float64Histogram(
		"metis.requests.duration_ms",
		metric.WithDescription("End-to-end request latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	callCounter, err := meter.Int64Counter(
		"metis.calls.total",
		metric.WithDescription("Outbound calls by operation, status, and error code"),
	)
	if err != nil {
		return nil, err
	}

	callDuration, err := meter.Float64Histogram(
		"metis.calls.duration_ms",
		metric.WithDescription("Outbound call latency in milliseconds by operation"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	skillCounter, err := meter.Int64Counter(
		"metis.skills.executions",
		metric.WithDescription("Skill executions by skill and outcome"),
	)
	if err != nil {
		return nil, err
	}

	breakerStateGauge, err := meter.Int64Gauge(
		"metis.circuitbreaker.state",
		metric.WithDescription("Circuit breaker state per operation (0=open, 1=half-open, 2=closed)"),
	)
	if err != nil {
		return nil, err
	}

	return &EngineMetrics{
		requestCounter:    requestCounter,
		requestDuration:   requestDuration,
		callCounter:       callCounter,
		callDuration:      callDuration,
		skillCounter:      skillCounter,
		breakerStateGauge: breakerStateGauge,
	}, nil
}

// RecordRequest folds one processed request into the request instruments.
func (m *EngineMetrics) RecordRequest(ctx context.Context, status string, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String(AttrRequestStatus, status))
	m.requestCounter.Add(ctx, 1, attrs)
	m.requestDuration.Record(ctx, float64(duration.Milliseconds()), attrs)
}

// RecordSkill counts one skill execution.
func (m *EngineMetrics) RecordSkill(ctx context.Context, skill string, success bool) {
	if m == nil {
		return
	}
	outcome := "ok"
	if !success {
		outcome = "error"
	}
	m.skillCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrSkillName, skill),
		attribute.String(AttrRequestStatus, outcome),
	))
}

// RecordBreakerState records a breaker state transition
// (0=open, 1=half-open, 2=closed).
func (m *EngineMetrics) RecordBreakerState(ctx context.Context, operation string, state int64) {
	if m == nil {
		return
	}
	m.breakerStateGauge.Record(ctx, state, metric.WithAttributes(
		attribute.String(AttrOperation, operation),
	))
}

// Emit implements core.Sink: every observed outbound call becomes a counter
// increment and a latency sample. This is how the resilience layer's event
// stream reaches the metric pipeline.
func (m *EngineMetrics) Emit(ctx context.Context, event core.Event) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String(AttrOperation, event.Operation),
		attribute.String(AttrRequestStatus, string(event.Status)),
	}
	if event.ErrorCode != "" {
		attrs = append(attrs, attribute.String(AttrErrorCode, event.ErrorCode))
	}
	m.callCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.callDuration.Record(ctx, float64(event.Duration.Milliseconds()), metric.WithAttributes(
		attribute.String(AttrOperation, event.Operation),
	))
}

var _ core.Sink = (*EngineMetrics)(nil)
