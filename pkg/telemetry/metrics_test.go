// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/metislabs/metis/pkg/core"
)

func TestNewEngineMetrics(t *testing.T) {
	m, err := NewEngineMetrics()
	if err != nil {
		t.Fatalf("failed to create engine metrics: %v", err)
	}
	if m == nil {
		t.Fatal("expected non-nil EngineMetrics")
	}
}

func TestRecordRequest(t *testing.T) {
	m, _ := NewEngineMetrics()
	ctx := context.Background()

	m.RecordRequest(ctx, "ok", 12*time.Millisecond)
	m.RecordRequest(ctx, "error", 0)

	var nilMetrics *EngineMetrics
	nilMetrics.RecordRequest(ctx, "ok", time.Millisecond)
}

func TestRecordSkill(t *testing.T) {
	m, _ := NewEngineMetrics()
	ctx := context.Background()

	m.RecordSkill(ctx, "summarize", true)
	m.RecordSkill(ctx, "classify", false)

	var nilMetrics *EngineMetrics
	nilMetrics.RecordSkill(ctx, "summarize", true)
}

func TestRecordBreakerState(t *testing.T) {
	m, _ := NewEngineMetrics()
	ctx := context.Background()

	// 0 = open, 1 = half-open, 2 = closed
	m.RecordBreakerState(ctx, "llm.complete", 2)
	m.RecordBreakerState(ctx, "vector.query", 0)

	var nilMetrics *EngineMetrics
	nilMetrics.RecordBreakerState(ctx, "llm.complete", 1)
}

func TestEmitAsSink(t *testing.T) {
	m, _ := NewEngineMetrics()
	ctx := context.Background()

	var sink core.Sink = m
	sink.Emit(ctx, core.Event{
		Operation: "llm.complete",
		Status:    core.StatusOK,
		Duration:  8 * time.Millisecond,
		Attempt:   1,
	})
	sink.Emit(ctx, core.Event{
		Operation: "vector.upsert",
		Status:    core.StatusError,
		ErrorCode: "TRANSIENT",
		Attempt:   3,
	})

	var nilMetrics *EngineMetrics
	nilMetrics.Emit(ctx, core.Event{Operation: "noop"})
}
