package telemetry

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func TestEmitPlanAndRunStepSuccess(t *testing.T) {
	t.Parallel()

	tracer, recorder := newTestTracer()
	op, err := EmitPlan(context.Background(), tracer, "deploy", Plan{Steps: []PlannedStep{
		{ID: "stopping", Title: "stopping old container"},
		{ID: "installing", Title: "resolving artifact"},
	}}, attribute.String("deployd.target", "host-1"))
	if err != nil {
		t.Fatalf("EmitPlan() error = %v", err)
	}

	err = op.RunStep(op.Context(), "stopping", func(ctx context.Context) error {
		trace.SpanFromContext(ctx).SetAttributes(attribute.Int("deployd.tries", 2))
		return nil
	})
	if err != nil {
		t.Fatalf("RunStep() error = %v", err)
	}
	op.End(nil)

	spans := recorder.Ended()
	if len(spans) != 2 {
		t.Fatalf("ended span count = %d, want 2", len(spans))
	}

	root := findSpanByName(spans, "deploy")
	if root == nil {
		t.Fatal("missing root span")
	}
	if got := getAttr(root.Attributes(), "deployd.target"); got != "host-1" {
		t.Fatalf("root target attribute = %q, want host-1", got)
	}
	if len(root.Events()) == 0 {
		t.Fatal("expected root plan event")
	}
	planEvent := root.Events()[0]
	if planEvent.Name != PlanEventName {
		t.Fatalf("plan event name = %q, want %q", planEvent.Name, PlanEventName)
	}
	if getAttr(planEvent.Attributes, PlanVersionKey) != PlanVersion {
		t.Fatalf("plan event version = %q, want %q", getAttr(planEvent.Attributes, PlanVersionKey), PlanVersion)
	}

	child := findSpanByName(spans, "stopping")
	if child == nil {
		t.Fatal("missing child step span")
	}
	if child.Parent().SpanID() != root.SpanContext().SpanID() {
		t.Fatalf("step parent span id = %s, want %s", child.Parent().SpanID(), root.SpanContext().SpanID())
	}
	if !hasIntAttr(child.Attributes(), "deployd.tries", 2) {
		t.Fatalf("step attributes = %v, want deployd.tries=2", child.Attributes())
	}
}

func TestRunStepFailureSetsErrorStatus(t *testing.T) {
	t.Parallel()

	tracer, recorder := newTestTracer()
	op, err := EmitPlan(context.Background(), tracer, "deploy", Plan{Steps: []PlannedStep{{ID: "starting", Title: "starting container"}}})
	if err != nil {
		t.Fatalf("EmitPlan() error = %v", err)
	}

	boom := errors.New("boom")
	err = op.RunStep(op.Context(), "starting", func(context.Context) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("RunStep() error = %v, want boom", err)
	}
	op.End(err)

	spans := recorder.Ended()
	child := findSpanByName(spans, "starting")
	if child == nil {
		t.Fatal("missing failed step span")
	}
	if child.Status().Code != codes.Error {
		t.Fatalf("step status code = %v, want %v", child.Status().Code, codes.Error)
	}
	if child.Status().Description != "boom" {
		t.Fatalf("step status description = %q, want boom", child.Status().Description)
	}
	root := findSpanByName(spans, "deploy")
	if root == nil || root.Status().Code != codes.Error {
		t.Fatal("root span should carry the error status")
	}
}

func TestSkipStepMarksSpan(t *testing.T) {
	t.Parallel()

	tracer, recorder := newTestTracer()
	op, err := EmitPlan(context.Background(), tracer, "deploy", Plan{Steps: []PlannedStep{{ID: "validating", Title: "validating service"}}})
	if err != nil {
		t.Fatalf("EmitPlan() error = %v", err)
	}
	op.SkipStep(op.Context(), "validating", "starting failed")
	op.End(nil)

	child := findSpanByName(recorder.Ended(), "validating")
	if child == nil {
		t.Fatal("missing skipped step span")
	}
	if getAttr(child.Attributes(), StepMessageKey) != "starting failed" {
		t.Fatalf("skip message = %q, want starting failed", getAttr(child.Attributes(), StepMessageKey))
	}
	skipped := false
	for _, attr := range child.Attributes() {
		if string(attr.Key) == StepSkippedKey {
			skipped = attr.Value.AsBool()
		}
	}
	if !skipped {
		t.Fatal("skipped attribute not set")
	}
}

func TestEmitPlanValidationFailure(t *testing.T) {
	t.Parallel()

	tracer, _ := newTestTracer()
	_, err := EmitPlan(context.Background(), tracer, "deploy", Plan{Steps: []PlannedStep{
		{ID: "stopping", Title: "stopping"},
		{ID: "stopping", Title: "duplicated"},
	}})
	if err == nil {
		t.Fatal("EmitPlan() error = nil, want duplicate id error")
	}

	_, err = EmitPlan(context.Background(), tracer, "deploy", Plan{Steps: []PlannedStep{
		{ID: "rollback/stopping", ParentID: "rollback", Title: "stopping"},
	}})
	if err == nil {
		t.Fatal("EmitPlan() error = nil, want missing parent error")
	}
}

func TestNilOperationRunsStepDirectly(t *testing.T) {
	t.Parallel()

	var op *Operation
	ran := false
	if err := op.RunStep(context.Background(), "installing", func(context.Context) error {
		ran = true
		return nil
	}); err != nil {
		t.Fatalf("RunStep() error = %v", err)
	}
	if !ran {
		t.Fatal("step function did not run")
	}
	op.SkipStep(context.Background(), "starting", "")
	op.End(nil)
}

func newTestTracer() (trace.Tracer, *tracetest.SpanRecorder) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	return provider.Tracer("telemetry-test"), recorder
}

func findSpanByName(spans []sdktrace.ReadOnlySpan, name string) sdktrace.ReadOnlySpan {
	for _, span := range spans {
		if span.Name() == name {
			return span
		}
	}
	return nil
}

func getAttr(attrs []attribute.KeyValue, key string) string {
	for _, attr := range attrs {
		if string(attr.Key) == key {
			return attr.Value.AsString()
		}
	}
	return ""
}

func hasIntAttr(attrs []attribute.KeyValue, key string, want int64) bool {
	for _, attr := range attrs {
		if string(attr.Key) == key {
			return attr.Value.AsInt64() == want
		}
	}
	return false
}
