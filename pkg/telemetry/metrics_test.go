package telemetry

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/polisai/forms-knot/pkg/domain"
)

func TestRecordDispatch(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	prev := otel.GetMeterProvider()
	otel.SetMeterProvider(provider)
	t.Cleanup(func() {
		otel.SetMeterProvider(prev)
		ResetMetricsForTest()
	})

	ResetMetricsForTest()

	RecordDispatch(ctx, DispatchMetrics{
		Path:          "submit",
		Outcome:       string(domain.OutcomeFailure),
		Code:          domain.CodeAdapterTimeout,
		Capability:    "form-subscribe",
		StatusCode:    500,
		AdapterCalled: true,
		Duration:      150 * time.Millisecond,
	})
	RecordDispatch(ctx, DispatchMetrics{
		Path:       "read",
		Outcome:    string(domain.OutcomeContinue),
		StatusCode: 200,
		Transition: "next",
		Markers:    2,
	})

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("collect metrics: %v", err)
	}

	metrics := map[string]metricdata.Metrics{}
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			metrics[m.Name] = m
		}
	}

	dispatches, ok := metrics["forms.dispatch.total"]
	if !ok {
		t.Fatalf("missing forms.dispatch.total metric")
	}
	dispatchData, ok := dispatches.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("unexpected data type for dispatch metric")
	}
	if len(dispatchData.DataPoints) != 2 {
		t.Fatalf("expected 2 datapoints, got %d", len(dispatchData.DataPoints))
	}
	for _, dp := range dispatchData.DataPoints {
		path, _ := dp.Attributes.Value(attribute.Key("forms.path"))
		if path.AsString() == "submit" {
			if code, ok := dp.Attributes.Value(attribute.Key("forms.error_code")); !ok || code.AsString() != domain.CodeAdapterTimeout {
				t.Fatalf("expected forms.error_code on submit datapoint, got %v", code)
			}
		}
	}

	markers := metrics["forms.marker.injected_total"].Data.(metricdata.Sum[int64])
	if markers.DataPoints[0].Value != 2 {
		t.Fatalf("expected 2 markers, got %d", markers.DataPoints[0].Value)
	}

	calls := metrics["forms.adapter.calls_total"].Data.(metricdata.Sum[int64])
	if calls.DataPoints[0].Value != 1 {
		t.Fatalf("expected 1 adapter call, got %d", calls.DataPoints[0].Value)
	}
	if value, ok := calls.DataPoints[0].Attributes.Value(attribute.Key("forms.capability")); !ok || value.AsString() != "form-subscribe" {
		t.Fatalf("expected forms.capability form-subscribe, got %v", value)
	}

	timeouts, ok := metrics["forms.adapter.timeout_total"]
	if !ok {
		t.Fatalf("missing forms.adapter.timeout_total metric")
	}
	if timeouts.Data.(metricdata.Sum[int64]).DataPoints[0].Value != 1 {
		t.Fatalf("expected 1 adapter timeout")
	}

	hist, ok := metrics["forms.dispatch.duration_ms"]
	if !ok {
		t.Fatalf("missing forms.dispatch.duration_ms metric")
	}
	histData := hist.Data.(metricdata.Histogram[float64])
	if histData.DataPoints[0].Count != 1 {
		t.Fatalf("expected histogram count 1, got %d", histData.DataPoints[0].Count)
	}
	if histData.DataPoints[0].Sum != 150 {
		t.Fatalf("expected histogram sum 150, got %v", histData.DataPoints[0].Sum)
	}
}

func TestRecordOutcome(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider()
	tp.RegisterSpanProcessor(recorder)
	tracer := tp.Tracer("test")

	_, span := tracer.Start(context.Background(), "knot.process")
	RecordOutcome(span, "redirect", 301, "", "")
	span.End()

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	events := spans[0].Events()
	if len(events) != 1 {
		t.Fatalf("expected 1 outcome event, got %d", len(events))
	}
	event := events[0]
	if event.Name != "forms.outcome" {
		t.Fatalf("unexpected event name %q", event.Name)
	}

	attrs := attribute.NewSet(event.Attributes...)
	if value, ok := attrs.Value(attribute.Key("forms.outcome")); !ok || value.AsString() != "redirect" {
		t.Fatalf("expected forms.outcome redirect, got %v", value)
	}
	if value, ok := attrs.Value(attribute.Key("forms.status_code")); !ok || value.AsInt64() != 301 {
		t.Fatalf("expected status 301, got %v", value)
	}
	if _, ok := attrs.Value(attribute.Key("forms.transition")); ok {
		t.Fatalf("transition must be absent for redirects")
	}

	if err := tp.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown tracer provider: %v", err)
	}
}
