package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/polisai/forms-knot/pkg/domain"
)

var (
	metricsOnce              sync.Once
	metricsInitErr           error
	dispatchCounter          metric.Int64Counter
	markerCounter            metric.Int64Counter
	adapterCallCounter       metric.Int64Counter
	adapterTimeoutCounter    metric.Int64Counter
	dispatchLatencyHistogram metric.Float64Histogram
)

// DispatchMetrics captures the fields recorded for one knot invocation.
type DispatchMetrics struct {
	// Path is "read" or "submit".
	Path       string
	Outcome    string
	Code       string
	Capability string
	StatusCode int
	Transition string
	Markers    int
	// AdapterCalled is set when the invocation reached an adapter.
	AdapterCalled bool
	Duration      time.Duration
}

// RecordDispatch emits counters and histograms that describe one dispatch.
func RecordDispatch(ctx context.Context, m DispatchMetrics) {
	if err := ensureMetrics(); err != nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("forms.path", m.Path),
		attribute.String("forms.outcome", m.Outcome),
		attribute.Int("forms.status_code", m.StatusCode),
	}
	if m.Code != "" {
		attrs = append(attrs, attribute.String("forms.error_code", m.Code))
	}
	if m.Transition != "" {
		attrs = append(attrs, attribute.String("forms.transition", m.Transition))
	}

	dispatchCounter.Add(ctx, 1, metric.WithAttributes(attrs...))

	if m.Duration > 0 {
		dispatchLatencyHistogram.Record(ctx, float64(m.Duration)/float64(time.Millisecond), metric.WithAttributes(attrs...))
	}

	if m.Markers > 0 {
		markerCounter.Add(ctx, int64(m.Markers))
	}

	if m.AdapterCalled {
		adapterAttrs := metric.WithAttributes(
			attribute.String("forms.capability", m.Capability),
			attribute.String("forms.outcome", m.Outcome),
		)
		adapterCallCounter.Add(ctx, 1, adapterAttrs)
		if m.Code == domain.CodeAdapterTimeout {
			adapterTimeoutCounter.Add(ctx, 1, adapterAttrs)
		}
	}
}

func ensureMetrics() error {
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter("forms.knot")

		dispatchCounter, metricsInitErr = meter.Int64Counter(
			"forms.dispatch.total",
			metric.WithDescription("Knot invocations partitioned by path and outcome"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		markerCounter, metricsInitErr = meter.Int64Counter(
			"forms.marker.injected_total",
			metric.WithDescription("Correlation markers injected into rendered forms"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		adapterCallCounter, metricsInitErr = meter.Int64Counter(
			"forms.adapter.calls_total",
			metric.WithDescription("Adapter invocations partitioned by capability and outcome"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		adapterTimeoutCounter, metricsInitErr = meter.Int64Counter(
			"forms.adapter.timeout_total",
			metric.WithDescription("Adapter invocations that exceeded their timeout"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		dispatchLatencyHistogram, metricsInitErr = meter.Float64Histogram(
			"forms.dispatch.duration_ms",
			metric.WithDescription("Observed knot invocation latency"),
			metric.WithUnit("ms"),
		)
	})

	return metricsInitErr
}

// RecordOutcome attaches the dispatch decision to the provided span as an event.
func RecordOutcome(span trace.Span, outcome string, statusCode int, transition, code string) {
	if span == nil || !span.IsRecording() {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("forms.outcome", outcome),
		attribute.Int("forms.status_code", statusCode),
	}
	if transition != "" {
		attrs = append(attrs, attribute.String("forms.transition", transition))
	}
	if code != "" {
		attrs = append(attrs, attribute.String("forms.error_code", code))
	}

	span.AddEvent("forms.outcome", trace.WithAttributes(attrs...))
}
