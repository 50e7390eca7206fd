package knot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/polisai/forms-knot/internal/governance"
	"github.com/polisai/forms-knot/pkg/adapter"
	"github.com/polisai/forms-knot/pkg/domain"
	"github.com/polisai/forms-knot/pkg/marker"
	"github.com/polisai/forms-knot/pkg/telemetry"
)

// Defaults for Options.
const (
	DefaultFormsCapability   = "form"
	DefaultAdapterPrefix     = "form-"
	DefaultTransition        = "next"
	SignalRedirectStatusCode = http.StatusMovedPermanently
)

// Options tune how fragments are classified.
type Options struct {
	// FormsCapability marks a snippet as a form.
	FormsCapability string
	// AdapterPrefix identifies forms-processing capabilities; the full
	// identifier is the registry key.
	AdapterPrefix string
	// DefaultTransition is used for read requests and signal-less successes.
	DefaultTransition string
	// ValidateOnRead fails a read request whose form declares an adapter
	// capability missing from the registry.
	ValidateOnRead bool
}

// DefaultOptions returns the stock classification.
func DefaultOptions() Options {
	return Options{
		FormsCapability:   DefaultFormsCapability,
		AdapterPrefix:     DefaultAdapterPrefix,
		DefaultTransition: DefaultTransition,
	}
}

func (o Options) withDefaults() Options {
	if strings.TrimSpace(o.FormsCapability) == "" {
		o.FormsCapability = DefaultFormsCapability
	}
	if strings.TrimSpace(o.AdapterPrefix) == "" {
		o.AdapterPrefix = DefaultAdapterPrefix
	}
	if strings.TrimSpace(o.DefaultTransition) == "" {
		o.DefaultTransition = DefaultTransition
	}
	return o
}

// Config holds the collaborators of a Knot.
type Config struct {
	Codec    *marker.Codec
	Registry *adapter.Registry
	Invoker  adapter.Invoker
	Options  Options
	Logger   *slog.Logger
	// Redactions overlays the default span attribute redaction policy,
	// keyed by attribute name.
	Redactions map[string]string
	// TracerProvider defaults to the global provider.
	TracerProvider trace.TracerProvider
}

// Knot is the dispatch controller.
type Knot struct {
	codec    *marker.Codec
	registry *adapter.Registry
	invoker  adapter.Invoker
	opts       Options
	logger     *slog.Logger
	tracer     trace.Tracer
	redactions map[string]string
}

// New builds a Knot. A nil codec uses the default marker field name; a nil
// registry is treated as empty.
func New(cfg Config) (*Knot, error) {
	if cfg.Invoker == nil {
		return nil, errors.New("knot: adapter invoker is required")
	}
	codec := cfg.Codec
	if codec == nil {
		codec = marker.NewCodec()
	}
	registry := cfg.Registry
	if registry == nil {
		registry, _ = adapter.NewRegistry()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tp := cfg.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &Knot{
		codec:      codec,
		registry:   registry,
		invoker:    cfg.Invoker,
		opts:       cfg.Options.withDefaults(),
		logger:     logger,
		tracer:     tp.Tracer("forms.knot"),
		redactions: cfg.Redactions,
	}, nil
}

// Registry returns the adapter registry the knot resolves against.
func (k *Knot) Registry() *adapter.Registry {
	return k.registry
}

// Options returns the effective options.
func (k *Knot) Options() Options {
	return k.opts
}

// Handle runs Process and maps its outcome through BuildResponse.
func (k *Knot) Handle(ctx context.Context, req domain.PageRequest) domain.PageResponse {
	return BuildResponse(k.Process(ctx, req))
}

// dispatch accumulates what one invocation did, for spans, logs and metrics.
type dispatch struct {
	path          string
	markers       int
	capability    string
	adapterCalled bool
}

// Process runs the read path for non-submitting methods and the submit path
// otherwise. At most one adapter call is made.
func (k *Knot) Process(ctx context.Context, req domain.PageRequest) domain.DispatchOutcome {
	start := time.Now()
	d := &dispatch{path: "read"}
	if req.IsSubmit() {
		d.path = "submit"
	}

	ctx, span := k.tracer.Start(ctx, "knot.process", trace.WithAttributes(
		attribute.String("http.method", req.Method),
		attribute.String("http.route", req.Path),
		attribute.String("forms.path", d.path),
		attribute.Int("forms.fragments", len(req.Fragments)),
	))
	defer span.End()

	var outcome domain.DispatchOutcome
	if d.path == "submit" {
		outcome = k.submit(ctx, span, req, d)
	} else {
		outcome = k.read(req, d)
	}

	code := domain.ErrorCode(outcome.Err)
	if outcome.Err != nil {
		span.RecordError(outcome.Err)
		span.SetStatus(codes.Error, outcome.Err.Error())
		k.logger.Warn("forms dispatch failed",
			"method", req.Method,
			"path", req.Path,
			"capability", d.capability,
			"status", outcome.StatusCode,
			"code", code,
			"error", outcome.Err,
		)
	} else {
		k.logger.Debug("forms dispatch completed",
			"method", req.Method,
			"path", req.Path,
			"outcome", outcome.Kind,
			"capability", d.capability,
			"transition", outcome.Transition,
			"markers", d.markers,
		)
	}

	status := outcome.StatusCode
	if outcome.Kind == domain.OutcomeContinue {
		status = http.StatusOK
	}
	telemetry.RecordOutcome(span, string(outcome.Kind), status, outcome.Transition, code)
	telemetry.RecordDispatch(ctx, telemetry.DispatchMetrics{
		Path:          d.path,
		Outcome:       string(outcome.Kind),
		Code:          code,
		Capability:    d.capability,
		StatusCode:    status,
		Transition:    outcome.Transition,
		Markers:       d.markers,
		AdapterCalled: d.adapterCalled,
		Duration:      time.Since(start),
	})
	return outcome
}

// read marks every form fragment. A fragment whose markup has no form passes
// through unmodified.
func (k *Knot) read(req domain.PageRequest, d *dispatch) domain.DispatchOutcome {
	out := make([]domain.Fragment, len(req.Fragments))
	for i, f := range req.Fragments {
		if !k.isForm(f) {
			out[i] = f.Clone()
			continue
		}

		if k.opts.ValidateOnRead {
			for _, c := range k.adapterCapabilities(f) {
				if !k.registry.Has(c) {
					d.capability = c
					return domain.Failure(http.StatusInternalServerError, domain.NewDispatchError(
						domain.ErrAdapterNotConfigured,
						fmt.Sprintf("fragment %d declares unregistered adapter %q", i, c),
						map[string]any{"fragment_index": i, "capability": c},
					))
				}
			}
		}

		content, _, err := k.codec.Inject(f.Content)
		if err != nil {
			k.logger.Warn("form fragment left unmarked",
				"fragment_index", i,
				"error", err,
			)
			out[i] = f.Clone()
			continue
		}
		out[i] = f.WithContent(content)
		d.markers++
	}
	return domain.Continue(out, k.opts.DefaultTransition)
}

func (k *Knot) submit(ctx context.Context, span trace.Span, req domain.PageRequest, d *dispatch) domain.DispatchOutcome {
	mark, ok := k.codec.Extract(req.FormAttributes)
	if !ok {
		return fail(domain.ErrMissingCorrelationMarker,
			fmt.Sprintf("form field %q missing from submission", k.codec.FieldName()), nil)
	}
	span.SetAttributes(telemetry.RedactAttributes(k.redactions, []attribute.KeyValue{
		attribute.String("forms.marker", mark),
	})...)

	idx, matches := -1, 0
	for i, f := range req.Fragments {
		if f.IsSnippet() && k.codec.Contains(f.Content, mark) {
			if idx < 0 {
				idx = i
			}
			matches++
		}
	}
	if matches != 1 {
		return fail(domain.ErrUnknownFragmentIdentifier,
			fmt.Sprintf("correlation marker matched %d fragments", matches),
			map[string]any{"matches": matches})
	}
	submitted := req.Fragments[idx]

	capabilities := k.adapterCapabilities(submitted)
	if len(capabilities) != 1 {
		return fail(domain.ErrMissingAdapterAddress,
			fmt.Sprintf("fragment %d declares %d adapter capabilities", idx, len(capabilities)),
			map[string]any{"fragment_index": idx, "capabilities": capabilities})
	}
	d.capability = capabilities[0]
	span.SetAttributes(attribute.String("forms.capability", d.capability))

	endpoint, err := k.registry.Resolve(d.capability)
	if err != nil {
		return domain.Failure(http.StatusInternalServerError, err)
	}

	d.adapterCalled = true
	resp, err := k.invoker.Invoke(ctx, endpoint, domain.AdapterRequest{
		FormAttributes: domain.CloneValues(req.FormAttributes),
		Request: domain.RequestMetadata{
			Method:  req.Method,
			Path:    req.Path,
			Headers: domain.CloneValues(req.Headers),
			Params:  domain.CloneValues(req.Params),
		},
	})
	if err != nil {
		return domain.Failure(http.StatusInternalServerError, classifyInvokeError(err))
	}
	span.SetAttributes(
		attribute.Int("forms.adapter.status_code", resp.StatusCode),
		attribute.String("forms.adapter.signal", resp.Signal),
	)

	return k.interpret(req.Fragments, idx, resp)
}

// interpret applies the adapter verdict. Order: 3xx status, signal mapped to a
// redirect by the form markup, signal, signal-less 2xx, everything else.
// A signal mapped to marker.SelfTarget stays on the page like an unmapped one.
func (k *Knot) interpret(fragments []domain.Fragment, idx int, resp domain.AdapterResponse) domain.DispatchOutcome {
	submitted := fragments[idx]

	if resp.IsRedirect() {
		location := resp.Location()
		if location == "" {
			return fail(domain.ErrMissingRedirectLocation,
				fmt.Sprintf("adapter answered %d without a Location header", resp.StatusCode), nil)
		}
		return domain.Redirect(resp.StatusCode, location)
	}

	if resp.Signal != "" {
		if location, ok := marker.SignalLocation(submitted.Content, resp.Signal); ok && !strings.EqualFold(location, marker.SelfTarget) {
			return domain.Redirect(SignalRedirectStatusCode, location)
		}
		return domain.Continue(replaceFragment(fragments, idx, string(resp.Body)), resp.Signal)
	}

	if resp.IsSuccess() {
		content := submitted.Content
		if len(resp.Body) > 0 {
			content = string(resp.Body)
		}
		return domain.Continue(replaceFragment(fragments, idx, content), k.opts.DefaultTransition)
	}

	status := resp.StatusCode
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return domain.Failure(status, &domain.DispatchError{
		Err:     fmt.Errorf("adapter rejected submission with status %d", resp.StatusCode),
		Code:    domain.CodeAdapterRejected,
		Details: map[string]any{"status": resp.StatusCode},
	})
}

func (k *Knot) isForm(f domain.Fragment) bool {
	if !f.IsSnippet() {
		return false
	}
	if f.HasCapability(k.opts.FormsCapability) {
		return true
	}
	return len(k.adapterCapabilities(f)) > 0
}

func (k *Knot) adapterCapabilities(f domain.Fragment) []string {
	var out []string
	for _, c := range marker.DeclaredCapabilities(f) {
		if c != k.opts.FormsCapability && strings.HasPrefix(c, k.opts.AdapterPrefix) && len(c) > len(k.opts.AdapterPrefix) {
			out = append(out, c)
		}
	}
	return out
}

func replaceFragment(fragments []domain.Fragment, idx int, content string) []domain.Fragment {
	out := domain.CloneFragments(fragments)
	out[idx] = fragments[idx].WithContent(content)
	return out
}

func fail(sentinel error, message string, details map[string]any) domain.DispatchOutcome {
	return domain.Failure(http.StatusInternalServerError, domain.NewDispatchError(sentinel, message, details))
}

// classifyInvokeError keeps adapter sentinels and maps anything else an
// invoker returns onto them.
func classifyInvokeError(err error) error {
	if errors.Is(err, domain.ErrAdapterTimeout) || errors.Is(err, domain.ErrAdapterUnavailable) {
		return err
	}
	if governance.IsTimeout(err) {
		return fmt.Errorf("%w: %w", domain.ErrAdapterTimeout, err)
	}
	return fmt.Errorf("%w: %w", domain.ErrAdapterUnavailable, err)
}
