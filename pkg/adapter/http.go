package adapter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/polisai/forms-knot/internal/governance"
	"github.com/polisai/forms-knot/pkg/domain"
	"github.com/polisai/forms-knot/pkg/wire"
)

// MaxResponseBytes caps the adapter response body read into memory.
const MaxResponseBytes = 4 << 20

// HTTPClient invokes adapters over HTTP by POSTing the JSON adapter request to
// the endpoint address.
type HTTPClient struct {
	client   *http.Client
	breakers *governance.CircuitBreakerManager
	logger   *slog.Logger
	tracer   trace.Tracer
}

// HTTPOption customises an HTTPClient.
type HTTPOption func(*HTTPClient)

// WithHTTPClient replaces the underlying client. Its transport is used as is.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(h *HTTPClient) {
		if c != nil {
			h.client = c
		}
	}
}

// WithBreakers sets the circuit breakers consulted per endpoint name.
func WithBreakers(m *governance.CircuitBreakerManager) HTTPOption {
	return func(h *HTTPClient) {
		h.breakers = m
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) HTTPOption {
	return func(h *HTTPClient) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewHTTPClient creates an adapter client with an instrumented transport.
func NewHTTPClient(opts ...HTTPOption) *HTTPClient {
	h := &HTTPClient{
		client: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		logger: slog.Default(),
		tracer: otel.Tracer("forms.adapter"),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.breakers == nil {
		h.breakers = governance.NewCircuitBreakerManager(governance.CircuitBreakerConfig{})
	}
	return h
}

// Invoke posts req to the endpoint within its timeout. The call is abandoned
// when ctx is cancelled.
func (h *HTTPClient) Invoke(ctx context.Context, endpoint domain.AdapterEndpoint, req domain.AdapterRequest) (domain.AdapterResponse, error) {
	ctx, span := h.tracer.Start(ctx, "adapter.invoke", trace.WithAttributes(
		attribute.String("adapter.capability", endpoint.Name),
		attribute.String("adapter.address", endpoint.Address),
	))
	defer span.End()

	payload, err := wire.EncodeAdapterRequest(req)
	if err != nil {
		return domain.AdapterResponse{}, h.fail(span, endpoint, domain.ErrAdapterUnavailable, fmt.Errorf("encode adapter request: %w", err))
	}

	callCtx, cancel := governance.WithTimeout(ctx, endpoint.Timeout)
	defer cancel()

	var resp domain.AdapterResponse
	err = h.breakers.Get(endpoint.Name).ExecuteContext(callCtx, func(ctx context.Context) error {
		var callErr error
		resp, callErr = h.post(ctx, endpoint, payload)
		return callErr
	})
	if err != nil {
		switch {
		case errors.Is(err, governance.ErrCircuitOpen):
			return domain.AdapterResponse{}, h.fail(span, endpoint, domain.ErrAdapterUnavailable, err)
		case governance.IsTimeout(err) && ctx.Err() == nil:
			return domain.AdapterResponse{}, h.fail(span, endpoint, domain.ErrAdapterTimeout, err)
		default:
			return domain.AdapterResponse{}, h.fail(span, endpoint, domain.ErrAdapterUnavailable, err)
		}
	}

	span.SetAttributes(
		attribute.Int("adapter.status_code", resp.StatusCode),
		attribute.String("adapter.signal", resp.Signal),
	)
	h.logger.Debug("adapter call completed",
		"capability", endpoint.Name,
		"adapter_address", endpoint.Address,
		"status", resp.StatusCode,
		"signal", resp.Signal,
	)
	return resp, nil
}

func (h *HTTPClient) post(ctx context.Context, endpoint domain.AdapterEndpoint, payload []byte) (domain.AdapterResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.Address, bytes.NewReader(payload))
	if err != nil {
		return domain.AdapterResponse{}, fmt.Errorf("build adapter request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	httpResp, err := h.client.Do(httpReq)
	if err != nil {
		return domain.AdapterResponse{}, err
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, MaxResponseBytes+1))
	if err != nil {
		return domain.AdapterResponse{}, fmt.Errorf("read adapter response: %w", err)
	}
	if len(body) > MaxResponseBytes {
		return domain.AdapterResponse{}, fmt.Errorf("adapter response exceeds %d bytes", MaxResponseBytes)
	}
	if httpResp.StatusCode < http.StatusOK || httpResp.StatusCode >= http.StatusMultipleChoices {
		return domain.AdapterResponse{}, fmt.Errorf("adapter endpoint answered %d", httpResp.StatusCode)
	}

	return wire.DecodeAdapterResponse(body)
}

func (h *HTTPClient) fail(span trace.Span, endpoint domain.AdapterEndpoint, sentinel, cause error) error {
	err := domain.NewDispatchError(
		fmt.Errorf("%w: %w", sentinel, cause),
		fmt.Sprintf("adapter %q: %v: %v", endpoint.Name, sentinel, cause),
		map[string]any{"capability": endpoint.Name, "address": endpoint.Address},
	)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	h.logger.Warn("adapter call failed",
		"capability", endpoint.Name,
		"adapter_address", endpoint.Address,
		"code", err.Code,
		"error", cause,
	)
	return err
}

// Stats exposes per-adapter circuit breaker state.
func (h *HTTPClient) Stats() map[string]governance.CircuitBreakerStats {
	return h.breakers.Stats()
}
