package knot

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel/trace"

	"github.com/polisai/forms-knot/pkg/domain"
	"github.com/polisai/forms-knot/pkg/marker"
	"github.com/polisai/forms-knot/pkg/wire"
)

// Routes served by Handler.
const (
	ProcessPath = "/v1/knot/process"
	HealthPath  = "/healthz"
	MetricsPath = "/metrics"
)

// DefaultMaxBodyBytes bounds the inbound page call.
const DefaultMaxBodyBytes = 8 << 20

// HandlerConfig holds configuration for creating a Handler.
type HandlerConfig struct {
	Knot         *Knot
	Logger       *slog.Logger
	Metrics      *Metrics
	MaxBodyBytes int64
}

// Handler serves the knot over HTTP.
type Handler struct {
	knot     *Knot
	logger   *slog.Logger
	metrics  *Metrics
	maxBytes int64
	mux      *http.ServeMux
}

// NewHandler constructs the HTTP transport for k.
func NewHandler(cfg HandlerConfig) *Handler {
	if cfg.Knot == nil {
		panic("knot: knot is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxBytes := cfg.MaxBodyBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBodyBytes
	}

	h := &Handler{
		knot:     cfg.Knot,
		logger:   logger,
		metrics:  cfg.Metrics,
		maxBytes: maxBytes,
		mux:      http.NewServeMux(),
	}
	h.mux.HandleFunc("POST "+ProcessPath, h.handleProcess)
	h.mux.HandleFunc("GET "+HealthPath, h.handleHealth)
	if h.metrics != nil {
		h.mux.Handle("GET "+MetricsPath, h.metrics.Handler())
	}
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.metrics != nil {
		h.metrics.Middleware(h.mux).ServeHTTP(w, r)
		return
	}
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) handleProcess(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBytes))
	if err != nil {
		status := http.StatusBadRequest
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		h.writeErrorResponse(ctx, w, status, domain.CodeInvalidPageRequest, "failed to read page request")
		return
	}

	req, err := wire.DecodePageRequest(body)
	if err != nil {
		h.logger.Info("rejected page request", "error", err)
		h.writeErrorResponse(ctx, w, http.StatusBadRequest, domain.ErrorCode(err), err.Error())
		return
	}
	req.Fragments = withMarkupCapabilities(req.Fragments)

	outcome := h.knot.Process(ctx, req)
	resp := BuildResponse(outcome)
	if h.metrics != nil {
		h.metrics.RecordOutcome(string(outcome.Kind), resp.StatusCode)
	}

	payload, err := wire.EncodePageResponse(resp)
	if err != nil {
		h.logger.Error("failed to encode page response", "error", err)
		h.writeErrorResponse(ctx, w, http.StatusInternalServerError, domain.CodeInternal, "failed to encode page response")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(payload); err != nil {
		h.logger.Debug("failed to write page response", "error", err)
	}
}

type healthResponse struct {
	Status   string   `json:"status"`
	Adapters []string `json:"adapters"`
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	payload, err := wire.Marshal(healthResponse{
		Status:   "ok",
		Adapters: h.knot.Registry().Capabilities(),
	})
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(payload)
}

// writeErrorResponse writes a JSON error response carrying the trace ID.
func (h *Handler) writeErrorResponse(ctx context.Context, w http.ResponseWriter, statusCode int, code, message string) {
	var traceID string
	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
		traceID = sc.TraceID().String()
	}

	payload, err := wire.Marshal(domain.ErrorResponse{Code: code, Message: message, TraceID: traceID})
	if err != nil {
		h.logger.Error("failed to encode error response", "error", err)
		w.WriteHeader(statusCode)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write(payload)
}

// withMarkupCapabilities fills in capabilities for snippets that arrive
// without any, reading them from the markup's data-knotx-knots attribute.
func withMarkupCapabilities(fragments []domain.Fragment) []domain.Fragment {
	for i, f := range fragments {
		if f.IsSnippet() && len(f.Capabilities) == 0 {
			fragments[i] = marker.SnippetFromMarkup(f.Content)
		}
	}
	return fragments
}
