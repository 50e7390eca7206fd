package main

import (
	"fmt"
	"html"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"

	"github.com/polisai/forms-knot/pkg/domain"
	"github.com/polisai/forms-knot/pkg/wire"
)

const maxRequestBytes = 1 << 20

// AdapterOptions configures the verdict the example adapter returns.
type AdapterOptions struct {
	Signal   string
	Redirect string
	// HiddenField is left out of the echoed field list.
	HiddenField string
}

// ExampleAdapter speaks the adapter wire protocol.
type ExampleAdapter struct {
	opts   AdapterOptions
	logger *slog.Logger
}

// NewExampleAdapter returns the adapter handler.
func NewExampleAdapter(opts AdapterOptions, logger *slog.Logger) *ExampleAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.HiddenField == "" {
		opts.HiddenField = "snippet-identifier"
	}
	return &ExampleAdapter{opts: opts, logger: logger}
}

func (a *ExampleAdapter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err != nil {
		http.Error(w, "failed to read request", http.StatusBadRequest)
		return
	}
	req, err := wire.DecodeAdapterRequest(raw)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	resp := a.Handle(req)
	a.logger.Info("submission handled",
		"path", req.Request.Path,
		"status_code", resp.StatusCode,
		"signal", resp.Signal,
	)

	body, err := wire.EncodeAdapterResponse(resp)
	if err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}

// Handle computes the verdict for one submission.
func (a *ExampleAdapter) Handle(req domain.AdapterRequest) domain.AdapterResponse {
	if a.opts.Redirect != "" {
		return domain.AdapterResponse{
			StatusCode: http.StatusSeeOther,
			Headers:    map[string][]string{"Location": {a.opts.Redirect}},
		}
	}

	return domain.AdapterResponse{
		StatusCode: http.StatusOK,
		Body:       []byte(a.render(req.FormAttributes)),
		Signal:     a.opts.Signal,
	}
}

func (a *ExampleAdapter) render(fields map[string][]string) string {
	names := make([]string, 0, len(fields))
	for name := range fields {
		if name == a.opts.HiddenField {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(`<div class="form-result"><p>Thank you!</p><ul>`)
	for _, name := range names {
		fmt.Fprintf(&b, "<li>%s: %s</li>", html.EscapeString(name), html.EscapeString(strings.Join(fields[name], ", ")))
	}
	b.WriteString("</ul></div>")
	return b.String()
}
