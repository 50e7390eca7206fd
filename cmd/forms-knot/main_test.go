package main

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polisai/forms-knot/internal/tls/tlstest"
	"github.com/polisai/forms-knot/pkg/config"
	"github.com/polisai/forms-knot/pkg/domain"
	"github.com/polisai/forms-knot/pkg/knot"
	"github.com/polisai/forms-knot/pkg/logging"
	"github.com/polisai/forms-knot/pkg/telemetry"
	"github.com/polisai/forms-knot/pkg/wire"
)

var hiddenMarker = regexp.MustCompile(`<input name="_snippet" type="hidden" value="([^"]*)">`)

func TestParseCLIConfig(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected *CLIConfig
	}{
		{
			name:     "default values",
			args:     []string{},
			expected: &CLIConfig{},
		},
		{
			name: "all flags",
			args: []string{"--config", "knot.yaml", "--listen", ":9999", "--log-level", "debug", "--pretty"},
			expected: &CLIConfig{
				Config:   "knot.yaml",
				Listen:   ":9999",
				LogLevel: "debug",
				Pretty:   true,
			},
		},
		{
			name:     "short flags",
			args:     []string{"-c", "other.yaml", "-l", ":1"},
			expected: &CLIConfig{Config: "other.yaml", Listen: ":1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := newRootCmd()
			require.NoError(t, cmd.ParseFlags(tt.args))

			got, err := parseCLIConfig(cmd)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestWithCLIOverrides(t *testing.T) {
	base := config.Default()
	base.Server.TLS = &config.TLSConfig{MinVersion: "1.2"}

	cfg, err := withCLIOverrides(base, &CLIConfig{Listen: ":7000", LogLevel: "WARN", Pretty: true})
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.Server.Address)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Pretty)

	// The provider's value stays as loaded.
	assert.Equal(t, config.DefaultAddress, base.Server.Address)
	assert.Equal(t, config.DefaultLogLevel, base.Logging.Level)
	assert.False(t, base.Logging.Pretty)
	assert.NotSame(t, base.Server.TLS, cfg.Server.TLS)

	_, err = withCLIOverrides(config.Default(), &CLIConfig{LogLevel: "loud"})
	assert.Error(t, err)
}

func TestWithCLIOverridesLeavesProviderUntouched(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  address: \":9100\"\nlogging:\n  level: error\n"), 0o600))
	provider, err := config.NewFileConfigProvider(path, config.WithProviderLogger(logging.Discard()))
	require.NoError(t, err)
	defer func() { _ = provider.Close() }()

	cfg, err := withCLIOverrides(provider.Current(), &CLIConfig{Listen: ":7000", LogLevel: "debug"})
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.Server.Address)

	assert.Equal(t, ":9100", provider.Current().Server.Address)
	assert.Equal(t, "error", provider.Current().Logging.Level)
}

func TestTelemetryConfig(t *testing.T) {
	got := telemetryConfig(config.TelemetryConfig{
		ServiceName:  "forms",
		OTLPEndpoint: "collector:4317",
		Environment:  "staging",
		Insecure:     true,
		Headers:      map[string]string{"api-key": "secret"},
		ResourceTags: map[string]string{"team": "web"},
		Redact:       map[string]string{"forms.marker": "drop"},
	})
	assert.Equal(t, telemetry.Config{
		ServiceName:  "forms",
		Endpoint:     "collector:4317",
		Environment:  "staging",
		Insecure:     true,
		Headers:      map[string]string{"api-key": "secret"},
		ResourceTags: map[string]string{"team": "web"},
	}, got)
}

func TestBuildKnotRoutesSubmissionToConfiguredAdapter(t *testing.T) {
	var got domain.AdapterRequest
	adapterSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		req, err := wire.DecodeAdapterRequest(raw)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		got = req
		body, _ := wire.EncodeAdapterResponse(domain.AdapterResponse{
			StatusCode: http.StatusOK,
			Body:       []byte("<p>subscribed</p>"),
			Signal:     "done",
		})
		_, _ = w.Write(body)
	}))
	defer adapterSrv.Close()

	cfg := config.Default()
	cfg.Forms.HiddenField = "_snippet"
	cfg.Adapters = []config.AdapterConfig{{Capability: "form-subscribe", Address: adapterSrv.URL}}
	require.NoError(t, cfg.Validate())

	k, err := buildKnot(cfg, logging.Discard())
	require.NoError(t, err)
	assert.Equal(t, []string{"form-subscribe"}, k.Registry().Capabilities())

	srv := httptest.NewServer(newRootHandler(k, knot.NewMetrics(), logging.Discard()))
	defer srv.Close()

	read := processPage(t, srv.URL, wire.PageRequest{
		Method: "GET",
		Fragments: []wire.Fragment{
			{Type: "snippet", Content: `<form method="post"><input name="email"></form>`, Capabilities: []string{"form", "form-subscribe"}},
		},
	})
	require.Len(t, read.Fragments, 1)
	m := hiddenMarker.FindStringSubmatch(read.Fragments[0].Content)
	require.Len(t, m, 2)

	done := processPage(t, srv.URL, wire.PageRequest{
		Method:         "POST",
		FormAttributes: map[string][]string{"_snippet": {m[1]}, "email": {"a@b.c"}},
		Fragments:      read.Fragments,
	})
	assert.Equal(t, http.StatusOK, done.StatusCode)
	assert.Equal(t, "done", done.Transition)
	require.Len(t, done.Fragments, 1)
	assert.Equal(t, "<p>subscribed</p>", done.Fragments[0].Content)
	assert.Equal(t, []string{"a@b.c"}, got.FormAttributes["email"])
}

func TestBuildKnotRejectsDuplicateEndpoints(t *testing.T) {
	cfg := config.Default()
	cfg.Adapters = []config.AdapterConfig{
		{Capability: "form-a", Address: "http://a:1", TimeoutMS: 10},
		{Capability: "form-a", Address: "http://b:1", TimeoutMS: 10},
	}
	_, err := buildKnot(cfg, logging.Discard())
	require.Error(t, err)
}

func TestApplyReload(t *testing.T) {
	running := config.Default()
	running.Adapters = []config.AdapterConfig{{Capability: "form-a", Address: "http://a:1"}}
	require.NoError(t, running.Validate())

	levelVar := new(slog.LevelVar)
	metrics := knot.NewMetrics()

	quieter := config.Default()
	quieter.Adapters = []config.AdapterConfig{{Capability: "form-a", Address: "http://a:1"}}
	quieter.Logging.Level = "error"
	require.NoError(t, quieter.Validate())

	applyReload(running, quieter, levelVar, metrics, logging.Discard())
	assert.Equal(t, slog.LevelError, levelVar.Level())

	moved := config.Default()
	moved.Adapters = []config.AdapterConfig{{Capability: "form-a", Address: "http://elsewhere:1"}}
	require.NoError(t, moved.Validate())

	applyReload(running, moved, levelVar, metrics, logging.Discard())
	assert.Equal(t, slog.LevelInfo, levelVar.Level())

	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), `forms_knot_config_reloads_total{status="applied"} 1`)
	assert.Contains(t, rec.Body.String(), `forms_knot_config_reloads_total{status="restart_required"} 1`)
}

func TestNewServer(t *testing.T) {
	server, stop, err := newServer(t.Context(), config.Default().Server, http.NotFoundHandler(), logging.Discard())
	require.NoError(t, err)
	stop()
	assert.Equal(t, config.DefaultAddress, server.Addr)
	assert.Nil(t, server.TLSConfig)

	_, _, err = newServer(t.Context(), config.ServerConfig{
		Address: ":0",
		TLS:     &config.TLSConfig{Enabled: true, CertFile: "/missing/cert.pem", KeyFile: "/missing/key.pem"},
	}, http.NotFoundHandler(), logging.Discard())
	assert.Error(t, err)

	certFile, keyFile := tlstest.WriteKeyPair(t, t.TempDir(), 1)
	server, stop, err = newServer(t.Context(), config.ServerConfig{
		Address: ":0",
		TLS:     &config.TLSConfig{Enabled: true, CertFile: certFile, KeyFile: keyFile, MinVersion: "1.3"},
	}, http.NotFoundHandler(), logging.Discard())
	require.NoError(t, err)
	defer stop()
	require.NotNil(t, server.TLSConfig)
	assert.NotNil(t, server.TLSConfig.GetCertificate)
}

func processPage(t *testing.T, base string, req wire.PageRequest) wire.PageResponse {
	t.Helper()
	body, err := wire.Marshal(req)
	require.NoError(t, err)
	resp, err := http.Post(base+knot.ProcessPath, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))

	var page wire.PageResponse
	require.NoError(t, wire.Unmarshal(raw, &page))
	return page
}
