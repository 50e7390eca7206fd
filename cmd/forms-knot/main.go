// Package main is the entry point for the forms-knot binary.
// It serves the forms knot over HTTP for a page-assembly pipeline.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/polisai/forms-knot/internal/governance"
	knottls "github.com/polisai/forms-knot/internal/tls"
	"github.com/polisai/forms-knot/pkg/adapter"
	"github.com/polisai/forms-knot/pkg/config"
	"github.com/polisai/forms-knot/pkg/knot"
	"github.com/polisai/forms-knot/pkg/logging"
	"github.com/polisai/forms-knot/pkg/marker"
	"github.com/polisai/forms-knot/pkg/telemetry"
)

const shutdownTimeout = 10 * time.Second

// CLIConfig holds the parsed CLI configuration
type CLIConfig struct {
	Config   string
	Listen   string
	LogLevel string
	Pretty   bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd creates the root command for forms-knot
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "forms-knot",
		Short: "Forms processing stage for the page assembly pipeline",
		Long: `Marks rendered forms so their submissions can be routed back, and on
submission forwards the form to the adapter named by its capability.

Example:
  forms-knot --config forms-knot.yaml --listen :8092`,
		SilenceUsage: true,
		RunE:         runKnot,
	}

	rootCmd.Flags().StringP("config", "c", "", "Path to configuration file (YAML)")
	rootCmd.Flags().StringP("listen", "l", "", "Address to listen on (overrides config)")
	rootCmd.Flags().String("log-level", "", "Log level (debug, info, warn, error), overrides config")
	rootCmd.Flags().Bool("pretty", false, "Enable text console logging")

	return rootCmd
}

// parseCLIConfig parses command line flags.
func parseCLIConfig(cmd *cobra.Command) (*CLIConfig, error) {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, fmt.Errorf("failed to get config flag: %w", err)
	}
	listen, err := cmd.Flags().GetString("listen")
	if err != nil {
		return nil, fmt.Errorf("failed to get listen flag: %w", err)
	}
	logLevel, err := cmd.Flags().GetString("log-level")
	if err != nil {
		return nil, fmt.Errorf("failed to get log-level flag: %w", err)
	}
	pretty, err := cmd.Flags().GetBool("pretty")
	if err != nil {
		return nil, fmt.Errorf("failed to get pretty flag: %w", err)
	}
	return &CLIConfig{Config: configPath, Listen: listen, LogLevel: logLevel, Pretty: pretty}, nil
}

// withCLIOverrides returns a copy of base with flags winning over file and
// environment values. base is left untouched.
func withCLIOverrides(base *config.Config, cli *CLIConfig) (*config.Config, error) {
	cfg := base.Clone()
	if cli.Listen != "" {
		cfg.Server.Address = cli.Listen
	}
	if cli.LogLevel != "" {
		cfg.Logging.Level = cli.LogLevel
	}
	if cli.Pretty {
		cfg.Logging.Pretty = true
	}
	if err := cfg.Logging.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func telemetryConfig(cfg config.TelemetryConfig) telemetry.Config {
	return telemetry.Config{
		ServiceName:  cfg.ServiceName,
		Endpoint:     cfg.OTLPEndpoint,
		Environment:  cfg.Environment,
		Insecure:     cfg.Insecure,
		Headers:      cfg.Headers,
		ResourceTags: cfg.ResourceTags,
	}
}

// runKnot is the main entry point for the knot command
func runKnot(cmd *cobra.Command, _ []string) error {
	cli, err := parseCLIConfig(cmd)
	if err != nil {
		return err
	}

	var provider *config.FileConfigProvider
	var base *config.Config
	if cli.Config != "" {
		provider, err = config.NewFileConfigProvider(cli.Config)
		if err != nil {
			return err
		}
		defer func() { _ = provider.Close() }()
		base = provider.Current()
	} else {
		base, err = config.Load("")
		if err != nil {
			return err
		}
	}
	cfg, err := withCLIOverrides(base, cli)
	if err != nil {
		return err
	}

	levelVar := new(slog.LevelVar)
	logger := logging.NewLogger(logging.Config{
		Level:    cfg.Logging.Level,
		Pretty:   cfg.Logging.Pretty,
		LevelVar: levelVar,
	})
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.SetupProvider(ctx, telemetryConfig(cfg.Telemetry))
	if err != nil {
		return fmt.Errorf("telemetry setup: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	metrics := knot.NewMetrics()
	k, err := buildKnot(cfg, logger)
	if err != nil {
		return err
	}

	server, stopTLS, err := newServer(ctx, cfg.Server, newRootHandler(k, metrics, logger), logger)
	if err != nil {
		return err
	}
	defer stopTLS()

	if provider != nil {
		go watchConfig(ctx, provider.Subscribe(), cli, cfg, levelVar, metrics, logger)
	}

	logger.Info("Starting forms-knot",
		"config", cli.Config,
		"adapters", strings.Join(k.Registry().Capabilities(), ","),
		"hidden_field", cfg.Forms.HiddenField,
	)
	return serve(ctx, server, logger)
}

// buildKnot wires the registry, adapter client and marker codec.
func buildKnot(cfg *config.Config, logger *slog.Logger) (*knot.Knot, error) {
	registry, err := adapter.NewRegistry(cfg.Endpoints()...)
	if err != nil {
		return nil, fmt.Errorf("adapter registry: %w", err)
	}

	breakers := governance.NewCircuitBreakerManager(governance.DefaultCircuitBreakerConfig())
	for _, a := range cfg.Adapters {
		breakers.Configure(a.Capability, a.Breaker())
	}
	breakers.OnStateChange(func(name string, from, to governance.CircuitBreakerState) {
		logger.Warn("adapter circuit breaker state changed",
			"capability", name, "from", string(from), "to", string(to))
	})

	return knot.New(knot.Config{
		Codec:    marker.NewCodec(marker.WithFieldName(cfg.Forms.HiddenField)),
		Registry: registry,
		Invoker:  adapter.NewHTTPClient(adapter.WithBreakers(breakers), adapter.WithLogger(logger)),
		Options: knot.Options{
			FormsCapability:   cfg.Forms.Capability,
			AdapterPrefix:     cfg.Forms.AdapterPrefix,
			DefaultTransition: cfg.Forms.DefaultTransition,
			ValidateOnRead:    cfg.Forms.ValidateOnRead,
		},
		Logger:     logger,
		Redactions: cfg.Telemetry.Redact,
	})
}

func newRootHandler(k *knot.Knot, metrics *knot.Metrics, logger *slog.Logger) http.Handler {
	handler := knot.NewHandler(knot.HandlerConfig{
		Knot:    k,
		Logger:  logger,
		Metrics: metrics,
	})
	return otelhttp.NewHandler(handler, "forms.knot")
}

// newServer builds the HTTP server. With TLS enabled the key pair is
// reloaded from disk whenever it changes; the returned func stops that.
func newServer(ctx context.Context, cfg config.ServerConfig, handler http.Handler, logger *slog.Logger) (*http.Server, func(), error) {
	server := &http.Server{
		Addr:         cfg.Address,
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout(),
		WriteTimeout: cfg.WriteTimeout(),
		IdleTimeout:  120 * time.Second,
	}
	if cfg.TLS == nil || !cfg.TLS.Enabled {
		return server, func() {}, nil
	}

	reloader, err := knottls.NewCertificateReloader(cfg.TLS.CertFile, cfg.TLS.KeyFile, logger)
	if err != nil {
		return nil, nil, err
	}
	tlsCfg, err := knottls.ServerConfig(reloader, cfg.TLS.MinVersion)
	if err != nil {
		return nil, nil, err
	}
	if err := reloader.Watch(ctx); err != nil {
		return nil, nil, err
	}
	server.TLSConfig = tlsCfg
	return server, func() { _ = reloader.Close() }, nil
}

func serve(ctx context.Context, server *http.Server, logger *slog.Logger) error {
	listener, err := net.Listen("tcp", server.Addr)
	if err != nil {
		return fmt.Errorf("bind %s: %w", server.Addr, err)
	}
	// Log the actual resolved address (useful when addr is :0)
	logger.Info("Server listening", "addr", listener.Addr().String(), "tls", server.TLSConfig != nil)

	errCh := make(chan error, 1)
	go func() {
		if server.TLSConfig != nil {
			errCh <- server.ServeTLS(listener, "", "")
			return
		}
		errCh <- server.Serve(listener)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server failed", "error", err)
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown error", "error", err)
		return err
	}
	return nil
}

// watchConfig applies reloaded configuration. Only the log level takes
// effect live; everything else is reported as needing a restart.
func watchConfig(ctx context.Context, updates <-chan *config.Config, cli *CLIConfig, running *config.Config, levelVar *slog.LevelVar, metrics *knot.Metrics, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-updates:
			if !ok {
				return
			}
			effective, err := withCLIOverrides(next, cli)
			if err != nil {
				logger.Error("reloaded configuration rejected", "error", err)
				metrics.RecordConfigReload("rejected")
				continue
			}
			applyReload(running, effective, levelVar, metrics, logger)
		}
	}
}

func applyReload(running, next *config.Config, levelVar *slog.LevelVar, metrics *knot.Metrics, logger *slog.Logger) {
	if level, err := logging.ParseLevel(next.Logging.Level); err == nil && level != levelVar.Level() {
		levelVar.Set(level)
		logger.Info("log level changed", "level", next.Logging.Level)
	}

	if fields := running.RestartRequired(next); len(fields) > 0 {
		logger.Warn("configuration change requires restart", "fields", strings.Join(fields, ","))
		metrics.RecordConfigReload("restart_required")
		return
	}
	metrics.RecordConfigReload("applied")
}
