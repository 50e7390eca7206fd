// Package main is an example forms adapter. It answers the knot's adapter
// calls with a fixed verdict and is meant as a starting point for real ones.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/polisai/forms-knot/pkg/logging"
)

const (
	defaultListen   = ":9091"
	defaultSignal   = "next"
	defaultLogLevel = "info"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "forms-adapter-example",
		Short: "Example adapter for the forms knot",
		Long: `Accepts submitted forms from forms-knot and answers with a thank-you
snippet and a signal, or with a redirect when --redirect is set.

Example:
  forms-adapter-example --listen :9091 --signal success`,
		SilenceUsage: true,
		RunE:         runAdapter,
	}

	rootCmd.Flags().StringP("listen", "l", defaultListen, "Address to listen on")
	rootCmd.Flags().StringP("signal", "s", defaultSignal, "Signal returned with successful submissions")
	rootCmd.Flags().StringP("redirect", "r", "", "Answer every submission with a 303 to this location")
	rootCmd.Flags().String("log-level", defaultLogLevel, "Log level (debug, info, warn, error)")

	return rootCmd
}

func runAdapter(cmd *cobra.Command, _ []string) error {
	listen, _ := cmd.Flags().GetString("listen")
	sig, _ := cmd.Flags().GetString("signal")
	redirect, _ := cmd.Flags().GetString("redirect")
	logLevel, _ := cmd.Flags().GetString("log-level")

	logger := logging.NewLogger(logging.Config{Level: logLevel, Pretty: true})
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	handler := NewExampleAdapter(AdapterOptions{Signal: sig, Redirect: redirect}, logger)
	server := &http.Server{
		Addr:              listen,
		Handler:           otelhttp.NewHandler(handler, "forms.adapter.example"),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting forms-adapter-example", "addr", listen, "signal", sig, "redirect", redirect)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
