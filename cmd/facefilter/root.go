package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dunamismax/facefilter/internal/config"
	"github.com/dunamismax/facefilter/internal/logging"
	"github.com/dunamismax/facefilter/internal/telemetry"
	"github.com/dunamismax/facefilter/internal/workflow"
)

const version = "0.1.0"

// newRootCommand returns the command tree and a cleanup func that must run
// after execution, whether or not the command failed.
func newRootCommand() (*cobra.Command, func()) {
	a := &app{}
	var logLevel string

	root := &cobra.Command{
		Use:           "facefilter",
		Short:         "Turn a portrait into a stylised image with a generative filter",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Load()
			if logLevel != "" {
				cfg.LogLevel = logLevel
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			logger, err := logging.NewLogger(cfg.LogLevel)
			if err != nil {
				return fmt.Errorf("build logger: %w", err)
			}

			shutdown, err := telemetry.SetupTracing(cmd.Context(), telemetry.TraceConfig{
				ServiceName:    cfg.Telemetry.ServiceName,
				ServiceVersion: version,
				Exporter:       cfg.Telemetry.Exporter,
				OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
				OTLPInsecure:   cfg.Telemetry.OTLPInsecure,
			}, logger)
			if err != nil {
				return fmt.Errorf("setup tracing: %w", err)
			}

			a.cfg = cfg
			a.logger = logger
			a.metrics = workflow.NewMetrics()
			a.shutdownTracing = shutdown
			return nil
		},
	}
	root.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error); overrides LOG_LEVEL")

	root.AddCommand(
		newFiltersCommand(a),
		newRunCommand(a),
		newRunsCommand(a),
	)
	cleanup := func() {
		// the command context may already be cancelled
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		a.close(ctx)
	}
	return root, cleanup
}

func (a *app) close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && a.logger != nil {
			a.logger.Warn("close resource", zap.Error(err))
		}
	}
	a.closers = nil

	if a.metrics != nil && a.cfg.Telemetry.MetricsFile != "" {
		if err := a.metrics.WriteTextfile(a.cfg.Telemetry.MetricsFile); err != nil {
			a.logger.Warn("write metrics textfile", zap.String("path", a.cfg.Telemetry.MetricsFile), zap.Error(err))
		}
	}
	if a.shutdownTracing != nil {
		if err := a.shutdownTracing(ctx); err != nil {
			a.logger.Warn("shutdown tracing", zap.Error(err))
		}
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}
