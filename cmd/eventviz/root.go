// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/eventviz/services/eventviz"
	"github.com/AleutianAI/eventviz/services/eventviz/config"
	"github.com/AleutianAI/eventviz/services/eventviz/telemetry"
)

// rootOptions holds the persistent flags shared by every subcommand.
type rootOptions struct {
	project        string
	logLevel       string
	logFormat      string
	traceExporter  string
	metricExporter string
	otlpEndpoint   string
	otlpInsecure   bool

	shutdown telemetry.ShutdownFunc
}

func newRootCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "eventviz",
		Short: "Visualize Laravel event, listener and job dispatches",
		Long: `eventviz reads a Laravel application's listener registry, follows every
job and event dispatched from listeners and jobs, and renders the result
as a mermaid flowchart.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.setup(cmd)
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&opts.project, "project", "p", ".", "Laravel project root")
	pf.StringVar(&opts.logLevel, "log-level", "warn", "Log level: debug, info, warn or error")
	pf.StringVar(&opts.logFormat, "log-format", "text", "Log format: text or json")
	pf.StringVar(&opts.traceExporter, "trace-exporter", telemetry.ExporterNone, "Trace exporter: none, stdout or otlp")
	pf.StringVar(&opts.metricExporter, "metric-exporter", "", "Metric exporter: none, stdout or prometheus (default prometheus for serve, none otherwise)")
	pf.StringVar(&opts.otlpEndpoint, "otlp-endpoint", "", "OTLP collector host:port")
	pf.BoolVar(&opts.otlpInsecure, "otlp-insecure", false, "Disable TLS towards the OTLP collector")

	cmd.AddCommand(
		newAnalyzeCmd(opts),
		newServeCmd(opts),
		newWatchCmd(opts),
		newImpactCmd(opts),
		newSnapshotCmd(opts),
		newExportCmd(opts),
	)
	return cmd
}

// setup installs the default logger and the telemetry providers.
func (o *rootOptions) setup(cmd *cobra.Command) error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(o.logLevel)); err != nil {
		return fmt.Errorf("invalid --log-level %q: %w", o.logLevel, err)
	}
	handlerOpts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(o.logFormat) {
	case "text":
		handler = slog.NewTextHandler(cmd.ErrOrStderr(), handlerOpts)
	case "json":
		handler = slog.NewJSONHandler(cmd.ErrOrStderr(), handlerOpts)
	default:
		return fmt.Errorf("invalid --log-format %q", o.logFormat)
	}
	slog.SetDefault(slog.New(handler))

	metrics := o.metricExporter
	if metrics == "" {
		metrics = telemetry.ExporterNone
		if cmd.Name() == "serve" {
			metrics = telemetry.ExporterPrometheus
		}
	}

	shutdown, err := telemetry.Setup(cmd.Context(), telemetry.Options{
		TraceExporter:  o.traceExporter,
		OTLPEndpoint:   o.otlpEndpoint,
		OTLPInsecure:   o.otlpInsecure,
		MetricExporter: metrics,
		Writer:         cmd.ErrOrStderr(),
	})
	if err != nil {
		return err
	}
	o.shutdown = shutdown
	return nil
}

// teardown flushes telemetry. Safe to call when setup never ran.
func (o *rootOptions) teardown(ctx context.Context) error {
	if o.shutdown == nil {
		return nil
	}
	err := o.shutdown(ctx)
	o.shutdown = nil
	return err
}

// projectRoot returns the absolute --project directory.
func (o *rootOptions) projectRoot() (string, error) {
	abs, err := filepath.Abs(o.project)
	if err != nil {
		return "", fmt.Errorf("resolving --project: %w", err)
	}
	return abs, nil
}

// loadConfig loads the project configuration.
func (o *rootOptions) loadConfig(ctx context.Context) (string, *config.Config, error) {
	root, err := o.projectRoot()
	if err != nil {
		return "", nil, err
	}
	cfg, err := config.LoadProjectConfig(ctx, root)
	if err != nil {
		return "", nil, err
	}
	return root, cfg, nil
}

// newService loads the configuration and creates the analysis service.
func (o *rootOptions) newService(ctx context.Context, opts ...eventviz.ServiceOption) (*eventviz.Service, error) {
	root, cfg, err := o.loadConfig(ctx)
	if err != nil {
		return nil, err
	}
	opts = append([]eventviz.ServiceOption{eventviz.WithServiceLogger(slog.Default())}, opts...)
	return eventviz.NewService(ctx, root, cfg, opts...)
}
