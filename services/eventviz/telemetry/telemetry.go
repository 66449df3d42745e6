// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry installs the OpenTelemetry tracer and meter providers
// used by every eventviz package.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"google.golang.org/grpc"
)

// Exporter names accepted in Options.
const (
	ExporterNone       = "none"
	ExporterStdout     = "stdout"
	ExporterOTLP       = "otlp"
	ExporterPrometheus = "prometheus"
)

// ErrUnknownExporter is returned for an unsupported exporter name.
var ErrUnknownExporter = errors.New("unknown exporter")

// ShutdownFunc flushes and stops the installed providers.
type ShutdownFunc func(ctx context.Context) error

// Options selects the exporters.
type Options struct {
	// ServiceName is reported as service.name. Default: "eventviz".
	ServiceName string

	// TraceExporter is none, stdout or otlp. Default: none.
	TraceExporter string

	// OTLPEndpoint is the collector host:port for the otlp exporter. Empty
	// defers to OTEL_EXPORTER_OTLP_ENDPOINT.
	OTLPEndpoint string

	// OTLPInsecure disables TLS towards the collector.
	OTLPInsecure bool

	// MetricExporter is none, stdout or prometheus. Default: prometheus.
	MetricExporter string

	// Registerer receives the prometheus exporter's collector. Default:
	// prometheus.DefaultRegisterer, which /metrics serves.
	Registerer prometheus.Registerer

	// Writer receives stdout exporter output. Default: os.Stderr.
	Writer io.Writer
}

// Setup installs the global tracer provider, meter provider and W3C
// propagator.
//
// Description:
//
//	Exporters are chosen by name. With TraceExporter none spans are still
//	created by the SDK but never exported, so span context propagates.
//	The returned ShutdownFunc must be called before exit to flush.
//
// Outputs:
//   - ShutdownFunc: Stops both providers. Never nil on success.
//   - error: ErrUnknownExporter or an exporter construction error.
func Setup(ctx context.Context, opts Options) (ShutdownFunc, error) {
	if opts.ServiceName == "" {
		opts.ServiceName = "eventviz"
	}
	if opts.TraceExporter == "" {
		opts.TraceExporter = ExporterNone
	}
	if opts.MetricExporter == "" {
		opts.MetricExporter = ExporterPrometheus
	}
	if opts.Writer == nil {
		opts.Writer = os.Stderr
	}
	if opts.Registerer == nil {
		opts.Registerer = prometheus.DefaultRegisterer
	}

	res := resource.NewSchemaless(attribute.String("service.name", opts.ServiceName))

	tp, err := newTracerProvider(ctx, opts, res)
	if err != nil {
		return nil, err
	}
	mp, err := newMeterProvider(opts, res)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, err
	}

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}, nil
}

func newTracerProvider(ctx context.Context, opts Options, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	providerOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}

	switch opts.TraceExporter {
	case ExporterNone:
	case ExporterStdout:
		exp, err := stdouttrace.New(stdouttrace.WithWriter(opts.Writer))
		if err != nil {
			return nil, fmt.Errorf("creating stdout trace exporter: %w", err)
		}
		providerOpts = append(providerOpts, sdktrace.WithBatcher(exp))
	case ExporterOTLP:
		grpcOpts := []otlptracegrpc.Option{
			otlptracegrpc.WithDialOption(grpc.WithUserAgent(opts.ServiceName)),
		}
		if opts.OTLPEndpoint != "" {
			grpcOpts = append(grpcOpts, otlptracegrpc.WithEndpoint(opts.OTLPEndpoint))
		}
		if opts.OTLPInsecure {
			grpcOpts = append(grpcOpts, otlptracegrpc.WithInsecure())
		}
		exp, err := otlptracegrpc.New(ctx, grpcOpts...)
		if err != nil {
			return nil, fmt.Errorf("creating otlp trace exporter: %w", err)
		}
		providerOpts = append(providerOpts, sdktrace.WithBatcher(exp))
	default:
		return nil, fmt.Errorf("%w: trace exporter %q", ErrUnknownExporter, opts.TraceExporter)
	}

	return sdktrace.NewTracerProvider(providerOpts...), nil
}

func newMeterProvider(opts Options, res *resource.Resource) (*sdkmetric.MeterProvider, error) {
	providerOpts := []sdkmetric.Option{sdkmetric.WithResource(res)}

	switch opts.MetricExporter {
	case ExporterNone:
	case ExporterPrometheus:
		exp, err := otelprom.New(otelprom.WithRegisterer(opts.Registerer))
		if err != nil {
			return nil, fmt.Errorf("creating prometheus metric exporter: %w", err)
		}
		providerOpts = append(providerOpts, sdkmetric.WithReader(exp))
	case ExporterStdout:
		exp, err := stdoutmetric.New(stdoutmetric.WithWriter(opts.Writer))
		if err != nil {
			return nil, fmt.Errorf("creating stdout metric exporter: %w", err)
		}
		providerOpts = append(providerOpts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp)))
	default:
		return nil, fmt.Errorf("%w: metric exporter %q", ErrUnknownExporter, opts.MetricExporter)
	}

	return sdkmetric.NewMeterProvider(providerOpts...), nil
}
