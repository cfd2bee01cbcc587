// Package telemetry wires tracing, metrics and logging for reed.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/loqalabs/reed/internal/config"
	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.30.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const ServiceName = "reed"

// Telemetry owns the providers and the optional metrics endpoint.
type Telemetry struct {
	tracerProvider trace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	handler        http.Handler

	logger    *slog.Logger
	server    *http.Server
	listener  net.Listener
	wg        sync.WaitGroup
	shutdowns []func(context.Context) error
}

// Setup builds the providers described by cfg and installs them globally.
// Tracing is disabled unless an OTLP endpoint or a trace file is configured.
// The metrics endpoint only starts when prometheus_bind is set.
func Setup(ctx context.Context, cfg config.TelemetryConfig, version string, logger *slog.Logger) (*Telemetry, error) {
	logger = logger.With(slog.String("component", "telemetry"))
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(ServiceName),
			semconv.ServiceVersion(version),
		),
	)
	if err != nil {
		return nil, err
	}

	t := &Telemetry{logger: logger}

	if err := t.initTracer(ctx, cfg, res); err != nil {
		t.Shutdown(ctx)
		return nil, err
	}
	otel.SetTracerProvider(t.tracerProvider)

	if err := t.initMetrics(cfg, res); err != nil {
		t.Shutdown(ctx)
		return nil, err
	}
	otel.SetMeterProvider(t.meterProvider)

	if bind := strings.TrimSpace(cfg.PrometheusBind); bind != "" {
		if err := t.serve(bind); err != nil {
			t.Shutdown(ctx)
			return nil, err
		}
	}
	return t, nil
}

func (t *Telemetry) initTracer(ctx context.Context, cfg config.TelemetryConfig, res *resource.Resource) error {
	if endpoint := strings.TrimSpace(cfg.OTLPEndpoint); endpoint != "" {
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpoint)}
		if cfg.OTLPInsecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exporter, err := otlptracegrpc.New(ctx, opts...)
		if err != nil {
			return err
		}
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(res),
		)
		t.tracerProvider = tp
		t.shutdowns = append(t.shutdowns, tp.Shutdown)
		t.logger.Info("telemetry initialized", slog.String("exporter", "otlp"), slog.String("endpoint", endpoint))
		return nil
	}

	if path := strings.TrimSpace(cfg.TraceFile); path != "" {
		file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open trace file: %w", err)
		}
		exporter, err := stdouttrace.New(stdouttrace.WithWriter(file))
		if err != nil {
			file.Close()
			return err
		}
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithSyncer(exporter),
			sdktrace.WithResource(res),
		)
		t.tracerProvider = tp
		t.shutdowns = append(t.shutdowns, tp.Shutdown, func(context.Context) error { return file.Close() })
		t.logger.Info("telemetry initialized", slog.String("exporter", "stdout"), slog.String("path", path))
		return nil
	}

	t.tracerProvider = tracenoop.NewTracerProvider()
	return nil
}

func (t *Telemetry) initMetrics(cfg config.TelemetryConfig, res *resource.Resource) error {
	if strings.TrimSpace(cfg.PrometheusBind) == "" {
		t.meterProvider = sdkmetric.NewMeterProvider(sdkmetric.WithResource(res))
		t.shutdowns = append(t.shutdowns, t.meterProvider.Shutdown)
		return nil
	}

	registry := promclient.NewRegistry()
	promExporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		t.logger.Warn("failed to initialize prometheus exporter", slog.String("error", err.Error()))
		t.meterProvider = sdkmetric.NewMeterProvider(sdkmetric.WithResource(res))
		t.shutdowns = append(t.shutdowns, t.meterProvider.Shutdown)
		return nil
	}
	t.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(promExporter),
		sdkmetric.WithResource(res),
	)
	t.shutdowns = append(t.shutdowns, t.meterProvider.Shutdown)
	t.handler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	return nil
}

func (t *Telemetry) serve(bind string) error {
	mux := http.NewServeMux()
	if t.handler != nil {
		mux.Handle("/metrics", t.handler)
	}
	mux.HandleFunc("/healthz", handleHealth)

	listener, err := net.Listen("tcp", bind)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", bind, err)
	}
	t.listener = listener
	t.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		if err := t.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.logger.Error("metrics server failed", slog.String("error", err.Error()))
		}
	}()
	t.logger.Info("metrics endpoint started", slog.String("addr", listener.Addr().String()))
	return nil
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (t *Telemetry) Tracer(name string) trace.Tracer {
	return t.tracerProvider.Tracer(name)
}

func (t *Telemetry) Meter(name string) metric.Meter {
	return t.meterProvider.Meter(name)
}

// Addr is the metrics endpoint address, or "" when it is not running.
func (t *Telemetry) Addr() string {
	if t.listener == nil {
		return ""
	}
	return t.listener.Addr().String()
}

// Shutdown stops the endpoint and flushes the providers.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	if t.server != nil {
		if err := t.server.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
		t.wg.Wait()
		t.server = nil
	}
	for i := len(t.shutdowns) - 1; i >= 0; i-- {
		if err := t.shutdowns[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	t.shutdowns = nil
	return errors.Join(errs...)
}
