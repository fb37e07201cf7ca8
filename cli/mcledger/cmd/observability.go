package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	promexp "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/exporters/zipkin"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tnop "go.opentelemetry.io/otel/trace/noop"
)

const shutdownTimeout = 5 * time.Second

/*
observability of the ledger node: metrics exporter is selected with the
--metrics flag and traces exporter with the --tracing flag, empty value
disables the exporter.
*/
type observability struct {
	mp  metric.MeterProvider
	tp  trace.TracerProvider
	reg *prometheus.Registry // assigned only when Prometheus exporter is used
	log *slog.Logger

	shutdown []func(context.Context) error
}

func newObservability(metrics, traces string, log *slog.Logger) (*observability, error) {
	o := &observability{
		mp:  noop.NewMeterProvider(),
		tp:  tnop.NewTracerProvider(),
		log: log,
	}
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	if metrics == "" && traces == "" {
		return o, nil
	}
	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(semconv.SchemaURL,
		semconv.ServiceName("mcledger"),
		semconv.ServiceVersion("0.1.0"),
	))
	if err != nil {
		return o, fmt.Errorf("creating OTEL resource: %w", err)
	}
	if metrics != "" {
		if err := o.initMetrics(metrics, res); err != nil {
			return o, fmt.Errorf("initializing meter provider: %w", err)
		}
	}
	if traces != "" {
		if err := o.initTracing(traces, res); err != nil {
			return o, fmt.Errorf("initializing trace provider: %w", err)
		}
	}
	return o, nil
}

func (o *observability) initMetrics(exporter string, res *resource.Resource) error {
	var reader sdkmetric.Reader
	switch exporter {
	case "stdout":
		exp, err := stdoutmetric.New()
		if err != nil {
			return fmt.Errorf("creating stdout exporter: %w", err)
		}
		reader = sdkmetric.NewPeriodicReader(exp)
	case "prometheus":
		reg := prometheus.NewRegistry()
		if err := reg.Register(collectors.NewGoCollector()); err != nil {
			return fmt.Errorf("registering Go collector: %w", err)
		}
		exp, err := promexp.New(promexp.WithRegisterer(reg), promexp.WithNamespace("mcl"))
		if err != nil {
			return fmt.Errorf("creating Prometheus exporter: %w", err)
		}
		o.reg, reader = reg, exp
	default:
		return fmt.Errorf("unsupported metrics exporter %q", exporter)
	}

	mp := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res), sdkmetric.WithReader(reader))
	o.mp = mp
	o.shutdown = append(o.shutdown, mp.Shutdown)
	return nil
}

func (o *observability) initTracing(exporter string, res *resource.Resource) error {
	var exp sdktrace.SpanExporter
	var err error
	switch exporter {
	case "stdout":
		exp, err = stdouttrace.New()
	case "otlptracehttp":
		// endpoint is configured with OTEL_EXPORTER_OTLP_* environment variables
		exp, err = otlptracehttp.New(context.Background())
	case "zipkin":
		exp, err = zipkin.New("")
	default:
		return fmt.Errorf("unsupported trace exporter %q", exporter)
	}
	if err != nil {
		return fmt.Errorf("creating %s exporter: %w", exporter, err)
	}

	tp := sdktrace.NewTracerProvider(sdktrace.WithResource(res), sdktrace.WithBatcher(exp))
	o.tp = tp
	o.shutdown = append(o.shutdown, tp.Shutdown)
	return nil
}

// Shutdown flushes and stops the exporters.
func (o *observability) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	for _, fn := range o.shutdown {
		errs = append(errs, fn(ctx))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("observability shutdown: %w", err)
	}
	return nil
}

func (o *observability) Logger() *slog.Logger { return o.log }

func (o *observability) Meter(name string, opts ...metric.MeterOption) metric.Meter {
	return o.mp.Meter(name, opts...)
}

func (o *observability) Tracer(name string, options ...trace.TracerOption) trace.Tracer {
	return o.tp.Tracer(name, options...)
}

func (o *observability) TracerProvider() trace.TracerProvider { return o.tp }

// MetricsHandler serves the Prometheus scrape endpoint, nil when Prometheus exporter is not used.
func (o *observability) MetricsHandler() http.Handler {
	if o.reg == nil {
		return nil
	}
	return promhttp.HandlerFor(o.reg, promhttp.HandlerOpts{MaxRequestsInFlight: 1})
}

// PrometheusRegisterer is used to register the libp2p metrics.
func (o *observability) PrometheusRegisterer() prometheus.Registerer {
	if o.reg == nil {
		return nil
	}
	return o.reg
}
