package observability

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/exporters/zipkin"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tnop "go.opentelemetry.io/otel/trace/noop"

	testlogr "github.com/mutualcredit/mcledger/internal/testutils/logger"
	"github.com/mutualcredit/mcledger/logger"
)

/*
Observability implementation for tests. Logs are written into the test log and
metrics are kept in memory so that tests can assert them (see CounterValue).
*/
type Observability struct {
	logF   func(*logger.LogConfiguration) (*slog.Logger, error)
	tp     trace.TracerProvider
	mp     metric.MeterProvider
	reader *sdkmetric.ManualReader
}

// NOPObservability discards logs, traces and metrics.
func NOPObservability() *Observability {
	return &Observability{
		mp:   noop.NewMeterProvider(),
		tp:   tnop.NewTracerProvider(),
		logF: func(*logger.LogConfiguration) (*slog.Logger, error) { return testlogr.NOP(), nil },
	}
}

/*
Default logs into the test log. Set MCL_TEST_TRACER to "stdout", "otlptracehttp"
or "zipkin" to export the traces of the test.
*/
func Default(t testing.TB) *Observability {
	return New(t, os.Getenv("MCL_TEST_TRACER"), testlogr.LoggerBuilder(t))
}

func New(t testing.TB, traceExporter string, logBuilder func(*logger.LogConfiguration) (*slog.Logger, error)) *Observability {
	setPropagator()
	res := resource.NewWithAttributes(semconv.SchemaURL,
		semconv.ServiceName("mcledger"),
		attribute.String("test.name", t.Name()),
	)

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res), sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	obs := &Observability{
		logF:   logBuilder,
		mp:     mp,
		reader: reader,
		tp:     tnop.NewTracerProvider(),
	}
	if traceExporter != "" {
		tp, err := newTraceProvider(traceExporter, res)
		require.NoError(t, err, "creating trace provider")
		obs.tp = tp
		t.Cleanup(func() {
			if err := tp.Shutdown(context.Background()); err != nil {
				t.Logf("shutting down trace provider: %v", err)
			}
		})
	}
	return obs
}

func (o *Observability) Logger() *slog.Logger {
	log, err := o.logF(nil)
	if err != nil {
		panic(fmt.Errorf("log builder returned error: %w", err))
	}
	return log
}

func (o *Observability) Meter(name string, options ...metric.MeterOption) metric.Meter {
	return o.mp.Meter(name, options...)
}

func (o *Observability) Tracer(name string, options ...trace.TracerOption) trace.Tracer {
	return o.tp.Tracer(name, options...)
}

func (o *Observability) TracerProvider() trace.TracerProvider { return o.tp }

func (o *Observability) MetricsHandler() http.Handler { return nil }

func (o *Observability) PrometheusRegisterer() prometheus.Registerer { return nil }

func (o *Observability) Shutdown() error { return nil }

/*
CounterValue returns the current value of the int64 counter "name" for the
data point with exactly the attributes "attrs", zero when there is no such
data point.
*/
func (o *Observability) CounterValue(t testing.TB, name string, attrs ...attribute.KeyValue) int64 {
	t.Helper()
	require.NotNil(t, o.reader, "metrics are not collected by this observability")

	var rm metricdata.ResourceMetrics
	require.NoError(t, o.reader.Collect(context.Background(), &rm))
	want := attribute.NewSet(attrs...)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "metric %q is %T, expected int64 counter", name, m.Data)
			for _, dp := range sum.DataPoints {
				if dp.Attributes.Equals(&want) {
					return dp.Value
				}
			}
		}
	}
	return 0
}

func newTraceProvider(exporter string, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	var exp sdktrace.SpanExporter
	var err error
	switch exporter {
	case "stdout":
		exp, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
	case "otlptracehttp":
		exp, err = otlptracehttp.New(context.Background(), otlptracehttp.WithInsecure())
	case "zipkin":
		exp, err = zipkin.New("")
	default:
		return nil, fmt.Errorf("unsupported trace exporter %q", exporter)
	}
	if err != nil {
		return nil, fmt.Errorf("creating %s exporter: %w", exporter, err)
	}
	return sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSyncer(exp),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	), nil
}

var setPropagator = sync.OnceFunc(func() {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
})
