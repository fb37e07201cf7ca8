package rpc

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/mutualcredit/mcledger/logger"
)

// accepting an offer involves several round trips to the counterparty,
// requests taking longer than that are logged
const slowRequest = 5 * time.Second

/*
instrument returns middleware which starts span for the request and records
the number of calls and the duration of the request, attributed with the
route template, method and response status.
*/
func instrument(obs Observability) mux.MiddlewareFunc {
	log := obs.Logger()
	tracer := obs.Tracer("rpc.REST")
	m := obs.Meter("rest_api")
	callCnt, errC := m.Int64Counter("calls", metric.WithDescription("How many times the endpoint has been called"))
	callDur, errD := m.Float64Histogram("duration",
		metric.WithDescription("How long it took to serve the request"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10))
	if errC != nil || errD != nil {
		log.Error("creating REST API metrics", logger.Error(fmt.Errorf("calls: %w, duration: %w", errC, errD)))
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			route := req.URL.Path
			if r := mux.CurrentRoute(req); r != nil {
				if tmpl, err := r.GetPathTemplate(); err == nil {
					route = tmpl
				}
			}
			attrs := []attribute.KeyValue{semconv.HTTPRequestMethodKey.String(req.Method), semconv.HTTPRoute(route)}

			ctx := otel.GetTextMapPropagator().Extract(req.Context(), propagation.HeaderCarrier(req.Header))
			ctx, span := tracer.Start(ctx, req.Method+" "+route, trace.WithSpanKind(trace.SpanKindServer), trace.WithAttributes(attrs...))
			defer span.End()

			start := time.Now()
			sw := &statusWriter{ResponseWriter: w}
			next.ServeHTTP(sw, req.WithContext(ctx))
			dur := time.Since(start)

			status := sw.status()
			span.SetAttributes(semconv.HTTPResponseStatusCode(status))
			if status >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(status))
			}
			if errC == nil && errD == nil {
				opt := metric.WithAttributeSet(attribute.NewSet(append(attrs, semconv.HTTPResponseStatusCode(status))...))
				callCnt.Add(ctx, 1, opt)
				callDur.Record(ctx, dur.Seconds(), opt)
			}
			if dur > slowRequest {
				log.WarnContext(ctx, fmt.Sprintf("%s %s took %s, status %d", req.Method, route, dur, status))
			}
		})
	}
}

// statusWriter captures the status code of the response.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	if w.code == 0 {
		w.code = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.code == 0 {
		w.code = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

func (w *statusWriter) status() int {
	if w.code == 0 {
		return http.StatusOK
	}
	return w.code
}
