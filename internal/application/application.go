// Package application hosts the saga's use-case layer: services that
// orchestrate domain records, guarded external calls, and event
// publication, plus the workers that drive them from the message
// channel.
package application

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Zhima-Mochi/fulfillment-saga/internal/observability"
	"github.com/Zhima-Mochi/fulfillment-saga/internal/observability/logctx"
)

const spanPrefix = "UC."

// Observed bundles the per-service telemetry handles every use case
// records: a span, the RED counters, and a completion log line.
type Observed struct {
	tel observability.Observability
	log observability.Logger

	reqCounter   observability.Counter   // usecase_requests_total{use_case,outcome}
	durHistogram observability.Histogram // usecase_duration_seconds{use_case}
}

func NewObserved(tel observability.Observability, service string) *Observed {
	if tel == nil {
		tel = observability.Nop()
	}
	return &Observed{
		tel:          tel,
		log:          tel.Logger().With(observability.F("service", service)),
		reqCounter:   tel.Metrics().Counter(observability.MUsecaseRequests),
		durHistogram: tel.Metrics().Histogram(observability.MUsecaseDuration),
	}
}

func (o *Observed) Logger() observability.Logger { return o.log }

// Track opens a use-case span and returns a completion func to call
// with the use case's outcome. The completion func ends the span,
// records the RED metrics, and emits the use_case_done line.
func (o *Observed) Track(ctx context.Context, useCase string, attrs ...attribute.KeyValue) (context.Context, func(err error)) {
	logger := logctx.FromOr(ctx, o.log).With(observability.F("use_case", useCase))

	attrs = append(attrs, attribute.String("use_case", useCase))
	ctx, span := o.tel.Tracer().Start(ctx, spanPrefix+useCase, attrs...)
	start := time.Now()

	return ctx, func(err error) {
		lat := time.Since(start).Seconds()
		outcome := "success"
		if err != nil {
			outcome = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "OK")
		}
		span.End()

		o.reqCounter.Add(1,
			observability.L("use_case", useCase),
			observability.L("outcome", outcome),
		)
		o.durHistogram.Observe(lat, observability.L("use_case", useCase))

		fields := []observability.Field{
			observability.F("outcome", outcome),
			observability.F("latency_seconds", lat),
		}
		if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
			fields = append(fields,
				observability.F("trace_id", sc.TraceID().String()),
				observability.F("span_id", sc.SpanID().String()),
			)
		}
		if err != nil {
			fields = append(fields, observability.F("error", err.Error()))
		}
		logger.Info("use_case_done", fields...)
	}
}
