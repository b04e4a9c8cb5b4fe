package ledger

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/roach88/attest/internal/ledger"

type telemetry struct {
	tracer    trace.Tracer
	committed metric.Int64Counter
	rejected  metric.Int64Counter
}

func newTelemetry(tp trace.TracerProvider, mp metric.MeterProvider) (*telemetry, error) {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(instrumentationName)

	committed, err := meter.Int64Counter("attest.records.committed",
		metric.WithDescription("Records committed to a ledger"),
	)
	if err != nil {
		return nil, err
	}
	rejected, err := meter.Int64Counter("attest.writes.rejected",
		metric.WithDescription("Writes rejected with a ledger error"),
	)
	if err != nil {
		return nil, err
	}
	return &telemetry{
		tracer:    tp.Tracer(instrumentationName),
		committed: committed,
		rejected:  rejected,
	}, nil
}

func (t *telemetry) start(ctx context.Context, name, ledger string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, trace.WithAttributes(attribute.String("attest.ledger", ledger)))
}

// finish records the outcome of a write on span and the counters.
func (t *telemetry) finish(ctx context.Context, span trace.Span, ledger string, err error) {
	defer span.End()
	if err == nil {
		span.SetStatus(codes.Ok, "")
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if code, ok := CodeOf(err); ok {
		t.rejected.Add(ctx, 1, metric.WithAttributes(
			attribute.String("attest.ledger", ledger),
			attribute.String("code", code.String()),
		))
	}
}

func (t *telemetry) recordCommitted(ctx context.Context, ledger string) {
	t.committed.Add(ctx, 1, metric.WithAttributes(attribute.String("attest.ledger", ledger)))
}
