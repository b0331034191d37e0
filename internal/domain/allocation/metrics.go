package allocation

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

type engineMetrics struct {
	requests metric.Int64Counter
	reserved metric.Int64Counter
	released metric.Int64Counter
	short    metric.Int64Counter
}

func newEngineMetrics() *engineMetrics {
	meter := otel.Meter("wmsledger/allocation")
	return &engineMetrics{
		requests: counter(meter, "wmsledger.allocation.requests", "Allocation calls", "{call}"),
		reserved: counter(meter, "wmsledger.allocation.reserved_units", "Units still reserved when allocation returns", "{unit}"),
		released: counter(meter, "wmsledger.allocation.released_units", "Units released again by compensation", "{unit}"),
		short:    counter(meter, "wmsledger.allocation.short_units", "Units allocation could not reserve", "{unit}"),
	}
}

func counter(meter metric.Meter, name, desc, unit string) metric.Int64Counter {
	c, err := meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit(unit))
	if err != nil {
		return noop.Int64Counter{}
	}
	return c
}

// record counts a finished call. res must already reflect compensation.
func (m *engineMetrics) record(ctx context.Context, strategy Strategy, res Result) {
	attrs := metric.WithAttributes(attribute.String("strategy", string(strategy)))
	var short, released int64
	for _, s := range res.Shortfalls {
		short += s.QuantityShort
	}
	for _, r := range res.Released {
		released += r.Quantity
	}
	m.requests.Add(ctx, 1, attrs)
	m.reserved.Add(ctx, res.ReservedQuantity(), attrs)
	m.released.Add(ctx, released, attrs)
	m.short.Add(ctx, short, attrs)
}
