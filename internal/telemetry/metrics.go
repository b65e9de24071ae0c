package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the engine's counters. The zero value is not usable; call
// NewMetrics after Init so the instruments bind to the installed provider.
type Metrics struct {
	reservations metric.Int64Counter
	bids         metric.Int64Counter
	orders       metric.Int64Counter
	swept        metric.Int64Counter
}

func NewMetrics() *Metrics {
	m := otel.Meter(instrumentation)
	// Creation only fails on invalid names, which are constant here.
	reservations, _ := m.Int64Counter("storefront.reservations",
		metric.WithDescription("reservation attempts by type and outcome"))
	bids, _ := m.Int64Counter("storefront.bids",
		metric.WithDescription("bids by outcome"))
	orders, _ := m.Int64Counter("storefront.orders",
		metric.WithDescription("order transitions by status and outcome"))
	swept, _ := m.Int64Counter("storefront.swept",
		metric.WithDescription("rows flipped by maintenance sweeps"))
	return &Metrics{reservations: reservations, bids: bids, orders: orders, swept: swept}
}

func outcome(err error) string {
	if err != nil {
		return "rejected"
	}
	return "ok"
}

func (m *Metrics) Reservation(ctx context.Context, kind string, err error) {
	if m == nil {
		return
	}
	m.reservations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("type", kind), attribute.String("outcome", outcome(err))))
}

func (m *Metrics) Bid(ctx context.Context, buyNow bool, err error) {
	if m == nil {
		return
	}
	m.bids.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("buy_now", buyNow), attribute.String("outcome", outcome(err))))
}

func (m *Metrics) Order(ctx context.Context, status string, err error) {
	if m == nil {
		return
	}
	m.orders.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", status), attribute.String("outcome", outcome(err))))
}

func (m *Metrics) Swept(ctx context.Context, what string, n int64) {
	if m == nil || n == 0 {
		return
	}
	m.swept.Add(ctx, n, metric.WithAttributes(attribute.String("what", what)))
}
