package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OrderMetrics holds the storefront's domain instruments. A nil
// *OrderMetrics records nothing.
type OrderMetrics struct {
	ordersCreated metric.Int64Counter
	transitions   metric.Int64Counter
	webhooks      metric.Int64Counter
	notifications metric.Int64Counter
}

func NewOrderMetrics(meter metric.Meter) (*OrderMetrics, error) {
	ordersCreated, err := meter.Int64Counter("orders_created_total",
		metric.WithDescription("Orders created at checkout"))
	if err != nil {
		return nil, err
	}

	transitions, err := meter.Int64Counter("order_transitions_total",
		metric.WithDescription("Committed order status transitions"))
	if err != nil {
		return nil, err
	}

	webhooks, err := meter.Int64Counter("payment_webhooks_total",
		metric.WithDescription("Payment gateway webhook deliveries by outcome"))
	if err != nil {
		return nil, err
	}

	notifications, err := meter.Int64Counter("notifications_total",
		metric.WithDescription("Notification emails by outcome"))
	if err != nil {
		return nil, err
	}

	return &OrderMetrics{
		ordersCreated: ordersCreated,
		transitions:   transitions,
		webhooks:      webhooks,
		notifications: notifications,
	}, nil
}

func (m *OrderMetrics) OrderCreated(ctx context.Context, paymentMethod string) {
	if m == nil {
		return
	}
	m.ordersCreated.Add(ctx, 1, metric.WithAttributes(attribute.String("payment_method", paymentMethod)))
}

func (m *OrderMetrics) Transition(ctx context.Context, from, to string) {
	if m == nil {
		return
	}
	m.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

func (m *OrderMetrics) Webhook(ctx context.Context, event, outcome string) {
	if m == nil {
		return
	}
	m.webhooks.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event", event),
		attribute.String("outcome", outcome),
	))
}

func (m *OrderMetrics) Notification(ctx context.Context, eventType, outcome string) {
	if m == nil {
		return
	}
	m.notifications.Add(ctx, 1, metric.WithAttributes(
		attribute.String("type", eventType),
		attribute.String("outcome", outcome),
	))
}
