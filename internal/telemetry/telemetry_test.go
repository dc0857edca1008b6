package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestInitMeterProvider_ExposesOrderMetrics(t *testing.T) {
	handler, shutdown, err := InitMeterProvider("storefront-test", "0.0.0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = shutdown(context.Background()) })

	metrics, err := NewOrderMetrics(otel.Meter("telemetry-test"))
	require.NoError(t, err)
	metrics.OrderCreated(context.Background(), "cod")
	metrics.Webhook(context.Background(), "payment.captured", "applied")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "giftshop_orders_created")
	assert.Contains(t, body, `payment_method="cod"`)
	assert.Contains(t, body, "giftshop_payment_webhooks")
}

func TestOrderMetrics_NilIsNoop(t *testing.T) {
	var m *OrderMetrics
	assert.NotPanics(t, func() {
		m.OrderCreated(context.Background(), "razorpay")
		m.Transition(context.Background(), "pending", "confirmed")
		m.Webhook(context.Background(), "payment.failed", "applied")
		m.Notification(context.Background(), "order.created", "sent")
	})
}

func TestNewOrderMetrics_NoopMeter(t *testing.T) {
	m, err := NewOrderMetrics(noop.NewMeterProvider().Meter("test"))
	require.NoError(t, err)
	m.Transition(context.Background(), "confirmed", "processing")
}

func TestWithHTTPRoute_CallsHandler(t *testing.T) {
	called := false
	mux := http.NewServeMux()
	mux.HandleFunc("GET /orders/{number}", WithHTTPRoute(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	ServerHandler(mux, "test").ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orders/GS-1", nil))

	assert.True(t, called)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
