package orders

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joao-fontenele/giftshop/internal/domain"
	"github.com/joao-fontenele/giftshop/internal/payment"
)

func paymentEvent(t *testing.T, event, orderNumber, gatewayOrderID, paymentID string) *payment.Event {
	t.Helper()
	notes := `[]`
	if orderNumber != "" {
		notes = fmt.Sprintf(`{"order_number":%q}`, orderNumber)
	}
	body := fmt.Sprintf(`{"event":%q,"payload":{"payment":{"entity":{"id":%q,"order_id":%q,"amount":175000,"currency":"INR","status":"captured","error_description":"card declined","notes":%s}}}}`,
		event, paymentID, gatewayOrderID, notes)
	e, err := payment.ParseEvent([]byte(body))
	require.NoError(t, err)
	return e
}

func refundEvent(t *testing.T, event, paymentID, refundID string) *payment.Event {
	t.Helper()
	return refundEventFor(t, event, paymentID, refundID, 175000)
}

func refundEventFor(t *testing.T, event, paymentID, refundID string, amount int64) *payment.Event {
	t.Helper()
	body := fmt.Sprintf(`{"event":%q,"payload":{"refund":{"entity":{"id":%q,"payment_id":%q,"amount":%d,"status":"processed"}}}}`,
		event, refundID, paymentID, amount)
	e, err := payment.ParseEvent([]byte(body))
	require.NoError(t, err)
	return e
}

func TestProcessWebhook_CapturedBeforeVerify(t *testing.T) {
	f := newFixture(t)
	order := f.checkout(t, domain.PaymentMethodRazorpay).Order

	err := f.svc.ProcessWebhook(context.Background(), "evt_1",
		paymentEvent(t, payment.EventPaymentCaptured, order.Number, order.GatewayOrderID, "pay_1"))
	require.NoError(t, err)

	stored := f.repo.order(t, order.Number)
	assert.Equal(t, domain.OrderStatusConfirmed, stored.Status)
	assert.Equal(t, domain.PaymentStatusPaid, stored.PaymentStatus)
	assert.Equal(t, "pay_1", stored.GatewayPaymentID)

	// The browser's verification arriving late converges on the same state.
	paid := f.pay(t, order)
	assert.Equal(t, domain.OrderStatusConfirmed, paid.Status)
	assert.Equal(t, []domain.OrderStatus{domain.OrderStatusPending, domain.OrderStatusConfirmed},
		statuses(f.repo.entries(order.Number)))
}

func TestProcessWebhook_CapturedAfterVerify(t *testing.T) {
	f := newFixture(t)
	order := f.pay(t, f.checkout(t, domain.PaymentMethodRazorpay).Order)

	err := f.svc.ProcessWebhook(context.Background(), "evt_1",
		paymentEvent(t, payment.EventPaymentCaptured, order.Number, order.GatewayOrderID, "pay_1"))
	require.NoError(t, err)

	assert.Len(t, f.repo.entries(order.Number), 2)
	assert.Equal(t, 1, f.notifier.count(domain.EventStatusChanged))
}

func TestProcessWebhook_DuplicateEventID(t *testing.T) {
	f := newFixture(t)
	order := f.checkout(t, domain.PaymentMethodRazorpay).Order
	event := paymentEvent(t, payment.EventPaymentAuthorized, order.Number, order.GatewayOrderID, "pay_1")

	require.NoError(t, f.svc.ProcessWebhook(context.Background(), "evt_1", event))
	f.repo.setStatus(order.Number, domain.OrderStatusPending, domain.PaymentStatusPending)
	require.NoError(t, f.svc.ProcessWebhook(context.Background(), "evt_1", event))

	assert.Equal(t, domain.OrderStatusPending, f.repo.order(t, order.Number).Status, "redelivery must not be applied again")
	assert.Equal(t, payment.EventPaymentAuthorized, f.repo.webhooks["evt_1"])
}

func TestProcessWebhook_FallsBackToGatewayOrderID(t *testing.T) {
	f := newFixture(t)
	order := f.checkout(t, domain.PaymentMethodRazorpay).Order

	err := f.svc.ProcessWebhook(context.Background(), "",
		paymentEvent(t, payment.EventPaymentCaptured, "", order.GatewayOrderID, "pay_1"))
	require.NoError(t, err)

	assert.Equal(t, domain.PaymentStatusPaid, f.repo.order(t, order.Number).PaymentStatus)
}

func TestProcessWebhook_UnknownOrder(t *testing.T) {
	f := newFixture(t)

	err := f.svc.ProcessWebhook(context.Background(), "evt_1",
		paymentEvent(t, payment.EventPaymentCaptured, "ORD-MISSING", "order_missing", "pay_1"))

	require.NoError(t, err)
	assert.Contains(t, f.repo.webhooks, "evt_1")
}

func TestProcessWebhook_AuthorizedThenCaptured(t *testing.T) {
	f := newFixture(t)
	order := f.checkout(t, domain.PaymentMethodRazorpay).Order

	require.NoError(t, f.svc.ProcessWebhook(context.Background(), "evt_1",
		paymentEvent(t, payment.EventPaymentAuthorized, order.Number, order.GatewayOrderID, "pay_1")))
	require.NoError(t, f.svc.ProcessWebhook(context.Background(), "evt_2",
		paymentEvent(t, payment.EventPaymentCaptured, order.Number, order.GatewayOrderID, "pay_1")))

	stored := f.repo.order(t, order.Number)
	assert.Equal(t, domain.OrderStatusProcessing, stored.Status)
	assert.Equal(t, domain.PaymentStatusPaid, stored.PaymentStatus)
	assert.Equal(t, []domain.OrderStatus{domain.OrderStatusPending, domain.OrderStatusProcessing},
		statuses(f.repo.entries(order.Number)))
}

func TestProcessWebhook_PaymentFailed(t *testing.T) {
	f := newFixture(t)
	order := f.checkout(t, domain.PaymentMethodRazorpay).Order

	require.NoError(t, f.svc.ProcessWebhook(context.Background(), "evt_1",
		paymentEvent(t, payment.EventPaymentFailed, order.Number, order.GatewayOrderID, "pay_1")))

	stored := f.repo.order(t, order.Number)
	assert.Equal(t, domain.OrderStatusCancelled, stored.Status)
	assert.Equal(t, domain.PaymentStatusFailed, stored.PaymentStatus)
	entries := f.repo.entries(order.Number)
	assert.Equal(t, "Payment failed: card declined", entries[len(entries)-1].Message)
	assert.Equal(t, 1, f.notifier.count(domain.EventPaymentFailed))
}

func TestProcessWebhook_FailedAfterPaidIsIgnored(t *testing.T) {
	f := newFixture(t)
	order := f.pay(t, f.checkout(t, domain.PaymentMethodRazorpay).Order)

	require.NoError(t, f.svc.ProcessWebhook(context.Background(), "evt_1",
		paymentEvent(t, payment.EventPaymentFailed, order.Number, order.GatewayOrderID, "pay_0")))

	stored := f.repo.order(t, order.Number)
	assert.Equal(t, domain.OrderStatusConfirmed, stored.Status)
	assert.Equal(t, domain.PaymentStatusPaid, stored.PaymentStatus)
}

func TestProcessWebhook_CapturedOnCancelledOrder(t *testing.T) {
	f := newFixture(t)
	order := f.checkout(t, domain.PaymentMethodRazorpay).Order
	_, err := f.svc.Cancel(context.Background(), customer, order.Number, "")
	require.NoError(t, err)

	require.NoError(t, f.svc.ProcessWebhook(context.Background(), "evt_1",
		paymentEvent(t, payment.EventPaymentCaptured, order.Number, order.GatewayOrderID, "pay_1")))

	stored := f.repo.order(t, order.Number)
	assert.Equal(t, domain.OrderStatusCancelled, stored.Status)
	assert.Equal(t, domain.PaymentStatusPending, stored.PaymentStatus)
}

func TestProcessWebhook_RefundLifecycle(t *testing.T) {
	f := newFixture(t)
	order := f.pay(t, f.checkout(t, domain.PaymentMethodRazorpay).Order)

	require.NoError(t, f.svc.ProcessWebhook(context.Background(), "evt_1",
		refundEvent(t, payment.EventRefundCreated, "pay_1", "rfnd_9")))
	assert.Equal(t, "rfnd_9", f.repo.order(t, order.Number).RefundID)

	require.NoError(t, f.svc.ProcessWebhook(context.Background(), "evt_2",
		refundEvent(t, payment.EventRefundProcessed, "pay_1", "rfnd_9")))
	require.NoError(t, f.svc.ProcessWebhook(context.Background(), "evt_3",
		refundEvent(t, payment.EventRefundProcessed, "pay_1", "rfnd_9")))

	stored := f.repo.order(t, order.Number)
	assert.Equal(t, domain.OrderStatusRefunded, stored.Status)
	assert.Equal(t, domain.PaymentStatusRefunded, stored.PaymentStatus)

	refunded := 0
	for _, e := range f.repo.entries(order.Number) {
		if e.Status == domain.OrderStatusRefunded {
			refunded++
		}
	}
	assert.Equal(t, 1, refunded)
}

func TestProcessWebhook_PartialRefundKeepsStatus(t *testing.T) {
	f := newFixture(t)
	order := f.pay(t, f.checkout(t, domain.PaymentMethodRazorpay).Order)
	changes := f.notifier.count(domain.EventStatusChanged)

	require.NoError(t, f.svc.ProcessWebhook(context.Background(), "evt_1",
		refundEventFor(t, payment.EventRefundProcessed, "pay_1", "rfnd_4", 50000)))

	stored := f.repo.order(t, order.Number)
	assert.Equal(t, domain.OrderStatusConfirmed, stored.Status)
	assert.Equal(t, domain.PaymentStatusPaid, stored.PaymentStatus)
	assert.Equal(t, "rfnd_4", stored.RefundID)

	entries := f.repo.entries(order.Number)
	last := entries[len(entries)-1]
	assert.Equal(t, domain.OrderStatusConfirmed, last.Status)
	assert.Contains(t, last.Message, "Partial refund of 500.00")
	assert.Equal(t, changes, f.notifier.count(domain.EventStatusChanged))
}

func TestProcessWebhook_RefundProcessedRequiresCapturedPayment(t *testing.T) {
	f := newFixture(t)
	order := f.checkout(t, domain.PaymentMethodRazorpay).Order
	_, _, err := f.repo.Update(context.Background(), order.Number, func(o *domain.Order) (*domain.TrackingEntry, error) {
		o.GatewayPaymentID = "pay_1"
		return nil, nil
	})
	require.NoError(t, err)

	require.NoError(t, f.svc.ProcessWebhook(context.Background(), "evt_1",
		refundEvent(t, payment.EventRefundProcessed, "pay_1", "rfnd_9")))

	stored := f.repo.order(t, order.Number)
	assert.Equal(t, domain.OrderStatusPending, stored.Status)
	assert.Equal(t, domain.PaymentStatusPending, stored.PaymentStatus)
	assert.Empty(t, stored.RefundID)
}

func TestProcessWebhook_RefundFailedNotifiesOperations(t *testing.T) {
	f := newFixture(t)
	order := f.pay(t, f.checkout(t, domain.PaymentMethodRazorpay).Order)

	require.NoError(t, f.svc.ProcessWebhook(context.Background(), "evt_1",
		refundEvent(t, payment.EventRefundFailed, "pay_1", "rfnd_9")))

	assert.Equal(t, 1, f.notifier.count(domain.EventRefundFailed))
	assert.Equal(t, domain.PaymentStatusPaid, f.repo.order(t, order.Number).PaymentStatus)
}

func TestProcessWebhook_IgnoresOtherEvents(t *testing.T) {
	f := newFixture(t)
	e, err := payment.ParseEvent([]byte(`{"event":"order.paid","payload":{}}`))
	require.NoError(t, err)

	require.NoError(t, f.svc.ProcessWebhook(context.Background(), "evt_1", e))
	assert.Contains(t, f.repo.webhooks, "evt_1")
}
