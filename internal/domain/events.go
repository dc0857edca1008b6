package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type EventType string

const (
	EventOrderCreated      EventType = "order.created"
	EventStatusChanged     EventType = "order.status_changed"
	EventPaymentFailed     EventType = "order.payment_failed"
	EventFeedbackRequested EventType = "order.feedback_requested"
	EventRefundFailed      EventType = "refund.failed"
	EventCartAbandoned     EventType = "cart.abandoned"
)

// OrderEvent is published on the order events topic and rendered into
// customer and operations mail by the notification worker.
type OrderEvent struct {
	Type           EventType       `json:"type"`
	OrderNumber    string          `json:"order_number,omitempty"`
	UserID         string          `json:"user_id,omitempty"`
	CustomerName   string          `json:"customer_name,omitempty"`
	CustomerEmail  string          `json:"customer_email,omitempty"`
	Status         OrderStatus     `json:"status,omitempty"`
	PreviousStatus OrderStatus     `json:"previous_status,omitempty"`
	PaymentMethod  PaymentMethod   `json:"payment_method,omitempty"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	ItemCount      int             `json:"item_count,omitempty"`
	Note           string          `json:"note,omitempty"`
	Reference      string          `json:"reference,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
}

// NewOrderEvent fills the order-derived fields of an event.
func NewOrderEvent(t EventType, o *Order, now time.Time) OrderEvent {
	return OrderEvent{
		Type:          t,
		OrderNumber:   o.Number,
		UserID:        o.UserID,
		CustomerName:  o.Billing.FullName,
		CustomerEmail: o.Billing.Email,
		Status:        o.Status,
		PaymentMethod: o.PaymentMethod,
		TotalAmount:   o.TotalAmount,
		ItemCount:     len(o.Items),
		Timestamp:     now.UTC(),
	}
}

func (e OrderEvent) EventType() string {
	return string(e.Type)
}
