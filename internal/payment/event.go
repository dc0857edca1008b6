package payment

import (
	"encoding/json"
	"errors"
	"fmt"
)

const (
	EventPaymentAuthorized = "payment.authorized"
	EventPaymentCaptured   = "payment.captured"
	EventPaymentFailed     = "payment.failed"
	EventRefundCreated     = "refund.created"
	EventRefundProcessed   = "refund.processed"
	EventRefundFailed      = "refund.failed"
)

type PaymentEntity struct {
	ID               string          `json:"id"`
	OrderID          string          `json:"order_id"`
	Amount           int64           `json:"amount"`
	Currency         string          `json:"currency"`
	Status           string          `json:"status"`
	Method           string          `json:"method"`
	ErrorCode        string          `json:"error_code"`
	ErrorDescription string          `json:"error_description"`
	Notes            json.RawMessage `json:"notes"`
}

// OrderNumber reads the order_number note. Razorpay sends notes as an empty
// array rather than an object when none were set.
func (p PaymentEntity) OrderNumber() string {
	var notes map[string]string
	if err := json.Unmarshal(p.Notes, &notes); err != nil {
		return ""
	}
	return notes["order_number"]
}

type RefundEntity struct {
	ID        string `json:"id"`
	PaymentID string `json:"payment_id"`
	Amount    int64  `json:"amount"`
	Status    string `json:"status"`
}

type Event struct {
	Event     string `json:"event"`
	CreatedAt int64  `json:"created_at"`
	Payload   struct {
		Payment *struct {
			Entity PaymentEntity `json:"entity"`
		} `json:"payment"`
		Refund *struct {
			Entity RefundEntity `json:"entity"`
		} `json:"refund"`
	} `json:"payload"`
}

func (e *Event) Payment() *PaymentEntity {
	if e.Payload.Payment == nil {
		return nil
	}
	return &e.Payload.Payment.Entity
}

func (e *Event) Refund() *RefundEntity {
	if e.Payload.Refund == nil {
		return nil
	}
	return &e.Payload.Refund.Entity
}

// ParseEvent decodes a webhook body.
func ParseEvent(body []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(body, &e); err != nil {
		return nil, fmt.Errorf("decode webhook: %w", err)
	}
	if e.Event == "" {
		return nil, errors.New("decode webhook: missing event type")
	}
	return &e, nil
}
