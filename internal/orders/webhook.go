package orders

import (
	"context"
	"fmt"

	"github.com/joao-fontenele/giftshop/internal/domain"
	"github.com/joao-fontenele/giftshop/internal/payment"
)

const webhookActor = "gateway"

// ProcessWebhook applies a verified gateway event. Every branch checks the
// current state first, so a redelivered event or one racing the synchronous
// verification converges on the same result. An event whose order cannot be
// found is logged and dropped.
func (s *Service) ProcessWebhook(ctx context.Context, eventID string, event *payment.Event) error {
	if eventID != "" {
		seen, err := s.repo.WebhookSeen(ctx, eventID)
		if err != nil {
			return err
		}
		if seen {
			s.metrics.Webhook(ctx, event.Event, "duplicate")
			s.logger.Info("webhook already processed", "event_id", eventID, "event", event.Event)
			return nil
		}
	}

	outcome, err := s.applyWebhook(ctx, event)
	if err != nil {
		s.metrics.Webhook(ctx, event.Event, "error")
		return err
	}
	s.metrics.Webhook(ctx, event.Event, outcome)

	if eventID != "" {
		if err := s.repo.MarkWebhookProcessed(ctx, eventID, event.Event); err != nil {
			s.logger.Error("failed to record webhook event", "error", err, "event_id", eventID)
		}
	}
	return nil
}

func (s *Service) applyWebhook(ctx context.Context, event *payment.Event) (string, error) {
	switch event.Event {
	case payment.EventPaymentCaptured, payment.EventPaymentAuthorized, payment.EventPaymentFailed:
		p := event.Payment()
		if p == nil {
			s.logger.Warn("payment webhook without payment entity", "event", event.Event)
			return "ignored", nil
		}
		order, err := s.orderForPayment(ctx, p)
		if err != nil {
			return "", err
		}
		if order == nil {
			s.logger.Error("webhook for unknown order", "event", event.Event,
				"order_number", p.OrderNumber(), "gateway_order_id", p.OrderID, "gateway_payment_id", p.ID)
			return "unknown_order", nil
		}
		return s.applyPaymentEvent(ctx, event.Event, order, p)

	case payment.EventRefundCreated, payment.EventRefundProcessed, payment.EventRefundFailed:
		r := event.Refund()
		if r == nil {
			s.logger.Warn("refund webhook without refund entity", "event", event.Event)
			return "ignored", nil
		}
		order, err := s.repo.GetByGatewayPaymentID(ctx, r.PaymentID)
		if err != nil {
			return "", err
		}
		if order == nil {
			s.logger.Error("refund webhook for unknown payment", "event", event.Event, "gateway_payment_id", r.PaymentID, "refund_id", r.ID)
			return "unknown_order", nil
		}
		return s.applyRefundEvent(ctx, event.Event, order, r)
	}

	s.logger.Info("ignoring webhook event", "event", event.Event)
	return "ignored", nil
}

// orderForPayment resolves the order from the order_number note, falling
// back to the gateway order id.
func (s *Service) orderForPayment(ctx context.Context, p *payment.PaymentEntity) (*domain.Order, error) {
	if number := p.OrderNumber(); number != "" {
		order, err := s.repo.GetByNumber(ctx, number)
		if err != nil || order != nil {
			return order, err
		}
	}
	if p.OrderID == "" {
		return nil, nil
	}
	return s.repo.GetByGatewayOrderID(ctx, p.OrderID)
}

func (s *Service) applyPaymentEvent(ctx context.Context, eventType string, order *domain.Order, p *payment.PaymentEntity) (string, error) {
	var before domain.OrderStatus
	updated, changed, err := s.repo.Update(ctx, order.Number, func(o *domain.Order) (*domain.TrackingEntry, error) {
		before = o.Status
		if o.Status.Terminal() {
			return nil, errUnchanged
		}

		switch eventType {
		case payment.EventPaymentCaptured:
			if o.PaymentStatus == domain.PaymentStatusPaid {
				return nil, errUnchanged
			}
			return capturePayment(o, p.ID, "", "Payment captured", webhookActor), nil

		case payment.EventPaymentAuthorized:
			if o.Status != domain.OrderStatusPending && o.Status != domain.OrderStatusConfirmed {
				return nil, errUnchanged
			}
			if o.GatewayPaymentID == "" {
				o.GatewayPaymentID = p.ID
			}
			o.Status = domain.OrderStatusProcessing
			return &domain.TrackingEntry{Status: o.Status, Message: "Payment authorized", Actor: webhookActor}, nil

		default:
			if o.PaymentStatus == domain.PaymentStatusPaid {
				return nil, errUnchanged
			}
			if o.GatewayPaymentID == "" {
				o.GatewayPaymentID = p.ID
			}
			message := "Payment failed"
			if p.ErrorDescription != "" {
				message += ": " + p.ErrorDescription
			}
			return failPayment(o, message, webhookActor), nil
		}
	})
	if err != nil {
		return "", err
	}

	if !changed {
		if eventType == payment.EventPaymentCaptured && updated.Status.Terminal() && updated.PaymentStatus != domain.PaymentStatusPaid {
			s.logger.Error("payment captured for closed order, refund required", "order_number", updated.Number,
				"status", updated.Status, "gateway_payment_id", p.ID)
		}
		s.logger.Info("webhook left order unchanged", "event", eventType, "order_number", updated.Number,
			"status", updated.Status, "payment_status", updated.PaymentStatus)
		return "noop", nil
	}

	s.afterTransition(ctx, updated, before)
	s.logger.Info("webhook applied", "event", eventType, "order_number", updated.Number,
		"status", updated.Status, "payment_status", updated.PaymentStatus)
	return "applied", nil
}

func (s *Service) applyRefundEvent(ctx context.Context, eventType string, order *domain.Order, r *payment.RefundEntity) (string, error) {
	amount := payment.FromMinorUnits(r.Amount).StringFixed(2)

	var before domain.OrderStatus
	updated, changed, err := s.repo.Update(ctx, order.Number, func(o *domain.Order) (*domain.TrackingEntry, error) {
		before = o.Status

		switch eventType {
		case payment.EventRefundCreated:
			if o.RefundID == r.ID || o.PaymentStatus == domain.PaymentStatusRefunded {
				return nil, errUnchanged
			}
			o.RefundID = r.ID
			return &domain.TrackingEntry{
				Status:  o.Status,
				Message: fmt.Sprintf("Refund of %s initiated (%s)", amount, r.ID),
				Actor:   webhookActor,
			}, nil

		case payment.EventRefundProcessed:
			if o.PaymentStatus != domain.PaymentStatusPaid {
				return nil, errUnchanged
			}
			o.RefundID = r.ID
			// A partial refund leaves the order and its payment as they are.
			if payment.FromMinorUnits(r.Amount).LessThan(o.TotalAmount) {
				return &domain.TrackingEntry{
					Status:  o.Status,
					Message: fmt.Sprintf("Partial refund of %s processed (%s)", amount, r.ID),
					Actor:   webhookActor,
				}, nil
			}
			o.PaymentStatus = domain.PaymentStatusRefunded
			if !o.Status.Terminal() {
				o.Status = domain.OrderStatusRefunded
			}
			return &domain.TrackingEntry{
				Status:  o.Status,
				Message: fmt.Sprintf("Refund of %s processed (%s)", amount, r.ID),
				Actor:   webhookActor,
			}, nil

		default:
			if o.PaymentStatus == domain.PaymentStatusRefunded {
				return nil, errUnchanged
			}
			return &domain.TrackingEntry{
				Status:  o.Status,
				Message: fmt.Sprintf("Refund %s failed, manual action required", r.ID),
				Actor:   webhookActor,
			}, nil
		}
	})
	if err != nil {
		return "", err
	}

	if !changed {
		return "noop", nil
	}

	if eventType == payment.EventRefundFailed {
		s.logger.Error("refund failed", "order_number", updated.Number, "refund_id", r.ID, "gateway_payment_id", r.PaymentID)
		event := domain.NewOrderEvent(domain.EventRefundFailed, updated, s.now())
		event.Reference = r.ID
		s.notifier.Notify(ctx, event)
		return "applied", nil
	}

	s.afterTransition(ctx, updated, before)
	s.logger.Info("refund webhook applied", "event", eventType, "order_number", updated.Number, "refund_id", r.ID)
	return "applied", nil
}
