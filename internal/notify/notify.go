// Package notify hands order events to the notification worker. Delivery is
// best effort: a failure is logged and never reaches the caller.
package notify

import (
	"context"
	"log/slog"

	"github.com/joao-fontenele/giftshop/internal/domain"
)

type EventPublisher interface {
	Publish(ctx context.Context, key string, event any) error
}

type Publisher struct {
	publisher EventPublisher
	logger    *slog.Logger
}

func NewPublisher(publisher EventPublisher, logger *slog.Logger) *Publisher {
	return &Publisher{
		publisher: publisher,
		logger:    logger,
	}
}

// Notify publishes event keyed by order number so events of one order stay
// in sequence on a partition.
func (p *Publisher) Notify(ctx context.Context, event domain.OrderEvent) {
	key := event.OrderNumber
	if key == "" {
		key = event.UserID
	}

	if err := p.publisher.Publish(ctx, key, event); err != nil {
		p.logger.Error("failed to publish notification", "error", err, "type", event.Type, "order_number", event.OrderNumber)
		return
	}

	p.logger.Info("notification published", "type", event.Type, "order_number", event.OrderNumber)
}

// LogOnly records events without sending them, for setups without Kafka.
type LogOnly struct {
	logger *slog.Logger
}

func NewLogOnly(logger *slog.Logger) *LogOnly {
	return &LogOnly{logger: logger}
}

func (l *LogOnly) Notify(_ context.Context, event domain.OrderEvent) {
	l.logger.Info("notification skipped, no broker configured", "type", event.Type, "order_number", event.OrderNumber, "status", event.Status)
}
