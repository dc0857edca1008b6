package notify

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/joao-fontenele/giftshop/internal/domain"
)

type recordingPublisher struct {
	keys []string
	err  error
}

func (r *recordingPublisher) Publish(_ context.Context, key string, _ any) error {
	r.keys = append(r.keys, key)
	return r.err
}

func TestPublisher_Notify(t *testing.T) {
	t.Run("keys by order number", func(t *testing.T) {
		rec := &recordingPublisher{}
		p := NewPublisher(rec, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))

		p.Notify(context.Background(), domain.OrderEvent{Type: domain.EventOrderCreated, OrderNumber: "ORD-1", UserID: "u1"})
		p.Notify(context.Background(), domain.OrderEvent{Type: domain.EventCartAbandoned, UserID: "u2"})

		assert.Equal(t, []string{"ORD-1", "u2"}, rec.keys)
	})

	t.Run("swallows publish errors", func(t *testing.T) {
		var logs bytes.Buffer
		p := NewPublisher(&recordingPublisher{err: errors.New("broker down")}, slog.New(slog.NewTextHandler(&logs, nil)))

		p.Notify(context.Background(), domain.OrderEvent{Type: domain.EventStatusChanged, OrderNumber: "ORD-2"})

		assert.Contains(t, logs.String(), "failed to publish notification")
		assert.Contains(t, logs.String(), "broker down")
	})
}
