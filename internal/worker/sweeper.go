package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/joao-fontenele/giftshop/internal/cart"
	"github.com/joao-fontenele/giftshop/internal/domain"
)

const sweepBatch = 100

type AbandonedCarts interface {
	ClaimAbandoned(ctx context.Context, before time.Time, limit int) ([]cart.Abandoned, error)
}

type Notifier interface {
	Notify(ctx context.Context, event domain.OrderEvent)
}

// Sweeper reminds customers about carts left idle for longer than idleAfter.
// Each cart is claimed before it is announced, so it is reminded at most once
// until the customer touches it again.
type Sweeper struct {
	carts     AbandonedCarts
	notifier  Notifier
	idleAfter time.Duration
	interval  time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

func NewSweeper(carts AbandonedCarts, notifier Notifier, idleAfter, interval time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		carts:     carts,
		notifier:  notifier,
		idleAfter: idleAfter,
		interval:  interval,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("abandoned cart sweep failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Sweep claims abandoned carts batch by batch and returns how many were
// announced.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	now := s.now()
	before := now.Add(-s.idleAfter)

	total := 0
	for {
		claimed, err := s.carts.ClaimAbandoned(ctx, before, sweepBatch)
		if err != nil {
			return total, err
		}

		for _, c := range claimed {
			s.notifier.Notify(ctx, domain.OrderEvent{
				Type:          domain.EventCartAbandoned,
				UserID:        c.UserID,
				CustomerName:  c.FullName,
				CustomerEmail: c.Email,
				ItemCount:     c.ItemCount,
				Timestamp:     now,
			})
		}
		total += len(claimed)

		if len(claimed) < sweepBatch {
			break
		}
	}

	if total > 0 {
		s.logger.Info("abandoned carts announced", "count", total)
	}
	return total, nil
}
