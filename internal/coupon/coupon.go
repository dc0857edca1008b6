// Package coupon looks up discount codes and validates them for a user.
package coupon

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/giftshop/internal/domain"
)

var ErrNotFound = errors.New("coupon not found")

type Lookup interface {
	GetByCode(ctx context.Context, code string) (*domain.Coupon, error)
	HasUsed(ctx context.Context, couponID, userID string) (bool, error)
}

type Validator struct {
	repo Lookup
}

func NewValidator(repo Lookup) *Validator {
	return &Validator{repo: repo}
}

// Evaluate resolves code and returns the coupon with the discount it grants on
// subtotal. Each user may redeem a coupon once.
func (v *Validator) Evaluate(ctx context.Context, code, userID string, subtotal decimal.Decimal, now time.Time) (*domain.Coupon, decimal.Decimal, error) {
	c, err := v.repo.GetByCode(ctx, code)
	if err != nil {
		return nil, decimal.Zero, err
	}
	if c == nil {
		return nil, decimal.Zero, ErrNotFound
	}

	discount, err := c.Discount(subtotal, now)
	if err != nil {
		return nil, decimal.Zero, err
	}

	used, err := v.repo.HasUsed(ctx, c.ID, userID)
	if err != nil {
		return nil, decimal.Zero, err
	}
	if used {
		return nil, decimal.Zero, domain.ErrCouponUsed
	}

	return c, discount, nil
}
