package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrCouponInactive  = errors.New("coupon is not active")
	ErrCouponExpired   = errors.New("coupon is not valid at this time")
	ErrCouponMinOrder  = errors.New("order does not meet the coupon minimum")
	ErrCouponExhausted = errors.New("coupon usage limit reached")
	ErrCouponUsed      = errors.New("coupon already used")
)

type DiscountType string

const (
	DiscountPercentage DiscountType = "percentage"
	DiscountFixed      DiscountType = "fixed"
)

type Coupon struct {
	ID            string          `json:"id"`
	Code          string          `json:"code"`
	DiscountType  DiscountType    `json:"discount_type"`
	DiscountValue decimal.Decimal `json:"discount_value"`
	MinOrderValue decimal.Decimal `json:"min_order_value"`
	ValidFrom     time.Time       `json:"valid_from"`
	ValidUntil    time.Time       `json:"valid_until"`
	UsageLimit    int             `json:"usage_limit"`
	TimesUsed     int             `json:"times_used"`
	Active        bool            `json:"active"`
}

// Discount validates the coupon against subtotal at now and returns the
// amount to take off. A zero usage limit means unlimited.
func (c Coupon) Discount(subtotal decimal.Decimal, now time.Time) (decimal.Decimal, error) {
	if !c.Active {
		return decimal.Zero, ErrCouponInactive
	}
	if now.Before(c.ValidFrom) || (!c.ValidUntil.IsZero() && now.After(c.ValidUntil)) {
		return decimal.Zero, ErrCouponExpired
	}
	if subtotal.LessThan(c.MinOrderValue) {
		return decimal.Zero, fmt.Errorf("%w of %s", ErrCouponMinOrder, c.MinOrderValue.StringFixed(2))
	}
	if c.UsageLimit > 0 && c.TimesUsed >= c.UsageLimit {
		return decimal.Zero, ErrCouponExhausted
	}

	var discount decimal.Decimal
	switch c.DiscountType {
	case DiscountPercentage:
		discount = subtotal.Mul(c.DiscountValue).Div(decimal.NewFromInt(100)).Round(2)
	default:
		discount = c.DiscountValue
	}
	if discount.GreaterThan(subtotal) {
		discount = subtotal
	}
	return discount, nil
}

type CouponUsage struct {
	ID             string          `json:"id"`
	CouponID       string          `json:"coupon_id"`
	UserID         string          `json:"user_id"`
	OrderID        string          `json:"order_id"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	CreatedAt      time.Time       `json:"created_at"`
}

// IsCouponError reports whether err is one of the coupon validation errors.
func IsCouponError(err error) bool {
	for _, target := range []error{ErrCouponInactive, ErrCouponExpired, ErrCouponMinOrder, ErrCouponExhausted, ErrCouponUsed} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
