package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Settings holds the storefront-wide business parameters. It is built once
// from configuration and passed to whatever needs it.
type Settings struct {
	Currency              string
	DeliveryCharge        decimal.Decimal
	FreeDeliveryThreshold decimal.Decimal
	DeliveryBonusRate     decimal.Decimal
	DeliveryBonusCap      decimal.Decimal
	FeedbackDelay         time.Duration
	CartAbandonAfter      time.Duration
	OpsEmail              string
	SiteURL               string
}

// DeliveryChargeFor returns the standard charge, waived at or above the free
// delivery threshold when one is set.
func (s Settings) DeliveryChargeFor(subtotal decimal.Decimal) decimal.Decimal {
	if s.FreeDeliveryThreshold.IsPositive() && subtotal.GreaterThanOrEqual(s.FreeDeliveryThreshold) {
		return decimal.Zero
	}
	return s.DeliveryCharge
}

// DeliveryBonus is the wallet credit for a delivered order.
func (s Settings) DeliveryBonus(total decimal.Decimal) decimal.Decimal {
	bonus := total.Mul(s.DeliveryBonusRate).Round(2)
	if s.DeliveryBonusCap.IsPositive() && bonus.GreaterThan(s.DeliveryBonusCap) {
		return s.DeliveryBonusCap
	}
	return bonus
}
