package coupon

import (
	"context"
	"database/sql"
	"strings"

	"github.com/google/uuid"

	"github.com/joao-fontenele/giftshop/internal/domain"
)

type CouponRepository struct {
	db *sql.DB
}

func NewCouponRepository(db *sql.DB) *CouponRepository {
	return &CouponRepository{db: db}
}

// GetByCode matches codes case-insensitively and returns nil when none exists.
func (r *CouponRepository) GetByCode(ctx context.Context, code string) (*domain.Coupon, error) {
	c := &domain.Coupon{}
	var validUntil sql.NullTime

	err := r.db.QueryRowContext(ctx, `
		SELECT id, code, discount_type, discount_value, min_order_value, valid_from, valid_until,
			usage_limit, times_used, active
		FROM coupons
		WHERE UPPER(code) = $1
	`, strings.ToUpper(strings.TrimSpace(code))).Scan(&c.ID, &c.Code, &c.DiscountType, &c.DiscountValue,
		&c.MinOrderValue, &c.ValidFrom, &validUntil, &c.UsageLimit, &c.TimesUsed, &c.Active)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if validUntil.Valid {
		c.ValidUntil = validUntil.Time
	}

	return c, nil
}

func (r *CouponRepository) HasUsed(ctx context.Context, couponID, userID string) (bool, error) {
	var used bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM coupon_usages WHERE coupon_id = $1 AND user_id = $2)
	`, couponID, userID).Scan(&used)
	return used, err
}

// Redeem records a usage inside the order transaction. It fails with
// domain.ErrCouponExhausted when the limit was reached concurrently and with
// domain.ErrCouponUsed when the user already redeemed the coupon.
func Redeem(ctx context.Context, tx *sql.Tx, usage *domain.CouponUsage) error {
	if usage.ID == "" {
		usage.ID = uuid.New().String()
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE coupons SET times_used = times_used + 1
		WHERE id = $1 AND (usage_limit = 0 OR times_used < usage_limit)
	`, usage.CouponID)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return domain.ErrCouponExhausted
	}

	result, err = tx.ExecContext(ctx, `
		INSERT INTO coupon_usages (id, coupon_id, user_id, order_id, discount_amount, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (coupon_id, user_id) DO NOTHING
	`, usage.ID, usage.CouponID, usage.UserID, usage.OrderID, usage.DiscountAmount)
	if err != nil {
		return err
	}

	rowsAffected, err = result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return domain.ErrCouponUsed
	}

	return nil
}
