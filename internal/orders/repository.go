package orders

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/joao-fontenele/giftshop/internal/address"
	"github.com/joao-fontenele/giftshop/internal/cart"
	"github.com/joao-fontenele/giftshop/internal/coupon"
	"github.com/joao-fontenele/giftshop/internal/domain"
	"github.com/joao-fontenele/giftshop/internal/tracking"
)

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type OrderRepository struct {
	db *sql.DB
}

func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

const orderColumns = `id, order_number, user_id, status, payment_status, payment_method,
	gateway_order_id, gateway_payment_id, gateway_signature, refund_id, billing, shipping,
	subtotal, discount_amount, delivery_charge, total_amount, COALESCE(coupon_id, ''), coupon_code,
	special_instructions, delivery_date, delivery_time_slot, feedback_email_sent, feedback_email_sent_at,
	created_at, updated_at`

// CreateFromCart locks the user's cart, builds the order from it and writes
// the order, its items, the first tracking entry, the coupon usage and the
// address to save (when not nil) before emptying the cart, all in one
// transaction.
func (r *OrderRepository) CreateFromCart(ctx context.Context, userID string, save *domain.Address, build BuildFunc) (*domain.Order, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	c, err := cart.LockForCheckout(ctx, tx, userID)
	if err != nil {
		return nil, fmt.Errorf("lock cart: %w", err)
	}

	order, entry, err := build(c)
	if err != nil {
		return nil, err
	}

	if err := insertOrder(ctx, tx, order); err != nil {
		return nil, err
	}

	entry.OrderID = order.ID
	if err := tracking.Append(ctx, tx, entry); err != nil {
		return nil, fmt.Errorf("append tracking: %w", err)
	}

	if order.CouponID != "" {
		usage := &domain.CouponUsage{
			CouponID:       order.CouponID,
			UserID:         order.UserID,
			OrderID:        order.ID,
			DiscountAmount: order.DiscountAmount,
		}
		if err := coupon.Redeem(ctx, tx, usage); err != nil {
			return nil, err
		}
	}

	if save != nil {
		if err := address.Insert(ctx, tx, save); err != nil {
			return nil, fmt.Errorf("save address: %w", err)
		}
	}

	if err := cart.ClearItems(ctx, tx, c.ID); err != nil {
		return nil, fmt.Errorf("clear cart: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return order, nil
}

func insertOrder(ctx context.Context, tx *sql.Tx, o *domain.Order) error {
	billing, err := json.Marshal(o.Billing)
	if err != nil {
		return fmt.Errorf("marshal billing: %w", err)
	}
	shipping, err := json.Marshal(o.Shipping)
	if err != nil {
		return fmt.Errorf("marshal shipping: %w", err)
	}

	var couponID sql.NullString
	if o.CouponID != "" {
		couponID = sql.NullString{String: o.CouponID, Valid: true}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (id, order_number, user_id, status, payment_status, payment_method,
			gateway_order_id, billing, shipping, subtotal, discount_amount, delivery_charge, total_amount,
			coupon_id, coupon_code, special_instructions, delivery_date, delivery_time_slot, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $19)
	`, o.ID, o.Number, o.UserID, o.Status, o.PaymentStatus, o.PaymentMethod,
		o.GatewayOrderID, billing, shipping, o.Subtotal, o.DiscountAmount, o.DeliveryCharge, o.TotalAmount,
		couponID, o.CouponCode, o.SpecialInstructions, o.DeliveryDate, o.DeliveryTimeSlot, o.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	for _, item := range o.Items {
		addons, err := json.Marshal(item.AddOns)
		if err != nil {
			return fmt.Errorf("marshal addons: %w", err)
		}
		if item.AddOns == nil {
			addons = []byte("[]")
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_items (id, order_id, product_id, variant_id, product_name, variant_name,
				quantity, unit_price, addons_price, total_price, addons)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`, item.ID, o.ID, nullString(item.ProductID), nullString(item.VariantID), item.ProductName, item.VariantName,
			item.Quantity, item.UnitPrice, item.AddOnsPrice, item.TotalPrice, addons)
		if err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}

	return nil
}

// Update locks the order row, lets fn mutate it and writes the result with
// fn's tracking entry in one transaction. It reports whether anything was
// written.
func (r *OrderRepository) Update(ctx context.Context, number string, fn UpdateFunc) (*domain.Order, bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	defer func() { _ = tx.Rollback() }()

	order, err := getOrder(ctx, tx, `order_number = $1 FOR UPDATE`, number)
	if err != nil {
		return nil, false, err
	}
	if order == nil {
		return nil, false, ErrNotFound
	}

	before := order.Status
	entry, err := fn(order)
	if errors.Is(err, errUnchanged) {
		return order, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	if order.Status != before && (entry == nil || entry.Status != order.Status) {
		return nil, false, fmt.Errorf("order %s: status change to %s without matching tracking entry", order.Number, order.Status)
	}

	order.UpdatedAt = time.Now().UTC()
	_, err = tx.ExecContext(ctx, `
		UPDATE orders SET status = $2, payment_status = $3, gateway_order_id = $4, gateway_payment_id = $5,
			gateway_signature = $6, refund_id = $7, feedback_email_sent = $8, feedback_email_sent_at = $9,
			updated_at = $10
		WHERE id = $1
	`, order.ID, order.Status, order.PaymentStatus, order.GatewayOrderID, order.GatewayPaymentID,
		order.GatewaySignature, order.RefundID, order.FeedbackEmailSent, order.FeedbackEmailSentAt, order.UpdatedAt)
	if err != nil {
		return nil, false, fmt.Errorf("update order: %w", err)
	}

	if entry != nil {
		entry.OrderID = order.ID
		if err := tracking.Append(ctx, tx, entry); err != nil {
			return nil, false, fmt.Errorf("append tracking: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, false, err
	}

	return order, true, nil
}

func (r *OrderRepository) GetByNumber(ctx context.Context, number string) (*domain.Order, error) {
	return getOrder(ctx, r.db, `order_number = $1`, number)
}

func (r *OrderRepository) GetByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*domain.Order, error) {
	return getOrder(ctx, r.db, `gateway_order_id = $1 AND gateway_order_id <> ''`, gatewayOrderID)
}

func (r *OrderRepository) GetByGatewayPaymentID(ctx context.Context, gatewayPaymentID string) (*domain.Order, error) {
	return getOrder(ctx, r.db, `gateway_payment_id = $1 AND gateway_payment_id <> ''`, gatewayPaymentID)
}

func getOrder(ctx context.Context, q queryer, where string, arg any) (*domain.Order, error) {
	order, err := scanOrder(q.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE `+where, arg))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	items, err := loadItems(ctx, q, []string{order.ID})
	if err != nil {
		return nil, err
	}
	order.Items = items[order.ID]
	if order.Items == nil {
		order.Items = []domain.OrderItem{}
	}

	return order, nil
}

func (r *OrderRepository) ListByUser(ctx context.Context, userID string) ([]domain.Order, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var orders []domain.Order
	var ids []string
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *order)
		ids = append(ids, order.ID)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(ids) == 0 {
		return []domain.Order{}, nil
	}

	items, err := loadItems(ctx, r.db, ids)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		orders[i].Items = items[orders[i].ID]
		if orders[i].Items == nil {
			orders[i].Items = []domain.OrderItem{}
		}
	}

	return orders, nil
}

func (r *OrderRepository) Tracking(ctx context.Context, orderID string) ([]domain.TrackingEntry, error) {
	return tracking.List(ctx, r.db, orderID)
}

func (r *OrderRepository) WebhookSeen(ctx context.Context, eventID string) (bool, error) {
	var seen bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM webhook_events WHERE event_id = $1)
	`, eventID).Scan(&seen)
	return seen, err
}

func (r *OrderRepository) MarkWebhookProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO webhook_events (event_id, event_type, processed_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (event_id) DO NOTHING
	`, eventID, eventType)
	return err
}

func scanOrder(row interface{ Scan(...any) error }) (*domain.Order, error) {
	var (
		o            domain.Order
		billing      []byte
		shipping     []byte
		deliveryDate sql.NullTime
		feedbackAt   sql.NullTime
	)

	err := row.Scan(&o.ID, &o.Number, &o.UserID, &o.Status, &o.PaymentStatus, &o.PaymentMethod,
		&o.GatewayOrderID, &o.GatewayPaymentID, &o.GatewaySignature, &o.RefundID, &billing, &shipping,
		&o.Subtotal, &o.DiscountAmount, &o.DeliveryCharge, &o.TotalAmount, &o.CouponID, &o.CouponCode,
		&o.SpecialInstructions, &deliveryDate, &o.DeliveryTimeSlot, &o.FeedbackEmailSent, &feedbackAt,
		&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(billing, &o.Billing); err != nil {
		return nil, fmt.Errorf("decode billing: %w", err)
	}
	if err := json.Unmarshal(shipping, &o.Shipping); err != nil {
		return nil, fmt.Errorf("decode shipping: %w", err)
	}
	if deliveryDate.Valid {
		d := deliveryDate.Time
		o.DeliveryDate = &d
	}
	if feedbackAt.Valid {
		t := feedbackAt.Time
		o.FeedbackEmailSentAt = &t
	}

	return &o, nil
}

func loadItems(ctx context.Context, q queryer, orderIDs []string) (map[string][]domain.OrderItem, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT order_id, id, COALESCE(product_id, ''), COALESCE(variant_id, ''), product_name, variant_name,
			quantity, unit_price, addons_price, total_price, addons
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY id
	`, pq.Array(orderIDs))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	items := make(map[string][]domain.OrderItem)
	for rows.Next() {
		var orderID string
		var item domain.OrderItem
		var addons []byte
		if err := rows.Scan(&orderID, &item.ID, &item.ProductID, &item.VariantID, &item.ProductName, &item.VariantName,
			&item.Quantity, &item.UnitPrice, &item.AddOnsPrice, &item.TotalPrice, &addons); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(addons, &item.AddOns); err != nil {
			return nil, fmt.Errorf("decode addons: %w", err)
		}
		items[orderID] = append(items[orderID], item)
	}

	return items, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
