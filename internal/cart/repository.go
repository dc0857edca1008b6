package cart

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/giftshop/internal/domain"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// NewItem is a line to add to a cart.
type NewItem struct {
	ProductID     string
	VariantID     string
	Quantity      int
	AddOnIDs      []string
	Customization domain.Customization
}

// Abandoned is a cart claimed by the abandonment sweep.
type Abandoned struct {
	CartID    string
	UserID    string
	Email     string
	FullName  string
	ItemCount int
}

type CartRepository struct {
	db *sql.DB
}

func NewCartRepository(db *sql.DB) *CartRepository {
	return &CartRepository{db: db}
}

func (r *CartRepository) Get(ctx context.Context, userID string) (*domain.Cart, error) {
	return r.GetOrCreate(ctx, userID)
}

// GetOrCreate returns the user's cart, creating it on first use.
func (r *CartRepository) GetOrCreate(ctx context.Context, userID string) (*domain.Cart, error) {
	c, err := ensureCart(ctx, r.db, userID)
	if err != nil {
		return nil, err
	}

	items, err := loadItems(ctx, r.db, c.ID, false)
	if err != nil {
		return nil, err
	}
	c.Items = items

	return c, nil
}

func (r *CartRepository) AddItem(ctx context.Context, userID string, item NewItem) (*domain.Cart, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	c, err := ensureCart(ctx, tx, userID)
	if err != nil {
		return nil, err
	}

	if err := insertItem(ctx, tx, c.ID, item); err != nil {
		return nil, err
	}

	if err := touch(ctx, tx, c.ID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return r.GetOrCreate(ctx, userID)
}

// AddOrIncrement adds items to the user's cart in one transaction. Each item
// bumps the quantity of an existing plain line for the same product and
// variant, or adds a new one. Customised lines and lines with add-ons are
// never merged.
func (r *CartRepository) AddOrIncrement(ctx context.Context, userID string, items []NewItem) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	c, err := ensureCart(ctx, tx, userID)
	if err != nil {
		return err
	}

	for _, item := range items {
		if err := incrementOrInsert(ctx, tx, c.ID, item); err != nil {
			return err
		}
	}

	if err := touch(ctx, tx, c.ID); err != nil {
		return err
	}

	return tx.Commit()
}

func incrementOrInsert(ctx context.Context, q querier, cartID string, item NewItem) error {
	result, err := q.ExecContext(ctx, `
		UPDATE cart_items SET quantity = quantity + $4
		WHERE id = (
			SELECT ci.id FROM cart_items ci
			WHERE ci.cart_id = $1 AND ci.product_id = $2 AND COALESCE(ci.variant_id, '') = $3
				AND ci.custom_name = '' AND ci.custom_message = '' AND ci.custom_date IS NULL
				AND ci.custom_flavor = '' AND ci.custom_data IS NULL
				AND NOT EXISTS (SELECT 1 FROM cart_item_addons a WHERE a.cart_item_id = ci.id)
			ORDER BY ci.created_at
			LIMIT 1
		)
	`, cartID, item.ProductID, item.VariantID, item.Quantity)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected > 0 {
		return nil
	}

	return insertItem(ctx, q, cartID, NewItem{ProductID: item.ProductID, VariantID: item.VariantID, Quantity: item.Quantity})
}

// UpdateQuantity reports false when the item does not belong to the user.
func (r *CartRepository) UpdateQuantity(ctx context.Context, userID, itemID string, quantity int) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE cart_items ci SET quantity = $3
		FROM carts c
		WHERE ci.cart_id = c.id AND c.user_id = $1 AND ci.id = $2
	`, userID, itemID, quantity)
	if err != nil {
		return false, err
	}

	return r.afterItemChange(ctx, userID, result)
}

func (r *CartRepository) RemoveItem(ctx context.Context, userID, itemID string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM cart_items ci
		USING carts c
		WHERE ci.cart_id = c.id AND c.user_id = $1 AND ci.id = $2
	`, userID, itemID)
	if err != nil {
		return false, err
	}

	return r.afterItemChange(ctx, userID, result)
}

func (r *CartRepository) afterItemChange(ctx context.Context, userID string, result sql.Result) (bool, error) {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if rowsAffected == 0 {
		return false, nil
	}

	_, err = r.db.ExecContext(ctx, `
		UPDATE carts SET last_activity_at = NOW(), abandonment_notified_at = NULL
		WHERE user_id = $1
	`, userID)
	return err == nil, err
}

// ClaimAbandoned marks and returns carts that have been idle since before,
// still hold items and have not been notified. The claim re-checks every
// condition at execution time, so a cart touched after it was selected is
// left alone.
func (r *CartRepository) ClaimAbandoned(ctx context.Context, before time.Time, limit int) ([]Abandoned, error) {
	rows, err := r.db.QueryContext(ctx, `
		UPDATE carts c SET abandonment_notified_at = NOW()
		FROM users u
		WHERE u.id = c.user_id
			AND c.id IN (
				SELECT c2.id FROM carts c2
				WHERE c2.last_activity_at < $1
					AND c2.abandonment_notified_at IS NULL
					AND EXISTS (SELECT 1 FROM cart_items ci WHERE ci.cart_id = c2.id)
				ORDER BY c2.last_activity_at
				LIMIT $2
				FOR UPDATE SKIP LOCKED
			)
		RETURNING c.id, c.user_id, u.email, u.full_name,
			(SELECT COUNT(*) FROM cart_items ci WHERE ci.cart_id = c.id)
	`, before, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var claimed []Abandoned
	for rows.Next() {
		var a Abandoned
		if err := rows.Scan(&a.CartID, &a.UserID, &a.Email, &a.FullName, &a.ItemCount); err != nil {
			return nil, err
		}
		claimed = append(claimed, a)
	}

	return claimed, rows.Err()
}

// LockForCheckout locks the user's cart row for the rest of tx and returns a
// snapshot of its items. Referenced products are share-locked so they cannot
// be deactivated or repriced until tx ends. A user without a cart gets an
// empty one.
func LockForCheckout(ctx context.Context, tx *sql.Tx, userID string) (*domain.Cart, error) {
	c := &domain.Cart{UserID: userID}

	err := tx.QueryRowContext(ctx, `
		SELECT id, last_activity_at, abandonment_notified_at
		FROM carts
		WHERE user_id = $1
		FOR UPDATE
	`, userID).Scan(&c.ID, &c.LastActivityAt, &c.AbandonmentNotifiedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return c, nil
		}
		return nil, err
	}

	items, err := loadItems(ctx, tx, c.ID, true)
	if err != nil {
		return nil, err
	}
	c.Items = items

	return c, nil
}

// ClearItems empties a cart; the cart row itself is kept.
func ClearItems(ctx context.Context, tx *sql.Tx, cartID string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM cart_items WHERE cart_id = $1`, cartID); err != nil {
		return err
	}
	return touch(ctx, tx, cartID)
}

func ensureCart(ctx context.Context, q querier, userID string) (*domain.Cart, error) {
	_, err := q.ExecContext(ctx, `
		INSERT INTO carts (id, user_id, last_activity_at, created_at)
		VALUES ($1, $2, NOW(), NOW())
		ON CONFLICT (user_id) DO NOTHING
	`, uuid.New().String(), userID)
	if err != nil {
		return nil, err
	}

	c := &domain.Cart{UserID: userID}
	err = q.QueryRowContext(ctx, `
		SELECT id, last_activity_at, abandonment_notified_at
		FROM carts
		WHERE user_id = $1
	`, userID).Scan(&c.ID, &c.LastActivityAt, &c.AbandonmentNotifiedAt)
	if err != nil {
		return nil, err
	}

	c.Items = []domain.CartItem{}
	return c, nil
}

func touch(ctx context.Context, q querier, cartID string) error {
	_, err := q.ExecContext(ctx, `
		UPDATE carts SET last_activity_at = NOW(), abandonment_notified_at = NULL
		WHERE id = $1
	`, cartID)
	return err
}

func insertItem(ctx context.Context, q querier, cartID string, item NewItem) error {
	itemID := uuid.New().String()

	var variantID sql.NullString
	if item.VariantID != "" {
		variantID = sql.NullString{String: item.VariantID, Valid: true}
	}

	var customData []byte
	if len(item.Customization.Data) > 0 {
		customData = item.Customization.Data
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO cart_items (id, cart_id, product_id, variant_id, quantity,
			custom_name, custom_message, custom_date, custom_flavor, custom_data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
	`, itemID, cartID, item.ProductID, variantID, item.Quantity,
		item.Customization.Name, item.Customization.Message, item.Customization.Date,
		item.Customization.Flavor, customData)
	if err != nil {
		return err
	}

	for _, addonID := range item.AddOnIDs {
		_, err := q.ExecContext(ctx, `
			INSERT INTO cart_item_addons (cart_item_id, addon_id)
			VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, itemID, addonID)
		if err != nil {
			return err
		}
	}

	return nil
}

func loadItems(ctx context.Context, q querier, cartID string, lock bool) ([]domain.CartItem, error) {
	query := `
		SELECT ci.id, ci.cart_id, ci.quantity, ci.custom_name, ci.custom_message, ci.custom_date,
			ci.custom_flavor, ci.custom_data, ci.created_at,
			p.id, p.name, p.slug, p.price, p.stock, p.active,
			v.id, v.name, v.price, v.stock, v.active
		FROM cart_items ci
		JOIN products p ON p.id = ci.product_id
		LEFT JOIN product_variants v ON v.id = ci.variant_id
		WHERE ci.cart_id = $1
		ORDER BY ci.created_at, ci.id`
	if lock {
		query += ` FOR SHARE OF p`
	}

	rows, err := q.QueryContext(ctx, query, cartID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	items := []domain.CartItem{}
	index := make(map[string]int)
	for rows.Next() {
		var (
			item         domain.CartItem
			customDate   sql.NullTime
			customData   []byte
			variantID    sql.NullString
			variantName  sql.NullString
			variantPrice decimal.NullDecimal
			variantStock sql.NullInt64
			variantOn    sql.NullBool
		)
		if err := rows.Scan(&item.ID, &item.CartID, &item.Quantity,
			&item.Customization.Name, &item.Customization.Message, &customDate,
			&item.Customization.Flavor, &customData, &item.CreatedAt,
			&item.Product.ID, &item.Product.Name, &item.Product.Slug, &item.Product.Price,
			&item.Product.Stock, &item.Product.Active,
			&variantID, &variantName, &variantPrice, &variantStock, &variantOn); err != nil {
			return nil, err
		}
		if customDate.Valid {
			d := customDate.Time
			item.Customization.Date = &d
		}
		if len(customData) > 0 {
			item.Customization.Data = customData
		}
		if variantID.Valid {
			item.Variant = &domain.Variant{
				ID:        variantID.String,
				ProductID: item.Product.ID,
				Name:      variantName.String,
				Price:     variantPrice.Decimal,
				Stock:     int(variantStock.Int64),
				Active:    variantOn.Bool,
			}
		}
		index[item.ID] = len(items)
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(items) == 0 {
		return items, nil
	}

	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ID)
	}

	addonRows, err := q.QueryContext(ctx, `
		SELECT cia.cart_item_id, a.id, a.name, a.price, a.active
		FROM cart_item_addons cia
		JOIN addons a ON a.id = cia.addon_id
		WHERE cia.cart_item_id = ANY($1)
		ORDER BY a.name
	`, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer func() { _ = addonRows.Close() }()

	for addonRows.Next() {
		var itemID string
		var a domain.AddOn
		if err := addonRows.Scan(&itemID, &a.ID, &a.Name, &a.Price, &a.Active); err != nil {
			return nil, err
		}
		i := index[itemID]
		items[i].AddOns = append(items[i].AddOns, a)
	}

	return items, addonRows.Err()
}
