package address

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/joao-fontenele/giftshop/internal/domain"
)

type AddressRepository struct {
	db *sql.DB
}

func NewAddressRepository(db *sql.DB) *AddressRepository {
	return &AddressRepository{db: db}
}

const addressColumns = `id, user_id, full_name, email, phone, line1, line2, city, state, postal_code, country, is_default, created_at`

func scanAddress(row interface{ Scan(...any) error }, a *domain.Address) error {
	return row.Scan(&a.ID, &a.UserID, &a.FullName, &a.Email, &a.Phone, &a.Line1, &a.Line2,
		&a.City, &a.State, &a.PostalCode, &a.Country, &a.IsDefault, &a.CreatedAt)
}

func (r *AddressRepository) List(ctx context.Context, userID string) ([]domain.Address, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+addressColumns+`
		FROM addresses
		WHERE user_id = $1
		ORDER BY is_default DESC, created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	addresses := []domain.Address{}
	for rows.Next() {
		var a domain.Address
		if err := scanAddress(rows, &a); err != nil {
			return nil, err
		}
		addresses = append(addresses, a)
	}

	return addresses, rows.Err()
}

// Get returns nil when the address does not exist or belongs to another user.
func (r *AddressRepository) Get(ctx context.Context, userID, id string) (*domain.Address, error) {
	a := &domain.Address{}

	err := scanAddress(r.db.QueryRowContext(ctx, `
		SELECT `+addressColumns+`
		FROM addresses
		WHERE id = $1 AND user_id = $2
	`, id, userID), a)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	return a, nil
}

// Create stores a new address. The first address of a user becomes the default.
func (r *AddressRepository) Create(ctx context.Context, a *domain.Address) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := Insert(ctx, tx, a); err != nil {
		return err
	}

	return tx.Commit()
}

// Insert writes a within tx so it can share a transaction with an order.
func Insert(ctx context.Context, tx *sql.Tx, a *domain.Address) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.Country == "" {
		a.Country = "India"
	}

	var existing int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM addresses WHERE user_id = $1`, a.UserID).Scan(&existing); err != nil {
		return err
	}
	if existing == 0 {
		a.IsDefault = true
	}

	if a.IsDefault && existing > 0 {
		if _, err := tx.ExecContext(ctx, `UPDATE addresses SET is_default = FALSE WHERE user_id = $1`, a.UserID); err != nil {
			return err
		}
	}

	return tx.QueryRowContext(ctx, `
		INSERT INTO addresses (id, user_id, full_name, email, phone, line1, line2, city, state, postal_code, country, is_default, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW())
		RETURNING created_at
	`, a.ID, a.UserID, a.FullName, a.Email, a.Phone, a.Line1, a.Line2,
		a.City, a.State, a.PostalCode, a.Country, a.IsDefault).Scan(&a.CreatedAt)
}
