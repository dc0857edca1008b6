package wallet

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/giftshop/internal/domain"
)

const recentTransactions = 50

type WalletRepository struct {
	db *sql.DB
}

func NewWalletRepository(db *sql.DB) *WalletRepository {
	return &WalletRepository{db: db}
}

// Credit adds amount to the user's balance once per (order, kind). It
// reports false when the credit had already been applied.
func (r *WalletRepository) Credit(ctx context.Context, credit domain.WalletCredit) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	var orderID sql.NullString
	if credit.OrderID != "" {
		orderID = sql.NullString{String: credit.OrderID, Valid: true}
	}

	result, err := tx.ExecContext(ctx, `
		INSERT INTO wallet_transactions (id, user_id, order_id, kind, amount, note, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (order_id, kind) DO NOTHING
	`, uuid.New().String(), credit.UserID, orderID, credit.Kind, credit.Amount, credit.Note)
	if err != nil {
		return false, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if rowsAffected == 0 {
		return false, nil
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO wallets (user_id, balance, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (user_id) DO UPDATE
		SET balance = wallets.balance + EXCLUDED.balance, updated_at = NOW()
	`, credit.UserID, credit.Amount)
	if err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}

	return true, nil
}

// Get returns the balance and the most recent transactions. Users without a
// wallet row get a zero balance.
func (r *WalletRepository) Get(ctx context.Context, userID string) (*domain.Wallet, error) {
	w := &domain.Wallet{UserID: userID, Balance: decimal.Zero, Transactions: []domain.WalletTransaction{}}

	err := r.db.QueryRowContext(ctx, `SELECT balance FROM wallets WHERE user_id = $1`, userID).Scan(&w.Balance)
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, COALESCE(order_id, ''), kind, amount, note, created_at
		FROM wallet_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, recentTransactions)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var t domain.WalletTransaction
		if err := rows.Scan(&t.ID, &t.UserID, &t.OrderID, &t.Kind, &t.Amount, &t.Note, &t.CreatedAt); err != nil {
			return nil, err
		}
		w.Transactions = append(w.Transactions, t)
	}

	return w, rows.Err()
}
