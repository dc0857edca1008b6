package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const WalletKindDeliveryBonus = "delivery_bonus"

type WalletCredit struct {
	UserID  string
	OrderID string
	Kind    string
	Amount  decimal.Decimal
	Note    string
}

type WalletTransaction struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	OrderID   string          `json:"order_id,omitempty"`
	Kind      string          `json:"kind"`
	Amount    decimal.Decimal `json:"amount"`
	Note      string          `json:"note,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

type Wallet struct {
	UserID       string              `json:"user_id"`
	Balance      decimal.Decimal     `json:"balance"`
	Transactions []WalletTransaction `json:"transactions"`
}
