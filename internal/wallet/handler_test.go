package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/giftshop/internal/auth"
	"github.com/joao-fontenele/giftshop/internal/domain"
)

type stubReader struct {
	wallet *domain.Wallet
	err    error
}

func (s *stubReader) Get(_ context.Context, userID string) (*domain.Wallet, error) {
	if s.err != nil {
		return nil, s.err
	}
	w := *s.wallet
	w.UserID = userID
	return &w, nil
}

func TestHandler_Get(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	newRequest := func() *http.Request {
		req := httptest.NewRequest(http.MethodGet, "/wallet", nil)
		return req.WithContext(auth.WithIdentity(req.Context(), auth.Identity{UserID: "user-1"}))
	}

	t.Run("returns balance", func(t *testing.T) {
		h := NewHandler(&stubReader{wallet: &domain.Wallet{
			Balance: decimal.NewFromInt(175),
			Transactions: []domain.WalletTransaction{
				{ID: "t1", Kind: domain.WalletKindDeliveryBonus, Amount: decimal.NewFromInt(175), OrderID: "o1"},
			},
		}}, logger)

		rec := httptest.NewRecorder()
		h.HandleGet(rec, newRequest())

		if rec.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rec.Code)
		}
		if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
			t.Errorf("expected JSON content type, got %q", ct)
		}

		var got domain.Wallet
		if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if got.UserID != "user-1" || !got.Balance.Equal(decimal.NewFromInt(175)) {
			t.Errorf("unexpected wallet: %+v", got)
		}
		if len(got.Transactions) != 1 {
			t.Errorf("expected 1 transaction, got %d", len(got.Transactions))
		}
	})

	t.Run("returns 500 on repository error", func(t *testing.T) {
		h := NewHandler(&stubReader{err: errors.New("db down")}, logger)

		rec := httptest.NewRecorder()
		h.HandleGet(rec, newRequest())

		if rec.Code != http.StatusInternalServerError {
			t.Errorf("expected status 500, got %d", rec.Code)
		}
		if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
			t.Errorf("expected JSON content type, got %q", ct)
		}

		var body map[string]any
		if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if body["success"] != false || body["message"] != "internal server error" {
			t.Errorf("unexpected error body: %v", body)
		}
	})
}
