package coupon

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joao-fontenele/giftshop/internal/auth"
	"github.com/joao-fontenele/giftshop/internal/domain"
)

type stubLookup struct {
	coupons map[string]domain.Coupon
	used    map[string]bool
}

func (s *stubLookup) GetByCode(_ context.Context, code string) (*domain.Coupon, error) {
	c, ok := s.coupons[strings.ToUpper(code)]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (s *stubLookup) HasUsed(_ context.Context, couponID, userID string) (bool, error) {
	return s.used[couponID+"/"+userID], nil
}

type stubCarts struct {
	cart domain.Cart
}

func (s *stubCarts) GetOrCreate(context.Context, string) (*domain.Cart, error) {
	c := s.cart
	return &c, nil
}

var now = time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

func newLookup() *stubLookup {
	return &stubLookup{
		coupons: map[string]domain.Coupon{
			"WELCOME10": {ID: "c1", Code: "WELCOME10", DiscountType: domain.DiscountPercentage, DiscountValue: decimal.NewFromInt(10), ValidFrom: now.AddDate(0, -1, 0), Active: true},
			"FLAT200":   {ID: "c2", Code: "FLAT200", DiscountType: domain.DiscountFixed, DiscountValue: decimal.NewFromInt(200), MinOrderValue: decimal.NewFromInt(2000), ValidFrom: now.AddDate(0, -1, 0), Active: true},
		},
		used: map[string]bool{"c1/user-2": true},
	}
}

func TestValidator_Evaluate(t *testing.T) {
	v := NewValidator(newLookup())
	ctx := context.Background()

	t.Run("percentage coupon", func(t *testing.T) {
		c, discount, err := v.Evaluate(ctx, "welcome10", "user-1", decimal.NewFromInt(1700), now)
		require.NoError(t, err)
		assert.Equal(t, "WELCOME10", c.Code)
		assert.True(t, decimal.NewFromInt(170).Equal(discount))
	})

	t.Run("unknown code", func(t *testing.T) {
		_, _, err := v.Evaluate(ctx, "NOPE", "user-1", decimal.NewFromInt(1700), now)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("already used by this user", func(t *testing.T) {
		_, _, err := v.Evaluate(ctx, "WELCOME10", "user-2", decimal.NewFromInt(1700), now)
		assert.ErrorIs(t, err, domain.ErrCouponUsed)
	})

	t.Run("below minimum order", func(t *testing.T) {
		_, _, err := v.Evaluate(ctx, "FLAT200", "user-1", decimal.NewFromInt(1700), now)
		assert.ErrorIs(t, err, domain.ErrCouponMinOrder)
	})
}

func TestHandler_Preview(t *testing.T) {
	carts := &stubCarts{cart: domain.Cart{ID: "cart-1", Items: []domain.CartItem{
		{ID: "i1", Product: domain.Product{ID: "roses", Price: decimal.NewFromInt(750)}, Quantity: 2,
			AddOns: []domain.AddOn{{ID: "card", Price: decimal.NewFromInt(100)}}},
	}}}
	h := NewHandler(NewValidator(newLookup()), carts, slog.New(slog.NewTextHandler(io.Discard, nil)))
	h.now = func() time.Time { return now }

	preview := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/coupons/preview", strings.NewReader(body))
		req = req.WithContext(auth.WithIdentity(req.Context(), auth.Identity{UserID: "user-1"}))
		rec := httptest.NewRecorder()
		h.HandlePreview(rec, req)
		return rec
	}

	t.Run("prices coupon against the cart", func(t *testing.T) {
		rec := preview(`{"code":"WELCOME10"}`)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp PreviewResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.True(t, decimal.NewFromInt(1700).Equal(resp.Subtotal))
		assert.True(t, decimal.NewFromInt(170).Equal(resp.Discount))
	})

	t.Run("invalid coupon is a bad request", func(t *testing.T) {
		assert.Equal(t, http.StatusBadRequest, preview(`{"code":"FLAT200"}`).Code)
	})

	t.Run("unknown coupon is not found", func(t *testing.T) {
		assert.Equal(t, http.StatusNotFound, preview(`{"code":"NOPE"}`).Code)
	})

	t.Run("missing code", func(t *testing.T) {
		assert.Equal(t, http.StatusBadRequest, preview(`{}`).Code)
	})
}
