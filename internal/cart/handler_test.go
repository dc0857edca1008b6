package cart

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joao-fontenele/giftshop/internal/auth"
	"github.com/joao-fontenele/giftshop/internal/domain"
)

type memStore struct {
	carts   map[string]*domain.Cart
	catalog *stubCatalog
	nextID  int
}

func newMemStore(catalog *stubCatalog) *memStore {
	return &memStore{carts: make(map[string]*domain.Cart), catalog: catalog}
}

func (s *memStore) GetOrCreate(_ context.Context, userID string) (*domain.Cart, error) {
	c, ok := s.carts[userID]
	if !ok {
		c = &domain.Cart{ID: "cart-" + userID, UserID: userID, Items: []domain.CartItem{}}
		s.carts[userID] = c
	}
	return c, nil
}

func (s *memStore) AddItem(ctx context.Context, userID string, item NewItem) (*domain.Cart, error) {
	c, _ := s.GetOrCreate(ctx, userID)
	s.nextID++

	p := s.catalog.products[item.ProductID]
	line := domain.CartItem{
		ID:            fmt.Sprintf("item-%d", s.nextID),
		CartID:        c.ID,
		Product:       p,
		Quantity:      item.Quantity,
		Customization: item.Customization,
	}
	for _, v := range p.Variants {
		if v.ID == item.VariantID {
			line.Variant = &v
		}
	}
	for _, id := range item.AddOnIDs {
		line.AddOns = append(line.AddOns, s.catalog.addons[id])
	}
	c.Items = append(c.Items, line)
	return c, nil
}

func (s *memStore) UpdateQuantity(_ context.Context, userID, itemID string, quantity int) (bool, error) {
	c, ok := s.carts[userID]
	if !ok {
		return false, nil
	}
	for i := range c.Items {
		if c.Items[i].ID == itemID {
			c.Items[i].Quantity = quantity
			return true, nil
		}
	}
	return false, nil
}

func (s *memStore) RemoveItem(_ context.Context, userID, itemID string) (bool, error) {
	c, ok := s.carts[userID]
	if !ok {
		return false, nil
	}
	for i := range c.Items {
		if c.Items[i].ID == itemID {
			c.Items = append(c.Items[:i], c.Items[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

type stubCatalog struct {
	products map[string]domain.Product
	addons   map[string]domain.AddOn
}

func (c *stubCatalog) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	p, ok := c.products[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (c *stubCatalog) AddOns(_ context.Context, ids []string) ([]domain.AddOn, error) {
	var out []domain.AddOn
	for _, id := range ids {
		if a, ok := c.addons[id]; ok {
			out = append(out, a)
		}
	}
	return out, nil
}

func newTestCatalog() *stubCatalog {
	return &stubCatalog{
		products: map[string]domain.Product{
			"roses": {
				ID: "roses", Name: "Red Roses", Price: decimal.NewFromInt(750), Stock: 10, Active: true,
				Variants: []domain.Variant{{ID: "roses-24", ProductID: "roses", Name: "24 stems", Price: decimal.NewFromInt(1300), Stock: 5, Active: true}},
			},
			"orchid":  {ID: "orchid", Name: "Orchid", Price: decimal.NewFromInt(900), Stock: 0, Active: true},
			"retired": {ID: "retired", Name: "Hamper", Price: decimal.NewFromInt(1999), Stock: 3, Active: false},
		},
		addons: map[string]domain.AddOn{
			"card": {ID: "card", Name: "Greeting card", Price: decimal.NewFromInt(100), Active: true},
			"vase": {ID: "vase", Name: "Vase", Price: decimal.NewFromInt(400), Active: false},
		},
	}
}

func newTestMux(store Store, catalog Catalog) *http.ServeMux {
	h := NewHandler(store, catalog, slog.New(slog.NewTextHandler(io.Discard, nil)))
	mux := http.NewServeMux()
	mux.HandleFunc("GET /cart", h.HandleGet)
	mux.HandleFunc("POST /cart/items", h.HandleAddItem)
	mux.HandleFunc("PATCH /cart/items/{id}", h.HandleUpdateItem)
	mux.HandleFunc("DELETE /cart/items/{id}", h.HandleRemoveItem)
	return mux
}

func do(mux *http.ServeMux, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req = req.WithContext(auth.WithIdentity(req.Context(), auth.Identity{UserID: "user-1", Role: auth.RoleCustomer}))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestHandler_AddItem(t *testing.T) {
	catalog := newTestCatalog()

	t.Run("adds item with add-on and computes subtotal", func(t *testing.T) {
		mux := newTestMux(newMemStore(catalog), catalog)

		rec := do(mux, http.MethodPost, "/cart/items", `{"product_id":"roses","quantity":2,"addon_ids":["card"],"custom_message":"Happy birthday"}`)
		require.Equal(t, http.StatusCreated, rec.Code)

		var resp Response
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		require.Len(t, resp.Items, 1)
		assert.Equal(t, 2, resp.ItemCount)
		assert.True(t, decimal.NewFromInt(1700).Equal(resp.Subtotal), "subtotal %s", resp.Subtotal)
		assert.Equal(t, "Happy birthday", resp.Items[0].Customization.Message)
	})

	t.Run("quantity defaults to one", func(t *testing.T) {
		mux := newTestMux(newMemStore(catalog), catalog)

		rec := do(mux, http.MethodPost, "/cart/items", `{"product_id":"roses","variant_id":"roses-24"}`)
		require.Equal(t, http.StatusCreated, rec.Code)

		var resp Response
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.True(t, decimal.NewFromInt(1300).Equal(resp.Subtotal))
	})

	tests := []struct {
		name string
		body string
		want int
	}{
		{"inactive product", `{"product_id":"retired"}`, http.StatusConflict},
		{"out of stock product", `{"product_id":"orchid"}`, http.StatusConflict},
		{"unknown product", `{"product_id":"nope"}`, http.StatusConflict},
		{"foreign variant", `{"product_id":"roses","variant_id":"cake-half"}`, http.StatusConflict},
		{"inactive add-on", `{"product_id":"roses","addon_ids":["vase"]}`, http.StatusConflict},
		{"missing product id", `{"quantity":1}`, http.StatusBadRequest},
		{"negative quantity", `{"product_id":"roses","quantity":-1}`, http.StatusBadRequest},
		{"bad custom date", `{"product_id":"roses","custom_date":"tomorrow"}`, http.StatusBadRequest},
		{"malformed body", `{`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := newTestMux(newMemStore(catalog), catalog)
			rec := do(mux, http.MethodPost, "/cart/items", tt.body)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestHandler_UpdateAndRemove(t *testing.T) {
	catalog := newTestCatalog()
	store := newMemStore(catalog)
	mux := newTestMux(store, catalog)

	rec := do(mux, http.MethodPost, "/cart/items", `{"product_id":"roses"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	itemID := store.carts["user-1"].Items[0].ID

	t.Run("rejects zero quantity", func(t *testing.T) {
		rec := do(mux, http.MethodPatch, "/cart/items/"+itemID, `{"quantity":0}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("updates quantity", func(t *testing.T) {
		rec := do(mux, http.MethodPatch, "/cart/items/"+itemID, `{"quantity":3}`)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp Response
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.True(t, decimal.NewFromInt(2250).Equal(resp.Subtotal))
	})

	t.Run("unknown item is not found", func(t *testing.T) {
		rec := do(mux, http.MethodDelete, "/cart/items/missing", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("removes item", func(t *testing.T) {
		rec := do(mux, http.MethodDelete, "/cart/items/"+itemID, "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, store.carts["user-1"].Items)
	})
}
