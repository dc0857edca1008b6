package address

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joao-fontenele/giftshop/internal/auth"
	"github.com/joao-fontenele/giftshop/internal/domain"
)

type memBook struct {
	addresses []domain.Address
}

func (b *memBook) List(_ context.Context, userID string) ([]domain.Address, error) {
	out := []domain.Address{}
	for _, a := range b.addresses {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (b *memBook) Create(_ context.Context, a *domain.Address) error {
	a.ID = "addr-1"
	b.addresses = append(b.addresses, *a)
	return nil
}

func serve(mux *http.ServeMux, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req = req.WithContext(auth.WithIdentity(req.Context(), auth.Identity{UserID: "user-1"}))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestHandler(t *testing.T) {
	book := &memBook{addresses: []domain.Address{{ID: "other", UserID: "user-2", FullName: "Someone"}}}
	h := NewHandler(book, slog.New(slog.NewTextHandler(io.Discard, nil)))
	mux := http.NewServeMux()
	mux.HandleFunc("GET /addresses", h.HandleList)
	mux.HandleFunc("POST /addresses", h.HandleCreate)

	t.Run("rejects missing required fields", func(t *testing.T) {
		rec := serve(mux, http.MethodPost, "/addresses", `{"full_name":"Asha","city":"Pune"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "postal_code")
	})

	t.Run("creates address for the caller", func(t *testing.T) {
		rec := serve(mux, http.MethodPost, "/addresses",
			`{"user_id":"user-2","full_name":"Asha","phone":"9800000000","line1":"12 MG Road","city":"Pune","state":"MH","postal_code":"411001"}`)
		require.Equal(t, http.StatusCreated, rec.Code)

		var a domain.Address
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&a))
		assert.Equal(t, "user-1", a.UserID)
	})

	t.Run("lists only the caller's addresses", func(t *testing.T) {
		rec := serve(mux, http.MethodGet, "/addresses", "")
		require.Equal(t, http.StatusOK, rec.Code)

		var list []domain.Address
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
		require.Len(t, list, 1)
		assert.Equal(t, "Asha", list[0].FullName)
	})
}
