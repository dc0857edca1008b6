package gateway

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/joao-fontenele/giftshop/internal/auth"
)

const testSecret = "gateway-test-secret"

func newTestHandler(upstreamURL string, client *http.Client, limiter *RateLimiter) *Handler {
	return NewHandler(
		NewServiceProxy(upstreamURL, client),
		auth.NewVerifier(testSecret, time.Hour),
		limiter,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)
}

func issue(t *testing.T, id auth.Identity, ttl time.Duration) string {
	t.Helper()
	token, err := auth.NewVerifier(testSecret, ttl).Issue(id, time.Now())
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

func TestHandler_HandleProxy(t *testing.T) {
	t.Run("injects verified identity and drops forged headers", func(t *testing.T) {
		upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if got := r.Header.Get(auth.HeaderUserID); got != "user-1" {
				t.Errorf("expected user id user-1, got %q", got)
			}
			if got := r.Header.Get(auth.HeaderUserRole); got != auth.RoleCustomer {
				t.Errorf("expected customer role, got %q", got)
			}
			if r.URL.Path != "/orders" || r.URL.RawQuery != "page=2" {
				t.Errorf("unexpected target %s?%s", r.URL.Path, r.URL.RawQuery)
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`[]`))
		}))
		defer upstream.Close()

		handler := newTestHandler(upstream.URL, upstream.Client(), nil)

		req := httptest.NewRequest(http.MethodGet, "/orders?page=2", nil)
		req.Header.Set("Authorization", "Bearer "+issue(t, auth.Identity{UserID: "user-1", Email: "asha@example.com"}, time.Hour))
		req.Header.Set(auth.HeaderUserRole, auth.RoleStaff)
		rec := httptest.NewRecorder()

		handler.HandleProxy(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rec.Code)
		}
		if rec.Header().Get("Content-Type") != "application/json" {
			t.Errorf("expected application/json, got %s", rec.Header().Get("Content-Type"))
		}
	})

	t.Run("rejects anonymous access to private paths", func(t *testing.T) {
		handler := newTestHandler("http://unused", http.DefaultClient, nil)

		req := httptest.NewRequest(http.MethodPost, "/checkout", strings.NewReader(`{}`))
		rec := httptest.NewRecorder()

		handler.HandleProxy(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Errorf("expected status 401, got %d", rec.Code)
		}
	})

	t.Run("rejects expired and forged tokens", func(t *testing.T) {
		handler := newTestHandler("http://unused", http.DefaultClient, nil)

		for name, header := range map[string]string{
			"expired": "Bearer " + issue(t, auth.Identity{UserID: "user-1"}, -time.Minute),
			"forged":  "Bearer not.a.token",
			"scheme":  "Basic dXNlcjpwYXNz",
		} {
			req := httptest.NewRequest(http.MethodGet, "/products", nil)
			req.Header.Set("Authorization", header)
			rec := httptest.NewRecorder()

			handler.HandleProxy(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Errorf("%s: expected status 401, got %d", name, rec.Code)
			}
		}
	})

	t.Run("passes the webhook through with its signature", func(t *testing.T) {
		upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("X-Razorpay-Signature") != "abc123" {
				t.Errorf("signature header not forwarded")
			}
			if r.Header.Get(auth.HeaderUserID) != "" {
				t.Errorf("anonymous request must not carry an identity")
			}
			body, _ := io.ReadAll(r.Body)
			if string(body) != `{"event":"payment.captured"}` {
				t.Errorf("unexpected body: %s", body)
			}
			w.WriteHeader(http.StatusOK)
		}))
		defer upstream.Close()

		handler := newTestHandler(upstream.URL, upstream.Client(), nil)

		req := httptest.NewRequest(http.MethodPost, "/payments/webhook", strings.NewReader(`{"event":"payment.captured"}`))
		req.Header.Set("X-Razorpay-Signature", "abc123")
		req.Header.Set(auth.HeaderUserID, "forged-user")
		rec := httptest.NewRecorder()

		handler.HandleProxy(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rec.Code)
		}
	})

	t.Run("returns 502 when storefront unavailable", func(t *testing.T) {
		handler := newTestHandler("http://localhost:99999", &http.Client{}, nil)

		req := httptest.NewRequest(http.MethodGet, "/products", nil)
		rec := httptest.NewRecorder()

		handler.HandleProxy(rec, req)

		if rec.Code != http.StatusBadGateway {
			t.Errorf("expected status 502, got %d", rec.Code)
		}

		var resp map[string]any
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if resp["message"] != "service unavailable" {
			t.Errorf("expected 'service unavailable', got %v", resp["message"])
		}
	})

	t.Run("rate limits per client", func(t *testing.T) {
		upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		defer upstream.Close()

		handler := newTestHandler(upstream.URL, upstream.Client(), NewRateLimiter(0.001, 2))

		codes := make([]int, 0, 3)
		for range 3 {
			req := httptest.NewRequest(http.MethodGet, "/products", nil)
			req.RemoteAddr = "203.0.113.7:5555"
			rec := httptest.NewRecorder()
			handler.HandleProxy(rec, req)
			codes = append(codes, rec.Code)
		}

		if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
			t.Errorf("unexpected status sequence %v", codes)
		}

		req := httptest.NewRequest(http.MethodGet, "/products", nil)
		req.RemoteAddr = "198.51.100.1:4444"
		rec := httptest.NewRecorder()
		handler.HandleProxy(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("other client should not be limited, got %d", rec.Code)
		}
	})
}

func TestIsPublic(t *testing.T) {
	tests := []struct {
		method string
		path   string
		want   bool
	}{
		{http.MethodGet, "/products", true},
		{http.MethodGet, "/products/red-roses", true},
		{http.MethodPost, "/products", false},
		{http.MethodPost, "/payments/webhook", true},
		{http.MethodGet, "/healthz", true},
		{http.MethodGet, "/orders", false},
		{http.MethodGet, "/productsx", false},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if got := isPublic(req); got != tt.want {
				t.Errorf("isPublic(%s %s) = %v, want %v", tt.method, tt.path, got, tt.want)
			}
		})
	}
}
