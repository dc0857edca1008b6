package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/joao-fontenele/giftshop/internal/auth"
)

type TokenParser interface {
	Parse(token string) (auth.Identity, error)
}

type Handler struct {
	storefront *ServiceProxy
	tokens     TokenParser
	limiter    *RateLimiter
	logger     *slog.Logger
}

func NewHandler(storefront *ServiceProxy, tokens TokenParser, limiter *RateLimiter, logger *slog.Logger) *Handler {
	return &Handler{
		storefront: storefront,
		tokens:     tokens,
		limiter:    limiter,
		logger:     logger,
	}
}

// isPublic lists what anonymous clients may reach: the catalog, the payment
// gateway's webhook and the health check.
func isPublic(r *http.Request) bool {
	switch {
	case r.URL.Path == "/payments/webhook" && r.Method == http.MethodPost:
		return true
	case r.URL.Path == "/healthz":
		return true
	case r.Method == http.MethodGet && (r.URL.Path == "/products" || strings.HasPrefix(r.URL.Path, "/products/")):
		return true
	}
	return false
}

// HandleProxy rate limits, authenticates and forwards a request to the
// storefront. A bearer token on a public path is still verified so the
// storefront sees who is browsing.
func (h *Handler) HandleProxy(w http.ResponseWriter, r *http.Request) {
	key := clientKey(r)
	if h.limiter != nil && !h.limiter.Allow(key) {
		h.logger.Warn("rate limit exceeded", "client", key, "path", r.URL.Path)
		w.Header().Set("Retry-After", "1")
		h.writeError(w, http.StatusTooManyRequests, "too many requests")
		return
	}

	id, err := h.authenticate(r)
	switch {
	case errors.Is(err, auth.ErrTokenExpired):
		h.writeError(w, http.StatusUnauthorized, "token expired")
		return
	case err != nil:
		h.writeError(w, http.StatusUnauthorized, "invalid token")
		return
	case id == nil && !isPublic(r):
		h.writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	h.proxyRequest(w, r, id)
}

func (h *Handler) authenticate(r *http.Request) (*auth.Identity, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return nil, nil
	}
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return nil, auth.ErrTokenInvalid
	}
	id, err := h.tokens.Parse(token)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func (h *Handler) proxyRequest(w http.ResponseWriter, r *http.Request, id *auth.Identity) {
	path := r.URL.Path
	resp, err := h.storefront.ForwardRequest(r.Context(), r, path, id)
	if err != nil {
		h.logger.Error("failed to forward request", "error", err, "path", path)
		h.writeError(w, http.StatusBadGateway, "service unavailable")
		return
	}
	defer func() { _ = resp.Body.Close() }()

	for _, name := range []string{"Content-Type", "Retry-After", "Location"} {
		if value := resp.Header.Get(name); value != "" {
			w.Header().Set(name, value)
		}
	}

	w.WriteHeader(resp.StatusCode)

	userID := ""
	if id != nil {
		userID = id.UserID
	}
	h.logger.Info("request proxied", "method", r.Method, "path", path, "status", resp.StatusCode, "user_id", userID)

	if _, err := io.Copy(w, resp.Body); err != nil {
		h.logger.Error("failed to copy response body", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]any{"success": false, "message": message}); err != nil {
		h.logger.Error("failed to encode error response", "error", err)
	}
}
