package coupon

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/giftshop/internal/auth"
	"github.com/joao-fontenele/giftshop/internal/domain"
)

type Carts interface {
	GetOrCreate(ctx context.Context, userID string) (*domain.Cart, error)
}

type Handler struct {
	validator *Validator
	carts     Carts
	logger    *slog.Logger
	now       func() time.Time
}

func NewHandler(validator *Validator, carts Carts, logger *slog.Logger) *Handler {
	return &Handler{
		validator: validator,
		carts:     carts,
		logger:    logger,
		now:       time.Now,
	}
}

type PreviewRequest struct {
	Code string `json:"code"`
}

type PreviewResponse struct {
	Success  bool            `json:"success"`
	Code     string          `json:"code"`
	Subtotal decimal.Decimal `json:"subtotal"`
	Discount decimal.Decimal `json:"discount"`
}

// HandlePreview prices a coupon against the caller's current cart without
// redeeming it.
func (h *Handler) HandlePreview(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())

	var req PreviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Code == "" {
		h.writeError(w, http.StatusBadRequest, "coupon code is required")
		return
	}

	c, err := h.carts.GetOrCreate(r.Context(), id.UserID)
	if err != nil {
		h.logger.Error("failed to load cart", "error", err, "user_id", id.UserID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if c.Empty() {
		h.writeError(w, http.StatusBadRequest, "cart is empty")
		return
	}

	subtotal := c.Subtotal()
	coupon, discount, err := h.validator.Evaluate(r.Context(), req.Code, id.UserID, subtotal, h.now())
	switch {
	case errors.Is(err, ErrNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())
		return
	case domain.IsCouponError(err):
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		h.logger.Error("failed to evaluate coupon", "error", err, "code", req.Code)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, PreviewResponse{
		Success:  true,
		Code:     coupon.Code,
		Subtotal: subtotal,
		Discount: discount,
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]any{"success": false, "message": message})
}
