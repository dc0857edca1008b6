package cart

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

var (
	errBadRequest         = errors.New("invalid cart item")
	errProductUnavailable = errors.New("product is not available")
	errInvalidVariant     = errors.New("variant does not belong to product")
	errInvalidAddOn       = errors.New("add-on is not available")
)

type Store interface {
	GetOrCreate(ctx context.Context, userID string) (*domain.Cart, error)
	AddItem(ctx context.Context, userID string, item NewItem) (*domain.Cart, error)
	UpdateQuantity(ctx context.Context, userID, itemID string, quantity int) (bool, error)
	RemoveItem(ctx context.Context, userID, itemID string) (bool, error)
}

type Catalog interface {
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	AddOns(ctx context.Context, ids []string) ([]domain.AddOn, error)
}

type Handler struct {
	store   Store
	catalog Catalog
	logger  *slog.Logger
}

func NewHandler(store Store, catalog Catalog, logger *slog.Logger) *Handler {
	return &Handler{
		store:   store,
		catalog: catalog,
		logger:  logger,
	}
}

type AddItemRequest struct {
	ProductID     string          `json:"product_id"`
	VariantID     string          `json:"variant_id"`
	Quantity      int             `json:"quantity"`
	AddOnIDs      []string        `json:"addon_ids"`
	CustomName    string          `json:"custom_name"`
	CustomMessage string          `json:"custom_message"`
	CustomDate    string          `json:"custom_date"`
	CustomFlavor  string          `json:"custom_flavor"`
	CustomData    json.RawMessage `json:"custom_data"`
}

type UpdateItemRequest struct {
	Quantity int `json:"quantity"`
}

type Response struct {
	ID        string            `json:"id"`
	Items     []domain.CartItem `json:"items"`
	ItemCount int               `json:"item_count"`
	Subtotal  decimal.Decimal   `json:"subtotal"`
}

func newResponse(c *domain.Cart) Response {
	count := 0
	for _, item := range c.Items {
		count += item.Quantity
	}
	return Response{
		ID:        c.ID,
		Items:     c.Items,
		ItemCount: count,
		Subtotal:  c.Subtotal(),
	}
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())

	c, err := h.store.GetOrCreate(r.Context(), id.UserID)
	if err != nil {
		h.logger.Error("failed to load cart", "error", err, "user_id", id.UserID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, newResponse(c))
}

func (h *Handler) HandleAddItem(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())

	var req AddItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	item, err := h.buildItem(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, errProductUnavailable), errors.Is(err, errInvalidVariant), errors.Is(err, errInvalidAddOn):
			h.writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, errBadRequest):
			h.writeError(w, http.StatusBadRequest, err.Error())
		default:
			h.logger.Error("failed to validate cart item", "error", err, "product_id", req.ProductID)
			h.writeError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	c, err := h.store.AddItem(r.Context(), id.UserID, item)
	if err != nil {
		h.logger.Error("failed to add cart item", "error", err, "user_id", id.UserID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.logger.Info("cart item added", "user_id", id.UserID, "product_id", item.ProductID, "quantity", item.Quantity)
	h.writeJSON(w, http.StatusCreated, newResponse(c))
}

func (h *Handler) HandleUpdateItem(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())
	itemID := r.PathValue("id")

	var req UpdateItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Quantity < 1 {
		h.writeError(w, http.StatusBadRequest, "quantity must be at least 1")
		return
	}

	found, err := h.store.UpdateQuantity(r.Context(), id.UserID, itemID, req.Quantity)
	if err != nil {
		h.logger.Error("failed to update cart item", "error", err, "item_id", itemID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if !found {
		h.writeError(w, http.StatusNotFound, "cart item not found")
		return
	}

	h.HandleGet(w, r)
}

func (h *Handler) HandleRemoveItem(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())
	itemID := r.PathValue("id")

	found, err := h.store.RemoveItem(r.Context(), id.UserID, itemID)
	if err != nil {
		h.logger.Error("failed to remove cart item", "error", err, "item_id", itemID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if !found {
		h.writeError(w, http.StatusNotFound, "cart item not found")
		return
	}

	h.HandleGet(w, r)
}

func (h *Handler) buildItem(ctx context.Context, req AddItemRequest) (NewItem, error) {
	if req.ProductID == "" {
		return NewItem{}, errBadRequest
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}
	if req.Quantity < 1 {
		return NewItem{}, errBadRequest
	}

	product, err := h.catalog.GetProduct(ctx, req.ProductID)
	if err != nil {
		return NewItem{}, err
	}
	if product == nil || !product.Available() {
		return NewItem{}, errProductUnavailable
	}

	if req.VariantID != "" {
		ok := false
		for _, v := range product.Variants {
			if v.ID == req.VariantID && v.Active {
				ok = true
				break
			}
		}
		if !ok {
			return NewItem{}, errInvalidVariant
		}
	}

	if len(req.AddOnIDs) > 0 {
		addons, err := h.catalog.AddOns(ctx, req.AddOnIDs)
		if err != nil {
			return NewItem{}, err
		}
		active := make(map[string]bool, len(addons))
		for _, a := range addons {
			active[a.ID] = a.Active
		}
		for _, addonID := range req.AddOnIDs {
			if !active[addonID] {
				return NewItem{}, errInvalidAddOn
			}
		}
	}

	custom := domain.Customization{
		Name:    req.CustomName,
		Message: req.CustomMessage,
		Flavor:  req.CustomFlavor,
		Data:    req.CustomData,
	}
	if string(custom.Data) == "null" {
		custom.Data = nil
	}
	if req.CustomDate != "" {
		d, err := time.Parse(time.DateOnly, req.CustomDate)
		if err != nil {
			return NewItem{}, errBadRequest
		}
		custom.Date = &d
	}

	return NewItem{
		ProductID:     req.ProductID,
		VariantID:     req.VariantID,
		Quantity:      req.Quantity,
		AddOnIDs:      req.AddOnIDs,
		Customization: custom,
	}, nil
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
