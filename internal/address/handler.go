package address

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/joao-fontenele/giftshop/internal/auth"
	"github.com/joao-fontenele/giftshop/internal/domain"
)

type Book interface {
	List(ctx context.Context, userID string) ([]domain.Address, error)
	Create(ctx context.Context, a *domain.Address) error
}

type Handler struct {
	book   Book
	logger *slog.Logger
}

func NewHandler(book Book, logger *slog.Logger) *Handler {
	return &Handler{
		book:   book,
		logger: logger,
	}
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())

	addresses, err := h.book.List(r.Context(), id.UserID)
	if err != nil {
		h.logger.Error("failed to list addresses", "error", err, "user_id", id.UserID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, addresses)
}

func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())

	var a domain.Address
	if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	a.ID = ""
	a.UserID = id.UserID

	if err := a.Validate(); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.book.Create(r.Context(), &a); err != nil {
		if errors.Is(err, domain.ErrInvalidAddress) {
			h.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("failed to create address", "error", err, "user_id", id.UserID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.logger.Info("address created", "user_id", id.UserID, "address_id", a.ID)
	h.writeJSON(w, http.StatusCreated, a)
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
