package email

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

type Handler struct {
	sender Sender
	logger *slog.Logger
}

func NewHandler(sender Sender, logger *slog.Logger) *Handler {
	return &Handler{
		sender: sender,
		logger: logger,
	}
}

type sendResponse struct {
	Success bool   `json:"success"`
	Status  string `json:"status"`
}

func (h *Handler) HandleSend(w http.ResponseWriter, r *http.Request) {
	var msg Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := msg.Validate(); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.sender.Send(r.Context(), msg); err != nil {
		h.logger.Error("failed to send email", "error", err, "to", msg.To, "subject", msg.Subject)
		h.writeError(w, http.StatusBadGateway, "mail delivery failed")
		return
	}

	h.logger.Info("email sent", "to", msg.To, "subject", msg.Subject)
	h.writeJSON(w, http.StatusOK, sendResponse{Success: true, Status: "sent"})
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
