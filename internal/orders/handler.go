package orders

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/giftshop/internal/auth"
	"github.com/joao-fontenele/giftshop/internal/coupon"
	"github.com/joao-fontenele/giftshop/internal/domain"
	"github.com/joao-fontenele/giftshop/internal/payment"
)

const (
	HeaderWebhookSignature = "X-Razorpay-Signature"
	HeaderWebhookEventID   = "X-Razorpay-Event-Id"

	maxWebhookBody = 1 << 20
)

type WebhookVerifier interface {
	VerifyWebhookSignature(body []byte, signature string) bool
}

type Handler struct {
	service  *Service
	verifier WebhookVerifier
	logger   *slog.Logger
}

func NewHandler(service *Service, verifier WebhookVerifier, logger *slog.Logger) *Handler {
	return &Handler{
		service:  service,
		verifier: verifier,
		logger:   logger,
	}
}

// Register mounts the order routes. Customer routes require an identity,
// operator routes require the staff role; the webhook is public.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /checkout", auth.RequireUser(h.HandleCheckout))
	mux.HandleFunc("POST /payments/verify", auth.RequireUser(h.HandleVerifyPayment))
	mux.HandleFunc("POST /payments/webhook", h.HandleWebhook)
	mux.HandleFunc("GET /orders", auth.RequireUser(h.HandleList))
	mux.HandleFunc("GET /orders/{number}", auth.RequireUser(h.HandleGet))
	mux.HandleFunc("GET /orders/{number}/tracking", auth.RequireUser(h.HandleTracking))
	mux.HandleFunc("POST /orders/{number}/payment", auth.RequireUser(h.HandleInitiatePayment))
	mux.HandleFunc("POST /orders/{number}/cancel", auth.RequireUser(h.HandleCancel))
	mux.HandleFunc("POST /orders/{number}/reorder", auth.RequireUser(h.HandleReorder))
	mux.HandleFunc("POST /orders/{number}/status", auth.RequireStaff(h.HandleUpdateStatus))
	mux.HandleFunc("POST /orders/{number}/refund", auth.RequireStaff(h.HandleRefund))
}

func confirmationURL(number string) string {
	return "/orders/" + url.PathEscape(number) + "/confirmation"
}

func paymentFailedURL(number string) string {
	return "/checkout/payment-failed?order=" + url.QueryEscape(number)
}

func (h *Handler) HandleCheckout(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())

	var req CheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.service.Checkout(r.Context(), id, req)
	if err != nil {
		if result != nil && errors.Is(err, ErrGatewayUnavailable) {
			h.writeJSON(w, http.StatusBadGateway, map[string]any{
				"success":      false,
				"message":      "payment gateway unavailable, retry payment from your orders",
				"order_number": result.Order.Number,
			})
			return
		}
		h.fail(w, err, "checkout failed", "user_id", id.UserID)
		return
	}

	resp := map[string]any{
		"success":      true,
		"order_number": result.Order.Number,
		"redirect_url": confirmationURL(result.Order.Number),
	}
	if result.Payment != nil {
		resp["payment"] = result.Payment
		resp["redirect_url"] = ""
	}
	h.writeJSON(w, http.StatusCreated, resp)
}

func (h *Handler) HandleInitiatePayment(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())
	number := r.PathValue("number")

	session, err := h.service.InitiatePayment(r.Context(), id, number)
	if err != nil {
		h.fail(w, err, "failed to initiate payment", "order_number", number)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"success": true, "payment": session})
}

func (h *Handler) HandleVerifyPayment(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())

	var req VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	order, err := h.service.VerifyPayment(r.Context(), id, req)
	if errors.Is(err, ErrSignatureMismatch) {
		number := req.OrderNumber
		if order != nil {
			number = order.Number
		}
		h.writeJSON(w, http.StatusBadRequest, map[string]any{
			"success":      false,
			"message":      err.Error(),
			"redirect_url": paymentFailedURL(number),
		})
		return
	}
	if err != nil {
		h.fail(w, err, "payment verification failed", "order_number", req.OrderNumber)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"order_number": order.Number,
		"redirect_url": confirmationURL(order.Number),
	})
}

// HandleWebhook answers 400 only for a bad signature or body. Once those
// check out the gateway always gets a 200, whatever happened to the order.
func (h *Handler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if !h.verifier.VerifyWebhookSignature(body, r.Header.Get(HeaderWebhookSignature)) {
		h.logger.Warn("webhook signature rejected", "remote_addr", r.RemoteAddr)
		h.writeError(w, http.StatusBadRequest, "invalid signature")
		return
	}

	event, err := payment.ParseEvent(body)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	eventID := r.Header.Get(HeaderWebhookEventID)
	if err := h.service.ProcessWebhook(r.Context(), eventID, event); err != nil {
		h.logger.Error("failed to process webhook", "error", err, "event", event.Event, "event_id", eventID)
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())
	number := r.PathValue("number")

	var req cancelRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			h.writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	order, err := h.service.Cancel(r.Context(), id, number, req.Reason)
	if err != nil {
		h.fail(w, err, "failed to cancel order", "order_number", number)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Order " + order.Number + " has been cancelled",
		"status":  order.Status,
	})
}

func (h *Handler) HandleReorder(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())
	number := r.PathValue("number")

	added, err := h.service.Reorder(r.Context(), id, number)
	if err != nil {
		h.fail(w, err, "failed to reorder", "order_number", number)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Items added to your cart",
		"added":   added,
	})
}

func (h *Handler) HandleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())
	number := r.PathValue("number")

	var req StatusUpdate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	order, err := h.service.UpdateStatus(r.Context(), id, number, req)
	if err != nil {
		h.fail(w, err, "failed to update order status", "order_number", number)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Order status is " + string(order.Status),
		"order":   order,
	})
}

type refundRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

func (h *Handler) HandleRefund(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())
	number := r.PathValue("number")

	var req refundRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			h.writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	order, err := h.service.Refund(r.Context(), id, number, req.Amount)
	if err != nil {
		h.fail(w, err, "failed to refund order", "order_number", number)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"message":   "Refund requested",
		"refund_id": order.RefundID,
	})
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())
	number := r.PathValue("number")

	order, err := h.service.Get(r.Context(), id, number)
	if err != nil {
		h.fail(w, err, "failed to get order", "order_number", number)
		return
	}

	h.writeJSON(w, http.StatusOK, order)
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())

	orders, err := h.service.List(r.Context(), id)
	if err != nil {
		h.fail(w, err, "failed to list orders", "user_id", id.UserID)
		return
	}

	h.logger.Info("orders listed", "user_id", id.UserID, "count", len(orders))
	h.writeJSON(w, http.StatusOK, orders)
}

// HandleTracking lists the history newest first.
func (h *Handler) HandleTracking(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())
	number := r.PathValue("number")

	entries, err := h.service.Tracking(r.Context(), id, number)
	if err != nil {
		h.fail(w, err, "failed to load tracking", "order_number", number)
		return
	}

	h.writeJSON(w, http.StatusOK, domain.NewestFirst(entries))
}

// statusFor maps service errors onto HTTP statuses. Anything unknown is an
// internal error.
func statusFor(err error) int {
	var cancelErr *CancelError
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrAddressNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrEmptyCart), errors.Is(err, ErrInvalidRequest), errors.Is(err, ErrInvalidStatus),
		errors.Is(err, domain.ErrInvalidAddress), errors.Is(err, ErrSignatureMismatch),
		errors.Is(err, coupon.ErrNotFound), domain.IsCouponError(err):
		return http.StatusBadRequest
	case errors.As(err, &cancelErr), errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrProductUnavailable),
		errors.Is(err, ErrNotPaid):
		return http.StatusConflict
	case errors.Is(err, ErrNothingToReorder):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrGatewayUnavailable):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (h *Handler) fail(w http.ResponseWriter, err error, msg string, attrs ...any) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error(msg, append(attrs, "error", err)...)
		h.writeError(w, status, "internal server error")
		return
	}
	h.logger.Info(msg, append(attrs, "error", err, "status", status)...)
	h.writeError(w, status, err.Error())
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
