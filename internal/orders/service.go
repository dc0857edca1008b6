package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/giftshop/internal/auth"
	"github.com/joao-fontenele/giftshop/internal/cart"
	"github.com/joao-fontenele/giftshop/internal/domain"
	"github.com/joao-fontenele/giftshop/internal/payment"
	"github.com/joao-fontenele/giftshop/internal/scheduler"
	"github.com/joao-fontenele/giftshop/internal/telemetry"
)

// BuildFunc turns the locked cart snapshot into an order and its first
// tracking entry. Returning an error aborts the checkout.
type BuildFunc func(c *domain.Cart) (*domain.Order, *domain.TrackingEntry, error)

// UpdateFunc mutates a locked order and returns the tracking entry to append,
// or nil when the status does not change. Returning errUnchanged leaves the
// order as it was; the function must not mutate the order in that case.
type UpdateFunc func(order *domain.Order) (*domain.TrackingEntry, error)

type Repository interface {
	CreateFromCart(ctx context.Context, userID string, save *domain.Address, build BuildFunc) (*domain.Order, error)
	Update(ctx context.Context, number string, fn UpdateFunc) (*domain.Order, bool, error)
	GetByNumber(ctx context.Context, number string) (*domain.Order, error)
	GetByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*domain.Order, error)
	GetByGatewayPaymentID(ctx context.Context, gatewayPaymentID string) (*domain.Order, error)
	ListByUser(ctx context.Context, userID string) ([]domain.Order, error)
	Tracking(ctx context.Context, orderID string) ([]domain.TrackingEntry, error)
	WebhookSeen(ctx context.Context, eventID string) (bool, error)
	MarkWebhookProcessed(ctx context.Context, eventID, eventType string) error
}

type Carts interface {
	AddOrIncrement(ctx context.Context, userID string, items []cart.NewItem) error
}

type Addresses interface {
	Get(ctx context.Context, userID, id string) (*domain.Address, error)
}

type Coupons interface {
	Evaluate(ctx context.Context, code, userID string, subtotal decimal.Decimal, now time.Time) (*domain.Coupon, decimal.Decimal, error)
}

type Catalog interface {
	Availability(ctx context.Context, productID, variantID string) (bool, error)
}

type PaymentGateway interface {
	CreateOrder(ctx context.Context, amount decimal.Decimal, receipt string, notes map[string]string) (*payment.RemoteOrder, error)
	Refund(ctx context.Context, paymentID string, amount decimal.Decimal) (*payment.Refund, error)
	VerifyPaymentSignature(orderID, paymentID, signature string) bool
	KeyID() string
	Currency() string
}

type Notifier interface {
	Notify(ctx context.Context, event domain.OrderEvent)
}

type Wallet interface {
	Credit(ctx context.Context, credit domain.WalletCredit) (bool, error)
}

type Scheduler interface {
	ScheduleOnce(ctx context.Context, job scheduler.Job) (bool, error)
}

type Deps struct {
	Repo      Repository
	Carts     Carts
	Addresses Addresses
	Coupons   Coupons
	Catalog   Catalog
	Gateway   PaymentGateway
	Notifier  Notifier
	Wallet    Wallet
	Scheduler Scheduler
	Settings  domain.Settings
	Metrics   *telemetry.OrderMetrics
	Logger    *slog.Logger
}

// Service is the order state machine. Every transition commits the order
// change and its tracking entry together, then runs best-effort side effects.
type Service struct {
	repo      Repository
	carts     Carts
	addresses Addresses
	coupons   Coupons
	catalog   Catalog
	gateway   PaymentGateway
	notifier  Notifier
	wallet    Wallet
	scheduler Scheduler
	settings  domain.Settings
	metrics   *telemetry.OrderMetrics
	logger    *slog.Logger
	now       func() time.Time
}

func NewService(d Deps) *Service {
	return &Service{
		repo:      d.Repo,
		carts:     d.Carts,
		addresses: d.Addresses,
		coupons:   d.Coupons,
		catalog:   d.Catalog,
		gateway:   d.Gateway,
		notifier:  d.Notifier,
		wallet:    d.Wallet,
		scheduler: d.Scheduler,
		settings:  d.Settings,
		metrics:   d.Metrics,
		logger:    d.Logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

type CheckoutRequest struct {
	AddressID           string               `json:"address_id"`
	ShippingAddress     *domain.Address      `json:"shipping_address"`
	SaveAddress         bool                 `json:"save_address"`
	BillingAddress      *domain.Address      `json:"billing_address"`
	DeliveryCharge      *decimal.Decimal     `json:"delivery_charge"`
	SpecialInstructions string               `json:"special_instructions"`
	DeliveryDate        string               `json:"delivery_date"`
	DeliveryTimeSlot    string               `json:"delivery_time_slot"`
	CouponCode          string               `json:"coupon_code"`
	PaymentMethod       domain.PaymentMethod `json:"payment_method"`
}

// PaymentSession is what the browser needs to open the gateway checkout.
type PaymentSession struct {
	KeyID          string `json:"key_id"`
	GatewayOrderID string `json:"razorpay_order_id"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	OrderNumber    string `json:"order_number"`
	Name           string `json:"name"`
	Email          string `json:"email"`
	Phone          string `json:"phone"`
}

type CheckoutResult struct {
	Order   *domain.Order
	Payment *PaymentSession
}

// Checkout converts the user's cart into an order. For online payment it
// then opens a gateway order; if that fails the order stays pending without
// a gateway id, and the result still carries the order alongside an
// ErrGatewayUnavailable error so the caller can retry payment later.
func (s *Service) Checkout(ctx context.Context, user auth.Identity, req CheckoutRequest) (*CheckoutResult, error) {
	method := req.PaymentMethod
	if method == "" {
		method = domain.PaymentMethodRazorpay
	}
	if !method.Valid() {
		return nil, fmt.Errorf("%w: unknown payment method %q", ErrInvalidRequest, method)
	}

	if req.DeliveryCharge != nil && req.DeliveryCharge.IsNegative() {
		return nil, fmt.Errorf("%w: delivery charge cannot be negative", ErrInvalidRequest)
	}

	var deliveryDate *time.Time
	if req.DeliveryDate != "" {
		d, err := time.Parse(time.DateOnly, req.DeliveryDate)
		if err != nil {
			return nil, fmt.Errorf("%w: delivery_date must be YYYY-MM-DD", ErrInvalidRequest)
		}
		deliveryDate = &d
	}

	shipping, save, err := s.resolveShipping(ctx, user, req)
	if err != nil {
		return nil, err
	}

	billing := shipping
	if req.BillingAddress != nil {
		if err := req.BillingAddress.Validate(); err != nil {
			return nil, fmt.Errorf("billing %w", err)
		}
		billing = req.BillingAddress.Snapshot()
	}
	if billing.Email == "" {
		billing.Email = user.Email
	}
	if shipping.Email == "" {
		shipping.Email = billing.Email
	}

	now := s.now()
	order, err := s.repo.CreateFromCart(ctx, user.UserID, save, func(c *domain.Cart) (*domain.Order, *domain.TrackingEntry, error) {
		if c.Empty() {
			return nil, nil, ErrEmptyCart
		}

		o := &domain.Order{
			ID:                  uuid.New().String(),
			Number:              newOrderNumber(now),
			UserID:              user.UserID,
			Status:              domain.OrderStatusPending,
			PaymentStatus:       domain.PaymentStatusPending,
			PaymentMethod:       method,
			Billing:             billing,
			Shipping:            shipping,
			SpecialInstructions: strings.TrimSpace(req.SpecialInstructions),
			DeliveryDate:        deliveryDate,
			DeliveryTimeSlot:    req.DeliveryTimeSlot,
			CreatedAt:           now,
			UpdatedAt:           now,
		}

		for _, item := range c.Items {
			if !item.Product.Available() || (item.Variant != nil && !item.Variant.Active) {
				return nil, nil, &UnavailableError{ProductName: item.Product.Name}
			}
			for _, addon := range item.AddOns {
				if !addon.Active {
					return nil, nil, &UnavailableError{ProductName: addon.Name}
				}
			}
			o.Items = append(o.Items, orderItemFrom(item))
		}
		o.ApplyTotals()

		if req.CouponCode != "" {
			coupon, discount, err := s.coupons.Evaluate(ctx, req.CouponCode, user.UserID, o.Subtotal, now)
			if err != nil {
				return nil, nil, err
			}
			o.CouponID = coupon.ID
			o.CouponCode = coupon.Code
			o.DiscountAmount = discount
		}

		if req.DeliveryCharge != nil {
			o.DeliveryCharge = *req.DeliveryCharge
		} else {
			o.DeliveryCharge = s.settings.DeliveryChargeFor(o.Subtotal)
		}
		o.ApplyTotals()
		if err := o.CheckTotals(); err != nil {
			return nil, nil, err
		}

		message := "Order placed, awaiting payment"
		if method == domain.PaymentMethodCashOnDelivery {
			message = "Order placed, cash on delivery"
		}
		entry := &domain.TrackingEntry{
			Status:    domain.OrderStatusPending,
			Message:   message,
			Actor:     actorFor(user),
			CreatedAt: now,
		}

		return o, entry, nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.OrderCreated(ctx, string(order.PaymentMethod))
	s.logger.Info("order created", "order_number", order.Number, "user_id", order.UserID,
		"payment_method", order.PaymentMethod, "total", order.TotalAmount.StringFixed(2))
	s.notifier.Notify(ctx, domain.NewOrderEvent(domain.EventOrderCreated, order, now))

	result := &CheckoutResult{Order: order}
	if order.PaymentMethod != domain.PaymentMethodRazorpay {
		return result, nil
	}

	order, session, err := s.openPayment(ctx, order)
	if err != nil {
		return result, err
	}
	result.Order = order
	result.Payment = session

	return result, nil
}

// resolveShipping returns the shipping snapshot and, when the request asks
// for it, the address to store alongside the order.
func (s *Service) resolveShipping(ctx context.Context, user auth.Identity, req CheckoutRequest) (domain.AddressSnapshot, *domain.Address, error) {
	if req.AddressID != "" {
		a, err := s.addresses.Get(ctx, user.UserID, req.AddressID)
		if err != nil {
			return domain.AddressSnapshot{}, nil, err
		}
		if a == nil {
			return domain.AddressSnapshot{}, nil, ErrAddressNotFound
		}
		return a.Snapshot(), nil, nil
	}

	if req.ShippingAddress == nil {
		return domain.AddressSnapshot{}, nil, fmt.Errorf("%w: missing shipping address", domain.ErrInvalidAddress)
	}

	a := *req.ShippingAddress
	if err := a.Validate(); err != nil {
		return domain.AddressSnapshot{}, nil, err
	}

	if !req.SaveAddress {
		return a.Snapshot(), nil, nil
	}
	a.ID = ""
	a.UserID = user.UserID
	return a.Snapshot(), &a, nil
}

func orderItemFrom(item domain.CartItem) domain.OrderItem {
	oi := domain.OrderItem{
		ID:          uuid.New().String(),
		ProductID:   item.Product.ID,
		ProductName: item.Product.Name,
		Quantity:    item.Quantity,
		UnitPrice:   item.UnitPrice(),
		AddOnsPrice: item.AddOnsPrice(),
		TotalPrice:  item.LineTotal(),
	}
	if item.Variant != nil {
		oi.VariantID = item.Variant.ID
		oi.VariantName = item.Variant.Name
	}
	for _, a := range item.AddOns {
		oi.AddOns = append(oi.AddOns, domain.AddOnSnapshot{ID: a.ID, Name: a.Name, Price: a.Price})
	}
	return oi
}

func newOrderNumber(now time.Time) string {
	return "ORD-" + ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String()
}

// InitiatePayment returns the gateway checkout for an unpaid online order,
// creating the gateway order on first use.
func (s *Service) InitiatePayment(ctx context.Context, user auth.Identity, number string) (*PaymentSession, error) {
	order, err := s.ownedOrder(ctx, user, number)
	if err != nil {
		return nil, err
	}

	if order.PaymentMethod != domain.PaymentMethodRazorpay {
		return nil, fmt.Errorf("%w: order is cash on delivery", ErrInvalidTransition)
	}
	if order.Status.Terminal() || order.PaymentStatus != domain.PaymentStatusPending {
		return nil, fmt.Errorf("%w: order is %s with payment %s", ErrInvalidTransition, order.Status, order.PaymentStatus)
	}

	_, session, err := s.openPayment(ctx, order)
	return session, err
}

func (s *Service) openPayment(ctx context.Context, order *domain.Order) (*domain.Order, *PaymentSession, error) {
	if order.GatewayOrderID != "" {
		return order, s.session(order), nil
	}

	remote, err := s.gateway.CreateOrder(ctx, order.TotalAmount, order.Number, map[string]string{"order_number": order.Number})
	if err != nil {
		s.logger.Error("failed to create gateway order", "error", err, "order_number", order.Number)
		return order, nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}

	updated, _, err := s.repo.Update(ctx, order.Number, func(o *domain.Order) (*domain.TrackingEntry, error) {
		if o.GatewayOrderID != "" {
			return nil, errUnchanged
		}
		o.GatewayOrderID = remote.ID
		return nil, nil
	})
	if err != nil {
		return order, nil, err
	}

	s.logger.Info("payment initiated", "order_number", updated.Number, "gateway_order_id", updated.GatewayOrderID)
	return updated, s.session(updated), nil
}

func (s *Service) session(o *domain.Order) *PaymentSession {
	return &PaymentSession{
		KeyID:          s.gateway.KeyID(),
		GatewayOrderID: o.GatewayOrderID,
		Amount:         payment.MinorUnits(o.TotalAmount),
		Currency:       s.gateway.Currency(),
		OrderNumber:    o.Number,
		Name:           o.Billing.FullName,
		Email:          o.Billing.Email,
		Phone:          o.Billing.Phone,
	}
}

type VerifyRequest struct {
	GatewayOrderID   string `json:"razorpay_order_id"`
	GatewayPaymentID string `json:"razorpay_payment_id"`
	Signature        string `json:"razorpay_signature"`
	OrderNumber      string `json:"order_number"`
}

// VerifyPayment applies the checkout widget's payment assertion. A valid
// signature confirms the order; an invalid one fails the payment and cancels
// the order. Verifying an already paid order is a no-op success.
func (s *Service) VerifyPayment(ctx context.Context, user auth.Identity, req VerifyRequest) (*domain.Order, error) {
	if req.GatewayPaymentID == "" || req.Signature == "" || (req.OrderNumber == "" && req.GatewayOrderID == "") {
		return nil, fmt.Errorf("%w: missing payment fields", ErrInvalidRequest)
	}

	var order *domain.Order
	var err error
	if req.OrderNumber != "" {
		order, err = s.ownedOrder(ctx, user, req.OrderNumber)
	} else {
		order, err = s.repo.GetByGatewayOrderID(ctx, req.GatewayOrderID)
		if err == nil && (order == nil || !canSee(user, order)) {
			err = ErrNotFound
		}
	}
	if err != nil {
		return nil, err
	}

	if order.GatewayOrderID == "" {
		return nil, fmt.Errorf("%w: payment was never initiated", ErrInvalidTransition)
	}

	valid := req.GatewayOrderID == order.GatewayOrderID &&
		s.gateway.VerifyPaymentSignature(order.GatewayOrderID, req.GatewayPaymentID, req.Signature)

	before := order.Status
	updated, changed, err := s.repo.Update(ctx, order.Number, func(o *domain.Order) (*domain.TrackingEntry, error) {
		if o.PaymentStatus == domain.PaymentStatusPaid {
			return nil, errUnchanged
		}
		if o.Status.Terminal() {
			return nil, fmt.Errorf("%w: order is %s", ErrInvalidTransition, o.Status)
		}
		if !valid {
			return failPayment(o, "Payment verification failed: signature mismatch", actorFor(user)), nil
		}
		return capturePayment(o, req.GatewayPaymentID, req.Signature, "Payment verified", actorFor(user)), nil
	})
	if err != nil {
		return nil, err
	}

	if !changed {
		if !valid {
			return nil, ErrSignatureMismatch
		}
		return updated, nil
	}

	s.afterTransition(ctx, updated, before)
	if !valid {
		s.logger.Warn("payment signature mismatch", "order_number", updated.Number, "gateway_payment_id", req.GatewayPaymentID)
		return updated, ErrSignatureMismatch
	}

	s.logger.Info("payment verified", "order_number", updated.Number, "gateway_payment_id", updated.GatewayPaymentID)
	return updated, nil
}

// capturePayment marks o paid and confirms it unless a later status was
// already reached, e.g. processing after an authorization webhook.
func capturePayment(o *domain.Order, paymentID, signature, message, actor string) *domain.TrackingEntry {
	o.PaymentStatus = domain.PaymentStatusPaid
	if paymentID != "" {
		o.GatewayPaymentID = paymentID
	}
	if signature != "" {
		o.GatewaySignature = signature
	}
	if o.Status != domain.OrderStatusPending {
		return nil
	}
	o.Status = domain.OrderStatusConfirmed
	return &domain.TrackingEntry{Status: o.Status, Message: message, Actor: actor}
}

func failPayment(o *domain.Order, message, actor string) *domain.TrackingEntry {
	o.PaymentStatus = domain.PaymentStatusFailed
	o.Status = domain.OrderStatusCancelled
	return &domain.TrackingEntry{Status: o.Status, Message: message, Actor: actor}
}

type StatusUpdate struct {
	Status         domain.OrderStatus `json:"status"`
	Note           string             `json:"note"`
	Location       string             `json:"location"`
	CourierName    string             `json:"courier_name"`
	TrackingNumber string             `json:"tracking_number"`
}

// UpdateStatus is the operator transition. Unknown statuses are rejected
// before the order is touched; delivered runs the delivery effects.
func (s *Service) UpdateStatus(ctx context.Context, actor auth.Identity, number string, upd StatusUpdate) (*domain.Order, error) {
	if !upd.Status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, upd.Status)
	}
	if upd.Status == domain.OrderStatusDelivered {
		return s.MarkDelivered(ctx, actor, number, upd)
	}

	var before domain.OrderStatus
	order, changed, err := s.repo.Update(ctx, number, func(o *domain.Order) (*domain.TrackingEntry, error) {
		before = o.Status
		if o.Status == upd.Status {
			return nil, errUnchanged
		}
		if o.Status.Terminal() {
			return nil, fmt.Errorf("%w: order is %s", ErrInvalidTransition, o.Status)
		}
		o.Status = upd.Status
		return statusEntry(before, upd, actorFor(actor)), nil
	})
	if err != nil {
		return nil, err
	}

	if changed {
		s.afterTransition(ctx, order, before)
	}
	return order, nil
}

func statusEntry(from domain.OrderStatus, upd StatusUpdate, actor string) *domain.TrackingEntry {
	message := fmt.Sprintf("Status changed from %s to %s", from, upd.Status)
	if note := strings.TrimSpace(upd.Note); note != "" {
		message += ": " + note
	}
	return &domain.TrackingEntry{
		Status:         upd.Status,
		Message:        message,
		Location:       upd.Location,
		CourierName:    upd.CourierName,
		TrackingNumber: upd.TrackingNumber,
		Actor:          actor,
	}
}

// MarkDelivered moves an order to delivered and then applies the delivery
// effects. The effects are idempotent and also run when the order was
// already delivered, so a repeated call completes anything a previous one
// missed without applying anything twice.
func (s *Service) MarkDelivered(ctx context.Context, actor auth.Identity, number string, upd StatusUpdate) (*domain.Order, error) {
	upd.Status = domain.OrderStatusDelivered

	var before domain.OrderStatus
	order, changed, err := s.repo.Update(ctx, number, func(o *domain.Order) (*domain.TrackingEntry, error) {
		before = o.Status
		if o.Status == domain.OrderStatusDelivered {
			return nil, errUnchanged
		}
		if o.Status.Terminal() {
			return nil, fmt.Errorf("%w: order is %s", ErrInvalidTransition, o.Status)
		}
		o.Status = domain.OrderStatusDelivered
		if o.PaymentMethod == domain.PaymentMethodCashOnDelivery && o.PaymentStatus == domain.PaymentStatusPending {
			o.PaymentStatus = domain.PaymentStatusPaid
		}
		return statusEntry(before, upd, actorFor(actor)), nil
	})
	if err != nil {
		return nil, err
	}

	if changed {
		s.afterTransition(ctx, order, before)
	}
	s.deliveredEffects(ctx, order)

	return order, nil
}

func (s *Service) deliveredEffects(ctx context.Context, order *domain.Order) {
	bonus := s.settings.DeliveryBonus(order.TotalAmount)
	if bonus.IsPositive() {
		credited, err := s.wallet.Credit(ctx, domain.WalletCredit{
			UserID:  order.UserID,
			OrderID: order.ID,
			Kind:    domain.WalletKindDeliveryBonus,
			Amount:  bonus,
			Note:    "Delivery bonus for order " + order.Number,
		})
		switch {
		case err != nil:
			s.logger.Error("failed to credit delivery bonus", "error", err, "order_number", order.Number)
		case credited:
			s.logger.Info("delivery bonus credited", "order_number", order.Number, "user_id", order.UserID, "amount", bonus.StringFixed(2))
		}
	}

	if order.FeedbackEmailSent {
		return
	}
	job := scheduler.Job{
		Kind:  scheduler.JobFeedbackEmail,
		Ref:   order.Number,
		RunAt: s.now().Add(s.settings.FeedbackDelay),
	}
	added, err := s.scheduler.ScheduleOnce(ctx, job)
	if err != nil {
		s.logger.Error("failed to schedule feedback email", "error", err, "order_number", order.Number)
		return
	}
	if !added {
		s.logger.Debug("feedback email already scheduled", "order_number", order.Number)
		return
	}
	s.logger.Info("feedback email scheduled", "order_number", order.Number, "run_at", job.RunAt)
}

// SendFeedbackRequest runs from the delayed job. It re-checks that the order
// is still delivered and not yet asked, and sets the flag before notifying so
// a request is sent at most once.
func (s *Service) SendFeedbackRequest(ctx context.Context, number string) error {
	now := s.now()
	order, changed, err := s.repo.Update(ctx, number, func(o *domain.Order) (*domain.TrackingEntry, error) {
		if o.Status != domain.OrderStatusDelivered || o.FeedbackEmailSent {
			return nil, errUnchanged
		}
		o.FeedbackEmailSent = true
		o.FeedbackEmailSentAt = &now
		return nil, nil
	})
	if errors.Is(err, ErrNotFound) {
		s.logger.Warn("feedback job for unknown order", "order_number", number)
		return nil
	}
	if err != nil {
		return err
	}

	if !changed {
		s.logger.Info("feedback request skipped", "order_number", number, "status", order.Status, "already_sent", order.FeedbackEmailSent)
		return nil
	}

	s.notifier.Notify(ctx, domain.NewOrderEvent(domain.EventFeedbackRequested, order, now))
	return nil
}

// Cancel is the customer cancellation. It never refunds by itself.
func (s *Service) Cancel(ctx context.Context, user auth.Identity, number, reason string) (*domain.Order, error) {
	if _, err := s.ownedOrder(ctx, user, number); err != nil {
		return nil, err
	}

	var before domain.OrderStatus
	order, _, err := s.repo.Update(ctx, number, func(o *domain.Order) (*domain.TrackingEntry, error) {
		before = o.Status
		if !o.Status.Cancellable() {
			return nil, &CancelError{Status: o.Status}
		}
		o.Status = domain.OrderStatusCancelled

		message := "Cancelled by customer"
		if reason = strings.TrimSpace(reason); reason != "" {
			message += ": " + reason
		}
		return &domain.TrackingEntry{Status: o.Status, Message: message, Actor: actorFor(user)}, nil
	})
	if err != nil {
		return nil, err
	}

	s.afterTransition(ctx, order, before)
	return order, nil
}

// Reorder copies the still-available items of a past order into the cart and
// returns how many lines were added. The lines are added together, so a
// failure leaves the cart as it was.
func (s *Service) Reorder(ctx context.Context, user auth.Identity, number string) (int, error) {
	order, err := s.ownedOrder(ctx, user, number)
	if err != nil {
		return 0, err
	}

	var lines []cart.NewItem
	for _, item := range order.Items {
		if item.ProductID == "" {
			continue
		}

		available, err := s.catalog.Availability(ctx, item.ProductID, item.VariantID)
		if err != nil {
			return 0, err
		}
		if !available {
			s.logger.Info("reorder skipped unavailable item", "order_number", number, "product_id", item.ProductID)
			continue
		}
		lines = append(lines, cart.NewItem{ProductID: item.ProductID, VariantID: item.VariantID, Quantity: item.Quantity})
	}

	if len(lines) == 0 {
		return 0, ErrNothingToReorder
	}

	if err := s.carts.AddOrIncrement(ctx, user.UserID, lines); err != nil {
		return 0, err
	}

	s.logger.Info("order reordered", "order_number", number, "user_id", user.UserID, "items_added", len(lines))
	return len(lines), nil
}

// Refund asks the gateway to refund a captured payment. The status change
// happens when the refund.processed webhook arrives.
func (s *Service) Refund(ctx context.Context, actor auth.Identity, number string, amount decimal.Decimal) (*domain.Order, error) {
	order, err := s.repo.GetByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, ErrNotFound
	}

	if order.PaymentStatus != domain.PaymentStatusPaid || order.GatewayPaymentID == "" {
		return nil, ErrNotPaid
	}
	if amount.IsNegative() || amount.GreaterThan(order.TotalAmount) {
		return nil, fmt.Errorf("%w: refund amount must be between 0 and %s", ErrInvalidRequest, order.TotalAmount.StringFixed(2))
	}

	refund, err := s.gateway.Refund(ctx, order.GatewayPaymentID, amount)
	if err != nil {
		s.logger.Error("refund request failed", "error", err, "order_number", number)
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}

	updated, _, err := s.repo.Update(ctx, number, func(o *domain.Order) (*domain.TrackingEntry, error) {
		o.RefundID = refund.ID
		return &domain.TrackingEntry{
			Status:  o.Status,
			Message: fmt.Sprintf("Refund of %s requested (%s)", payment.FromMinorUnits(refund.Amount).StringFixed(2), refund.ID),
			Actor:   actorFor(actor),
		}, nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("refund requested", "order_number", number, "refund_id", refund.ID)
	return updated, nil
}

func (s *Service) Get(ctx context.Context, user auth.Identity, number string) (*domain.Order, error) {
	return s.ownedOrder(ctx, user, number)
}

func (s *Service) List(ctx context.Context, user auth.Identity) ([]domain.Order, error) {
	return s.repo.ListByUser(ctx, user.UserID)
}

// Tracking returns the order history oldest first.
func (s *Service) Tracking(ctx context.Context, user auth.Identity, number string) ([]domain.TrackingEntry, error) {
	order, err := s.ownedOrder(ctx, user, number)
	if err != nil {
		return nil, err
	}
	return s.repo.Tracking(ctx, order.ID)
}

func (s *Service) ownedOrder(ctx context.Context, user auth.Identity, number string) (*domain.Order, error) {
	order, err := s.repo.GetByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	if order == nil || !canSee(user, order) {
		return nil, ErrNotFound
	}
	return order, nil
}

func canSee(user auth.Identity, order *domain.Order) bool {
	return user.IsStaff() || order.UserID == user.UserID
}

func actorFor(id auth.Identity) string {
	if id.UserID == "" {
		return "system"
	}
	if id.IsStaff() {
		return "staff:" + id.UserID
	}
	return "customer:" + id.UserID
}

// afterTransition runs the best-effort effects of a committed status change.
func (s *Service) afterTransition(ctx context.Context, order *domain.Order, before domain.OrderStatus) {
	if order.Status == before {
		return
	}

	s.metrics.Transition(ctx, string(before), string(order.Status))
	s.logger.Info("order status changed", "order_number", order.Number, "from", before, "to", order.Status,
		"payment_status", order.PaymentStatus)

	eventType := domain.EventStatusChanged
	if order.PaymentStatus == domain.PaymentStatusFailed && order.Status == domain.OrderStatusCancelled {
		eventType = domain.EventPaymentFailed
	}
	event := domain.NewOrderEvent(eventType, order, s.now())
	event.PreviousStatus = before
	s.notifier.Notify(ctx, event)
}
