package domain

import (
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusConfirmed  OrderStatus = "confirmed"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
	OrderStatusRefunded   OrderStatus = "refunded"
)

var orderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusConfirmed,
	OrderStatusProcessing,
	OrderStatusShipped,
	OrderStatusDelivered,
	OrderStatusCancelled,
	OrderStatusRefunded,
}

// Valid reports whether s is one of the enumerated order statuses.
func (s OrderStatus) Valid() bool {
	return slices.Contains(orderStatuses, s)
}

// Terminal reports whether no further transition is defined out of s.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusCancelled || s == OrderStatusRefunded
}

// Cancellable reports whether a customer may still cancel an order in s.
func (s OrderStatus) Cancellable() bool {
	switch s {
	case OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled, OrderStatusRefunded:
		return false
	}
	return s.Valid()
}

type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusFailed   PaymentStatus = "failed"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

type PaymentMethod string

const (
	PaymentMethodRazorpay       PaymentMethod = "razorpay"
	PaymentMethodCashOnDelivery PaymentMethod = "cod"
)

func (m PaymentMethod) Valid() bool {
	return m == PaymentMethodRazorpay || m == PaymentMethodCashOnDelivery
}

// AddressSnapshot is a copy of address fields frozen onto an order.
type AddressSnapshot struct {
	FullName   string `json:"full_name"`
	Email      string `json:"email"`
	Phone      string `json:"phone"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

type AddOnSnapshot struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
}

type OrderItem struct {
	ID          string          `json:"id"`
	ProductID   string          `json:"product_id,omitempty"`
	VariantID   string          `json:"variant_id,omitempty"`
	ProductName string          `json:"product_name"`
	VariantName string          `json:"variant_name,omitempty"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	AddOnsPrice decimal.Decimal `json:"addons_price"`
	TotalPrice  decimal.Decimal `json:"total_price"`
	AddOns      []AddOnSnapshot `json:"addons,omitempty"`
}

type Order struct {
	ID                  string          `json:"id"`
	Number              string          `json:"order_number"`
	UserID              string          `json:"user_id"`
	Status              OrderStatus     `json:"status"`
	PaymentStatus       PaymentStatus   `json:"payment_status"`
	PaymentMethod       PaymentMethod   `json:"payment_method"`
	GatewayOrderID      string          `json:"gateway_order_id,omitempty"`
	GatewayPaymentID    string          `json:"gateway_payment_id,omitempty"`
	GatewaySignature    string          `json:"-"`
	RefundID            string          `json:"refund_id,omitempty"`
	Billing             AddressSnapshot `json:"billing"`
	Shipping            AddressSnapshot `json:"shipping"`
	Items               []OrderItem     `json:"items"`
	Subtotal            decimal.Decimal `json:"subtotal"`
	DiscountAmount      decimal.Decimal `json:"discount_amount"`
	DeliveryCharge      decimal.Decimal `json:"delivery_charge"`
	TotalAmount         decimal.Decimal `json:"total_amount"`
	CouponID            string          `json:"-"`
	CouponCode          string          `json:"coupon_code,omitempty"`
	SpecialInstructions string          `json:"special_instructions,omitempty"`
	DeliveryDate        *time.Time      `json:"delivery_date,omitempty"`
	DeliveryTimeSlot    string          `json:"delivery_time_slot,omitempty"`
	FeedbackEmailSent   bool            `json:"feedback_email_sent"`
	FeedbackEmailSentAt *time.Time      `json:"feedback_email_sent_at,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// ApplyTotals recomputes subtotal and total from the items, the discount and
// the delivery charge. It is the only place totals are derived.
func (o *Order) ApplyTotals() {
	subtotal := decimal.Zero
	for _, item := range o.Items {
		subtotal = subtotal.Add(item.TotalPrice)
	}
	o.Subtotal = subtotal
	o.TotalAmount = subtotal.Sub(o.DiscountAmount).Add(o.DeliveryCharge)
}

// CheckTotals verifies the total and subtotal invariants.
func (o *Order) CheckTotals() error {
	subtotal := decimal.Zero
	for _, item := range o.Items {
		subtotal = subtotal.Add(item.TotalPrice)
	}
	if !subtotal.Equal(o.Subtotal) {
		return fmt.Errorf("order %s: subtotal %s does not match items sum %s", o.Number, o.Subtotal, subtotal)
	}
	want := o.Subtotal.Sub(o.DiscountAmount).Add(o.DeliveryCharge)
	if !want.Equal(o.TotalAmount) {
		return fmt.Errorf("order %s: total %s does not match %s", o.Number, o.TotalAmount, want)
	}
	return nil
}

type TrackingEntry struct {
	ID             string      `json:"id"`
	OrderID        string      `json:"order_id"`
	Status         OrderStatus `json:"status"`
	Message        string      `json:"message"`
	Location       string      `json:"location,omitempty"`
	CourierName    string      `json:"courier_name,omitempty"`
	TrackingNumber string      `json:"tracking_number,omitempty"`
	Actor          string      `json:"actor,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
}

// NewestFirst returns a copy of entries ordered for display.
func NewestFirst(entries []TrackingEntry) []TrackingEntry {
	out := slices.Clone(entries)
	slices.SortStableFunc(out, func(a, b TrackingEntry) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return out
}
