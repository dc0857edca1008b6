package orders

import (
	"errors"
	"fmt"

	"github.com/joao-fontenele/giftshop/internal/domain"
)

var (
	ErrNotFound           = errors.New("order not found")
	ErrAddressNotFound    = errors.New("address not found")
	ErrEmptyCart          = errors.New("cart is empty")
	ErrInvalidRequest     = errors.New("invalid request")
	ErrInvalidStatus      = errors.New("invalid order status")
	ErrInvalidTransition  = errors.New("transition not allowed")
	ErrProductUnavailable = errors.New("product is no longer available")
	ErrSignatureMismatch  = errors.New("payment signature verification failed")
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	ErrNotPaid            = errors.New("order has no captured payment")
	ErrNothingToReorder   = errors.New("none of the items in this order are available")

	// errUnchanged is returned by an UpdateFunc to leave the order untouched.
	errUnchanged = errors.New("order unchanged")
)

// CancelError is returned when an order can no longer be cancelled.
type CancelError struct {
	Status domain.OrderStatus
}

func (e *CancelError) Error() string {
	return fmt.Sprintf("order cannot be cancelled while %s", e.Status)
}

// UnavailableError names the product that blocked a checkout.
type UnavailableError struct {
	ProductName string
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s is no longer available", e.ProductName)
}

func (e *UnavailableError) Unwrap() error {
	return ErrProductUnavailable
}
