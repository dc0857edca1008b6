package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Slug     string          `json:"slug"`
	Price    decimal.Decimal `json:"price"`
	Stock    int             `json:"stock"`
	Active   bool            `json:"active"`
	Variants []Variant       `json:"variants,omitempty"`
}

func (p Product) Available() bool {
	return p.Active && p.Stock > 0
}

type Variant struct {
	ID        string          `json:"id"`
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Stock     int             `json:"stock"`
	Active    bool            `json:"active"`
}

type AddOn struct {
	ID     string          `json:"id"`
	Name   string          `json:"name"`
	Price  decimal.Decimal `json:"price"`
	Active bool            `json:"active"`
}

// Customization is the free-form personalisation attached to a cart line.
type Customization struct {
	Name    string          `json:"name,omitempty"`
	Message string          `json:"message,omitempty"`
	Date    *time.Time      `json:"date,omitempty"`
	Flavor  string          `json:"flavor,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (c Customization) Empty() bool {
	return c.Name == "" && c.Message == "" && c.Date == nil && c.Flavor == "" && len(c.Data) == 0
}

type CartItem struct {
	ID            string        `json:"id"`
	CartID        string        `json:"cart_id"`
	Product       Product       `json:"product"`
	Variant       *Variant      `json:"variant,omitempty"`
	Quantity      int           `json:"quantity"`
	AddOns        []AddOn       `json:"addons,omitempty"`
	Customization Customization `json:"customization"`
	CreatedAt     time.Time     `json:"created_at"`
}

// UnitPrice is the variant price when a variant is selected, else the product price.
func (i CartItem) UnitPrice() decimal.Decimal {
	if i.Variant != nil {
		return i.Variant.Price
	}
	return i.Product.Price
}

func (i CartItem) AddOnsPrice() decimal.Decimal {
	total := decimal.Zero
	for _, a := range i.AddOns {
		total = total.Add(a.Price)
	}
	return total
}

// LineTotal is (unit price + add-ons) x quantity.
func (i CartItem) LineTotal() decimal.Decimal {
	return i.UnitPrice().Add(i.AddOnsPrice()).Mul(decimal.NewFromInt(int64(i.Quantity)))
}

type Cart struct {
	ID                    string     `json:"id"`
	UserID                string     `json:"user_id"`
	Items                 []CartItem `json:"items"`
	LastActivityAt        time.Time  `json:"last_activity_at"`
	AbandonmentNotifiedAt *time.Time `json:"abandonment_notified_at,omitempty"`
}

func (c Cart) Subtotal() decimal.Decimal {
	total := decimal.Zero
	for _, item := range c.Items {
		total = total.Add(item.LineTotal())
	}
	return total
}

func (c Cart) Empty() bool {
	return len(c.Items) == 0
}
