package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Collection names shared by the store, snapshots and restore.
const (
	CollectionProducts    = "products"
	CollectionCustomers   = "customers"
	CollectionOrders      = "orders"
	CollectionTables      = "tables"
	CollectionCategories  = "categories"
	CollectionIngredients = "ingredients"
)

// Collections lists every persisted collection in snapshot order.
var Collections = []string{
	CollectionProducts,
	CollectionCustomers,
	CollectionOrders,
	CollectionTables,
	CollectionCategories,
	CollectionIngredients,
}

// OrderKind distinguishes how a sale is served.
type OrderKind string

const (
	OrderKindTable    OrderKind = "table"
	OrderKindDelivery OrderKind = "delivery"
	OrderKindTakeaway OrderKind = "takeaway"
)

// Valid reports whether k is a known order kind.
func (k OrderKind) Valid() bool {
	switch k {
	case OrderKindTable, OrderKindDelivery, OrderKindTakeaway:
		return true
	}
	return false
}

// OrderStatus is the lifecycle state of an order record.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusDraft     OrderStatus = "draft"
	OrderStatusCompleted OrderStatus = "completed"
)

// AddOn is an extra charge attached to a line item, priced per unit.
type AddOn struct {
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
}

// LineItem is one entry of a cart or order.
type LineItem struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Size      string          `json:"size,omitempty"`
	AddOns    []AddOn         `json:"add_ons,omitempty"`
	Note      string          `json:"note,omitempty"`

	// Components holds the constituent product ids of a combination line
	// (for example a half-and-half pizza). Empty for ordinary lines.
	Components []string `json:"components,omitempty"`
}

// Totals is the computed money summary of a cart or order.
type Totals struct {
	Subtotal decimal.Decimal `json:"subtotal"`
	Tax      decimal.Decimal `json:"tax"`
	Total    decimal.Decimal `json:"total"`
}

// PaymentMethod names how an order was settled.
type PaymentMethod string

const (
	PaymentCash  PaymentMethod = "cash"
	PaymentCard  PaymentMethod = "card"
	PaymentSplit PaymentMethod = "split"
)

// SplitPayment is one leg of a split payment.
type SplitPayment struct {
	Method PaymentMethod   `json:"method"`
	Amount decimal.Decimal `json:"amount"`
}

// Payment describes how a sale was paid when it is completed.
type Payment struct {
	Method PaymentMethod  `json:"method"`
	Splits []SplitPayment `json:"splits,omitempty"`
}

// Order is a sale, either a draft or a finalized record.
type Order struct {
	ID            string          `json:"id"`
	CreatedAt     time.Time       `json:"created_at"`
	Kind          OrderKind       `json:"kind"`
	Status        OrderStatus     `json:"status"`
	TableID       string          `json:"table_id,omitempty"`
	CustomerID    string          `json:"customer_id,omitempty"`
	Items         []LineItem      `json:"items"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	Tax           decimal.Decimal `json:"tax"`
	Total         decimal.Decimal `json:"total"`
	PaymentMethod PaymentMethod   `json:"payment_method,omitempty"`
	SplitPayments []SplitPayment  `json:"split_payments,omitempty"`

	// DraftID links a completed table order to the draft it was produced from.
	DraftID     string     `json:"draft_id,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// SetTotals copies computed totals onto the order.
func (o *Order) SetTotals(t Totals) {
	o.Subtotal = t.Subtotal
	o.Tax = t.Tax
	o.Total = t.Total
}

// TableDraft is the single outstanding draft of a table, keyed by TableID.
type TableDraft struct {
	TableID   string    `json:"table_id"`
	Order     Order     `json:"order"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Address is a customer's delivery address.
type Address struct {
	Street    string   `json:"street"`
	Reference string   `json:"reference,omitempty"`
	Lat       *float64 `json:"lat,omitempty"`
	Lng       *float64 `json:"lng,omitempty"`
}

// Customer is a person the business sells to.
type Customer struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Phone    string   `json:"phone"`
	Address  Address  `json:"address"`
	OrderIDs []string `json:"order_ids"`
}

// HasOrder reports whether id is already in the customer's order list.
func (c *Customer) HasOrder(id string) bool {
	for _, existing := range c.OrderIDs {
		if existing == id {
			return true
		}
	}
	return false
}

// Product is a sellable catalog entry.
type Product struct {
	ID         string                     `json:"id"`
	Name       string                     `json:"name"`
	Price      decimal.Decimal            `json:"price"`
	CategoryID string                     `json:"category_id,omitempty"`
	Barcode    string                     `json:"barcode,omitempty"`
	SizePrices map[string]decimal.Decimal `json:"size_prices,omitempty"`
	Stock      *int                       `json:"stock,omitempty"`
}

// HasSizes reports whether the product is priced per size variant.
func (p Product) HasSizes() bool {
	return len(p.SizePrices) > 0
}

// Category groups products and ingredients.
type Category struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Ingredient is a stock-tracked input.
type Ingredient struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Unit       string          `json:"unit,omitempty"`
	CategoryID string          `json:"category_id,omitempty"`
	Price      decimal.Decimal `json:"price"`
	Stock      decimal.Decimal `json:"stock"`
}

// TaxConfig is provided by the tax-configuration collaborator.
type TaxConfig struct {
	Enabled    bool            `json:"tax_enabled" yaml:"enabled"`
	Percentage decimal.Decimal `json:"tax_percentage" yaml:"percentage"`
}
