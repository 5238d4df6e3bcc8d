// Package cart holds the in-progress sale: line items, the optional customer
// and table links, and the pricing rules that turn lines into totals.
//
// A Cart is a plain value owned by one caller. It is not safe for concurrent
// use; the table order manager serializes access per table.
package cart

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/roach88/posvault/internal/model"
)

var (
	// ErrInvalidSizeSelection means a sized product was added without a size,
	// or with a size it has no price for.
	ErrInvalidSizeSelection = errors.New("invalid size selection")

	// ErrNotFound means no product matches a scanned barcode.
	ErrNotFound = errors.New("no product matches barcode")

	// ErrAmbiguousBarcode means several products share a scanned barcode.
	ErrAmbiguousBarcode = errors.New("barcode matches several products")

	// ErrLineNotFound means no line has the given line key.
	ErrLineNotFound = errors.New("cart line not found")
)

// combinationPrefix marks the product id of a combination line.
const combinationPrefix = "combo:"

// Cart is an ordered list of line items plus optional links.
type Cart struct {
	lines      []model.LineItem
	customerID string
	tableID    string
}

// New returns an empty cart.
func New() *Cart {
	return &Cart{}
}

// FromItems rebuilds a cart from stored line items, preserving order and
// every line attribute. Items are copied.
func FromItems(items []model.LineItem) *Cart {
	c := New()
	for _, item := range items {
		c.lines = append(c.lines, copyLine(item))
	}
	return c
}

// LineKey identifies a line by product and size.
func LineKey(productID, size string) string {
	if size == "" {
		return productID
	}
	return productID + "|" + size
}

func lineKeyOf(item model.LineItem) string {
	return LineKey(item.ProductID, item.Size)
}

// AddItem merges item into the line with the same product and size, or
// appends it. A quantity below one counts as one. Returns the line key.
//
// A merge only raises the quantity. The existing line keeps its add-ons and
// note, and they apply to every unit, so the incoming item's add-ons and note
// are not carried over. Use SetAddOns or SetNote on the returned key to
// change them.
func (c *Cart) AddItem(item model.LineItem) string {
	if item.Quantity < 1 {
		item.Quantity = 1
	}
	key := lineKeyOf(item)
	if i := c.index(key); i >= 0 {
		c.lines[i].Quantity += item.Quantity
		return key
	}
	c.lines = append(c.lines, copyLine(item))
	return key
}

// AddProduct adds qty units of a catalog product, resolving the unit price
// from the product's size map when it has one.
func (c *Cart) AddProduct(p model.Product, size string, qty int) (string, error) {
	price, err := ResolvePrice(p, size)
	if err != nil {
		return "", err
	}
	return c.AddItem(model.LineItem{
		ProductID: p.ID,
		Name:      p.Name,
		Quantity:  qty,
		UnitPrice: price,
		Size:      size,
	}), nil
}

// AddCombination adds a line made of two products, such as a half-and-half
// pizza. The unit price is the mean of both resolved prices rounded to cents.
// The line's product id is the same whichever order a and b are given in.
func (c *Cart) AddCombination(a, b model.Product, size string, qty int) (string, error) {
	priceA, err := ResolvePrice(a, size)
	if err != nil {
		return "", fmt.Errorf("combination %s: %w", a.ID, err)
	}
	priceB, err := ResolvePrice(b, size)
	if err != nil {
		return "", fmt.Errorf("combination %s: %w", b.ID, err)
	}

	parts := []model.Product{a, b}
	sort.Slice(parts, func(i, j int) bool { return parts[i].ID < parts[j].ID })

	return c.AddItem(model.LineItem{
		ProductID:  combinationPrefix + parts[0].ID + "+" + parts[1].ID,
		Name:       parts[0].Name + " / " + parts[1].Name,
		Quantity:   qty,
		UnitPrice:  priceA.Add(priceB).Div(decimal.NewFromInt(2)).Round(2),
		Size:       size,
		Components: []string{parts[0].ID, parts[1].ID},
	}), nil
}

// IsCombination reports whether a product id names a combination line.
func IsCombination(productID string) bool {
	return strings.HasPrefix(productID, combinationPrefix)
}

// ResolvePrice returns the unit price of p in the given size.
func ResolvePrice(p model.Product, size string) (decimal.Decimal, error) {
	if !p.HasSizes() {
		if size != "" {
			return decimal.Zero, fmt.Errorf("%w: %s has no size %q", ErrInvalidSizeSelection, p.ID, size)
		}
		return p.Price, nil
	}
	if size == "" {
		return decimal.Zero, fmt.Errorf("%w: %s requires a size", ErrInvalidSizeSelection, p.ID)
	}
	price, ok := p.SizePrices[size]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s has no size %q", ErrInvalidSizeSelection, p.ID, size)
	}
	return price, nil
}

// ChangeQuantity adds delta to a line's quantity. A result of zero or less
// removes the line.
func (c *Cart) ChangeQuantity(key string, delta int) error {
	i := c.index(key)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrLineNotFound, key)
	}
	next := c.lines[i].Quantity + delta
	if next <= 0 {
		c.removeAt(i)
		return nil
	}
	c.lines[i].Quantity = next
	return nil
}

// RemoveItem deletes a line.
func (c *Cart) RemoveItem(key string) error {
	i := c.index(key)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrLineNotFound, key)
	}
	c.removeAt(i)
	return nil
}

// SetNote replaces a line's note.
func (c *Cart) SetNote(key, note string) error {
	i := c.index(key)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrLineNotFound, key)
	}
	c.lines[i].Note = strings.TrimSpace(note)
	return nil
}

// SetAddOns replaces a line's add-ons.
func (c *Cart) SetAddOns(key string, addOns []model.AddOn) error {
	i := c.index(key)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrLineNotFound, key)
	}
	c.lines[i].AddOns = append([]model.AddOn(nil), addOns...)
	return nil
}

// Clear removes every line and both links.
func (c *Cart) Clear() {
	c.lines = nil
	c.customerID = ""
	c.tableID = ""
}

// Lines returns a copy of the lines in display order.
func (c *Cart) Lines() []model.LineItem {
	out := make([]model.LineItem, 0, len(c.lines))
	for _, l := range c.lines {
		out = append(out, copyLine(l))
	}
	return out
}

// Len returns the number of lines.
func (c *Cart) Len() int { return len(c.lines) }

// IsEmpty reports whether the cart has no lines.
func (c *Cart) IsEmpty() bool { return len(c.lines) == 0 }

// SetCustomer links the cart to a customer. An empty id unlinks it.
func (c *Cart) SetCustomer(id string) { c.customerID = id }

// CustomerID returns the linked customer, if any.
func (c *Cart) CustomerID() string { return c.customerID }

// SetTable links the cart to a table. An empty id unlinks it.
func (c *Cart) SetTable(id string) { c.tableID = id }

// TableID returns the linked table, if any.
func (c *Cart) TableID() string { return c.tableID }

// BarcodeLookup finds products by barcode.
type BarcodeLookup interface {
	ProductsByBarcode(ctx context.Context, code string) ([]model.Product, error)
}

// ScanBarcode adds qty units of the single product carrying code.
// Sized products cannot be added by scan alone and fail with
// ErrInvalidSizeSelection.
func (c *Cart) ScanBarcode(ctx context.Context, lookup BarcodeLookup, code string, qty int) (string, error) {
	matches, err := lookup.ProductsByBarcode(ctx, code)
	if err != nil {
		return "", fmt.Errorf("scan %s: %w", code, err)
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("scan %s: %w", code, ErrNotFound)
	case 1:
		return c.AddProduct(matches[0], "", qty)
	default:
		return "", fmt.Errorf("scan %s: %w (%d products)", code, ErrAmbiguousBarcode, len(matches))
	}
}

func (c *Cart) index(key string) int {
	for i, l := range c.lines {
		if lineKeyOf(l) == key {
			return i
		}
	}
	return -1
}

func (c *Cart) removeAt(i int) {
	c.lines = append(c.lines[:i], c.lines[i+1:]...)
}

func copyLine(l model.LineItem) model.LineItem {
	if l.AddOns != nil {
		l.AddOns = append([]model.AddOn(nil), l.AddOns...)
	}
	if l.Components != nil {
		l.Components = append([]string(nil), l.Components...)
	}
	return l
}
