// Package catalog is the typed repository over the record store for
// products, customers, categories and ingredients.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/posvault/internal/model"
	"github.com/roach88/posvault/internal/store"
)

var (
	// ErrInsufficientStock means an adjustment would take stock below zero.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrInvalidEntity means a record is missing a required field.
	ErrInvalidEntity = errors.New("invalid catalog entry")
)

// Catalog reads and writes catalog and customer records.
type Catalog struct {
	store  *store.Store
	logger *slog.Logger
}

// New creates a Catalog over s.
func New(s *store.Store, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{store: s, logger: logger}
}

// NormalizeText trims surrounding space and applies Unicode NFC, so names
// typed on different devices compare equal.
func NormalizeText(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// NormalizePhone keeps the digits of a phone number and a leading '+'.
func NormalizePhone(s string) string {
	s = strings.TrimSpace(s)
	var b strings.Builder
	for i, r := range s {
		if r == '+' && i == 0 {
			b.WriteRune(r)
			continue
		}
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Product returns one product by id.
func (c *Catalog) Product(ctx context.Context, id string) (model.Product, error) {
	rec, err := c.store.Get(ctx, model.CollectionProducts, id)
	if err != nil {
		return model.Product{}, err
	}
	return store.Decode[model.Product](rec)
}

// Products returns every product in insertion order.
func (c *Catalog) Products(ctx context.Context) ([]model.Product, error) {
	records, err := c.store.GetAll(ctx, model.CollectionProducts)
	if err != nil {
		return nil, err
	}
	return store.DecodeAll[model.Product](records)
}

// ProductsByBarcode returns every product carrying the barcode.
// Barcodes are not unique, so callers decide what several matches mean.
func (c *Catalog) ProductsByBarcode(ctx context.Context, code string) ([]model.Product, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return []model.Product{}, nil
	}
	records, err := c.store.GetAllByIndex(ctx, model.CollectionProducts, store.IndexByBarcode, code)
	if err != nil {
		return nil, err
	}
	return store.DecodeAll[model.Product](records)
}

// ProductsByCategory returns the products of one category.
func (c *Catalog) ProductsByCategory(ctx context.Context, categoryID string) ([]model.Product, error) {
	records, err := c.store.GetAllByIndex(ctx, model.CollectionProducts, store.IndexByCategory, categoryID)
	if err != nil {
		return nil, err
	}
	return store.DecodeAll[model.Product](records)
}

// PutProduct creates or replaces a product.
func (c *Catalog) PutProduct(ctx context.Context, p model.Product) error {
	if p.ID == "" {
		return fmt.Errorf("put product: %w: id is required", ErrInvalidEntity)
	}
	p.Name = NormalizeText(p.Name)
	p.Barcode = strings.TrimSpace(p.Barcode)
	return c.store.Put(ctx, model.CollectionProducts, p)
}

// DeleteProduct removes a product. Orders keep their captured line data.
func (c *Catalog) DeleteProduct(ctx context.Context, id string) error {
	return c.store.Delete(ctx, model.CollectionProducts, id)
}

// Categories returns every category.
func (c *Catalog) Categories(ctx context.Context) ([]model.Category, error) {
	records, err := c.store.GetAll(ctx, model.CollectionCategories)
	if err != nil {
		return nil, err
	}
	return store.DecodeAll[model.Category](records)
}

// PutCategory creates or replaces a category.
func (c *Catalog) PutCategory(ctx context.Context, cat model.Category) error {
	if cat.ID == "" {
		return fmt.Errorf("put category: %w: id is required", ErrInvalidEntity)
	}
	cat.Name = NormalizeText(cat.Name)
	return c.store.Put(ctx, model.CollectionCategories, cat)
}
