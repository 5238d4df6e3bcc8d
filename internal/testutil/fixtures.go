package testutil

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/roach88/posvault/internal/model"
	"github.com/roach88/posvault/internal/store"
)

// Price parses a decimal literal, panicking on malformed input.
func Price(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// Product builds a flat-priced product.
func Product(id, name, price string) model.Product {
	return model.Product{ID: id, Name: name, Price: Price(price)}
}

// SizedProduct builds a product priced per size. sizes alternates size name
// and price: "small", "8.00", "large", "12.00".
func SizedProduct(id, name string, sizes ...string) model.Product {
	p := model.Product{ID: id, Name: name, SizePrices: map[string]decimal.Decimal{}}
	for i := 0; i+1 < len(sizes); i += 2 {
		p.SizePrices[sizes[i]] = Price(sizes[i+1])
	}
	return p
}

// Seed writes records into a collection, failing the test on error.
func Seed[T any](t *testing.T, s *store.Store, collection string, records ...T) {
	t.Helper()
	ctx := context.Background()
	for _, r := range records {
		if err := s.Put(ctx, collection, r); err != nil {
			t.Fatalf("seed %s: %v", collection, err)
		}
	}
}
