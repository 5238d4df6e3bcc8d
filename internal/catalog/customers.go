package catalog

import (
	"context"
	"fmt"

	"github.com/roach88/posvault/internal/model"
	"github.com/roach88/posvault/internal/store"
)

// Customer returns one customer by id.
func (c *Catalog) Customer(ctx context.Context, id string) (model.Customer, error) {
	rec, err := c.store.Get(ctx, model.CollectionCustomers, id)
	if err != nil {
		return model.Customer{}, err
	}
	return store.Decode[model.Customer](rec)
}

// Customers returns every customer in insertion order.
func (c *Catalog) Customers(ctx context.Context) ([]model.Customer, error) {
	records, err := c.store.GetAll(ctx, model.CollectionCustomers)
	if err != nil {
		return nil, err
	}
	return store.DecodeAll[model.Customer](records)
}

// CustomersByPhone returns the customers registered under a phone number.
func (c *Catalog) CustomersByPhone(ctx context.Context, phone string) ([]model.Customer, error) {
	phone = NormalizePhone(phone)
	if phone == "" {
		return []model.Customer{}, nil
	}
	records, err := c.store.GetAllByIndex(ctx, model.CollectionCustomers, store.IndexByPhone, phone)
	if err != nil {
		return nil, err
	}
	return store.DecodeAll[model.Customer](records)
}

// PutCustomer creates or replaces a customer. There is no delete: customers
// are referenced by completed orders.
func (c *Catalog) PutCustomer(ctx context.Context, cust model.Customer) error {
	cust, err := PrepareCustomer(cust)
	if err != nil {
		return err
	}
	return c.store.Put(ctx, model.CollectionCustomers, cust)
}

// PrepareCustomer normalizes a customer record before it is written.
func PrepareCustomer(cust model.Customer) (model.Customer, error) {
	if cust.ID == "" {
		return cust, fmt.Errorf("put customer: %w: id is required", ErrInvalidEntity)
	}
	cust.Name = NormalizeText(cust.Name)
	cust.Phone = NormalizePhone(cust.Phone)
	cust.Address.Street = NormalizeText(cust.Address.Street)
	cust.Address.Reference = NormalizeText(cust.Address.Reference)
	if cust.OrderIDs == nil {
		cust.OrderIDs = []string{}
	}
	return cust, nil
}
