package tableorder

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/posvault/internal/cart"
	"github.com/roach88/posvault/internal/catalog"
	"github.com/roach88/posvault/internal/model"
	"github.com/roach88/posvault/internal/store"
)

// Checkout completes a takeaway or delivery sale directly from a cart.
//
// When a customer is given it is matched by phone number: an existing
// customer keeps its id and history and takes the new name and address, a
// new one is created. The customer upsert, the order write and the history
// append happen in one transaction. Delivery requires a customer.
func (m *Manager) Checkout(ctx context.Context, kind model.OrderKind, c *cart.Cart, customer *model.Customer, payment model.Payment) (model.Order, error) {
	if kind != model.OrderKindDelivery && kind != model.OrderKindTakeaway {
		return model.Order{}, fmt.Errorf("checkout: %w: %q", ErrInvalidKind, kind)
	}
	if c.IsEmpty() {
		return model.Order{}, fmt.Errorf("checkout: %w", ErrEmptyCart)
	}
	if kind == model.OrderKindDelivery && customer == nil && c.CustomerID() == "" {
		return model.Order{}, fmt.Errorf("checkout: %w for delivery", ErrCustomerRequired)
	}

	tax, err := m.tax.TaxConfig(ctx)
	if err != nil {
		return model.Order{}, fmt.Errorf("checkout: tax config: %w", err)
	}

	now := m.now()
	order := model.Order{
		CreatedAt:     now,
		Kind:          kind,
		Status:        model.OrderStatusCompleted,
		CustomerID:    c.CustomerID(),
		Items:         c.Lines(),
		PaymentMethod: payment.Method,
		SplitPayments: payment.Splits,
		CompletedAt:   &now,
	}
	order.SetTotals(cart.ComputeTotals(order.Items, tax))
	if err := validatePayment(payment, order.Total); err != nil {
		return model.Order{}, fmt.Errorf("checkout: %w", err)
	}
	order.ID = m.ids.Generate()

	scope := []string{model.CollectionOrders, model.CollectionCustomers}
	err = m.store.RunTransaction(ctx, scope, store.ReadWrite, func(tx *store.Tx) error {
		if customer != nil {
			id, err := m.upsertCustomer(ctx, tx, *customer)
			if err != nil {
				return err
			}
			order.CustomerID = id
		}
		if err := tx.Add(ctx, model.CollectionOrders, order); err != nil {
			return err
		}
		if order.CustomerID != "" {
			return appendCustomerOrder(ctx, tx, order.CustomerID, order.ID)
		}
		return nil
	})
	if err != nil {
		return model.Order{}, fmt.Errorf("checkout: %w", err)
	}

	m.logger.Info("order checked out",
		"order", order.ID,
		"kind", string(kind),
		"customer", order.CustomerID,
		"total", order.Total.StringFixed(2))
	return order, nil
}

// upsertCustomer writes the customer, reusing the record already registered
// under the same phone number. Returns the customer id.
func (m *Manager) upsertCustomer(ctx context.Context, tx *store.Tx, in model.Customer) (string, error) {
	phone := catalog.NormalizePhone(in.Phone)
	if phone != "" {
		records, err := tx.GetAllByIndex(ctx, model.CollectionCustomers, store.IndexByPhone, phone)
		if err != nil {
			return "", err
		}
		if len(records) > 0 {
			existing, err := store.Decode[model.Customer](records[0])
			if err != nil {
				return "", err
			}
			in.ID = existing.ID
			in.OrderIDs = existing.OrderIDs
			if in.Name == "" {
				in.Name = existing.Name
			}
			if in.Address.Street == "" {
				in.Address = existing.Address
			}
		}
	}

	if in.ID == "" {
		in.ID = m.ids.Generate()
	} else if in.OrderIDs == nil {
		rec, err := tx.Get(ctx, model.CollectionCustomers, in.ID)
		switch {
		case err == nil:
			if existing, decErr := store.Decode[model.Customer](rec); decErr == nil {
				in.OrderIDs = existing.OrderIDs
			}
		case !errors.Is(err, store.ErrNotFound):
			return "", err
		}
	}

	prepared, err := catalog.PrepareCustomer(in)
	if err != nil {
		return "", err
	}
	if err := tx.Put(ctx, model.CollectionCustomers, prepared); err != nil {
		return "", err
	}
	return prepared.ID, nil
}
