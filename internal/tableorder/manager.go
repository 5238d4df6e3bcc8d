// Package tableorder manages the draft lifecycle of table orders and the
// direct checkout of takeaway and delivery sales.
//
// A table has at most one draft, stored in the tables collection under the
// table id. Saving overwrites the draft in place; completing it deletes the
// draft and writes a finalized order in the same transaction.
//
// Operations on the same table are serialized. Different tables proceed
// independently.
package tableorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/roach88/posvault/internal/cart"
	"github.com/roach88/posvault/internal/ids"
	"github.com/roach88/posvault/internal/model"
	"github.com/roach88/posvault/internal/store"
)

// TaxProvider supplies the tax configuration in effect.
type TaxProvider interface {
	TaxConfig(ctx context.Context) (model.TaxConfig, error)
}

// StaticTax is a TaxProvider with a fixed configuration.
type StaticTax model.TaxConfig

// TaxConfig implements TaxProvider.
func (t StaticTax) TaxConfig(context.Context) (model.TaxConfig, error) {
	return model.TaxConfig(t), nil
}

// Manager runs the table order lifecycle against a store.
type Manager struct {
	store  *store.Store
	tax    TaxProvider
	ids    ids.Generator
	now    func() time.Time
	logger *slog.Logger

	mu    sync.Mutex
	locks map[string]*tableLock
}

// tableLock is a per-table mutex. refs counts holders and waiters; the entry
// is dropped when it reaches zero.
type tableLock struct {
	mu   sync.Mutex
	refs int
}

// Option configures a Manager.
type Option func(*Manager)

// WithIDGenerator sets the order id generator.
func WithIDGenerator(g ids.Generator) Option {
	return func(m *Manager) { m.ids = g }
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// NewManager creates a Manager.
func NewManager(s *store.Store, tax TaxProvider, opts ...Option) *Manager {
	m := &Manager{
		store:  s,
		tax:    tax,
		ids:    ids.UUIDv7Generator{},
		now:    func() time.Time { return time.Now().UTC() },
		logger: slog.Default(),
		locks:  map[string]*tableLock{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// lock serializes operations on one table and returns the unlock function.
func (m *Manager) lock(tableID string) func() {
	m.mu.Lock()
	l, ok := m.locks[tableID]
	if !ok {
		l = &tableLock{}
		m.locks[tableID] = l
	}
	l.refs++
	m.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		m.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(m.locks, tableID)
		}
		m.mu.Unlock()
	}
}

// tableKey trims a table id; every lifecycle method addresses the draft by
// the trimmed id.
func tableKey(tableID string) (string, error) {
	tableID = strings.TrimSpace(tableID)
	if tableID == "" {
		return "", ErrInvalidTable
	}
	return tableID, nil
}

// Save persists the cart as the table's draft, creating it or overwriting the
// existing one. An overwrite keeps the draft's order id and creation time.
func (m *Manager) Save(ctx context.Context, tableID string, c *cart.Cart) (model.Order, error) {
	tableID, err := tableKey(tableID)
	if err != nil {
		return model.Order{}, err
	}
	if c.IsEmpty() {
		return model.Order{}, fmt.Errorf("save table %s: %w", tableID, ErrEmptyCart)
	}

	unlock := m.lock(tableID)
	defer unlock()

	tax, err := m.tax.TaxConfig(ctx)
	if err != nil {
		return model.Order{}, fmt.Errorf("save table %s: %w: tax config: %w", tableID, ErrDraftNotPersisted, err)
	}

	var saved model.Order
	err = m.store.RunTransaction(ctx, []string{model.CollectionTables}, store.ReadWrite, func(tx *store.Tx) error {
		now := m.now()
		order := model.Order{
			CreatedAt:  now,
			Kind:       model.OrderKindTable,
			Status:     model.OrderStatusDraft,
			TableID:    tableID,
			CustomerID: c.CustomerID(),
			Items:      c.Lines(),
		}

		rec, err := tx.Get(ctx, model.CollectionTables, tableID)
		switch {
		case err == nil:
			if prev, decErr := store.Decode[model.TableDraft](rec); decErr == nil && prev.Order.ID != "" {
				order.ID = prev.Order.ID
				order.CreatedAt = prev.Order.CreatedAt
			} else {
				m.logger.Warn("replacing unreadable draft", "table", tableID)
			}
		case !errors.Is(err, store.ErrNotFound):
			return err
		}
		if order.ID == "" {
			order.ID = m.ids.Generate()
		}
		order.SetTotals(cart.ComputeTotals(order.Items, tax))

		saved = order
		return tx.Put(ctx, model.CollectionTables, model.TableDraft{
			TableID:   tableID,
			Order:     order,
			UpdatedAt: now,
		})
	})
	if err != nil {
		return model.Order{}, fmt.Errorf("save table %s: %w: %w", tableID, ErrDraftNotPersisted, err)
	}

	m.logger.Info("table draft saved",
		"table", tableID,
		"order", saved.ID,
		"lines", len(saved.Items),
		"total", saved.Total.StringFixed(2))
	return saved, nil
}

// Load rehydrates the table's draft into a cart with every line attribute
// (sizes, add-ons, notes, combinations) and its customer and table links.
// Each referenced product must still exist in the catalog.
func (m *Manager) Load(ctx context.Context, tableID string) (*cart.Cart, model.Order, error) {
	tableID, err := tableKey(tableID)
	if err != nil {
		return nil, model.Order{}, err
	}
	unlock := m.lock(tableID)
	defer unlock()

	var draft model.TableDraft
	scope := []string{model.CollectionTables, model.CollectionProducts}
	err = m.store.RunTransaction(ctx, scope, store.ReadOnly, func(tx *store.Tx) error {
		var err error
		draft, err = readDraft(ctx, tx, tableID)
		if err != nil {
			return err
		}
		for _, item := range draft.Order.Items {
			for _, pid := range referencedProducts(item) {
				if _, err := tx.Get(ctx, model.CollectionProducts, pid); err != nil {
					if errors.Is(err, store.ErrNotFound) {
						return &DraftError{TableID: tableID, ProductID: pid, Err: ErrMissingProduct}
					}
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, model.Order{}, fmt.Errorf("load table %s: %w", tableID, err)
	}

	c := cart.FromItems(draft.Order.Items)
	c.SetTable(tableID)
	c.SetCustomer(draft.Order.CustomerID)
	return c, draft.Order, nil
}

// Complete finalizes the table's draft: in one transaction it deletes the
// draft, writes a completed order with a new id that records the draft's id,
// and appends the order to the linked customer's history.
func (m *Manager) Complete(ctx context.Context, tableID string, payment model.Payment) (model.Order, error) {
	tableID, err := tableKey(tableID)
	if err != nil {
		return model.Order{}, err
	}
	unlock := m.lock(tableID)
	defer unlock()

	var completed model.Order
	scope := []string{model.CollectionTables, model.CollectionOrders, model.CollectionCustomers}
	err = m.store.RunTransaction(ctx, scope, store.ReadWrite, func(tx *store.Tx) error {
		draft, err := readDraft(ctx, tx, tableID)
		if err != nil {
			return err
		}
		if err := validatePayment(payment, draft.Order.Total); err != nil {
			return err
		}

		now := m.now()
		order := draft.Order
		order.ID = m.ids.Generate()
		order.DraftID = draft.Order.ID
		order.Status = model.OrderStatusCompleted
		order.PaymentMethod = payment.Method
		order.SplitPayments = payment.Splits
		order.CompletedAt = &now

		if err := tx.Add(ctx, model.CollectionOrders, order); err != nil {
			return err
		}
		if err := tx.Delete(ctx, model.CollectionTables, tableID); err != nil {
			return err
		}
		if order.CustomerID != "" {
			if err := appendCustomerOrder(ctx, tx, order.CustomerID, order.ID); err != nil {
				return err
			}
		}
		completed = order
		return nil
	})
	if err != nil {
		return model.Order{}, fmt.Errorf("complete table %s: %w", tableID, err)
	}

	m.logger.Info("table order completed",
		"table", tableID,
		"order", completed.ID,
		"draft", completed.DraftID,
		"payment", string(payment.Method),
		"total", completed.Total.StringFixed(2))
	return completed, nil
}

// Cancel discards the table's draft without creating an order.
func (m *Manager) Cancel(ctx context.Context, tableID string) error {
	tableID, err := tableKey(tableID)
	if err != nil {
		return err
	}
	unlock := m.lock(tableID)
	defer unlock()

	err = m.store.RunTransaction(ctx, []string{model.CollectionTables}, store.ReadWrite, func(tx *store.Tx) error {
		if _, err := tx.Get(ctx, model.CollectionTables, tableID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrNoDraft
			}
			return err
		}
		return tx.Delete(ctx, model.CollectionTables, tableID)
	})
	if err != nil {
		return fmt.Errorf("cancel table %s: %w", tableID, err)
	}

	m.logger.Info("table draft cancelled", "table", tableID)
	return nil
}

// ActiveTables lists the tables that have a draft.
func (m *Manager) ActiveTables(ctx context.Context) ([]string, error) {
	return m.store.Keys(ctx, model.CollectionTables)
}

// readDraft loads and sanity-checks a stored draft.
func readDraft(ctx context.Context, tx *store.Tx, tableID string) (model.TableDraft, error) {
	rec, err := tx.Get(ctx, model.CollectionTables, tableID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return model.TableDraft{}, ErrNoDraft
		}
		return model.TableDraft{}, err
	}

	draft, err := store.Decode[model.TableDraft](rec)
	if err != nil {
		return model.TableDraft{}, &DraftError{TableID: tableID, Err: fmt.Errorf("%w: %v", ErrCorruptDraft, err)}
	}
	if draft.Order.ID == "" || draft.TableID != tableID {
		return model.TableDraft{}, &DraftError{TableID: tableID, Err: ErrCorruptDraft}
	}
	for _, item := range draft.Order.Items {
		if item.ProductID == "" || item.Quantity < 1 {
			return model.TableDraft{}, &DraftError{TableID: tableID, ProductID: item.ProductID, Err: ErrCorruptDraft}
		}
	}
	return draft, nil
}

// referencedProducts returns the catalog products a line depends on.
func referencedProducts(item model.LineItem) []string {
	if len(item.Components) > 0 {
		return item.Components
	}
	if cart.IsCombination(item.ProductID) {
		return nil
	}
	return []string{item.ProductID}
}

func appendCustomerOrder(ctx context.Context, tx *store.Tx, customerID, orderID string) error {
	rec, err := tx.Get(ctx, model.CollectionCustomers, customerID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrMissingCustomer, customerID)
		}
		return err
	}
	cust, err := store.Decode[model.Customer](rec)
	if err != nil {
		return err
	}
	if !cust.HasOrder(orderID) {
		cust.OrderIDs = append(cust.OrderIDs, orderID)
	}
	return tx.Put(ctx, model.CollectionCustomers, cust)
}
