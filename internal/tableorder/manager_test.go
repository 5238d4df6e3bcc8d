package tableorder_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/posvault/internal/cart"
	"github.com/roach88/posvault/internal/catalog"
	"github.com/roach88/posvault/internal/ids"
	"github.com/roach88/posvault/internal/model"
	"github.com/roach88/posvault/internal/store"
	"github.com/roach88/posvault/internal/tableorder"
	"github.com/roach88/posvault/internal/testutil"
)

var tax13 = tableorder.StaticTax{Enabled: true, Percentage: decimal.NewFromInt(13)}

type fixture struct {
	store   *store.Store
	catalog *catalog.Catalog
	manager *tableorder.Manager
	clock   *testutil.DeterministicClock
}

func newFixture(t *testing.T, gen ids.Generator) *fixture {
	t.Helper()
	s := testutil.OpenStore(t)
	clock := testutil.NewDeterministicClock()
	opts := []tableorder.Option{tableorder.WithClock(clock.Now)}
	if gen != nil {
		opts = append(opts, tableorder.WithIDGenerator(gen))
	}
	f := &fixture{
		store:   s,
		catalog: catalog.New(s, nil),
		manager: tableorder.NewManager(s, tax13, opts...),
		clock:   clock,
	}

	ctx := context.Background()
	require.NoError(t, f.catalog.PutProduct(ctx, testutil.Product("coffee", "Coffee", "2.50")))
	require.NoError(t, f.catalog.PutProduct(ctx, testutil.SizedProduct("muzza", "Muzzarella", "large", "10.00")))
	require.NoError(t, f.catalog.PutProduct(ctx, testutil.SizedProduct("fugazza", "Fugazza", "large", "11.00")))
	return f
}

func (f *fixture) product(t *testing.T, id string) model.Product {
	t.Helper()
	p, err := f.catalog.Product(context.Background(), id)
	require.NoError(t, err)
	return p
}

func (f *fixture) orders(t *testing.T) []model.Order {
	t.Helper()
	records, err := f.store.GetAll(context.Background(), model.CollectionOrders)
	require.NoError(t, err)
	orders, err := store.DecodeAll[model.Order](records)
	require.NoError(t, err)
	return orders
}

func TestSave_EmptyCart(t *testing.T) {
	f := newFixture(t, ids.NewFixedGenerator())
	ctx := context.Background()

	_, err := f.manager.Save(ctx, "T1", cart.New())
	assert.ErrorIs(t, err, tableorder.ErrEmptyCart)

	active, err := f.manager.ActiveTables(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestSave_InvalidTable(t *testing.T) {
	f := newFixture(t, ids.NewFixedGenerator())
	c := cart.New()
	_, err := c.AddProduct(f.product(t, "coffee"), "", 1)
	require.NoError(t, err)

	_, err = f.manager.Save(context.Background(), "  ", c)
	assert.ErrorIs(t, err, tableorder.ErrInvalidTable)
}

func TestLifecycle_PaddedTableID(t *testing.T) {
	f := newFixture(t, ids.NewFixedGenerator("draft-1", "order-1"))
	ctx := context.Background()

	c := cart.New()
	_, err := c.AddProduct(f.product(t, "coffee"), "", 1)
	require.NoError(t, err)
	_, err = f.manager.Save(ctx, " 5 ", c)
	require.NoError(t, err)

	loaded, order, err := f.manager.Load(ctx, " 5 ")
	require.NoError(t, err)
	assert.Equal(t, "draft-1", order.ID)
	assert.Equal(t, "5", loaded.TableID())

	completed, err := f.manager.Complete(ctx, " 5 ", model.Payment{Method: model.PaymentCard})
	require.NoError(t, err)
	assert.Equal(t, "5", completed.TableID)

	active, err := f.manager.ActiveTables(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestLifecycle_BlankTableIDRejected(t *testing.T) {
	f := newFixture(t, ids.NewFixedGenerator())
	ctx := context.Background()

	_, _, err := f.manager.Load(ctx, " ")
	assert.ErrorIs(t, err, tableorder.ErrInvalidTable)
	_, err = f.manager.Complete(ctx, "", model.Payment{Method: model.PaymentCash})
	assert.ErrorIs(t, err, tableorder.ErrInvalidTable)
	assert.ErrorIs(t, f.manager.Cancel(ctx, "\t"), tableorder.ErrInvalidTable)
}

func TestLifecycle_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "posvault.db")

	s, err := store.Open(path)
	require.NoError(t, err)
	cat := catalog.New(s, nil)
	require.NoError(t, cat.PutProduct(ctx, testutil.Product("coffee", "Coffee", "2.50")))
	require.NoError(t, cat.PutProduct(ctx, testutil.SizedProduct("muzza", "Muzzarella", "large", "10.00")))
	coffee, err := cat.Product(ctx, "coffee")
	require.NoError(t, err)
	muzza, err := cat.Product(ctx, "muzza")
	require.NoError(t, err)

	c := cart.New()
	key, err := c.AddProduct(coffee, "", 2)
	require.NoError(t, err)
	require.NoError(t, c.SetNote(key, "no sugar"))
	_, err = c.AddProduct(muzza, "large", 1)
	require.NoError(t, err)

	m := tableorder.NewManager(s, tax13, tableorder.WithIDGenerator(ids.NewFixedGenerator("draft-1")))
	saved, err := m.Save(ctx, "5", c)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = store.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	m = tableorder.NewManager(s, tax13, tableorder.WithIDGenerator(ids.NewFixedGenerator("order-1")))

	loaded, order, err := m.Load(ctx, "5")
	require.NoError(t, err)
	assert.Equal(t, saved.ID, order.ID)
	require.Len(t, loaded.Lines(), 2)
	assert.JSONEq(t, mustJSON(t, c.Lines()), mustJSON(t, loaded.Lines()))

	completed, err := m.Complete(ctx, "5", model.Payment{Method: model.PaymentCash})
	require.NoError(t, err)
	assert.Equal(t, "draft-1", completed.DraftID)

	active, err := m.ActiveTables(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	records, err := s.GetAll(ctx, model.CollectionOrders)
	require.NoError(t, err)
	require.Len(t, records, 1)
	got, err := store.Decode[model.Order](records[0])
	require.NoError(t, err)
	assert.Equal(t, "order-1", got.ID)
	assert.Equal(t, model.OrderStatusCompleted, got.Status)
}

func TestSaveLoad_RoundTripsEveryLineAttribute(t *testing.T) {
	f := newFixture(t, ids.NewFixedGenerator("draft-1"))
	ctx := context.Background()

	c := cart.New()
	coffeeKey, err := c.AddProduct(f.product(t, "coffee"), "", 2)
	require.NoError(t, err)
	require.NoError(t, c.SetNote(coffeeKey, "oat milk"))
	require.NoError(t, c.SetAddOns(coffeeKey, []model.AddOn{{Name: "extra shot", Price: testutil.Price("0.50")}}))
	_, err = c.AddCombination(f.product(t, "muzza"), f.product(t, "fugazza"), "large", 1)
	require.NoError(t, err)

	saved, err := f.manager.Save(ctx, "T1", c)
	require.NoError(t, err)
	assert.Equal(t, "draft-1", saved.ID)
	assert.Equal(t, model.OrderStatusDraft, saved.Status)
	assert.Equal(t, model.OrderKindTable, saved.Kind)
	// (2.50 + 0.50) * 2 + 10.50 = 16.50; tax 13% = 2.145 -> 2.15
	assert.Equal(t, "16.50", saved.Subtotal.StringFixed(2))
	assert.Equal(t, "2.15", saved.Tax.StringFixed(2))
	assert.Equal(t, "18.65", saved.Total.StringFixed(2))

	loaded, order, err := f.manager.Load(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, "draft-1", order.ID)
	assert.Equal(t, "T1", loaded.TableID())
	assert.JSONEq(t, mustJSON(t, c.Lines()), mustJSON(t, loaded.Lines()))
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return string(data)
}

func TestSave_OverwriteKeepsIdentity(t *testing.T) {
	f := newFixture(t, ids.NewFixedGenerator("draft-1"))
	ctx := context.Background()

	c := cart.New()
	key, err := c.AddProduct(f.product(t, "coffee"), "", 1)
	require.NoError(t, err)
	first, err := f.manager.Save(ctx, "T1", c)
	require.NoError(t, err)

	require.NoError(t, c.ChangeQuantity(key, 2))
	second, err := f.manager.Save(ctx, "T1", c)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.True(t, first.CreatedAt.Equal(second.CreatedAt))
	assert.Equal(t, 3, second.Items[0].Quantity)

	active, err := f.manager.ActiveTables(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"T1"}, active)
}

func TestSave_TablesAreIndependent(t *testing.T) {
	f := newFixture(t, ids.NewFixedGenerator("draft-1", "draft-2"))
	ctx := context.Background()

	c1 := cart.New()
	_, err := c1.AddProduct(f.product(t, "coffee"), "", 1)
	require.NoError(t, err)
	c2 := cart.New()
	_, err = c2.AddProduct(f.product(t, "muzza"), "large", 3)
	require.NoError(t, err)

	_, err = f.manager.Save(ctx, "T1", c1)
	require.NoError(t, err)
	_, err = f.manager.Save(ctx, "T2", c2)
	require.NoError(t, err)

	l1, _, err := f.manager.Load(ctx, "T1")
	require.NoError(t, err)
	l2, _, err := f.manager.Load(ctx, "T2")
	require.NoError(t, err)
	assert.Equal(t, "coffee", l1.Lines()[0].ProductID)
	assert.Equal(t, "muzza", l2.Lines()[0].ProductID)

	active, err := f.manager.ActiveTables(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"T1", "T2"}, active)
}

func TestSave_ConcurrentTables(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	coffee := f.product(t, "coffee")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(table string) {
			defer wg.Done()
			c := cart.New()
			_, err := c.AddProduct(coffee, "", 1)
			assert.NoError(t, err)
			_, err = f.manager.Save(ctx, table, c)
			assert.NoError(t, err)
		}(fmt.Sprintf("T%d", i))
	}
	wg.Wait()

	active, err := f.manager.ActiveTables(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 10)
}

func TestSave_StoreUnavailable(t *testing.T) {
	f := newFixture(t, ids.NewFixedGenerator("draft-1"))
	c := cart.New()
	_, err := c.AddProduct(f.product(t, "coffee"), "", 1)
	require.NoError(t, err)
	require.NoError(t, f.store.Close())

	_, err = f.manager.Save(context.Background(), "T1", c)
	assert.ErrorIs(t, err, tableorder.ErrDraftNotPersisted)
	assert.ErrorIs(t, err, store.ErrStoreUnavailable)
	assert.Equal(t, 1, c.Len(), "cart must be untouched")
}

type failingTax struct{}

func (failingTax) TaxConfig(context.Context) (model.TaxConfig, error) {
	return model.TaxConfig{}, errors.New("settings offline")
}

func TestSave_TaxProviderFailure(t *testing.T) {
	s := testutil.OpenStore(t)
	m := tableorder.NewManager(s, failingTax{})
	c := cart.New()
	c.AddItem(model.LineItem{ProductID: "p", Quantity: 1, UnitPrice: testutil.Price("1.00")})

	_, err := m.Save(context.Background(), "T1", c)
	assert.ErrorIs(t, err, tableorder.ErrDraftNotPersisted)
}

func TestLoad_NoDraft(t *testing.T) {
	f := newFixture(t, ids.NewFixedGenerator())

	_, _, err := f.manager.Load(context.Background(), "T9")
	assert.ErrorIs(t, err, tableorder.ErrNoDraft)
}

func TestLoad_CorruptDraft(t *testing.T) {
	f := newFixture(t, ids.NewFixedGenerator())
	ctx := context.Background()

	require.NoError(t, f.store.Put(ctx, model.CollectionTables,
		json.RawMessage(`{"table_id":"T1","order":"not an order"}`)))

	_, _, err := f.manager.Load(ctx, "T1")
	assert.ErrorIs(t, err, tableorder.ErrCorruptDraft)

	var de *tableorder.DraftError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, "T1", de.TableID)
}

func TestLoad_MissingProduct(t *testing.T) {
	f := newFixture(t, ids.NewFixedGenerator("draft-1"))
	ctx := context.Background()

	c := cart.New()
	_, err := c.AddProduct(f.product(t, "coffee"), "", 1)
	require.NoError(t, err)
	_, err = f.manager.Save(ctx, "T1", c)
	require.NoError(t, err)
	require.NoError(t, f.catalog.DeleteProduct(ctx, "coffee"))

	_, _, err = f.manager.Load(ctx, "T1")
	assert.ErrorIs(t, err, tableorder.ErrMissingProduct)

	var de *tableorder.DraftError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, "coffee", de.ProductID)
}

func TestComplete_DraftLifecycle(t *testing.T) {
	f := newFixture(t, ids.NewFixedGenerator("draft-1", "order-1"))
	ctx := context.Background()
	require.NoError(t, f.catalog.PutCustomer(ctx, model.Customer{ID: "c1", Name: "Ana", Phone: "555"}))

	c := cart.New()
	_, err := c.AddProduct(f.product(t, "coffee"), "", 4)
	require.NoError(t, err)
	c.SetCustomer("c1")
	_, err = f.manager.Save(ctx, "T1", c)
	require.NoError(t, err)

	order, err := f.manager.Complete(ctx, "T1", model.Payment{Method: model.PaymentCash})
	require.NoError(t, err)

	assert.Equal(t, "order-1", order.ID)
	assert.Equal(t, "draft-1", order.DraftID)
	assert.Equal(t, model.OrderStatusCompleted, order.Status)
	assert.Equal(t, model.PaymentCash, order.PaymentMethod)
	require.NotNil(t, order.CompletedAt)

	active, err := f.manager.ActiveTables(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	orders := f.orders(t)
	require.Len(t, orders, 1)
	assert.Equal(t, "order-1", orders[0].ID)

	cust, err := f.catalog.Customer(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, []string{"order-1"}, cust.OrderIDs)

	_, _, err = f.manager.Load(ctx, "T1")
	assert.ErrorIs(t, err, tableorder.ErrNoDraft)
}

func TestComplete_SplitPayment(t *testing.T) {
	f := newFixture(t, ids.NewFixedGenerator("draft-1", "order-1"))
	ctx := context.Background()

	c := cart.New()
	c.AddItem(model.LineItem{ProductID: "coffee", Quantity: 4, UnitPrice: testutil.Price("25.00")})
	_, err := f.manager.Save(ctx, "T1", c)
	require.NoError(t, err)

	bad := model.Payment{Method: model.PaymentSplit, Splits: []model.SplitPayment{
		{Method: model.PaymentCash, Amount: testutil.Price("50.00")},
		{Method: model.PaymentCard, Amount: testutil.Price("50.00")},
	}}
	_, err = f.manager.Complete(ctx, "T1", bad)
	assert.ErrorIs(t, err, tableorder.ErrInvalidPayment)

	good := model.Payment{Method: model.PaymentSplit, Splits: []model.SplitPayment{
		{Method: model.PaymentCash, Amount: testutil.Price("60.00")},
		{Method: model.PaymentCard, Amount: testutil.Price("53.00")},
	}}
	order, err := f.manager.Complete(ctx, "T1", good)
	require.NoError(t, err)
	assert.Len(t, order.SplitPayments, 2)
}

func TestComplete_FailureLeavesDraft(t *testing.T) {
	f := newFixture(t, ids.NewFixedGenerator("draft-1", "order-1"))
	ctx := context.Background()

	c := cart.New()
	_, err := c.AddProduct(f.product(t, "coffee"), "", 1)
	require.NoError(t, err)
	c.SetCustomer("ghost")
	_, err = f.manager.Save(ctx, "T1", c)
	require.NoError(t, err)

	_, err = f.manager.Complete(ctx, "T1", model.Payment{Method: model.PaymentCard})
	assert.ErrorIs(t, err, tableorder.ErrMissingCustomer)

	active, err := f.manager.ActiveTables(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"T1"}, active, "draft must survive a failed completion")
	assert.Empty(t, f.orders(t))
}

func TestComplete_NoDraft(t *testing.T) {
	f := newFixture(t, ids.NewFixedGenerator())

	_, err := f.manager.Complete(context.Background(), "T1", model.Payment{Method: model.PaymentCash})
	assert.ErrorIs(t, err, tableorder.ErrNoDraft)
}

func TestCancel(t *testing.T) {
	f := newFixture(t, ids.NewFixedGenerator("draft-1"))
	ctx := context.Background()

	c := cart.New()
	_, err := c.AddProduct(f.product(t, "coffee"), "", 1)
	require.NoError(t, err)
	_, err = f.manager.Save(ctx, "T1", c)
	require.NoError(t, err)

	require.NoError(t, f.manager.Cancel(ctx, "T1"))
	assert.ErrorIs(t, f.manager.Cancel(ctx, "T1"), tableorder.ErrNoDraft)
	assert.Empty(t, f.orders(t))
}

func TestCheckout_DeliveryUpsertsCustomerByPhone(t *testing.T) {
	f := newFixture(t, ids.NewFixedGenerator("order-1", "cust-1", "order-2"))
	ctx := context.Background()

	newCart := func() *cart.Cart {
		c := cart.New()
		_, err := c.AddProduct(f.product(t, "coffee"), "", 1)
		require.NoError(t, err)
		return c
	}

	first, err := f.manager.Checkout(ctx, model.OrderKindDelivery, newCart(),
		&model.Customer{Name: "Ana", Phone: "555-0101", Address: model.Address{Street: "Main 1"}},
		model.Payment{Method: model.PaymentCash})
	require.NoError(t, err)
	assert.Equal(t, "cust-1", first.CustomerID)
	assert.Equal(t, model.OrderStatusCompleted, first.Status)

	second, err := f.manager.Checkout(ctx, model.OrderKindDelivery, newCart(),
		&model.Customer{Phone: "(555) 0101", Address: model.Address{Street: "Main 2"}},
		model.Payment{Method: model.PaymentCard})
	require.NoError(t, err)
	assert.Equal(t, "cust-1", second.CustomerID)

	customers, err := f.catalog.Customers(ctx)
	require.NoError(t, err)
	require.Len(t, customers, 1)
	assert.Equal(t, "Ana", customers[0].Name)
	assert.Equal(t, "Main 2", customers[0].Address.Street)
	assert.Equal(t, []string{"order-1", "order-2"}, customers[0].OrderIDs)
}

func TestCheckout_Validation(t *testing.T) {
	f := newFixture(t, ids.NewFixedGenerator())
	ctx := context.Background()
	c := cart.New()
	_, err := c.AddProduct(f.product(t, "coffee"), "", 1)
	require.NoError(t, err)
	cash := model.Payment{Method: model.PaymentCash}

	_, err = f.manager.Checkout(ctx, model.OrderKindTable, c, nil, cash)
	assert.ErrorIs(t, err, tableorder.ErrInvalidKind)

	_, err = f.manager.Checkout(ctx, model.OrderKindDelivery, c, nil, cash)
	assert.ErrorIs(t, err, tableorder.ErrCustomerRequired)

	_, err = f.manager.Checkout(ctx, model.OrderKindTakeaway, cart.New(), nil, cash)
	assert.ErrorIs(t, err, tableorder.ErrEmptyCart)

	_, err = f.manager.Checkout(ctx, model.OrderKindTakeaway, c, nil, model.Payment{Method: "cheque"})
	assert.ErrorIs(t, err, tableorder.ErrInvalidPayment)
}
