package adapter

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/roach88/posvault/internal/catalog"
	"github.com/roach88/posvault/internal/model"
)

// NormalizeProduct converts a hosted product row.
func NormalizeProduct(raw json.RawMessage) (model.Product, error) {
	f, err := parseFields(raw)
	if err != nil {
		return model.Product{}, err
	}
	p := model.Product{
		ID:         f.id("id", "product_id"),
		Name:       f.text("name"),
		Price:      f.money("price"),
		CategoryID: f.id("category_id"),
		Barcode:    f.id("barcode"),
		Stock:      f.optionalInt("stock"),
	}

	var sizes map[string]any
	if f.blob(&sizes, "size_prices", "sizes") && len(sizes) > 0 {
		p.SizePrices = make(map[string]decimal.Decimal, len(sizes))
		for size, v := range sizes {
			d, err := toDecimal(v)
			if err != nil {
				f.fail("size_prices."+size, "%v", err)
				break
			}
			p.SizePrices[catalog.NormalizeText(size)] = d
		}
	}

	if f.err != nil {
		return model.Product{}, f.err
	}
	if p.ID == "" {
		return model.Product{}, fmt.Errorf("%w: product id is required", ErrInvalidRecord)
	}
	return p, nil
}

// NormalizeCustomer converts a hosted customer row. The address may be an
// object, a JSON-encoded object, or a plain street string.
func NormalizeCustomer(raw json.RawMessage) (model.Customer, error) {
	f, err := parseFields(raw)
	if err != nil {
		return model.Customer{}, err
	}
	c := model.Customer{
		ID:       f.id("id", "customer_id"),
		Name:     f.text("name"),
		Phone:    f.id("phone", "phone_number"),
		OrderIDs: f.ids("order_ids"),
	}

	if _, v, ok := f.lookup("address"); ok {
		if s, isString := v.(string); isString && !looksLikeJSON(s) {
			c.Address.Street = s
		} else if addr := f.nested("address"); addr != nil {
			c.Address = model.Address{
				Street:    addr.text("street"),
				Reference: addr.text("reference"),
				Lat:       addr.optionalFloat("lat", "latitude"),
				Lng:       addr.optionalFloat("lng", "longitude"),
			}
			if addr.err != nil {
				f.fail("address", "%v", addr.err)
			}
		}
	}
	if c.Address.Reference == "" {
		c.Address.Reference = f.text("address_reference")
	}
	if c.Address.Lat == nil {
		c.Address.Lat = f.optionalFloat("lat", "latitude")
	}
	if c.Address.Lng == nil {
		c.Address.Lng = f.optionalFloat("lng", "longitude")
	}

	if f.err != nil {
		return model.Customer{}, f.err
	}
	c, err = catalog.PrepareCustomer(c)
	if err != nil {
		return model.Customer{}, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	return c, nil
}

// NormalizeOrder converts a hosted sale row. Items and split payments may be
// JSON-encoded strings.
func NormalizeOrder(raw json.RawMessage) (model.Order, error) {
	f, err := parseFields(raw)
	if err != nil {
		return model.Order{}, err
	}
	o := model.Order{
		ID:            f.id("id", "order_id"),
		CreatedAt:     f.timestamp("created_at"),
		Kind:          model.OrderKind(f.text("kind", "order_type")),
		Status:        model.OrderStatus(f.text("status")),
		TableID:       f.id("table_id"),
		CustomerID:    f.id("customer_id"),
		Items:         []model.LineItem{},
		Subtotal:      f.money("subtotal"),
		Tax:           f.money("tax", "tax_amount"),
		Total:         f.money("total"),
		PaymentMethod: model.PaymentMethod(f.text("payment_method")),
		DraftID:       f.id("draft_id"),
	}
	if _, _, ok := f.lookup("completed_at"); ok {
		t := f.timestamp("completed_at")
		o.CompletedAt = &t
	}

	for i, item := range f.list("items") {
		line, err := normalizeLine(item)
		if err != nil {
			f.fail(fmt.Sprintf("items[%d]", i), "%v", err)
			break
		}
		o.Items = append(o.Items, line)
	}
	for _, split := range f.list("split_payments") {
		o.SplitPayments = append(o.SplitPayments, model.SplitPayment{
			Method: model.PaymentMethod(split.text("method")),
			Amount: split.money("amount"),
		})
		if split.err != nil {
			f.fail("split_payments", "%v", split.err)
		}
	}

	if f.err != nil {
		return model.Order{}, f.err
	}
	if o.ID == "" {
		return model.Order{}, fmt.Errorf("%w: order id is required", ErrInvalidRecord)
	}
	if o.Kind == "" {
		o.Kind = model.OrderKindTakeaway
		if o.TableID != "" {
			o.Kind = model.OrderKindTable
		}
	}
	if !o.Kind.Valid() {
		return model.Order{}, fmt.Errorf("%w: unknown order kind %q", ErrInvalidRecord, o.Kind)
	}
	if o.Status == "" {
		o.Status = model.OrderStatusCompleted
	}
	return o, nil
}

func normalizeLine(f *fields) (model.LineItem, error) {
	line := model.LineItem{
		ProductID:  f.id("product_id", "id"),
		Name:       f.text("name"),
		UnitPrice:  f.money("unit_price", "price"),
		Size:       f.text("size"),
		Note:       f.text("note", "notes"),
		Components: f.ids("components"),
	}
	if q := f.optionalInt("quantity", "qty"); q != nil {
		line.Quantity = *q
	} else {
		line.Quantity = 1
	}
	for _, addOn := range f.list("add_ons", "addons", "extras") {
		line.AddOns = append(line.AddOns, model.AddOn{
			Name:  addOn.text("name"),
			Price: addOn.money("price"),
		})
		if addOn.err != nil {
			return model.LineItem{}, addOn.err
		}
	}
	if f.err != nil {
		return model.LineItem{}, f.err
	}
	if line.ProductID == "" {
		return model.LineItem{}, fmt.Errorf("%w: product_id is required", ErrInvalidRecord)
	}
	if line.Quantity < 1 {
		return model.LineItem{}, fmt.Errorf("%w: quantity must be at least 1, got %d", ErrInvalidRecord, line.Quantity)
	}
	return line, nil
}

// NormalizeCategory converts a hosted category row.
func NormalizeCategory(raw json.RawMessage) (model.Category, error) {
	f, err := parseFields(raw)
	if err != nil {
		return model.Category{}, err
	}
	c := model.Category{ID: f.id("id", "category_id"), Name: f.text("name")}
	if f.err != nil {
		return model.Category{}, f.err
	}
	if c.ID == "" {
		return model.Category{}, fmt.Errorf("%w: category id is required", ErrInvalidRecord)
	}
	return c, nil
}

// NormalizeIngredient converts a hosted ingredient row.
func NormalizeIngredient(raw json.RawMessage) (model.Ingredient, error) {
	f, err := parseFields(raw)
	if err != nil {
		return model.Ingredient{}, err
	}
	ing := model.Ingredient{
		ID:         f.id("id", "ingredient_id"),
		Name:       f.text("name"),
		Unit:       f.text("unit"),
		CategoryID: f.id("category_id"),
		Price:      f.money("price"),
		Stock:      f.money("stock", "quantity"),
	}
	if f.err != nil {
		return model.Ingredient{}, f.err
	}
	if ing.ID == "" {
		return model.Ingredient{}, fmt.Errorf("%w: ingredient id is required", ErrInvalidRecord)
	}
	if ing.Stock.IsNegative() {
		return model.Ingredient{}, fmt.Errorf("%w: stock must not be negative", ErrInvalidRecord)
	}
	return ing, nil
}

func looksLikeJSON(s string) bool {
	for _, r := range s {
		switch r {
		case ' ', '\t', '\n', '\r':
			continue
		case '{':
			return true
		}
		return false
	}
	return false
}
