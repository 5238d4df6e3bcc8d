package store

import "github.com/roach88/posvault/internal/model"

// Index names declared by DefaultCollections.
const (
	IndexByBarcode  = "by_barcode"
	IndexByCategory = "by_category"
	IndexByPhone    = "by_phone"
	IndexByCustomer = "by_customer"
	IndexByTable    = "by_table"
	IndexByStatus   = "by_status"
)

// IndexDef declares a non-unique secondary index over a top-level field.
// String, number and bool values are indexed; a list of strings produces
// one entry per element; missing or empty values are not indexed.
type IndexDef struct {
	Name  string
	Field string
}

// CollectionDef declares a collection, its key field, and its indexes.
type CollectionDef struct {
	Name     string
	KeyField string
	Indexes  []IndexDef
}

// index returns the named index definition.
func (d CollectionDef) index(name string) (IndexDef, bool) {
	for _, idx := range d.Indexes {
		if idx.Name == name {
			return idx, true
		}
	}
	return IndexDef{}, false
}

// DefaultCollections is the posvault schema.
var DefaultCollections = []CollectionDef{
	{
		Name:     model.CollectionProducts,
		KeyField: "id",
		Indexes: []IndexDef{
			{Name: IndexByBarcode, Field: "barcode"},
			{Name: IndexByCategory, Field: "category_id"},
		},
	},
	{
		Name:     model.CollectionCustomers,
		KeyField: "id",
		Indexes: []IndexDef{
			{Name: IndexByPhone, Field: "phone"},
		},
	},
	{
		Name:     model.CollectionOrders,
		KeyField: "id",
		Indexes: []IndexDef{
			{Name: IndexByCustomer, Field: "customer_id"},
			{Name: IndexByTable, Field: "table_id"},
			{Name: IndexByStatus, Field: "status"},
		},
	},
	{
		Name:     model.CollectionTables,
		KeyField: "table_id",
	},
	{
		Name:     model.CollectionCategories,
		KeyField: "id",
	},
	{
		Name:     model.CollectionIngredients,
		KeyField: "id",
		Indexes: []IndexDef{
			{Name: IndexByCategory, Field: "category_id"},
		},
	},
}
