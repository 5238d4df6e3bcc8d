package tableorder

import (
	"errors"
	"fmt"
)

var (
	// ErrNoDraft means the table has no outstanding draft.
	ErrNoDraft = errors.New("no draft for table")

	// ErrEmptyCart means a save or checkout was attempted with no lines.
	ErrEmptyCart = errors.New("cart is empty")

	// ErrDraftNotPersisted means the draft could not be written. The caller's
	// cart is unchanged and the previous draft, if any, is still stored.
	ErrDraftNotPersisted = errors.New("draft not persisted")

	// ErrCorruptDraft means a stored draft could not be decoded or is
	// internally inconsistent.
	ErrCorruptDraft = errors.New("corrupt draft")

	// ErrMissingProduct means a draft line references a product that no
	// longer exists in the catalog.
	ErrMissingProduct = errors.New("draft references missing product")

	// ErrMissingCustomer means an order is linked to a customer that does not
	// exist.
	ErrMissingCustomer = errors.New("order references missing customer")

	// ErrInvalidPayment means the payment does not settle the order total.
	ErrInvalidPayment = errors.New("invalid payment")

	// ErrInvalidKind means a checkout was attempted with an unsupported kind.
	ErrInvalidKind = errors.New("invalid order kind")

	// ErrCustomerRequired means a delivery checkout has no customer.
	ErrCustomerRequired = errors.New("customer required")

	// ErrInvalidTable means the table id is empty.
	ErrInvalidTable = errors.New("invalid table id")
)

// DraftError describes a draft that exists but cannot be rehydrated.
type DraftError struct {
	TableID string

	// ProductID is set when the failure concerns one line.
	ProductID string

	Err error
}

// Error implements the error interface.
func (e *DraftError) Error() string {
	if e.ProductID != "" {
		return fmt.Sprintf("table %s: %v (product=%s)", e.TableID, e.Err, e.ProductID)
	}
	return fmt.Sprintf("table %s: %v", e.TableID, e.Err)
}

// Unwrap returns the underlying error.
func (e *DraftError) Unwrap() error {
	return e.Err
}
